// Package enginetest provides an in-process engine double for pipeline tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dsm-tiler/internal/engine"
)

// Fake writes small placeholder files instead of running a real toolchain.
// Failure maps are keyed by input file base name.
type Fake struct {
	FailConvert map[string]error
	FailDerive  map[string]error
	// ConvertOutputs overrides the canonical files produced for an archive.
	// An empty slice means the conversion succeeds but writes nothing.
	ConvertOutputs map[string][]string
	// SkipDeriveOutput reports success for these inputs without writing the raster.
	SkipDeriveOutput map[string]bool
	Delay            time.Duration

	mu          sync.Mutex
	converts    []string
	derives     []string
	inFlight    int
	maxInFlight int
}

var _ engine.Engine = (*Fake)(nil)

func (f *Fake) ConvertArchive(ctx context.Context, _ *slog.Logger, archivePath, outDir string) error {
	base := filepath.Base(archivePath)
	f.enter("convert", base)
	defer f.leave()
	if err := f.sleep(ctx); err != nil {
		return err
	}
	if err, ok := f.FailConvert[base]; ok {
		if err == nil {
			err = errors.New("fake conversion failure")
		}
		return err
	}
	outputs, ok := f.ConvertOutputs[base]
	if !ok {
		outputs = []string{engine.CanonicalName(archivePath)}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, name := range outputs {
		if err := os.WriteFile(filepath.Join(outDir, name), []byte("las:"+base), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) DeriveRaster(ctx context.Context, _ *slog.Logger, canonicalPath, outputPath string, params engine.DeriveParams) error {
	base := filepath.Base(canonicalPath)
	f.enter("derive", base)
	defer f.leave()
	if err := f.sleep(ctx); err != nil {
		return err
	}
	if err, ok := f.FailDerive[base]; ok {
		if err == nil {
			err = errors.New("fake derivation failure")
		}
		return err
	}
	if f.SkipDeriveOutput[base] {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	body := fmt.Sprintf("tif:%s res=%g mode=%s", base, params.Resolution, params.Interpolation)
	return os.WriteFile(outputPath, []byte(body), 0o644)
}

func (f *Fake) Converts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.converts...)
}

func (f *Fake) Derives() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.derives...)
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.converts) + len(f.derives)
}

// MaxInFlight reports the highest number of overlapping engine calls observed.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *Fake) enter(kind, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch kind {
	case "convert":
		f.converts = append(f.converts, name)
	default:
		f.derives = append(f.derives, name)
	}
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
}

func (f *Fake) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *Fake) sleep(ctx context.Context) error {
	if f.Delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.Delay):
		return nil
	}
}
