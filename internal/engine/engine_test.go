package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dsm-tiler/internal/engine"
	"dsm-tiler/internal/engine/enginetest"
)

func TestSession_SerializesEngineCalls(t *testing.T) {
	fake := &enginetest.Fake{Delay: 10 * time.Millisecond}
	session := engine.NewSession(fake)
	dir := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			archive := filepath.Join(dir, "in", string(rune('a'+i))+".laz")
			if err := session.Convert(context.Background(), nil, archive, filepath.Join(dir, "out")); err != nil {
				t.Errorf("convert %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := fake.MaxInFlight(); got != 1 {
		t.Fatalf("expected serialized engine calls, saw %d overlapping", got)
	}
	if got := session.Stats().Converts; got != 6 {
		t.Fatalf("expected 6 converts, got %d", got)
	}
}

func TestSession_WrapsEngineErrors(t *testing.T) {
	cause := errors.New("license checkout failed")
	fake := &enginetest.Fake{
		FailConvert: map[string]error{"a.laz": cause},
		FailDerive:  map[string]error{"a.las": nil},
	}
	session := engine.NewSession(fake)
	dir := t.TempDir()

	err := session.Convert(context.Background(), nil, filepath.Join(dir, "a.laz"), dir)
	if !errors.Is(err, engine.ErrConversionFailed) || !errors.Is(err, cause) {
		t.Fatalf("expected conversion failure wrapping cause, got %v", err)
	}

	err = session.Derive(context.Background(), nil, filepath.Join(dir, "a.las"), filepath.Join(dir, "a.tif"), engine.DefaultDeriveParams())
	if !errors.Is(err, engine.ErrDerivationFailed) {
		t.Fatalf("expected derivation failure, got %v", err)
	}
}

func TestSession_RejectsCanceledContext(t *testing.T) {
	fake := &enginetest.Fake{}
	session := engine.NewSession(fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := session.Convert(ctx, nil, "a.laz", t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fake.Calls() != 0 {
		t.Fatalf("engine must not be invoked after cancel")
	}
}

func TestCanonicalName(t *testing.T) {
	if got := engine.CanonicalName("/x/ARCHIVE/N45_E007.laz"); got != "N45_E007.las" {
		t.Fatalf("unexpected canonical name %q", got)
	}
}

func TestDeriveParams_Validate(t *testing.T) {
	if err := engine.DefaultDeriveParams().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if err := (engine.DeriveParams{Resolution: 0, Interpolation: "max"}).Validate(); err == nil {
		t.Fatalf("expected zero resolution to be rejected")
	}
	if err := (engine.DeriveParams{Resolution: 0.5, Interpolation: "bilinear"}).Validate(); err == nil {
		t.Fatalf("expected unknown interpolation to be rejected")
	}
}

func TestCommandEngine_RunsFakeBinary(t *testing.T) {
	tmp := t.TempDir()
	fakeBin := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	argsLog := filepath.Join(tmp, "args.log")
	script := `#!/usr/bin/env bash
set -euo pipefail
echo "$@" >> "` + argsLog + `"
echo "processing $2"
printf 'out' > "$3"
`
	if err := os.WriteFile(filepath.Join(fakeBin, "pdal"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))

	archive := filepath.Join(tmp, "ARCHIVE", "a.laz")
	canonicalDir := filepath.Join(tmp, "CANONICAL")
	for _, d := range []string{filepath.Dir(archive), canonicalDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	eng := engine.NewCommandEngine("")
	if err := eng.ConvertArchive(context.Background(), nil, archive, canonicalDir); err != nil {
		t.Fatalf("convert: %v", err)
	}
	canonical := filepath.Join(canonicalDir, "a.las")
	if _, err := os.Stat(canonical); err != nil {
		t.Fatalf("expected canonical output: %v", err)
	}

	output := filepath.Join(tmp, "a_DSM.tif")
	params := engine.DeriveParams{Resolution: 0.5, Interpolation: "IDW"}
	if err := eng.DeriveRaster(context.Background(), nil, canonical, output, params); err != nil {
		t.Fatalf("derive: %v", err)
	}

	data, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 invocations, got %d: %q", len(lines), data)
	}
	if lines[0] != "translate "+archive+" "+canonical {
		t.Fatalf("unexpected convert args: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "--writers.gdal.resolution=0.5 --writers.gdal.output_type=idw") {
		t.Fatalf("unexpected derive args: %q", lines[1])
	}
}

func TestCommandEngine_ReportsStderrOnFailure(t *testing.T) {
	tmp := t.TempDir()
	script := `#!/usr/bin/env bash
echo "PDAL: readers.las: Invalid LAS header" >&2
exit 3
`
	bin := filepath.Join(tmp, "fake-pdal")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	eng := engine.NewCommandEngine(bin)
	err := eng.ConvertArchive(context.Background(), nil, filepath.Join(tmp, "bad.laz"), tmp)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "Invalid LAS header") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExecRunner_SurvivesOverlongOutputLine(t *testing.T) {
	tmp := t.TempDir()
	done := filepath.Join(tmp, "done")
	script := `#!/usr/bin/env bash
set -euo pipefail
head -c 2000000 /dev/zero | tr '\0' a
echo
for i in $(seq 1 20000); do echo "progress line $i"; done
printf ok > "$1"
`
	bin := filepath.Join(tmp, "chatty")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	_, _, err := engine.ExecRunner{}.Run(ctx, bin, nil, done)
	if err != nil {
		t.Fatalf("child should run to completion, got %v", err)
	}
	if _, err := os.Stat(done); err != nil {
		t.Fatalf("child did not finish: %v", err)
	}
}

func TestDependencyStatus(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	report := engine.DependencyStatus("pdal")
	if report.Found {
		t.Fatalf("expected pdal to be missing from empty PATH")
	}
	if err := engine.CheckDependencies("pdal"); err == nil {
		t.Fatalf("expected missing dependency error")
	}
}
