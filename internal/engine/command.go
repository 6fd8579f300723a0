package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const DefaultBinary = "pdal"

// CommandEngine drives a PDAL-compatible command line tool.
type CommandEngine struct {
	Binary string
	Runner Runner
}

func NewCommandEngine(binary string) *CommandEngine {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	return &CommandEngine{Binary: binary, Runner: ExecRunner{}}
}

func (e *CommandEngine) ConvertArchive(ctx context.Context, logger *slog.Logger, archivePath, outDir string) error {
	if strings.TrimSpace(archivePath) == "" {
		return fmt.Errorf("archive path is required")
	}
	if strings.TrimSpace(outDir) == "" {
		return fmt.Errorf("output directory is required")
	}
	out := filepath.Join(outDir, CanonicalName(archivePath))
	return e.run(ctx, logger, ConvertArgs(archivePath, out))
}

func (e *CommandEngine) DeriveRaster(ctx context.Context, logger *slog.Logger, canonicalPath, outputPath string, params DeriveParams) error {
	if strings.TrimSpace(canonicalPath) == "" {
		return fmt.Errorf("canonical path is required")
	}
	if err := params.Validate(); err != nil {
		return err
	}
	return e.run(ctx, logger, DeriveArgs(canonicalPath, outputPath, params))
}

func (e *CommandEngine) run(ctx context.Context, logger *slog.Logger, args []string) error {
	runner := e.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	_, stderr, err := runner.Run(ctx, e.binary(), logger, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", e.binary(), err, msg)
		}
		return fmt.Errorf("%s failed: %w", e.binary(), err)
	}
	return nil
}

func (e *CommandEngine) binary() string {
	if strings.TrimSpace(e.Binary) == "" {
		return DefaultBinary
	}
	return e.Binary
}

func ConvertArgs(archivePath, canonicalPath string) []string {
	return []string{"translate", archivePath, canonicalPath}
}

func DeriveArgs(canonicalPath, outputPath string, params DeriveParams) []string {
	return []string{
		"translate", canonicalPath, outputPath,
		"--writers.gdal.resolution=" + strconv.FormatFloat(params.Resolution, 'f', -1, 64),
		"--writers.gdal.output_type=" + strings.ToLower(strings.TrimSpace(params.Interpolation)),
	}
}

type DependencyReport struct {
	Binary string `json:"binary"`
	Found  bool   `json:"found"`
	Path   string `json:"path,omitempty"`
}

func DependencyStatus(binary string) DependencyReport {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	report := DependencyReport{Binary: binary}
	if path, err := exec.LookPath(binary); err == nil {
		report.Found = true
		report.Path = path
	}
	return report
}

func CheckDependencies(binary string) error {
	report := DependencyStatus(binary)
	if !report.Found {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", report.Binary)
	}
	return nil
}
