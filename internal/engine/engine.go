package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrConversionFailed = errors.New("engine: conversion failed")
	ErrDerivationFailed = errors.New("engine: raster derivation failed")
)

const (
	InterpolationMax  = "max"
	InterpolationMin  = "min"
	InterpolationMean = "mean"
	InterpolationIDW  = "idw"
)

type DeriveParams struct {
	Resolution    float64 `json:"resolution" yaml:"resolution"`
	Interpolation string  `json:"interpolation" yaml:"interpolation"`
}

func DefaultDeriveParams() DeriveParams {
	return DeriveParams{Resolution: 1.0, Interpolation: InterpolationMax}
}

func (p DeriveParams) Validate() error {
	if p.Resolution <= 0 {
		return fmt.Errorf("resolution must be > 0 (got %g)", p.Resolution)
	}
	if !IsKnownInterpolation(p.Interpolation) {
		return fmt.Errorf("invalid interpolation %q (expected max, min, mean, or idw)", p.Interpolation)
	}
	return nil
}

func IsKnownInterpolation(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case InterpolationMax, InterpolationMin, InterpolationMean, InterpolationIDW:
		return true
	default:
		return false
	}
}

// Engine is the external geospatial toolchain. Implementations are not assumed to
// be safe for concurrent use; callers go through a Session.
type Engine interface {
	ConvertArchive(ctx context.Context, logger *slog.Logger, archivePath, outDir string) error
	DeriveRaster(ctx context.Context, logger *slog.Logger, canonicalPath, outputPath string, params DeriveParams) error
}

// CanonicalName is the file name a conversion of archivePath is expected to produce.
func CanonicalName(archivePath string) string {
	base := filepath.Base(archivePath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".las"
}

type Stats struct {
	Converts int64 `json:"converts"`
	Derives  int64 `json:"derives"`
}

// Session is the single handle to the engine for a whole run. Calls are
// serialized: at most one conversion or derivation is in flight at any time.
type Session struct {
	mu       sync.Mutex
	engine   Engine
	converts atomic.Int64
	derives  atomic.Int64
}

func NewSession(e Engine) *Session {
	return &Session{engine: e}
}

func (s *Session) Convert(ctx context.Context, logger *slog.Logger, archivePath, outDir string) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.converts.Add(1)
	started := time.Now()
	if err := s.engine.ConvertArchive(ctx, logger, archivePath, outDir); err != nil {
		logger.Error("engine.convert.failed",
			"archive", archivePath,
			"elapsed_ms", time.Since(started).Milliseconds(),
			"err", err,
		)
		return fmt.Errorf("%w: %s: %w", ErrConversionFailed, filepath.Base(archivePath), err)
	}
	logger.Info("engine.convert.ok",
		"archive", archivePath,
		"out_dir", outDir,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (s *Session) Derive(ctx context.Context, logger *slog.Logger, canonicalPath, outputPath string, params DeriveParams) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.derives.Add(1)
	started := time.Now()
	if err := s.engine.DeriveRaster(ctx, logger, canonicalPath, outputPath, params); err != nil {
		logger.Warn("engine.derive.failed",
			"canonical", canonicalPath,
			"elapsed_ms", time.Since(started).Milliseconds(),
			"err", err,
		)
		return fmt.Errorf("%w: %s: %w", ErrDerivationFailed, filepath.Base(canonicalPath), err)
	}
	logger.Info("engine.derive.ok",
		"canonical", canonicalPath,
		"output", outputPath,
		"resolution", params.Resolution,
		"interpolation", params.Interpolation,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (s *Session) Stats() Stats {
	return Stats{Converts: s.converts.Load(), Derives: s.derives.Load()}
}
