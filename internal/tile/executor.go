package tile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"dsm-tiler/internal/engine"
	"dsm-tiler/internal/fetch"
	"dsm-tiler/internal/logging"
	"dsm-tiler/internal/model"
	"dsm-tiler/internal/runstore"
)

const (
	DefaultSettleTimeout = 10 * time.Second
	DefaultSettlePoll    = 250 * time.Millisecond
)

// Fetcher is the download side of the executor.
type Fetcher interface {
	Fetch(ctx context.Context, logger *slog.Logger, ref, dest string) (fetch.Result, error)
}

type ExecutorOptions struct {
	Params       engine.DeriveParams
	OutputSuffix string
	// SettleTimeout bounds how long Convert waits for the engine's output to
	// become visible in the canonical directory.
	SettleTimeout time.Duration
	SettlePoll    time.Duration
	RunID         string
	Logger        *slog.Logger
	Now           func() time.Time
	// OnTransition is called after every state change. It may be called from
	// several goroutines when downloads are prefetched.
	OnTransition func(tileID string, timing model.StageTiming)
}

// Executor runs the per-tile stages: acquire, convert, derive, finalize.
type Executor struct {
	fetcher Fetcher
	session *engine.Session
	opts    ExecutorOptions
	logger  *slog.Logger
}

func NewExecutor(fetcher Fetcher, session *engine.Session, opts ExecutorOptions) *Executor {
	if opts.OutputSuffix == "" {
		opts.OutputSuffix = DefaultOutputSuffix
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = DefaultSettleTimeout
	}
	if opts.SettlePoll <= 0 {
		opts.SettlePoll = DefaultSettlePoll
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Params == (engine.DeriveParams{}) {
		opts.Params = engine.DefaultDeriveParams()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{fetcher: fetcher, session: session, opts: opts, logger: logger}
}

func (e *Executor) OutputSuffix() string {
	return e.opts.OutputSuffix
}

// Acquisition is a tile whose Acquire stage has run. It must be handed to
// ProcessAcquired or closed.
type Acquisition struct {
	task    model.TileTask
	paths   Paths
	tracker *model.Tracker
	logger  *slog.Logger
	fileLog *logging.FileLog
	format  Format
	source  string
	result  model.TileResult
	done    bool
}

func (a *Acquisition) TileID() string {
	return a.task.ID
}

// Failed reports whether acquisition already ended the tile.
func (a *Acquisition) Failed() bool {
	return a.done
}

func (a *Acquisition) Close() {
	if a == nil || a.fileLog == nil {
		return
	}
	_ = a.fileLog.Close()
	a.fileLog = nil
}

// Process runs every stage for one tile. Errors never escape: they end up in the
// returned result.
func (e *Executor) Process(ctx context.Context, task model.TileTask) model.TileResult {
	return e.ProcessAcquired(ctx, e.Acquire(ctx, task))
}

// Acquire prepares the tile tree and downloads the source file. It does not use
// the engine, so it is safe to run for several tiles at once.
func (e *Executor) Acquire(ctx context.Context, task model.TileTask) *Acquisition {
	acq := &Acquisition{
		task:    task,
		paths:   PathsFor(task.WorkingDir),
		tracker: model.NewTracker(task.ID, e.opts.Now),
		logger:  e.logger.With("tile_id", task.ID),
		result:  model.TileResult{TileID: task.ID},
	}

	if err := acq.paths.Ensure(); err != nil {
		e.fail(acq, model.ReasonWorkdirError, fmt.Errorf("%w: %w", ErrWorkdir, err))
		return acq
	}
	if fl, err := logging.OpenFileLog(acq.paths.Log, e.logger); err != nil {
		acq.logger.Warn("tile.log.unavailable", "path", acq.paths.Log, "err", err)
	} else {
		acq.fileLog = fl
		acq.logger = fl.Logger.With("tile_id", task.ID)
	}
	acq.logger.Info("tile.start", "source_ref", task.SourceRef, "working_dir", task.WorkingDir)

	// A tile being reprocessed is not complete until finalize writes a new marker.
	removed, err := RemoveMarker(acq.paths)
	if err != nil {
		e.fail(acq, model.ReasonWorkdirError, err)
		return acq
	}
	if removed {
		acq.logger.Info("tile.marker.cleared", "path", acq.paths.Marker)
	}

	rawURL, name, err := fetch.ResolveReference(task.SourceRef)
	if err != nil {
		e.fail(acq, model.ReasonMalformedReference, err)
		return acq
	}
	acq.result.DerivedFileName = DerivedName(name, e.opts.OutputSuffix)

	dest, format := acq.paths.DestinationFor(name)
	if format == FormatUnsupported {
		e.fail(acq, model.ReasonUnsupportedFormat, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name))
		return acq
	}
	acq.format = format
	acq.source = dest

	if !e.transition(acq, model.StateDownloading) {
		return acq
	}
	res, err := e.fetcher.Fetch(ctx, acq.logger, rawURL, dest)
	if err != nil {
		reason := model.ReasonDownloadFailed
		if ctx.Err() != nil {
			reason = model.ReasonCanceled
		} else if errors.Is(err, fetch.ErrMalformedReference) {
			reason = model.ReasonMalformedReference
		}
		e.fail(acq, reason, err)
		return acq
	}
	acq.logger.Info("tile.acquired",
		"path", dest,
		"format", string(format),
		"cached", res.Cached,
		"bytes", res.Bytes,
		"attempts", len(res.Attempts),
	)
	e.transition(acq, model.StateDownloaded)
	return acq
}

// ProcessAcquired runs convert, derive and finalize. Engine calls go through the
// shared session, one at a time.
func (e *Executor) ProcessAcquired(ctx context.Context, acq *Acquisition) model.TileResult {
	defer acq.Close()
	if acq.done {
		return acq.result
	}
	if err := ctx.Err(); err != nil {
		e.fail(acq, model.ReasonCanceled, err)
		return acq.result
	}

	if acq.format == FormatArchive {
		if !e.convert(ctx, acq) {
			return acq.result
		}
	}

	if !e.transition(acq, model.StateDeriving) {
		return acq.result
	}
	canonical, err := listFiles(acq.paths.Canonical, ".las")
	if err != nil {
		e.fail(acq, model.ReasonNoCanonicalOutput, fmt.Errorf("%w: list %s: %w", ErrNoCanonicalOutput, acq.paths.Canonical, err))
		return acq.result
	}
	if len(canonical) == 0 {
		e.fail(acq, model.ReasonNoCanonicalOutput, fmt.Errorf("%w in %s", ErrNoCanonicalOutput, acq.paths.Canonical))
		return acq.result
	}

	var derived []string
	for _, in := range canonical {
		out := filepath.Join(acq.paths.Derived, DerivedName(in, e.opts.OutputSuffix))
		if err := e.session.Derive(ctx, acq.logger, in, out, e.opts.Params); err != nil {
			if ctx.Err() != nil {
				e.fail(acq, model.ReasonCanceled, err)
				return acq.result
			}
			e.warn(acq, &DerivationWarning{Canonical: in, Err: err})
			continue
		}
		if !runstore.FileExists(out) {
			e.warn(acq, &DerivationWarning{Canonical: in, Err: fmt.Errorf("engine reported success but %s is missing", filepath.Base(out))})
			continue
		}
		derived = append(derived, filepath.Base(out))
	}

	e.finalize(acq, derived)
	return acq.result
}

func (e *Executor) convert(ctx context.Context, acq *Acquisition) bool {
	if !e.transition(acq, model.StateConverting) {
		return false
	}
	archives, err := listFiles(acq.paths.Archive, ".laz")
	if err != nil {
		e.fail(acq, model.ReasonConversionFailed, fmt.Errorf("list %s: %w", acq.paths.Archive, err))
		return false
	}
	for _, archive := range archives {
		if err := e.session.Convert(ctx, acq.logger, archive, acq.paths.Canonical); err != nil {
			reason := model.ReasonConversionFailed
			if ctx.Err() != nil {
				reason = model.ReasonCanceled
			}
			e.fail(acq, reason, err)
			return false
		}
		expected := filepath.Join(acq.paths.Canonical, engine.CanonicalName(archive))
		if err := waitForFile(ctx, expected, e.opts.SettleTimeout, e.opts.SettlePoll); err != nil {
			if ctx.Err() != nil {
				e.fail(acq, model.ReasonCanceled, err)
				return false
			}
			acq.logger.Warn("tile.convert.output_missing",
				"expected", expected,
				"waited_ms", e.opts.SettleTimeout.Milliseconds(),
			)
		}
	}
	return e.transition(acq, model.StateConverted)
}

func (e *Executor) finalize(acq *Acquisition, derived []string) {
	marker := model.CompletionMarker{
		TileID:          acq.task.ID,
		SourceRef:       acq.task.SourceRef,
		DerivedFileName: acq.result.DerivedFileName,
		DerivedFiles:    derived,
		CompletedAt:     e.opts.Now().UTC().Format(time.RFC3339),
		RunID:           e.opts.RunID,
	}
	if marker.DerivedFiles == nil {
		marker.DerivedFiles = []string{}
	}
	if err := WriteMarker(acq.paths, marker); err != nil {
		acq.logger.Error("tile.marker.write_failed", "path", acq.paths.Marker, "err", err)
		acq.result.Warnings = append(acq.result.Warnings, err.Error())
	}
	if !e.transition(acq, model.StateCompleted) {
		return
	}
	acq.result.Success = true
	acq.result.Stage = model.StateCompleted
	acq.result.DerivedFiles = derived
	acq.result.Elapsed = acq.tracker.Elapsed()
	acq.done = true
	acq.logger.Info("tile.completed",
		"derived_file", acq.result.DerivedFileName,
		"derived_count", len(derived),
		"warnings", len(acq.result.Warnings),
		"total_elapsed_ms", acq.result.Elapsed.Milliseconds(),
	)
}

func (e *Executor) transition(acq *Acquisition, to model.TileState) bool {
	timing, err := acq.tracker.Transition(to)
	if err != nil {
		e.fail(acq, "invalid_transition", err)
		return false
	}
	acq.logger.Info("tile.stage",
		"from", string(timing.From),
		"to", string(timing.To),
		"stage_elapsed_ms", timing.StageElapsed.Milliseconds(),
		"total_elapsed_ms", timing.TotalElapsed.Milliseconds(),
	)
	if e.opts.OnTransition != nil {
		e.opts.OnTransition(acq.task.ID, timing)
	}
	return true
}

func (e *Executor) fail(acq *Acquisition, reason string, err error) {
	stage := acq.tracker.State()
	if !model.IsTerminal(stage) {
		if timing, terr := acq.tracker.Transition(model.StateFailed); terr == nil && e.opts.OnTransition != nil {
			e.opts.OnTransition(acq.task.ID, timing)
		}
	}
	acq.result.Success = false
	acq.result.Stage = stage
	acq.result.FailureReason = reason
	acq.result.FailureDetail = err.Error()
	acq.result.Elapsed = acq.tracker.Elapsed()
	acq.done = true
	acq.logger.Error("tile.failed",
		"stage", string(stage),
		"reason", reason,
		"err", err,
		"total_elapsed_ms", acq.result.Elapsed.Milliseconds(),
	)
}

func (e *Executor) warn(acq *Acquisition, w *DerivationWarning) {
	acq.result.Warnings = append(acq.result.Warnings, w.Error())
	acq.logger.Warn("tile.derive.warning", "canonical", w.Canonical, "err", w.Err)
}

// waitForFile polls until path exists as a regular file or timeout elapses.
func waitForFile(ctx context.Context, path string, timeout, poll time.Duration) error {
	if runstore.FileExists(path) {
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if runstore.FileExists(path) {
				return nil
			}
			return fmt.Errorf("%s did not appear within %s", filepath.Base(path), timeout)
		case <-ticker.C:
			if runstore.FileExists(path) {
				return nil
			}
		}
	}
}
