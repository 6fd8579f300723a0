package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dsm-tiler/internal/batch"
	"dsm-tiler/internal/catalog"
	"dsm-tiler/internal/engine"
	"dsm-tiler/internal/model"
	"dsm-tiler/internal/publish"
	"dsm-tiler/internal/report"
	"dsm-tiler/internal/runstore"
	"dsm-tiler/internal/tile"
)

var ErrInvalidOptions = errors.New("invalid pipeline options")

type Options struct {
	OutputRoot  string
	IDField     string
	LinkField   string
	BatchSize   int
	BatchPrefix string
	Resume      bool
	Cleanup     bool
	// DownloadWorkers above 1 prefetches downloads for upcoming tiles while the
	// engine works on the current one.
	DownloadWorkers int

	Fetcher tile.Fetcher
	Session *engine.Session
	Stage   tile.ExecutorOptions

	Publisher     publish.Publisher
	PublishPrefix string
	Report        report.Options

	RunID    string
	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
}

func (o Options) validate() error {
	switch {
	case strings.TrimSpace(o.OutputRoot) == "":
		return fmt.Errorf("%w: output root is required", ErrInvalidOptions)
	case strings.TrimSpace(o.LinkField) == "":
		return fmt.Errorf("%w: link field is required", ErrInvalidOptions)
	case o.Fetcher == nil:
		return fmt.Errorf("%w: fetcher is required", ErrInvalidOptions)
	case o.Session == nil:
		return fmt.Errorf("%w: engine session is required", ErrInvalidOptions)
	case o.BatchSize < 0:
		return fmt.Errorf("%w: batch size must be >= 0", ErrInvalidOptions)
	case o.DownloadWorkers < 0:
		return fmt.Errorf("%w: download workers must be >= 0", ErrInvalidOptions)
	}
	return nil
}

// Plan reads the catalog and partitions it without touching the output root.
func Plan(ctx context.Context, src catalog.Source, opts Options) ([]model.Batch, error) {
	if err := catalog.RequireFields(ctx, src, requiredFields(opts)...); err != nil {
		return nil, err
	}
	tasks, err := readTasks(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	return batch.Partition(tasks, batch.Options{Size: opts.BatchSize, Prefix: opts.BatchPrefix, Root: opts.OutputRoot})
}

// Run processes every tile of the catalog and writes the run summary to the
// output root. Per-tile failures are reported in the summary; the returned
// error is reserved for run-fatal conditions and cancellation.
func Run(ctx context.Context, src catalog.Source, opts Options) (model.RunSummary, error) {
	if err := opts.validate(); err != nil {
		return model.RunSummary{}, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = func(Event) {}
	}
	if opts.DownloadWorkers == 0 {
		opts.DownloadWorkers = 1
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	batches, err := Plan(ctx, src, opts)
	if err != nil {
		return model.RunSummary{}, err
	}
	if err := runstore.Mkdir(opts.OutputRoot); err != nil {
		return model.RunSummary{}, fmt.Errorf("create output root: %w", err)
	}
	lock, err := runstore.AcquireRunLock(opts.OutputRoot, opts.RunID)
	if err != nil {
		return model.RunSummary{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			opts.Logger.Warn("run.lock.release_failed", "err", err)
		}
	}()

	r := newRunner(opts, batches)
	return r.run(ctx)
}

func requiredFields(opts Options) []string {
	fields := []string{opts.LinkField}
	if strings.TrimSpace(opts.IDField) != "" {
		fields = append(fields, opts.IDField)
	}
	return fields
}

func readTasks(ctx context.Context, src catalog.Source, opts Options) ([]model.TileTask, error) {
	var tasks []model.TileTask
	yielded := 0
	err := src.Rows(ctx, opts.IDField, opts.LinkField, func(row catalog.Row) error {
		yielded++
		id := strings.TrimSpace(row.ID)
		if id == "" {
			position := row.Position
			if position <= 0 {
				position = yielded
			}
			id = strconv.Itoa(position)
		}
		tasks = append(tasks, model.TileTask{ID: id, SourceRef: row.Link})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", src.Name(), err)
	}
	return tasks, nil
}

type runner struct {
	opts     Options
	batches  []model.Batch
	exec     *tile.Executor
	agg      *Aggregator
	seen     map[string]bool
	total    int
	position int
}

func newRunner(opts Options, batches []model.Batch) *runner {
	total := 0
	for _, b := range batches {
		total += len(b.Tiles)
	}
	r := &runner{
		opts:    opts,
		batches: batches,
		seen:    map[string]bool{},
		total:   total,
		agg:     NewAggregator(opts.RunID, opts.Now()),
	}

	stage := opts.Stage
	stage.RunID = opts.RunID
	stage.Logger = opts.Logger
	stage.Now = opts.Now
	stage.OnTransition = func(tileID string, timing model.StageTiming) {
		opts.Observer(Event{Kind: EventTileStage, RunID: opts.RunID, TileID: tileID, Total: total, Timing: timing})
	}
	r.exec = tile.NewExecutor(opts.Fetcher, opts.Session, stage)
	return r
}

func (r *runner) run(ctx context.Context) (model.RunSummary, error) {
	logger := r.opts.Logger
	logger.Info("run.start", "run_id", r.opts.RunID, "tiles", r.total, "batches", len(r.batches), "output_root", r.opts.OutputRoot)
	r.opts.Observer(Event{Kind: EventRunStarted, RunID: r.opts.RunID, Total: r.total})

	var runErr error
	for _, b := range r.batches {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		r.opts.Observer(Event{Kind: EventBatchStarted, RunID: r.opts.RunID, Batch: b.Label, Total: r.total})
		if err := runstore.Mkdir(b.OutputRoot); err != nil {
			return model.RunSummary{}, fmt.Errorf("create batch root %s: %w", b.OutputRoot, err)
		}
		r.processBatch(ctx, b)
		if r.opts.Cleanup {
			rep, err := tile.Cleanup(b.Tiles, logger)
			if err != nil {
				logger.Warn("cleanup.failed", "batch", b.Label, "err", err)
			} else {
				logger.Debug("batch.cleanup", "batch", b.Label, "cleaned", rep.Cleaned, "skipped", rep.Skipped)
			}
		}
		r.opts.Observer(Event{Kind: EventBatchFinished, RunID: r.opts.RunID, Batch: b.Label, Total: r.total})
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
	}

	summary := r.agg.Summary(r.opts.Now())
	written, err := report.Write(r.opts.OutputRoot, summary, r.agg.Results(), r.opts.Report)
	if err != nil {
		return summary, fmt.Errorf("write summary: %w", err)
	}
	logger.Info("run.finish",
		"run_id", summary.RunID,
		"total", summary.TotalTiles,
		"success", summary.SuccessCount,
		"failed", summary.FailedCount,
		"resumed", summary.Resumed,
		"reports", written,
	)
	r.opts.Observer(Event{Kind: EventRunFinished, RunID: r.opts.RunID, Total: r.total, Summary: &summary})
	if runErr != nil {
		return summary, fmt.Errorf("run %s interrupted: %w", summary.RunID, runErr)
	}
	return summary, nil
}

type tilePlan int

const (
	planProcess tilePlan = iota
	planResume
	planDuplicate
)

func (r *runner) planTile(task model.TileTask) tilePlan {
	if r.seen[task.ID] {
		return planDuplicate
	}
	r.seen[task.ID] = true
	if r.opts.Resume && tile.IsComplete(task) {
		return planResume
	}
	return planProcess
}

func (r *runner) processBatch(ctx context.Context, b model.Batch) {
	plans := make([]tilePlan, len(b.Tiles))
	for i, task := range b.Tiles {
		plans[i] = r.planTile(task)
	}

	if r.opts.DownloadWorkers <= 1 {
		for i, task := range b.Tiles {
			if ctx.Err() != nil {
				return
			}
			switch plans[i] {
			case planProcess:
				r.record(ctx, b, task, r.exec.Process(ctx, task))
			default:
				r.record(ctx, b, task, r.skipped(task, plans[i]))
			}
		}
		return
	}
	r.processPrefetched(ctx, b, plans)
}

// processPrefetched downloads up to DownloadWorkers tiles ahead while the
// engine stages consume acquisitions strictly in catalog order.
func (r *runner) processPrefetched(ctx context.Context, b model.Batch, plans []tilePlan) {
	workers := r.opts.DownloadWorkers
	slots := make([]chan *tile.Acquisition, len(b.Tiles))
	for i := range slots {
		slots[i] = make(chan *tile.Acquisition, 1)
	}
	// window bounds acquisitions that are downloaded but not yet consumed.
	window := make(chan struct{}, workers*2)

	var g errgroup.Group
	g.SetLimit(workers)
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		for i, task := range b.Tiles {
			if plans[i] != planProcess {
				continue
			}
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				slots[i] <- nil
				continue
			}
			slot := slots[i]
			g.Go(func() error {
				slot <- r.exec.Acquire(ctx, task)
				return nil
			})
		}
	}()

	for i, task := range b.Tiles {
		if plans[i] != planProcess {
			if ctx.Err() == nil {
				r.record(ctx, b, task, r.skipped(task, plans[i]))
			}
			continue
		}
		acq := <-slots[i]
		if acq == nil {
			continue
		}
		<-window
		if ctx.Err() != nil {
			acq.Close()
			continue
		}
		r.record(ctx, b, task, r.exec.ProcessAcquired(ctx, acq))
	}
	<-produced
	_ = g.Wait()
}

func (r *runner) skipped(task model.TileTask, plan tilePlan) model.TileResult {
	if plan == planResume {
		r.opts.Logger.Info("tile.resumed", "tile_id", task.ID, "working_dir", task.WorkingDir)
		return tile.ResumeResult(task, r.exec.OutputSuffix())
	}
	r.opts.Logger.Warn("tile.duplicate_id", "tile_id", task.ID, "source_ref", task.SourceRef)
	name, _ := tile.ExpectedDerivedName(task.SourceRef, r.exec.OutputSuffix())
	return model.TileResult{
		TileID:          task.ID,
		DerivedFileName: name,
		Stage:           model.StatePending,
		FailureReason:   model.ReasonDuplicateTileID,
		FailureDetail:   fmt.Sprintf("tile id %q already appears earlier in the catalog", task.ID),
	}
}

func (r *runner) record(ctx context.Context, b model.Batch, task model.TileTask, result model.TileResult) {
	if result.Success && !result.Resumed && r.opts.Publisher != nil {
		r.publish(ctx, task, &result)
	}
	r.position++
	r.agg.Add(result)
	r.opts.Observer(Event{
		Kind:   EventTileFinished,
		RunID:  r.opts.RunID,
		Batch:  b.Label,
		TileID: task.ID,
		Index:  r.position,
		Total:  r.total,
		Result: &result,
	})
}

func (r *runner) publish(ctx context.Context, task model.TileTask, result *model.TileResult) {
	rel, err := filepath.Rel(r.opts.OutputRoot, task.WorkingDir)
	if err != nil {
		rel = filepath.Base(task.WorkingDir)
	}
	paths := tile.PathsFor(task.WorkingDir)
	keys, err := publish.Tile(ctx, r.opts.Publisher, r.opts.PublishPrefix, filepath.ToSlash(rel), paths.Derived, result.DerivedFiles)
	if err != nil {
		r.opts.Logger.Warn("tile.publish_failed", "tile_id", task.ID, "err", err)
		result.Warnings = append(result.Warnings, err.Error())
		return
	}
	r.opts.Logger.Info("tile.published", "tile_id", task.ID, "publisher", r.opts.Publisher.Name(), "keys", keys)
}
