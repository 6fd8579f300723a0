package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"dsm-tiler/internal/catalog"
	"dsm-tiler/internal/config"
	"dsm-tiler/internal/engine"
	"dsm-tiler/internal/fetch"
	"dsm-tiler/internal/logging"
	"dsm-tiler/internal/model"
	"dsm-tiler/internal/pipeline"
	"dsm-tiler/internal/progress"
	"dsm-tiler/internal/publish"
	"dsm-tiler/internal/report"
	"dsm-tiler/internal/runstore"
	"dsm-tiler/internal/tile"
)

// ErrTilesFailed is returned by run when the run completed but at least one
// tile did not.
var ErrTilesFailed = errors.New("tiles failed")

const tuiLogFile = "dsm-tiler.log"

func runTiles(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cf := bindConfigFlags(fs)
	runID := fs.String("run-id", "", "explicit run id (default: random uuid)")
	breakLock := fs.Bool("break-lock", false, "remove a stale run lock left by a crashed run")
	tui := fs.Bool("tui", false, "full-screen progress view (requires a terminal)")
	quiet := fs.Bool("quiet", false, "disable progress output")
	jsonOut := fs.Bool("json", false, "print the run summary as JSON")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := cf.resolve()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Catalog.Source) == "" {
		return errors.New("--catalog is required (or catalog.source in the config file)")
	}
	if *tui && !stdoutIsTTY() {
		return errors.New("--tui requires a terminal")
	}
	if err := engine.CheckDependencies(cfg.Engine.Binary); err != nil {
		return err
	}

	logger := newLogger(cfg)
	if *tui {
		fileLog, err := logging.OpenFileLog(filepath.Join(cfg.Output.Root, tuiLogFile), logging.Discard())
		if err != nil {
			return err
		}
		defer fileLog.Close()
		logger = fileLog.Logger
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, err := catalog.Open(ctx, cfg.CatalogOptions(logger))
	if err != nil {
		return err
	}
	defer src.Close()

	pub, err := openPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	if *breakLock {
		if err := runstore.BreakRunLock(cfg.Output.Root); err != nil {
			return err
		}
	}

	opts := runOptions(cfg, logger)
	opts.RunID = strings.TrimSpace(*runID)
	opts.Publisher = pub

	var summary model.RunSummary
	switch {
	case *tui:
		summary, err = progress.RunTUI(cancel, func(obs pipeline.Observer) (model.RunSummary, error) {
			opts.Observer = obs
			return pipeline.Run(ctx, src, opts)
		})
	case *quiet:
		summary, err = pipeline.Run(ctx, src, opts)
	default:
		line := progress.NewLine(os.Stderr, stderrIsTTY())
		opts.Observer = line.Observe
		line.Start()
		summary, err = pipeline.Run(ctx, src, opts)
		line.Stop("")
	}
	if err != nil && summary.RunID == "" {
		return err
	}

	if *jsonOut {
		if perr := printJSON(summary); perr != nil {
			return perr
		}
	} else if stdoutIsTTY() {
		fmt.Println(report.Render(summary))
	} else {
		fmt.Println(report.RenderPlain(summary))
	}
	if err != nil {
		return err
	}
	if summary.FailedCount > 0 {
		return fmt.Errorf("%w: %d of %d (see %s)", ErrTilesFailed, summary.FailedCount, summary.TotalTiles, runstore.SummaryPath(cfg.Output.Root))
	}
	return nil
}

func runPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	cf := bindConfigFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := cf.resolve()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Catalog.Source) == "" {
		return errors.New("--catalog is required (or catalog.source in the config file)")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := catalog.Open(ctx, cfg.CatalogOptions(logger))
	if err != nil {
		return err
	}
	defer src.Close()

	batches, err := pipeline.Plan(ctx, src, pipeline.Options{
		OutputRoot:  cfg.Output.Root,
		IDField:     cfg.Catalog.IDField,
		LinkField:   cfg.Catalog.LinkField,
		BatchSize:   cfg.Output.BatchSize,
		BatchPrefix: cfg.Output.BatchPrefix,
	})
	if err != nil {
		return err
	}

	rows := planRows(batches)
	if *jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("catalog: %s\n", src.Name())
	fmt.Printf("output: %s\n", cfg.Output.Root)
	fmt.Printf("batches: %d\n", len(rows))
	for _, r := range rows {
		label := r.Label
		if label == "" {
			label = "(single run)"
		}
		fmt.Printf("%s: %d tiles, %d complete (%s .. %s)\n", label, r.Tiles, r.Complete, r.FirstTile, r.LastTile)
	}
	return nil
}

type planRow struct {
	Label      string `json:"label,omitempty"`
	OutputRoot string `json:"output_root"`
	Tiles      int    `json:"tiles"`
	Complete   int    `json:"complete"`
	FirstTile  string `json:"first_tile,omitempty"`
	LastTile   string `json:"last_tile,omitempty"`
}

func planRows(batches []model.Batch) []planRow {
	rows := make([]planRow, 0, len(batches))
	for _, b := range batches {
		row := planRow{Label: b.Label, OutputRoot: b.OutputRoot, Tiles: len(b.Tiles)}
		for _, t := range b.Tiles {
			if tile.IsComplete(t) {
				row.Complete++
			}
		}
		if n := len(b.Tiles); n > 0 {
			row.FirstTile = b.Tiles[0].ID
			row.LastTile = b.Tiles[n-1].ID
		}
		rows = append(rows, row)
	}
	return rows
}

func runOptions(cfg config.Config, logger *slog.Logger) pipeline.Options {
	return pipeline.Options{
		OutputRoot:      cfg.Output.Root,
		IDField:         cfg.Catalog.IDField,
		LinkField:       cfg.Catalog.LinkField,
		BatchSize:       cfg.Output.BatchSize,
		BatchPrefix:     cfg.Output.BatchPrefix,
		Resume:          cfg.Output.Resume,
		Cleanup:         cfg.Output.Cleanup,
		DownloadWorkers: cfg.Download.Workers,
		Fetcher:         fetch.NewClient(cfg.FetchOptions()),
		Session:         engine.NewSession(engine.NewCommandEngine(cfg.Engine.Binary)),
		Stage:           cfg.ExecutorOptions(),
		PublishPrefix:   cfg.Publish.Prefix,
		Report:          report.Options{XLSX: cfg.Output.XLSX},
		Logger:          logger,
	}
}

// openPublisher returns nil when publishing is not configured.
func openPublisher(ctx context.Context, cfg config.Config) (publish.Publisher, error) {
	switch {
	case strings.TrimSpace(cfg.Publish.BucketURL) != "":
		return publish.OpenBlob(ctx, cfg.Publish.BucketURL)
	case cfg.Publish.Minio.Enabled():
		return publish.NewMinio(ctx, cfg.Publish.Minio)
	default:
		return nil, nil
	}
}
