package cli

import (
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"

	"dsm-tiler/internal/config"
	"dsm-tiler/internal/discovery"
	"dsm-tiler/internal/logging"
	"dsm-tiler/internal/runstore"
)

const configEnv = "DSM_TILER_CONFIG"

// configFlags binds the flags shared by commands that resolve a full config.
// Flags only override what they were explicitly given.
type configFlags struct {
	fs *flag.FlagSet

	configPath    *string
	catalog       *string
	layer         *string
	idField       *string
	linkField     *string
	output        *string
	suffix        *string
	batchSize     *int
	batchPrefix   *string
	resume        *bool
	noResume      *bool
	cleanup       *bool
	xlsx          *bool
	retries       *int
	timeout       *time.Duration
	insecure      *bool
	workers       *int
	engineBinary  *string
	resolution    *float64
	interpolation *string
	publishURL    *string
	publishPrefix *string
	logLevel      *string
	logJSON       *bool
}

func bindConfigFlags(fs *flag.FlagSet) *configFlags {
	return &configFlags{
		fs:            fs,
		configPath:    fs.String("config", "", "config file (default: $"+configEnv+" or ./"+discovery.DefaultConfigPath+")"),
		catalog:       fs.String("catalog", "", "tile catalog: .csv, .gpkg, or postgres:// DSN"),
		layer:         fs.String("layer", "", "catalog layer or table (geopackage/postgis)"),
		idField:       fs.String("id-field", "", "catalog field holding the tile id"),
		linkField:     fs.String("link-field", "", "catalog field holding the download link"),
		output:        fs.String("output", "", "output root directory"),
		suffix:        fs.String("suffix", "", "derived raster suffix"),
		batchSize:     fs.Int("batch-size", 0, "tiles per batch (0 = no batching)"),
		batchPrefix:   fs.String("batch-prefix", "", "batch directory prefix"),
		resume:        fs.Bool("resume", false, "skip tiles that carry a completion marker"),
		noResume:      fs.Bool("no-resume", false, "reprocess tiles even when a completion marker exists"),
		cleanup:       fs.Bool("cleanup", false, "remove intermediates of completed tiles after each batch"),
		xlsx:          fs.Bool("xlsx", false, "also write summary.xlsx"),
		retries:       fs.Int("retries", 0, "download attempts per tile"),
		timeout:       fs.Duration("timeout", 0, "per-attempt download timeout"),
		insecure:      fs.Bool("insecure", false, "skip TLS certificate verification for downloads"),
		workers:       fs.Int("workers", 0, "concurrent downloads (engine work stays serialized)"),
		engineBinary:  fs.String("engine", "", "point-cloud engine binary"),
		resolution:    fs.Float64("resolution", 0, "raster cell size"),
		interpolation: fs.String("interpolation", "", "raster statistic: max|min|mean|idw"),
		publishURL:    fs.String("publish-url", "", "bucket URL for derived rasters (file://, s3://, gs://, mem://)"),
		publishPrefix: fs.String("publish-prefix", "", "object key prefix for published rasters"),
		logLevel:      fs.String("log-level", "", "log level: debug|info|warn|error"),
		logJSON:       fs.Bool("log-json", false, "emit JSON logs"),
	}
}

// resolve layers defaults, the config file, DSM_TILER_* variables and the
// explicitly set flags. It returns the config file path that was used.
func (f *configFlags) resolve() (config.Config, string, error) {
	path := configFilePath(*f.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, "", err
	}

	cfg = cfg.Merge(config.Config{
		Catalog: config.CatalogConfig{
			Source:    strings.TrimSpace(*f.catalog),
			Layer:     strings.TrimSpace(*f.layer),
			IDField:   strings.TrimSpace(*f.idField),
			LinkField: strings.TrimSpace(*f.linkField),
		},
		Output: config.OutputConfig{
			Root:        strings.TrimSpace(*f.output),
			Suffix:      strings.TrimSpace(*f.suffix),
			BatchSize:   *f.batchSize,
			BatchPrefix: strings.TrimSpace(*f.batchPrefix),
		},
		Download: config.DownloadConfig{
			Attempts: *f.retries,
			Timeout:  *f.timeout,
			Workers:  *f.workers,
		},
		Engine: config.EngineConfig{
			Binary:        strings.TrimSpace(*f.engineBinary),
			Resolution:    *f.resolution,
			Interpolation: strings.TrimSpace(*f.interpolation),
		},
		Publish: config.PublishConfig{
			BucketURL: strings.TrimSpace(*f.publishURL),
			Prefix:    strings.TrimSpace(*f.publishPrefix),
		},
		Log: config.LogConfig{Level: strings.TrimSpace(*f.logLevel)},
	})

	set := map[string]bool{}
	f.fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	if set["resume"] {
		cfg.Output.Resume = *f.resume
	}
	if set["no-resume"] && *f.noResume {
		cfg.Output.Resume = false
	}
	if set["cleanup"] {
		cfg.Output.Cleanup = *f.cleanup
	}
	if set["xlsx"] {
		cfg.Output.XLSX = *f.xlsx
	}
	if set["insecure"] {
		cfg.Download.VerifyTLS = !*f.insecure
	}
	if set["log-json"] {
		cfg.Log.JSON = *f.logJSON
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, path, nil
}

func configFilePath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(configEnv)); p != "" {
		return p
	}
	if runstore.FileExists(discovery.DefaultConfigPath) {
		return discovery.DefaultConfigPath
	}
	return ""
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := logging.New(os.Stderr, cfg.LogOptions())
	slog.SetDefault(logger)
	return logger
}
