package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"dsm-tiler/internal/batch"
	"dsm-tiler/internal/catalog"
	"dsm-tiler/internal/engine"
	"dsm-tiler/internal/fetch"
	"dsm-tiler/internal/logging"
	"dsm-tiler/internal/publish"
	"dsm-tiler/internal/tile"
)

var ErrInvalid = errors.New("invalid config")

//go:embed schema.json
var schemaJSON []byte

type Config struct {
	Catalog  CatalogConfig  `yaml:"catalog"`
	Output   OutputConfig   `yaml:"output"`
	Download DownloadConfig `yaml:"download"`
	Engine   EngineConfig   `yaml:"engine"`
	Publish  PublishConfig  `yaml:"publish"`
	Log      LogConfig      `yaml:"log"`
}

type CatalogConfig struct {
	Source    string `yaml:"source"`
	Layer     string `yaml:"layer"`
	IDField   string `yaml:"id_field"`
	LinkField string `yaml:"link_field"`
}

type OutputConfig struct {
	Root        string `yaml:"root"`
	Suffix      string `yaml:"suffix"`
	BatchSize   int    `yaml:"batch_size"`
	BatchPrefix string `yaml:"batch_prefix"`
	Resume      bool   `yaml:"resume"`
	Cleanup     bool   `yaml:"cleanup"`
	XLSX        bool   `yaml:"xlsx"`
}

type DownloadConfig struct {
	Attempts   int           `yaml:"attempts"`
	Timeout    time.Duration `yaml:"timeout"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	VerifyTLS  bool          `yaml:"verify_tls"`
	Workers    int           `yaml:"workers"`
	UserAgent  string        `yaml:"user_agent"`
}

type EngineConfig struct {
	Binary        string        `yaml:"binary"`
	Resolution    float64       `yaml:"resolution"`
	Interpolation string        `yaml:"interpolation"`
	SettleTimeout time.Duration `yaml:"settle_timeout"`
}

type PublishConfig struct {
	BucketURL string              `yaml:"bucket_url"`
	Prefix    string              `yaml:"prefix"`
	Minio     publish.MinioConfig `yaml:"minio"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func Default() Config {
	fetchDefaults := fetch.DefaultOptions()
	params := engine.DefaultDeriveParams()
	return Config{
		Catalog: CatalogConfig{
			IDField:   "tile_id",
			LinkField: "download_link",
		},
		Output: OutputConfig{
			Root:        "tiles",
			Suffix:      tile.DefaultOutputSuffix,
			BatchPrefix: batch.DefaultPrefix,
			Resume:      true,
		},
		Download: DownloadConfig{
			Attempts:   fetchDefaults.MaxAttempts,
			Timeout:    fetchDefaults.Timeout,
			Backoff:    fetchDefaults.Backoff,
			MaxBackoff: fetchDefaults.MaxBackoff,
			VerifyTLS:  true,
			Workers:    1,
			UserAgent:  fetchDefaults.UserAgent,
		},
		Engine: EngineConfig{
			Binary:        engine.DefaultBinary,
			Resolution:    params.Resolution,
			Interpolation: params.Interpolation,
			SettleTimeout: tile.DefaultSettleTimeout,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load returns defaults overlaid with the YAML file at path (when path is not
// empty) and then with DSM_TILER_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML document against the embedded schema and decodes it
// on top of Default.
func Parse(data []byte) (Config, error) {
	if err := ValidateDocument(data); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("config.schema.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a YAML config document against the JSON schema. An
// empty document is valid.
func ValidateDocument(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees plain JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	schema, err := configSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// LoadFromEnv applies DSM_TILER_* overrides.
func (c *Config) LoadFromEnv() error {
	var err error
	c.Catalog.Source = envString("CATALOG", c.Catalog.Source)
	c.Catalog.Layer = envString("LAYER", c.Catalog.Layer)
	c.Catalog.IDField = envString("ID_FIELD", c.Catalog.IDField)
	c.Catalog.LinkField = envString("LINK_FIELD", c.Catalog.LinkField)

	c.Output.Root = envString("OUTPUT", c.Output.Root)
	c.Output.Suffix = envString("SUFFIX", c.Output.Suffix)
	c.Output.BatchPrefix = envString("BATCH_PREFIX", c.Output.BatchPrefix)
	if c.Output.BatchSize, err = envInt("BATCH_SIZE", c.Output.BatchSize); err != nil {
		return err
	}
	if c.Output.Resume, err = envBool("RESUME", c.Output.Resume); err != nil {
		return err
	}
	if c.Output.Cleanup, err = envBool("CLEANUP", c.Output.Cleanup); err != nil {
		return err
	}
	if c.Output.XLSX, err = envBool("XLSX", c.Output.XLSX); err != nil {
		return err
	}

	if c.Download.Attempts, err = envInt("RETRIES", c.Download.Attempts); err != nil {
		return err
	}
	if c.Download.Timeout, err = envDuration("TIMEOUT", c.Download.Timeout); err != nil {
		return err
	}
	if c.Download.VerifyTLS, err = envBool("VERIFY_TLS", c.Download.VerifyTLS); err != nil {
		return err
	}
	if c.Download.Workers, err = envInt("DOWNLOAD_WORKERS", c.Download.Workers); err != nil {
		return err
	}

	c.Engine.Binary = envString("ENGINE", c.Engine.Binary)
	if c.Engine.Resolution, err = envFloat("RESOLUTION", c.Engine.Resolution); err != nil {
		return err
	}
	c.Engine.Interpolation = envString("INTERPOLATION", c.Engine.Interpolation)

	c.Publish.BucketURL = envString("PUBLISH_URL", c.Publish.BucketURL)
	c.Publish.Prefix = envString("PUBLISH_PREFIX", c.Publish.Prefix)
	c.Publish.Minio.Endpoint = envString("MINIO_ENDPOINT", c.Publish.Minio.Endpoint)
	c.Publish.Minio.Bucket = envString("MINIO_BUCKET", c.Publish.Minio.Bucket)
	c.Publish.Minio.AccessKey = envString("MINIO_ACCESS_KEY", c.Publish.Minio.AccessKey)
	c.Publish.Minio.SecretKey = envString("MINIO_SECRET_KEY", c.Publish.Minio.SecretKey)

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	if c.Log.JSON, err = envBool("LOG_JSON", c.Log.JSON); err != nil {
		return err
	}
	return nil
}

// Merge overlays override onto c. Zero values in override are ignored, so
// booleans can only be switched on this way.
func (c Config) Merge(override Config) Config {
	if override.Catalog.Source != "" {
		c.Catalog.Source = override.Catalog.Source
	}
	if override.Catalog.Layer != "" {
		c.Catalog.Layer = override.Catalog.Layer
	}
	if override.Catalog.IDField != "" {
		c.Catalog.IDField = override.Catalog.IDField
	}
	if override.Catalog.LinkField != "" {
		c.Catalog.LinkField = override.Catalog.LinkField
	}
	if override.Output.Root != "" {
		c.Output.Root = override.Output.Root
	}
	if override.Output.Suffix != "" {
		c.Output.Suffix = override.Output.Suffix
	}
	if override.Output.BatchSize != 0 {
		c.Output.BatchSize = override.Output.BatchSize
	}
	if override.Output.BatchPrefix != "" {
		c.Output.BatchPrefix = override.Output.BatchPrefix
	}
	if override.Output.Resume {
		c.Output.Resume = true
	}
	if override.Output.Cleanup {
		c.Output.Cleanup = true
	}
	if override.Output.XLSX {
		c.Output.XLSX = true
	}
	if override.Download.Attempts != 0 {
		c.Download.Attempts = override.Download.Attempts
	}
	if override.Download.Timeout != 0 {
		c.Download.Timeout = override.Download.Timeout
	}
	if override.Download.Backoff != 0 {
		c.Download.Backoff = override.Download.Backoff
	}
	if override.Download.MaxBackoff != 0 {
		c.Download.MaxBackoff = override.Download.MaxBackoff
	}
	if override.Download.Workers != 0 {
		c.Download.Workers = override.Download.Workers
	}
	if override.Download.UserAgent != "" {
		c.Download.UserAgent = override.Download.UserAgent
	}
	if override.Engine.Binary != "" {
		c.Engine.Binary = override.Engine.Binary
	}
	if override.Engine.Resolution != 0 {
		c.Engine.Resolution = override.Engine.Resolution
	}
	if override.Engine.Interpolation != "" {
		c.Engine.Interpolation = override.Engine.Interpolation
	}
	if override.Engine.SettleTimeout != 0 {
		c.Engine.SettleTimeout = override.Engine.SettleTimeout
	}
	if override.Publish.BucketURL != "" {
		c.Publish.BucketURL = override.Publish.BucketURL
	}
	if override.Publish.Prefix != "" {
		c.Publish.Prefix = override.Publish.Prefix
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.JSON {
		c.Log.JSON = true
	}
	return c
}

// Validate checks the fields a run needs. Catalog source emptiness is left to
// the commands that read a catalog.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Output.Root) == "":
		return fmt.Errorf("%w: output root is required", ErrInvalid)
	case strings.TrimSpace(c.Catalog.LinkField) == "":
		return fmt.Errorf("%w: link field is required", ErrInvalid)
	case c.Output.BatchSize < 0:
		return fmt.Errorf("%w: batch size must be >= 0", ErrInvalid)
	case c.Download.Attempts < 1:
		return fmt.Errorf("%w: download attempts must be >= 1", ErrInvalid)
	case c.Download.Timeout <= 0:
		return fmt.Errorf("%w: download timeout must be > 0", ErrInvalid)
	case c.Download.Workers < 1:
		return fmt.Errorf("%w: download workers must be >= 1", ErrInvalid)
	case strings.TrimSpace(c.Engine.Binary) == "":
		return fmt.Errorf("%w: engine binary is required", ErrInvalid)
	}
	if err := c.DeriveParams().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Publish.Minio.Enabled() {
		if c.Publish.BucketURL != "" {
			return fmt.Errorf("%w: publish.bucket_url and publish.minio are mutually exclusive", ErrInvalid)
		}
		if err := c.Publish.Minio.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

func (c Config) DeriveParams() engine.DeriveParams {
	return engine.DeriveParams{
		Resolution:    c.Engine.Resolution,
		Interpolation: strings.ToLower(strings.TrimSpace(c.Engine.Interpolation)),
	}
}

func (c Config) FetchOptions() fetch.Options {
	return fetch.Options{
		MaxAttempts:        c.Download.Attempts,
		Timeout:            c.Download.Timeout,
		Backoff:            c.Download.Backoff,
		MaxBackoff:         c.Download.MaxBackoff,
		InsecureSkipVerify: !c.Download.VerifyTLS,
		UserAgent:          c.Download.UserAgent,
	}
}

func (c Config) CatalogOptions(logger *slog.Logger) catalog.Options {
	return catalog.Options{
		Source: c.Catalog.Source,
		Layer:  c.Catalog.Layer,
		Logger: logger,
	}
}

func (c Config) ExecutorOptions() tile.ExecutorOptions {
	return tile.ExecutorOptions{
		Params:        c.DeriveParams(),
		OutputSuffix:  c.Output.Suffix,
		SettleTimeout: c.Engine.SettleTimeout,
	}
}

func (c Config) LogOptions() logging.Options {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Options{Level: level, JSON: c.Log.JSON}
}

// PublishEnabled reports whether derived rasters should be uploaded.
func (c Config) PublishEnabled() bool {
	return strings.TrimSpace(c.Publish.BucketURL) != "" || c.Publish.Minio.Enabled()
}
