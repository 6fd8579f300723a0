package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var (
	ErrSchema            = errors.New("catalog: schema error")
	ErrLayerNotFound     = errors.New("catalog: layer not found")
	ErrUnsupportedSource = errors.New("catalog: unsupported source")
)

// Row is one catalog feature: its identifier and raw source reference. Position
// is the 1-based index of the row among those the source read, counting rows
// skipped for a blank link, so it is stable whether or not an id field is set.
type Row struct {
	ID       string
	Link     string
	Position int
}

// Source enumerates tiles in catalog order. Rows only yields rows whose link
// field is non-null and non-blank. An empty idField numbers rows by position.
type Source interface {
	Name() string
	Fields(ctx context.Context) ([]string, error)
	Rows(ctx context.Context, idField, linkField string, fn func(Row) error) error
	Close() error
}

// SchemaError reports a configured field that the catalog layer does not expose.
type SchemaError struct {
	Layer     string
	Field     string
	Available []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("field %q not found in catalog layer %q (available: %s)", e.Field, e.Layer, strings.Join(e.Available, ", "))
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// RequireFields checks, case-sensitively, that every named field exists.
func RequireFields(ctx context.Context, src Source, fields ...string) error {
	available, err := src.Fields(ctx)
	if err != nil {
		return fmt.Errorf("read catalog schema: %w", err)
	}
	have := make(map[string]bool, len(available))
	for _, f := range available {
		have[f] = true
	}
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if !have[f] {
			return &SchemaError{Layer: src.Name(), Field: f, Available: available}
		}
	}
	return nil
}

type Options struct {
	// Source is a CSV path, a GeoPackage/SQLite path, or a postgres:// URL.
	Source string
	// Layer names the feature table. Optional for CSV; for GeoPackage the first
	// feature layer is used when empty; for Postgres it is "schema.table".
	Layer  string
	Logger *slog.Logger
}

func Open(ctx context.Context, opts Options) (Source, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := strings.TrimSpace(opts.Source)
	if src == "" {
		return nil, fmt.Errorf("catalog source is required")
	}

	switch Kind(src) {
	case KindPostGIS:
		return OpenPostGIS(ctx, src, opts.Layer, logger)
	case KindGeoPackage:
		return OpenGeoPackage(ctx, src, opts.Layer, logger)
	case KindCSV:
		return OpenCSV(src)
	default:
		return nil, fmt.Errorf("%w: %s (expected .csv, .gpkg, .sqlite, or postgres:// URL)", ErrUnsupportedSource, src)
	}
}

const (
	KindCSV        = "csv"
	KindGeoPackage = "geopackage"
	KindPostGIS    = "postgis"
)

func Kind(source string) string {
	lower := strings.ToLower(strings.TrimSpace(source))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return KindPostGIS
	}
	switch filepath.Ext(lower) {
	case ".gpkg", ".sqlite", ".sqlite3", ".db":
		return KindGeoPackage
	case ".csv":
		return KindCSV
	default:
		return ""
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
