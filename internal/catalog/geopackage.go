package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// GeoPackageSource reads a feature table from a GeoPackage (or any SQLite file).
type GeoPackageSource struct {
	db    *sql.DB
	path  string
	layer string
}

func OpenGeoPackage(ctx context.Context, path, layer string, logger *slog.Logger) (*GeoPackageSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open geopackage %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open geopackage %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping geopackage %s: %w", path, err)
	}

	layer = strings.TrimSpace(layer)
	if layer == "" {
		layer, err = firstFeatureLayer(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("geopackage %s: %w", path, err)
		}
		logger.Info("catalog.layer.detected", "path", path, "layer", layer)
	}
	return &GeoPackageSource{db: db, path: path, layer: layer}, nil
}

func firstFeatureLayer(ctx context.Context, db *sql.DB) (string, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY table_name LIMIT 1`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no feature layers in gpkg_contents", ErrLayerNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("layer is required (gpkg_contents unreadable: %v)", err)
	}
	return name, nil
}

func (s *GeoPackageSource) Name() string {
	return filepath.Base(s.path) + ":" + s.layer
}

func (s *GeoPackageSource) Fields(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(s.layer)+")")
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", s.layer, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var fields []string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan table_info %s: %w", s.layer, err)
		}
		for i, c := range cols {
			if c != "name" {
				continue
			}
			switch v := vals[i].(type) {
			case string:
				fields = append(fields, v)
			case []byte:
				fields = append(fields, string(v))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, s.layer)
	}
	return fields, nil
}

func (s *GeoPackageSource) Rows(ctx context.Context, idField, linkField string, fn func(Row) error) error {
	rows, err := s.db.QueryContext(ctx, geoPackageRowsQuery(s.layer, idField, linkField))
	if err != nil {
		return fmt.Errorf("query layer %s: %w", s.layer, err)
	}
	defer rows.Close()

	position := 0
	for rows.Next() {
		var id, link sql.NullString
		if err := rows.Scan(&id, &link); err != nil {
			return fmt.Errorf("scan layer %s: %w", s.layer, err)
		}
		position++
		if !link.Valid || strings.TrimSpace(link.String) == "" {
			continue
		}
		if err := fn(Row{ID: strings.TrimSpace(id.String), Link: link.String, Position: position}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func geoPackageRowsQuery(layer, idField, linkField string) string {
	idExpr := "rowid"
	if strings.TrimSpace(idField) != "" {
		idExpr = quoteIdent(idField)
	}
	link := quoteIdent(linkField)
	return fmt.Sprintf(
		"SELECT CAST(%s AS TEXT), CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL ORDER BY rowid",
		idExpr, link, quoteIdent(layer), link,
	)
}

func (s *GeoPackageSource) Close() error {
	return s.db.Close()
}
