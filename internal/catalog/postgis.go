package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgisDialTimeout = 5 * time.Second

// PostGISSource reads a feature table from Postgres.
type PostGISSource struct {
	pool   *pgxpool.Pool
	schema string
	table  string
}

func OpenPostGIS(ctx context.Context, dsn, layer string, logger *slog.Logger) (*PostGISSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, table, err := splitLayer(layer)
	if err != nil {
		return nil, err
	}

	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse catalog dsn: %w", err)
	}
	pc.MaxConns = 2
	pc.ConnConfig.RuntimeParams["application_name"] = "dsm-tiler"

	dialCtx, cancel := context.WithTimeout(ctx, postgisDialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect catalog: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	logger.Info("catalog.postgis.connected", "host", pc.ConnConfig.Host, "layer", schema+"."+table)
	return &PostGISSource{pool: pool, schema: schema, table: table}, nil
}

func splitLayer(layer string) (string, string, error) {
	layer = strings.TrimSpace(layer)
	if layer == "" {
		return "", "", fmt.Errorf("layer is required for postgres catalogs (schema.table)")
	}
	schema, table, ok := strings.Cut(layer, ".")
	if !ok {
		return "public", layer, nil
	}
	if schema == "" || table == "" {
		return "", "", fmt.Errorf("invalid layer %q (expected schema.table)", layer)
	}
	return schema, table, nil
}

func (s *PostGISSource) Name() string {
	return s.schema + "." + s.table
}

func (s *PostGISSource) Fields(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		s.schema, s.table,
	)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", s.Name(), err)
	}
	fields, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", s.Name(), err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, s.Name())
	}
	return fields, nil
}

func (s *PostGISSource) Rows(ctx context.Context, idField, linkField string, fn func(Row) error) error {
	rows, err := s.pool.Query(ctx, postgisRowsQuery(s.schema, s.table, idField, linkField))
	if err != nil {
		return fmt.Errorf("query %s: %w", s.Name(), err)
	}
	defer rows.Close()

	position := 0
	for rows.Next() {
		var id, link *string
		if err := rows.Scan(&id, &link); err != nil {
			return fmt.Errorf("scan %s: %w", s.Name(), err)
		}
		position++
		if link == nil || strings.TrimSpace(*link) == "" {
			continue
		}
		row := Row{Link: *link, Position: position}
		if id != nil {
			row.ID = strings.TrimSpace(*id)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func postgisRowsQuery(schema, table, idField, linkField string) string {
	link := pgx.Identifier{linkField}.Sanitize()
	from := pgx.Identifier{schema, table}.Sanitize()
	if strings.TrimSpace(idField) == "" {
		return fmt.Sprintf(
			"SELECT (row_number() OVER ())::text, %s::text FROM %s WHERE %s IS NOT NULL",
			link, from, link,
		)
	}
	id := pgx.Identifier{idField}.Sanitize()
	return fmt.Sprintf(
		"SELECT %s::text, %s::text FROM %s WHERE %s IS NOT NULL ORDER BY %s",
		id, link, from, link, id,
	)
}

func (s *PostGISSource) Close() error {
	s.pool.Close()
	return nil
}
