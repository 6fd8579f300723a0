package catalog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func collect(t *testing.T, src Source, idField, linkField string) []Row {
	t.Helper()
	var rows []Row
	err := src.Rows(context.Background(), idField, linkField, func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	return rows
}

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiles.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCSVSource_YieldsNonEmptyLinksInOrder(t *testing.T) {
	path := writeCSV(t, "\ufeffid,name,URL_LAZ\n"+
		"1,a,http://x/a.laz\n"+
		"2,b,\"<a href=\"\"http://x/b.las\"\">b.las</a>\"\n"+
		"3,c,\n"+
		"4,d,   \n"+
		"5,e,http://x/e.laz\n")

	src, err := Open(context.Background(), Options{Source: path})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if err := RequireFields(context.Background(), src, "id", "URL_LAZ"); err != nil {
		t.Fatalf("RequireFields: %v", err)
	}

	rows := collect(t, src, "id", "URL_LAZ")
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %+v", rows)
	}
	if rows[0].ID != "1" || rows[1].ID != "2" || rows[2].ID != "5" {
		t.Fatalf("unexpected order: %+v", rows)
	}
	if rows[1].Link != `<a href="http://x/b.las">b.las</a>` {
		t.Fatalf("link must be passed through raw, got %q", rows[1].Link)
	}
}

func TestCSVSource_PositionalIDs(t *testing.T) {
	path := writeCSV(t, "url\nhttp://x/a.laz\n\nhttp://x/b.laz\n")
	src, err := OpenCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	rows := collect(t, src, "", "url")
	if len(rows) != 2 || rows[0].ID != "1" || rows[1].ID != "2" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestCSVSource_PositionCountsSkippedRows(t *testing.T) {
	path := writeCSV(t, "id,name,url\na,A,\n,B,http://x/b.laz\nc,C,http://x/c.laz\n")
	src, err := OpenCSV(path)
	if err != nil {
		t.Fatal(err)
	}

	withID := collect(t, src, "id", "url")
	if len(withID) != 2 {
		t.Fatalf("unexpected rows: %+v", withID)
	}
	if withID[0].ID != "" || withID[0].Position != 2 || withID[1].ID != "c" || withID[1].Position != 3 {
		t.Fatalf("unexpected rows with id field: %+v", withID)
	}

	positional := collect(t, src, "", "url")
	if len(positional) != 2 || positional[0].ID != "2" || positional[0].Position != 2 || positional[1].ID != "3" {
		t.Fatalf("unexpected positional rows: %+v", positional)
	}
}

func TestRequireFields_IsCaseSensitive(t *testing.T) {
	path := writeCSV(t, "id,URL_LAZ\n1,http://x/a.laz\n")
	src, err := OpenCSV(path)
	if err != nil {
		t.Fatal(err)
	}

	err = RequireFields(context.Background(), src, "url_laz")
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) || schemaErr.Field != "url_laz" {
		t.Fatalf("expected SchemaError for url_laz, got %v", err)
	}
	if !strings.Contains(err.Error(), "URL_LAZ") {
		t.Fatalf("error should list available fields: %v", err)
	}
}

func createGeoPackage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiles.gpkg")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL)`,
		`INSERT INTO gpkg_contents VALUES ('tiles', 'features'), ('aaa_meta', 'attributes')`,
		`CREATE TABLE tiles (fid INTEGER PRIMARY KEY, tile_id INTEGER, URL_LAZ TEXT)`,
		`INSERT INTO tiles (tile_id, URL_LAZ) VALUES (101, 'http://x/a.laz')`,
		`INSERT INTO tiles (tile_id, URL_LAZ) VALUES (102, NULL)`,
		`INSERT INTO tiles (tile_id, URL_LAZ) VALUES (103, '')`,
		`INSERT INTO tiles (tile_id, URL_LAZ) VALUES (104, 'http://x/d.las')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	return path
}

func TestGeoPackageSource_DetectsLayerAndFiltersNulls(t *testing.T) {
	path := createGeoPackage(t)

	src, err := Open(context.Background(), Options{Source: path})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if !strings.HasSuffix(src.Name(), ":tiles") {
		t.Fatalf("expected tiles layer, got %s", src.Name())
	}
	fields, err := src.Fields(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(fields, ",") != "fid,tile_id,URL_LAZ" {
		t.Fatalf("unexpected fields %v", fields)
	}

	rows := collect(t, src, "tile_id", "URL_LAZ")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", rows)
	}
	if rows[0] != (Row{ID: "101", Link: "http://x/a.laz"}) || rows[1] != (Row{ID: "104", Link: "http://x/d.las"}) {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestGeoPackageSource_MissingLayer(t *testing.T) {
	path := createGeoPackage(t)
	src, err := OpenGeoPackage(context.Background(), path, "nope", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if _, err := src.Fields(context.Background()); !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("expected ErrLayerNotFound, got %v", err)
	}
}

func TestKind(t *testing.T) {
	cases := map[string]string{
		"tiles.csv":                    KindCSV,
		"/data/Tiles.GPKG":             KindGeoPackage,
		"postgres://u@h/db":            KindPostGIS,
		"postgresql://u@h/db?sslmode=": KindPostGIS,
		"tiles.shp":                    "",
	}
	for in, want := range cases {
		if got := Kind(in); got != want {
			t.Fatalf("Kind(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := Open(context.Background(), Options{Source: "tiles.shp"}); !errors.Is(err, ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource, got %v", err)
	}
}

func TestRowsQueries(t *testing.T) {
	got := geoPackageRowsQuery("tiles", "", `we"ird`)
	want := `SELECT CAST(rowid AS TEXT), CAST("we""ird" AS TEXT) FROM "tiles" WHERE "we""ird" IS NOT NULL ORDER BY rowid`
	if got != want {
		t.Fatalf("geopackage query:\n got %s\nwant %s", got, want)
	}

	got = postgisRowsQuery("lidar", "tiles", "id", "url")
	want = `SELECT "id"::text, "url"::text FROM "lidar"."tiles" WHERE "url" IS NOT NULL ORDER BY "id"`
	if got != want {
		t.Fatalf("postgis query:\n got %s\nwant %s", got, want)
	}
}

func TestSplitLayer(t *testing.T) {
	if s, tb, err := splitLayer("tiles"); err != nil || s != "public" || tb != "tiles" {
		t.Fatalf("unexpected split: %s %s %v", s, tb, err)
	}
	if s, tb, err := splitLayer("lidar.tiles"); err != nil || s != "lidar" || tb != "tiles" {
		t.Fatalf("unexpected split: %s %s %v", s, tb, err)
	}
	if _, _, err := splitLayer(""); err == nil {
		t.Fatalf("expected error for empty layer")
	}
}
