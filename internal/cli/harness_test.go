package cli

import (
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dsm-tiler/internal/model"
	"dsm-tiler/internal/runstore"
	"dsm-tiler/internal/tile"
)

func installFakeEngine(t *testing.T) {
	t.Helper()
	fakeBin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	script := `#!/usr/bin/env bash
set -euo pipefail
if [ "$1" != "translate" ]; then
  echo "unexpected subcommand $1" >&2
  exit 2
fi
printf 'out' > "$3"
`
	if err := os.WriteFile(filepath.Join(fakeBin, "pdal"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
}

func writeHarnessCatalog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiles.csv")
	body := "tile_id,download_link\n" + strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newHarnessServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "points")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHarnessRunThenResume(t *testing.T) {
	installFakeEngine(t)
	srv := newHarnessServer(t)
	catalogPath := writeHarnessCatalog(t,
		"1,"+srv.URL+"/a.laz",
		"2,"+srv.URL+"/b.laz",
	)
	root := filepath.Join(t.TempDir(), "out")
	args := []string{"run", "--catalog", catalogPath, "--output", root, "--quiet", "--json"}

	if err := Run(args); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	for _, id := range []string{"1", "2"} {
		p := tile.PathsFor(filepath.Join(root, model.TileDirName(id)))
		if !tile.HasMarker(p) {
			t.Fatalf("tile %s has no completion marker", id)
		}
	}
	first, err := runstore.LoadSummary(root)
	if err != nil {
		t.Fatal(err)
	}
	if first.SuccessCount != 2 || first.FailedCount != 0 || first.Resumed != 0 {
		t.Fatalf("unexpected first summary %+v", first)
	}

	if err := Run(args); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second, err := runstore.LoadSummary(root)
	if err != nil {
		t.Fatal(err)
	}
	if second.SuccessCount != 2 || second.Resumed != 2 {
		t.Fatalf("expected both tiles resumed, got %+v", second)
	}
	if second.RunID == first.RunID {
		t.Fatal("each run should get its own run id")
	}

	if err := Run([]string{"status", "--output", root, "--json"}); err != nil {
		t.Fatalf("status failed: %v", err)
	}
}

func TestHarnessRunReportsFailedTiles(t *testing.T) {
	installFakeEngine(t)
	srv := newHarnessServer(t)
	catalogPath := writeHarnessCatalog(t,
		"1,"+srv.URL+"/a.laz",
		"2,"+srv.URL+"/missing.laz",
	)
	root := filepath.Join(t.TempDir(), "out")

	err := Run([]string{"run", "--catalog", catalogPath, "--output", root, "--quiet", "--retries", "1"})
	if !errors.Is(err, ErrTilesFailed) {
		t.Fatalf("expected ErrTilesFailed, got %v", err)
	}
	s, err := runstore.LoadSummary(root)
	if err != nil {
		t.Fatal(err)
	}
	if s.SuccessCount != 1 || s.FailedCount != 1 || s.Failures[0].TileID != "2" {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestHarnessPlanDoesNotTouchOutput(t *testing.T) {
	catalogPath := writeHarnessCatalog(t,
		"1,http://example.invalid/a.laz",
		"2,http://example.invalid/b.laz",
		"3,http://example.invalid/c.laz",
	)
	root := filepath.Join(t.TempDir(), "out")

	if err := Run([]string{"plan", "--catalog", catalogPath, "--output", root, "--batch-size", "2", "--json"}); err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("plan must not create the output root, stat err=%v", err)
	}
}

func TestHarnessCleanupAfterRun(t *testing.T) {
	installFakeEngine(t)
	srv := newHarnessServer(t)
	catalogPath := writeHarnessCatalog(t, "7,"+srv.URL+"/g.laz")
	root := filepath.Join(t.TempDir(), "out")

	if err := Run([]string{"run", "--catalog", catalogPath, "--output", root, "--quiet"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	p := tile.PathsFor(filepath.Join(root, model.TileDirName("7")))
	if _, err := os.Stat(p.Archive); err != nil {
		t.Fatalf("expected ARCHIVE before cleanup: %v", err)
	}

	if err := Run([]string{"cleanup", "--output", root, "--dry-run"}); err != nil {
		t.Fatalf("dry-run cleanup failed: %v", err)
	}
	if _, err := os.Stat(p.Archive); err != nil {
		t.Fatalf("dry run must keep ARCHIVE: %v", err)
	}

	if err := Run([]string{"cleanup", "--output", root}); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if _, err := os.Stat(p.Archive); !os.IsNotExist(err) {
		t.Fatalf("expected ARCHIVE removed, stat err=%v", err)
	}
	if !tile.HasMarker(p) {
		t.Fatal("cleanup must keep the completion marker")
	}
}

func TestHarnessRunRequiresCatalog(t *testing.T) {
	installFakeEngine(t)
	err := Run([]string{"run", "--output", filepath.Join(t.TempDir(), "out")})
	if err == nil || !strings.Contains(err.Error(), "--catalog") {
		t.Fatalf("expected missing catalog error, got %v", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if err := Run([]string{"frobnicate"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestConfigFlags_Precedence(t *testing.T) {
	t.Setenv("DSM_TILER_OUTPUT", "env-root")
	t.Setenv("DSM_TILER_RETRIES", "7")

	resolve := func(args ...string) *configFlags {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		cf := bindConfigFlags(fs)
		if err := fs.Parse(args); err != nil {
			t.Fatal(err)
		}
		return cf
	}

	cfg, path, err := resolve().resolve()
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		t.Fatalf("expected no config file, got %q", path)
	}
	if cfg.Output.Root != "env-root" || cfg.Download.Attempts != 7 || !cfg.Output.Resume || !cfg.Download.VerifyTLS {
		t.Fatalf("unexpected env-only config %+v", cfg)
	}

	cfg, _, err = resolve("--output", "flag-root", "--no-resume", "--insecure", "--workers", "3").resolve()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output.Root != "flag-root" || cfg.Output.Resume || cfg.Download.VerifyTLS || cfg.Download.Workers != 3 {
		t.Fatalf("flags should override env, got %+v", cfg)
	}
	if cfg.Download.Attempts != 7 {
		t.Fatalf("unset flags must keep env values, got attempts=%d", cfg.Download.Attempts)
	}

	if _, _, err := resolve("--interpolation", "bogus").resolve(); err == nil {
		t.Fatal("expected invalid interpolation to fail validation")
	}
}

func TestConfigFlags_ReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsm-tiler.yaml")
	if err := os.WriteFile(path, []byte("output:\n  root: file-root\n  batch_size: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(configEnv, path)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cf := bindConfigFlags(fs)
	if err := fs.Parse([]string{"--batch-size", "9"}); err != nil {
		t.Fatal(err)
	}
	cfg, used, err := cf.resolve()
	if err != nil {
		t.Fatal(err)
	}
	if used != path || cfg.Output.Root != "file-root" || cfg.Output.BatchSize != 9 {
		t.Fatalf("unexpected config from file: used=%q %+v", used, cfg)
	}
}
