package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dsm-tiler/internal/config"
	"dsm-tiler/internal/model"
	"dsm-tiler/internal/runstore"
	"dsm-tiler/internal/tile"
)

func writeTile(t *testing.T, dir string, complete bool) {
	t.Helper()
	p := tile.PathsFor(dir)
	if err := p.Ensure(); err != nil {
		t.Fatal(err)
	}
	if !complete {
		return
	}
	if err := tile.WriteMarker(p, model.CompletionMarker{
		TileID:          filepath.Base(dir)[len("tile_"):],
		DerivedFileName: "x_DSM.tif",
		DerivedFiles:    []string{"x_DSM.tif"},
		RunID:           "run-1",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestStatus_ReportsBatchesAndMarkers(t *testing.T) {
	root := t.TempDir()
	writeTile(t, filepath.Join(root, "lidar_A", "tile_1"), true)
	writeTile(t, filepath.Join(root, "lidar_A", "tile_2"), false)
	writeTile(t, filepath.Join(root, "lidar_B", "tile_3"), true)

	res, err := Status(StatusOptions{OutputRoot: root})
	if err != nil {
		t.Fatal(err)
	}
	if res.Totals.Tiles != 3 || res.Totals.Complete != 2 || res.Totals.Incomplete != 1 {
		t.Fatalf("unexpected totals %+v", res.Totals)
	}
	if len(res.Batches) != 2 || res.Batches[0].Label != "lidar_A" || res.Batches[0].Incomplete != 1 {
		t.Fatalf("unexpected batches %+v", res.Batches)
	}
	if res.Tiles[0].RunID != "run-1" || !res.Tiles[0].HasIntermediate {
		t.Fatalf("unexpected first tile %+v", res.Tiles[0])
	}
	if res.Tiles[1].TileID != "2" || res.Tiles[1].Complete {
		t.Fatalf("unexpected incomplete tile %+v", res.Tiles[1])
	}
	if res.State != "incomplete" {
		t.Fatalf("expected incomplete state, got %q", res.State)
	}
}

func TestStatus_EmptyRootNeverRun(t *testing.T) {
	res, err := Status(StatusOptions{OutputRoot: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != "never_run" || res.LastSummary != nil {
		t.Fatalf("unexpected status %+v", res)
	}
}

func TestStatus_LastSummaryAndLock(t *testing.T) {
	root := t.TempDir()
	writeTile(t, filepath.Join(root, "tile_1"), true)
	if err := runstore.WriteJSON(runstore.SummaryPath(root), model.RunSummary{RunID: "r", TotalTiles: 2, SuccessCount: 1, FailedCount: 1}); err != nil {
		t.Fatal(err)
	}

	res, err := Status(StatusOptions{OutputRoot: root})
	if err != nil {
		t.Fatal(err)
	}
	if res.LastSummary == nil || res.LastSummary.FailedCount != 1 || res.State != "needs_retry" {
		t.Fatalf("unexpected status %+v", res)
	}

	lock, err := runstore.AcquireRunLock(root, "live")
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()
	res, err = Status(StatusOptions{OutputRoot: root})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Locked || res.LockedBy != "live" || res.State != "in_progress" {
		t.Fatalf("expected locked status, got %+v", res)
	}
}

func TestDoctor_ChecksEngineAndOutput(t *testing.T) {
	tmp := t.TempDir()
	fakeBin := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fakeBin, "pdal-test"), []byte("#!/usr/bin/env bash\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))

	csvPath := filepath.Join(tmp, "tiles.csv")
	if err := os.WriteFile(csvPath, []byte("tile_id,download_link\n1,http://x/a.laz\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Engine.Binary = "pdal-test"
	cfg.Output.Root = filepath.Join(tmp, "out")
	cfg.Catalog.Source = csvPath

	res, err := Doctor(context.Background(), DoctorOptions{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Checks) != 3 {
		t.Fatalf("expected three passing checks, got %+v", res)
	}

	cfg.Engine.Binary = "definitely-not-installed-engine"
	cfg.Catalog.LinkField = "URL"
	res, err = Doctor(context.Background(), DoctorOptions{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Checks[0].OK || res.Checks[2].OK {
		t.Fatalf("expected engine and catalog checks to fail, got %+v", res.Checks)
	}
}

func TestInitWorkspace_WritesLoadableConfig(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.Default()
	cfg.Output.Root = filepath.Join(tmp, "tiles")
	cfgPath := filepath.Join(tmp, "conf", "dsm-tiler.yaml")

	res, err := InitWorkspace(context.Background(), InitWorkspaceOptions{ConfigPath: cfgPath, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if !res.CreatedConfig || !res.CreatedOutputRoot {
		t.Fatalf("expected config and root to be created, got %+v", res)
	}
	loaded, err := config.LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("written config should load: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", loaded, cfg)
	}

	again, err := InitWorkspace(context.Background(), InitWorkspaceOptions{ConfigPath: cfgPath, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if again.CreatedConfig || again.CreatedOutputRoot {
		t.Fatalf("second init should not recreate anything, got %+v", again)
	}
}
