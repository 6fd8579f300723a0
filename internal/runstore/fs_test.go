package runstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSON_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	if err := WriteJSON(path, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSON(path, map[string]int{"a": 2}); err != nil {
		t.Fatal(err)
	}

	var got map[string]int
	if err := ReadJSON(path, &got); err != nil {
		t.Fatal(err)
	}
	if got["a"] != 2 {
		t.Fatalf("expected overwritten value, got %v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, found %d entries", len(entries))
	}
}

func TestListTileDirs_FindsFlatAndBatchedTiles(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{
		"tile_1",
		"tile_2",
		"lidar_A/tile_3",
		"lidar_B/tile_4",
		"lidar_B/notes",
		"logs",
	} {
		if err := Mkdir(filepath.Join(root, p)); err != nil {
			t.Fatal(err)
		}
	}

	dirs, err := ListTileDirs(root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(root, "lidar_A", "tile_3"),
		filepath.Join(root, "lidar_B", "tile_4"),
		filepath.Join(root, "tile_1"),
		filepath.Join(root, "tile_2"),
	}
	if len(dirs) != len(want) {
		t.Fatalf("expected %d dirs, got %v", len(want), dirs)
	}
	for i := range want {
		if dirs[i] != want[i] {
			t.Fatalf("dir %d: got %s want %s", i, dirs[i], want[i])
		}
	}
}

func TestListTileDirs_MissingRootIsEmpty(t *testing.T) {
	dirs, err := ListTileDirs(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 0 {
		t.Fatalf("expected no dirs, got %v", dirs)
	}
}
