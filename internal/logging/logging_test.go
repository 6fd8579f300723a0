package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNew_JSONHandler(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{JSON: true}).Info("tile.stage", "tile_id", "7")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "tile.stage" || rec["tile_id"] != "7" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestOpenFileLog_TeesRecords(t *testing.T) {
	var console bytes.Buffer
	base := New(&console, Options{Level: slog.LevelInfo})
	path := filepath.Join(t.TempDir(), "tile_1", "tile.log")

	fl, err := OpenFileLog(path, base)
	if err != nil {
		t.Fatal(err)
	}
	logger := fl.Logger.With("tile_id", "1")
	logger.Debug("engine.exec.output", "line", "reading points")
	logger.Info("tile.stage", "to", "downloading")
	if err := fl.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	file := string(data)
	if !strings.Contains(file, "engine.exec.output") || !strings.Contains(file, "tile.stage") {
		t.Fatalf("file log missing records: %q", file)
	}
	if !strings.Contains(file, "tile_id=1") {
		t.Fatalf("file log missing attrs: %q", file)
	}
	if strings.Contains(console.String(), "engine.exec.output") {
		t.Fatalf("console must keep its own level filter: %q", console.String())
	}
	if !strings.Contains(console.String(), "tile.stage") {
		t.Fatalf("console missing info record: %q", console.String())
	}
}
