package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dsm-tiler/internal/model"
	"dsm-tiler/internal/runstore"
	"dsm-tiler/internal/tile"
)

type StatusOptions struct {
	OutputRoot string
}

type StatusResult struct {
	OutputRoot  string            `json:"output_root"`
	State       string            `json:"state"`
	LockedBy    string            `json:"locked_by,omitempty"`
	Locked      bool              `json:"locked"`
	Tiles       []TileStatus      `json:"tiles"`
	Batches     []BatchStatus     `json:"batches,omitempty"`
	Totals      StatusTotals      `json:"totals"`
	LastSummary *model.RunSummary `json:"last_summary,omitempty"`
}

type TileStatus struct {
	Dir             string   `json:"dir"`
	Batch           string   `json:"batch,omitempty"`
	TileID          string   `json:"tile_id,omitempty"`
	Complete        bool     `json:"complete"`
	DerivedFileName string   `json:"derived_file_name,omitempty"`
	DerivedFiles    []string `json:"derived_files,omitempty"`
	CompletedAt     string   `json:"completed_at,omitempty"`
	RunID           string   `json:"run_id,omitempty"`
	HasIntermediate bool     `json:"has_intermediate"`
}

type BatchStatus struct {
	Label      string `json:"label"`
	Tiles      int    `json:"tiles"`
	Complete   int    `json:"complete"`
	Incomplete int    `json:"incomplete"`
}

type StatusTotals struct {
	Tiles        int `json:"tiles"`
	Complete     int `json:"complete"`
	Incomplete   int `json:"incomplete"`
	Intermediate int `json:"with_intermediate"`
}

// Status scans an output root for tile directories and their completion
// markers. Nothing is modified.
func Status(opts StatusOptions) (StatusResult, error) {
	root := strings.TrimSpace(opts.OutputRoot)
	if root == "" {
		return StatusResult{}, fmt.Errorf("output root is required")
	}

	dirs, err := runstore.ListTileDirs(root)
	if err != nil {
		return StatusResult{}, err
	}

	res := StatusResult{OutputRoot: root, Tiles: make([]TileStatus, 0, len(dirs))}
	res.LockedBy, res.Locked = runstore.LockHolder(root)

	batchIndex := map[string]int{}
	for _, dir := range dirs {
		row := buildTileStatus(root, dir)
		res.Tiles = append(res.Tiles, row)
		res.Totals.Tiles++
		if row.Complete {
			res.Totals.Complete++
		} else {
			res.Totals.Incomplete++
		}
		if row.HasIntermediate {
			res.Totals.Intermediate++
		}
		if row.Batch == "" {
			continue
		}
		i, ok := batchIndex[row.Batch]
		if !ok {
			i = len(res.Batches)
			batchIndex[row.Batch] = i
			res.Batches = append(res.Batches, BatchStatus{Label: row.Batch})
		}
		res.Batches[i].Tiles++
		if row.Complete {
			res.Batches[i].Complete++
		} else {
			res.Batches[i].Incomplete++
		}
	}

	if s, err := runstore.LoadSummary(root); err == nil {
		res.LastSummary = &s
	} else if !errors.Is(err, os.ErrNotExist) {
		return StatusResult{}, fmt.Errorf("read last summary: %w", err)
	}
	res.State = summarizeState(res)
	return res, nil
}

func buildTileStatus(root, dir string) TileStatus {
	row := TileStatus{Dir: dir}
	if rel, err := filepath.Rel(root, filepath.Dir(dir)); err == nil && rel != "." {
		row.Batch = filepath.ToSlash(rel)
	}

	p := tile.PathsFor(dir)
	row.HasIntermediate = dirExists(p.Archive) || dirExists(p.Canonical)
	marker, err := tile.ReadMarker(p)
	if err != nil {
		row.TileID = strings.TrimPrefix(filepath.Base(dir), "tile_")
		return row
	}
	row.Complete = true
	row.TileID = marker.TileID
	row.DerivedFileName = marker.DerivedFileName
	row.DerivedFiles = marker.DerivedFiles
	row.CompletedAt = marker.CompletedAt
	row.RunID = marker.RunID
	return row
}

func summarizeState(res StatusResult) string {
	switch {
	case res.Locked:
		return "in_progress"
	case res.Totals.Tiles == 0 && res.LastSummary == nil:
		return "never_run"
	case res.LastSummary != nil && res.LastSummary.FailedCount > 0:
		return "needs_retry"
	case res.Totals.Incomplete > 0:
		return "incomplete"
	default:
		return "healthy"
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
