package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"dsm-tiler/internal/model"
	"dsm-tiler/internal/runstore"
)

const (
	JSONFile = "summary.json"
	TextFile = "summary.txt"
	XLSXFile = "summary.xlsx"
)

type Options struct {
	XLSX bool
}

// Write persists the run summary under root and returns the files written.
// results feeds the per-tile sheet of the workbook and may be nil.
func Write(root string, summary model.RunSummary, results []model.TileResult, opts Options) ([]string, error) {
	if summary.Failures == nil {
		summary.Failures = []model.FailureDetail{}
	}
	jsonPath := filepath.Join(root, JSONFile)
	if err := runstore.WriteJSON(jsonPath, summary); err != nil {
		return nil, err
	}
	textPath := filepath.Join(root, TextFile)
	if err := runstore.WriteBytes(textPath, []byte(Text(summary))); err != nil {
		return []string{jsonPath}, err
	}
	written := []string{jsonPath, textPath}
	if opts.XLSX {
		xlsxPath := filepath.Join(root, XLSXFile)
		if err := WriteXLSX(xlsxPath, summary, results); err != nil {
			return written, err
		}
		written = append(written, xlsxPath)
	}
	return written, nil
}

// Text renders the summary as key: value lines followed by one line per failure.
func Text(s model.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run_id: %s\n", s.RunID)
	fmt.Fprintf(&b, "started_at: %s\n", s.StartedAt)
	fmt.Fprintf(&b, "finished_at: %s\n", s.FinishedAt)
	fmt.Fprintf(&b, "total: %d\n", s.TotalTiles)
	fmt.Fprintf(&b, "success: %d\n", s.SuccessCount)
	fmt.Fprintf(&b, "failed: %d\n", s.FailedCount)
	fmt.Fprintf(&b, "resumed: %d\n", s.Resumed)
	fmt.Fprintf(&b, "warnings: %d\n", s.Warnings)
	if len(s.Failures) > 0 {
		b.WriteString("failures:\n")
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "- tile_id=%s file=%s stage=%s reason=%s\n", f.TileID, orDash(f.PartialFileName), orDash(string(f.Stage)), f.Reason)
		}
	}
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
