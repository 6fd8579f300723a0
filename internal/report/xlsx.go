package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"dsm-tiler/internal/model"
	"dsm-tiler/internal/runstore"
)

const (
	SummarySheet  = "Summary"
	FailuresSheet = "Failures"
	TilesSheet    = "Tiles"
)

func WriteXLSX(path string, s model.RunSummary, results []model.TileResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("xlsx summary sheet: %w", err)
	}
	summaryRows := [][]any{
		{"Run ID", s.RunID},
		{"Started", s.StartedAt},
		{"Finished", s.FinishedAt},
		{"Total", s.TotalTiles},
		{"Success", s.SuccessCount},
		{"Failed", s.FailedCount},
		{"Resumed", s.Resumed},
		{"Warnings", s.Warnings},
	}
	if err := writeRows(f, SummarySheet, nil, summaryRows); err != nil {
		return err
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 14)
	_ = f.SetColWidth(SummarySheet, "B", "B", 40)

	if _, err := f.NewSheet(FailuresSheet); err != nil {
		return fmt.Errorf("xlsx failures sheet: %w", err)
	}
	failureRows := make([][]any, 0, len(s.Failures))
	for _, fd := range s.Failures {
		failureRows = append(failureRows, []any{fd.TileID, fd.PartialFileName, string(fd.Stage), fd.Reason, truncate(fd.Detail, 250)})
	}
	if err := writeRows(f, FailuresSheet, []string{"Tile ID", "File", "Stage", "Reason", "Detail"}, failureRows); err != nil {
		return err
	}
	_ = f.SetColWidth(FailuresSheet, "A", "A", 12)
	_ = f.SetColWidth(FailuresSheet, "B", "B", 28)
	_ = f.SetColWidth(FailuresSheet, "C", "D", 20)
	_ = f.SetColWidth(FailuresSheet, "E", "E", 80)

	if len(results) > 0 {
		if _, err := f.NewSheet(TilesSheet); err != nil {
			return fmt.Errorf("xlsx tiles sheet: %w", err)
		}
		tileRows := make([][]any, 0, len(results))
		for _, r := range results {
			tileRows = append(tileRows, []any{
				r.TileID,
				r.Success,
				r.Resumed,
				r.DerivedFileName,
				strings.Join(r.DerivedFiles, ", "),
				len(r.Warnings),
				r.Elapsed.Seconds(),
			})
		}
		headers := []string{"Tile ID", "Success", "Resumed", "Derived", "Outputs", "Warnings", "Elapsed (s)"}
		if err := writeRows(f, TilesSheet, headers, tileRows); err != nil {
			return err
		}
		_ = f.SetColWidth(TilesSheet, "D", "E", 32)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return runstore.WriteBytes(path, buf.Bytes())
}

func writeRows(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	row := 1
	if len(headers) > 0 {
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			if err := f.SetCellValue(sheet, cell, h); err != nil {
				return fmt.Errorf("xlsx %s header: %w", sheet, err)
			}
		}
		row++
	}
	for _, values := range rows {
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("xlsx %s row %d: %w", sheet, row, err)
			}
		}
		row++
	}
	return nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
