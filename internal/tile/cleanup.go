package tile

import (
	"fmt"
	"log/slog"
	"os"

	"dsm-tiler/internal/model"
)

type CleanupReport struct {
	Cleaned int      `json:"cleaned"`
	Skipped int      `json:"skipped"`
	Removed []string `json:"removed,omitempty"`
}

// Cleanup removes ARCHIVE and CANONICAL for every task that carries a completion
// marker. Tiles without a marker are left untouched.
func Cleanup(tasks []model.TileTask, logger *slog.Logger) (CleanupReport, error) {
	dirs := make([]string, 0, len(tasks))
	for _, t := range tasks {
		dirs = append(dirs, t.WorkingDir)
	}
	return CleanupDirs(dirs, logger)
}

func CleanupDirs(dirs []string, logger *slog.Logger) (CleanupReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var report CleanupReport
	for _, dir := range dirs {
		p := PathsFor(dir)
		if !HasMarker(p) {
			report.Skipped++
			continue
		}
		for _, target := range []string{p.Archive, p.Canonical} {
			if _, err := os.Stat(target); os.IsNotExist(err) {
				continue
			}
			if err := os.RemoveAll(target); err != nil {
				return report, fmt.Errorf("cleanup %s: %w", target, err)
			}
			report.Removed = append(report.Removed, target)
		}
		report.Cleaned++
	}
	logger.Info("cleanup.done", "cleaned", report.Cleaned, "skipped", report.Skipped, "removed_dirs", len(report.Removed))
	return report, nil
}
