package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dsm-tiler/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// maxRenderedFailures keeps the terminal panel short; summary.txt has the full list.
const maxRenderedFailures = 20

// Render returns a boxed terminal summary of a run.
func Render(s model.RunSummary) string {
	status := okStyle.Render("all tiles completed")
	if s.FailedCount > 0 {
		status = errorStyle.Render(fmt.Sprintf("%d tile(s) failed", s.FailedCount))
	}

	lines := []string{
		titleStyle.Render("dsm-tiler run summary"),
		mutedStyle.Render("run " + s.RunID),
		"",
		fmt.Sprintf("total     %d", s.TotalTiles),
		fmt.Sprintf("success   %d", s.SuccessCount),
		fmt.Sprintf("failed    %d", s.FailedCount),
		fmt.Sprintf("resumed   %d", s.Resumed),
		fmt.Sprintf("warnings  %d", s.Warnings),
		"",
		status,
	}
	for i, f := range s.Failures {
		if i == maxRenderedFailures {
			lines = append(lines, mutedStyle.Render(fmt.Sprintf("… %d more in %s", len(s.Failures)-i, TextFile)))
			break
		}
		lines = append(lines, fmt.Sprintf("  %s  %s  %s", errorStyle.Render(f.TileID), orDash(f.PartialFileName), mutedStyle.Render(f.Reason)))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// RenderPlain is Render without styling, for non-terminal output.
func RenderPlain(s model.RunSummary) string {
	return strings.TrimRight(Text(s), "\n")
}
