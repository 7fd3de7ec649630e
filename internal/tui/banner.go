package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"imgvec/internal/domain"
)

var (
	okStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("10")).Padding(0, 1)
	failStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("9")).Padding(0, 1)
)

// Success renders the end-of-run banner for a written summary.
func Success(s *domain.ConversionSummary) string {
	lines := []string{
		titleStyle.Render("Conversion complete"),
		row("Processed", fmt.Sprintf("%s of %s images", humanize.Comma(int64(s.TotalImagesProcessed)), humanize.Comma(int64(s.TotalImagesFound)))),
		row("Batches", fmt.Sprintf("%d sent, %d failed", s.BatchesSent, s.BatchesFailed)),
		row("Index", s.IndexName),
		row("Output", s.OutputDirectory),
		row("Elapsed", s.Elapsed),
	}
	style := okStyle
	if s.BatchesFailed > 0 || s.TotalImagesProcessed < s.TotalImagesFound {
		lines[0] = warnStyle.Render("Conversion finished with errors")
		style = failStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

// Failure renders the banner for a run that stopped early.
func Failure(err error) string {
	return failStyle.Render(titleStyle.Render("Conversion failed") + "\n" + err.Error())
}

// NoImages renders the failure banner for an images directory with nothing
// to convert. The run still exits 0.
func NoImages(dir string) string {
	return failStyle.Render(titleStyle.Render("Conversion failed") + "\n" + "No supported images found in " + dir)
}

// Notice renders a non-error early stop, such as a declined confirmation.
func Notice(msg string) string {
	return boxStyle.Render(warnStyle.Render(msg))
}
