package bench

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	benchTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	benchHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("45")).
				Bold(true)

	benchRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231"))

	benchDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	benchFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// Render formats the summary as a styled table for the terminal.
func (s *Summary) Render() string {
	var b strings.Builder

	title := fmt.Sprintf("loom bench · %s · %d requests × %d concurrent",
		s.Model, s.Requests, s.Concurrency)
	b.WriteString(benchTitleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(benchHeaderStyle.Render(fmt.Sprintf("  %-14s %12s %12s %12s", "metric", "min", "mean", "p95")))
	b.WriteString("\n")
	b.WriteString(benchRowStyle.Render(fmt.Sprintf("  %-14s %12s %12s %12s", "ttft",
		formatMs(s.TTFTMs.Min), formatMs(s.TTFTMs.Mean), formatMs(s.TTFTMs.P95))))
	b.WriteString("\n")
	b.WriteString(benchRowStyle.Render(fmt.Sprintf("  %-14s %12s %12s %12s", "throughput",
		formatRate(s.TokensPerSec.Min), formatRate(s.TokensPerSec.Mean), formatRate(s.TokensPerSec.P95))))
	b.WriteString("\n\n")

	totals := fmt.Sprintf("  %d tokens in %.1fs (%.1f tok/s aggregate)",
		s.TotalTokens, s.Elapsed.Seconds(), s.OverallRate())
	b.WriteString(benchDimStyle.Render(totals))
	if s.Failures > 0 {
		b.WriteString("  ")
		b.WriteString(benchFailStyle.Render(fmt.Sprintf("%d failed", s.Failures)))
	}
	b.WriteString("\n")

	return b.String()
}

func formatMs(ms float64) string {
	return fmt.Sprintf("%.1f ms", ms)
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%.1f tok/s", rate)
}
