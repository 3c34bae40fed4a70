package cli

import (
	"fmt"
	"strings"
	"time"

	"racewatch/internal/core/ports"
	"racewatch/internal/engine/race"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	raceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)

	severityStyles = map[race.Severity]lipgloss.Style{
		race.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true),
		race.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("#F97316")).Bold(true),
		race.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")),
		race.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("#94A3B8")),
	}
)

func severityLabel(sev race.Severity) string {
	label := fmt.Sprintf("%-8s", strings.ToUpper(string(sev)))
	if style, ok := severityStyles[sev]; ok {
		return style.Render(label)
	}
	return label
}

func accessSite(ap race.AccessPoint) string {
	switch {
	case ap.File != "" && ap.Line > 0:
		return fmt.Sprintf("%s:%d", ap.File, ap.Line)
	case ap.File != "":
		return ap.File
	default:
		return ap.Atom
	}
}

// renderSummary formats one run for the terminal. limit caps the listed
// races; zero or less lists all of them.
func renderSummary(res ports.AnalyzeResult, limit int) string {
	var b strings.Builder
	sum := res.Result.Summary

	title := "racewatch · " + res.ProjectKey
	if res.Snapshot != "" {
		title += " (" + res.Snapshot + ")"
	}
	b.WriteString(titleStyle(title))
	b.WriteString("\n")

	unmitigated := sum.TotalRaces - sum.Mitigated
	switch {
	case sum.TotalRaces == 0:
		b.WriteString(successStyle.Render("No races detected"))
	case unmitigated == 0:
		b.WriteString(successStyle.Render(fmt.Sprintf("%d races, all mitigated", sum.TotalRaces)))
	default:
		b.WriteString(raceStyle.Render(fmt.Sprintf("%d races (%d unmitigated, %d mitigated)", sum.TotalRaces, unmitigated, sum.Mitigated)))
	}
	b.WriteString("\n")

	if sum.TotalRaces > 0 {
		parts := make([]string, 0, len(race.AllSeverities))
		for _, sev := range race.AllSeverities {
			parts = append(parts, fmt.Sprintf("%s %d", strings.TrimSpace(severityLabel(sev)), sum.BySeverity[sev]))
		}
		b.WriteString("  " + strings.Join(parts, "  ") + "\n")
	}

	b.WriteString(fmt.Sprintf("Shared state: %d  Warnings: %d\n", sum.SharedStateItems, sum.TotalWarnings))

	if d := res.Delta; d != nil {
		if d.Previous == nil {
			b.WriteString("History: first recorded run\n")
		} else {
			b.WriteString(fmt.Sprintf("Since previous run: %d new, %d resolved, %d persisting\n",
				len(d.New), len(d.Resolved), d.Persisting))
		}
	}

	races := res.Result.Races
	shown := races
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	if len(shown) > 0 {
		b.WriteString("\n")
	}
	for _, r := range shown {
		line := fmt.Sprintf("  %s %-3s %s  %s <-> %s", severityLabel(r.Severity), r.Type, r.StateKey,
			accessSite(r.Accesses[0]), accessSite(r.Accesses[1]))
		if r.HasMitigation && r.MitigationType != nil {
			line += statusStyle.Render(" [mitigated: " + *r.MitigationType + "]")
		}
		b.WriteString(line + "\n")
	}
	if rest := len(races) - len(shown); rest > 0 {
		b.WriteString(statusStyle.Render(fmt.Sprintf("  ... and %d more", rest)) + "\n")
	}

	if len(res.Result.Warnings) > 0 {
		b.WriteString("\n")
		for _, w := range res.Result.Warnings {
			b.WriteString(warningStyle.Render("warning: "+w) + "\n")
		}
	}

	if len(res.Written) > 0 {
		b.WriteString("\nReports:\n")
		for _, path := range res.Written {
			b.WriteString("  " + path + "\n")
		}
	}

	status := fmt.Sprintf("finished in %s", res.Duration.Round(time.Millisecond))
	if res.Cached {
		status += " (cached)"
	}
	b.WriteString(statusStyle.Render(status) + "\n")
	return b.String()
}

// gateFailures counts unmitigated races at or above floor.
func gateFailures(res race.DetectionResult, floor race.Severity) int {
	n := 0
	for _, r := range res.Races {
		if !r.HasMitigation && r.Severity.Rank() >= floor.Rank() {
			n++
		}
	}
	return n
}
