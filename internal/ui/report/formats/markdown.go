package formats

import (
	"fmt"
	"strings"
	"time"

	"racewatch/internal/data/history"
	"racewatch/internal/engine/race"
	"racewatch/internal/shared/version"
)

type MarkdownReportOptions struct {
	TableOfContents     bool
	CollapsibleSections bool
	// Verbosity is "summary", "standard" or "detailed". Detailed adds the
	// risk explanations and mitigation details under each race.
	Verbosity string
}

type MarkdownGenerator struct{}

func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

func (m *MarkdownGenerator) Generate(data ReportData, opts MarkdownReportOptions) (string, error) {
	verbosity := normalizeReportVerbosity(opts.Verbosity)
	res := data.Result
	open := data.unmitigated()
	closed := data.mitigated()

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: Race Condition Report\n")
	b.WriteString("project: " + nonEmpty(data.ProjectName, "unknown") + "\n")
	b.WriteString("generated_at: " + data.generatedAt().Format(time.RFC3339) + "\n")
	b.WriteString("version: " + nonEmpty(version.Version, "unknown") + "\n")
	b.WriteString("---\n\n")

	b.WriteString("# Race Condition Report\n\n")
	if opts.TableOfContents {
		b.WriteString("## Table of Contents\n")
		b.WriteString("- [Executive Summary](#executive-summary)\n")
		if data.Delta != nil {
			b.WriteString("- [Changes Since Previous Run](#changes-since-previous-run)\n")
		}
		b.WriteString("- [Unmitigated Races](#unmitigated-races)\n")
		b.WriteString("- [Mitigated Races](#mitigated-races)\n")
		if len(res.Classification.HighContention) > 0 {
			b.WriteString("- [High Contention State](#high-contention-state)\n")
		}
		if len(res.Warnings) > 0 {
			b.WriteString("- [Warnings](#warnings)\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Executive Summary\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	b.WriteString(fmt.Sprintf("| Total Races | %d |\n", res.Summary.TotalRaces))
	b.WriteString(fmt.Sprintf("| Unmitigated | %d |\n", len(open)))
	for _, sev := range race.AllSeverities {
		b.WriteString(fmt.Sprintf("| %s | %d |\n", severityBadge(sev), res.Summary.BySeverity[sev]))
	}
	b.WriteString(fmt.Sprintf("| Shared State Items | %d |\n", res.Summary.SharedStateItems))
	b.WriteString(fmt.Sprintf("| Warnings | %d |\n\n", res.Summary.TotalWarnings))

	if data.Delta != nil {
		m.writeDelta(&b, data.Delta)
	}
	m.writeUnmitigated(&b, open, data.ProjectRoot, opts.CollapsibleSections, verbosity)
	m.writeMitigated(&b, closed, data.ProjectRoot, opts.CollapsibleSections)
	m.writeContention(&b, res.Classification.HighContention, opts.CollapsibleSections)
	if len(res.Warnings) > 0 {
		b.WriteString("## Warnings\n")
		for _, w := range res.Warnings {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}

func (m *MarkdownGenerator) writeDelta(b *strings.Builder, d *history.Delta) {
	b.WriteString("## Changes Since Previous Run\n")
	if d.Previous == nil {
		b.WriteString("First recorded run for this project.\n\n")
		return
	}
	b.WriteString(fmt.Sprintf("Compared with run `%s` from %s.\n\n",
		d.Previous.ID, d.Previous.Timestamp.UTC().Format(time.RFC3339)))
	b.WriteString("| New | Resolved | Persisting |\n")
	b.WriteString("| --- | --- | --- |\n")
	b.WriteString(fmt.Sprintf("| %d | %d | %d |\n\n", len(d.New), len(d.Resolved), d.Persisting))
	for _, r := range d.New {
		b.WriteString(fmt.Sprintf("- 🆕 %s %s on `%s` (`%s` / `%s`)\n",
			severityBadge(r.Severity), r.Type.Label(), r.StateKey, r.AtomA, r.AtomB))
	}
	for _, r := range d.Resolved {
		b.WriteString(fmt.Sprintf("- ✅ resolved %s on `%s` (`%s` / `%s`)\n",
			r.Type.Label(), r.StateKey, r.AtomA, r.AtomB))
	}
	if len(d.New)+len(d.Resolved) > 0 {
		b.WriteString("\n")
	}
}

func (m *MarkdownGenerator) writeUnmitigated(b *strings.Builder, races []race.Race, projectRoot string, collapsible bool, verbosity string) {
	b.WriteString("## Unmitigated Races\n")
	if len(races) == 0 {
		b.WriteString("No unmitigated races detected.\n\n")
		return
	}
	rows := make([]string, 0, len(races))
	for i, r := range races {
		if verbosity == "summary" {
			rows = append(rows, fmt.Sprintf("| %d | %s | %s | `%s` |\n",
				i+1, severityBadge(r.Severity), r.Type.Label(), r.StateKey))
			continue
		}
		rows = append(rows, fmt.Sprintf("| %d | %s | %s | `%s` | `%s` %s `%s` | `%s` %s `%s` | %.2f | %s %s |\n",
			i+1,
			severityBadge(r.Severity),
			r.Type.Label(),
			r.StateKey,
			atomLabel(r.Accesses[0]), r.Accesses[0].Type, site(projectRoot, r.Accesses[0]),
			atomLabel(r.Accesses[1]), r.Accesses[1].Type, site(projectRoot, r.Accesses[1]),
			r.Risk.RawScore,
			r.Risk.Testing.Priority,
			strings.Join(r.Risk.Testing.Tests, ", "),
		))
	}
	header := []string{
		"| # | Severity | Type | State | First Access | Second Access | Score | Testing |\n",
		"| --- | --- | --- | --- | --- | --- | --- | --- |\n",
	}
	if verbosity == "summary" {
		header = []string{"| # | Severity | Type | State |\n", "| --- | --- | --- | --- |\n"}
	}
	m.writeTableWithCollapse(b, "Race details", collapsible, len(rows) > 10, header, rows)

	if verbosity != "detailed" {
		return
	}
	for i, r := range races {
		if len(r.Risk.Explanations) == 0 && len(r.Mitigation.Details) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("### %d. %s\n", i+1, escapeCell(nonEmpty(r.Description, r.StateKey))))
		for _, e := range r.Risk.Explanations {
			b.WriteString("- " + e + "\n")
		}
		for _, d := range r.Mitigation.Details {
			b.WriteString("- mitigation: " + d + "\n")
		}
		b.WriteString("\n")
	}
}

func (m *MarkdownGenerator) writeMitigated(b *strings.Builder, races []race.Race, projectRoot string, collapsible bool) {
	b.WriteString("## Mitigated Races\n")
	if len(races) == 0 {
		b.WriteString("No mitigated races.\n\n")
		return
	}
	rows := make([]string, 0, len(races))
	for _, r := range races {
		rows = append(rows, fmt.Sprintf("| %s | `%s` | `%s` / `%s` | `%s` | %s |\n",
			r.Type.Label(),
			r.StateKey,
			site(projectRoot, r.Accesses[0]),
			site(projectRoot, r.Accesses[1]),
			r.Mitigation.MitigationType,
			r.Mitigation.Confidence,
		))
	}
	m.writeTableWithCollapse(
		b,
		"Mitigated race details",
		collapsible,
		len(rows) > 10,
		[]string{"| Type | State | Sites | Mitigation | Confidence |\n", "| --- | --- | --- | --- | --- |\n"},
		rows,
	)
}

func (m *MarkdownGenerator) writeContention(b *strings.Builder, rows []race.ContentionReport, collapsible bool) {
	if len(rows) == 0 {
		return
	}
	b.WriteString("## High Contention State\n")
	rendered := make([]string, 0, len(rows))
	for _, c := range rows {
		rendered = append(rendered, fmt.Sprintf("| `%s` | %s | %d | %d | %d | %.2f |\n",
			c.StateKey, c.Scope, c.TotalAccesses, c.WriteCount, c.AsyncCount, c.ContentionScore))
	}
	m.writeTableWithCollapse(
		b,
		"Contention details",
		collapsible,
		len(rendered) > 15,
		[]string{"| State | Scope | Accesses | Writes | Async | Contention |\n", "| --- | --- | --- | --- | --- | --- |\n"},
		rendered,
	)
}

func (m *MarkdownGenerator) writeTableWithCollapse(
	b *strings.Builder,
	summary string,
	collapsible bool,
	collapse bool,
	header []string,
	rows []string,
) {
	if collapsible && collapse {
		b.WriteString("<details>\n")
		b.WriteString("<summary>")
		b.WriteString(summary)
		b.WriteString("</summary>\n\n")
	}
	for _, line := range header {
		b.WriteString(line)
	}
	for _, line := range rows {
		b.WriteString(line)
	}
	b.WriteString("\n")
	if collapsible && collapse {
		b.WriteString("</details>\n\n")
	}
}

func normalizeReportVerbosity(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "summary":
		return "summary"
	case "detailed":
		return "detailed"
	default:
		return "standard"
	}
}
