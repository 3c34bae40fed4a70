package formats

import (
	"fmt"
	"path/filepath"
	"strings"

	"racewatch/internal/engine/race"
)

func relPath(root, path string) string {
	root = strings.TrimSpace(root)
	path = strings.TrimSpace(path)
	if root == "" || path == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// site renders an access as file:line, falling back to the atom id when the
// snapshot carries no file.
func site(root string, a race.AccessPoint) string {
	loc := relPath(root, a.File)
	if loc == "" {
		loc = a.Atom
	}
	if a.Line > 0 {
		return fmt.Sprintf("%s:%d", loc, a.Line)
	}
	return loc
}

func atomLabel(a race.AccessPoint) string {
	return nonEmpty(a.AtomName, a.Atom)
}

// severityLevel maps race severities to SARIF levels.
func severityLevel(sev race.Severity) string {
	switch sev {
	case race.SeverityCritical, race.SeverityHigh:
		return "error"
	case race.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

func severityBadge(sev race.Severity) string {
	switch sev {
	case race.SeverityCritical:
		return "🔴 Critical"
	case race.SeverityHigh:
		return "🟠 High"
	case race.SeverityMedium:
		return "🟡 Medium"
	default:
		return "⚪ Low"
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}
