// Package report renders detection results and writes them to disk.
package report

import (
	"fmt"
	"path/filepath"
	"sort"

	"racewatch/internal/shared/util"
	"racewatch/internal/ui/report/formats"
)

const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
	FormatSARIF    = "sarif"
)

// Formats lists the supported output formats.
var Formats = []string{FormatJSON, FormatMarkdown, FormatCSV, FormatSARIF}

// Render produces the bytes of one report format.
func Render(format string, data formats.ReportData) ([]byte, error) {
	switch format {
	case FormatJSON:
		return formats.GenerateJSON(data)
	case FormatMarkdown:
		md, err := formats.NewMarkdownGenerator().Generate(data, formats.MarkdownReportOptions{
			TableOfContents:     true,
			CollapsibleSections: true,
			Verbosity:           "detailed",
		})
		return []byte(md), err
	case FormatCSV:
		return formats.GenerateCSV(data)
	case FormatSARIF:
		return formats.GenerateSARIF(data)
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// WriteAll renders every target (format -> path) and writes it atomically.
// It returns the written paths in format order. The first failure stops the
// remaining writes.
func WriteAll(targets map[string]string, data formats.ReportData) ([]string, error) {
	keys := util.SortedKeys(targets)
	sort.SliceStable(keys, func(i, j int) bool { return formatRank(keys[i]) < formatRank(keys[j]) })

	written := make([]string, 0, len(keys))
	for _, format := range keys {
		path := filepath.Clean(targets[format])
		out, err := Render(format, data)
		if err != nil {
			return written, fmt.Errorf("generate %s output: %w", format, err)
		}
		if err := util.WriteFileAtomic(path, out, 0o644); err != nil {
			return written, fmt.Errorf("write %s output %q: %w", format, path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func formatRank(format string) int {
	for i, f := range Formats {
		if f == format {
			return i
		}
	}
	return len(Formats)
}
