package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"racewatch/internal/engine/race"
	"racewatch/internal/ui/report/formats"
)

func testData() formats.ReportData {
	return formats.ReportData{
		ProjectName: "shop",
		Result: race.DetectionResult{
			Races: []race.Race{{
				Type: race.RaceWriteWrite, StateKey: "global:n", Severity: race.SeverityHigh,
				Accesses: [2]race.AccessPoint{{Atom: "a", Line: 1}, {Atom: "b", Line: 2}},
			}},
			Summary: race.Summary{TotalRaces: 1},
		},
	}
}

func TestRender_AllFormats(t *testing.T) {
	for _, format := range Formats {
		out, err := Render(format, testData())
		if err != nil {
			t.Fatalf("render %s: %v", format, err)
		}
		if len(out) == 0 {
			t.Fatalf("render %s produced no output", format)
		}
	}
	if _, err := Render("dot", testData()); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	targets := map[string]string{
		FormatSARIF:    filepath.Join(dir, "out", "races.sarif"),
		FormatJSON:     filepath.Join(dir, "races.json"),
		FormatMarkdown: filepath.Join(dir, "docs", "races.md"),
	}

	written, err := WriteAll(targets, testData())
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	want := []string{targets[FormatJSON], targets[FormatMarkdown], targets[FormatSARIF]}
	if strings.Join(written, ",") != strings.Join(want, ",") {
		t.Fatalf("written = %v, want %v", written, want)
	}
	md, err := os.ReadFile(targets[FormatMarkdown])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(md), "`global:n`") {
		t.Fatalf("markdown report missing race:\n%s", md)
	}
}

func TestWriteAll_StopsOnUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	written, err := WriteAll(map[string]string{
		FormatJSON: filepath.Join(dir, "a.json"),
		"bogus":    filepath.Join(dir, "b.txt"),
	}, testData())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(written) != 1 {
		t.Fatalf("expected the json report to be written first, got %v", written)
	}
}
