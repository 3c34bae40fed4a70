package formats

import (
	"encoding/json"
	"time"

	"racewatch/internal/engine/race"
	"racewatch/internal/shared/version"
)

type jsonReport struct {
	Tool           string                    `json:"tool"`
	Version        string                    `json:"version"`
	Project        string                    `json:"project,omitempty"`
	Snapshot       string                    `json:"snapshot,omitempty"`
	GeneratedAt    time.Time                 `json:"generatedAt"`
	Summary        race.Summary              `json:"summary"`
	Races          []jsonRace                `json:"races"`
	Warnings       []string                  `json:"warnings"`
	Classification race.ClassificationReport `json:"classification"`
	Delta          *jsonDelta                `json:"delta,omitempty"`
}

type jsonRace struct {
	race.Race
	Fingerprint string `json:"fingerprint"`
}

type jsonDelta struct {
	PreviousRunID string   `json:"previousRunId,omitempty"`
	New           []string `json:"new"`
	Resolved      []string `json:"resolved"`
	Persisting    int      `json:"persisting"`
}

// GenerateJSON renders the detection result with report metadata. Races carry
// their cross-run fingerprint; the delta lists fingerprints only.
func GenerateJSON(data ReportData) ([]byte, error) {
	res := data.Result
	out := jsonReport{
		Tool:           "racewatch",
		Version:        version.Version,
		Project:        data.ProjectName,
		Snapshot:       data.Snapshot,
		GeneratedAt:    data.generatedAt(),
		Summary:        res.Summary,
		Races:          make([]jsonRace, 0, len(res.Races)),
		Warnings:       res.Warnings,
		Classification: res.Classification,
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	for _, r := range res.Races {
		out.Races = append(out.Races, jsonRace{Race: r, Fingerprint: r.Fingerprint()})
	}
	if d := data.Delta; d != nil {
		jd := &jsonDelta{New: []string{}, Resolved: []string{}, Persisting: d.Persisting}
		if d.Previous != nil {
			jd.PreviousRunID = d.Previous.ID
		}
		for _, r := range d.New {
			jd.New = append(jd.New, r.Fingerprint)
		}
		for _, r := range d.Resolved {
			jd.Resolved = append(jd.Resolved, r.Fingerprint)
		}
		out.Delta = jd
	}
	return json.MarshalIndent(out, "", "  ")
}
