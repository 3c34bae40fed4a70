package history

import (
	"time"

	"racewatch/internal/engine/race"
)

// SchemaVersion is the newest migration this build knows.
const SchemaVersion = 1

// Run is one stored detection run.
type Run struct {
	ID               string
	ProjectKey       string
	SnapshotDigest   string
	Timestamp        time.Time
	TotalRaces       int
	Unmitigated      int
	Critical         int
	High             int
	Medium           int
	Low              int
	Warnings         int
	SharedStateItems int
}

// RaceRecord is the persisted form of a race, keyed by fingerprint so runs
// can be compared.
type RaceRecord struct {
	Fingerprint    string
	Type           race.RaceType
	StateKey       string
	Severity       race.Severity
	RawScore       float64
	Mitigated      bool
	MitigationType string
	AtomA          string
	FileA          string
	LineA          int
	AtomB          string
	FileB          string
	LineB          int
	Description    string
}

// Delta compares a run with the run before it for the same project.
type Delta struct {
	Previous   *Run
	New        []RaceRecord
	Resolved   []RaceRecord
	Persisting int
}

// FromResult flattens a detection result into a run and its race rows. The
// caller assigns ID and Timestamp when they are empty.
func FromResult(projectKey, digest string, res race.DetectionResult) (Run, []RaceRecord) {
	run := Run{
		ProjectKey:       projectKey,
		SnapshotDigest:   digest,
		TotalRaces:       res.Summary.TotalRaces,
		Critical:         res.Summary.BySeverity[race.SeverityCritical],
		High:             res.Summary.BySeverity[race.SeverityHigh],
		Medium:           res.Summary.BySeverity[race.SeverityMedium],
		Low:              res.Summary.BySeverity[race.SeverityLow],
		Warnings:         res.Summary.TotalWarnings,
		SharedStateItems: res.Summary.SharedStateItems,
	}
	records := make([]RaceRecord, 0, len(res.Races))
	for _, r := range res.Races {
		if !r.HasMitigation {
			run.Unmitigated++
		}
		records = append(records, RaceRecord{
			Fingerprint:    r.Fingerprint(),
			Type:           r.Type,
			StateKey:       r.StateKey,
			Severity:       r.Severity,
			RawScore:       r.Risk.RawScore,
			Mitigated:      r.HasMitigation,
			MitigationType: r.Mitigation.MitigationType,
			AtomA:          r.Accesses[0].Atom,
			FileA:          r.Accesses[0].File,
			LineA:          r.Accesses[0].Line,
			AtomB:          r.Accesses[1].Atom,
			FileB:          r.Accesses[1].File,
			LineB:          r.Accesses[1].Line,
			Description:    r.Description,
		})
	}
	return run, records
}
