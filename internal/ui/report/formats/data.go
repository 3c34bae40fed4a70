package formats

import (
	"time"

	"racewatch/internal/data/history"
	"racewatch/internal/engine/race"
)

// ReportData is everything a renderer needs for one run.
type ReportData struct {
	ProjectName string
	// ProjectRoot relativizes file paths in rendered output.
	ProjectRoot string
	Snapshot    string
	GeneratedAt time.Time
	Result      race.DetectionResult
	// Delta is nil when history is disabled.
	Delta *history.Delta
}

func (d ReportData) generatedAt() time.Time {
	if d.GeneratedAt.IsZero() {
		return time.Now().UTC()
	}
	return d.GeneratedAt.UTC()
}

func (d ReportData) unmitigated() []race.Race {
	out := make([]race.Race, 0, len(d.Result.Races))
	for _, r := range d.Result.Races {
		if !r.HasMitigation {
			out = append(out, r)
		}
	}
	return out
}

func (d ReportData) mitigated() []race.Race {
	out := make([]race.Race, 0)
	for _, r := range d.Result.Races {
		if r.HasMitigation {
			out = append(out, r)
		}
	}
	return out
}
