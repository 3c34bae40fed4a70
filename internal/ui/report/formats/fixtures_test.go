package formats

import (
	"time"

	"racewatch/internal/data/history"
	"racewatch/internal/engine/race"
)

func sampleData() ReportData {
	lock := "common-lock"
	return ReportData{
		ProjectName: "shop",
		ProjectRoot: "/project",
		Snapshot:    "shop.json",
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Result: race.DetectionResult{
			Races: []race.Race{
				{
					ID: "r1", Type: race.RaceWriteWrite, StateKey: "global:cartTotal", StateType: race.ScopeGlobal,
					Severity: race.SeverityCritical, Description: "Concurrent writes to global:cartTotal",
					Accesses: [2]race.AccessPoint{
						{Atom: "cart.js::add", AtomName: "add", File: "/project/src/cart.js", Line: 12, Type: race.AccessWrite},
						{Atom: "cart.js::clear", AtomName: "clear", File: "/project/src/cart.js", Line: 30, Type: race.AccessWrite},
					},
					Risk: race.Assessment{
						RawScore:     0.89,
						Explanations: []string{"both accesses run in asynchronous code"},
						Testing:      race.TestingAdvice{Level: "mandatory", Tests: []string{"unit", "stress"}, Priority: "P0"},
					},
				},
				{
					ID: "r2", Type: race.RaceReadWrite, StateKey: "module:cache", StateType: race.ScopeModule,
					Severity: race.SeverityLow, HasMitigation: true, MitigationType: &lock,
					Accesses: [2]race.AccessPoint{
						{Atom: "cache.js::get", AtomName: "get", File: "src/cache.js", Line: 4, Type: race.AccessRead},
						{Atom: "cache.js::set", AtomName: "set", Line: 9, Type: race.AccessWrite},
					},
					Mitigation: race.Mitigation{IsMitigated: true, MitigationType: lock, Confidence: race.ConfidenceHigh},
					Risk:       race.Assessment{RawScore: 0.31, Testing: race.TestingAdvice{Priority: "P3"}},
				},
			},
			Warnings: []string{`state key "thread:x" has no recognized scope prefix; skipped`},
			Summary: race.Summary{
				TotalRaces: 2, TotalWarnings: 1, SharedStateItems: 2, Mitigated: 1,
				BySeverity: map[race.Severity]int{race.SeverityCritical: 1, race.SeverityLow: 1},
			},
			Classification: race.ClassificationReport{
				HighContention: []race.ContentionReport{
					{StateKey: "global:cartTotal", Scope: race.ScopeGlobal, TotalAccesses: 2, WriteCount: 2, AsyncCount: 2, ContentionScore: 1},
				},
			},
		},
	}
}

func sampleDelta() *history.Delta {
	return &history.Delta{
		Previous:   &history.Run{ID: "run-1", Timestamp: time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)},
		New:        []history.RaceRecord{{Fingerprint: "aaaa", Type: race.RaceWriteWrite, StateKey: "global:cartTotal", Severity: race.SeverityCritical, AtomA: "add", AtomB: "clear"}},
		Resolved:   []history.RaceRecord{{Fingerprint: "bbbb", Type: race.RaceInitialization, StateKey: "singleton:db", AtomA: "init", AtomB: "boot"}},
		Persisting: 1,
	}
}
