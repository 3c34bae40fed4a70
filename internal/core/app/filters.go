package app

import (
	"racewatch/internal/engine/race"
	"racewatch/internal/shared/util"
)

// filterStates drops excluded state keys and accesses from excluded files
// before detection. It returns states unchanged when no exclusion is set.
func (a *App) filterStates(states *race.SharedStateMap) *race.SharedStateMap {
	if len(a.stateExcludes) == 0 && len(a.fileExcludes) == 0 {
		return states
	}
	out := race.NewSharedStateMap()
	for _, key := range states.Keys() {
		if a.excludedKey(key) {
			continue
		}
		accesses, _ := states.Get(key)
		kept := make([]race.AccessPoint, 0, len(accesses))
		for _, ap := range accesses {
			if !a.excludedFile(ap.File) {
				kept = append(kept, ap)
			}
		}
		if len(kept) > 0 {
			out.Add(key, kept...)
		}
	}
	return out
}

func (a *App) excludedKey(key string) bool {
	for _, g := range a.stateExcludes {
		if g.Match(key) {
			return true
		}
	}
	return false
}

func (a *App) excludedFile(path string) bool {
	if path == "" {
		return false
	}
	normalized := util.NormalizePatternPath(path)
	for _, g := range a.fileExcludes {
		if g.Match(normalized) {
			return true
		}
	}
	return false
}

// presentResult applies the reporting filters: mitigated races when
// hide_mitigated is set, and races under min_severity.
func (a *App) presentResult(res race.DetectionResult) race.DetectionResult {
	if a.Config.Detection.HideMitigated {
		res = race.FilterMitigated(res)
	}
	floor := a.minSeverity.Rank()
	if floor > race.SeverityLow.Rank() {
		res = race.FilterRaces(res, func(r race.Race) bool { return r.Severity.Rank() >= floor })
	}
	return res
}
