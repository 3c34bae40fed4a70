package race

import (
	"fmt"
	"strconv"
)

type detectFunc func(r *run, states *SharedStateMap) []Race

// Strategy is one race pattern detector. The set of strategies is closed;
// DefaultStrategies returns them in the order the pipeline runs them.
type Strategy struct {
	Name   string
	kind   RaceType
	detect detectFunc
}

// RaceType is the primary race type the strategy emits. The read-write
// strategy also emits WR.
func (s Strategy) RaceType() RaceType { return s.kind }

const (
	StrategyWriteWrite     = "write-write"
	StrategyReadWrite      = "read-write"
	StrategyInitialization = "initialization"
)

func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyWriteWrite, kind: RaceWriteWrite, detect: detectWriteWrite},
		{Name: StrategyReadWrite, kind: RaceReadWrite, detect: detectReadWrite},
		{Name: StrategyInitialization, kind: RaceInitialization, detect: detectInitialization},
	}
}

// StrategiesByName selects strategies in pipeline order. Unknown names are
// returned separately.
func StrategiesByName(names []string) ([]Strategy, []string) {
	if len(names) == 0 {
		return DefaultStrategies(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Strategy
	for _, s := range DefaultStrategies() {
		if want[s.Name] {
			out = append(out, s)
			delete(want, s.Name)
		}
	}
	var unknown []string
	for _, n := range names {
		if want[n] {
			unknown = append(unknown, n)
			delete(want, n)
		}
	}
	return out, unknown
}

// pairMatcher classifies an ordered pair (first precedes second in the access
// list) and returns the race it forms, if any.
type pairMatcher func(key string, scope ScopeType, first, second AccessPoint) (RaceType, Severity, string, bool)

func detectWriteWrite(r *run, states *SharedStateMap) []Race {
	return r.scanPairs(states, func(key string, _ ScopeType, x, y AccessPoint) (RaceType, Severity, string, bool) {
		if !x.Type.IsWrite() || !y.Type.IsWrite() {
			return "", "", "", false
		}
		if x.Type == AccessInitialization && y.Type == AccessInitialization {
			return "", "", "", false
		}
		desc := fmt.Sprintf("Concurrent writes to %s from %s (%s) and %s (%s)",
			key, x.AtomName, location(x), y.AtomName, location(y))
		return RaceWriteWrite, SeverityLow, desc, true
	})
}

func detectReadWrite(r *run, states *SharedStateMap) []Race {
	return r.scanPairs(states, func(key string, _ ScopeType, x, y AccessPoint) (RaceType, Severity, string, bool) {
		switch {
		case x.Type.IsRead() && y.Type.IsWrite():
			desc := fmt.Sprintf("%s reads %s (%s) while %s may write it (%s)",
				x.AtomName, key, location(x), y.AtomName, location(y))
			return RaceReadWrite, SeverityLow, desc, true
		case x.Type.IsWrite() && y.Type.IsRead():
			desc := fmt.Sprintf("%s writes %s (%s) while %s may read it (%s)",
				x.AtomName, key, location(x), y.AtomName, location(y))
			return RaceWriteRead, SeverityLow, desc, true
		}
		return "", "", "", false
	})
}

func detectInitialization(r *run, states *SharedStateMap) []Race {
	return r.scanPairs(states, func(key string, scope ScopeType, x, y AccessPoint) (RaceType, Severity, string, bool) {
		if x.Type != AccessInitialization || y.Type != AccessInitialization {
			return "", "", "", false
		}
		// A singleton built twice is always critical, whatever the weights.
		floor := SeverityLow
		if scope == ScopeSingleton {
			floor = SeverityCritical
		}
		desc := fmt.Sprintf("double initialization race: %s and %s both initialize %s",
			x.AtomName, y.AtomName, key)
		return RaceInitialization, floor, desc, true
	})
}

type pairKey struct {
	stateKey string
	lo, hi   string
}

// scanPairs visits every unordered pair (i<j) of every key and emits a race
// for pairs the matcher accepts and the reachability analysis cannot rule
// out. Pairs are deduplicated per call.
func (r *run) scanPairs(states *SharedStateMap, match pairMatcher) []Race {
	var out []Race
	seen := make(map[pairKey]bool)
	for _, key := range states.Keys() {
		accesses, _ := states.Get(key)
		if len(accesses) < 2 {
			continue
		}
		scope := Classify(key)
		for i := 0; i < len(accesses)-1; i++ {
			for j := i + 1; j < len(accesses); j++ {
				x, y := accesses[i], accesses[j]
				sx, sy := accessSignature(x), accessSignature(y)
				if sx == sy {
					continue
				}
				typ, floor, desc, ok := match(key, scope, x, y)
				if !ok {
					continue
				}
				pk := pairKey{stateKey: key, lo: sx, hi: sy}
				if pk.lo > pk.hi {
					pk.lo, pk.hi = pk.hi, pk.lo
				}
				if seen[pk] {
					continue
				}
				seen[pk] = true

				if !r.known(x) || !r.known(y) {
					continue
				}
				if !r.reach.CanRunConcurrently(x, y) {
					continue
				}
				x.IsAsync, y.IsAsync = r.reach.isAsync(x), r.reach.isAsync(y)
				out = append(out, Race{
					ID:          r.newID(),
					Type:        typ,
					StateKey:    key,
					StateType:   scope,
					Accesses:    [2]AccessPoint{x, y},
					Description: desc,
					floor:       floor,
				})
			}
		}
	}
	return out
}

func accessSignature(a AccessPoint) string {
	return a.Atom + "\x00" + a.File + "\x00" + strconv.Itoa(a.Line) + "\x00" + string(a.Type)
}

func location(a AccessPoint) string {
	if a.Line > 0 {
		return fmt.Sprintf("%s:%d", a.File, a.Line)
	}
	return a.File
}
