package race

import (
	"math"
	"sort"
	"strings"
)

const highContentionThreshold = 0.6

// ContentionReport describes how hot a shared key is.
type ContentionReport struct {
	StateKey            string    `json:"stateKey"`
	Scope               ScopeType `json:"scope"`
	TotalAccesses       int       `json:"totalAccesses"`
	WriteCount          int       `json:"writeCount"`
	AsyncCount          int       `json:"asyncCount"`
	ContentionScore     float64   `json:"contentionScore"`
	HasConcurrentAccess bool      `json:"hasConcurrentAccess"`
}

// ClassificationReport buckets every key of a shared-state map.
type ClassificationReport struct {
	ByScope        map[ScopeType][]string `json:"byScope"`
	LocalIgnored   []string               `json:"localIgnored"`
	Unrecognized   []string               `json:"unrecognized,omitempty"`
	HighContention []ContentionReport     `json:"highContention"`
}

// Classify derives the scope of a state key from its "<scope>:" prefix.
func Classify(stateKey string) ScopeType {
	prefix, _, found := strings.Cut(stateKey, ":")
	if !found {
		return ScopeUnknown
	}
	switch ScopeType(strings.ToLower(strings.TrimSpace(prefix))) {
	case ScopeGlobal:
		return ScopeGlobal
	case ScopeModule:
		return ScopeModule
	case ScopeClosure:
		return ScopeClosure
	case ScopeExternal:
		return ScopeExternal
	case ScopeSingleton:
		return ScopeSingleton
	case ScopeLocal:
		return ScopeLocal
	case ScopeFunction:
		return ScopeFunction
	default:
		return ScopeUnknown
	}
}

// IsShared reports whether state of this scope can be touched by more than
// one execution context.
func IsShared(scope ScopeType) bool {
	switch scope {
	case ScopeGlobal, ScopeModule, ScopeClosure, ScopeExternal, ScopeSingleton:
		return true
	}
	return false
}

// Analyze buckets every key by scope and scores contention for shared keys.
func Analyze(states *SharedStateMap) ClassificationReport {
	report := ClassificationReport{
		ByScope:        make(map[ScopeType][]string),
		LocalIgnored:   []string{},
		HighContention: []ContentionReport{},
	}
	for _, key := range states.Keys() {
		scope := Classify(key)
		report.ByScope[scope] = append(report.ByScope[scope], key)

		switch {
		case scope == ScopeLocal || scope == ScopeFunction:
			report.LocalIgnored = append(report.LocalIgnored, key)
			continue
		case !IsShared(scope):
			report.Unrecognized = append(report.Unrecognized, key)
			continue
		}

		accesses, _ := states.Get(key)
		c := contentionOf(key, scope, accesses)
		if c.ContentionScore >= highContentionThreshold || c.HasConcurrentAccess {
			report.HighContention = append(report.HighContention, c)
		}
	}

	sort.SliceStable(report.HighContention, func(i, j int) bool {
		a, b := report.HighContention[i], report.HighContention[j]
		if a.ContentionScore != b.ContentionScore {
			return a.ContentionScore > b.ContentionScore
		}
		return a.StateKey < b.StateKey
	})
	return report
}

func contentionOf(key string, scope ScopeType, accesses []AccessPoint) ContentionReport {
	c := ContentionReport{StateKey: key, Scope: scope, TotalAccesses: len(accesses)}
	for _, a := range accesses {
		if a.Type.IsWrite() {
			c.WriteCount++
		}
		if a.IsAsync {
			c.AsyncCount++
		}
	}
	if c.TotalAccesses > 0 {
		writeRatio := float64(c.WriteCount) / float64(c.TotalAccesses)
		score := writeRatio * 2
		if c.WriteCount > 1 {
			score += 0.3
		}
		c.ContentionScore = math.Min(score, 1.0)
	}
	c.HasConcurrentAccess = c.AsyncCount >= 2 || (c.AsyncCount >= 1 && c.TotalAccesses >= 2)
	return c
}
