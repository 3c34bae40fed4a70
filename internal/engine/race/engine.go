package race

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
)

// Config configures an Engine. The zero value uses the default weights,
// idiom table and strategies.
type Config struct {
	Weights    *WeightsOverride
	Idioms     []IdiomPattern
	Strategies []string
	Logger     *slog.Logger
	// NewID generates race ids; defaults to random UUIDs.
	NewID func() string
}

// Engine runs race detection over project snapshots. An Engine holds only
// immutable configuration, so one value may serve concurrent Detect calls.
type Engine struct {
	strategies []Strategy
	locks      *LockAnalyzer
	scorer     *Scorer
	logger     *slog.Logger
	newID      func() string
}

func NewEngine(cfg Config) (*Engine, error) {
	strategies, unknown := StrategiesByName(cfg.Strategies)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown race strategies: %v", unknown)
	}
	locks, err := NewLockAnalyzer(cfg.Idioms...)
	if err != nil {
		return nil, err
	}
	weights := DefaultWeights()
	if cfg.Weights != nil {
		weights = weights.Merge(*cfg.Weights)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Engine{
		strategies: strategies,
		locks:      locks,
		scorer:     NewScorer(weights),
		logger:     logger,
		newID:      newID,
	}, nil
}

func (e *Engine) Scorer() *Scorer { return e.scorer }

func (e *Engine) Locks() *LockAnalyzer { return e.locks }

// run is the per-Detect state. Its reachability cache is scoped to one
// snapshot and discarded with the run.
type run struct {
	project  *Project
	reach    *Reachability
	newID    func() string
	missing  map[string]bool
	warnings []string
	logger   *slog.Logger
}

func (r *run) warn(msg string) {
	r.warnings = append(r.warnings, msg)
	r.logger.Warn("race detection", "warning", msg)
}

// known reports whether the access's atom exists, recording one warning per
// missing atom id.
func (r *run) known(a AccessPoint) bool {
	if r.reach.Atom(a.Atom) != nil {
		return true
	}
	if !r.missing[a.Atom] {
		r.missing[a.Atom] = true
		r.warn(fmt.Sprintf("access in %s:%d references unknown atom %q; pairs involving it were skipped", a.File, a.Line, a.Atom))
	}
	return false
}

// Detect runs the full pipeline. When states is nil the shared-state map is
// built from the atoms' recorded state accesses. Detect never fails: bad
// input turns into warnings.
func (e *Engine) Detect(project *Project, states *SharedStateMap) DetectionResult {
	if project == nil {
		project = &Project{}
	}
	if states == nil {
		states = BuildSharedStateMap(project)
	}

	r := &run{
		project: project,
		reach:   NewReachability(project),
		newID:   e.newID,
		missing: make(map[string]bool),
		logger:  e.logger,
	}

	classification := Analyze(states)
	for _, key := range classification.Unrecognized {
		r.warn(fmt.Sprintf("state key %q has no recognized scope prefix; skipped", key))
	}
	if n := len(classification.LocalIgnored); n > 0 {
		e.logger.Debug("ignoring local state", "keys", n)
	}

	shared := states.Filter(func(key string, _ []AccessPoint) bool {
		return IsShared(Classify(key))
	})

	races := make([]Race, 0)
	for _, s := range e.strategies {
		races = append(races, e.runStrategy(r, s, shared)...)
	}

	for i := range races {
		e.finalize(&races[i], project, states, r.reach)
	}
	sortRaces(races)

	summary := newSummary()
	summary.TotalRaces = len(races)
	summary.SharedStateItems = shared.Len()
	for _, rc := range races {
		summary.BySeverity[rc.Severity]++
		summary.ByType[rc.Type]++
		if rc.HasMitigation {
			summary.Mitigated++
		}
	}
	warnings := r.warnings
	if warnings == nil {
		warnings = []string{}
	}
	summary.TotalWarnings = len(warnings)

	e.logger.Debug("race detection finished",
		"races", summary.TotalRaces,
		"shared_state", summary.SharedStateItems,
		"warnings", summary.TotalWarnings)

	return DetectionResult{
		Races:          races,
		Warnings:       warnings,
		Summary:        summary,
		Classification: classification,
	}
}

func (e *Engine) runStrategy(r *run, s Strategy, states *SharedStateMap) (out []Race) {
	defer func() {
		if rec := recover(); rec != nil {
			r.warn(fmt.Sprintf("strategy %s aborted: %v", s.Name, rec))
			out = nil
		}
	}()
	return s.detect(r, states)
}

func (e *Engine) finalize(rc *Race, project *Project, states *SharedStateMap, reach *Reachability) {
	m := e.locks.CheckMitigation(*rc, reach.Atom)
	rc.Mitigation = m
	rc.HasMitigation = m.IsMitigated
	if m.IsMitigated {
		mt := m.MitigationType
		rc.MitigationType = &mt
	}

	rc.Risk = e.scorer.Score(*rc, project, states)
	rc.Severity = maxSeverity(rc.Risk.Severity, rc.floor)
	rc.Risk.Testing = SuggestTestingLevel(rc.Severity)
}

// sortRaces puts unmitigated races first, then orders by severity and score.
func sortRaces(races []Race) {
	sort.SliceStable(races, func(i, j int) bool {
		a, b := races[i], races[j]
		if a.HasMitigation != b.HasMitigation {
			return !a.HasMitigation
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Risk.RawScore != b.Risk.RawScore {
			return a.Risk.RawScore > b.Risk.RawScore
		}
		return a.StateKey < b.StateKey
	})
}

// FilterMitigated drops mitigated races and recomputes the summary. It is a
// presentation step; Detect always reports every pair.
func FilterMitigated(res DetectionResult) DetectionResult {
	return FilterRaces(res, func(rc Race) bool { return !rc.HasMitigation })
}

// FilterRaces keeps the races for which keep returns true and recomputes the
// summary counts. Warnings and classification are carried over unchanged.
func FilterRaces(res DetectionResult, keep func(Race) bool) DetectionResult {
	out := res
	out.Races = make([]Race, 0, len(res.Races))
	summary := newSummary()
	summary.SharedStateItems = res.Summary.SharedStateItems
	summary.TotalWarnings = res.Summary.TotalWarnings
	for _, rc := range res.Races {
		if !keep(rc) {
			continue
		}
		out.Races = append(out.Races, rc)
		summary.BySeverity[rc.Severity]++
		summary.ByType[rc.Type]++
		if rc.HasMitigation {
			summary.Mitigated++
		}
	}
	summary.TotalRaces = len(out.Races)
	out.Summary = summary
	return out
}
