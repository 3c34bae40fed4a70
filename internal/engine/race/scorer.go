package race

import (
	"fmt"
	"math"
)

// FactorWeights weights the six sub-scores in the raw score.
type FactorWeights struct {
	Type          float64 `json:"type" toml:"type"`
	Async         float64 `json:"async" toml:"async"`
	DataIntegrity float64 `json:"dataIntegrity" toml:"data_integrity"`
	Scope         float64 `json:"scope" toml:"scope"`
	Impact        float64 `json:"impact" toml:"impact"`
	Frequency     float64 `json:"frequency" toml:"frequency"`
}

type AsyncWeights struct {
	Both float64 `json:"both" toml:"both"`
	One  float64 `json:"one" toml:"one"`
	None float64 `json:"none" toml:"none"`
}

type DataIntegrityWeights struct {
	Scopes                   map[ScopeType]float64 `json:"scopes" toml:"scopes"`
	WriteWriteMultiplier     float64               `json:"writeWriteMultiplier" toml:"write_write_multiplier"`
	InitializationMultiplier float64               `json:"initializationMultiplier" toml:"initialization_multiplier"`
}

type FrequencyWeights struct {
	// Rare is the score for keys with at most RareMaxAccesses accesses.
	Rare            float64 `json:"rare" toml:"rare"`
	RareMaxAccesses int     `json:"rareMaxAccesses" toml:"rare_max_accesses"`
	Base            float64 `json:"base" toml:"base"`
	Step            float64 `json:"step" toml:"step"`
}

// Weights holds every scoring table.
type Weights struct {
	Factors       FactorWeights
	RaceTypes     map[RaceType]float64
	Async         AsyncWeights
	DataIntegrity DataIntegrityWeights
	Scopes        map[ScopeType]float64
	Frequency     FrequencyWeights
}

// WeightsOverride carries the categories a caller wants to change. Nil
// fields leave the category as is.
type WeightsOverride struct {
	Factors       *FactorWeights
	RaceTypes     map[RaceType]float64
	Async         *AsyncWeights
	DataIntegrity *DataIntegrityWeights
	Scopes        map[ScopeType]float64
	Frequency     *FrequencyWeights
}

const otherRaceTypeScore = 0.5

func DefaultWeights() Weights {
	return Weights{
		Factors: FactorWeights{
			Type:          0.25,
			Async:         0.20,
			DataIntegrity: 0.20,
			Scope:         0.15,
			Impact:        0.15,
			Frequency:     0.05,
		},
		RaceTypes: map[RaceType]float64{
			RaceWriteWrite:     1.0,
			RaceInitialization: 0.9,
			RaceReadWrite:      0.8,
			RaceWriteRead:      0.8,
			RaceErrorHandling:  0.7,
		},
		Async: AsyncWeights{Both: 1.0, One: 0.8, None: 0.3},
		DataIntegrity: DataIntegrityWeights{
			Scopes: map[ScopeType]float64{
				ScopeExternal:  1.0,
				ScopeGlobal:    0.8,
				ScopeSingleton: 0.8,
				ScopeModule:    0.5,
				ScopeClosure:   0.2,
			},
			WriteWriteMultiplier:     1.2,
			InitializationMultiplier: 1.1,
		},
		Scopes: map[ScopeType]float64{
			ScopeGlobal:    1.0,
			ScopeExternal:  0.9,
			ScopeSingleton: 0.8,
			ScopeModule:    0.7,
			ScopeClosure:   0.4,
		},
		Frequency: FrequencyWeights{Rare: 0.5, RareMaxAccesses: 2, Base: 0.8, Step: 0.05},
	}
}

// Merge returns a copy of w with the supplied categories replaced. Map
// categories are merged key by key so a partial table keeps the remaining
// defaults.
func (w Weights) Merge(o WeightsOverride) Weights {
	out := w.clone()
	if o.Factors != nil {
		out.Factors = *o.Factors
	}
	for k, v := range o.RaceTypes {
		out.RaceTypes[k] = v
	}
	if o.Async != nil {
		out.Async = *o.Async
	}
	if o.DataIntegrity != nil {
		for k, v := range o.DataIntegrity.Scopes {
			out.DataIntegrity.Scopes[k] = v
		}
		if o.DataIntegrity.WriteWriteMultiplier > 0 {
			out.DataIntegrity.WriteWriteMultiplier = o.DataIntegrity.WriteWriteMultiplier
		}
		if o.DataIntegrity.InitializationMultiplier > 0 {
			out.DataIntegrity.InitializationMultiplier = o.DataIntegrity.InitializationMultiplier
		}
	}
	for k, v := range o.Scopes {
		out.Scopes[k] = v
	}
	if o.Frequency != nil {
		out.Frequency = *o.Frequency
	}
	return out
}

func (w Weights) clone() Weights {
	out := w
	out.RaceTypes = make(map[RaceType]float64, len(w.RaceTypes))
	for k, v := range w.RaceTypes {
		out.RaceTypes[k] = v
	}
	out.Scopes = make(map[ScopeType]float64, len(w.Scopes))
	for k, v := range w.Scopes {
		out.Scopes[k] = v
	}
	out.DataIntegrity.Scopes = make(map[ScopeType]float64, len(w.DataIntegrity.Scopes))
	for k, v := range w.DataIntegrity.Scopes {
		out.DataIntegrity.Scopes[k] = v
	}
	return out
}

// Scorer computes risk assessments for races.
type Scorer struct {
	weights Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w.clone()}
}

func (s *Scorer) Weights() Weights {
	return s.weights.clone()
}

// Score rates r against the project it was found in. states supplies the
// per-key access counts used by the frequency factor.
func (s *Scorer) Score(r Race, project *Project, states *SharedStateMap) Assessment {
	accesses, _ := states.Get(r.StateKey)
	f := Factors{
		Type:          s.typeScore(r.Type),
		Async:         s.asyncScore(r),
		DataIntegrity: s.dataIntegrityScore(r),
		Scope:         s.scopeScore(r.StateType),
		Impact:        impactScore(r, project),
		Frequency:     s.frequencyScore(len(accesses)),
	}
	raw := s.rawScore(f)
	sev := SeverityFor(raw)
	return Assessment{
		Severity:     sev,
		RawScore:     raw,
		Factors:      f,
		Explanations: s.Explain(r, f),
		Testing:      SuggestTestingLevel(sev),
	}
}

func (s *Scorer) rawScore(f Factors) float64 {
	w := s.weights.Factors
	raw := w.Type*f.Type +
		w.Async*f.Async +
		w.DataIntegrity*f.DataIntegrity +
		w.Scope*f.Scope +
		w.Impact*f.Impact +
		w.Frequency*f.Frequency
	return math.Round(raw*10000) / 10000
}

// SeverityFor maps a raw score to a severity.
func SeverityFor(raw float64) Severity {
	switch {
	case raw >= 0.8:
		return SeverityCritical
	case raw >= 0.6:
		return SeverityHigh
	case raw >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (s *Scorer) typeScore(t RaceType) float64 {
	if v, ok := s.weights.RaceTypes[t]; ok {
		return v
	}
	return otherRaceTypeScore
}

func (s *Scorer) asyncScore(r Race) float64 {
	n := 0
	for _, a := range r.Accesses {
		if a.IsAsync {
			n++
		}
	}
	switch n {
	case 2:
		return s.weights.Async.Both
	case 1:
		return s.weights.Async.One
	default:
		return s.weights.Async.None
	}
}

func (s *Scorer) dataIntegrityScore(r Race) float64 {
	base, ok := s.weights.DataIntegrity.Scopes[r.StateType]
	if !ok {
		base = 0.5
	}
	switch r.Type {
	case RaceWriteWrite:
		base *= s.weights.DataIntegrity.WriteWriteMultiplier
	case RaceInitialization:
		base *= s.weights.DataIntegrity.InitializationMultiplier
	}
	return math.Min(base, 1.0)
}

func (s *Scorer) scopeScore(scope ScopeType) float64 {
	return s.weights.Scopes[scope]
}

func (s *Scorer) frequencyScore(accessCount int) float64 {
	fw := s.weights.Frequency
	if accessCount <= fw.RareMaxAccesses {
		return fw.Rare
	}
	return fw.Base + fw.Step*float64(accessCount-fw.RareMaxAccesses)
}

// impactScore measures the blast radius: business flows calling either side,
// entry points in either side's module, and exported atoms.
func impactScore(r Race, project *Project) float64 {
	score := 0.5
	if project == nil {
		return score
	}

	refs := make(map[string]bool, 4)
	modules := make(map[string]bool, 2)
	exported := false
	for _, a := range r.Accesses {
		refs[a.Atom] = true
		if a.AtomName != "" {
			refs[a.AtomName] = true
		}
		if a.Module != "" {
			modules[a.Module] = true
		}
		exported = exported || a.IsExported
	}

	flows := 0
	for _, flow := range project.BusinessFlows {
		if flowTouches(flow, refs) {
			flows++
		}
	}
	entries := 0
	for _, ep := range project.EntryPoints {
		if modules[ep.Module] {
			entries++
		}
	}

	score += 0.2 * math.Min(float64(flows)/3, 1)
	score += 0.2 * math.Min(float64(entries)/2, 1)
	if exported {
		score += 0.1
	}
	return math.Min(score, 1.0)
}

func flowTouches(flow BusinessFlow, refs map[string]bool) bool {
	for _, step := range flow.Steps {
		if step.Atom != "" && refs[step.Atom] {
			return true
		}
		for _, c := range step.Calls {
			if refs[c] {
				return true
			}
		}
	}
	return false
}

// Explain narrates the factors that push r's risk up.
func (s *Scorer) Explain(r Race, f Factors) []string {
	var out []string
	if f.Type >= 0.8 {
		out = append(out, fmt.Sprintf("%s races are among the most damaging patterns (type score %.2f)", r.Type.Label(), f.Type))
	}
	if f.Async >= 0.8 {
		if r.Accesses[0].IsAsync && r.Accesses[1].IsAsync {
			out = append(out, "both accesses run in asynchronous code and can interleave freely")
		} else {
			out = append(out, "one access runs in asynchronous code and may interleave with the other")
		}
	}
	if f.DataIntegrity >= 0.8 {
		out = append(out, fmt.Sprintf("%s state carries a high data-integrity risk (%.2f)", r.StateType, f.DataIntegrity))
	}
	if f.Scope >= 0.7 {
		out = append(out, fmt.Sprintf("%s scope makes %s visible to many callers", r.StateType, r.StateKey))
	}
	if f.Impact >= 0.7 {
		out = append(out, fmt.Sprintf("wide blast radius across business flows and entry points (impact %.2f)", f.Impact))
	}
	if f.Frequency >= 0.8 {
		out = append(out, fmt.Sprintf("%s is accessed frequently across the project", r.StateKey))
	}
	return out
}

// SuggestTestingLevel maps a severity to a testing recommendation.
func SuggestTestingLevel(sev Severity) TestingAdvice {
	switch sev {
	case SeverityCritical:
		return TestingAdvice{Level: "mandatory", Tests: []string{"unit", "integration", "e2e", "stress"}, Priority: "P0"}
	case SeverityHigh:
		return TestingAdvice{Level: "recommended", Tests: []string{"unit", "integration", "stress"}, Priority: "P1"}
	case SeverityMedium:
		return TestingAdvice{Level: "optional", Tests: []string{"unit", "integration"}, Priority: "P2"}
	default:
		return TestingAdvice{Level: "documentation", Tests: []string{"unit"}, Priority: "P3"}
	}
}
