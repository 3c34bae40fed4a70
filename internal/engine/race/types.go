package race

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// AccessType is the kind of touch an atom performs on a state key.
type AccessType string

const (
	AccessRead           AccessType = "read"
	AccessWrite          AccessType = "write"
	AccessReadWrite      AccessType = "read_write"
	AccessInitialization AccessType = "initialization"
	AccessCapturedWrite  AccessType = "captured_write"
)

// ParseAccessType normalizes extractor spellings ("Write", "readWrite", "init").
func ParseAccessType(raw string) AccessType {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, "-", "_")
	switch v {
	case "read", "r":
		return AccessRead
	case "write", "w", "assign":
		return AccessWrite
	case "read_write", "readwrite", "rw":
		return AccessReadWrite
	case "initialization", "init", "initialize":
		return AccessInitialization
	case "captured_write", "capturedwrite":
		return AccessCapturedWrite
	default:
		return AccessType(v)
	}
}

// IsWrite reports whether the access mutates state.
func (t AccessType) IsWrite() bool {
	switch t {
	case AccessWrite, AccessReadWrite, AccessInitialization, AccessCapturedWrite:
		return true
	}
	return false
}

func (t AccessType) IsRead() bool {
	return t == AccessRead
}

// ScopeType is the scope prefix of a state key.
type ScopeType string

const (
	ScopeGlobal    ScopeType = "global"
	ScopeModule    ScopeType = "module"
	ScopeClosure   ScopeType = "closure"
	ScopeExternal  ScopeType = "external"
	ScopeSingleton ScopeType = "singleton"
	ScopeLocal     ScopeType = "local"
	ScopeFunction  ScopeType = "function"
	ScopeUnknown   ScopeType = "unknown"
)

// RaceType is the closed set of race patterns.
type RaceType string

const (
	RaceWriteWrite     RaceType = "WW"
	RaceReadWrite      RaceType = "RW"
	RaceWriteRead      RaceType = "WR"
	RaceInitialization RaceType = "IE"
	RaceErrorHandling  RaceType = "EH"
)

// AllRaceTypes lists every race type in reporting order.
var AllRaceTypes = []RaceType{RaceWriteWrite, RaceReadWrite, RaceWriteRead, RaceInitialization, RaceErrorHandling}

func (t RaceType) Label() string {
	switch t {
	case RaceWriteWrite:
		return "write-write"
	case RaceReadWrite:
		return "read-write"
	case RaceWriteRead:
		return "write-read"
	case RaceInitialization:
		return "initialization"
	case RaceErrorHandling:
		return "error-handling"
	default:
		return string(t)
	}
}

// Severity is the four-level risk classification.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AllSeverities lists severities from most to least severe.
var AllSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Rank orders severities; higher is worse. Unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func maxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// LockDeclaration is an explicit synchronization primitive reported by the
// extractor for an atom.
type LockDeclaration struct {
	Type          string   `json:"type"`
	Name          string   `json:"name"`
	ProtectedKeys []string `json:"protectedKeys,omitempty"`
	ScopeLines    []int    `json:"scopeLines,omitempty"` // [start, end], inclusive
}

// StateTouch is one extractor-recorded access inside an atom.
type StateTouch struct {
	Line int        `json:"line"`
	Type AccessType `json:"type"`
}

// Atom is a function or method node of the code graph. Atoms are read-only
// during detection.
type Atom struct {
	ID               string                  `json:"id"`
	FilePath         string                  `json:"filePath"`
	Name             string                  `json:"name"`
	Module           string                  `json:"module,omitempty"`
	Calls            []string                `json:"calls,omitempty"`
	CalledBy         []string                `json:"calledBy,omitempty"`
	IsAsync          bool                    `json:"isAsync"`
	IsExported       bool                    `json:"isExported"`
	LockDeclarations []LockDeclaration       `json:"lockDeclarations,omitempty"`
	RawCode          string                  `json:"rawCode,omitempty"`
	StateAccesses    map[string][]StateTouch `json:"stateAccesses,omitempty"`
}

// AccessPoint is a single observed touch of a state key.
type AccessPoint struct {
	Atom       string     `json:"atom"`
	AtomName   string     `json:"atomName"`
	File       string     `json:"file"`
	Line       int        `json:"line"`
	Module     string     `json:"module"`
	Type       AccessType `json:"type"`
	IsAsync    bool       `json:"isAsync"`
	IsExported bool       `json:"isExported"`
}

// FlowStep is one step of a business flow.
type FlowStep struct {
	Name  string   `json:"name"`
	Atom  string   `json:"atom,omitempty"`
	Calls []string `json:"calls,omitempty"`
}

// BusinessFlow is a named end-to-end path through the code graph.
type BusinessFlow struct {
	Name  string     `json:"name"`
	Steps []FlowStep `json:"steps"`
}

// EntryPoint is a declared root of invocation.
type EntryPoint struct {
	Atom   string `json:"atom"`
	Module string `json:"module"`
	Kind   string `json:"kind,omitempty"`
}

// Project is the immutable snapshot a detection run reads.
type Project struct {
	Name          string         `json:"name,omitempty"`
	Atoms         []Atom         `json:"atoms"`
	BusinessFlows []BusinessFlow `json:"businessFlows,omitempty"`
	EntryPoints   []EntryPoint   `json:"entryPoints,omitempty"`
}

// Mitigation is the Lock Analyzer's verdict for a race.
type Mitigation struct {
	IsMitigated    bool     `json:"isMitigated"`
	MitigationType string   `json:"mitigationType,omitempty"`
	Confidence     string   `json:"confidence"`
	Details        []string `json:"details,omitempty"`
}

// Factors are the six risk sub-scores.
type Factors struct {
	Type          float64 `json:"type"`
	Async         float64 `json:"async"`
	DataIntegrity float64 `json:"dataIntegrity"`
	Scope         float64 `json:"scope"`
	Impact        float64 `json:"impact"`
	Frequency     float64 `json:"frequency"`
}

// TestingAdvice is the testing-priority recommendation for a severity.
type TestingAdvice struct {
	Level    string   `json:"level"`
	Tests    []string `json:"tests"`
	Priority string   `json:"priority"`
}

// Assessment is the Risk Scorer output attached to a race.
type Assessment struct {
	Severity     Severity      `json:"severity"`
	RawScore     float64       `json:"rawScore"`
	Factors      Factors       `json:"factors"`
	Explanations []string      `json:"explanations,omitempty"`
	Testing      TestingAdvice `json:"testing"`
}

// Race is a detected pair of concurrently reachable accesses to one key.
// Accesses always holds exactly two entries drawn from StateKey.
type Race struct {
	ID             string         `json:"id"`
	Type           RaceType       `json:"type"`
	StateKey       string         `json:"stateKey"`
	StateType      ScopeType      `json:"stateType"`
	Accesses       [2]AccessPoint `json:"accesses"`
	Severity       Severity       `json:"severity"`
	HasMitigation  bool           `json:"hasMitigation"`
	MitigationType *string        `json:"mitigationType"`
	Description    string         `json:"description"`
	Mitigation     Mitigation     `json:"mitigation"`
	Risk           Assessment     `json:"risk"`

	// floor is the minimum severity the emitting pattern assigns.
	floor Severity
}

// Summary aggregates a detection run.
type Summary struct {
	TotalRaces       int              `json:"totalRaces"`
	TotalWarnings    int              `json:"totalWarnings"`
	SharedStateItems int              `json:"sharedStateItems"`
	BySeverity       map[Severity]int `json:"bySeverity"`
	ByType           map[RaceType]int `json:"byType"`
	Mitigated        int              `json:"mitigated"`
}

func newSummary() Summary {
	s := Summary{
		BySeverity: make(map[Severity]int, len(AllSeverities)),
		ByType:     make(map[RaceType]int, len(AllRaceTypes)),
	}
	for _, sev := range AllSeverities {
		s.BySeverity[sev] = 0
	}
	for _, t := range AllRaceTypes {
		s.ByType[t] = 0
	}
	return s
}

// DetectionResult is the complete output of one run.
type DetectionResult struct {
	Races          []Race               `json:"races"`
	Warnings       []string             `json:"warnings"`
	Summary        Summary              `json:"summary"`
	Classification ClassificationReport `json:"classification"`
}

// Fingerprint identifies a race across runs independently of its random ID:
// the type, the state key and both access sites, order-insensitive.
func (r Race) Fingerprint() string {
	a := fmt.Sprintf("%s@%d", r.Accesses[0].Atom, r.Accesses[0].Line)
	b := fmt.Sprintf("%s@%d", r.Accesses[1].Atom, r.Accesses[1].Line)
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(string(r.Type) + "|" + r.StateKey + "|" + a + "|" + b))
	return hex.EncodeToString(sum[:8])
}
