package race

import (
	"fmt"
	"regexp"
	"strings"
)

// Lock families recognized by the analyzer.
const (
	FamilyMutex       = "mutex"
	FamilySemaphore   = "semaphore"
	FamilyAtomic      = "atomic"
	FamilyTransaction = "transaction"
)

const (
	MitigationCommonLock = "common-lock"

	// MitigationSharedProtectedKey marks two differently named explicit locks
	// that both claim the state key.
	MitigationSharedProtectedKey = "shared-protected-key"

	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)

// IdiomPattern is one entry of the implicit-lock idiom table.
type IdiomPattern struct {
	Family  string
	Pattern string
}

// DefaultIdioms is the built-in idiom table, scanned in order.
var DefaultIdioms = []IdiomPattern{
	{Family: FamilyMutex, Pattern: `(?i)(mutex|lock|synchronized)`},
	{Family: FamilySemaphore, Pattern: `(?i)(semaphore|acquire|release)`},
	{Family: FamilyAtomic, Pattern: `(?i)(atomic|compareAndSwap|CAS)`},
	{Family: FamilyTransaction, Pattern: `(?i)(transaction|BEGIN|COMMIT)`},
}

// LockInfo describes the synchronization protecting one access.
type LockInfo struct {
	Family    string
	Name      string
	Protected string // state key (or bare name) the lock guards
	Implicit  bool
	Match     string
}

type compiledIdiom struct {
	family string
	re     *regexp.Regexp
}

// LockAnalyzer resolves explicit and implicit synchronization for accesses.
type LockAnalyzer struct {
	idioms []compiledIdiom
}

// NewLockAnalyzer compiles DefaultIdioms followed by extra.
func NewLockAnalyzer(extra ...IdiomPattern) (*LockAnalyzer, error) {
	a := &LockAnalyzer{}
	for _, p := range append(append([]IdiomPattern(nil), DefaultIdioms...), extra...) {
		if err := a.RegisterIdiom(p.Family, p.Pattern); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// RegisterIdiom appends an idiom to the table. Existing entries are untouched
// and keep precedence.
func (a *LockAnalyzer) RegisterIdiom(family, pattern string) error {
	family = strings.ToLower(strings.TrimSpace(family))
	if family == "" {
		return fmt.Errorf("lock idiom family must not be empty")
	}
	expr := strings.TrimSpace(pattern)
	if expr == "" {
		return fmt.Errorf("lock idiom %q pattern must not be empty", family)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("compile lock idiom %q: %w", family, err)
	}
	a.idioms = append(a.idioms, compiledIdiom{family: family, re: re})
	return nil
}

// ProtectionOf returns the lock covering access, or nil. Explicit lock
// declarations win over idioms found in the atom's code.
func (a *LockAnalyzer) ProtectionOf(stateKey string, access AccessPoint, atom *Atom) *LockInfo {
	if atom == nil {
		return nil
	}
	for _, decl := range atom.LockDeclarations {
		if covers(decl, stateKey, access.Line) {
			return &LockInfo{
				Family:    lockFamily(decl.Type),
				Name:      strings.TrimSpace(decl.Name),
				Protected: protectedName(decl, stateKey),
			}
		}
	}
	if strings.TrimSpace(atom.RawCode) == "" {
		return nil
	}
	for _, idiom := range a.idioms {
		if m := idiom.re.FindString(atom.RawCode); m != "" {
			return &LockInfo{
				Family:    idiom.family,
				Protected: stateKey,
				Implicit:  true,
				Match:     m,
			}
		}
	}
	return nil
}

// HaveCommonLock reports whether both accesses resolve to a lock of the same
// family that shares a name or a protected variable.
func (a *LockAnalyzer) HaveCommonLock(stateKey string, a1, a2 AccessPoint, atom1, atom2 *Atom) bool {
	return sameLock(a.ProtectionOf(stateKey, a1, atom1), a.ProtectionOf(stateKey, a2, atom2))
}

// CheckMitigation inspects both sides of r. atoms resolves atom ids.
func (a *LockAnalyzer) CheckMitigation(r Race, atoms func(id string) *Atom) Mitigation {
	l1 := a.ProtectionOf(r.StateKey, r.Accesses[0], atoms(r.Accesses[0].Atom))
	l2 := a.ProtectionOf(r.StateKey, r.Accesses[1], atoms(r.Accesses[1].Atom))

	switch {
	case l1 != nil && l2 != nil && sameLock(l1, l2):
		if !l1.Implicit && !l2.Implicit && l1.Name != "" && l1.Name == l2.Name {
			return Mitigation{
				IsMitigated:    true,
				MitigationType: MitigationCommonLock,
				Confidence:     ConfidenceHigh,
				Details:        []string{fmt.Sprintf("both accesses hold %s %q", l1.Family, l1.Name)},
			}
		}
		if !l1.Implicit && !l2.Implicit {
			return Mitigation{
				IsMitigated:    true,
				MitigationType: MitigationSharedProtectedKey,
				Confidence:     ConfidenceLow,
				Details: []string{fmt.Sprintf("%s and %s both declare %s protected but are different locks",
					describeLock(l1), describeLock(l2), r.StateKey)},
			}
		}
		return Mitigation{
			IsMitigated:    true,
			MitigationType: "implicit-" + l1.Family,
			Confidence:     ConfidenceLow,
			Details:        []string{fmt.Sprintf("both accesses appear guarded by %s idioms", l1.Family)},
		}
	case l1 != nil && l2 != nil:
		return Mitigation{
			Confidence: ConfidenceLow,
			Details: []string{
				fmt.Sprintf("%s uses %s, %s uses %s: different locks do not exclude each other",
					r.Accesses[0].AtomName, describeLock(l1), r.Accesses[1].AtomName, describeLock(l2)),
			},
		}
	case l1 != nil || l2 != nil:
		guarded, bare := r.Accesses[0].AtomName, r.Accesses[1].AtomName
		lock := l1
		if l1 == nil {
			guarded, bare = bare, guarded
			lock = l2
		}
		return Mitigation{
			Confidence: ConfidenceLow,
			Details: []string{
				fmt.Sprintf("only %s is protected (%s); %s is not", guarded, describeLock(lock), bare),
				"partial mitigation: ordering issue still possible",
			},
		}
	default:
		return Mitigation{Confidence: ConfidenceLow, Details: []string{"no synchronization found"}}
	}
}

func sameLock(l1, l2 *LockInfo) bool {
	if l1 == nil || l2 == nil || l1.Family != l2.Family {
		return false
	}
	if l1.Name != "" && l1.Name == l2.Name {
		return true
	}
	return l1.Protected != "" && l1.Protected == l2.Protected
}

func covers(decl LockDeclaration, stateKey string, line int) bool {
	bare := bareName(stateKey)
	for _, k := range decl.ProtectedKeys {
		k = strings.TrimSpace(k)
		if k == stateKey || (bare != "" && k == bare) {
			return true
		}
	}
	if len(decl.ScopeLines) >= 2 && line > 0 {
		start, end := decl.ScopeLines[0], decl.ScopeLines[1]
		if start > end {
			start, end = end, start
		}
		return line >= start && line <= end
	}
	return false
}

func protectedName(decl LockDeclaration, stateKey string) string {
	bare := bareName(stateKey)
	for _, k := range decl.ProtectedKeys {
		if k == stateKey || k == bare {
			return stateKey
		}
	}
	return ""
}

func lockFamily(declType string) string {
	t := strings.ToLower(strings.TrimSpace(declType))
	switch t {
	case "mutex", "lock", "rwlock", "rwmutex", "synchronized", "monitor":
		return FamilyMutex
	case "semaphore", "sem":
		return FamilySemaphore
	case "atomic", "cas", "compareandswap":
		return FamilyAtomic
	case "transaction", "tx":
		return FamilyTransaction
	case "":
		return FamilyMutex
	default:
		return t
	}
}

func describeLock(l *LockInfo) string {
	if l.Implicit {
		return fmt.Sprintf("implicit %s idiom %q", l.Family, l.Match)
	}
	return fmt.Sprintf("%s %q", l.Family, l.Name)
}

func bareName(stateKey string) string {
	if _, name, ok := strings.Cut(stateKey, ":"); ok {
		return name
	}
	return stateKey
}
