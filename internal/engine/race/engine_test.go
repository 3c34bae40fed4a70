package race

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	n := 0
	e, err := NewEngine(Config{NewID: func() string {
		n++
		return fmt.Sprintf("race-%d", n)
	}})
	require.NoError(t, err)
	return e
}

func access(atom *Atom, line int, typ AccessType) AccessPoint {
	return AccessPoint{
		Atom:       atom.ID,
		AtomName:   atom.Name,
		File:       atom.FilePath,
		Line:       line,
		Module:     atomModule(*atom),
		Type:       typ,
		IsAsync:    atom.IsAsync,
		IsExported: atom.IsExported,
	}
}

func cartProject() (*Project, *Atom, *Atom) {
	p := &Project{Atoms: []Atom{
		{ID: "cart.js::addItem", FilePath: "cart.js", Name: "addItem", Module: "cart", IsAsync: true},
		{ID: "checkout.js::applyDiscount", FilePath: "checkout.js", Name: "applyDiscount", Module: "checkout", IsAsync: true},
	}}
	return p, &p.Atoms[0], &p.Atoms[1]
}

func TestDetect_AsyncWriteWriteOnGlobal(t *testing.T) {
	project, add, discount := cartProject()
	states := NewSharedStateMap()
	states.Add("global:cartTotal", access(add, 10, AccessWrite), access(discount, 20, AccessWrite))

	res := newTestEngine(t).Detect(project, states)

	require.Len(t, res.Races, 1)
	r := res.Races[0]
	assert.Equal(t, RaceWriteWrite, r.Type)
	assert.Equal(t, "global:cartTotal", r.StateKey)
	assert.Equal(t, ScopeGlobal, r.StateType)
	assert.Contains(t, []Severity{SeverityHigh, SeverityCritical}, r.Severity)
	assert.False(t, r.HasMitigation)
	assert.Nil(t, r.MitigationType)
	assert.Equal(t, 1, res.Summary.TotalRaces)
	assert.Equal(t, 1, res.Summary.ByType[RaceWriteWrite])
	assert.Equal(t, 1, res.Summary.SharedStateItems)
	assert.Empty(t, res.Warnings)
}

func TestDetect_CommonLockAnnotatesButKeepsRace(t *testing.T) {
	project, add, discount := cartProject()
	add.LockDeclarations = []LockDeclaration{{Type: "mutex", Name: "cartLock", ScopeLines: []int{5, 15}}}
	discount.LockDeclarations = []LockDeclaration{{Type: "mutex", Name: "cartLock", ScopeLines: []int{18, 25}}}
	states := NewSharedStateMap()
	states.Add("global:cartTotal", access(add, 10, AccessWrite), access(discount, 20, AccessWrite))

	res := newTestEngine(t).Detect(project, states)

	require.Len(t, res.Races, 1)
	r := res.Races[0]
	assert.True(t, r.HasMitigation)
	require.NotNil(t, r.MitigationType)
	assert.Equal(t, MitigationCommonLock, *r.MitigationType)
	assert.Equal(t, ConfidenceHigh, r.Mitigation.Confidence)
	assert.Equal(t, 1, res.Summary.Mitigated)
}

func TestDetect_LocalStateIsIgnored(t *testing.T) {
	project := &Project{Atoms: []Atom{{ID: "math.js::sum", FilePath: "math.js", Name: "sum", IsAsync: true}}}
	sum := &project.Atoms[0]
	states := NewSharedStateMap()
	states.Add("local:tempSum", access(sum, 3, AccessWrite), access(sum, 4, AccessWrite))
	states.Add("function:acc", access(sum, 5, AccessWrite), access(sum, 6, AccessRead))

	res := newTestEngine(t).Detect(project, states)

	assert.Empty(t, res.Races)
	assert.Equal(t, []string{"local:tempSum", "function:acc"}, res.Classification.LocalIgnored)
	assert.Equal(t, 0, res.Summary.SharedStateItems)
}

func TestDetect_DoubleInitializationOfSingleton(t *testing.T) {
	project := &Project{Atoms: []Atom{
		{ID: "db/a.js::initPrimary", FilePath: "db/a.js", Name: "initPrimary", Module: "db"},
		{ID: "jobs/b.js::initWorker", FilePath: "jobs/b.js", Name: "initWorker", Module: "jobs"},
	}}
	states := NewSharedStateMap()
	states.Add("singleton:dbConnection",
		access(&project.Atoms[0], 4, AccessInitialization),
		access(&project.Atoms[1], 9, AccessInitialization))

	res := newTestEngine(t).Detect(project, states)

	require.Len(t, res.Races, 1)
	r := res.Races[0]
	assert.Equal(t, RaceInitialization, r.Type)
	assert.Equal(t, SeverityCritical, r.Severity)
	assert.Contains(t, r.Description, "double initialization race")
	assert.Contains(t, r.Description, "initPrimary")
	assert.Contains(t, r.Description, "initWorker")
	assert.InDelta(t, 0.88, r.Risk.Factors.DataIntegrity, 1e-9)
	assert.InDelta(t, 0.8, r.Risk.Factors.Scope, 1e-9)
	assert.Equal(t, "P0", r.Risk.Testing.Priority)
}

func TestDetect_ClosureInitializationKeepsScoredSeverity(t *testing.T) {
	project := &Project{Atoms: []Atom{
		{ID: "a.js::first", FilePath: "a.js", Name: "first"},
		{ID: "b.js::second", FilePath: "b.js", Name: "second"},
	}}
	states := NewSharedStateMap()
	states.Add("closure:x",
		access(&project.Atoms[0], 3, AccessInitialization),
		access(&project.Atoms[1], 8, AccessInitialization))

	res := newTestEngine(t).Detect(project, states)

	require.Len(t, res.Races, 1)
	r := res.Races[0]
	assert.Equal(t, RaceInitialization, r.Type)
	assert.Equal(t, SeverityFor(r.Risk.RawScore), r.Severity)
	assert.Equal(t, SeverityMedium, r.Severity)
}

func TestDetect_WeightOverridesLowerWriteWriteSeverity(t *testing.T) {
	none := AsyncWeights{Both: 0, One: 0, None: 0}
	e, err := NewEngine(Config{Weights: &WeightsOverride{
		Async:     &none,
		RaceTypes: map[RaceType]float64{RaceWriteWrite: 0},
	}})
	require.NoError(t, err)

	project, add, discount := cartProject()
	states := NewSharedStateMap()
	states.Add("global:cartTotal", access(add, 10, AccessWrite), access(discount, 20, AccessWrite))

	res := e.Detect(project, states)

	require.Len(t, res.Races, 1)
	assert.Equal(t, res.Races[0].Risk.Severity, res.Races[0].Severity)
	assert.NotEqual(t, SeverityHigh, res.Races[0].Severity)
	assert.NotEqual(t, SeverityCritical, res.Races[0].Severity)
}

func TestDetect_OneAsyncSideUnderSharedCaller(t *testing.T) {
	project := &Project{Atoms: []Atom{
		{ID: "app.js::main", FilePath: "app.js", Name: "main", Calls: []string{"cache.js::writer", "cache.js::reader"}},
		{ID: "cache.js::writer", FilePath: "cache.js", Name: "writer", IsAsync: true},
		{ID: "cache.js::reader", FilePath: "cache.js", Name: "reader"},
	}}
	states := NewSharedStateMap()
	states.Add("global:cache",
		access(&project.Atoms[1], 4, AccessWrite),
		access(&project.Atoms[2], 9, AccessRead))

	res := newTestEngine(t).Detect(project, states)

	require.Len(t, res.Races, 1)
	assert.Equal(t, RaceWriteRead, res.Races[0].Type)
}

func TestDetect_AsyncFlagComesFromAtom(t *testing.T) {
	project, add, discount := cartProject()
	x := access(add, 10, AccessWrite)
	y := access(discount, 20, AccessWrite)
	x.IsAsync, y.IsAsync = false, false
	states := NewSharedStateMap()
	states.Add("global:cartTotal", x, y)

	res := newTestEngine(t).Detect(project, states)

	require.Len(t, res.Races, 1)
	r := res.Races[0]
	assert.True(t, r.Accesses[0].IsAsync)
	assert.True(t, r.Accesses[1].IsAsync)
	assert.InDelta(t, DefaultWeights().Async.Both, r.Risk.Factors.Async, 1e-9)
}

func TestDetect_SameEntryPointIsSequential(t *testing.T) {
	project := &Project{Atoms: []Atom{
		{ID: "app.js::main", FilePath: "app.js", Name: "main", Calls: []string{"cache.js::load", "read"}},
		{ID: "cache.js::load", FilePath: "cache.js", Name: "load", Module: "cache"},
		{ID: "cache.js::read", FilePath: "cache.js", Name: "read", Module: "cache"},
	}}
	states := NewSharedStateMap()
	states.Add("module:cache",
		access(&project.Atoms[2], 12, AccessRead),
		access(&project.Atoms[1], 4, AccessWrite))

	res := newTestEngine(t).Detect(project, states)

	assert.Empty(t, res.Races)
	assert.Empty(t, res.Warnings)
}

func TestDetect_ReadWriteLabelFollowsAccessOrder(t *testing.T) {
	project := &Project{Atoms: []Atom{
		{ID: "a", FilePath: "a.js", Name: "reader"},
		{ID: "b", FilePath: "b.js", Name: "writer"},
	}}
	reader, writer := &project.Atoms[0], &project.Atoms[1]

	states := NewSharedStateMap()
	states.Add("module:first", access(reader, 1, AccessRead), access(writer, 2, AccessWrite))
	states.Add("module:second", access(writer, 3, AccessWrite), access(reader, 4, AccessRead))

	res := newTestEngine(t).Detect(project, states)

	got := map[string]RaceType{}
	for _, r := range res.Races {
		got[r.StateKey] = r.Type
	}
	assert.Equal(t, map[string]RaceType{"module:first": RaceReadWrite, "module:second": RaceWriteRead}, got)
}

func TestDetect_MissingAtomWarnsAndSkips(t *testing.T) {
	project, add, _ := cartProject()
	ghost := AccessPoint{Atom: "ghost::fn", AtomName: "fn", File: "ghost.js", Line: 7, Type: AccessWrite, IsAsync: true}
	states := NewSharedStateMap()
	states.Add("global:total", access(add, 1, AccessWrite), ghost, ghost)

	res := newTestEngine(t).Detect(project, states)

	assert.Empty(t, res.Races)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "ghost::fn")
	assert.Equal(t, 1, res.Summary.TotalWarnings)
}

func TestDetect_UnrecognizedScopeWarns(t *testing.T) {
	project, add, discount := cartProject()
	states := NewSharedStateMap()
	states.Add("counter", access(add, 1, AccessWrite), access(discount, 2, AccessWrite))

	res := newTestEngine(t).Detect(project, states)

	assert.Empty(t, res.Races)
	assert.Equal(t, []string{"counter"}, res.Classification.Unrecognized)
	require.Len(t, res.Warnings, 1)
}

func TestDetect_ShapeOfEveryRace(t *testing.T) {
	project, states := mixedFixture()
	res := newTestEngine(t).Detect(project, states)
	require.NotEmpty(t, res.Races)

	for _, r := range res.Races {
		accesses, ok := states.Get(r.StateKey)
		require.True(t, ok)
		for _, a := range r.Accesses {
			assert.Contains(t, accesses, a)
		}
		assert.Contains(t, AllRaceTypes, r.Type)
		assert.Contains(t, AllSeverities, r.Severity)
		assert.True(t, IsShared(r.StateType), "race on non-shared key %s", r.StateKey)
		assert.NotEqual(t, r.Accesses[0], r.Accesses[1])
	}
}

func TestDetect_IsDeterministic(t *testing.T) {
	project, states := mixedFixture()
	e := newTestEngine(t)

	tuples := func(res DetectionResult) []string {
		out := make([]string, 0, len(res.Races))
		for _, r := range res.Races {
			out = append(out, fmt.Sprintf("%s|%s|%s", r.Type, r.StateKey, r.Severity))
		}
		sort.Strings(out)
		return out
	}
	first := tuples(e.Detect(project, states))
	second := tuples(e.Detect(project, states))
	assert.Equal(t, first, second)
}

func TestDetect_NoDuplicatePairsWithinStrategy(t *testing.T) {
	project, add, discount := cartProject()
	w1 := access(add, 10, AccessWrite)
	w2 := access(discount, 20, AccessWrite)
	states := NewSharedStateMap()
	states.Add("global:cartTotal", w1, w2, w1, w2)

	res := newTestEngine(t).Detect(project, states)

	assert.Len(t, res.Races, 1)
}

func TestDetect_UnmitigatedRacesComeFirst(t *testing.T) {
	project, add, discount := cartProject()
	add.LockDeclarations = []LockDeclaration{{Type: "mutex", Name: "l", ProtectedKeys: []string{"locked"}}}
	discount.LockDeclarations = []LockDeclaration{{Type: "mutex", Name: "l", ProtectedKeys: []string{"locked"}}}
	states := NewSharedStateMap()
	states.Add("global:locked", access(add, 1, AccessWrite), access(discount, 2, AccessWrite))
	states.Add("module:open", access(add, 3, AccessRead), access(discount, 4, AccessWrite))

	res := newTestEngine(t).Detect(project, states)

	require.Len(t, res.Races, 2)
	assert.False(t, res.Races[0].HasMitigation)
	assert.Equal(t, "module:open", res.Races[0].StateKey)
	assert.True(t, res.Races[1].HasMitigation)

	filtered := FilterMitigated(res)
	require.Len(t, filtered.Races, 1)
	assert.Equal(t, 1, filtered.Summary.TotalRaces)
	assert.Equal(t, 0, filtered.Summary.ByType[RaceWriteWrite])
}

func TestDetect_BuildsStateMapFromAtoms(t *testing.T) {
	project := &Project{Atoms: []Atom{
		{ID: "a", FilePath: "a.js", Name: "a", IsAsync: true, StateAccesses: map[string][]StateTouch{
			"global:count": {{Line: 3, Type: "Write"}},
		}},
		{ID: "b", FilePath: "b.js", Name: "b", IsAsync: true, StateAccesses: map[string][]StateTouch{
			"global:count": {{Line: 8, Type: "read"}},
			"local:tmp":    {{Line: 9, Type: "write"}},
		}},
	}}

	res := newTestEngine(t).Detect(project, nil)

	require.Len(t, res.Races, 1)
	assert.Equal(t, RaceWriteRead, res.Races[0].Type)
	assert.Equal(t, []string{"local:tmp"}, res.Classification.LocalIgnored)
}

func TestNewEngine_RejectsUnknownStrategy(t *testing.T) {
	_, err := NewEngine(Config{Strategies: []string{"write-write", "deadlock"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestNewEngine_StrategySubset(t *testing.T) {
	e, err := NewEngine(Config{Strategies: []string{StrategyInitialization}})
	require.NoError(t, err)
	project, add, discount := cartProject()
	states := NewSharedStateMap()
	states.Add("global:cartTotal", access(add, 10, AccessWrite), access(discount, 20, AccessWrite))

	assert.Empty(t, e.Detect(project, states).Races)
}

func mixedFixture() (*Project, *SharedStateMap) {
	project := &Project{
		Atoms: []Atom{
			{ID: "api/orders.go::Create", FilePath: "api/orders.go", Name: "Create", Module: "api", IsAsync: true, IsExported: true},
			{ID: "api/orders.go::List", FilePath: "api/orders.go", Name: "List", Module: "api", IsAsync: true, IsExported: true},
			{ID: "jobs/sync.go::run", FilePath: "jobs/sync.go", Name: "run", Module: "jobs", Calls: []string{"flush"}},
			{ID: "jobs/sync.go::flush", FilePath: "jobs/sync.go", Name: "flush", Module: "jobs"},
			{ID: "boot.go::init", FilePath: "boot.go", Name: "init", Module: "boot"},
		},
		BusinessFlows: []BusinessFlow{{Name: "checkout", Steps: []FlowStep{{Name: "create", Atom: "api/orders.go::Create"}}}},
		EntryPoints:   []EntryPoint{{Atom: "api/orders.go::Create", Module: "api", Kind: "http"}},
	}
	a := func(i, line int, typ AccessType) AccessPoint { return access(&project.Atoms[i], line, typ) }

	states := NewSharedStateMap()
	states.Add("global:orders", a(0, 10, AccessWrite), a(1, 20, AccessRead), a(3, 5, AccessReadWrite), a(2, 7, AccessRead))
	states.Add("singleton:client", a(4, 1, AccessInitialization), a(0, 2, AccessInitialization), a(1, 3, AccessRead))
	states.Add("closure:counter", a(0, 30, AccessCapturedWrite), a(1, 31, AccessCapturedWrite))
	states.Add("local:i", a(0, 40, AccessWrite), a(1, 41, AccessWrite))
	states.Add("module:single", a(2, 50, AccessWrite))
	return project, states
}
