package race

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocks(t *testing.T, extra ...IdiomPattern) *LockAnalyzer {
	t.Helper()
	a, err := NewLockAnalyzer(extra...)
	require.NoError(t, err)
	return a
}

func TestProtectionOf_ExplicitDeclaration(t *testing.T) {
	locks := newTestLocks(t)
	atom := &Atom{ID: "a", LockDeclarations: []LockDeclaration{
		{Type: "RWMutex", Name: "mu", ProtectedKeys: []string{"cache"}},
		{Type: "semaphore", Name: "sem", ScopeLines: []int{20, 10}},
	}}

	info := locks.ProtectionOf("module:cache", AccessPoint{Atom: "a", Line: 99}, atom)
	require.NotNil(t, info)
	assert.Equal(t, FamilyMutex, info.Family)
	assert.Equal(t, "mu", info.Name)
	assert.Equal(t, "module:cache", info.Protected)
	assert.False(t, info.Implicit)

	info = locks.ProtectionOf("module:other", AccessPoint{Atom: "a", Line: 15}, atom)
	require.NotNil(t, info)
	assert.Equal(t, FamilySemaphore, info.Family)
	assert.Empty(t, info.Protected)

	assert.Nil(t, locks.ProtectionOf("module:other", AccessPoint{Atom: "a", Line: 30}, atom))
}

func TestProtectionOf_ImplicitIdioms(t *testing.T) {
	locks := newTestLocks(t)
	tests := []struct {
		code   string
		family string
	}{
		{"await mutex.runExclusive(() => total++)", FamilyMutex},
		{"const permit = await pool.acquire()", FamilySemaphore},
		{"Atomics.add(view, 0, 1)", FamilyAtomic},
		{"await db.query('BEGIN'); total++; await db.query('COMMIT')", FamilyTransaction},
	}
	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			info := locks.ProtectionOf("global:total", AccessPoint{}, &Atom{RawCode: tt.code})
			require.NotNil(t, info)
			assert.Equal(t, tt.family, info.Family)
			assert.True(t, info.Implicit)
			assert.Equal(t, "global:total", info.Protected)
		})
	}

	assert.Nil(t, locks.ProtectionOf("global:total", AccessPoint{}, &Atom{RawCode: "total += 1"}))
	assert.Nil(t, locks.ProtectionOf("global:total", AccessPoint{}, &Atom{}))
	assert.Nil(t, locks.ProtectionOf("global:total", AccessPoint{}, nil))
}

func TestRegisterIdiom(t *testing.T) {
	locks := newTestLocks(t)
	require.NoError(t, locks.RegisterIdiom("channel", `(?i)chan\s*<-`))

	info := locks.ProtectionOf("global:q", AccessPoint{}, &Atom{RawCode: "done chan <- struct{}{}"})
	require.NotNil(t, info)
	assert.Equal(t, "channel", info.Family)

	// Earlier entries keep precedence.
	info = locks.ProtectionOf("global:q", AccessPoint{}, &Atom{RawCode: "mu.Lock(); out chan <- v"})
	require.NotNil(t, info)
	assert.Equal(t, FamilyMutex, info.Family)

	assert.Error(t, locks.RegisterIdiom("", "x"))
	assert.Error(t, locks.RegisterIdiom("bad", "("))
	_, err := NewLockAnalyzer(IdiomPattern{Family: "bad", Pattern: "[z-a]"})
	assert.Error(t, err)
}

func TestHaveCommonLock(t *testing.T) {
	locks := newTestLocks(t)
	a1 := &Atom{ID: "a", LockDeclarations: []LockDeclaration{{Type: "mutex", Name: "cartLock", ScopeLines: []int{1, 10}}}}
	a2 := &Atom{ID: "b", LockDeclarations: []LockDeclaration{{Type: "mutex", Name: "cartLock", ScopeLines: []int{1, 10}}}}
	a3 := &Atom{ID: "c", LockDeclarations: []LockDeclaration{{Type: "semaphore", Name: "cartLock", ScopeLines: []int{1, 10}}}}
	a4 := &Atom{ID: "d", LockDeclarations: []LockDeclaration{{Type: "mutex", Name: "otherLock", ScopeLines: []int{1, 10}}}}
	at := AccessPoint{Line: 5}

	assert.True(t, locks.HaveCommonLock("global:cart", at, at, a1, a2))
	assert.False(t, locks.HaveCommonLock("global:cart", at, at, a1, a3), "family differs")
	assert.False(t, locks.HaveCommonLock("global:cart", at, at, a1, a4), "name differs, nothing protected")
	assert.False(t, locks.HaveCommonLock("global:cart", at, AccessPoint{Line: 50}, a1, a2), "second access outside scope")
}

func TestCheckMitigation(t *testing.T) {
	locks := newTestLocks(t)
	atoms := map[string]*Atom{
		"locked1":  {ID: "locked1", Name: "locked1", LockDeclarations: []LockDeclaration{{Type: "mutex", Name: "m", ProtectedKeys: []string{"global:x"}}}},
		"locked2":  {ID: "locked2", Name: "locked2", LockDeclarations: []LockDeclaration{{Type: "mutex", Name: "m", ProtectedKeys: []string{"x"}}}},
		"atomic1":  {ID: "atomic1", Name: "atomic1", RawCode: "atomic.AddInt64(&x, 1)"},
		"atomic2":  {ID: "atomic2", Name: "atomic2", RawCode: "atomic.LoadInt64(&x)"},
		"bare":     {ID: "bare", Name: "bare", RawCode: "x++"},
		"otherMux": {ID: "otherMux", Name: "otherMux", LockDeclarations: []LockDeclaration{{Type: "mutex", Name: "n", ScopeLines: []int{1, 100}}}},
		"m1":       {ID: "m1", Name: "m1", LockDeclarations: []LockDeclaration{{Type: "mutex", Name: "m1", ProtectedKeys: []string{"global:x"}}}},
		"m2":       {ID: "m2", Name: "m2", LockDeclarations: []LockDeclaration{{Type: "mutex", Name: "m2", ProtectedKeys: []string{"global:x"}}}},
	}
	lookup := func(id string) *Atom { return atoms[id] }
	raceOf := func(x, y string) Race {
		return Race{StateKey: "global:x", Accesses: [2]AccessPoint{
			{Atom: x, AtomName: x, Line: 5}, {Atom: y, AtomName: y, Line: 6},
		}}
	}

	m := locks.CheckMitigation(raceOf("locked1", "locked2"), lookup)
	assert.True(t, m.IsMitigated)
	assert.Equal(t, MitigationCommonLock, m.MitigationType)
	assert.Equal(t, ConfidenceHigh, m.Confidence)

	m = locks.CheckMitigation(raceOf("atomic1", "atomic2"), lookup)
	assert.True(t, m.IsMitigated)
	assert.Equal(t, "implicit-atomic", m.MitigationType)
	assert.Equal(t, ConfidenceLow, m.Confidence)

	m = locks.CheckMitigation(raceOf("locked1", "bare"), lookup)
	assert.False(t, m.IsMitigated)
	assert.Empty(t, m.MitigationType)
	assert.Contains(t, m.Details, "partial mitigation: ordering issue still possible")

	m = locks.CheckMitigation(raceOf("bare", "locked2"), lookup)
	assert.False(t, m.IsMitigated)
	assert.Contains(t, m.Details[0], "only locked2 is protected")

	m = locks.CheckMitigation(raceOf("locked1", "otherMux"), lookup)
	assert.False(t, m.IsMitigated)
	assert.Equal(t, ConfidenceLow, m.Confidence)

	m = locks.CheckMitigation(raceOf("m1", "m2"), lookup)
	assert.True(t, m.IsMitigated)
	assert.Equal(t, MitigationSharedProtectedKey, m.MitigationType)
	assert.Equal(t, ConfidenceLow, m.Confidence)
	assert.Contains(t, m.Details[0], `mutex "m1" and mutex "m2"`)

	m = locks.CheckMitigation(raceOf("bare", "missing"), lookup)
	assert.False(t, m.IsMitigated)
	assert.Equal(t, []string{"no synchronization found"}, m.Details)
}
