package race

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func callGraph(atoms ...Atom) *Reachability {
	return NewReachability(&Project{Atoms: atoms})
}

func TestCallers_MatchesIDNameAndCalledBy(t *testing.T) {
	r := callGraph(
		Atom{ID: "a.go::handler", Name: "handler", Calls: []string{"b.go::save"}},
		Atom{ID: "c.go::job", Name: "job", Calls: []string{"save"}},
		Atom{ID: "b.go::save", Name: "save", CalledBy: []string{"d.go::cron"}},
		Atom{ID: "d.go::cron", Name: "cron"},
		Atom{ID: "e.go::self", Name: "self", Calls: []string{"e.go::self"}},
	)

	assert.Equal(t, []string{"a.go::handler", "c.go::job", "d.go::cron"}, r.Callers("b.go::save"))
	assert.Empty(t, r.Callers("a.go::handler"))
	assert.Empty(t, r.Callers("e.go::self"), "self-recursion is not a caller")
}

func TestEntryPoints(t *testing.T) {
	r := callGraph(
		Atom{ID: "main", Calls: []string{"svc"}},
		Atom{ID: "cli", Calls: []string{"svc"}},
		Atom{ID: "svc", Calls: []string{"repo"}},
		Atom{ID: "repo"},
	)

	assert.Equal(t, []string{"cli", "main"}, r.EntryPoints("repo"))
	assert.Equal(t, []string{"main"}, r.EntryPoints("main"))
}

func TestEntryPoints_CycleTerminates(t *testing.T) {
	r := callGraph(
		Atom{ID: "x"},
		Atom{ID: "y"},
		Atom{ID: "c1", Calls: []string{"x", "y", "c2"}},
		Atom{ID: "c2", Calls: []string{"c1"}},
	)

	assert.Empty(t, r.EntryPoints("x"))
	assert.True(t, r.CanRunConcurrently(AccessPoint{Atom: "x"}, AccessPoint{Atom: "y"}),
		"rootless cycles must be treated as possibly concurrent")
}

func TestCanRunConcurrently(t *testing.T) {
	tests := []struct {
		name  string
		atoms []Atom
		a, b  string
		want  bool
	}{
		{
			name:  "both async",
			atoms: []Atom{{ID: "main", Calls: []string{"a", "b"}}, {ID: "a", IsAsync: true}, {ID: "b", IsAsync: true}},
			a:     "a", b: "b", want: true,
		},
		{
			name:  "independent callers",
			atoms: []Atom{{ID: "h1", Calls: []string{"a"}}, {ID: "h2", Calls: []string{"b"}}, {ID: "a"}, {ID: "b"}},
			a:     "a", b: "b", want: true,
		},
		{
			name:  "no callers at all",
			atoms: []Atom{{ID: "a"}, {ID: "b"}},
			a:     "a", b: "b", want: true,
		},
		{
			name:  "shared caller single entry",
			atoms: []Atom{{ID: "main", Calls: []string{"a", "b"}}, {ID: "a"}, {ID: "b"}},
			a:     "a", b: "b", want: false,
		},
		{
			name:  "one async shares caller and entry",
			atoms: []Atom{{ID: "main", Calls: []string{"a", "b"}}, {ID: "a", IsAsync: true}, {ID: "b"}},
			a:     "a", b: "b", want: true,
		},
		{
			name: "shared caller different entry sets",
			atoms: []Atom{
				{ID: "main", Calls: []string{"svc"}},
				{ID: "worker", Calls: []string{"b"}},
				{ID: "svc", Calls: []string{"a", "b"}},
				{ID: "a"}, {ID: "b"},
			},
			a: "a", b: "b", want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := callGraph(tt.atoms...)
			got := r.CanRunConcurrently(AccessPoint{Atom: tt.a}, AccessPoint{Atom: tt.b})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReachability_CachesPerInstance(t *testing.T) {
	project := &Project{Atoms: []Atom{{ID: "main", Calls: []string{"a"}}, {ID: "a"}}}
	r := NewReachability(project)
	assert.Equal(t, []string{"main"}, r.Callers("a"))

	// Mutating the snapshot after the first query does not leak into this
	// instance; a new instance sees the new graph.
	project.Atoms[0].Calls = nil
	assert.Equal(t, []string{"main"}, r.Callers("a"))
	assert.Empty(t, NewReachability(project).Callers("a"))
}
