package race

import "sort"

type cacheKind uint8

const (
	cacheCallers cacheKind = iota + 1
	cacheEntries
)

type cacheKey struct {
	kind cacheKind
	atom string
}

// Reachability approximates whether two accesses may run concurrently using
// async flags and the caller graph. It is best-effort: independent call paths
// and distinct entry points are assumed to run in parallel.
//
// A Reachability instance caches caller and entry-point lists for one project
// snapshot and must not be reused across snapshots.
type Reachability struct {
	project *Project
	byID    map[string]*Atom
	// callerIndex maps a callee reference (id or bare name) to the ids of the
	// atoms whose calls list mentions it.
	callerIndex map[string][]string
	cache       map[cacheKey][]string
}

func NewReachability(project *Project) *Reachability {
	r := &Reachability{
		project: project,
		byID:    make(map[string]*Atom),
		cache:   make(map[cacheKey][]string),
	}
	if project != nil {
		for i := range project.Atoms {
			a := &project.Atoms[i]
			if _, dup := r.byID[a.ID]; !dup {
				r.byID[a.ID] = a
			}
		}
	}
	return r
}

// Atom returns the atom with id, or nil.
func (r *Reachability) Atom(id string) *Atom {
	return r.byID[id]
}

// CanRunConcurrently reports whether a1 and a2 may interleave. Only two
// synchronous atoms that share a caller and reduce to the same entry points
// are treated as sequential.
func (r *Reachability) CanRunConcurrently(a1, a2 AccessPoint) bool {
	if r.isAsync(a1) || r.isAsync(a2) {
		return true
	}
	if !r.sameBusinessFlow(a1.Atom, a2.Atom) {
		return true
	}

	e1 := r.EntryPoints(a1.Atom)
	e2 := r.EntryPoints(a2.Atom)
	if len(e1) == 0 || len(e2) == 0 {
		// Cycle without a root: disjointness cannot be disproved.
		return true
	}
	return !equalSets(e1, e2)
}

func (r *Reachability) isAsync(a AccessPoint) bool {
	if atom := r.byID[a.Atom]; atom != nil {
		return atom.IsAsync
	}
	return a.IsAsync
}

func (r *Reachability) sameBusinessFlow(atom1, atom2 string) bool {
	c1 := r.Callers(atom1)
	if len(c1) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(c1))
	for _, c := range c1 {
		set[c] = struct{}{}
	}
	for _, c := range r.Callers(atom2) {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

// Callers returns the sorted ids of atoms that call atomID, matched by id or by
// bare name, plus the atom's declared calledBy list.
func (r *Reachability) Callers(atomID string) []string {
	key := cacheKey{kind: cacheCallers, atom: atomID}
	if cached, ok := r.cache[key]; ok {
		return cached
	}
	r.buildCallerIndex()

	seen := make(map[string]struct{})
	add := func(id string) {
		if id == "" || id == atomID {
			return
		}
		seen[id] = struct{}{}
	}
	for _, id := range r.callerIndex[atomID] {
		add(id)
	}
	if atom := r.byID[atomID]; atom != nil {
		if atom.Name != "" && atom.Name != atomID {
			for _, id := range r.callerIndex[atom.Name] {
				add(id)
			}
		}
		for _, id := range atom.CalledBy {
			add(id)
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	r.cache[key] = out
	return out
}

func (r *Reachability) buildCallerIndex() {
	if r.callerIndex != nil {
		return
	}
	r.callerIndex = make(map[string][]string)
	if r.project == nil {
		return
	}
	for _, atom := range r.project.Atoms {
		for _, callee := range atom.Calls {
			r.callerIndex[callee] = append(r.callerIndex[callee], atom.ID)
		}
	}
}

// EntryPoints walks the caller graph backwards from atomID and returns the
// sorted set of roots (atoms with no callers). An atom without callers is its
// own entry point; a caller cycle with no root yields an empty set.
func (r *Reachability) EntryPoints(atomID string) []string {
	key := cacheKey{kind: cacheEntries, atom: atomID}
	if cached, ok := r.cache[key]; ok {
		return cached
	}

	entries := make(map[string]struct{})
	visited := map[string]bool{atomID: true}
	frontier := []string{atomID}
	for len(frontier) > 0 {
		next := make([]string, 0)
		for _, node := range frontier {
			callers := r.Callers(node)
			if len(callers) == 0 {
				entries[node] = struct{}{}
				continue
			}
			for _, c := range callers {
				if visited[c] {
					continue
				}
				visited[c] = true
				next = append(next, c)
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(entries))
	for id := range entries {
		out = append(out, id)
	}
	sort.Strings(out)
	r.cache[key] = out
	return out
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
