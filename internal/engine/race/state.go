package race

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// SharedStateMap is an insertion-ordered stateKey -> accesses mapping.
// Iteration order is the order keys were first added, which keeps detection
// output stable across runs.
type SharedStateMap struct {
	keys    []string
	entries map[string][]AccessPoint
}

func NewSharedStateMap() *SharedStateMap {
	return &SharedStateMap{entries: make(map[string][]AccessPoint)}
}

// Add appends accesses to key, registering the key on first use.
func (m *SharedStateMap) Add(key string, accesses ...AccessPoint) {
	if m.entries == nil {
		m.entries = make(map[string][]AccessPoint)
	}
	if _, ok := m.entries[key]; !ok {
		m.keys = append(m.keys, key)
		m.entries[key] = nil
	}
	m.entries[key] = append(m.entries[key], accesses...)
}

func (m *SharedStateMap) Get(key string) ([]AccessPoint, bool) {
	if m == nil {
		return nil, false
	}
	a, ok := m.entries[key]
	return a, ok
}

// Keys returns the keys in insertion order.
func (m *SharedStateMap) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

func (m *SharedStateMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Filter returns a new map holding the keys keep accepts, order preserved.
func (m *SharedStateMap) Filter(keep func(key string, accesses []AccessPoint) bool) *SharedStateMap {
	out := NewSharedStateMap()
	if m == nil {
		return out
	}
	for _, key := range m.keys {
		if keep(key, m.entries[key]) {
			out.Add(key, m.entries[key]...)
		}
	}
	return out
}

// MarshalJSON writes the map as a JSON object in insertion order.
func (m *SharedStateMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if m != nil {
		for i, key := range m.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			v, err := json.Marshal(m.entries[key])
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping the document's key order.
func (m *SharedStateMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("shared state map must be a JSON object")
	}
	*m = SharedStateMap{entries: make(map[string][]AccessPoint)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("shared state key must be a string, got %v", tok)
		}
		var accesses []AccessPoint
		if err := dec.Decode(&accesses); err != nil {
			return fmt.Errorf("decode accesses for %q: %w", key, err)
		}
		for i := range accesses {
			accesses[i].Type = ParseAccessType(string(accesses[i].Type))
		}
		m.Add(key, accesses...)
	}
	_, err = dec.Token()
	return err
}

// BuildSharedStateMap aggregates the per-atom state accesses of a project
// into a shared-state map. Atoms are visited in project order and each atom's
// keys in sorted order.
func BuildSharedStateMap(project *Project) *SharedStateMap {
	out := NewSharedStateMap()
	if project == nil {
		return out
	}
	for _, atom := range project.Atoms {
		keys := make([]string, 0, len(atom.StateAccesses))
		for key := range atom.StateAccesses {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			for _, touch := range atom.StateAccesses[key] {
				out.Add(key, AccessPoint{
					Atom:       atom.ID,
					AtomName:   atom.Name,
					File:       atom.FilePath,
					Line:       touch.Line,
					Module:     atomModule(atom),
					Type:       ParseAccessType(string(touch.Type)),
					IsAsync:    atom.IsAsync,
					IsExported: atom.IsExported,
				})
			}
		}
	}
	return out
}

func atomModule(atom Atom) string {
	if atom.Module != "" {
		return atom.Module
	}
	return atom.FilePath
}
