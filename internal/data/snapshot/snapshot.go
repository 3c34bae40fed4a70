// Package snapshot loads extractor output (the code graph plus an optional
// shared-state map) from JSON.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	domainerrors "racewatch/internal/core/errors"
	"racewatch/internal/engine/race"
)

// Stdin is the path that selects standard input.
const Stdin = "-"

// Snapshot is one extractor run. SharedState is nil when the extractor left
// the map to be derived from the atoms' stateAccesses.
type Snapshot struct {
	race.Project
	SharedState *race.SharedStateMap `json:"sharedState,omitempty"`

	// Path is where the snapshot was read from and Digest the SHA-256 of its
	// bytes; neither is part of the document.
	Path   string `json:"-"`
	Digest string `json:"-"`
	// Warnings lists recoverable problems found while loading.
	Warnings []string `json:"-"`
}

// Load reads a snapshot from path, or from stdin when path is "-".
func Load(path string) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if path == Stdin {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		code := domainerrors.CodeInternal
		if os.IsNotExist(err) {
			code = domainerrors.CodeNotFound
		}
		return nil, domainerrors.AddContext(domainerrors.Wrap(err, code, "read snapshot"), domainerrors.CtxPath, path)
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, domainerrors.AddContext(err, domainerrors.CtxPath, path)
	}
	snap.Path = path
	return snap, nil
}

// Decode parses and checks a snapshot document.
func Decode(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInvalidSnapshot, "decode snapshot")
	}
	if dec.More() {
		return nil, domainerrors.New(domainerrors.CodeInvalidSnapshot, "trailing data after snapshot document")
	}

	seen := make(map[string]bool, len(snap.Atoms))
	for i, atom := range snap.Atoms {
		if strings.TrimSpace(atom.ID) == "" {
			return nil, domainerrors.Newf(domainerrors.CodeInvalidSnapshot, "atoms[%d] has no id", i)
		}
		if seen[atom.ID] {
			snap.Warnings = append(snap.Warnings, fmt.Sprintf("duplicate atom id %q; only the first definition is used", atom.ID))
			continue
		}
		seen[atom.ID] = true
		for key, touches := range atom.StateAccesses {
			for j := range touches {
				touches[j].Type = race.ParseAccessType(string(touches[j].Type))
			}
			atom.StateAccesses[key] = touches
		}
	}

	sum := sha256.Sum256(data)
	snap.Digest = hex.EncodeToString(sum[:])
	return &snap, nil
}

// States returns the explicit shared-state map, or one derived from the
// atoms when the document carried none.
func (s *Snapshot) States() *race.SharedStateMap {
	if s.SharedState != nil {
		return s.SharedState
	}
	return race.BuildSharedStateMap(&s.Project)
}

// ProjectKey names the snapshot in run history: override, then the project
// name, then the file stem.
func (s *Snapshot) ProjectKey(override string) string {
	if k := strings.TrimSpace(override); k != "" {
		return k
	}
	if k := strings.TrimSpace(s.Name); k != "" {
		return k
	}
	if s.Path != "" && s.Path != Stdin {
		base := filepath.Base(s.Path)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "default"
}
