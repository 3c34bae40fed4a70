package history

import (
	"context"
	"log/slog"

	"racewatch/internal/engine/race"
)

// Recorder stores detection results and reports what changed since the
// previous run of the same project.
type Recorder struct {
	store *Store
	keep  int
}

// NewRecorder wraps store. keep > 0 prunes older runs after each save.
func NewRecorder(store *Store, keep int) *Recorder {
	return &Recorder{store: store, keep: keep}
}

func (r *Recorder) Record(ctx context.Context, projectKey, digest string, res race.DetectionResult) (Delta, error) {
	run, records := FromResult(projectKey, digest, res)
	saved, err := r.store.SaveRun(ctx, run, records)
	if err != nil {
		return Delta{}, err
	}
	delta, err := r.store.DeltaSince(ctx, saved)
	if err != nil {
		return Delta{}, err
	}
	if r.keep > 0 {
		removed, err := r.store.Prune(ctx, saved.ProjectKey, r.keep)
		if err != nil {
			// History stays usable when pruning fails.
			slog.Warn("history prune failed", "project", saved.ProjectKey, "error", err)
		} else if removed > 0 {
			slog.Debug("pruned history runs", "project", saved.ProjectKey, "removed", removed)
		}
	}
	return delta, nil
}

func (r *Recorder) Close() error {
	return r.store.Close()
}
