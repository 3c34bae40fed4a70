package ports

import (
	"context"
	"time"

	"racewatch/internal/data/history"
	"racewatch/internal/data/snapshot"
	"racewatch/internal/engine/race"
)

// SnapshotLoader abstracts where code graph snapshots come from.
type SnapshotLoader interface {
	Load(path string) (*snapshot.Snapshot, error)
}

// SnapshotLoaderFunc adapts a plain function to SnapshotLoader.
type SnapshotLoaderFunc func(path string) (*snapshot.Snapshot, error)

func (f SnapshotLoaderFunc) Load(path string) (*snapshot.Snapshot, error) { return f(path) }

// HistoryStore abstracts run persistence for delta reporting.
type HistoryStore interface {
	Record(ctx context.Context, projectKey, digest string, res race.DetectionResult) (history.Delta, error)
	Close() error
}

// AnalyzeRequest defines one detection run. Empty fields fall back to config.
type AnalyzeRequest struct {
	SnapshotPath string
	ProjectKey   string
	// SkipOutputs suppresses report files for this run.
	SkipOutputs bool
}

// AnalyzeResult summarizes a completed detection run.
type AnalyzeResult struct {
	ProjectKey string
	Snapshot   string
	Digest     string
	Result     race.DetectionResult
	// Delta is nil when history is disabled or could not be written.
	Delta    *history.Delta
	Written  []string
	Cached   bool
	Duration time.Duration
	Finished time.Time
}

// AnalysisService is the driving-port surface over detection use cases.
type AnalysisService interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error)
	LastResult() (AnalyzeResult, bool)
	Watch(ctx context.Context, onResult func(AnalyzeResult, error)) error
	Close() error
}
