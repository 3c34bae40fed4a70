package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"racewatch/internal/core/config"
	"racewatch/internal/core/ports"
	"racewatch/internal/data/cache"
	"racewatch/internal/data/history"
	"racewatch/internal/data/snapshot"
	"racewatch/internal/engine/race"
	"racewatch/internal/shared/observability"
	"racewatch/internal/shared/util"

	"github.com/gobwas/glob"
)

// App wires configuration, the detection engine and its adapters.
type App struct {
	Config *config.Config
	paths  config.ResolvedPaths

	engine  *race.Engine
	loader  ports.SnapshotLoader
	history ports.HistoryStore
	// results caches raw detection output by snapshot digest.
	results *cache.LRU[string, race.DetectionResult]

	stateExcludes []glob.Glob
	fileExcludes  []glob.Glob
	minSeverity   race.Severity

	limiters *util.LimiterRegistry

	lastMu  sync.RWMutex
	last    *ports.AnalyzeResult
	lastErr error
}

type Option func(*App)

// WithHistory injects a history store instead of opening the configured one.
func WithHistory(store ports.HistoryStore) Option {
	return func(a *App) { a.history = store }
}

func WithSnapshotLoader(loader ports.SnapshotLoader) Option {
	return func(a *App) { a.loader = loader }
}

func New(cfg *config.Config, paths config.ResolvedPaths, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	engine, err := race.NewEngine(race.Config{
		Weights:    cfg.Scoring.WeightsOverride(),
		Idioms:     cfg.Locks.IdiomPatterns(),
		Strategies: cfg.Detection.Strategies,
		Logger:     slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	stateExcludes, err := compileGlobs(cfg.Detection.ExcludeStateKeys, "exclude state key", ':')
	if err != nil {
		return nil, err
	}
	fileExcludes, err := compileGlobs(cfg.Detection.ExcludeFiles, "exclude file", '/')
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:        cfg,
		paths:         paths,
		engine:        engine,
		loader:        ports.SnapshotLoaderFunc(snapshot.Load),
		stateExcludes: stateExcludes,
		fileExcludes:  fileExcludes,
		minSeverity:   race.Severity(strings.ToLower(cfg.Detection.MinSeverity)),
		limiters:      util.NewLimiterRegistry(cfg.Watch.RunsPerSecond, cfg.Watch.Burst, 10*time.Minute),
	}
	a.results = cache.NewLRU[string, race.DetectionResult](cfg.Caches.Results, func(string, race.DetectionResult) {
		observability.ResultCacheEvictions.Inc()
	})
	for _, opt := range opts {
		opt(a)
	}

	if a.history == nil && cfg.DB.Enabled {
		store, err := history.Open(context.Background(), paths.DBPath, cfg.DB.BusyTimeout)
		if err != nil {
			a.limiters.Close()
			return nil, fmt.Errorf("open history store: %w", err)
		}
		a.history = history.NewRecorder(store, cfg.DB.KeepRuns)
	}
	return a, nil
}

func compileGlobs(patterns []string, label string, separator rune) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, separator)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", label, pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Paths returns the resolved runtime locations.
func (a *App) Paths() config.ResolvedPaths {
	return a.paths
}

func (a *App) HistoryEnabled() bool {
	return a.history != nil
}

func (a *App) Close() error {
	if a == nil {
		return nil
	}
	a.limiters.Close()
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}

func (a *App) setLast(res *ports.AnalyzeResult, err error) {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	if res != nil {
		cp := *res
		a.last = &cp
	}
	a.lastErr = err
}

// LastResult returns the most recent successful run.
func (a *App) LastResult() (ports.AnalyzeResult, bool) {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	if a.last == nil {
		return ports.AnalyzeResult{}, false
	}
	return *a.last, true
}

func (a *App) lastError() error {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	return a.lastErr
}
