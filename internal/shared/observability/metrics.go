package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "racewatch_analysis_seconds",
		Help:    "Time spent per analysis stage (load, detect, report, history).",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "racewatch_runs_total",
		Help: "Analysis runs by outcome (ok, cached, error, canceled).",
	}, []string{"outcome"})

	RacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "racewatch_races_detected_total",
		Help: "Races reported across all runs.",
	}, []string{"type", "severity"})

	LastRunRaces = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "racewatch_last_run_races",
		Help: "Races reported by the most recent run, by severity.",
	}, []string{"severity"})

	LastRunUnmitigated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "racewatch_last_run_unmitigated_races",
		Help: "Unmitigated races reported by the most recent run.",
	})

	SharedStateItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "racewatch_shared_state_items",
		Help: "Shared state keys analyzed by the most recent run.",
	})

	DetectionWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racewatch_detection_warnings_total",
		Help: "Warnings produced by detection (missing atoms, unknown scopes, aborted strategies).",
	})

	ResultCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racewatch_result_cache_hits_total",
		Help: "Analyses served from the result cache.",
	})

	ResultCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racewatch_result_cache_misses_total",
		Help: "Analyses that missed the result cache.",
	})

	ResultCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racewatch_result_cache_evictions_total",
		Help: "Results evicted from the result cache.",
	})

	HistoryWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racewatch_history_write_errors_total",
		Help: "Failed attempts to persist a run to history.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racewatch_watcher_events_total",
		Help: "File system events received by the snapshot watcher.",
	})

	WatcherRunsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racewatch_watcher_runs_throttled_total",
		Help: "Re-analysis triggers delayed by the watch rate limiter.",
	})
)
