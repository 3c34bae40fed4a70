package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"racewatch/internal/core/errors"
	"racewatch/internal/core/ports"
	"racewatch/internal/data/snapshot"
	"racewatch/internal/engine/race"
	"racewatch/internal/shared/observability"
	"racewatch/internal/shared/util"
	"racewatch/internal/ui/report"
	"racewatch/internal/ui/report/formats"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type analysisService struct {
	app *App
}

var _ ports.AnalysisService = (*analysisService)(nil)

func NewAnalysisService(app *App) ports.AnalysisService {
	return &analysisService{app: app}
}

func (a *App) AnalysisService() ports.AnalysisService {
	return NewAnalysisService(a)
}

func (s *analysisService) Analyze(ctx context.Context, req ports.AnalyzeRequest) (ports.AnalyzeResult, error) {
	if s.app == nil {
		return ports.AnalyzeResult{}, fmt.Errorf("app is required")
	}
	return s.app.Analyze(ctx, req)
}

func (s *analysisService) LastResult() (ports.AnalyzeResult, bool) {
	return s.app.LastResult()
}

func (s *analysisService) Watch(ctx context.Context, onResult func(ports.AnalyzeResult, error)) error {
	return s.app.Watch(ctx, onResult)
}

func (s *analysisService) Close() error {
	return s.app.Close()
}

// Analyze loads a snapshot, runs detection, records history and writes the
// configured reports. History failures are logged and do not fail the run.
func (a *App) Analyze(ctx context.Context, req ports.AnalyzeRequest) (ports.AnalyzeResult, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Analyze")
	defer span.End()

	started := time.Now()
	out, err := a.analyze(ctx, span, req)
	out.Duration = time.Since(started)
	out.Finished = time.Now().UTC()

	switch {
	case err == nil && out.Cached:
		observability.RunsTotal.WithLabelValues("cached").Inc()
	case err == nil:
		observability.RunsTotal.WithLabelValues("ok").Inc()
	case errors.IsCode(err, errors.CodeCanceled):
		observability.RunsTotal.WithLabelValues("canceled").Inc()
	default:
		observability.RunsTotal.WithLabelValues("error").Inc()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.setLast(nil, err)
		return out, err
	}
	a.setLast(&out, nil)
	return out, nil
}

func (a *App) analyze(ctx context.Context, span trace.Span, req ports.AnalyzeRequest) (ports.AnalyzeResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.AnalyzeResult{}, errors.Wrap(err, errors.CodeCanceled, "analysis canceled")
	}
	path := strings.TrimSpace(req.SnapshotPath)
	if path == "" {
		path = a.paths.Snapshot
	}
	if path == "" {
		return ports.AnalyzeResult{}, errors.New(errors.CodeValidationError, "no snapshot given: set input.snapshot or pass -snapshot")
	}

	loadStarted := time.Now()
	snap, err := a.loader.Load(path)
	observability.AnalysisDuration.WithLabelValues("load").Observe(time.Since(loadStarted).Seconds())
	if err != nil {
		return ports.AnalyzeResult{}, errors.AddContext(err, errors.CtxOperation, "load_snapshot")
	}

	projectKey := snap.ProjectKey(firstNonEmpty(req.ProjectKey, a.Config.Input.Project))
	span.SetAttributes(
		attribute.String("racewatch.project", projectKey),
		attribute.String("racewatch.snapshot_digest", snap.Digest),
		attribute.Int("racewatch.atoms", len(snap.Atoms)),
	)

	raw, cached, err := a.detect(ctx, snap)
	if err != nil {
		return ports.AnalyzeResult{}, errors.AddContext(err, errors.CtxProject, projectKey)
	}
	res := a.presentResult(withSnapshotWarnings(raw, snap.Warnings))
	recordResultMetrics(res)
	span.SetAttributes(
		attribute.Int("racewatch.races", res.Summary.TotalRaces),
		attribute.Bool("racewatch.cached", cached),
	)

	out := ports.AnalyzeResult{
		ProjectKey: projectKey,
		Snapshot:   snap.Path,
		Digest:     snap.Digest,
		Result:     res,
		Cached:     cached,
	}

	if a.history != nil {
		histStarted := time.Now()
		delta, err := a.history.Record(ctx, projectKey, snap.Digest, res)
		observability.AnalysisDuration.WithLabelValues("history").Observe(time.Since(histStarted).Seconds())
		if err != nil {
			observability.HistoryWriteErrors.Inc()
			slog.Warn("failed to record run history", "project", projectKey, "error", err)
		} else {
			out.Delta = &delta
		}
	}

	if !req.SkipOutputs && len(a.paths.Outputs) > 0 {
		reportStarted := time.Now()
		written, err := report.WriteAll(a.paths.Outputs, formats.ReportData{
			ProjectName: projectKey,
			ProjectRoot: a.paths.OutputRoot,
			Snapshot:    snap.Path,
			GeneratedAt: time.Now().UTC(),
			Result:      res,
			Delta:       out.Delta,
		})
		observability.AnalysisDuration.WithLabelValues("report").Observe(time.Since(reportStarted).Seconds())
		out.Written = written
		if err != nil {
			return out, errors.AddContext(errors.Wrap(err, errors.CodeStorage, "write reports"), errors.CtxOperation, "write_reports")
		}
	}
	return out, nil
}

// detect serves a cached result for a known digest or runs the engine on its
// own goroutine so the configured timeout and ctx cancellation apply.
func (a *App) detect(ctx context.Context, snap *snapshot.Snapshot) (race.DetectionResult, bool, error) {
	if snap.Digest != "" {
		if res, ok := a.results.Get(snap.Digest); ok {
			observability.ResultCacheHits.Inc()
			return res, true, nil
		}
		observability.ResultCacheMisses.Inc()
	}

	if timeout := a.Config.Detection.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	done := make(chan race.DetectionResult, 1)
	go func() {
		done <- a.engine.Detect(&snap.Project, a.filterStates(snap.States()))
	}()

	select {
	case res := <-done:
		observability.AnalysisDuration.WithLabelValues("detect").Observe(time.Since(started).Seconds())
		slog.Debug("detection finished", "digest", snap.Digest, "races", len(res.Races),
			"duration", time.Since(started), "heap_mb", util.HeapAllocMB())
		if snap.Digest != "" {
			a.results.Put(snap.Digest, res)
		}
		return res, false, nil
	case <-ctx.Done():
		return race.DetectionResult{}, false, errors.Wrap(ctx.Err(), errors.CodeCanceled, "race detection did not finish")
	}
}

func withSnapshotWarnings(res race.DetectionResult, warnings []string) race.DetectionResult {
	if len(warnings) == 0 {
		return res
	}
	merged := make([]string, 0, len(warnings)+len(res.Warnings))
	merged = append(merged, warnings...)
	merged = append(merged, res.Warnings...)
	res.Warnings = merged
	res.Summary.TotalWarnings = len(merged)
	return res
}

func recordResultMetrics(res race.DetectionResult) {
	unmitigated := 0
	for _, r := range res.Races {
		observability.RacesDetected.WithLabelValues(string(r.Type), string(r.Severity)).Inc()
		if !r.HasMitigation {
			unmitigated++
		}
	}
	for _, sev := range race.AllSeverities {
		observability.LastRunRaces.WithLabelValues(string(sev)).Set(float64(res.Summary.BySeverity[sev]))
	}
	observability.LastRunUnmitigated.Set(float64(unmitigated))
	observability.SharedStateItems.Set(float64(res.Summary.SharedStateItems))
	observability.DetectionWarningsTotal.Add(float64(len(res.Warnings)))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
