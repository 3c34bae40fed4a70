package app

import (
	"context"
	"log/slog"
	"time"

	"racewatch/internal/core/errors"
	"racewatch/internal/core/ports"
	"racewatch/internal/core/watcher"
	"racewatch/internal/data/snapshot"
	"racewatch/internal/shared/observability"
)

// Watch re-runs Analyze whenever the configured snapshot changes, until ctx
// ends. Bursts of changes collapse into one pending run and runs are
// throttled by the watch rate limit. onResult sees every run outcome.
func (a *App) Watch(ctx context.Context, onResult func(ports.AnalyzeResult, error)) error {
	path := a.paths.Snapshot
	if path == "" || path == snapshot.Stdin {
		return errors.New(errors.CodeValidationError, "watch mode needs input.snapshot to name a file")
	}

	trigger := make(chan struct{}, 1)
	w, err := watcher.NewWatcher(a.Config.Watch.Debounce, nil, func(paths []string) {
		slog.Debug("snapshot changed", "paths", paths)
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Watch([]string{path}); err != nil {
		return errors.AddContext(errors.Wrap(err, errors.CodeInternal, "start snapshot watcher"), errors.CtxPath, path)
	}
	slog.Info("watching snapshot", "path", path, "debounce", a.Config.Watch.Debounce)

	limiter := a.limiters.Get(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-trigger:
		}

		if d := limiter.Delay(); d > 0 {
			observability.WatcherRunsThrottled.Inc()
			slog.Debug("throttling re-analysis", "delay", d)
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}

		res, err := a.Analyze(ctx, ports.AnalyzeRequest{})
		if onResult != nil {
			onResult(res, err)
		}
	}
}
