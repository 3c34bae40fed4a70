package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	coreapp "racewatch/internal/core/app"
	"racewatch/internal/core/config"
	"racewatch/internal/core/ports"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// watchSession drives -watch: an initial run, then a run per snapshot change.
// An edited config file rebuilds the app; a reload that fails validation
// keeps the previous settings. On a terminal the runs feed a live race
// table; otherwise each run prints a plain summary.
type watchSession struct {
	stdout io.Writer
	opts   cliOptions
	cwd    string
	base   string
	server *ObservabilityServer

	// send, when set, routes results to the interactive table.
	send func(raceUpdateMsg)
}

func (w *watchSession) run(ctx context.Context, initial *coreapp.App, cfgPath string) int {
	if w.opts.plain || !isTerminal(w.stdout) {
		return w.loop(ctx, initial, cfgPath)
	}
	return w.runInteractive(ctx, initial, cfgPath)
}

func (w *watchSession) runInteractive(ctx context.Context, initial *coreapp.App, cfgPath string) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newWatchModel(w.opts.hideMitigated),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(w.stdout),
	)
	w.send = func(msg raceUpdateMsg) { p.Send(msg) }

	done := make(chan int, 1)
	go func() {
		code := w.loop(ctx, initial, cfgPath)
		p.Quit()
		done <- code
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		slog.Error("watch ui failed", "error", err)
		cancel()
		<-done
		return exitError
	}
	cancel()
	return <-done
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func (w *watchSession) loop(ctx context.Context, initial *coreapp.App, cfgPath string) int {
	reloads := make(chan *config.Config, 1)
	if cfgPath != "" {
		cw := config.NewWatcher(cfgPath, func(next *config.Config) {
			select {
			case <-reloads:
			default:
			}
			reloads <- next
		})
		if err := cw.Start(ctx); err != nil {
			slog.Warn("config hot reload disabled", "path", cfgPath, "error", err)
		} else {
			defer cw.Stop()
		}
	}

	current := initial
	defer func() {
		if current != initial {
			_ = current.Close()
		}
	}()

	for {
		w.analyzeOnce(ctx, current)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func(a *coreapp.App) {
			done <- a.Watch(runCtx, w.print)
		}(current)

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return exitOK
		case err := <-done:
			cancel()
			if err != nil {
				slog.Error("watch stopped", "error", err)
				return exitError
			}
			return exitOK
		case next := <-reloads:
			cancel()
			<-done
			rebuilt, err := w.rebuild(next)
			if err != nil {
				slog.Error("config reload rejected; keeping previous settings", "error", err)
				continue
			}
			if current != initial {
				_ = current.Close()
			}
			current = rebuilt
			if w.server != nil {
				w.server.SetHealthService(coreapp.NewHealthService(current))
			}
			slog.Info("config applied")
		}
	}
}

func (w *watchSession) rebuild(cfg *config.Config) (*coreapp.App, error) {
	if err := applyOptions(w.opts, cfg, w.cwd); err != nil {
		return nil, err
	}
	paths, err := config.ResolvePaths(cfg, w.base)
	if err != nil {
		return nil, err
	}
	return coreapp.New(cfg, paths)
}

func (w *watchSession) analyzeOnce(ctx context.Context, a *coreapp.App) {
	res, err := a.Analyze(ctx, ports.AnalyzeRequest{})
	w.print(res, err)
}

func (w *watchSession) print(res ports.AnalyzeResult, err error) {
	if w.send != nil {
		w.send(raceUpdateMsg{res: res, err: err})
		if err != nil {
			slog.Debug("analysis failed", "error", err)
		}
		return
	}
	if err != nil {
		slog.Error("analysis failed", "error", err)
		return
	}
	fmt.Fprint(w.stdout, renderSummary(res, w.opts.limit))
}
