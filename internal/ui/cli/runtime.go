package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	coreapp "racewatch/internal/core/app"
	"racewatch/internal/core/config"
	"racewatch/internal/core/ports"
	"racewatch/internal/data/snapshot"
	"racewatch/internal/engine/race"
	"racewatch/internal/shared/observability"
	"racewatch/internal/shared/version"
)

const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitGateFound = 3

	shutdownTimeout = 5 * time.Second
)

func Run(args []string) int {
	return run(args, os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if opts.version {
		fmt.Fprintf(stdout, "racewatch v%s (%s)\n", version.Version, version.Commit)
		return exitOK
	}
	if err := applyPositional(&opts); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return exitUsage
	}

	configureLogging(stderr, opts.verbose)

	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("failed to detect working directory", "error", err)
		return exitError
	}

	cfg, cfgPath, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return exitError
	}
	if err := applyOptions(opts, cfg, cwd); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return exitError
	}

	if opts.checkConfig {
		if cfgPath == "" {
			fmt.Fprintln(stdout, "no config file found; built-in defaults are valid")
		} else {
			fmt.Fprintf(stdout, "config OK: %s\n", cfgPath)
		}
		return exitOK
	}

	base := configBase(cfgPath, cwd)
	paths, err := config.ResolvePaths(cfg, base)
	if err != nil {
		slog.Error("failed to resolve runtime paths", "error", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName:    cfg.Observability.ServiceName,
			ServiceVersion: version.Version,
			Endpoint:       cfg.Observability.OTLPEndpoint,
			Insecure:       true,
		})
		if err != nil {
			slog.Warn("tracing disabled", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					slog.Warn("failed to flush traces", "error", err)
				}
			}()
		}
	}

	application, err := coreapp.New(cfg, paths)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		return exitError
	}
	defer application.Close()

	var server *ObservabilityServer
	if cfg.Observability.Enabled {
		server = NewObservabilityServer(fmt.Sprintf(":%d", cfg.Observability.Port), coreapp.NewHealthService(application))
		if err := server.Start(ctx); err != nil {
			slog.Error("failed to start observability server", "error", err)
			return exitError
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Stop(sctx)
		}()
	}

	if opts.watch {
		w := &watchSession{
			stdout: stdout,
			opts:   opts,
			cwd:    cwd,
			base:   base,
			server: server,
		}
		return w.run(ctx, application, cfgPath)
	}

	res, err := application.Analyze(ctx, ports.AnalyzeRequest{})
	if err != nil {
		slog.Error("analysis failed", "error", err)
		return exitError
	}
	if cfg.Output.SummaryEnabled() {
		fmt.Fprint(stdout, renderSummary(res, opts.limit))
	}
	return gateExitCode(res.Result, opts.failOn, stderr)
}

func applyPositional(opts *cliOptions) error {
	switch len(opts.args) {
	case 0:
		return nil
	case 1:
		if opts.snapshot != "" {
			return fmt.Errorf("pass the snapshot either with -snapshot or as an argument, not both")
		}
		opts.snapshot = opts.args[0]
		return nil
	default:
		return fmt.Errorf("expected at most one snapshot path, got %d", len(opts.args))
	}
}

// applyOptions layers command-line overrides on top of the loaded config and
// validates the result.
func applyOptions(opts cliOptions, cfg *config.Config, cwd string) error {
	if s := strings.TrimSpace(opts.snapshot); s != "" {
		if s != snapshot.Stdin && !filepath.IsAbs(s) {
			s = filepath.Join(cwd, s)
		}
		cfg.Input.Snapshot = s
	}
	if p := strings.TrimSpace(opts.project); p != "" {
		cfg.Input.Project = p
	}
	if opts.hideMitigated {
		cfg.Detection.HideMitigated = true
	}
	if s := strings.TrimSpace(opts.minSeverity); s != "" {
		cfg.Detection.MinSeverity = strings.ToLower(s)
	}
	if opts.noReports {
		cfg.Output.JSON = ""
		cfg.Output.Markdown = ""
		cfg.Output.CSV = ""
		cfg.Output.SARIF = ""
	}
	if opts.failOn != "" && race.Severity(strings.ToLower(opts.failOn)).Rank() == 0 {
		return fmt.Errorf("-fail-on must be one of low, medium, high, critical; got %q", opts.failOn)
	}
	if opts.watch && cfg.Input.Snapshot == snapshot.Stdin {
		return fmt.Errorf("-watch cannot read the snapshot from stdin")
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func gateExitCode(res race.DetectionResult, failOn string, stderr io.Writer) int {
	if failOn == "" {
		return exitOK
	}
	floor := race.Severity(strings.ToLower(failOn))
	if n := gateFailures(res, floor); n > 0 {
		fmt.Fprintf(stderr, "%d unmitigated race(s) at or above %s\n", n, floor)
		return exitGateFound
	}
	return exitOK
}

// loadConfig reads an explicit config path, or the default one when it
// exists. A missing default file falls back to built-in defaults and an
// empty path.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	explicit := path != defaultConfigPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, filepath.Clean(path), nil
	}
	if !explicit && os.IsNotExist(err) {
		slog.Debug("no config file; using defaults", "path", path)
		cfg := config.Default()
		config.ApplyEnvOverrides(cfg)
		return cfg, "", nil
	}
	return nil, "", err
}

// configBase is the directory relative config paths resolve against.
func configBase(cfgPath, cwd string) string {
	if cfgPath == "" {
		return cwd
	}
	return filepath.Dir(cfgPath)
}

func configureLogging(output io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}
