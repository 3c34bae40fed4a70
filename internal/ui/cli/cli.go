package cli

import (
	"flag"
	"io"
)

const defaultConfigPath = "racewatch.toml"

type cliOptions struct {
	configPath    string
	snapshot      string
	project       string
	watch         bool
	plain         bool
	hideMitigated bool
	minSeverity   string
	failOn        string
	noReports     bool
	checkConfig   bool
	limit         int
	verbose       bool
	version       bool
	args          []string
}

func parseOptions(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("racewatch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	fs.StringVar(&opts.snapshot, "snapshot", "", "Code graph snapshot to analyze (\"-\" reads stdin); overrides input.snapshot")
	fs.StringVar(&opts.project, "project", "", "Project key used for run history; overrides input.project")
	fs.BoolVar(&opts.watch, "watch", false, "Re-run detection whenever the snapshot file changes")
	fs.BoolVar(&opts.plain, "plain", false, "Print plain summaries in watch mode instead of the live race table")
	fs.BoolVar(&opts.hideMitigated, "hide-mitigated", false, "Drop races that are already guarded by a common lock")
	fs.StringVar(&opts.minSeverity, "min-severity", "", "Only report races at or above this severity (low, medium, high, critical)")
	fs.StringVar(&opts.failOn, "fail-on", "", "Exit with status 3 when an unmitigated race at or above this severity is found")
	fs.BoolVar(&opts.noReports, "no-reports", false, "Skip writing the configured report files")
	fs.BoolVar(&opts.checkConfig, "check-config", false, "Validate the config file and exit")
	fs.IntVar(&opts.limit, "limit", 10, "Maximum number of races listed in the terminal summary (0 lists all)")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}

	opts.args = fs.Args()
	return opts, nil
}
