package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultObservabilityPort = 9464
	DefaultServiceName       = "racewatch"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse decodes TOML text, applies defaults and validates the result.
func Parse(data string) (*Config, error) {
	var cfg Config
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	applyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)
	normalize(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, errs[0]
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if len(cfg.Detection.Strategies) == 0 {
		cfg.Detection.Strategies = []string{"write-write", "read-write", "initialization"}
	}
	if strings.TrimSpace(cfg.Detection.MinSeverity) == "" {
		cfg.Detection.MinSeverity = "low"
	}
	if cfg.Detection.Timeout <= 0 {
		cfg.Detection.Timeout = 2 * time.Minute
	}

	if strings.TrimSpace(cfg.DB.Driver) == "" {
		cfg.DB.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.DB.Path) == "" {
		cfg.DB.Path = "racewatch.db"
	}
	if cfg.DB.BusyTimeout <= 0 {
		cfg.DB.BusyTimeout = 5 * time.Second
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Watch.RunsPerSecond <= 0 {
		cfg.Watch.RunsPerSecond = 1
	}
	if cfg.Watch.Burst <= 0 {
		cfg.Watch.Burst = 1
	}

	if cfg.Caches.Results == 0 {
		cfg.Caches.Results = 16
	}

	if cfg.Observability.Port == 0 {
		cfg.Observability.Port = DefaultObservabilityPort
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = DefaultServiceName
	}
}

func normalize(cfg *Config) {
	cfg.Input.Snapshot = strings.TrimSpace(cfg.Input.Snapshot)
	cfg.Input.Project = strings.TrimSpace(cfg.Input.Project)

	cfg.Detection.Strategies = normalizeList(cfg.Detection.Strategies, strings.ToLower)
	cfg.Detection.ExcludeStateKeys = normalizeList(cfg.Detection.ExcludeStateKeys, nil)
	cfg.Detection.ExcludeFiles = normalizeList(cfg.Detection.ExcludeFiles, nil)
	cfg.Detection.MinSeverity = strings.ToLower(strings.TrimSpace(cfg.Detection.MinSeverity))

	for i := range cfg.Locks.Idioms {
		cfg.Locks.Idioms[i].Family = strings.ToLower(strings.TrimSpace(cfg.Locks.Idioms[i].Family))
	}

	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.DB.Path = strings.TrimSpace(cfg.DB.Path)

	cfg.Output.Root = strings.TrimSpace(cfg.Output.Root)
	cfg.Output.JSON = strings.TrimSpace(cfg.Output.JSON)
	cfg.Output.Markdown = strings.TrimSpace(cfg.Output.Markdown)
	cfg.Output.CSV = strings.TrimSpace(cfg.Output.CSV)
	cfg.Output.SARIF = strings.TrimSpace(cfg.Output.SARIF)

	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)
}

func normalizeList(in []string, transform func(string) string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if transform != nil {
			v = transform(v)
		}
		out = append(out, v)
	}
	return out
}
