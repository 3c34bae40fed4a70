package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: RACEWATCH_[SECTION]_[KEY] (e.g. RACEWATCH_DB_PATH).
func ApplyEnvOverrides(cfg *Config) {
	setEnvString(&cfg.Input.Snapshot, "RACEWATCH_INPUT_SNAPSHOT")
	setEnvString(&cfg.Input.Project, "RACEWATCH_INPUT_PROJECT")

	setEnvBool(&cfg.Detection.HideMitigated, "RACEWATCH_DETECTION_HIDE_MITIGATED")
	setEnvString(&cfg.Detection.MinSeverity, "RACEWATCH_DETECTION_MIN_SEVERITY")
	setEnvDuration(&cfg.Detection.Timeout, "RACEWATCH_DETECTION_TIMEOUT")

	setEnvBool(&cfg.DB.Enabled, "RACEWATCH_DB_ENABLED")
	setEnvString(&cfg.DB.Path, "RACEWATCH_DB_PATH")
	setEnvDuration(&cfg.DB.BusyTimeout, "RACEWATCH_DB_BUSY_TIMEOUT")
	setEnvInt(&cfg.DB.KeepRuns, "RACEWATCH_DB_KEEP_RUNS")

	setEnvDuration(&cfg.Watch.Debounce, "RACEWATCH_WATCH_DEBOUNCE")

	setEnvBool(&cfg.Observability.Enabled, "RACEWATCH_OBSERVABILITY_ENABLED")
	setEnvInt(&cfg.Observability.Port, "RACEWATCH_OBSERVABILITY_PORT")
	setEnvString(&cfg.Observability.OTLPEndpoint, "RACEWATCH_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "RACEWATCH_OBSERVABILITY_ENABLE_TRACING")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.ToLower(val)); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
