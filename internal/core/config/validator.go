package config

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"racewatch/internal/engine/race"

	"github.com/gobwas/glob"
)

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateDetection(cfg *Config) error {
	if _, unknown := race.StrategiesByName(cfg.Detection.Strategies); len(unknown) > 0 {
		return fmt.Errorf("detection.strategies contains unknown strategy %q", unknown[0])
	}
	for i, pattern := range cfg.Detection.ExcludeStateKeys {
		if _, err := glob.Compile(pattern, ':'); err != nil {
			return fmt.Errorf("detection.exclude_state_keys[%d] %q: %w", i, pattern, err)
		}
	}
	for i, pattern := range cfg.Detection.ExcludeFiles {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("detection.exclude_files[%d] %q: %w", i, pattern, err)
		}
	}
	if race.Severity(cfg.Detection.MinSeverity).Rank() == 0 {
		return fmt.Errorf("detection.min_severity must be one of: low, medium, high, critical")
	}
	if cfg.Detection.Timeout < time.Second {
		return fmt.Errorf("detection.timeout must be >= 1s")
	}
	return nil
}

func validateScoring(cfg *Config) error {
	s := cfg.Scoring
	if s.Factors != nil {
		f := *s.Factors
		sum := 0.0
		for name, v := range map[string]float64{
			"type": f.Type, "async": f.Async, "data_integrity": f.DataIntegrity,
			"scope": f.Scope, "impact": f.Impact, "frequency": f.Frequency,
		} {
			if err := checkWeight("scoring.factors."+name, v); err != nil {
				return err
			}
			sum += v
		}
		if sum <= 0 {
			return fmt.Errorf("scoring.factors must not all be zero")
		}
	}
	for k, v := range s.RaceTypes {
		if !knownRaceType(k) {
			return fmt.Errorf("scoring.race_types has unknown race type %q", k)
		}
		if err := checkWeight("scoring.race_types."+k, v); err != nil {
			return err
		}
	}
	if s.Async != nil {
		for name, v := range map[string]float64{"both": s.Async.Both, "one": s.Async.One, "none": s.Async.None} {
			if err := checkWeight("scoring.async."+name, v); err != nil {
				return err
			}
		}
	}
	if err := checkScopeTable("scoring.scopes", s.Scopes); err != nil {
		return err
	}
	if s.DataIntegrity != nil {
		if err := checkScopeTable("scoring.data_integrity.scopes", s.DataIntegrity.Scopes); err != nil {
			return err
		}
		if s.DataIntegrity.WriteWriteMultiplier < 0 || s.DataIntegrity.InitializationMultiplier < 0 {
			return fmt.Errorf("scoring.data_integrity multipliers must not be negative")
		}
	}
	if s.Frequency != nil {
		fw := *s.Frequency
		if err := checkWeight("scoring.frequency.rare", fw.Rare); err != nil {
			return err
		}
		if err := checkWeight("scoring.frequency.base", fw.Base); err != nil {
			return err
		}
		// A negative step would let more accesses lower the score.
		if fw.Step < 0 {
			return fmt.Errorf("scoring.frequency.step must be >= 0")
		}
		if fw.Base < fw.Rare {
			return fmt.Errorf("scoring.frequency.base must be >= scoring.frequency.rare")
		}
		if fw.RareMaxAccesses < 0 {
			return fmt.Errorf("scoring.frequency.rare_max_accesses must be >= 0")
		}
	}
	return nil
}

func checkWeight(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
	}
	return nil
}

func checkScopeTable(name string, table map[string]float64) error {
	for k, v := range table {
		if !race.IsShared(race.ScopeType(strings.ToLower(k))) {
			return fmt.Errorf("%s has unknown shared scope %q", name, k)
		}
		if err := checkWeight(name+"."+k, v); err != nil {
			return err
		}
	}
	return nil
}

func knownRaceType(name string) bool {
	for _, t := range race.AllRaceTypes {
		if strings.EqualFold(string(t), name) {
			return true
		}
	}
	return false
}

func validateLocks(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Locks.Idioms))
	for i, idiom := range cfg.Locks.Idioms {
		ref := fmt.Sprintf("locks.idioms[%d]", i)
		if idiom.Family == "" {
			return fmt.Errorf("%s.family must not be empty", ref)
		}
		if _, err := regexp.Compile(idiom.Pattern); err != nil {
			return fmt.Errorf("%s.pattern: %w", ref, err)
		}
		key := idiom.Family + "|" + idiom.Pattern
		if seen[key] {
			return fmt.Errorf("duplicate lock idiom %q for family %q", idiom.Pattern, idiom.Family)
		}
		seen[key] = true
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	if cfg.DB.Driver != "sqlite" {
		return fmt.Errorf("db.driver must be sqlite, got %q", cfg.DB.Driver)
	}
	if cfg.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	if cfg.DB.KeepRuns < 0 {
		return fmt.Errorf("db.keep_runs must be >= 0")
	}
	return nil
}

func validateOutput(cfg *Config) error {
	outputs := make(map[string]string)
	checkConflict := func(path, name string) error {
		if path == "" {
			return nil
		}
		path = filepath.Clean(path)
		if owner, exists := outputs[path]; exists {
			return fmt.Errorf("output conflict: %s and %s share the same path %q", owner, name, path)
		}
		outputs[path] = name
		return nil
	}
	for _, target := range []struct{ path, name string }{
		{cfg.Output.JSON, "output.json"},
		{cfg.Output.Markdown, "output.markdown"},
		{cfg.Output.CSV, "output.csv"},
		{cfg.Output.SARIF, "output.sarif"},
	} {
		if err := checkConflict(target.path, target.name); err != nil {
			return err
		}
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 0 || cfg.Watch.Debounce > time.Minute {
		return fmt.Errorf("watch.debounce must be between 0 and 1m")
	}
	if cfg.Watch.RunsPerSecond <= 0 {
		return fmt.Errorf("watch.runs_per_second must be > 0")
	}
	if cfg.Watch.Burst < 1 {
		return fmt.Errorf("watch.burst must be >= 1")
	}
	return nil
}

func validateCaches(cfg *Config) error {
	if cfg.Caches.Results < 0 || cfg.Caches.Results > 1024 {
		return fmt.Errorf("caches.results must be between 0 and 1024")
	}
	return nil
}

func validateObservability(cfg *Config) error {
	if cfg.Observability.Port < 1 || cfg.Observability.Port > 65535 {
		return fmt.Errorf("observability.port must be between 1 and 65535")
	}
	if cfg.Observability.EnableTracing && cfg.Observability.ServiceName == "" {
		return fmt.Errorf("observability.service_name must not be empty when tracing is enabled")
	}
	return nil
}

// Validate runs every section check and returns all failures.
func Validate(cfg *Config) []error {
	var errs []error
	for _, check := range []func(*Config) error{
		validateVersion,
		validateDetection,
		validateScoring,
		validateLocks,
		validateDatabase,
		validateOutput,
		validateWatch,
		validateCaches,
		validateObservability,
	} {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
