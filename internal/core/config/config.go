package config

import (
	"strings"
	"time"

	"racewatch/internal/engine/race"
)

type Config struct {
	Version       int           `toml:"version"`
	Input         Input         `toml:"input"`
	Detection     Detection     `toml:"detection"`
	Scoring       Scoring       `toml:"scoring"`
	Locks         Locks         `toml:"locks"`
	DB            Database      `toml:"db"`
	Output        Output        `toml:"output"`
	Watch         Watch         `toml:"watch"`
	Caches        Caches        `toml:"caches"`
	Observability Observability `toml:"observability"`
}

// Input locates the code graph snapshot produced by the extractor.
type Input struct {
	Snapshot string `toml:"snapshot"`
	// Project names the snapshot in run history; defaults to the snapshot's
	// own name or file stem.
	Project string `toml:"project"`
}

type Detection struct {
	Strategies       []string      `toml:"strategies"`
	ExcludeStateKeys []string      `toml:"exclude_state_keys"`
	ExcludeFiles     []string      `toml:"exclude_files"`
	HideMitigated    bool          `toml:"hide_mitigated"`
	MinSeverity      string        `toml:"min_severity"`
	Timeout          time.Duration `toml:"timeout"`
}

// Scoring overrides the risk tables. Struct sections replace their category
// wholesale; map sections override only the keys they name.
type Scoring struct {
	Factors       *race.FactorWeights    `toml:"factors"`
	RaceTypes     map[string]float64     `toml:"race_types"`
	Async         *race.AsyncWeights     `toml:"async"`
	DataIntegrity *DataIntegrity         `toml:"data_integrity"`
	Scopes        map[string]float64     `toml:"scopes"`
	Frequency     *race.FrequencyWeights `toml:"frequency"`
}

type DataIntegrity struct {
	Scopes                   map[string]float64 `toml:"scopes"`
	WriteWriteMultiplier     float64            `toml:"write_write_multiplier"`
	InitializationMultiplier float64            `toml:"initialization_multiplier"`
}

type Locks struct {
	Idioms []LockIdiom `toml:"idioms"`
}

type LockIdiom struct {
	Family  string `toml:"family"`
	Pattern string `toml:"pattern"`
}

type Database struct {
	Enabled     bool          `toml:"enabled"`
	Driver      string        `toml:"driver"`
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
	// KeepRuns bounds stored runs per project; 0 keeps everything.
	KeepRuns int `toml:"keep_runs"`
}

type Output struct {
	Root     string `toml:"root"`
	JSON     string `toml:"json"`
	Markdown string `toml:"markdown"`
	CSV      string `toml:"csv"`
	SARIF    string `toml:"sarif"`
	// Summary prints the terminal summary table after each run.
	Summary *bool `toml:"summary"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
	// RunsPerSecond and Burst throttle re-analysis under bursty writes.
	RunsPerSecond float64 `toml:"runs_per_second"`
	Burst         int     `toml:"burst"`
}

type Caches struct {
	Results int `toml:"results"`
}

type Observability struct {
	Enabled       bool   `toml:"enabled"`
	Port          int    `toml:"port"`
	OTLPEndpoint  string `toml:"otlp_endpoint"`
	EnableTracing bool   `toml:"enable_tracing"`
	ServiceName   string `toml:"service_name"`
}

// Default returns a fully defaulted configuration with no input set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	normalize(cfg)
	return cfg
}

func (o Output) SummaryEnabled() bool {
	return o.Summary == nil || *o.Summary
}

// Targets lists the configured report outputs by format.
func (o Output) Targets() map[string]string {
	out := make(map[string]string, 4)
	for format, path := range map[string]string{
		"json":     o.JSON,
		"markdown": o.Markdown,
		"csv":      o.CSV,
		"sarif":    o.SARIF,
	} {
		if strings.TrimSpace(path) != "" {
			out[format] = path
		}
	}
	return out
}

// WeightsOverride converts the scoring section into engine overrides, or nil
// when nothing is overridden.
func (s Scoring) WeightsOverride() *race.WeightsOverride {
	if s.Factors == nil && s.Async == nil && s.DataIntegrity == nil && s.Frequency == nil &&
		len(s.RaceTypes) == 0 && len(s.Scopes) == 0 {
		return nil
	}
	o := &race.WeightsOverride{
		Factors:   s.Factors,
		Async:     s.Async,
		Frequency: s.Frequency,
	}
	if len(s.RaceTypes) > 0 {
		o.RaceTypes = make(map[race.RaceType]float64, len(s.RaceTypes))
		for k, v := range s.RaceTypes {
			o.RaceTypes[race.RaceType(strings.ToUpper(k))] = v
		}
	}
	o.Scopes = scopeTable(s.Scopes)
	if s.DataIntegrity != nil {
		o.DataIntegrity = &race.DataIntegrityWeights{
			Scopes:                   scopeTable(s.DataIntegrity.Scopes),
			WriteWriteMultiplier:     s.DataIntegrity.WriteWriteMultiplier,
			InitializationMultiplier: s.DataIntegrity.InitializationMultiplier,
		}
	}
	return o
}

func scopeTable(in map[string]float64) map[race.ScopeType]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[race.ScopeType]float64, len(in))
	for k, v := range in {
		out[race.ScopeType(strings.ToLower(k))] = v
	}
	return out
}

// IdiomPatterns returns the configured lock idioms in declaration order.
func (l Locks) IdiomPatterns() []race.IdiomPattern {
	out := make([]race.IdiomPattern, 0, len(l.Idioms))
	for _, idiom := range l.Idioms {
		out = append(out, race.IdiomPattern{Family: idiom.Family, Pattern: idiom.Pattern})
	}
	return out
}
