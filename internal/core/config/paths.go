package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolvedPaths holds absolute-or-cleaned locations derived from a config.
type ResolvedPaths struct {
	Snapshot   string
	DBPath     string
	OutputRoot string
	// Outputs maps report format to its resolved file path.
	Outputs map[string]string
}

// ResolvePaths resolves relative paths against base, normally the directory
// holding the config file. Output files resolve against output.root.
func ResolvePaths(cfg *Config, base string) (ResolvedPaths, error) {
	if strings.TrimSpace(base) == "" {
		return ResolvedPaths{}, fmt.Errorf("base directory must not be empty")
	}

	outputRoot := ResolveRelative(base, cfg.Output.Root)
	resolved := ResolvedPaths{
		DBPath:     ResolveRelative(base, cfg.DB.Path),
		OutputRoot: outputRoot,
		Outputs:    make(map[string]string),
	}
	switch cfg.Input.Snapshot {
	case "":
	case "-":
		resolved.Snapshot = "-"
	default:
		resolved.Snapshot = ResolveRelative(base, cfg.Input.Snapshot)
	}
	for format, path := range cfg.Output.Targets() {
		resolved.Outputs[format] = ResolveRelative(outputRoot, path)
	}
	return resolved, nil
}

func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}
