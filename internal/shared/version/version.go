// Package version holds build metadata, overridden via -ldflags.
package version

var (
	Version = "0.1.0-dev"
	Commit  = "none"
)
