// Package version holds build information set through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" {
		GoVersion = gv
	}
}

// String returns the one-line build description printed by `chronobot version`.
func String() string {
	return fmt.Sprintf("chronobot %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// StartupFields are logged once when the service starts.
func StartupFields() map[string]any {
	return map[string]any{
		"version":    Version,
		"commit":     GitCommit,
		"build_time": BuildTime,
		"go":         GoVersion,
	}
}
