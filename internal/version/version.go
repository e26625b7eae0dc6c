// Package version holds build information injected with -ldflags:
//
//	-X nuacast/internal/version.Version=v1.2.3
//	-X nuacast/internal/version.Commit=abc123
//	-X nuacast/internal/version.Date=2025-06-01T00:00:00Z
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// BuildInfo is the JSON form of the build information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build information.
func Get() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: Date,
		GoVersion: runtime.Version(),
	}
}

// Info returns a one-line human-readable summary.
func Info() string {
	return fmt.Sprintf("nuacast %s (commit %s, built %s, %s)", Version, Commit, Date, runtime.Version())
}

// UserAgent is sent with every API request.
func UserAgent() string {
	return "nuacast/" + Version
}
