package version

import (
	"fmt"
	"runtime"
)

// These variables are set at build time using ldflags
var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"
	// Commit is the git commit hash
	Commit = "unknown"
	// BuildDate is the build timestamp
	BuildDate = "unknown"
)

// Info is the build metadata served by the ops API
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build metadata of the running binary
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// GetFullVersion returns a formatted version string
func GetFullVersion() string {
	if Version == "dev" {
		return fmt.Sprintf("dev (commit: %s)", Commit)
	}
	return fmt.Sprintf("%s (commit: %s, built %s)", Version, Commit, BuildDate)
}
