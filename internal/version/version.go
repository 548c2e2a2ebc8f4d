package version

import "fmt"

// Name of the application
const Name = "Rampart"

// Set during build via -ldflags "-X github.com/Wikid82/rampart/internal/version.Version=...".
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Full returns the version with build metadata when it is known.
func Full() string {
	if BuildTime != "unknown" && GitCommit != "unknown" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
	}
	return Version
}

// String is the banner printed by the version command.
func String() string {
	return Name + " " + Full()
}
