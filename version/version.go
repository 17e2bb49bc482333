// Package version holds build-time version information.
// These variables are set via -ldflags at release time.
package version

var (
	// GitRelease is the release tag (e.g., v0.3.1).
	GitRelease = "dev"
	// GitCommit is the commit hash the binary was built from.
	GitCommit = ""
	// BuildDate is the UTC build timestamp.
	BuildDate = ""
)
