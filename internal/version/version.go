// Package version carries build-time version information.
package version

// Set at build time via -ldflags.
var (
	// Version is the semantic version of the release.
	Version = "0.1.0"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// GitCommit is the git commit the binary was built from.
	GitCommit = "unknown"
)
