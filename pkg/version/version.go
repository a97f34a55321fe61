// Package version exposes build information set through -ldflags.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/rshade/slidetiler/pkg/version.version=1.2.0"
//
//nolint:gochecknoglobals // Populated by the linker.
var (
	version   = "0.0.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// GetVersion returns the semantic version without a leading "v".
func GetVersion() string {
	if v, err := semver.NewVersion(version); err == nil {
		return v.String()
	}
	return version
}

// GetGitCommit returns the commit the binary was built from.
func GetGitCommit() string {
	return gitCommit
}

// GetBuildDate returns the build timestamp.
func GetBuildDate() string {
	return buildDate
}

// String returns the full version line used by --version.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", GetVersion(), gitCommit, buildDate)
}
