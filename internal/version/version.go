// Package version holds build information for codecconf.
//
// Version, Commit and Date are set at link time:
//
//	go build -ldflags "-X github.com/jmylchreest/codecconf/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/codecconf/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/codecconf/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set via ldflags.
var (
	// Version is a SemVer release ("1.2.3") or snapshot ("1.2.4-SNAPSHOT.abc1234").
	Version = "dev"
	Commit  = "unknown"
	// Date is the build timestamp in RFC3339.
	Date = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "codecconf"

// Info is the build information reported by `version --json`, stored with
// every suite run and served by the health endpoint.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetInfo returns the build information of the running binary.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// ShortCommit returns the first 8 characters of the commit, or "" when the
// commit is unknown.
func (i Info) ShortCommit() string {
	if i.Commit == "unknown" || len(i.Commit) < 8 {
		return ""
	}
	return i.Commit[:8]
}

// String returns a human-readable version line.
func String() string {
	info := GetInfo()
	if c := info.ShortCommit(); c != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, c, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns the version used for cobra's --version output.
func Short() string {
	if c := GetInfo().ShortCommit(); c != "" {
		return fmt.Sprintf("%s (%s)", Version, c)
	}
	return Version
}

// IsSnapshot reports whether this is a development or prerelease build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}
