// Package version reports which audex build is running.
//
// Release builds inject Version, Commit and Date with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/audex/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/audex/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/audex/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Builds without ldflags, such as go install, fall back to the module version
// and VCS stamps recorded by the toolchain.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unknown = "unknown"

var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "audex"

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info is the JSON form printed by "audex version --json".
type Info struct {
	Application string `json:"application"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
}

// GetInfo returns the build description, filling gaps from the toolchain's
// build info.
func GetInfo() Info {
	info := Info{
		Application: ApplicationName,
		Version:     Version,
		Commit:      Commit,
		Date:        Date,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := readBuildInfo()
	if !ok || bi == nil {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.Commit == unknown:
			info.Commit = s.Value
		case s.Key == "vcs.time" && info.Date == unknown:
			info.Date = s.Value
		}
	}
	return info
}

func shortCommit(commit string) string {
	if commit == unknown || len(commit) < 8 {
		return ""
	}
	return commit[:8]
}

// String returns the long form printed by "audex version".
func String() string {
	info := GetInfo()
	if c := shortCommit(info.Commit); c != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, c, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns the form used for --version.
func Short() string {
	info := GetInfo()
	if c := shortCommit(info.Commit); c != "" {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, info.Version, c)
	}
	return ApplicationName + " " + info.Version
}

// UserAgent returns the User-Agent sent to engine mirrors.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s/%s)", ApplicationName, GetInfo().Version, runtime.GOOS, runtime.GOARCH)
}
