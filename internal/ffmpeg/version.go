package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// VersionInfo is what `ffmpeg -version` reports.
type VersionInfo struct {
	Full          string `json:"full"`
	Major         int    `json:"major"`
	Minor         int    `json:"minor"`
	Compiler      string `json:"compiler,omitempty"`
	Configuration string `json:"configuration,omitempty"`
}

// SupportsMinVersion reports whether the version is at least major.minor.
func (v VersionInfo) SupportsMinVersion(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// HasLibrary reports whether the build was configured with --enable-<name>.
func (v VersionInfo) HasLibrary(name string) bool {
	return strings.Contains(v.Configuration, "--enable-"+name)
}

// ProbeVersion runs `<binary> -version` and parses the result.
func ProbeVersion(ctx context.Context, binary string) (VersionInfo, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "-version")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return VersionInfo{}, fmt.Errorf("running %s -version: %w", binary, err)
	}
	return ParseVersion(stdout.String())
}

// ParseVersion parses the output of `ffmpeg -version`.
func ParseVersion(output string) (VersionInfo, error) {
	var info VersionInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n6.0-2-g..."
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			info.Full = parts[2]
			if m := versionRegex.FindStringSubmatch(parts[2]); len(m) == 3 {
				info.Major, _ = strconv.Atoi(m[1])
				info.Minor, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "built with"):
			info.Compiler = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}
	if info.Full == "" {
		return VersionInfo{}, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}
