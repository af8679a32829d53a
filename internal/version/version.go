// Package version reports build information for the binaries.
//
//nolint:revive
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "dev"
	// CommitHash is overridden by ldflags at build time, or read from VCS build info.
	CommitHash = ""
	// BuildTime is overridden by ldflags at build time, or read from VCS build info.
	BuildTime = ""

	vcsOnce sync.Once
)

func readVCS() {
	if CommitHash != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			CommitHash = setting.Value
		case "vcs.time":
			BuildTime = setting.Value
		}
	}
}

// GetInfo returns the version followed by a short commit hash when one is known.
func GetInfo() string {
	vcsOnce.Do(readVCS)
	if CommitHash == "" {
		return Version
	}
	short := CommitHash
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, short)
}
