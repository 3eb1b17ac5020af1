// Package version resolves the binary's version string.
package version

import (
	"runtime/debug"
	"strings"
)

// Version is set at build time via ldflags.
var Version = ""

// Effective returns the version string, with fallback to module build
// info for `go install` builds.
func Effective() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		v := info.Main.Version
		if v != "" && v != "(devel)" {
			return strings.TrimPrefix(v, "v")
		}
	}
	return "dev"
}
