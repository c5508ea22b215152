// Package version reports the build identity of the push service. Values
// default to development placeholders and are overridden with ldflags:
//
//	-X .../internal/version.Version=v1.2.3
package version

import (
	"runtime"
	"runtime/debug"
)

// Service is the name reported by the /version endpoint and log banners.
const Service = "websocket-push-system"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the JSON body served at /version.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get resolves build information, preferring ldflags values and falling
// back to the VCS revision embedded by the Go toolchain.
func Get() Info {
	commit := Commit
	if commit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			commit = rev
		}
	}
	return Info{
		Service:   Service,
		Version:   Version,
		Commit:    commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
