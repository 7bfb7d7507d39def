// Package version reports build metadata and the identity of the running
// replica. Release builds set the variables with -ldflags; other builds fall
// back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

const unknown = "unknown"

// InstanceIDEnv overrides the generated instance id, e.g. with a pod name.
const InstanceIDEnv = "GATEKEEPER_INSTANCE_ID"

// Set via: -ldflags "-X gatekeeper/internal/version.Version=v1.0.0 ..."
var (
	Version   = unknown
	BuildDate = unknown
	GitCommit = unknown
)

// Info holds build metadata and runtime identity.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process build metadata. The result is computed once;
// the instance id stays stable for the life of the process so replicas can
// be told apart in logs, traces and metrics.
func GetInfo() Info {
	once.Do(func() {
		bi, _ := debug.ReadBuildInfo()
		info = resolve(Info{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate}, bi)
		info.GoVersion = runtime.Version()
		info.InstanceID = instanceID()
		info.Hostname = getHostname()
	})
	return info
}

// resolve fills the fields ldflags left unknown from bi.
func resolve(in Info, bi *debug.BuildInfo) Info {
	if bi == nil {
		return in
	}
	if in.Version == unknown && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		in.Version = bi.Main.Version
	}

	var modified bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if in.GitCommit == unknown && s.Value != "" {
				in.GitCommit = s.Value
				if len(in.GitCommit) > 12 {
					in.GitCommit = in.GitCommit[:12]
				}
			}
		case "vcs.time":
			if in.BuildDate == unknown && s.Value != "" {
				in.BuildDate = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if modified && in.GitCommit != unknown {
		in.GitCommit += "-dirty"
	}
	return in
}

func instanceID() string {
	if id := os.Getenv(InstanceIDEnv); id != "" {
		return id
	}
	return uuid.NewString()
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return unknown
	}
	return hostname
}

// String formats version info for CLI display.
func (i Info) String() string {
	s := fmt.Sprintf("gatekeeper version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
	if i.GoVersion != "" {
		s += " " + i.GoVersion
	}
	return s
}
