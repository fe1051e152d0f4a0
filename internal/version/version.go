// Package version reports what build is running. The linker sets the
// package vars; anything it leaves empty is taken from the module's
// embedded VCS stamp.
package version

import (
	"fmt"
	"runtime/debug"
)

// AppName and Component label build_info and the otel/pyroscope service name
const (
	AppName   = "sitedrop"
	Component = "server"
)

// Set with -ldflags "-X github.com/keithlinneman/sitedrop/internal/version.Version=..."
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	info := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = info.withBuildInfo(bi)
	}
	return info
}

// withBuildInfo fills the commit and build date only where the linker did
// not, while the toolchain version and vcs stamp always come from bi
func (i Info) withBuildInfo(bi *debug.BuildInfo) Info {
	i.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "none" {
				i.Commit = s.Value
			}
		case "vcs.time":
			i.CommitDate = s.Value
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" || s.Value == "false" {
				dirty := s.Value == "true"
				i.VCSDirty = &dirty
			}
		}
	}
	return i
}

// Dirty is false when the build carries no vcs stamp
func (i Info) Dirty() bool { return i.VCSDirty != nil && *i.VCSDirty }

// String is the one-line form printed by -V
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)",
		AppName, i.Version, i.Commit, i.CommitDate, i.BuildId, i.BuildDate, i.GoVersion, i.Dirty())
}

// Tags labels pushed profiles so they can be matched to a deploy
func (i Info) Tags() map[string]string {
	return map[string]string{
		"app":       AppName,
		"component": Component,
		"version":   i.Version,
		"commit":    i.Commit,
		"build_id":  i.BuildId,
		"source":    "go-agent",
	}
}
