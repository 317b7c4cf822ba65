// Package version reports the tabkeep build and the on-disk formats it reads and writes.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"pkt.systems/tabkeep/internal/persist"
)

// buildVersion is set via -ldflags "-X pkt.systems/tabkeep/internal/version.buildVersion=...".
var buildVersion = ""

const unknown = "v0.0.0-unknown"

// Current returns the release version of the running binary.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return unknown
	}
	if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
		return v
	}
	if v := vcsVersion(info.Settings); v != "" {
		return v
	}
	return unknown
}

// vcsVersion builds "dev-<rev>[+dirty]" from the vcs stamps of a local build.
func vcsVersion(settings []debug.BuildSetting) string {
	vcs := make(map[string]string, len(settings))
	for _, s := range settings {
		vcs[s.Key] = s.Value
	}
	rev := vcs["vcs.revision"]
	if rev == "" {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	v := "dev-" + rev
	if vcs["vcs.modified"] == "true" {
		v += "+dirty"
	}
	return v
}

// Report describes the running binary for the version command.
type Report struct {
	Version            string `yaml:"version"`
	GoVersion          string `yaml:"go_version"`
	Platform           string `yaml:"platform"`
	MetadataVersion    int32  `yaml:"metadata_version"`
	MinMetadataVersion int32  `yaml:"min_metadata_version"`
	TabStateVersion    int32  `yaml:"tab_state_version"`
}

// Describe collects the Report of the running binary.
func Describe() Report {
	return Report{
		Version:            Current(),
		GoVersion:          runtime.Version(),
		Platform:           runtime.GOOS + "/" + runtime.GOARCH,
		MetadataVersion:    persist.MetadataVersion,
		MinMetadataVersion: persist.MinMetadataVersion,
		TabStateVersion:    int32(persist.TabStateVersion),
	}
}

// String renders the one-line form printed by "tabkeep version".
func (r Report) String() string {
	return fmt.Sprintf("tabkeep %s (%s, %s) metadata v%d (reads v%d+), tab state v%d",
		r.Version, r.GoVersion, r.Platform, r.MetadataVersion, r.MinMetadataVersion, r.TabStateVersion)
}
