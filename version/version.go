package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = ""
	GitBranch = ""
	BuildTime = ""
	GoVersion = ""
)

// Info is the resolved build information.
type Info struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	GitBranch string    `json:"git_branch"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	BuildDate time.Time `json:"build_date"`
	IsRelease bool      `json:"is_release"`
	IsDirty   bool      `json:"is_dirty"`
}

// GetVersionInfo resolves build information, preferring ldflags values over
// embedded VCS settings.
func GetVersionInfo() *Info {
	info := &Info{
		Version:   Version,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		IsRelease: Version != "dev" && !strings.Contains(Version, "dirty"),
	}
	if BuildTime != "" {
		if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
			info.BuildDate = t
		}
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info.applyBuildSettings(bi)
	}

	if info.BuildDate.IsZero() {
		info.BuildDate = time.Now().UTC()
		info.BuildTime = info.BuildDate.Format(time.RFC3339)
	}
	return info
}

func (i *Info) applyBuildSettings(bi *debug.BuildInfo) {
	if i.GoVersion == "" {
		i.GoVersion = bi.GoVersion
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == "" {
				i.GitCommit = s.Value[:min(len(s.Value), 7)]
			}
		case "vcs.modified":
			i.IsDirty = s.Value == "true"
		case "vcs.time":
			if i.BuildTime != "" {
				continue
			}
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				i.BuildDate = t
				i.BuildTime = s.Value
			}
		}
	}
}

// Fields returns the build information as log fields.
func (i *Info) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"version":    i.Version,
		"go_version": i.GoVersion,
		"build_time": i.BuildTime,
	}
	if i.GitCommit != "" {
		f["git_commit"] = i.GitCommit
	}
	if i.IsDirty {
		f["dirty"] = true
	}
	return f
}

// GetShortVersion returns "<version>[-<commit>][-dirty]".
func GetShortVersion() string {
	info := GetVersionInfo()
	if info.GitCommit == "" {
		return info.Version
	}
	if info.IsDirty {
		return fmt.Sprintf("%s-%s-dirty", info.Version, info.GitCommit)
	}
	return fmt.Sprintf("%s-%s", info.Version, info.GitCommit)
}

// GetFullVersion returns the short version plus a non-default branch and the
// build date.
func GetFullVersion() string {
	info := GetVersionInfo()
	parts := []string{info.Version}
	if info.GitCommit != "" {
		parts = append(parts, info.GitCommit)
	}
	if info.GitBranch != "" && info.GitBranch != "main" && info.GitBranch != "master" {
		parts = append(parts, info.GitBranch)
	}
	if info.IsDirty {
		parts = append(parts, "dirty")
	}
	v := strings.Join(parts, "-")
	if !info.BuildDate.IsZero() {
		v += fmt.Sprintf(" (built %s)", info.BuildDate.Format("2006-01-02T15:04:05Z"))
	}
	return v
}
