// Package version reports the build identity of the vellum binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set with -ldflags "-X github.com/conneroisu/vellum/internal/version.Version=v1.2.3".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time,omitempty" yaml:"build_time,omitempty"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
	Dirty     bool      `json:"dirty" yaml:"dirty"`
	Release   bool      `json:"release" yaml:"release"`
}

// vcs holds the version control settings embedded by the Go toolchain.
type vcs struct {
	module   string
	revision string
	modified bool
}

var readBuildInfo = debug.ReadBuildInfo

func embedded() vcs {
	var v vcs
	info, ok := readBuildInfo()
	if !ok {
		return v
	}
	v.module = info.Main.Version
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.modified":
			v.modified = s.Value == "true"
		}
	}
	return v
}

// Get collects the build identity from link-time variables, falling back to
// the module and VCS data the toolchain embeds.
func Get() Info {
	v := embedded()

	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: parseTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     v.modified,
	}

	if info.GitCommit == "" || info.GitCommit == "unknown" {
		info.GitCommit = "unknown"
		if v.revision != "" {
			info.GitCommit = v.revision
		}
	}

	if info.Version == "" || info.Version == "dev" {
		switch {
		case v.module != "" && v.module != "(devel)":
			info.Version = v.module
		case len(v.revision) >= 7:
			info.Version = "dev-" + v.revision[:7]
		default:
			info.Version = "dev"
		}
	}

	info.Release = !strings.HasPrefix(info.Version, "dev")
	return info
}

// Short renders the version with an abbreviated commit, e.g. "v1.2.0 (abc1234)".
func Short() string {
	info := Get()
	if info.GitCommit == "unknown" || len(info.GitCommit) < 7 || strings.HasPrefix(info.Version, "dev-") {
		return info.Version
	}
	return fmt.Sprintf("%s (%s)", info.Version, info.GitCommit[:7])
}

// String renders every field on its own line.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Version: %s\n", i.Version)
	if i.GitCommit != "unknown" {
		fmt.Fprintf(&b, "Commit: %s\n", i.GitCommit)
	}
	if !i.BuildTime.IsZero() {
		fmt.Fprintf(&b, "Built: %s\n", i.BuildTime.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Go: %s\n", i.GoVersion)
	fmt.Fprintf(&b, "Platform: %s", i.Platform)
	if i.Dirty {
		b.WriteString("\nWorking tree: dirty")
	}
	return b.String()
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
