package version

import (
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Set at build time.
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info is the build metadata of the running binary.
type Info struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit,omitempty"`
	BuildTime time.Time `json:"build_time,omitzero"`
	GoVersion string    `json:"go_version"`
	Dirty     bool      `json:"dirty"`
	Release   bool      `json:"release"`
}

type buildSettings struct {
	goVersion string
	revision  string
	modified  bool
	time      string
}

var readBuild = sync.OnceValue(func() buildSettings {
	var bs buildSettings
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return bs
	}
	bs.goVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			bs.revision = s.Value
		case "vcs.modified":
			bs.modified = s.Value == "true"
		case "vcs.time":
			bs.time = s.Value
		}
	}
	return bs
})

// GetVersionInfo returns the build metadata, preferring ldflags values over
// the Go build info.
func GetVersionInfo() Info {
	return resolve(Version, Commit, BuildTime, readBuild())
}

func resolve(version, commit, buildTime string, bs buildSettings) Info {
	info := Info{
		Version:   version,
		Commit:    commit,
		GoVersion: bs.goVersion,
		Dirty:     bs.modified,
	}
	if info.Commit == "" {
		info.Commit = bs.revision
	}
	if len(info.Commit) > 7 {
		info.Commit = info.Commit[:7]
	}
	if buildTime == "" {
		buildTime = bs.time
	}
	if t, err := time.Parse(time.RFC3339, buildTime); err == nil {
		info.BuildTime = t.UTC()
	}
	info.Release = version != "dev" && !info.Dirty && !strings.Contains(version, "dirty")
	return info
}

// String renders the version, commit and dirty marker, e.g. "v1.2.0-abc1234-dirty".
func (i Info) String() string {
	parts := []string{i.Version}
	if i.Commit != "" {
		parts = append(parts, i.Commit)
	}
	if i.Dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "-")
}

// Short is GetVersionInfo().String().
func Short() string {
	return GetVersionInfo().String()
}
