// Package version reports how the fstext binary was built.
//
// Release builds stamp Version, Commit and Date with ldflags:
//
//	-X github.com/Aman-CERP/fstext/pkg/version.Version=v0.3.0
//
// Builds without ldflags fall back to the VCS metadata the Go toolchain
// embeds, so `go install` binaries still report a commit.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Stamped at link time.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info describes one build of fstext.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build info, filling unstamped fields from the embedded
// VCS settings.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fromBuildSettings(&info, bi.Settings)
	}
	return info
}

func fromBuildSettings(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
}

// String renders info on one line, e.g.
// "fstext v0.3.0 (3f2a9c1d0b7e, 2026-01-04T10:00:00Z) go1.25.5 linux/amd64".
func (i Info) String() string {
	var meta []string
	if i.Commit != "" {
		c := i.Commit
		if i.Modified {
			c += "+dirty"
		}
		meta = append(meta, c)
	}
	if i.Date != "" {
		meta = append(meta, i.Date)
	}

	s := "fstext " + i.Version
	if len(meta) > 0 {
		s += " (" + strings.Join(meta, ", ") + ")"
	}
	return fmt.Sprintf("%s %s %s", s, i.GoVersion, i.Platform)
}
