// Package versions reports the build information of the contactdir server.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const unknown = "unknown"

// Set at build time with -ldflags "-X github.com/contactdir/contactdir-server/internal/versions.Version=..."
var (
	Version   = "dev"
	Commit    = unknown
	BuildDate = unknown
)

// Info is the build information of the running binary
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information
func Get() Info {
	return resolve(Version, Commit, BuildDate, readVCS)
}

// readVCS returns the revision and time recorded by the go toolchain
func readVCS() (revision, at string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			at = s.Value
		}
	}
	return revision, at
}

func resolve(version, commit, buildDate string, vcs func() (string, string)) Info {
	// Development builds fall back on the VCS stamp
	if strings.HasPrefix(version, "dev") {
		revision, at := vcs()
		if commit == unknown && revision != "" {
			commit = revision
		}
		if buildDate == unknown && at != "" {
			buildDate = at
		}
	}

	if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
	}

	if version == "dev" {
		version = fmt.Sprintf("build-%.*s", 8, commit)
	}

	return Info{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// UserAgent returns the User-Agent sent to the remote source
func UserAgent() string {
	return "contactdir-server/" + Get().Version
}
