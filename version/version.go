// Package version exposes the build version, either injected at link time
// or derived from the VCS metadata embedded by the Go toolchain.
package version

import "runtime/debug"

// Version is injected at build time:
//
//	go build -ldflags "-X github.com/mixtide/mixtide/version.Version=$(git describe --dirty)"
var Version string

// VersionOrHash is Version when set, otherwise the short VCS revision of
// the build, with a -dirty suffix for a modified tree. Empty when neither
// is available.
var VersionOrHash = func() string {
	if Version != "" {
		return Version
	}
	return vcsHash()
}()

func vcsHash() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var revision string
	modified := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if revision != "" && modified {
		revision += "-dirty"
	}
	return revision
}
