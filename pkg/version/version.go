// Package version reports the GoChat build version.
//
// Release builds set it with ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/gochat/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/gochat/pkg/version.commit=abc1234"
//
// Other builds fall back to the VCS stamp embedded by the go command.
package version

import (
	"runtime/debug"
	"sync"
)

var (
	tag    = ""
	commit = ""
)

var resolveOnce = sync.OnceValues(func() (string, bool) {
	if commit != "" {
		return commit, false
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	return rev, dirty
})

// String returns the tag, the short commit (with "+dirty" for modified
// trees) or "dev".
func String() string {
	if tag != "" {
		return tag
	}
	rev, dirty := resolveOnce()
	if rev == "" {
		return "dev"
	}
	if dirty {
		return rev + "+dirty"
	}
	return rev
}

// Banner returns "gochat-<component> <version>" for startup logs and -version.
func Banner(component string) string {
	return "gochat-" + component + " " + String()
}
