// Package version reports build information set via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/dikwickley/promptoncron/internal/version.Version=v1.2.3"
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Info returns a one-line version string.
func Info() string {
	return fmt.Sprintf("promptoncron %s (commit %s, built %s, %s)", Version, Commit, BuildTime, runtime.Version())
}
