// Package version carries build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String formats the build metadata on one line.
func String() string {
	return fmt.Sprintf("riskbot %s (commit %s, built %s)", Version, Commit, BuildDate)
}
