// Package version reports build-time version information, in the shape
// main.go and cmd/gitgraph/gitgraph.go call github.com/perforce/
// p4prometheus/version's Print for at startup: name, a semantic version,
// the commit it was built from, and the build timestamp, injected via
// -ldflags at release build time and defaulting to "dev"/"none"/"unknown"
// for a plain `go build`.
package version

import "fmt"

var (
	Version   = "dev"
	Revision  = "none"
	BuildTime = "unknown"
)

// Print formats app's version banner the way the teacher's startup log
// line does: "<app> version <version> (<revision>) built <buildtime>".
func Print(app string) string {
	return fmt.Sprintf("%s version %s (%s) built %s", app, Version, Revision, BuildTime)
}
