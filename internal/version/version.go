// Package version holds build information, overridden at link time with
// -ldflags "-X github.com/fortiblox/bytevm/internal/version.Version=...".
package version

import "fmt"

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// String returns the human readable build identifier.
func String() string {
	return fmt.Sprintf("bytevm %s (%s)", Version, GitCommit)
}
