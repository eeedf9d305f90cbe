// Package version provides version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of dbgsync
const Version = "0.1.0"

// Name is the server name announced to MCP clients
const Name = "dbgsync"

// String returns the version line printed by -version.
func String() string {
	return fmt.Sprintf("%s version %s (%s, %s/%s)", Name, Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
