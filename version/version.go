// Package version reports the build of the blobstore binaries. The values
// are overridden at link time:
//
//	go build -ldflags "-X github.com/imilosk/blobstore/version.Version=v1.2.0"
package version

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

var (
	// Package is the import path of the module.
	Package = "github.com/imilosk/blobstore"

	// Version is the semantic version of the build.
	Version = "v0.0.0+unknown"

	// Revision is the VCS revision of the build.
	Revision = ""
)

// FprintVersion writes the version line to w.
func FprintVersion(w io.Writer) {
	_, _ = fmt.Fprintln(w, os.Args[0], Package, Version, Revision, runtime.Version())
}

// PrintVersion writes the version line to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
