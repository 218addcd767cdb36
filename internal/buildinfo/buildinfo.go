// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package buildinfo renders the log banner named in spec §6: program
// name, version, commit hash, build timestamp, build flags, and the
// invocation command line. Version/commit/timestamp are populated by
// linker flags at build time; without -ldflags they read "dev" and
// "unknown".
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

// These are overridden at link time, e.g.:
//   go build -ldflags "-X github.com/kshedden/taxassign/internal/buildinfo.Version=1.2.0 ..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Banner formats the multi-line build-info banner written to the log
// at the start of every run.
func Banner(program string, args []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s version=%s commit=%s built=%s go=%s %s/%s\n", program, Version, Commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "invocation: %s %s\n", program, strings.Join(args, " "))
	return b.String()
}
