// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information stamped in at
// link time.
package version

import "fmt"

// These are set via -ldflags at build time, e.g.:
//
//	go build -ldflags "-X github.com/peerlog-foundation/peerlog/lib/version.Version=v0.3.0 \
//	  -X github.com/peerlog-foundation/peerlog/lib/version.GitCommit=$(git rev-parse HEAD)"
var (
	// Version is the semantic version of this build.
	Version = "dev"

	// GitCommit is the full git commit hash the build was made from.
	GitCommit = ""
)

// Short returns just the version string.
func Short() string {
	return Version
}

// Commit returns the abbreviated commit hash, or "unknown" for
// unstamped builds.
func Commit() string {
	if GitCommit == "" {
		return "unknown"
	}
	if len(GitCommit) > 12 {
		return GitCommit[:12]
	}
	return GitCommit
}

// Full returns the version and commit in one line, suitable for a
// --version flag.
func Full() string {
	return fmt.Sprintf("%s (%s)", Short(), Commit())
}
