// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds small helpers for peerlog process lifecycle.
package process

import (
	"fmt"
	"os"
)

// Fatal prints err to stderr and exits with status 1. It is the last
// line of main: everything above it returns errors normally so that
// deferred cleanup runs.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
	os.Exit(1)
}
