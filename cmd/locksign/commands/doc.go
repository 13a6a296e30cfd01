// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands implements the locksign command tree.
//
// Each notebook command reads the notebook file, sends its absolute
// path and content to a backend, and prints the result (or indented
// JSON with --json). The backend is an in-process authority built
// from the configuration, or, with --socket, a running
// locksign-service reached over its Unix socket. Failures are
// returned as cli.ToolError values categorized by their lockerr kind.
package commands
