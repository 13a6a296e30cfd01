// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test fixtures shared by locksign packages.
//
// [NewGitSandbox] creates a throwaway repository whose git commands
// see only sandbox-local global and system configuration, so a test
// never reads or changes the developer's identity or signing setup.
// [NewGPGKeyring] adds a batch-generated, passphrase-less signing key
// in a private GNUPGHOME. Both skip the test when the tool is missing.
//
// [SocketDir] returns a directory short enough for Unix socket paths.
// [RequireReceive] and [RequireClosed] bound channel waits so a hung
// server fails the test instead of stalling it.
package testutil
