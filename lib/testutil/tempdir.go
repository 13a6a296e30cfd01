// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SocketDir returns a fresh directory under /tmp, short enough that a
// Unix socket path inside it fits sun_path (108 bytes on Linux).
// t.TempDir can be nested too deeply for that. The directory is
// owner-only and removed when the test ends.
func SocketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp(filepath.Join(string(filepath.Separator), "tmp"), "lks-")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		t.Fatalf("restricting socket directory: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}
