// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Snapshot is the on-disk state of a notebook file before a mutation,
// used to put the file back when the mutation is rolled back.
type Snapshot struct {
	Path    string
	Existed bool
	Content []byte
	Mode    fs.FileMode
}

// TakeSnapshot records the current bytes of path. A missing file is a
// valid snapshot (Existed false).
func TakeSnapshot(path string) (Snapshot, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{Path: path, Mode: 0o644}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if info.IsDir() {
		return Snapshot{}, fmt.Errorf("%s is a directory", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Snapshot{Path: path, Existed: true, Content: content, Mode: info.Mode().Perm()}, nil
}

// Restore puts the file back to the snapshot state: the original
// bytes, or no file at all.
func (s Snapshot) Restore() error {
	if !s.Existed {
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", s.Path, err)
		}
		return nil
	}
	return writeAtomic(s.Path, s.Content, s.Mode)
}

// ReadFile parses the notebook at path.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// WriteFile writes doc to path atomically (temporary file in the same
// directory, then rename), preserving the existing file mode.
func WriteFile(path string, doc *Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return writeAtomic(path, data, mode)
}

func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(temporaryPath, mode); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// ErrOutsideRoot is returned by ResolvePath for paths that escape the
// notebook root.
var ErrOutsideRoot = errors.New("notebook path is outside the notebook root")

// ResolvePath turns a client-supplied notebook path into an absolute
// path under root. Relative paths are joined to root; absolute paths
// must already be inside it. An empty root accepts absolute paths only.
func ResolvePath(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("notebook path is required")
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("notebook path contains a NUL byte")
	}

	if root == "" {
		if !filepath.IsAbs(path) {
			return "", fmt.Errorf("notebook path %q must be absolute when no notebook root is configured", path)
		}
		return filepath.Clean(path), nil
	}

	absoluteRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving notebook root: %w", err)
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(absoluteRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	relative, err := filepath.Rel(absoluteRoot, candidate)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	if relative == "." {
		return "", fmt.Errorf("notebook path %q names the root directory", path)
	}
	return candidate, nil
}
