// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// GitSandbox is a temporary git working tree with isolated
// configuration. Env must be passed to every git invocation that
// should see the sandbox configuration (lib/git.WithEnv does this for
// Repository).
type GitSandbox struct {
	// Dir is the working tree root.
	Dir string

	// Home is the fake home directory holding the global config.
	Home string

	// Env isolates git from the invoking user's configuration.
	Env []string
}

// NewGitSandbox initializes an empty repository on branch "main".
// Skips the test when git is not installed.
func NewGitSandbox(t *testing.T) *GitSandbox {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git not available: %v", err)
	}

	home := t.TempDir()
	dir := t.TempDir()
	// Resolve symlinked temp roots (macOS /var -> /private/var) so
	// paths compare equal to what git reports.
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	sandbox := &GitSandbox{
		Dir:  dir,
		Home: home,
		Env: []string{
			"HOME=" + home,
			"XDG_CONFIG_HOME=" + filepath.Join(home, ".config"),
			"GIT_CONFIG_GLOBAL=" + filepath.Join(home, ".gitconfig"),
			"GIT_CONFIG_SYSTEM=" + filepath.Join(home, "system-gitconfig"),
			"GNUPGHOME=" + filepath.Join(home, ".gnupg"),
			"GIT_TERMINAL_PROMPT=0",
		},
	}
	for _, name := range []string{".gitconfig", "system-gitconfig"} {
		if err := os.WriteFile(filepath.Join(home, name), nil, 0o644); err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
	}

	sandbox.Git(t, "init", "-q", "-b", "main")
	return sandbox
}

// Git runs a git command in the sandbox and returns trimmed stdout.
func (s *GitSandbox) Git(t *testing.T, args ...string) string {
	t.Helper()

	var stdout, stderr bytes.Buffer
	command := exec.Command("git", append([]string{"-C", s.Dir}, args...)...)
	command.Env = append(os.Environ(), s.Env...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String())
}

// SetConfig writes key=value at the given scope ("local", "global" or
// "system").
func (s *GitSandbox) SetConfig(t *testing.T, scope, key, value string) {
	t.Helper()
	s.Git(t, "config", "--"+scope, key, value)
}

// WriteFile writes content to a path relative to the working tree,
// creating parent directories.
func (s *GitSandbox) WriteFile(t *testing.T, relative string, content []byte) string {
	t.Helper()
	path := filepath.Join(s.Dir, relative)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating directory for %s: %v", relative, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", relative, err)
	}
	return path
}

// CommitAll stages everything and commits it under a fixed test
// identity, returning the new commit hash.
func (s *GitSandbox) CommitAll(t *testing.T, message string) string {
	t.Helper()
	s.Git(t, "add", "-A")
	s.Git(t, "-c", "user.name=Test", "-c", "user.email=test@test.local",
		"commit", "-q", "--no-gpg-sign", "-m", message)
	return s.Git(t, "rev-parse", "HEAD")
}

// InstallHook writes an executable hook script into .git/hooks.
func (s *GitSandbox) InstallHook(t *testing.T, name, script string) {
	t.Helper()
	path := filepath.Join(s.Dir, ".git", "hooks", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating hooks directory: %v", err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("writing %s hook: %v", name, err)
	}
}
