// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/locksign/lib/notebook"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locksign.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Server.BaseURL != "/git-lock-sign" {
		t.Errorf("expected base_url=/git-lock-sign, got %s", cfg.Server.BaseURL)
	}
	if cfg.Git.CommandTimeout != 10*time.Second || cfg.Git.CommitTimeout != 60*time.Second {
		t.Errorf("git timeouts = %s/%s, want 10s/60s", cfg.Git.CommandTimeout, cfg.Git.CommitTimeout)
	}
	if cfg.GPG.CommandTimeout != 30*time.Second {
		t.Errorf("gpg timeout = %s, want 30s", cfg.GPG.CommandTimeout)
	}
	if !cfg.RetainLockFields() {
		t.Error("expected retain_lock_fields=true by default")
	}
	if algorithm, err := cfg.HashAlgorithm(); err != nil || algorithm != notebook.SHA256 {
		t.Errorf("HashAlgorithm() = %s, %v", algorithm, err)
	}
	if cfg.Lock.DefaultCommitMessage != "Lock notebook" {
		t.Errorf("default commit message = %q", cfg.Lock.DefaultCommitMessage)
	}
}

func TestLoad_RequiresLocksignConfig(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when LOCKSIGN_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "LOCKSIGN_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithLocksignConfig(t *testing.T) {
	path := writeConfig(t, `
environment: staging
paths:
  notebook_root: /srv/notebooks
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Paths.NotebookRoot != "/srv/notebooks" {
		t.Errorf("expected notebook_root=/srv/notebooks, got %s", cfg.Paths.NotebookRoot)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
environment: staging

paths:
  state: /var/lib/locksign
  audit_db: /var/lib/locksign/audit.db
  notebook_root: /srv/notebooks

server:
  http_address: 127.0.0.1:9000
  socket_path: /run/locksign.sock
  base_url: /locks

git:
  program: /usr/bin/git
  command_timeout: 5s
  commit_timeout: 2m

gpg:
  program: gpg2
  command_timeout: 45s

hashing:
  algorithm: blake3

unlock:
  retain_lock_fields: false

lock:
  default_commit_message: Freeze results
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Paths.AuditDB != "/var/lib/locksign/audit.db" {
		t.Errorf("audit_db = %s", cfg.Paths.AuditDB)
	}
	if cfg.Server.HTTPAddress != "127.0.0.1:9000" || cfg.Server.SocketPath != "/run/locksign.sock" || cfg.Server.BaseURL != "/locks" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Git.Program != "/usr/bin/git" || cfg.Git.CommandTimeout != 5*time.Second || cfg.Git.CommitTimeout != 2*time.Minute {
		t.Errorf("git = %+v", cfg.Git)
	}
	if cfg.GPG.Program != "gpg2" || cfg.GPG.CommandTimeout != 45*time.Second {
		t.Errorf("gpg = %+v", cfg.GPG)
	}
	if algorithm, _ := cfg.HashAlgorithm(); algorithm != notebook.BLAKE3 {
		t.Errorf("algorithm = %s, want blake3", algorithm)
	}
	if cfg.RetainLockFields() {
		t.Error("expected retain_lock_fields=false")
	}
	if cfg.Lock.DefaultCommitMessage != "Freeze results" {
		t.Errorf("default commit message = %q", cfg.Lock.DefaultCommitMessage)
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeConfig(t, "git:\n  command_timeout: [not a duration\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production

paths:
  notebook_root: /default/notebooks

server:
  http_address: 127.0.0.1:8765

unlock:
  retain_lock_fields: true

production:
  paths:
    notebook_root: /prod/notebooks
  server:
    http_address: 10.0.0.5:8765
  git:
    commit_timeout: 3m
  unlock:
    retain_lock_fields: false
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.NotebookRoot != "/prod/notebooks" {
		t.Errorf("expected notebook_root=/prod/notebooks, got %s", cfg.Paths.NotebookRoot)
	}
	if cfg.Server.HTTPAddress != "10.0.0.5:8765" {
		t.Errorf("expected http_address from production override, got %s", cfg.Server.HTTPAddress)
	}
	if cfg.Git.CommitTimeout != 3*time.Minute {
		t.Errorf("expected commit_timeout=3m, got %s", cfg.Git.CommitTimeout)
	}
	if cfg.Git.CommandTimeout != 10*time.Second {
		t.Errorf("unset override changed command_timeout to %s", cfg.Git.CommandTimeout)
	}
	if cfg.RetainLockFields() {
		t.Error("expected retain_lock_fields=false from production override")
	}
}

func TestProductionWithoutSectionDisablesHTTP(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  http_address: 0.0.0.0:8765
  socket_path: /run/locksign.sock
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server.HTTPAddress != "" {
		t.Errorf("expected HTTP disabled in production, got %s", cfg.Server.HTTPAddress)
	}
	if cfg.Server.SocketPath != "/run/locksign.sock" {
		t.Errorf("socket path = %s", cfg.Server.SocketPath)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	t.Setenv("LOCKSIGN_NOTEBOOK_ROOT", "/env/notebooks")
	t.Setenv("LOCKSIGN_ENVIRONMENT", "staging")

	path := writeConfig(t, `
environment: development
paths:
  notebook_root: /file/notebooks
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Environment != Development {
		t.Errorf("expected environment=development from file, got %s", cfg.Environment)
	}
	if cfg.Paths.NotebookRoot != "/file/notebooks" {
		t.Errorf("expected notebook_root=/file/notebooks from file, got %s", cfg.Paths.NotebookRoot)
	}
}

func TestLoadFile_ExpandsPaths(t *testing.T) {
	t.Setenv("HOME", "/home/alice")
	t.Setenv("NOTEBOOKS", "")

	path := writeConfig(t, `
paths:
  state: ${HOME}/.locksign
  audit_db: ${LOCKSIGN_STATE}/audit.db
  notebook_root: ${NOTEBOOKS:-/home/alice/work}
server:
  socket_path: ${LOCKSIGN_STATE}/locksign.sock
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Paths.State != "/home/alice/.locksign" {
		t.Errorf("state = %s", cfg.Paths.State)
	}
	if cfg.Paths.AuditDB != "/home/alice/.locksign/audit.db" {
		t.Errorf("audit_db = %s", cfg.Paths.AuditDB)
	}
	if cfg.Paths.NotebookRoot != "/home/alice/work" {
		t.Errorf("notebook_root = %s", cfg.Paths.NotebookRoot)
	}
	if cfg.Server.SocketPath != "/home/alice/.locksign/locksign.sock" {
		t.Errorf("socket_path = %s", cfg.Server.SocketPath)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/notebooks",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/notebooks",
		},
		{
			input:    "${LOCKSIGN_TEST_MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.Environment = "invalid" },
			wantErr: "invalid environment",
		},
		{
			name:    "relative notebook root",
			modify:  func(c *Config) { c.Paths.NotebookRoot = "notebooks" },
			wantErr: "must be absolute",
		},
		{
			name: "no listener",
			modify: func(c *Config) {
				c.Server.HTTPAddress = ""
				c.Server.SocketPath = ""
			},
			wantErr: "at least one of",
		},
		{
			name:    "base url without slash",
			modify:  func(c *Config) { c.Server.BaseURL = "locks" },
			wantErr: "base_url",
		},
		{
			name:    "zero commit timeout",
			modify:  func(c *Config) { c.Git.CommitTimeout = 0 },
			wantErr: "git.commit_timeout",
		},
		{
			name:    "unknown algorithm",
			modify:  func(c *Config) { c.Hashing.Algorithm = "md5" },
			wantErr: "hashing.algorithm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Paths.NotebookRoot = "/srv/notebooks"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Paths.NotebookRoot = ""
	cfg.Git.Program = ""
	cfg.GPG.Program = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"paths.notebook_root", "git.program", "gpg.program"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Default()
	cfg.Paths.State = filepath.Join(tmpDir, "state")
	cfg.Paths.AuditDB = filepath.Join(tmpDir, "db", "audit.db")
	cfg.Server.SocketPath = filepath.Join(tmpDir, "run", "locksign.sock")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	for _, path := range []string{cfg.Paths.State, filepath.Join(tmpDir, "db"), filepath.Join(tmpDir, "run")} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("path %s not created: %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("path %s is not a directory", path)
		}
	}
}
