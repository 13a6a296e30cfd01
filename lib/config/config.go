// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/locksign/lib/notebook"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "LOCKSIGN_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for a single user's workstation.
	Development Environment = "development"
	// Staging is for shared test hosts.
	Staging Environment = "staging"
	// Production is for hosts serving a team's notebooks.
	Production Environment = "production"
)

// Config is the master configuration for locksign.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	Paths   PathsConfig   `yaml:"paths"`
	Server  ServerConfig  `yaml:"server"`
	Git     GitConfig     `yaml:"git"`
	GPG     GPGConfig     `yaml:"gpg"`
	Hashing HashingConfig `yaml:"hashing"`
	Unlock  UnlockConfig  `yaml:"unlock"`
	Lock    LockConfig    `yaml:"lock"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Server *ServerConfig `yaml:"server,omitempty"`
	Git    *GitConfig    `yaml:"git,omitempty"`
	GPG    *GPGConfig    `yaml:"gpg,omitempty"`
	Unlock *UnlockConfig `yaml:"unlock,omitempty"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// State is where runtime state (the audit database, the default
	// socket) lives.
	State string `yaml:"state"`

	// AuditDB is the SQLite audit database. Empty disables auditing.
	AuditDB string `yaml:"audit_db"`

	// NotebookRoot confines the notebook paths requests may name.
	// Relative request paths resolve against it.
	NotebookRoot string `yaml:"notebook_root"`
}

// ServerConfig configures locksign-service.
type ServerConfig struct {
	// HTTPAddress is the TCP listen address for the JSON API. Empty
	// disables HTTP.
	HTTPAddress string `yaml:"http_address"`

	// SocketPath is the Unix socket for the CBOR API. Empty disables
	// the socket.
	SocketPath string `yaml:"socket_path"`

	// BaseURL prefixes every HTTP route.
	// Default: /git-lock-sign
	BaseURL string `yaml:"base_url"`
}

// GitConfig configures the git subprocesses.
type GitConfig struct {
	// Program is the git executable.
	// Default: git (found in PATH)
	Program string `yaml:"program"`

	// CommandTimeout bounds config reads and other read-only commands.
	// Default: 10s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// CommitTimeout bounds commit, amend, and verify-commit, which
	// may wait on gpg-agent for a passphrase.
	// Default: 60s
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

// GPGConfig configures the gpg subprocesses.
type GPGConfig struct {
	// Program is the gpg executable.
	// Default: gpg (found in PATH)
	Program string `yaml:"program"`

	// CommandTimeout bounds each gpg invocation.
	// Default: 30s
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// HashingConfig selects the content digest for new locks. Existing
// locks verify with whichever algorithm their hash was made with.
type HashingConfig struct {
	// Algorithm is "sha256" or "blake3".
	// Default: sha256
	Algorithm string `yaml:"algorithm"`
}

// UnlockConfig configures what unlock leaves in the metadata.
type UnlockConfig struct {
	// RetainLockFields keeps the lock owner, hash, and commit in the
	// metadata after unlock. A pointer so an override can set false.
	// Default: true
	RetainLockFields *bool `yaml:"retain_lock_fields"`
}

// LockConfig configures lock commits.
type LockConfig struct {
	// DefaultCommitMessage is used when a lock request has none.
	// Default: "Lock notebook"
	DefaultCommitMessage string `yaml:"default_commit_message"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".local", "state", "locksign")
	retain := true

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			State:        stateDir,
			AuditDB:      filepath.Join(stateDir, "audit.db"),
			NotebookRoot: homeDir,
		},
		Server: ServerConfig{
			HTTPAddress: "127.0.0.1:8765",
			SocketPath:  filepath.Join(stateDir, "locksign.sock"),
			BaseURL:     "/git-lock-sign",
		},
		Git: GitConfig{
			Program:        "git",
			CommandTimeout: 10 * time.Second,
			CommitTimeout:  60 * time.Second,
		},
		GPG: GPGConfig{
			Program:        "gpg",
			CommandTimeout: 30 * time.Second,
		},
		Hashing: HashingConfig{Algorithm: string(notebook.SHA256)},
		Unlock:  UnlockConfig{RetainLockFields: &retain},
		Lock:    LockConfig{DefaultCommitMessage: "Lock notebook"},
	}
}

// Load loads configuration from the LOCKSIGN_CONFIG environment
// variable. There is no discovery: if the variable is not set, Load
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your locksign.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; they are only substituted into path
// fields through ${VAR} patterns.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production never serves HTTP unless the section asks for it.
		if overrides == nil {
			c.Server.HTTPAddress = ""
			return
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		setString(&c.Paths.State, overrides.Paths.State)
		setString(&c.Paths.AuditDB, overrides.Paths.AuditDB)
		setString(&c.Paths.NotebookRoot, overrides.Paths.NotebookRoot)
	}

	if overrides.Server != nil {
		setString(&c.Server.HTTPAddress, overrides.Server.HTTPAddress)
		setString(&c.Server.SocketPath, overrides.Server.SocketPath)
		setString(&c.Server.BaseURL, overrides.Server.BaseURL)
	}

	if overrides.Git != nil {
		setString(&c.Git.Program, overrides.Git.Program)
		setDuration(&c.Git.CommandTimeout, overrides.Git.CommandTimeout)
		setDuration(&c.Git.CommitTimeout, overrides.Git.CommitTimeout)
	}

	if overrides.GPG != nil {
		setString(&c.GPG.Program, overrides.GPG.Program)
		setDuration(&c.GPG.CommandTimeout, overrides.GPG.CommandTimeout)
	}

	if overrides.Unlock != nil && overrides.Unlock.RetainLockFields != nil {
		retain := *overrides.Unlock.RetainLockFields
		c.Unlock.RetainLockFields = &retain
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setDuration(target *time.Duration, value time.Duration) {
	if value > 0 {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"LOCKSIGN_STATE": c.Paths.State,
		"HOME":           os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["LOCKSIGN_STATE"] = c.Paths.State // Update for dependent paths.

	c.Paths.AuditDB = expandVars(c.Paths.AuditDB, vars)
	c.Paths.NotebookRoot = expandVars(c.Paths.NotebookRoot, vars)
	c.Server.SocketPath = expandVars(c.Server.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. vars take
// precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// RetainLockFields reports the unlock retention policy.
func (c *Config) RetainLockFields() bool {
	return c.Unlock.RetainLockFields == nil || *c.Unlock.RetainLockFields
}

// HashAlgorithm returns the validated hashing algorithm.
func (c *Config) HashAlgorithm() (notebook.Algorithm, error) {
	return notebook.ParseAlgorithm(c.Hashing.Algorithm)
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.NotebookRoot == "" {
		errs = append(errs, fmt.Errorf("paths.notebook_root is required"))
	} else if !filepath.IsAbs(c.Paths.NotebookRoot) {
		errs = append(errs, fmt.Errorf("paths.notebook_root must be absolute, got %q", c.Paths.NotebookRoot))
	}

	if c.Server.HTTPAddress == "" && c.Server.SocketPath == "" {
		errs = append(errs, fmt.Errorf("server: at least one of http_address and socket_path is required"))
	}
	if !strings.HasPrefix(c.Server.BaseURL, "/") {
		errs = append(errs, fmt.Errorf("server.base_url must start with /, got %q", c.Server.BaseURL))
	}

	if c.Git.Program == "" {
		errs = append(errs, fmt.Errorf("git.program is required"))
	}
	if c.Git.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("git.command_timeout must be positive"))
	}
	if c.Git.CommitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("git.commit_timeout must be positive"))
	}
	if c.GPG.Program == "" {
		errs = append(errs, fmt.Errorf("gpg.program is required"))
	}
	if c.GPG.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("gpg.command_timeout must be positive"))
	}

	if _, err := c.HashAlgorithm(); err != nil {
		errs = append(errs, fmt.Errorf("hashing.algorithm: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the state directory and the parent directories
// of the audit database and socket.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.State}
	if c.Paths.AuditDB != "" {
		paths = append(paths, filepath.Dir(c.Paths.AuditDB))
	}
	if c.Server.SocketPath != "" {
		paths = append(paths, filepath.Dir(c.Server.SocketPath))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
