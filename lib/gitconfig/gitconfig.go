// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitconfig reads layered git configuration. Git resolves a
// key by consulting the repository-local file, then the user's global
// file, then the system file; the first level that sets the key wins.
// Lookup applies the same precedence per key through a Source, so the
// identity and signing-key resolvers can run against the real git
// configuration or an in-memory Memory source in tests.
package gitconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bureau-foundation/locksign/lib/git"
)

// Scope is one level of git configuration.
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeGlobal Scope = "global"
	ScopeSystem Scope = "system"
)

// Precedence lists scopes from highest to lowest priority.
var Precedence = []Scope{ScopeLocal, ScopeGlobal, ScopeSystem}

// Source reads a single key at a single scope. The found result is
// false when the key is not set at that scope; err is reserved for
// failures to consult the configuration at all.
type Source interface {
	Get(ctx context.Context, dir string, scope Scope, key string) (value string, found bool, err error)
}

// Lookup resolves key by walking Precedence and returns the first
// non-blank value along with the scope that supplied it. A key that is
// unset or blank at every scope yields ("", "", nil).
func Lookup(ctx context.Context, source Source, dir, key string) (string, Scope, error) {
	for _, scope := range Precedence {
		value, found, err := source.Get(ctx, dir, scope, key)
		if err != nil {
			return "", "", fmt.Errorf("reading %s config %s: %w", scope, key, err)
		}
		value = strings.TrimSpace(value)
		if found && value != "" {
			return value, scope, nil
		}
	}
	return "", "", nil
}

// LookupBool resolves key like Lookup and interprets the value the way
// git does for boolean settings.
func LookupBool(ctx context.Context, source Source, dir, key string) (bool, Scope, error) {
	value, scope, err := Lookup(ctx, source, dir, key)
	if err != nil || scope == "" {
		return false, scope, err
	}
	return ParseBool(value), scope, nil
}

// ParseBool interprets a git boolean. Unrecognized values are false.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "on", "1":
		return true
	}
	return false
}

// GitSource reads configuration by running "git config --<scope> --get".
type GitSource struct {
	options []git.Option
}

// NewGitSource returns a Source backed by the git CLI. The options are
// applied to every git invocation (program, timeout, environment).
func NewGitSource(options ...git.Option) *GitSource {
	return &GitSource{options: options}
}

// Get implements Source. Outside a repository the local scope reads
// as unset rather than failing, so identity resolution still works
// from global and system configuration.
func (s *GitSource) Get(ctx context.Context, dir string, scope Scope, key string) (string, bool, error) {
	repository := git.NewRepository(dir, s.options...)
	output, err := repository.Exec(ctx, "config", "--"+string(scope), "--get", key)
	if err != nil {
		if scope == ScopeLocal && errors.Is(err, git.ErrNotARepository) {
			return "", false, nil
		}
		return "", false, err
	}

	switch output.ExitCode {
	case 0:
		return strings.TrimRight(output.Stdout, "\n"), true, nil
	case 1:
		// Key not set at this scope.
		return "", false, nil
	default:
		if scope == ScopeLocal && strings.Contains(output.Stderr, "inside a git repository") {
			return "", false, nil
		}
		return "", false, fmt.Errorf("git config --%s --get %s: exit %d: %s",
			scope, key, output.ExitCode, output.Stderr)
	}
}

// Memory is an in-memory Source for tests. The dir argument is
// ignored: a Memory behaves as a single repository.
type Memory struct {
	mu     sync.RWMutex
	values map[Scope]map[string]string
}

// NewMemory returns an empty Memory source.
func NewMemory() *Memory {
	return &Memory{values: make(map[Scope]map[string]string)}
}

// Set stores value for key at scope.
func (m *Memory) Set(scope Scope, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[scope] == nil {
		m.values[scope] = make(map[string]string)
	}
	m.values[scope][key] = value
}

// Unset removes key from scope.
func (m *Memory) Unset(scope Scope, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values[scope], key)
}

// Get implements Source.
func (m *Memory) Get(_ context.Context, _ string, scope Scope, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, found := m.values[scope][key]
	return value, found, nil
}
