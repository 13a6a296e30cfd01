// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity resolves the git user identity (user.name and
// user.email) that locks and unlocks are attributed to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/locksign/lib/gitconfig"
)

// ErrNotConfigured is returned when user.name or user.email is missing
// at every configuration level, or the configured email is malformed.
var ErrNotConfigured = errors.New("git user identity is not configured")

// Identity is a git author identity. Both fields are non-empty for
// any Identity returned without error.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// String formats the identity the way git prints authors.
func (i Identity) String() string {
	return fmt.Sprintf("%s <%s>", i.Name, i.Email)
}

// Equal reports exact, case-sensitive equality of both fields.
func (i Identity) Equal(other Identity) bool {
	return i.Name == other.Name && i.Email == other.Email
}

// IsZero reports whether neither field is set.
func (i Identity) IsZero() bool {
	return i.Name == "" && i.Email == ""
}

// Provider resolves identities from layered git configuration.
type Provider struct {
	source gitconfig.Source
}

// NewProvider returns a Provider reading from source.
func NewProvider(source gitconfig.Source) *Provider {
	return &Provider{source: source}
}

// CurrentIdentity returns the effective identity for the repository
// containing dir. user.name and user.email are resolved independently,
// so a local name may pair with a global email exactly as git would
// pair them for a commit.
func (p *Provider) CurrentIdentity(ctx context.Context, dir string) (Identity, error) {
	name, _, err := gitconfig.Lookup(ctx, p.source, dir, "user.name")
	if err != nil {
		return Identity{}, err
	}
	email, _, err := gitconfig.Lookup(ctx, p.source, dir, "user.email")
	if err != nil {
		return Identity{}, err
	}

	var missing []string
	if name == "" {
		missing = append(missing, `git config --global user.name "Your Name"`)
	}
	if email == "" {
		missing = append(missing, `git config --global user.email "you@example.com"`)
	}
	if len(missing) > 0 {
		return Identity{}, fmt.Errorf("%w; run: %s", ErrNotConfigured, strings.Join(missing, " and "))
	}

	if err := ValidateEmail(email); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	return Identity{Name: name, Email: email}, nil
}

// ValidateEmail performs the minimal shape check git identities need:
// one "@" with a non-empty local part and a dotted domain.
func ValidateEmail(email string) error {
	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" || strings.Contains(domain, "@") {
		return fmt.Errorf("user.email %q is not a valid email address", email)
	}
	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return fmt.Errorf("user.email %q has no valid domain", email)
	}
	return nil
}
