// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signing answers questions about the local OpenPGP signing
// setup: which key git is configured to sign with, whether gpg is
// installed, whether any usable secret key exists, and whether a given
// key can actually produce a signature right now. It also extracts the
// issuer key id from an armored signature.
//
// Every gpg invocation runs with a bounded timeout. Secret key
// material never leaves gpg: capability checks sign a fixed probe
// payload and discard the signature.
package signing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bureau-foundation/locksign/lib/gitconfig"
)

// DefaultTimeout bounds gpg commands when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnavailable means the gpg program could not be executed.
	ErrUnavailable = errors.New("gpg is not installed or not executable")

	// ErrTimeout means a gpg command did not finish before its
	// deadline, typically because it was waiting on a pinentry prompt.
	ErrTimeout = errors.New("gpg command timed out")
)

// probePayload is signed by CanSignWith. Its content is irrelevant;
// only gpg's success matters.
var probePayload = []byte("locksign signing capability probe\n")

// Config configures a GPG resolver.
type Config struct {
	// Program is the gpg executable. Defaults to "gpg".
	Program string

	// Timeout bounds each gpg command. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Env is appended to the environment of every gpg command
	// (for example GNUPGHOME).
	Env []string

	// ConfigSource reads git configuration for user.signingkey.
	// Required.
	ConfigSource gitconfig.Source

	// Logger receives debug output from failed probes. If nil,
	// output is discarded.
	Logger *slog.Logger
}

// GPG resolves signing keys and capabilities using the gpg CLI.
type GPG struct {
	program string
	timeout time.Duration
	env     []string
	config  gitconfig.Source
	logger  *slog.Logger
}

// NewGPG returns a GPG resolver.
func NewGPG(cfg Config) (*GPG, error) {
	if cfg.ConfigSource == nil {
		return nil, fmt.Errorf("signing: ConfigSource is required")
	}
	program := cfg.Program
	if program == "" {
		program = "gpg"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GPG{
		program: program,
		timeout: timeout,
		env:     cfg.Env,
		config:  cfg.ConfigSource,
		logger:  logger,
	}, nil
}

// SecretKey is a secret key (or subkey) listed by gpg.
type SecretKey struct {
	KeyID        string
	Fingerprint  string
	UserIDs      []string
	Validity     string
	Capabilities string

	// Stub is true when gpg knows the key but the secret part is not
	// present (offline primary key, unplugged card).
	Stub bool

	Subkeys []SecretKey
}

// Usable reports whether the key is valid and its secret part present.
func (k SecretKey) Usable() bool {
	if k.Stub {
		return false
	}
	switch k.Validity {
	case "r", "e", "d", "i":
		return false
	}
	return true
}

// CanSign reports whether this key itself can make signatures.
func (k SecretKey) CanSign() bool {
	return k.Usable() && strings.ContainsRune(k.Capabilities, 's')
}

// SigningFingerprint returns the fingerprint gpg signs with for this
// key: the primary if it can sign, else the first signing subkey,
// else the primary fingerprint.
func (k SecretKey) SigningFingerprint() string {
	if k.CanSign() {
		return k.Fingerprint
	}
	for _, subkey := range k.Subkeys {
		if subkey.CanSign() {
			return subkey.Fingerprint
		}
	}
	return k.Fingerprint
}

// ConfiguredKey returns the key git will sign with for the repository
// containing dir: user.signingkey resolved through layered config.
// When gpg holds a matching secret key the signing fingerprint is
// returned; otherwise the normalized configured value. An unset key
// returns "".
func (g *GPG) ConfiguredKey(ctx context.Context, dir string) (KeyRef, error) {
	value, _, err := gitconfig.Lookup(ctx, g.config, dir, "user.signingkey")
	if err != nil || value == "" {
		return "", err
	}

	configured := KeyRef(value)
	spec := strings.TrimSpace(value)
	if configured.IsHex() {
		spec = configured.Normalize()
	}
	refs, err := g.ResolveKeyIDs(ctx, spec)
	if err != nil && !errors.Is(err, ErrUnavailable) {
		return "", err
	}
	if len(refs) > 0 {
		return refs[0], nil
	}
	if configured.IsHex() {
		return KeyRef(configured.Normalize()), nil
	}
	return configured, nil
}

// IsAvailable reports whether gpg answers --version. A missing program
// is (false, nil); a timeout is an error.
func (g *GPG) IsAvailable(ctx context.Context) (bool, error) {
	_, err := g.run(ctx, nil, io.Discard, "--version")
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrTimeout) {
		return false, err
	}
	g.logger.Debug("gpg unavailable", "error", err)
	return false, nil
}

// HasAnySigningKey reports whether the keyring holds at least one
// usable secret key with signing capability.
func (g *GPG) HasAnySigningKey(ctx context.Context) (bool, error) {
	keys, err := g.ListSecretKeys(ctx, "")
	if err != nil {
		return false, err
	}
	for _, key := range keys {
		if key.CanSign() {
			return true, nil
		}
		for _, subkey := range key.Subkeys {
			if subkey.CanSign() {
				return true, nil
			}
		}
	}
	return false, nil
}

// CanSignWith makes a real detached signature with key and reports
// whether gpg succeeded. Presence of the key in configuration or in
// the keyring is not enough: the secret may be a stub, expired, or
// locked behind an unavailable agent. The signature is discarded.
func (g *GPG) CanSignWith(ctx context.Context, key KeyRef) (bool, error) {
	normalized := key.Normalize()
	if normalized == "" {
		return false, nil
	}
	stderr, err := g.run(ctx, bytes.NewReader(probePayload), io.Discard,
		"--batch", "--no-tty", "--yes", "--armor",
		"--local-user", normalized+"!",
		"--detach-sign")
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) {
		return false, err
	}
	g.logger.Debug("signing probe failed", "key", key.Suffix(), "stderr", stderr)
	return false, nil
}

// ResolveKeyIDs returns the signing fingerprints of the secret keys
// matching spec (a key id, email, or name), in gpg's listing order.
func (g *GPG) ResolveKeyIDs(ctx context.Context, spec string) ([]KeyRef, error) {
	keys, err := g.ListSecretKeys(ctx, spec)
	if err != nil {
		return nil, err
	}
	refs := make([]KeyRef, 0, len(keys))
	for _, key := range keys {
		refs = append(refs, KeyRef(key.SigningFingerprint()))
	}
	return refs, nil
}

// ListSecretKeys lists secret keys matching pattern, or all secret
// keys when pattern is empty. No match is an empty list, not an error.
func (g *GPG) ListSecretKeys(ctx context.Context, pattern string) ([]SecretKey, error) {
	args := []string{"--batch", "--no-tty", "--with-colons", "--fixed-list-mode", "--list-secret-keys"}
	if pattern != "" {
		args = append(args, "--", pattern)
	}

	var stdout bytes.Buffer
	_, err := g.run(ctx, nil, &stdout, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// gpg exits 2 for "No secret key"; whatever it did list
			// is still valid.
			return ParseColonListing(stdout.String()), nil
		}
		return nil, err
	}
	return ParseColonListing(stdout.String()), nil
}

// ParseColonListing parses "gpg --with-colons --list-secret-keys"
// output into keys with their subkeys.
func ParseColonListing(listing string) []SecretKey {
	var keys []SecretKey
	// current points at the record the next fpr line belongs to.
	var current *SecretKey

	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), ":")
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "sec":
			keys = append(keys, secretKeyFromFields(fields))
			current = &keys[len(keys)-1]
		case "ssb":
			if len(keys) == 0 {
				continue
			}
			primary := &keys[len(keys)-1]
			primary.Subkeys = append(primary.Subkeys, secretKeyFromFields(fields))
			current = &primary.Subkeys[len(primary.Subkeys)-1]
		case "fpr":
			if current != nil && current.Fingerprint == "" {
				current.Fingerprint = field(fields, 9)
			}
		case "uid":
			if len(keys) > 0 {
				keys[len(keys)-1].UserIDs = append(keys[len(keys)-1].UserIDs, field(fields, 9))
			}
		}
	}
	return keys
}

func secretKeyFromFields(fields []string) SecretKey {
	return SecretKey{
		KeyID:        field(fields, 4),
		Validity:     field(fields, 1),
		Capabilities: field(fields, 11),
		Stub:         field(fields, 14) == "#",
	}
}

func field(fields []string, index int) string {
	if index < len(fields) {
		return fields[index]
	}
	return ""
}

// run executes gpg with a bounded timeout and returns stderr. Errors
// wrap ErrUnavailable or ErrTimeout when those apply, and otherwise
// the *exec.ExitError.
func (g *GPG) run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, g.program, args...)
	command.Stdin = stdin
	command.Stdout = stdout
	command.Stderr = &stderr
	if len(g.env) > 0 {
		command.Env = append(os.Environ(), g.env...)
	}

	err := command.Run()
	stderrText := strings.TrimSpace(stderr.String())
	if err == nil {
		return stderrText, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return stderrText, fmt.Errorf("%w: %s %s", ErrTimeout, g.program, strings.Join(args, " "))
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return stderrText, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return stderrText, fmt.Errorf("%s %s: %w (stderr: %s)", g.program, strings.Join(args, " "), err, stderrText)
}
