// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// GPGKeyring is a throwaway GNUPGHOME holding one passphrase-less
// ed25519 signing key.
type GPGKeyring struct {
	// Env sets GNUPGHOME. Append it after any other environment so it
	// takes precedence.
	Env []string

	// Fingerprint is the key's 40-digit uppercase fingerprint.
	Fingerprint string
}

// NewGPGKeyring generates a signing key for userID (for example
// "Alice <alice@example.com>"). The home directory lives under /tmp so
// gpg-agent's socket path stays within the Unix socket length limit.
// Skips the test when gpg is missing or cannot generate keys.
func NewGPGKeyring(t *testing.T, userID string) *GPGKeyring {
	t.Helper()

	if _, err := exec.LookPath("gpg"); err != nil {
		t.Skipf("gpg not available: %v", err)
	}

	home := filepath.Join(SocketDir(t), "g")
	if err := os.Mkdir(home, 0o700); err != nil {
		t.Fatalf("creating GNUPGHOME: %v", err)
	}
	keyring := &GPGKeyring{Env: []string{"GNUPGHOME=" + home}}

	generate := exec.Command("gpg", "--batch", "--no-tty", "--passphrase", "",
		"--quick-generate-key", userID, "ed25519", "sign", "never")
	generate.Env = append(os.Environ(), keyring.Env...)
	if output, err := generate.CombinedOutput(); err != nil {
		t.Skipf("gpg cannot generate keys here: %v\n%s", err, output)
	}
	t.Cleanup(func() {
		kill := exec.Command("gpgconf", "--kill", "gpg-agent")
		kill.Env = append(os.Environ(), keyring.Env...)
		_ = kill.Run()
	})

	list := exec.Command("gpg", "--batch", "--with-colons", "--list-secret-keys", userID)
	list.Env = append(os.Environ(), keyring.Env...)
	output, err := list.Output()
	if err != nil {
		t.Fatalf("listing generated key: %v", err)
	}
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) > 9 && fields[0] == "fpr" {
			keyring.Fingerprint = fields[9]
			break
		}
	}
	if keyring.Fingerprint == "" {
		t.Fatalf("no fingerprint in gpg listing:\n%s", output)
	}
	return keyring
}
