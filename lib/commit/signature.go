// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/locksign/lib/signing"
)

// signatureBlock returns the armored signature stored in commit's
// gpgsig (or gpgsig-sha256) header, or "" for an unsigned commit.
func (s *Service) signatureBlock(ctx context.Context, dir, commit string) (string, error) {
	if !isObjectName(commit) {
		return "", fmt.Errorf("invalid commit name %q", commit)
	}
	raw, err := s.repository(dir).Run(ctx, "cat-file", "commit", commit)
	if err != nil {
		return "", err
	}
	return extractSignature(raw), nil
}

// extractSignature reads the signature header out of a raw commit
// object. Continuation lines of a multi-line header start with a
// single space.
func extractSignature(raw string) string {
	headers, _, _ := strings.Cut(raw, "\n\n")
	var builder strings.Builder
	inSignature := false
	for _, line := range strings.Split(headers, "\n") {
		if inSignature {
			if continuation, ok := strings.CutPrefix(line, " "); ok {
				builder.WriteByte('\n')
				builder.WriteString(continuation)
				continue
			}
			break
		}
		for _, name := range []string{"gpgsig ", "gpgsig-sha256 "} {
			if value, ok := strings.CutPrefix(line, name); ok {
				builder.WriteString(value)
				inSignature = true
				break
			}
		}
	}
	if builder.Len() == 0 {
		return ""
	}
	return builder.String() + "\n"
}

// SigningKeyID returns the key id that signed commit, or "" when the
// commit is unsigned or the signer cannot be determined. The id comes
// from the issuer field of the signature packet; signatures the packet
// parser cannot read fall back to git's %GF and %GK placeholders.
func (s *Service) SigningKeyID(ctx context.Context, dir, commit string) (signing.KeyRef, error) {
	signature, err := s.signatureBlock(ctx, dir, commit)
	if err != nil {
		return "", err
	}
	if signature == "" {
		return "", nil
	}
	if !strings.Contains(signature, "BEGIN PGP SIGNATURE") {
		// SSH and X.509 signatures have no OpenPGP issuer.
		return "", nil
	}

	issuer, err := signing.ParseIssuer([]byte(signature))
	if err == nil && issuer != "" {
		return issuer, nil
	}
	if err != nil && !errors.Is(err, signing.ErrUnsupportedSignature) {
		s.logger.Debug("parsing commit signature packet", "commit", commit, "error", err)
	}

	stdout, err := s.committing(dir).Run(ctx, "log", "-1", "--format=%GF%n%GK", commit, "--")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(stdout, "\n") {
		if candidate := signing.KeyRef(strings.TrimSpace(line)); candidate.IsHex() {
			return candidate, nil
		}
	}
	return "", nil
}

// Verification is the outcome of VerifySignature.
type Verification struct {
	Valid bool

	// Detail is a short human-readable reason: who signed for a valid
	// signature, what is wrong otherwise.
	Detail string

	// KeyID is the key id gpg reported, when it reported one.
	KeyID signing.KeyRef
}

// VerifySignature checks commit's signature with git verify-commit.
// An invalid signature is not an error; errors mean verification
// could not run at all.
func (s *Service) VerifySignature(ctx context.Context, dir, commit string) (Verification, error) {
	if !isObjectName(commit) {
		return Verification{}, fmt.Errorf("invalid commit name %q", commit)
	}
	output, err := s.committing(dir).Exec(ctx, "verify-commit", "--raw", commit)
	if err != nil {
		return Verification{}, err
	}
	verification := parseVerifyStatus(output.Stderr)
	verification.Valid = output.ExitCode == 0 && verification.Valid
	if !verification.Valid && verification.Detail == "" {
		verification.Detail = strings.TrimSpace(firstLine(output.Stderr))
		if verification.Detail == "" {
			verification.Detail = fmt.Sprintf("verify-commit exited with status %d", output.ExitCode)
		}
	}
	return verification, nil
}

// parseVerifyStatus interprets gpg --status-fd lines as printed by
// verify-commit --raw. Later, more specific statuses (an expired key
// reported alongside GOODSIG, for instance) take precedence.
func parseVerifyStatus(status string) Verification {
	var verification Verification
	sawStatus := false

	scanner := bufio.NewScanner(strings.NewReader(status))
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), "[GNUPG:] ")
		if !ok {
			continue
		}
		sawStatus = true
		keyword, arguments, _ := strings.Cut(rest, " ")
		keyID, signer, _ := strings.Cut(arguments, " ")

		switch keyword {
		case "GOODSIG":
			verification.Valid = true
			verification.KeyID = signing.KeyRef(keyID)
			verification.Detail = "good signature from " + signer
		case "EXPKEYSIG":
			verification.Valid = false
			verification.KeyID = signing.KeyRef(keyID)
			verification.Detail = "the signing key has expired"
		case "EXPSIG":
			verification.Valid = false
			verification.KeyID = signing.KeyRef(keyID)
			verification.Detail = "the signature has expired"
		case "REVKEYSIG":
			verification.Valid = false
			verification.KeyID = signing.KeyRef(keyID)
			verification.Detail = "the signing key has been revoked"
		case "BADSIG":
			verification.Valid = false
			verification.KeyID = signing.KeyRef(keyID)
			verification.Detail = "bad signature: the commit does not match its signature"
		case "ERRSIG", "NO_PUBKEY":
			verification.Valid = false
			if verification.KeyID == "" {
				verification.KeyID = signing.KeyRef(keyID)
			}
			verification.Detail = "the public key needed to check the signature is not available"
		}
	}

	if !sawStatus {
		return Verification{Detail: "the commit is not signed"}
	}
	return verification
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}
