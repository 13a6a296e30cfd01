// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import "strings"

// minimumKeyIDLength is the shortest key id MatchKeyID accepts. Eight
// hex digits is gpg's short key id; anything shorter matches too many
// keys to identify a signer.
const minimumKeyIDLength = 8

// KeyRef identifies an OpenPGP key: a short id, long id or full
// fingerprint, optionally with a 0x prefix. Keys configured as an
// email or name are also carried as a KeyRef, but never match.
type KeyRef string

// Normalize strips the 0x prefix, gpg's exact-match "!" suffix and any
// whitespace, and uppercases the result.
func (k KeyRef) Normalize() string {
	normalized := strings.Join(strings.Fields(string(k)), "")
	normalized = strings.TrimSuffix(normalized, "!")
	if len(normalized) > 2 && (normalized[:2] == "0x" || normalized[:2] == "0X") {
		normalized = normalized[2:]
	}
	return strings.ToUpper(normalized)
}

// IsHex reports whether the normalized ref is a hexadecimal key id of
// at least the minimum length.
func (k KeyRef) IsHex() bool {
	normalized := k.Normalize()
	if len(normalized) < minimumKeyIDLength {
		return false
	}
	for _, r := range normalized {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}

// Suffix returns the long (16 digit) key id form used in messages, or
// the whole normalized ref when it is shorter.
func (k KeyRef) Suffix() string {
	normalized := k.Normalize()
	if len(normalized) > 16 {
		return normalized[len(normalized)-16:]
	}
	return normalized
}

// MatchKeyID reports whether a and b identify the same key. Git and
// gpg abbreviate key ids to their trailing digits, so a short or long
// id matches a fingerprint that ends with it, in either argument
// order. Non-hex or too-short refs never match.
func MatchKeyID(a, b KeyRef) bool {
	if !a.IsHex() || !b.IsHex() {
		return false
	}
	left, right := a.Normalize(), b.Normalize()
	if len(left) < len(right) {
		left, right = right, left
	}
	return strings.HasSuffix(left, right)
}
