// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrEmpty is returned by Parse for empty or null content.
var ErrEmpty = errors.New("notebook content is empty")

// TimestampLayout is the ISO-8601 UTC form used for lock and unlock
// timestamps.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Signature reference prefixes. A signed lock records the issuer key
// of the commit signature; an unsigned lock records the commit itself.
const (
	SignaturePrefixGPG = "gpg:"
	SignaturePrefixGit = "git:"
)

// SignatureMetadata is the lock record persisted in the notebook.
//
// CommitHash names the commit whose signature unlock verifies. The
// lock protocol folds the finished metadata back into the branch with
// an amend, so CommitHash is the first (signed) commit and the branch
// tip is its amended successor.
type SignatureMetadata struct {
	Locked        bool   `json:"locked"`
	Signature     string `json:"signature,omitempty"`
	UserName      string `json:"user_name,omitempty"`
	UserEmail     string `json:"user_email,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	ContentHash   string `json:"content_hash,omitempty"`
	CommitHash    string `json:"commit_hash,omitempty"`
	CommitSigned  bool   `json:"commit_signed"`
	CommitMessage string `json:"commit_message,omitempty"`

	UnlockedByUserName  string `json:"unlocked_by_user_name,omitempty"`
	UnlockedByUserEmail string `json:"unlocked_by_user_email,omitempty"`
	UnlockTimestamp     string `json:"unlock_timestamp,omitempty"`
}

// Validate checks the lock-state invariants: a locked record names its
// signature, owner, content hash, and commit; an unlocked record that
// went through unlock names who unlocked it and when.
func (m SignatureMetadata) Validate() error {
	var missing []string
	if m.Locked {
		for name, value := range map[string]string{
			"signature":    m.Signature,
			"user_name":    m.UserName,
			"user_email":   m.UserEmail,
			"content_hash": m.ContentHash,
			"commit_hash":  m.CommitHash,
		} {
			if value == "" {
				missing = append(missing, name)
			}
		}
	} else if m.UnlockedByUserName != "" || m.UnlockTimestamp != "" {
		if m.UnlockedByUserName == "" {
			missing = append(missing, "unlocked_by_user_name")
		}
		if m.UnlockTimestamp == "" {
			missing = append(missing, "unlock_timestamp")
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("lock metadata (locked=%t) is missing %s", m.Locked, strings.Join(missing, ", "))
	}
	return nil
}

// Unlocked returns the metadata after an unlock by name/email at time
// at. With retain set the lock fields stay for audit; otherwise only
// the unlock record remains.
func (m SignatureMetadata) Unlocked(name, email string, at time.Time, retain bool) SignatureMetadata {
	var result SignatureMetadata
	if retain {
		result = m
	}
	result.Locked = false
	result.UnlockedByUserName = name
	result.UnlockedByUserEmail = email
	result.UnlockTimestamp = FormatTimestamp(at)
	return result
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
