// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package authority runs the notebook lock protocols.
//
// Lock hashes the notebook, commits it under the caller's git identity
// (signed when git is configured to sign), writes the lock record into
// metadata.git_lock_sign, and amends the commit so the committed file
// carries the record. The signed commit is pinned under
// refs/locksign/pins so its signature stays verifiable after the
// amend. Any failure after the first commit rolls HEAD, the index, and
// the file back to where they were.
//
// Unlock checks, stopping at the first failure: the content still
// hashes to the recorded digest; the caller is the identity that
// locked it, and the lock commit exists, was authored by that
// identity, and holds the same content; and, for signed locks, gpg is
// usable, the caller's configured key is the key that signed the lock
// commit, that key can sign, and the commit's signature verifies.
// Messages are specific once the identity matches and generic before.
//
// Mutating operations hold a per-notebook lock (a second request for
// the same notebook fails with OperationInProgress) and a per-repository
// flock shared with other locksign processes. Every attempt is recorded
// in the audit log when one is configured.
package authority
