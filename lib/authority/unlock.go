// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/locksign/lib/audit"
	"github.com/bureau-foundation/locksign/lib/git"
	"github.com/bureau-foundation/locksign/lib/identity"
	"github.com/bureau-foundation/locksign/lib/lockerr"
	"github.com/bureau-foundation/locksign/lib/notebook"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
	"github.com/bureau-foundation/locksign/lib/signing"
)

// Unlock releases a lock after proving the caller owns it. The checks
// run in a fixed order and stop at the first failure:
//
//  1. the content still hashes to the locked content_hash
//  2. the caller's git identity equals the locker's, and the lock
//     commit exists, was authored by the locker, and holds the locked
//     content
//  3. for a signed lock: gpg is available, a signing key exists, the
//     original signing key is known and is the caller's configured
//     key, the caller holds its private half, and the lock commit's
//     signature verifies
//
// Key details appear in messages only after the identity check has
// passed. On success the metadata is marked unlocked and the file is
// rewritten; no commit is made.
func (a *Authority) Unlock(ctx context.Context, request schema.UnlockRequest) (*schema.UnlockResponse, error) {
	event := audit.Event{Action: audit.ActionUnlock, NotebookPath: request.NotebookPath}
	var user identity.Identity

	response, err := a.unlock(ctx, request, &user)
	event.UserName, event.UserEmail = user.Name, user.Email
	if err != nil {
		a.logFailure("unlock", request.NotebookPath, user, err)
	} else {
		event.CommitHash = response.CommitHash
		a.logger.Info("notebook unlocked",
			"notebook", request.NotebookPath,
			"user_name", user.Name,
			"was_gpg_signed", response.WasGPGSigned,
		)
	}
	a.record(ctx, event, err)
	return response, err
}

func (a *Authority) unlock(ctx context.Context, request schema.UnlockRequest, user *identity.Identity) (*schema.UnlockResponse, error) {
	path, err := a.resolvePath(request.NotebookPath)
	if err != nil {
		return nil, err
	}

	doc, err := parseContent(request.NotebookContent)
	if err != nil {
		return nil, lockerr.AtStep(err, stepContent)
	}
	metadata, found, err := doc.Signature()
	if err != nil {
		return nil, lockerr.AtStep(lockerr.Wrap(lockerr.ContentTampered, err, "the lock metadata is unreadable: %v", err), stepIntegrity)
	}
	if !found || !metadata.Locked {
		return nil, lockerr.New(lockerr.NotLocked, "the notebook is not locked")
	}

	session, err := a.begin(ctx, path)
	if err != nil {
		return nil, err
	}
	defer session.close(a.logger)
	location := session.location

	if err := a.checkIntegrity(doc, metadata); err != nil {
		return nil, lockerr.AtStep(err, stepIntegrity)
	}

	*user, err = a.currentIdentity(ctx, location.Root)
	if err != nil {
		return nil, lockerr.AtStep(err, stepIdentity)
	}
	owner := identity.Identity{Name: metadata.UserName, Email: metadata.UserEmail}
	if !user.Equal(owner) {
		return nil, lockerr.AtStep(lockerr.New(lockerr.IdentityMismatch,
			"this notebook was locked by %s; you are %s. Only the user who locked it can unlock it",
			owner, *user), stepIdentity)
	}

	if err := a.checkBinding(ctx, location, metadata); err != nil {
		return nil, lockerr.AtStep(err, stepBinding)
	}

	signed := metadata.CommitSigned
	if !signed {
		signed, err = a.commits.IsSigned(ctx, location.Root, metadata.CommitHash)
		if err != nil {
			return nil, lockerr.AtStep(lockerr.FromBackend(err, lockerr.VerificationFailed, "reading the lock commit"), stepBinding)
		}
	}
	if signed {
		if err := a.checkSigningKey(ctx, location, metadata); err != nil {
			return nil, err
		}
	}

	unlocked := metadata.Unlocked(user.Name, user.Email, a.clock.Now(), a.retain)
	if err := doc.SetSignature(unlocked); err != nil {
		return nil, lockerr.Wrap(lockerr.Internal, err, "%v", err)
	}
	if err := notebook.WriteFile(path, doc); err != nil {
		return nil, lockerr.AtStep(lockerr.Wrap(lockerr.Internal, err, "writing the notebook: %v", err), stepPersist)
	}
	// Retained metadata still names the signed commit, so its pin stays.
	if !a.retain {
		if err := a.commits.Unpin(context.WithoutCancel(ctx), location.Root, metadata.CommitHash); err != nil {
			a.logger.Warn("removing lock commit pin",
				"notebook", location.Relative,
				"commit", metadata.CommitHash,
				"error", err,
			)
		}
	}
	content, err := doc.Marshal()
	if err != nil {
		return nil, lockerr.Wrap(lockerr.Internal, err, "%v", err)
	}

	summary := "Notebook unlocked"
	if signed {
		summary = "Notebook unlocked; GPG signature verified"
	}
	return &schema.UnlockResponse{
		Success:                     true,
		Message:                     summary,
		Metadata:                    &unlocked,
		CommitHash:                  metadata.CommitHash,
		SignatureVerificationPassed: signed,
		WasGPGSigned:                signed,
		NotebookContent:             schema.Content(content),
	}, nil
}

// checkIntegrity compares the document against the locked hash.
func (a *Authority) checkIntegrity(doc *notebook.Document, metadata *notebook.SignatureMetadata) error {
	if err := metadata.Validate(); err != nil {
		return lockerr.Wrap(lockerr.ContentTampered, err, "the lock metadata is incomplete: %v", err)
	}
	matches, err := a.hasher.Verify(doc, metadata.ContentHash)
	if err != nil {
		return lockerr.Wrap(lockerr.Internal, err, "hashing the notebook: %v", err)
	}
	if !matches {
		return lockerr.New(lockerr.ContentTampered, "the notebook content has changed since it was locked")
	}
	return nil
}

// checkBinding ties the metadata to the repository: the lock commit
// exists, was authored by the locker, and holds content with the
// locked hash. Metadata copied into another notebook fails here.
func (a *Authority) checkBinding(ctx context.Context, location git.Location, metadata *notebook.SignatureMetadata) error {
	exists, err := a.commits.Exists(ctx, location.Root, metadata.CommitHash)
	if err != nil {
		return lockerr.FromBackend(err, lockerr.VerificationFailed, "looking up the lock commit")
	}
	if !exists {
		return lockerr.New(lockerr.CommitNotFound, "the lock commit %s does not exist in this repository", shortHash(metadata.CommitHash))
	}

	author, err := a.commits.Author(ctx, location.Root, metadata.CommitHash)
	if err != nil {
		return lockerr.FromBackend(err, lockerr.VerificationFailed, "reading the lock commit's author")
	}
	if !author.Equal(identity.Identity{Name: metadata.UserName, Email: metadata.UserEmail}) {
		return lockerr.New(lockerr.ContentTampered, "the lock commit %s was not authored by the user named in the lock metadata", shortHash(metadata.CommitHash))
	}

	committed, err := a.commits.ReadFileAt(ctx, location.Root, metadata.CommitHash, location.Relative)
	if err != nil {
		if isBackendFailure(err) {
			return lockerr.FromBackend(err, lockerr.VerificationFailed, "reading the notebook from the lock commit")
		}
		return lockerr.Wrap(lockerr.ContentTampered, err, "the lock commit %s does not contain this notebook", shortHash(metadata.CommitHash))
	}
	committedDoc, err := notebook.Parse(committed)
	if err != nil {
		return lockerr.Wrap(lockerr.ContentTampered, err, "the notebook in the lock commit %s is not valid: %v", shortHash(metadata.CommitHash), err)
	}
	matches, err := a.hasher.Verify(committedDoc, metadata.ContentHash)
	if err != nil {
		return lockerr.Wrap(lockerr.Internal, err, "hashing the committed notebook: %v", err)
	}
	if !matches {
		return lockerr.New(lockerr.ContentTampered, "the lock commit %s holds different content than the lock metadata describes", shortHash(metadata.CommitHash))
	}
	return nil
}

// checkSigningKey runs the signed-lock checks. The caller's identity
// already matched, so messages may name keys and commands.
func (a *Authority) checkSigningKey(ctx context.Context, location git.Location, metadata *notebook.SignatureMetadata) error {
	available, err := a.keys.IsAvailable(ctx)
	if err != nil && !errors.Is(err, signing.ErrUnavailable) {
		return lockerr.AtStep(lockerr.FromBackend(err, lockerr.SigningBackendUnavailable, "checking for gpg"), stepBackend)
	}
	if !available {
		return lockerr.AtStep(lockerr.New(lockerr.SigningBackendUnavailable,
			"this notebook was locked with a GPG signature, but gpg is not installed or not on PATH"), stepBackend)
	}

	// Looked up early so the no-key message can name it; a failure is
	// reported only once the keyring check has passed.
	original, originalErr := a.commits.SigningKeyID(ctx, location.Root, metadata.CommitHash)
	if originalErr != nil {
		original = ""
	}

	hasKey, err := a.keys.HasAnySigningKey(ctx)
	if err != nil {
		return lockerr.AtStep(lockerr.FromBackend(err, lockerr.SigningBackendUnavailable, "listing secret keys"), stepKeyring)
	}
	if !hasKey {
		message := "this notebook was locked with a GPG signature, but you have no usable secret signing key"
		if original != "" {
			message += fmt.Sprintf("; the lock was signed by key ...%s", original.Suffix())
		}
		return lockerr.AtStep(&lockerr.Error{Kind: lockerr.NoSigningKeyConfigured, Message: message}, stepKeyring)
	}

	if originalErr != nil {
		return lockerr.AtStep(lockerr.FromBackend(originalErr, lockerr.VerificationFailed, "reading the lock commit's signing key"), stepOriginal)
	}
	if original == "" {
		return lockerr.AtStep(lockerr.New(lockerr.OriginalKeyUnknown,
			"the signing key of lock commit %s cannot be determined", shortHash(metadata.CommitHash)), stepOriginal)
	}

	configured, err := a.keys.ConfiguredKey(ctx, location.Root)
	if err != nil {
		return lockerr.AtStep(lockerr.FromBackend(err, lockerr.Internal, "reading user.signingkey"), stepKey)
	}
	if configured == "" {
		return lockerr.AtStep(lockerr.New(lockerr.NoSigningKeyConfigured,
			"no signing key is configured; the lock was signed by key ...%s. Run: git config user.signingkey %s",
			original.Suffix(), original.Normalize()), stepKey)
	}
	if !signing.MatchKeyID(configured, original) {
		return lockerr.AtStep(lockerr.New(lockerr.SigningKeyMismatch,
			"your configured signing key ...%s is not the key that signed the lock (...%s). Run: git config user.signingkey %s",
			configured.Suffix(), original.Suffix(), original.Normalize()), stepKey)
	}

	canSign, err := a.keys.CanSignWith(ctx, original)
	if err != nil {
		return lockerr.AtStep(lockerr.FromBackend(err, lockerr.PrivateKeyUnavailable, "probing the signing key"), stepPrivate)
	}
	if !canSign {
		return lockerr.AtStep(lockerr.New(lockerr.PrivateKeyUnavailable,
			"the private key for ...%s is not available to gpg (is the key imported and gpg-agent unlocked?)", original.Suffix()), stepPrivate)
	}

	verification, err := a.commits.VerifySignature(ctx, location.Root, metadata.CommitHash)
	if err != nil {
		return lockerr.AtStep(lockerr.FromBackend(err, lockerr.VerificationFailed, "verifying the lock commit's signature"), stepSignature)
	}
	if !verification.Valid {
		return lockerr.AtStep(lockerr.New(lockerr.SignatureInvalid,
			"the lock commit's signature is not valid: %s", verification.Detail), stepSignature)
	}
	return nil
}
