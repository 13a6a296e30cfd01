// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/bureau-foundation/locksign/lib/audit"
	"github.com/bureau-foundation/locksign/lib/commit"
	"github.com/bureau-foundation/locksign/lib/identity"
	"github.com/bureau-foundation/locksign/lib/lockerr"
	"github.com/bureau-foundation/locksign/lib/notebook"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
	"github.com/bureau-foundation/locksign/lib/signing"
)

// Lock steps, as reported in lockerr.Error.Step and the logs.
const (
	stepContent   = "content"
	stepIdentity  = "identity"
	stepCommit    = "commit"
	stepMetadata  = "metadata"
	stepAmend     = "amend"
	stepIntegrity = "content_integrity"
	stepBinding   = "commit_binding"
	stepBackend   = "signing_backend"
	stepKeyring   = "signing_keyring"
	stepOriginal  = "original_key"
	stepKey       = "signing_key"
	stepPrivate   = "private_key"
	stepSignature = "signature"
	stepPersist   = "persist"
)

// Lock commits the notebook, signed when the repository is configured
// to sign, and records the lock in the notebook's metadata.
//
// Two commits result. The first (C1) carries the notebook content and
// the signature; the lock metadata names it. The second (C2) amends C1
// to fold the finished metadata into the committed blob and becomes
// the branch tip. C1 is pinned under commit.PinRefPrefix so unlock can
// still verify its signature.
//
// A failed lock leaves HEAD, the index, and the file as they were.
func (a *Authority) Lock(ctx context.Context, request schema.LockRequest) (*schema.LockResponse, error) {
	event := audit.Event{Action: audit.ActionLock, NotebookPath: request.NotebookPath}
	var user identity.Identity

	response, err := a.lock(ctx, request, &user)
	event.UserName, event.UserEmail = user.Name, user.Email
	if err != nil {
		a.logFailure("lock", request.NotebookPath, user, err)
	} else {
		event.CommitHash = response.CommitHash
		a.logger.Info("notebook locked",
			"notebook", request.NotebookPath,
			"user_name", user.Name,
			"commit", response.CommitHash,
			"signed", response.Signed,
		)
	}
	a.record(ctx, event, err)
	return response, err
}

func (a *Authority) lock(ctx context.Context, request schema.LockRequest, user *identity.Identity) (*schema.LockResponse, error) {
	path, err := a.resolvePath(request.NotebookPath)
	if err != nil {
		return nil, err
	}

	doc, err := parseContent(request.NotebookContent)
	if err != nil {
		return nil, lockerr.AtStep(err, stepContent)
	}
	if !doc.HasContent() {
		return nil, lockerr.AtStep(lockerr.New(lockerr.EmptyContent, "the notebook has no cells to lock"), stepContent)
	}
	if existing, found, err := doc.Signature(); err != nil {
		return nil, lockerr.Wrap(lockerr.InvalidRequest, err, "reading lock metadata: %v", err)
	} else if found && existing.Locked {
		return nil, lockerr.New(lockerr.AlreadyLocked, "the notebook is already locked by %s <%s>", existing.UserName, existing.UserEmail)
	}

	message := strings.TrimSpace(request.CommitMessage)
	if message == "" {
		message = a.commitMessage
	}

	session, err := a.begin(ctx, path)
	if err != nil {
		return nil, err
	}
	defer session.close(a.logger)
	location := session.location

	*user, err = a.currentIdentity(ctx, location.Root)
	if err != nil {
		return nil, lockerr.AtStep(err, stepIdentity)
	}

	contentHash, err := a.hasher.Hash(doc)
	if err != nil {
		return nil, lockerr.Wrap(lockerr.Internal, err, "hashing the notebook: %v", err)
	}

	signingConfigured, err := a.commits.SigningConfigured(ctx, location.Root)
	if err != nil {
		return nil, lockerr.FromBackend(err, lockerr.Internal, "reading the signing configuration")
	}

	snapshot, err := notebook.TakeSnapshot(path)
	if err != nil {
		return nil, lockerr.Wrap(lockerr.Internal, err, "reading the current notebook file: %v", err)
	}
	previous, err := a.commits.Head(ctx, location.Root)
	if err != nil {
		return nil, lockerr.FromBackend(err, lockerr.Internal, "reading HEAD")
	}

	metadata := notebook.SignatureMetadata{
		Locked:        true,
		UserName:      user.Name,
		UserEmail:     user.Email,
		Timestamp:     notebook.FormatTimestamp(a.clock.Now()),
		ContentHash:   contentHash,
		CommitMessage: message,
	}

	var first, second commit.Result
	pinned := false
	fail := func(err error) (*schema.LockResponse, error) {
		cleanupCtx, cancel := a.cleanupContext(ctx)
		defer cancel()
		var cleanup error
		if first.Hash != "" || second.Hash != "" {
			cleanup = multierr.Append(cleanup, a.commits.Rollback(cleanupCtx, location, previous, first.Hash, second.Hash))
		}
		if pinned {
			cleanup = multierr.Append(cleanup, a.commits.Unpin(cleanupCtx, location.Root, first.Hash))
		}
		cleanup = multierr.Append(cleanup, snapshot.Restore())
		if cleanup != nil {
			a.logger.Error("rolling back failed lock",
				"notebook", location.Relative,
				"error", cleanup,
			)
			return nil, multierr.Append(err, fmt.Errorf("rolling back: %w", cleanup))
		}
		return nil, err
	}

	// C1: the content, with provisional metadata that the content hash
	// does not cover.
	if err := doc.SetSignature(metadata); err != nil {
		return nil, lockerr.Wrap(lockerr.Internal, err, "%v", err)
	}
	if err := notebook.WriteFile(path, doc); err != nil {
		return fail(lockerr.AtStep(lockerr.Wrap(lockerr.Internal, err, "writing the notebook: %v", err), stepCommit))
	}
	first, err = a.commits.CommitAndSign(ctx, location, message, *user)
	if err != nil {
		fallback := lockerr.Internal
		operation := "creating the lock commit"
		if signingConfigured {
			fallback = lockerr.SigningFailed
			operation = "signing the lock commit (check that gpg can sign with your configured user.signingkey)"
		}
		return fail(lockerr.AtStep(lockerr.FromBackend(err, fallback, operation), stepCommit))
	}

	metadata.CommitHash = first.Hash
	metadata.CommitSigned = first.Signed
	metadata.Signature = notebook.SignaturePrefixGit + first.Hash
	if first.Signed {
		keyID, err := a.commits.SigningKeyID(ctx, location.Root, first.Hash)
		if err != nil {
			return fail(lockerr.AtStep(lockerr.FromBackend(err, lockerr.Internal, "reading the lock commit's signing key"), stepMetadata))
		}
		if keyID != "" {
			metadata.Signature = notebook.SignaturePrefixGPG + keyID.Normalize()
		} else {
			metadata.Signature = notebook.SignaturePrefixGPG + first.Hash
		}
	}
	if err := metadata.Validate(); err != nil {
		return fail(lockerr.AtStep(lockerr.Wrap(lockerr.Internal, err, "%v", err), stepMetadata))
	}

	// C2: fold the finished metadata into the branch tip.
	if err := doc.SetSignature(metadata); err != nil {
		return fail(lockerr.Wrap(lockerr.Internal, err, "%v", err))
	}
	if err := notebook.WriteFile(path, doc); err != nil {
		return fail(lockerr.AtStep(lockerr.Wrap(lockerr.Internal, err, "writing the notebook: %v", err), stepMetadata))
	}
	if err := a.commits.Pin(ctx, location.Root, first.Hash); err != nil {
		return fail(lockerr.AtStep(lockerr.FromBackend(err, lockerr.Internal, "pinning the lock commit"), stepAmend))
	}
	pinned = true
	second, err = a.commits.AmendWithFile(ctx, location, message, *user)
	if err != nil {
		fallback := lockerr.Internal
		if signingConfigured {
			fallback = lockerr.SigningFailed
		}
		return fail(lockerr.AtStep(lockerr.FromBackend(err, fallback, "amending the lock commit"), stepAmend))
	}

	content, err := doc.Marshal()
	if err != nil {
		return nil, lockerr.Wrap(lockerr.Internal, err, "%v", err)
	}

	var summary string
	if first.Signed {
		key := signing.KeyRef(strings.TrimPrefix(metadata.Signature, notebook.SignaturePrefixGPG))
		summary = fmt.Sprintf("Notebook locked and GPG-signed (key ...%s) in commit %s", key.Suffix(), shortHash(first.Hash))
	} else {
		summary = fmt.Sprintf("Notebook locked in commit %s. The commit is not GPG-signed; set git config user.signingkey to sign future locks", shortHash(first.Hash))
	}
	return &schema.LockResponse{
		Success:         true,
		Message:         summary,
		Metadata:        &metadata,
		CommitHash:      second.Hash,
		Signed:          first.Signed,
		NotebookContent: schema.Content(content),
	}, nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
