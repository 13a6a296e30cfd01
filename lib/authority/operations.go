// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/bureau-foundation/locksign/lib/audit"
	"github.com/bureau-foundation/locksign/lib/identity"
	"github.com/bureau-foundation/locksign/lib/lockerr"
	"github.com/bureau-foundation/locksign/lib/notebook"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
)

// Status reports whether the notebook is locked and whether the lock
// still holds: the content hash matches and, when a path is given,
// the lock commit binding checks pass. Status never runs gpg.
func (a *Authority) Status(ctx context.Context, request schema.StatusRequest) (*schema.StatusResponse, error) {
	doc, err := parseContent(request.NotebookContent)
	if err != nil {
		return nil, err
	}
	metadata, found, err := doc.Signature()
	if err != nil {
		return &schema.StatusResponse{
			Success: true,
			Detail:  fmt.Sprintf("the lock metadata is unreadable: %v", err),
		}, nil
	}
	response := &schema.StatusResponse{Success: true, Metadata: metadata}
	if !found || !metadata.Locked {
		return response, nil
	}
	response.Locked = true

	if err := a.checkIntegrity(doc, metadata); err != nil {
		if lockerr.KindOf(err) == lockerr.Internal {
			return nil, err
		}
		response.Detail = err.Error()
		return response, nil
	}

	if request.NotebookPath != "" {
		path, err := a.resolvePath(request.NotebookPath)
		if err != nil {
			return nil, err
		}
		location, err := a.commits.Locate(ctx, path)
		if err != nil {
			classified := lockerr.FromBackend(err, lockerr.NotARepository, "locating the notebook's repository")
			if lockerr.KindOf(classified) != lockerr.NotARepository {
				return nil, classified
			}
			response.Detail = classified.Error()
			return response, nil
		}
		if err := a.checkBinding(ctx, location, metadata); err != nil {
			switch lockerr.KindOf(err) {
			case lockerr.ContentTampered, lockerr.CommitNotFound:
				response.Detail = err.Error()
				return response, nil
			}
			return nil, err
		}
	}

	response.SignatureValid = true
	return response, nil
}

// Commit saves the notebook and commits it, signed when configured. A
// locked notebook is refused; locking is the only way to commit one.
// A failed commit restores the file, HEAD, and the index.
func (a *Authority) Commit(ctx context.Context, request schema.CommitRequest) (*schema.CommitResponse, error) {
	event := audit.Event{Action: audit.ActionCommit, NotebookPath: request.NotebookPath}
	var user identity.Identity

	response, err := a.commit(ctx, request, &user)
	event.UserName, event.UserEmail = user.Name, user.Email
	if err != nil {
		a.logFailure("commit", request.NotebookPath, user, err)
	} else {
		event.CommitHash = response.CommitHash
		a.logger.Info("notebook committed",
			"notebook", request.NotebookPath,
			"user_name", user.Name,
			"commit", response.CommitHash,
			"signed", response.Signed,
		)
	}
	a.record(ctx, event, err)
	return response, err
}

func (a *Authority) commit(ctx context.Context, request schema.CommitRequest, user *identity.Identity) (*schema.CommitResponse, error) {
	path, err := a.resolvePath(request.NotebookPath)
	if err != nil {
		return nil, err
	}
	message := strings.TrimSpace(request.CommitMessage)
	if message == "" {
		return nil, lockerr.New(lockerr.InvalidRequest, "commit_message is required")
	}

	doc, err := parseContent(request.NotebookContent)
	if err != nil {
		return nil, lockerr.AtStep(err, stepContent)
	}
	if metadata, found, err := doc.Signature(); err != nil {
		return nil, lockerr.Wrap(lockerr.InvalidRequest, err, "reading lock metadata: %v", err)
	} else if found && metadata.Locked {
		return nil, lockerr.New(lockerr.NotebookLocked, "the notebook is locked by %s <%s>; unlock it before committing changes", metadata.UserName, metadata.UserEmail)
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

	if err := notebook.WriteFile(path, doc); err != nil {
		return nil, lockerr.Wrap(lockerr.Internal, multierr.Append(err, snapshot.Restore()), "writing the notebook: %v", err)
	}
	result, err := a.commits.CommitAndSign(ctx, location, message, *user)
	if err != nil {
		fallback := lockerr.Internal
		if signingConfigured {
			fallback = lockerr.SigningFailed
		}
		err = lockerr.AtStep(lockerr.FromBackend(err, fallback, "committing the notebook"), stepCommit)

		cleanupCtx, cancel := a.cleanupContext(ctx)
		defer cancel()
		var cleanup error
		if result.Hash != "" {
			cleanup = a.commits.Rollback(cleanupCtx, location, previous, result.Hash)
		}
		cleanup = multierr.Append(cleanup, snapshot.Restore())
		if cleanup != nil {
			a.logger.Error("rolling back failed commit", "notebook", location.Relative, "error", cleanup)
			return nil, multierr.Append(err, fmt.Errorf("rolling back: %w", cleanup))
		}
		return nil, err
	}

	summary := fmt.Sprintf("Committed %s as %s", location.Relative, shortHash(result.Hash))
	if result.Signed {
		summary += " (GPG-signed)"
	}
	return &schema.CommitResponse{
		Success:    true,
		Message:    summary,
		CommitHash: result.Hash,
		Signed:     result.Signed,
	}, nil
}

// UserInfo returns the git identity effective in the repository at
// RepoPath, or at the notebook root when RepoPath is empty.
func (a *Authority) UserInfo(ctx context.Context, request schema.UserInfoRequest) (*schema.UserInfoResponse, error) {
	dir, err := a.resolveDir(request.RepoPath)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(dir); statErr == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	current, err := a.currentIdentity(ctx, dir)
	if err != nil {
		return nil, err
	}
	return &schema.UserInfoResponse{Success: true, UserInfo: current}, nil
}

// RepositoryStatus describes the repository containing the notebook.
func (a *Authority) RepositoryStatus(ctx context.Context, request schema.RepositoryStatusRequest) (*schema.RepositoryStatusResponse, error) {
	path, err := a.resolveDir(request.NotebookPath)
	if err != nil {
		return nil, err
	}
	status, err := a.commits.RepositoryStatus(ctx, path)
	if err != nil {
		return nil, lockerr.FromBackend(err, lockerr.Internal, "reading repository status")
	}
	return &schema.RepositoryStatusResponse{Success: true, RepositoryStatus: status}, nil
}

// Audit lists recent audit events, newest first. Without an audit log
// the list is empty.
func (a *Authority) Audit(ctx context.Context, request schema.AuditRequest) (*schema.AuditResponse, error) {
	if request.Limit < 0 {
		return nil, lockerr.New(lockerr.InvalidRequest, "limit must not be negative")
	}
	response := &schema.AuditResponse{Success: true, Events: []audit.Event{}}
	if a.audit == nil {
		return response, nil
	}
	events, err := a.audit.Recent(ctx, request.Limit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, lockerr.Wrap(lockerr.BackendTimeout, err, "reading the audit log timed out")
		}
		return nil, lockerr.Wrap(lockerr.Internal, err, "reading the audit log: %v", err)
	}
	if events != nil {
		response.Events = events
	}
	return response, nil
}
