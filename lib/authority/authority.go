// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/locksign/lib/audit"
	"github.com/bureau-foundation/locksign/lib/clock"
	"github.com/bureau-foundation/locksign/lib/commit"
	"github.com/bureau-foundation/locksign/lib/git"
	"github.com/bureau-foundation/locksign/lib/identity"
	"github.com/bureau-foundation/locksign/lib/lockerr"
	"github.com/bureau-foundation/locksign/lib/notebook"
	"github.com/bureau-foundation/locksign/lib/pathlock"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
	"github.com/bureau-foundation/locksign/lib/signing"
)

// DefaultCommitMessage is used for lock commits when neither the
// request nor the configuration supplies one.
const DefaultCommitMessage = "Lock notebook"

// DefaultRollbackTimeout bounds the cleanup after a failed lock or
// commit. Cleanup runs on a context detached from the request, so a
// cancelled request still gets its repository put back.
const DefaultRollbackTimeout = 30 * time.Second

// IdentitySource resolves the git identity of the caller.
type IdentitySource interface {
	CurrentIdentity(ctx context.Context, dir string) (identity.Identity, error)
}

// KeyResolver answers questions about the local signing setup.
type KeyResolver interface {
	ConfiguredKey(ctx context.Context, dir string) (signing.KeyRef, error)
	IsAvailable(ctx context.Context) (bool, error)
	HasAnySigningKey(ctx context.Context) (bool, error)
	CanSignWith(ctx context.Context, key signing.KeyRef) (bool, error)
}

// Committer runs the git side of the protocols.
type Committer interface {
	Locate(ctx context.Context, path string) (git.Location, error)
	Head(ctx context.Context, dir string) (string, error)
	SigningConfigured(ctx context.Context, dir string) (bool, error)
	CommitAndSign(ctx context.Context, location git.Location, message string, author identity.Identity) (commit.Result, error)
	AmendWithFile(ctx context.Context, location git.Location, message string, author identity.Identity) (commit.Result, error)
	Rollback(ctx context.Context, location git.Location, previous string, created ...string) error
	Pin(ctx context.Context, dir, hash string) error
	Unpin(ctx context.Context, dir, hash string) error

	Exists(ctx context.Context, dir, hash string) (bool, error)
	Author(ctx context.Context, dir, hash string) (identity.Identity, error)
	ReadFileAt(ctx context.Context, dir, hash, relative string) ([]byte, error)
	IsSigned(ctx context.Context, dir, hash string) (bool, error)
	SigningKeyID(ctx context.Context, dir, hash string) (signing.KeyRef, error)
	VerifySignature(ctx context.Context, dir, hash string) (commit.Verification, error)

	RepositoryStatus(ctx context.Context, path string) (commit.RepositoryStatus, error)
}

// AuditLog records attempts. *audit.Log satisfies it.
type AuditLog interface {
	Record(ctx context.Context, event audit.Event) (audit.Event, error)
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Config configures an Authority.
type Config struct {
	// NotebookRoot confines request paths. Relative request paths are
	// resolved against it. Empty means only absolute paths are
	// accepted and nothing confines them.
	NotebookRoot string

	// Identity, Keys, and Commits are required.
	Identity IdentitySource
	Keys     KeyResolver
	Commits  Committer

	// Hasher computes content hashes for new locks. Defaults to SHA256.
	Hasher *notebook.Hasher

	// Locker serializes mutating operations. Defaults to a Locker on
	// Clock.
	Locker *pathlock.Locker

	// Audit records every lock, unlock, and commit attempt. Optional.
	Audit AuditLog

	// Clock stamps lock and unlock times. Defaults to clock.Real().
	Clock clock.Clock

	// ClearLockFieldsOnUnlock drops the lock fields from the metadata
	// on unlock, keeping only the unlock record. By default they are
	// kept for audit.
	ClearLockFieldsOnUnlock bool

	// DefaultCommitMessage is used when a lock request has none.
	DefaultCommitMessage string

	// RollbackTimeout bounds cleanup after a failure. Defaults to
	// DefaultRollbackTimeout.
	RollbackTimeout time.Duration

	// Logger receives one line per operation. If nil, output is
	// discarded.
	Logger *slog.Logger
}

// Authority performs notebook lock operations.
type Authority struct {
	root            string
	identity        IdentitySource
	keys            KeyResolver
	commits         Committer
	hasher          *notebook.Hasher
	locker          *pathlock.Locker
	audit           AuditLog
	clock           clock.Clock
	retain          bool
	commitMessage   string
	rollbackTimeout time.Duration
	logger          *slog.Logger
}

// New returns an Authority.
func New(cfg Config) (*Authority, error) {
	if cfg.Identity == nil || cfg.Keys == nil || cfg.Commits == nil {
		return nil, fmt.Errorf("authority: Identity, Keys, and Commits are required")
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = &notebook.Hasher{}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	locker := cfg.Locker
	if locker == nil {
		locker = pathlock.New(clk, 0)
	}
	message := cfg.DefaultCommitMessage
	if message == "" {
		message = DefaultCommitMessage
	}
	rollbackTimeout := cfg.RollbackTimeout
	if rollbackTimeout <= 0 {
		rollbackTimeout = DefaultRollbackTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Authority{
		root:            cfg.NotebookRoot,
		identity:        cfg.Identity,
		keys:            cfg.Keys,
		commits:         cfg.Commits,
		hasher:          hasher,
		locker:          locker,
		audit:           cfg.Audit,
		clock:           clk,
		retain:          !cfg.ClearLockFieldsOnUnlock,
		commitMessage:   message,
		rollbackTimeout: rollbackTimeout,
		logger:          logger,
	}, nil
}

// NotebookRoot returns the configured notebook root.
func (a *Authority) NotebookRoot() string {
	return a.root
}

// resolvePath maps a request path onto the filesystem.
func (a *Authority) resolvePath(path string) (string, error) {
	resolved, err := notebook.ResolvePath(a.root, path)
	if err != nil {
		return "", lockerr.Wrap(lockerr.InvalidRequest, err, "%v", err)
	}
	return resolved, nil
}

// resolveDir is resolvePath for directories: an empty path, or any
// spelling of the root itself, names the root.
func (a *Authority) resolveDir(path string) (string, error) {
	if path == "" {
		if a.root == "" {
			return "", lockerr.New(lockerr.InvalidRequest, "a repository path is required when no notebook root is configured")
		}
		return a.root, nil
	}
	if a.root != "" && a.namesRoot(path) {
		return a.root, nil
	}
	return a.resolvePath(path)
}

func (a *Authority) namesRoot(path string) bool {
	root, err := filepath.Abs(a.root)
	if err != nil {
		return false
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	return filepath.Clean(candidate) == root
}

// parseContent decodes request content. A missing or cell-less
// notebook is EmptyContent; malformed JSON is InvalidRequest.
func parseContent(content schema.Content) (*notebook.Document, error) {
	data, err := content.Bytes()
	if err != nil {
		if errors.Is(err, schema.ErrNoContent) {
			return nil, lockerr.New(lockerr.EmptyContent, "the notebook has no content")
		}
		return nil, lockerr.Wrap(lockerr.InvalidRequest, err, "%v", err)
	}
	doc, err := notebook.Parse(data)
	if err != nil {
		if errors.Is(err, notebook.ErrEmpty) {
			return nil, lockerr.New(lockerr.EmptyContent, "the notebook has no content")
		}
		return nil, lockerr.Wrap(lockerr.InvalidRequest, err, "notebook_content is not a valid notebook: %v", err)
	}
	return doc, nil
}

// session holds the exclusion an in-flight mutating operation owns.
type session struct {
	location git.Location

	releasePath       func()
	releaseRepository func() error
}

func (s *session) close(logger *slog.Logger) {
	if s.releaseRepository != nil {
		if err := s.releaseRepository(); err != nil {
			logger.Warn("releasing repository lock", "repository", s.location.Root, "error", err)
		}
	}
	s.releasePath()
}

// begin claims path, locates its repository, and takes the repository
// lock. The caller must close the returned session.
func (a *Authority) begin(ctx context.Context, path string) (*session, error) {
	releasePath, err := a.locker.TryLock(path)
	if err != nil {
		if errors.Is(err, pathlock.ErrBusy) {
			return nil, lockerr.Wrap(lockerr.OperationInProgress, err, "another operation on this notebook is in progress; try again when it finishes")
		}
		return nil, lockerr.Wrap(lockerr.Internal, err, "claiming notebook: %v", err)
	}
	s := &session{releasePath: releasePath}

	s.location, err = a.commits.Locate(ctx, path)
	if err != nil {
		s.close(a.logger)
		return nil, lockerr.FromBackend(err, lockerr.NotARepository, "locating the notebook's repository")
	}

	s.releaseRepository, err = a.locker.LockRepository(ctx, s.location.GitDir)
	if err != nil {
		s.close(a.logger)
		if ctx.Err() != nil {
			return nil, lockerr.Wrap(lockerr.BackendTimeout, err, "timed out waiting for another operation in this repository to finish")
		}
		return nil, lockerr.Wrap(lockerr.Internal, err, "locking the repository: %v", err)
	}
	return s, nil
}

// currentIdentity resolves the caller's identity for dir, mapping a
// missing identity to IdentityNotConfigured.
func (a *Authority) currentIdentity(ctx context.Context, dir string) (identity.Identity, error) {
	current, err := a.identity.CurrentIdentity(ctx, dir)
	if err != nil {
		if errors.Is(err, identity.ErrNotConfigured) {
			return identity.Identity{}, lockerr.Wrap(lockerr.IdentityNotConfigured, err, "%v", err)
		}
		return identity.Identity{}, lockerr.FromBackend(err, lockerr.Internal, "reading the git identity")
	}
	return current, nil
}

// cleanupContext returns a context for undoing a failed operation. It
// keeps ctx's values but not its cancellation.
func (a *Authority) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), a.rollbackTimeout)
}

// record writes an audit event. Audit failures are logged, never
// returned.
func (a *Authority) record(ctx context.Context, event audit.Event, err error) {
	event.Outcome = audit.OutcomeSuccess
	if err != nil {
		event.Outcome = audit.OutcomeFailure
		event.ErrorKind = string(lockerr.KindOf(err))
		event.Message = err.Error()
	}
	if a.audit == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, recordErr := a.audit.Record(recordCtx, event); recordErr != nil {
		a.logger.Warn("recording audit event",
			"action", event.Action,
			"notebook", event.NotebookPath,
			"error", recordErr,
		)
	}
}

// logFailure logs a refused or failed operation. Messages never carry
// key material, only the classified message.
func (a *Authority) logFailure(operation, path string, user identity.Identity, err error) {
	step := ""
	var classified *lockerr.Error
	if errors.As(err, &classified) {
		step = classified.Step
	}
	a.logger.Warn(operation+" failed",
		"notebook", path,
		"step", step,
		"user_name", user.Name,
		"error_kind", lockerr.KindOf(err),
		"error", err,
	)
}

// isBackendFailure reports whether err means git itself could not
// answer, as opposed to answering that something is missing.
func isBackendFailure(err error) bool {
	return errors.Is(err, git.ErrTimeout) ||
		errors.Is(err, git.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
