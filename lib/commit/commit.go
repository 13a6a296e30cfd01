// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commit creates and inspects the git commits that carry
// notebook locks: staging and committing a single notebook under a
// given author identity (signed when the repository is configured to
// sign), folding updated metadata into the tip with an amend, pinning
// the signed commit so it stays reachable, and reading back a commit's
// author, content, signature, and signer key id.
//
// Every operation shells out to git through lib/git with a bounded
// timeout. Commits and signature verification use the longer commit
// timeout because they may wait on gpg-agent.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/locksign/lib/git"
	"github.com/bureau-foundation/locksign/lib/gitconfig"
	"github.com/bureau-foundation/locksign/lib/identity"
)

// DefaultCommitTimeout bounds commit, amend, and verify-commit when
// Config.CommitTimeout is zero.
const DefaultCommitTimeout = 60 * time.Second

// PinRefPrefix is the ref namespace holding pinned lock commits.
const PinRefPrefix = "refs/locksign/pins/"

// Config configures a Service.
type Config struct {
	// ConfigSource reads user.signingkey and commit.gpgsign to decide
	// whether commits are signed. Required.
	ConfigSource gitconfig.Source

	// Program is the git executable. Defaults to "git".
	Program string

	// CommandTimeout bounds read-only git commands. Defaults to
	// git.DefaultTimeout.
	CommandTimeout time.Duration

	// CommitTimeout bounds commit, amend, and verify-commit. Defaults
	// to DefaultCommitTimeout.
	CommitTimeout time.Duration

	// Env is appended to the environment of every git command.
	Env []string

	// Logger receives debug output. If nil, output is discarded.
	Logger *slog.Logger
}

// Service runs git operations for notebook locks.
type Service struct {
	config        gitconfig.Source
	options       []git.Option
	commitTimeout time.Duration
	logger        *slog.Logger
}

// Result describes a commit created by CommitAndSign or AmendWithFile.
type Result struct {
	Hash   string `json:"hash"`
	Signed bool   `json:"signed"`
}

// New returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.ConfigSource == nil {
		return nil, fmt.Errorf("commit: ConfigSource is required")
	}
	commitTimeout := cfg.CommitTimeout
	if commitTimeout <= 0 {
		commitTimeout = DefaultCommitTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var options []git.Option
	if cfg.Program != "" {
		options = append(options, git.WithProgram(cfg.Program))
	}
	if cfg.CommandTimeout > 0 {
		options = append(options, git.WithTimeout(cfg.CommandTimeout))
	}
	if len(cfg.Env) > 0 {
		options = append(options, git.WithEnv(cfg.Env...))
	}

	return &Service{
		config:        cfg.ConfigSource,
		options:       options,
		commitTimeout: commitTimeout,
		logger:        logger,
	}, nil
}

func (s *Service) repository(dir string) *git.Repository {
	return git.NewRepository(dir, s.options...)
}

func (s *Service) committing(dir string) *git.Repository {
	return s.repository(dir).WithTimeout(s.commitTimeout)
}

// Locate finds the working tree containing the notebook at path.
func (s *Service) Locate(ctx context.Context, path string) (git.Location, error) {
	return git.Locate(ctx, path, s.options...)
}

// Head returns the commit HEAD points at, or "" on an unborn branch.
func (s *Service) Head(ctx context.Context, dir string) (string, error) {
	output, err := s.repository(dir).Exec(ctx, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	if err != nil {
		return "", err
	}
	if output.ExitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(output.Stdout), nil
}

// SigningConfigured reports whether commits in dir should be signed:
// user.signingkey is set or commit.gpgsign is true at any scope.
func (s *Service) SigningConfigured(ctx context.Context, dir string) (bool, error) {
	key, _, err := gitconfig.Lookup(ctx, s.config, dir, "user.signingkey")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(key) != "" {
		return true, nil
	}
	enabled, _, err := gitconfig.LookupBool(ctx, s.config, dir, "commit.gpgsign")
	if err != nil {
		return false, err
	}
	return enabled, nil
}

// CommitAndSign stages the notebook and commits only that path with
// author and committer set to author. When signing is configured the
// commit is signed with -S and a signing failure fails the commit; the
// notebook's index entry is then restored. An unconfigured repository
// gets an explicitly unsigned commit.
func (s *Service) CommitAndSign(ctx context.Context, location git.Location, message string, author identity.Identity) (Result, error) {
	return s.commit(ctx, location, message, author, false)
}

// AmendWithFile stages the notebook and rewrites the tip commit to
// include it, keeping the message and applying the same signing policy
// as CommitAndSign.
func (s *Service) AmendWithFile(ctx context.Context, location git.Location, message string, author identity.Identity) (Result, error) {
	return s.commit(ctx, location, message, author, true)
}

func (s *Service) commit(ctx context.Context, location git.Location, message string, author identity.Identity, amend bool) (Result, error) {
	if author.Name == "" || author.Email == "" {
		return Result{}, identity.ErrNotConfigured
	}
	if strings.TrimSpace(message) == "" {
		return Result{}, fmt.Errorf("commit message is empty")
	}

	sign, err := s.SigningConfigured(ctx, location.Root)
	if err != nil {
		return Result{}, fmt.Errorf("reading signing configuration: %w", err)
	}
	previous, err := s.Head(ctx, location.Root)
	if err != nil {
		return Result{}, err
	}
	if amend && previous == "" {
		return Result{}, fmt.Errorf("cannot amend: %s has no commits", location.Root)
	}

	repository := s.repository(location.Root)
	if _, err := repository.Run(ctx, "add", "--", location.Relative); err != nil {
		return Result{}, fmt.Errorf("staging %s: %w", location.Relative, err)
	}

	args := []string{
		"-c", "user.name=" + author.Name,
		"-c", "user.email=" + author.Email,
		"commit", "--quiet", "--allow-empty",
	}
	if amend {
		args = append(args, "--amend", "--reset-author")
	}
	args = append(args, "-m", message)
	if sign {
		args = append(args, "-S")
	} else {
		args = append(args, "--no-gpg-sign")
	}
	args = append(args, "--", location.Relative)

	s.logger.Debug("committing notebook",
		"notebook", location.Relative,
		"amend", amend,
		"sign", sign,
		"user_name", author.Name,
	)
	if _, err := s.committing(location.Root).Run(ctx, args...); err != nil {
		// The command can fail after the commit is written (a slow
		// post-commit hook hitting the timeout). Report that commit so
		// the caller rolls it back.
		if moved := s.movedHead(context.WithoutCancel(ctx), location.Root, previous, amend); moved != "" {
			return Result{Hash: moved}, fmt.Errorf("committing %s: %w", location.Relative, err)
		}
		if restoreErr := s.restoreIndex(context.WithoutCancel(ctx), location, previous); restoreErr != nil {
			s.logger.Warn("restoring index after failed commit",
				"notebook", location.Relative,
				"error", restoreErr,
			)
		}
		return Result{}, fmt.Errorf("committing %s: %w", location.Relative, err)
	}

	hash, err := s.Head(ctx, location.Root)
	if err != nil {
		return Result{Hash: s.movedHead(context.WithoutCancel(ctx), location.Root, previous, amend)}, err
	}
	if hash == "" || hash == previous {
		return Result{}, fmt.Errorf("committing %s: HEAD did not advance", location.Relative)
	}
	signed, err := s.IsSigned(ctx, location.Root, hash)
	if err != nil {
		return Result{Hash: hash}, err
	}
	if sign && !signed {
		return Result{Hash: hash}, fmt.Errorf("committing %s: signing was configured but commit %s carries no signature", location.Relative, hash)
	}
	return Result{Hash: hash, Signed: signed}, nil
}

// movedHead returns the commit HEAD now points at when it is the one
// this commit or amend produced: a new tip whose parent is previous
// (for an amend, previous's parent). Otherwise it returns "".
func (s *Service) movedHead(ctx context.Context, dir, previous string, amend bool) string {
	head, err := s.Head(ctx, dir)
	if err != nil || head == "" || head == previous {
		return ""
	}
	want := previous
	if amend {
		if want, err = s.parent(ctx, dir, previous); err != nil {
			return ""
		}
	}
	parent, err := s.parent(ctx, dir, head)
	if err != nil || parent != want {
		return ""
	}
	return head
}

// parent returns the first parent of commit, or "" for a root commit.
func (s *Service) parent(ctx context.Context, dir, commit string) (string, error) {
	if commit == "" {
		return "", nil
	}
	output, err := s.repository(dir).Exec(ctx, "rev-parse", "--verify", "--quiet", commit+"^")
	if err != nil {
		return "", err
	}
	if output.ExitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(output.Stdout), nil
}

// restoreIndex resets the notebook's index entry to its state at
// commit, or removes it from the index when commit is empty.
func (s *Service) restoreIndex(ctx context.Context, location git.Location, commit string) error {
	repository := s.repository(location.Root)
	if commit == "" {
		_, err := repository.Run(ctx, "rm", "--quiet", "--cached", "--ignore-unmatch", "--", location.Relative)
		return err
	}
	_, err := repository.Run(ctx, "reset", "--quiet", commit, "--", location.Relative)
	return err
}

// Exists reports whether commit names a commit object in the
// repository.
func (s *Service) Exists(ctx context.Context, dir, commit string) (bool, error) {
	if !isObjectName(commit) {
		return false, nil
	}
	output, err := s.repository(dir).Exec(ctx, "cat-file", "-e", commit+"^{commit}")
	if err != nil {
		return false, err
	}
	return output.ExitCode == 0, nil
}

// Author returns the author identity recorded in commit.
func (s *Service) Author(ctx context.Context, dir, commit string) (identity.Identity, error) {
	if !isObjectName(commit) {
		return identity.Identity{}, fmt.Errorf("invalid commit name %q", commit)
	}
	stdout, err := s.repository(dir).Run(ctx, "log", "-1", "--format=%an%x00%ae", commit, "--")
	if err != nil {
		return identity.Identity{}, err
	}
	name, email, found := strings.Cut(strings.TrimRight(stdout, "\n"), "\x00")
	if !found {
		return identity.Identity{}, fmt.Errorf("unexpected author output for %s: %q", commit, stdout)
	}
	return identity.Identity{Name: name, Email: email}, nil
}

// ReadFileAt returns the content of relative (slash-separated, from
// the working tree root) as recorded in commit.
func (s *Service) ReadFileAt(ctx context.Context, dir, commit, relative string) ([]byte, error) {
	if !isObjectName(commit) {
		return nil, fmt.Errorf("invalid commit name %q", commit)
	}
	stdout, err := s.repository(dir).Run(ctx, "cat-file", "blob", commit+":"+relative)
	if err != nil {
		return nil, err
	}
	return []byte(stdout), nil
}

// IsSigned reports whether commit carries a signature header.
func (s *Service) IsSigned(ctx context.Context, dir, commit string) (bool, error) {
	signature, err := s.signatureBlock(ctx, dir, commit)
	if err != nil {
		return false, err
	}
	return signature != "", nil
}

// Pin points refs/locksign/pins/<commit> at commit so the commit stays
// reachable after the branch moves past it.
func (s *Service) Pin(ctx context.Context, dir, commit string) error {
	if !isObjectName(commit) {
		return fmt.Errorf("invalid commit name %q", commit)
	}
	_, err := s.repository(dir).Run(ctx, "update-ref", "-m", "locksign: pin lock commit", PinRefPrefix+commit, commit)
	return err
}

// Unpin removes the pin for commit. Removing a missing pin succeeds.
func (s *Service) Unpin(ctx context.Context, dir, commit string) error {
	if !isObjectName(commit) {
		return fmt.Errorf("invalid commit name %q", commit)
	}
	output, err := s.repository(dir).Exec(ctx, "update-ref", "-d", PinRefPrefix+commit)
	if err != nil {
		return err
	}
	if output.ExitCode != 0 && !strings.Contains(output.Stderr, "not exist") {
		return fmt.Errorf("removing pin for %s: %s", commit, output.Stderr)
	}
	return nil
}

// ErrHeadMoved is returned by Rollback when HEAD points at a commit
// the rollback did not create.
var ErrHeadMoved = errors.New("HEAD was moved by another writer")

// Rollback undoes commits made by a failed operation. HEAD moves back
// to previous only if it currently points at one of created, using a
// compare-and-swap so a concurrent writer's commit is never discarded.
// The notebook's index entry is restored to previous either way.
func (s *Service) Rollback(ctx context.Context, location git.Location, previous string, created ...string) error {
	current, err := s.Head(ctx, location.Root)
	if err != nil {
		return err
	}

	if current != previous {
		ours := false
		for _, hash := range created {
			if hash != "" && hash == current {
				ours = true
				break
			}
		}
		if !ours {
			return fmt.Errorf("%w: expected one of %v, found %s", ErrHeadMoved, created, current)
		}

		repository := s.repository(location.Root)
		if previous == "" {
			_, err = repository.Run(ctx, "update-ref", "-m", "locksign: rollback", "-d", "HEAD", current)
		} else {
			_, err = repository.Run(ctx, "update-ref", "-m", "locksign: rollback", "HEAD", previous, current)
		}
		if err != nil {
			return fmt.Errorf("resetting HEAD to %q: %w", previous, err)
		}
	}

	if err := s.restoreIndex(ctx, location, previous); err != nil {
		return fmt.Errorf("restoring index entry for %s: %w", location.Relative, err)
	}
	return nil
}

// isObjectName accepts abbreviated or full hex object names. Anything
// else (refs, revision expressions, option-like strings) is rejected
// before it reaches a git command line.
func isObjectName(name string) bool {
	if len(name) < 4 || len(name) > 64 {
		return false
	}
	for _, character := range name {
		if !(character >= '0' && character <= '9' || character >= 'a' && character <= 'f') {
			return false
		}
	}
	return true
}
