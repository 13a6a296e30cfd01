// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/locksign/lib/audit"
	"github.com/bureau-foundation/locksign/lib/clock"
	"github.com/bureau-foundation/locksign/lib/commit"
	"github.com/bureau-foundation/locksign/lib/config"
	"github.com/bureau-foundation/locksign/lib/git"
	"github.com/bureau-foundation/locksign/lib/gitconfig"
	"github.com/bureau-foundation/locksign/lib/identity"
	"github.com/bureau-foundation/locksign/lib/notebook"
	"github.com/bureau-foundation/locksign/lib/signing"
)

// Open builds an Authority from a validated configuration: git and gpg
// backends with the configured programs and timeouts, and the audit
// log when paths.audit_db is set. The returned close function releases
// the audit database.
func Open(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*Authority, func() error, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if clk == nil {
		clk = clock.Real()
	}

	algorithm, err := cfg.HashAlgorithm()
	if err != nil {
		return nil, nil, err
	}
	hasher, err := notebook.NewHasher(algorithm)
	if err != nil {
		return nil, nil, err
	}

	source := gitconfig.NewGitSource(
		git.WithProgram(cfg.Git.Program),
		git.WithTimeout(cfg.Git.CommandTimeout),
	)
	commits, err := commit.New(commit.Config{
		ConfigSource:   source,
		Program:        cfg.Git.Program,
		CommandTimeout: cfg.Git.CommandTimeout,
		CommitTimeout:  cfg.Git.CommitTimeout,
		Logger:         logger.With("component", "commit"),
	})
	if err != nil {
		return nil, nil, err
	}
	keys, err := signing.NewGPG(signing.Config{
		Program:      cfg.GPG.Program,
		Timeout:      cfg.GPG.CommandTimeout,
		ConfigSource: source,
		Logger:       logger.With("component", "gpg"),
	})
	if err != nil {
		return nil, nil, err
	}

	closeAudit := func() error { return nil }
	var auditLog AuditLog
	if cfg.Paths.AuditDB != "" {
		opened, err := audit.Open(audit.Config{
			Path:   cfg.Paths.AuditDB,
			Clock:  clk,
			Logger: logger.With("component", "audit"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening audit log: %w", err)
		}
		auditLog, closeAudit = opened, opened.Close
	}

	authority, err := New(Config{
		NotebookRoot:            cfg.Paths.NotebookRoot,
		Identity:                identity.NewProvider(source),
		Keys:                    keys,
		Commits:                 commits,
		Hasher:                  hasher,
		Audit:                   auditLog,
		Clock:                   clk,
		ClearLockFieldsOnUnlock: !cfg.RetainLockFields(),
		DefaultCommitMessage:    cfg.Lock.DefaultCommitMessage,
		Logger:                  logger,
	})
	if err != nil {
		closeAudit()
		return nil, nil, err
	}
	return authority, closeAudit, nil
}
