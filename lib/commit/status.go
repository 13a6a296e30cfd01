// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/locksign/lib/git"
	"github.com/bureau-foundation/locksign/lib/gitconfig"
)

// RepositoryStatus summarizes the repository around a notebook.
type RepositoryStatus struct {
	IsGitRepo       bool     `json:"is_git_repo"`
	RepoPath        string   `json:"repo_path,omitempty"`
	CurrentBranch   string   `json:"current_branch,omitempty"`
	IsDirty         bool     `json:"is_dirty"`
	UntrackedFiles  []string `json:"untracked_files"`
	GPGConfigured   bool     `json:"gpg_configured"`
	GPGSigningKey   string   `json:"gpg_signing_key,omitempty"`
	GPGConfigSource string   `json:"gpg_config_source,omitempty"`
	HeadCommit      string   `json:"head_commit,omitempty"`
}

// headCommitLength is how many hex digits of HEAD RepositoryStatus
// reports.
const headCommitLength = 8

// RepositoryStatus describes the repository containing path, which may
// be a notebook file or a directory. A path outside any repository is
// reported with IsGitRepo false rather than as an error.
func (s *Service) RepositoryStatus(ctx context.Context, path string) (RepositoryStatus, error) {
	status := RepositoryStatus{UntrackedFiles: []string{}}

	dir, err := filepath.Abs(path)
	if err != nil {
		return status, err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	repository := s.repository(dir)
	stdout, err := repository.Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		if errors.Is(err, git.ErrNotARepository) {
			return status, nil
		}
		var commandErr *git.CommandError
		if errors.As(err, &commandErr) && commandErr.ExitCode > 0 {
			// Inside .git or a bare repository: no working tree.
			return status, nil
		}
		return status, err
	}
	status.IsGitRepo = true
	status.RepoPath = strings.TrimSpace(stdout)
	repository = s.repository(status.RepoPath)

	branch, err := repository.Exec(ctx, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		return status, err
	}
	if branch.ExitCode == 0 {
		status.CurrentBranch = strings.TrimSpace(branch.Stdout)
	} else {
		status.CurrentBranch = "HEAD"
	}

	porcelain, err := repository.Run(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return status, err
	}
	status.IsDirty, status.UntrackedFiles = parsePorcelain(porcelain)

	head, err := s.Head(ctx, status.RepoPath)
	if err != nil {
		return status, err
	}
	if len(head) > headCommitLength {
		head = head[:headCommitLength]
	}
	status.HeadCommit = head

	key, scope, err := gitconfig.Lookup(ctx, s.config, status.RepoPath, "user.signingkey")
	if err != nil {
		return status, err
	}
	if key != "" {
		status.GPGConfigured = true
		status.GPGSigningKey = key
		status.GPGConfigSource = string(scope)
	}
	return status, nil
}

// parsePorcelain reads NUL-separated porcelain v1 output. Tracked
// changes make the tree dirty; "??" entries are untracked files.
// Renames and copies carry an extra entry naming the source path.
func parsePorcelain(output string) (dirty bool, untracked []string) {
	untracked = []string{}
	entries := strings.Split(output, "\x00")
	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		if len(entry) < 4 {
			continue
		}
		code, name := entry[:2], entry[3:]
		switch {
		case code == "??":
			untracked = append(untracked, name)
		case code == "!!":
		default:
			dirty = true
			if code[0] == 'R' || code[0] == 'C' {
				i++
			}
		}
	}
	return dirty, untracked
}
