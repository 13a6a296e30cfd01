// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI. Every command
// targets a specific repository directory via the -C flag, which is
// injected by all Repository methods, and every command runs under a
// bounded timeout so a wedged git (or a gpg program git spawned for
// signing) cannot hang the caller.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds commands when the Repository was created
// without WithTimeout.
const DefaultTimeout = 10 * time.Second

var (
	// ErrUnavailable means the git program could not be executed.
	ErrUnavailable = errors.New("git is not installed or not executable")

	// ErrNotARepository means the target directory is not inside a
	// git working tree.
	ErrNotARepository = errors.New("not a git repository")

	// ErrTimeout means the command did not finish before its deadline
	// and was killed.
	ErrTimeout = errors.New("git command timed out")
)

// CommandError describes a failed git invocation. It unwraps to the
// matching sentinel (ErrUnavailable, ErrNotARepository, ErrTimeout)
// when one applies, and always to the underlying exec error.
type CommandError struct {
	Args     []string
	Dir      string
	ExitCode int
	Stderr   string
	Err      error

	sentinel error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s in %s: %v (stderr: %s)",
		strings.Join(e.Args, " "), e.Dir, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() []error {
	if e.sentinel != nil {
		return []error{e.sentinel, e.Err}
	}
	return []error{e.Err}
}

// Output is the result of a git command whose non-zero exit status is
// meaningful to the caller (config lookups, verify-commit, cat-file -e).
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Repository represents a git repository at a specific directory.
// There is no default directory: callers must always specify which
// repository they mean.
type Repository struct {
	dir     string
	program string
	timeout time.Duration
	env     []string
}

// Option configures a Repository.
type Option func(*Repository)

// WithProgram overrides the git executable (default "git").
func WithProgram(program string) Option {
	return func(r *Repository) {
		if program != "" {
			r.program = program
		}
	}
}

// WithTimeout sets the per-command timeout used by Run and Exec.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Repository) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithEnv appends KEY=VALUE entries to the environment of every
// command. Tests use this to isolate git from the user's global and
// system configuration.
func WithEnv(env ...string) Option {
	return func(r *Repository) {
		r.env = append(r.env, env...)
	}
}

// NewRepository returns a Repository targeting the given directory.
// The directory may be any directory inside a working tree.
func NewRepository(dir string, options ...Option) *Repository {
	repository := &Repository{
		dir:     dir,
		program: "git",
		timeout: DefaultTimeout,
	}
	for _, option := range options {
		option(repository)
	}
	return repository
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Timeout returns the per-command timeout.
func (r *Repository) Timeout() time.Duration {
	return r.timeout
}

// WithTimeout returns a copy of the repository that runs commands with
// a different timeout. Commit creation uses this to allow more time
// than a config read.
func (r *Repository) WithTimeout(timeout time.Duration) *Repository {
	copied := *r
	if timeout > 0 {
		copied.timeout = timeout
	}
	return &copied
}

// Run executes a git command and returns stdout. A non-zero exit is an
// error; stderr is captured separately and included in the
// *CommandError.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	output, err := r.Exec(ctx, args...)
	if err != nil {
		return "", err
	}
	if output.ExitCode != 0 {
		return "", r.commandError(args, output, fmt.Errorf("exit status %d", output.ExitCode))
	}
	return output.Stdout, nil
}

// Exec executes a git command and returns its output regardless of
// exit status. Only failures to run the command at all (missing
// program, timeout, directory not a repository) are errors.
func (r *Repository) Exec(ctx context.Context, args ...string) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	command := r.Command(ctx, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	// Hook children of a killed git can hold the output pipes open.
	command.WaitDelay = time.Second

	runErr := command.Run()
	output := Output{
		Stdout: stdout.String(),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	if runErr == nil {
		return output, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		output.ExitCode = -1
		failure := r.commandError(args, output, runErr)
		failure.sentinel = ErrTimeout
		return output, failure
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		failure := r.commandError(args, output, runErr)
		if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, os.ErrNotExist) {
			failure.sentinel = ErrUnavailable
		}
		return output, failure
	}

	output.ExitCode = exitErr.ExitCode()
	if isNotARepository(output.Stderr) {
		failure := r.commandError(args, output, runErr)
		failure.sentinel = ErrNotARepository
		return output, failure
	}
	return output, nil
}

// Command returns an *exec.Cmd for a git command without running it.
// The caller gets full control over Stdin, Stdout, and Stderr before
// starting the process. The -C flag targeting this repository is
// automatically prepended.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", r.dir}, args...)
	command := exec.CommandContext(ctx, r.program, fullArgs...)
	if len(r.env) > 0 {
		command.Env = append(os.Environ(), r.env...)
	}
	return command
}

func (r *Repository) commandError(args []string, output Output, err error) *CommandError {
	return &CommandError{
		Args:     args,
		Dir:      r.dir,
		ExitCode: output.ExitCode,
		Stderr:   output.Stderr,
		Err:      err,
	}
}

func isNotARepository(stderr string) bool {
	return strings.Contains(stderr, "not a git repository") ||
		strings.Contains(stderr, "cannot change to")
}

// Location identifies a file inside a working tree.
type Location struct {
	// Root is the absolute working tree root.
	Root string

	// GitDir is the absolute path of the repository's git directory.
	GitDir string

	// Path is the absolute path of the file.
	Path string

	// Relative is Path relative to Root, with forward slashes, as git
	// expects in pathspecs and "<commit>:<path>" expressions.
	Relative string
}

// Locate finds the working tree containing path. The file itself need
// not exist, but its directory must. Symlinks in the directory are
// resolved so the relative path agrees with what git reports.
func Locate(ctx context.Context, path string, options ...Option) (Location, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return Location{}, fmt.Errorf("resolving %s: %w", path, err)
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(absolute))
	if err != nil {
		return Location{}, fmt.Errorf("%w: %s: %v", ErrNotARepository, filepath.Dir(absolute), err)
	}

	stdout, err := NewRepository(dir, options...).Run(ctx, "rev-parse", "--show-toplevel", "--absolute-git-dir")
	if err != nil {
		return Location{}, err
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || lines[0] == "" {
		// Bare repositories and the inside of .git have no toplevel.
		return Location{}, fmt.Errorf("%w: %s has no working tree", ErrNotARepository, dir)
	}

	filePath := filepath.Join(dir, filepath.Base(absolute))
	relative, err := filepath.Rel(lines[0], filePath)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return Location{}, fmt.Errorf("%s is outside the working tree %s", filePath, lines[0])
	}

	return Location{
		Root:     lines[0],
		GitDir:   lines[1],
		Path:     filePath,
		Relative: filepath.ToSlash(relative),
	}, nil
}
