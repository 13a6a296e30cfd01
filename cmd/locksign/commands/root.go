// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/locksign/cmd/locksign/cli"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
)

// Root returns the locksign command tree. Command output goes to out.
func Root(ctx context.Context, out io.Writer) *cli.Command {
	return &cli.Command{
		Name: "locksign",
		Description: `Lock and sign Jupyter notebooks with git.

Locking a notebook records its content hash and your git identity in
the notebook metadata and commits it (GPG-signed when git is
configured to sign). Only the same identity, holding the same signing
key, can unlock it again.

Commands run in process by default. With --socket they are forwarded
to a running locksign-service.`,
		Subcommands: []*cli.Command{
			lockCommand(ctx, out),
			unlockCommand(ctx, out),
			commitCommand(ctx, out),
			statusCommand(ctx, out),
			whoamiCommand(ctx, out),
			repoStatusCommand(ctx, out),
			auditCommand(ctx, out),
			versionCommand(out),
		},
	}
}

// withBackend opens the connection's backend for the duration of run.
func withBackend(conn *connection, run func(backend) error) (err error) {
	selected, release, err := conn.open()
	if err != nil {
		return cli.Categorize(err)
	}
	defer func() {
		if closeErr := release(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return cli.Categorize(run(selected))
}

// readNotebook returns the absolute path of a notebook file and its
// content.
func readNotebook(path string) (string, schema.Content, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", nil, cli.Internal("resolving %s: %v", path, err)
	}
	data, err := os.ReadFile(absolute)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, cli.NotFound("notebook %s does not exist", path)
		}
		return "", nil, cli.Internal("reading %s: %v", path, err)
	}
	return absolute, schema.Content(data), nil
}

// singleArgument checks that exactly one positional argument was given.
func singleArgument(args []string, what string) (string, error) {
	if len(args) != 1 {
		return "", cli.Validation("expected exactly one %s argument, got %d", what, len(args))
	}
	return args[0], nil
}

// optionalDirectory returns the first argument as an absolute path,
// or the working directory.
func optionalDirectory(args []string) (string, error) {
	if len(args) > 1 {
		return "", cli.Validation("expected at most one path argument, got %d", len(args))
	}
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", cli.Internal("resolving %s: %v", path, err)
	}
	return absolute, nil
}
