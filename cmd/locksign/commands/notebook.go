// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/locksign/cmd/locksign/cli"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
)

type lockParams struct {
	connection
	cli.JSONOutput
	message string
}

func lockCommand(ctx context.Context, out io.Writer) *cli.Command {
	var params lockParams
	return &cli.Command{
		Name:    "lock",
		Summary: "Lock a notebook and commit it",
		Description: `Lock a notebook under your git identity.

The notebook's content hash, your name and email, and the signing key
are written into its metadata, and the notebook is committed. The
commit is GPG-signed when git is configured to sign.`,
		Usage: "locksign lock <notebook> [flags]",
		Examples: []cli.Example{
			{Description: "Lock with the default commit message", Command: "locksign lock analysis.ipynb"},
			{Description: "Lock through a running service", Command: "locksign lock analysis.ipynb -m 'Final results' --socket ~/.local/state/locksign/locksign.sock"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("lock", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			flagSet.StringVarP(&params.message, "message", "m", "", "commit message (default from config)")
			return flagSet
		},
		Run: func(args []string) error {
			target, err := singleArgument(args, "notebook")
			if err != nil {
				return err
			}
			path, content, err := readNotebook(target)
			if err != nil {
				return err
			}
			return withBackend(&params.connection, func(selected backend) error {
				response, err := selected.Lock(ctx, schema.LockRequest{
					NotebookPath:    path,
					NotebookContent: content,
					CommitMessage:   params.message,
				})
				if err != nil {
					return err
				}
				response.NotebookContent = nil
				if done, err := params.EmitJSON(out, response); done {
					return err
				}
				fmt.Fprintf(out, "Locked %s\n", target)
				if response.Metadata != nil {
					fmt.Fprintf(out, "  owner:  %s <%s>\n", response.Metadata.UserName, response.Metadata.UserEmail)
				}
				fmt.Fprintf(out, "  commit: %s (%s)\n", response.CommitHash, signedWord(response.Signed))
				return nil
			})
		},
	}
}

type unlockParams struct {
	connection
	cli.JSONOutput
}

func unlockCommand(ctx context.Context, out io.Writer) *cli.Command {
	var params unlockParams
	return &cli.Command{
		Name:    "unlock",
		Summary: "Unlock a notebook you locked",
		Description: `Unlock a notebook.

Unlocking checks, in order, that the content is unchanged since the
lock, that the lock commit exists and holds this content, that you are
the identity that locked it, and (for signed locks) that your signing
key matches and the lock commit's signature verifies. The unlocked
notebook is written back but not committed.`,
		Usage: "locksign unlock <notebook> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("unlock", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			target, err := singleArgument(args, "notebook")
			if err != nil {
				return err
			}
			path, content, err := readNotebook(target)
			if err != nil {
				return err
			}
			return withBackend(&params.connection, func(selected backend) error {
				response, err := selected.Unlock(ctx, schema.UnlockRequest{
					NotebookPath:    path,
					NotebookContent: content,
				})
				if err != nil {
					return err
				}
				response.NotebookContent = nil
				if done, err := params.EmitJSON(out, response); done {
					return err
				}
				fmt.Fprintf(out, "Unlocked %s\n", target)
				switch {
				case response.WasGPGSigned && response.SignatureVerificationPassed:
					fmt.Fprintln(out, "  signature verified")
				case !response.WasGPGSigned:
					fmt.Fprintln(out, "  lock was unsigned; identity verified")
				}
				return nil
			})
		},
	}
}

type commitParams struct {
	connection
	cli.JSONOutput
	message string
}

func commitCommand(ctx context.Context, out io.Writer) *cli.Command {
	var params commitParams
	return &cli.Command{
		Name:        "commit",
		Summary:     "Commit an unlocked notebook",
		Description: "Commit a notebook without locking it. Locked notebooks are refused.",
		Usage:       "locksign commit <notebook> -m <message> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("commit", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			flagSet.StringVarP(&params.message, "message", "m", "", "commit message (required)")
			return flagSet
		},
		Run: func(args []string) error {
			target, err := singleArgument(args, "notebook")
			if err != nil {
				return err
			}
			if params.message == "" {
				return cli.Validation("--message is required")
			}
			path, content, err := readNotebook(target)
			if err != nil {
				return err
			}
			return withBackend(&params.connection, func(selected backend) error {
				response, err := selected.Commit(ctx, schema.CommitRequest{
					NotebookPath:    path,
					NotebookContent: content,
					CommitMessage:   params.message,
				})
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(out, response); done {
					return err
				}
				fmt.Fprintf(out, "Committed %s as %s (%s)\n", target, response.CommitHash, signedWord(response.Signed))
				return nil
			})
		},
	}
}

func signedWord(signed bool) string {
	if signed {
		return "signed"
	}
	return "unsigned"
}
