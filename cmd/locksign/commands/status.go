// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/locksign/cmd/locksign/cli"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
)

type statusParams struct {
	connection
	cli.JSONOutput
}

func statusCommand(ctx context.Context, out io.Writer) *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show whether a notebook is locked and the lock still holds",
		Description: `Show a notebook's lock state.

A locked notebook is checked against its recorded content hash and
lock commit. Exits 1 when the notebook is locked but the lock no
longer holds (the content was edited or the commit is gone).`,
		Usage: "locksign status <notebook> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
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
				response, err := selected.Status(ctx, schema.StatusRequest{
					NotebookPath:    path,
					NotebookContent: content,
				})
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(out, response); done {
					if err != nil {
						return err
					}
					return lockExit(response)
				}
				printStatus(out, target, response)
				return lockExit(response)
			})
		},
	}
}

// lockExit returns an ExitError when a lock is present but broken.
func lockExit(response *schema.StatusResponse) error {
	if response.Locked && !response.SignatureValid {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

func printStatus(out io.Writer, target string, response *schema.StatusResponse) {
	renderer := lipgloss.NewRenderer(out)
	label := renderer.NewStyle().Bold(true)
	locked := renderer.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	valid := renderer.NewStyle().Foreground(lipgloss.Color("2"))
	broken := renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dim := renderer.NewStyle().Faint(true)

	if !response.Locked {
		fmt.Fprintf(out, "%s %s\n", label.Render(target), valid.Render("unlocked"))
		if metadata := response.Metadata; metadata != nil && metadata.UnlockedByUserName != "" {
			fmt.Fprintln(out, dim.Render(fmt.Sprintf("  last unlocked by %s <%s> at %s",
				metadata.UnlockedByUserName, metadata.UnlockedByUserEmail, metadata.UnlockTimestamp)))
		}
		if response.Detail != "" {
			fmt.Fprintln(out, dim.Render("  "+response.Detail))
		}
		return
	}

	state := valid.Render("lock holds")
	if !response.SignatureValid {
		state = broken.Render("lock broken")
	}
	fmt.Fprintf(out, "%s %s (%s)\n", label.Render(target), locked.Render("locked"), state)

	if metadata := response.Metadata; metadata != nil {
		fmt.Fprintf(out, "  %s %s <%s>\n", label.Render("owner: "), metadata.UserName, metadata.UserEmail)
		fmt.Fprintf(out, "  %s %s\n", label.Render("since: "), metadata.Timestamp)
		fmt.Fprintf(out, "  %s %s (%s)\n", label.Render("commit:"), metadata.CommitHash, signedWord(metadata.CommitSigned))
		fmt.Fprintf(out, "  %s %s\n", label.Render("key:   "), metadata.Signature)
	}
	if response.Detail != "" {
		fmt.Fprintf(out, "  %s\n", broken.Render(response.Detail))
	}
}
