// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/locksign/cmd/locksign/cli"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
	"github.com/bureau-foundation/locksign/lib/version"
)

type whoamiParams struct {
	connection
	cli.JSONOutput
}

func whoamiCommand(ctx context.Context, out io.Writer) *cli.Command {
	var params whoamiParams
	return &cli.Command{
		Name:        "whoami",
		Summary:     "Show the git identity used for locks",
		Description: "Show the git user.name and user.email that lock and unlock resolve for a repository.",
		Usage:       "locksign whoami [repository] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("whoami", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			dir, err := optionalDirectory(args)
			if err != nil {
				return err
			}
			return withBackend(&params.connection, func(selected backend) error {
				response, err := selected.UserInfo(ctx, schema.UserInfoRequest{RepoPath: dir})
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(out, response); done {
					return err
				}
				fmt.Fprintln(out, response.UserInfo.String())
				return nil
			})
		},
	}
}

type repoStatusParams struct {
	connection
	cli.JSONOutput
}

func repoStatusCommand(ctx context.Context, out io.Writer) *cli.Command {
	var params repoStatusParams
	return &cli.Command{
		Name:        "repo-status",
		Summary:     "Show the repository and signing setup around a path",
		Description: "Show the branch, HEAD, working tree state, and GPG signing configuration of the repository containing a path.",
		Usage:       "locksign repo-status [path] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("repo-status", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			path, err := optionalDirectory(args)
			if err != nil {
				return err
			}
			return withBackend(&params.connection, func(selected backend) error {
				response, err := selected.RepositoryStatus(ctx, schema.RepositoryStatusRequest{NotebookPath: path})
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(out, response); done {
					return err
				}
				status := response.RepositoryStatus
				if !status.IsGitRepo {
					fmt.Fprintf(out, "%s is not inside a git repository\n", path)
					return nil
				}
				writer := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
				fmt.Fprintf(writer, "repository:\t%s\n", status.RepoPath)
				fmt.Fprintf(writer, "branch:\t%s\n", status.CurrentBranch)
				fmt.Fprintf(writer, "head:\t%s\n", status.HeadCommit)
				fmt.Fprintf(writer, "dirty:\t%t\n", status.IsDirty)
				if len(status.UntrackedFiles) > 0 {
					fmt.Fprintf(writer, "untracked:\t%s\n", strings.Join(status.UntrackedFiles, ", "))
				}
				if status.GPGConfigured {
					fmt.Fprintf(writer, "signing:\t%s (from %s)\n", status.GPGSigningKey, status.GPGConfigSource)
				} else {
					fmt.Fprintf(writer, "signing:\tnot configured\n")
				}
				return writer.Flush()
			})
		},
	}
}

type auditParams struct {
	connection
	cli.JSONOutput
	limit int
}

func auditCommand(ctx context.Context, out io.Writer) *cli.Command {
	var params auditParams
	return &cli.Command{
		Name:        "audit",
		Summary:     "Show recent lock, unlock, and commit attempts",
		Description: "Show the audit log, newest first. Failed attempts are listed with their error kind.",
		Usage:       "locksign audit [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("audit", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.JSONOutput.AddFlags(flagSet)
			flagSet.IntVarP(&params.limit, "limit", "n", 0, "maximum number of events (default 50)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("audit takes no arguments")
			}
			if params.limit < 0 {
				return cli.Validation("--limit must not be negative")
			}
			return withBackend(&params.connection, func(selected backend) error {
				response, err := selected.Audit(ctx, schema.AuditRequest{Limit: params.limit})
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(out, response.Events); done {
					return err
				}
				if len(response.Events) == 0 {
					fmt.Fprintln(out, "no audit events")
					return nil
				}
				writer := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
				fmt.Fprintf(writer, "TIME\tACTION\tOUTCOME\tUSER\tNOTEBOOK\n")
				for _, event := range response.Events {
					outcome := string(event.Outcome)
					if event.ErrorKind != "" {
						outcome += " (" + event.ErrorKind + ")"
					}
					fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
						event.Time.Local().Format(time.DateTime), event.Action, outcome,
						event.UserEmail, event.NotebookPath)
				}
				return writer.Flush()
			})
		},
	}
}

func versionCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			fmt.Fprintf(out, "locksign %s\n", version.Info())
			return nil
		},
	}
}
