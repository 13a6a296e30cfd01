// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command framework for the locksign CLI.
//
// A [Command] tree is dispatched by [Command.Execute]: the first
// positional argument selects a subcommand, flags are parsed with
// pflag, and typos in command or flag names produce a "did you mean"
// suggestion. Commands report failures as [ToolError] values whose
// [ErrorCategory] is derived from the lockerr kind, and signal a bare
// exit status with [ExitError].
package cli
