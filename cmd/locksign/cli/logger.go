// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates a logger for CLI command operations. When
// stderr is a terminal it logs human-readable text; when piped (CI,
// scripts, editor integrations) it logs JSON matching the service's
// log format.
func NewCommandLogger(level slog.Leveler) *slog.Logger {
	return newCommandLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), level)
}

func newCommandLogger(w io.Writer, terminal bool, level slog.Leveler) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}
