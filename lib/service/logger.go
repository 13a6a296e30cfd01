// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a JSON logger writing to stderr at level and
// installs it as the slog default.
func NewLogger(level slog.Leveler) *slog.Logger {
	return newLogger(os.Stderr, level)
}

func newLogger(output io.Writer, level slog.Leveler) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
