// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/bureau-foundation/locksign/lib/authority"
	"github.com/bureau-foundation/locksign/lib/clock"
	"github.com/bureau-foundation/locksign/lib/config"
	"github.com/bureau-foundation/locksign/lib/process"
	"github.com/bureau-foundation/locksign/lib/service"
	"github.com/bureau-foundation/locksign/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath  string
		debug       bool
		showVersion bool
	)

	flags := pflag.NewFlagSet("locksign-service", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to locksign.yaml (default: $LOCKSIGN_CONFIG)")
	flags.BoolVar(&debug, "debug", false, "log at debug level")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("locksign-service %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := service.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, clock.Real(), logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// serve runs the configured listeners until ctx is cancelled and both
// have drained.
func serve(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (err error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	auth, closeAuthority, err := authority.Open(cfg, clk, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeAuthority()) }()

	logger.Info("locksign-service starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"notebook_root", cfg.Paths.NotebookRoot,
		"http_address", cfg.Server.HTTPAddress,
		"socket_path", cfg.Server.SocketPath,
		"audit_db", cfg.Paths.AuditDB,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 2)
	listeners := 0

	if cfg.Server.SocketPath != "" {
		socketServer := service.NewSocketServer(cfg.Server.SocketPath, logger.With("listener", "socket"))
		registerActions(socketServer, auth, clk)
		listeners++
		go func() { done <- socketServer.Serve(ctx) }()
	}

	if cfg.Server.HTTPAddress != "" {
		httpServer, err := service.NewHTTPServer(service.HTTPServerConfig{
			Address:      cfg.Server.HTTPAddress,
			Handler:      newHTTPHandler(auth, cfg.Server.BaseURL, logger),
			WriteTimeout: cfg.Git.CommitTimeout + 2*cfg.GPG.CommandTimeout,
			Logger:       logger.With("listener", "http"),
		})
		if err != nil {
			cancel()
			for range listeners {
				<-done
			}
			return err
		}
		listeners++
		go func() { done <- httpServer.Serve(ctx) }()
	}

	// A listener that fails to start takes the whole service down.
	var serveErr error
	for range listeners {
		if listenerErr := <-done; listenerErr != nil {
			serveErr = multierr.Append(serveErr, listenerErr)
			cancel()
		}
	}
	logger.Info("locksign-service stopped")
	return serveErr
}
