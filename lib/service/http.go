// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Default HTTP timeouts. Unlock can wait on gpg, so the write budget
// is the largest.
const (
	defaultShutdownTimeout = 10 * time.Second
	defaultWriteTimeout    = 3 * time.Minute
	readHeaderTimeout      = 10 * time.Second
	readTimeout            = time.Minute
	idleTimeout            = time.Minute
)

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address ("127.0.0.1:8765"). Port 0
	// picks a free port; Addr reports it once Ready is closed.
	Address string

	// Handler serves the JSON API.
	Handler http.Handler

	// WriteTimeout bounds one request from the end of its headers to
	// the end of the response. Zero means three minutes.
	WriteTimeout time.Duration

	// ShutdownTimeout bounds the drain after Serve's context ends.
	// Zero means ten seconds.
	ShutdownTimeout time.Duration

	// Logger is optional; nil discards.
	Logger *slog.Logger
}

// HTTPServer runs the JSON API on a TCP listener with the same
// lifecycle as SocketServer: Ready closes once bound, and Serve
// returns after its context ends and in-flight requests drain.
type HTTPServer struct {
	config HTTPServerConfig
	logger *slog.Logger
	ready  chan struct{}
	addr   net.Addr
}

// NewHTTPServer checks cfg and fills in defaults.
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	if cfg.Address == "" {
		return nil, errors.New("http server: address is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("http server: handler is required")
	}
	if cfg.WriteTimeout < 0 || cfg.ShutdownTimeout < 0 {
		return nil, errors.New("http server: timeouts must not be negative")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPServer{config: cfg, logger: logger, ready: make(chan struct{})}, nil
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address. Valid after Ready is closed.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve binds the listener and serves until ctx ends, then shuts down
// gracefully. Request contexts keep ctx's values but not its
// cancellation, so a lock already underway finishes during the drain.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	failed := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		failed <- err
	}()
	close(s.ready)
	s.logger.Info("http server listening", "address", s.addr.String())

	select {
	case err := <-failed:
		if err != nil {
			return fmt.Errorf("serving http on %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		s.logger.Warn("http server drain incomplete", "error", err)
		return fmt.Errorf("draining http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
