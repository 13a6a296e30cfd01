// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/locksign/lib/codec"
	"github.com/bureau-foundation/locksign/lib/lockerr"
)

// ActionFunc processes a socket request for one action. The raw
// parameter is the full CBOR request, including the "action" field;
// the handler decodes its own fields from it.
//
// A nil result produces {ok: true}. A non-nil result is marshaled as
// CBOR into the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope for every socket response.
type Response struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`

	// ErrorKind is the lockerr.Kind of a failed request.
	ErrorKind string `cbor:"error_kind,omitempty"`

	Data codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves a CBOR request-response protocol on a Unix
// socket. Each connection carries exactly one request and one
// response. The socket file is created with mode 0600, so only the
// owning user can connect.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	// ready is closed once the listener is bound.
	ready chan struct{}

	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
// Register actions with Handle before calling Serve.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Handle registers a handler for action. Panics on a duplicate.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Ready returns a channel that is closed once the socket accepts
// connections.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests to finish. A stale socket file at the path is
// replaced; the socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting socket %s: %w", s.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

const (
	socketReadTimeout  = 30 * time.Second
	socketWriteTimeout = 10 * time.Second
)

// maxRequestSize bounds one CBOR request. Lock and commit requests
// carry a whole notebook, outputs included.
const maxRequestSize = 64 << 20

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(socketReadTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, lockerr.New(lockerr.InvalidRequest, "invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, lockerr.New(lockerr.InvalidRequest, "invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, lockerr.New(lockerr.InvalidRequest, "missing required field: action"))
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, lockerr.New(lockerr.InvalidRequest, "unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed",
			"action", header.Action,
			"error_kind", lockerr.KindOf(err),
			"error", err,
		)
		s.writeError(conn, err)
		return
	}

	s.writeSuccess(conn, result)
}

// writeError sends {ok: false, error, error_kind}. Write failures are
// logged at debug level since the connection closes either way.
func (s *SocketServer) writeError(conn net.Conn, err error) {
	conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if encodeErr := codec.NewEncoder(conn).Encode(Response{
		OK:        false,
		Error:     err.Error(),
		ErrorKind: string(lockerr.KindOf(err)),
	}); encodeErr != nil {
		s.logger.Debug("failed to write error response", "error", encodeErr)
	}
}

func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, lockerr.Wrap(lockerr.Internal, err, "marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
