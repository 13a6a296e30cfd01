// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net"
	"time"

	"github.com/bureau-foundation/locksign/lib/codec"
	"github.com/bureau-foundation/locksign/lib/lockerr"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response
// after writing its request. Unlock can wait on a gpg-agent
// passphrase prompt, so this is longer than the server's own
// timeouts.
const responseReadTimeout = 3 * time.Minute

const maxResponseSize = maxRequestSize

// ServiceError is returned by Call when the server responds with
// ok=false.
type ServiceError struct {
	Action  string
	Kind    lockerr.Kind
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap exposes the failure as a *lockerr.Error, so lockerr.KindOf
// and lockerr.Is work on errors returned by Call.
func (e *ServiceError) Unwrap() error {
	return &lockerr.Error{Kind: e.Kind, Message: e.Message}
}

// Client sends CBOR requests to a locksign service socket. Each Call
// opens a new connection, matching the server's one-request-per-
// connection model.
type Client struct {
	socketPath string
}

// NewClient returns a client for the socket at socketPath. No
// connection is made until Call.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SocketPath returns the path the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Call sends action with fields and decodes the response data into
// result (when both are non-nil). The client sets the "action" key
// itself; fields must not contain it.
//
// A response with ok=false is returned as a *ServiceError. Connection
// and encoding failures are plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	maps.Copy(request, fields)
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		kind := lockerr.Kind(response.ErrorKind)
		if kind == "" {
			kind = lockerr.Internal
		}
		return &ServiceError{
			Action:  action,
			Kind:    kind,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	deadline := time.Now().Add(responseReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
