// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/locksign/cmd/locksign/cli"
	"github.com/bureau-foundation/locksign/lib/authority"
	"github.com/bureau-foundation/locksign/lib/clock"
	"github.com/bureau-foundation/locksign/lib/codec"
	"github.com/bureau-foundation/locksign/lib/config"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
	"github.com/bureau-foundation/locksign/lib/service"
)

// backend runs notebook operations. *authority.Authority runs them in
// process; socketBackend forwards them to a running locksign-service.
type backend interface {
	Lock(context.Context, schema.LockRequest) (*schema.LockResponse, error)
	Unlock(context.Context, schema.UnlockRequest) (*schema.UnlockResponse, error)
	Commit(context.Context, schema.CommitRequest) (*schema.CommitResponse, error)
	Status(context.Context, schema.StatusRequest) (*schema.StatusResponse, error)
	UserInfo(context.Context, schema.UserInfoRequest) (*schema.UserInfoResponse, error)
	RepositoryStatus(context.Context, schema.RepositoryStatusRequest) (*schema.RepositoryStatusResponse, error)
	Audit(context.Context, schema.AuditRequest) (*schema.AuditResponse, error)
}

var _ backend = (*authority.Authority)(nil)

// connection holds the flags that choose a backend.
type connection struct {
	configPath string
	socketPath string
	debug      bool
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.configPath, "config", "", "path to locksign.yaml (default: $LOCKSIGN_CONFIG, else built-in defaults)")
	flagSet.StringVar(&c.socketPath, "socket", "", "forward the operation to the locksign-service listening on this socket")
	flagSet.BoolVar(&c.debug, "debug", false, "log at debug level")
}

// open returns the selected backend and a function releasing it.
func (c *connection) open() (backend, func() error, error) {
	if c.socketPath != "" {
		return &socketBackend{client: service.NewClient(c.socketPath)}, func() error { return nil }, nil
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, nil, err
	}

	level := slog.LevelWarn
	if c.debug {
		level = slog.LevelDebug
	}
	auth, closeAuthority, err := authority.Open(cfg, clock.Real(), cli.NewCommandLogger(level))
	if err != nil {
		return nil, nil, err
	}
	return auth, closeAuthority, nil
}

// loadConfig reads --config or $LOCKSIGN_CONFIG. Without either, the
// CLI runs on the built-in defaults with no notebook root, so notebook
// paths are taken as given.
func (c *connection) loadConfig() (*config.Config, error) {
	if c.configPath != "" {
		return config.LoadFile(c.configPath)
	}
	if os.Getenv(config.EnvironmentVariable) != "" {
		return config.Load()
	}
	cfg := config.Default()
	cfg.Paths.NotebookRoot = ""
	return cfg, nil
}

// socketBackend calls locksign-service over its Unix socket.
type socketBackend struct {
	client *service.Client
}

func (s *socketBackend) Lock(ctx context.Context, request schema.LockRequest) (*schema.LockResponse, error) {
	return call[schema.LockResponse](ctx, s.client, schema.ActionLock, request)
}

func (s *socketBackend) Unlock(ctx context.Context, request schema.UnlockRequest) (*schema.UnlockResponse, error) {
	return call[schema.UnlockResponse](ctx, s.client, schema.ActionUnlock, request)
}

func (s *socketBackend) Commit(ctx context.Context, request schema.CommitRequest) (*schema.CommitResponse, error) {
	return call[schema.CommitResponse](ctx, s.client, schema.ActionCommit, request)
}

func (s *socketBackend) Status(ctx context.Context, request schema.StatusRequest) (*schema.StatusResponse, error) {
	return call[schema.StatusResponse](ctx, s.client, schema.ActionNotebookStatus, request)
}

func (s *socketBackend) UserInfo(ctx context.Context, request schema.UserInfoRequest) (*schema.UserInfoResponse, error) {
	return call[schema.UserInfoResponse](ctx, s.client, schema.ActionUserInfo, request)
}

func (s *socketBackend) RepositoryStatus(ctx context.Context, request schema.RepositoryStatusRequest) (*schema.RepositoryStatusResponse, error) {
	return call[schema.RepositoryStatusResponse](ctx, s.client, schema.ActionRepositoryStatus, request)
}

func (s *socketBackend) Audit(ctx context.Context, request schema.AuditRequest) (*schema.AuditResponse, error) {
	return call[schema.AuditResponse](ctx, s.client, schema.ActionAudit, request)
}

// call flattens request into socket fields by a CBOR round trip, so
// field names match the json tags the service decodes.
func call[Response any](ctx context.Context, client *service.Client, action string, request any) (*Response, error) {
	encoded, err := codec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", action, err)
	}
	var fields map[string]any
	if err := codec.Unmarshal(encoded, &fields); err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", action, err)
	}

	var response Response
	if err := client.Call(ctx, action, fields, &response); err != nil {
		return nil, err
	}
	return &response, nil
}
