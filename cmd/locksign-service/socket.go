// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/bureau-foundation/locksign/lib/authority"
	"github.com/bureau-foundation/locksign/lib/clock"
	"github.com/bureau-foundation/locksign/lib/codec"
	"github.com/bureau-foundation/locksign/lib/lockerr"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
	"github.com/bureau-foundation/locksign/lib/service"
	"github.com/bureau-foundation/locksign/lib/version"
)

// registerActions wires every socket action to the authority. The
// socket is owner-only (mode 0600), so actions carry no credentials.
func registerActions(server *service.SocketServer, auth *authority.Authority, clk clock.Clock) {
	startedAt := clk.Now()

	server.Handle(schema.ActionLock, action(auth.Lock))
	server.Handle(schema.ActionUnlock, action(auth.Unlock))
	server.Handle(schema.ActionCommit, action(auth.Commit))
	server.Handle(schema.ActionUserInfo, action(auth.UserInfo))
	server.Handle(schema.ActionNotebookStatus, action(auth.Status))
	server.Handle(schema.ActionRepositoryStatus, action(auth.RepositoryStatus))
	server.Handle(schema.ActionAudit, action(auth.Audit))

	server.Handle(schema.ActionStatus, func(context.Context, []byte) (any, error) {
		return schema.ServiceStatus{
			Version:       version.Info(),
			UptimeSeconds: int64(clk.Now().Sub(startedAt).Seconds()),
			NotebookRoot:  auth.NotebookRoot(),
		}, nil
	})
}

// action decodes the request fields and runs operation.
func action[Request, Response any](operation func(context.Context, Request) (*Response, error)) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var request Request
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, lockerr.Wrap(lockerr.InvalidRequest, err, "invalid request: %v", err)
		}
		response, err := operation(ctx, request)
		if err != nil {
			return nil, err
		}
		return response, nil
	}
}
