// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the transport scaffolding for the locksign
// service binary:
//
//   - SocketServer: a CBOR request-response server on a Unix socket,
//     one request per connection, with action dispatch and graceful
//     shutdown. Failures carry an explicit error_kind.
//   - Client: the matching client used by the CLI's --socket mode.
//   - HTTPServer: a TCP listener lifecycle wrapper for the JSON API.
//   - NewLogger: the process-wide JSON logger.
//
// The binary composes these in its own main(); the package holds
// building blocks, not a runtime.
//
// # Access control
//
// Neither transport authenticates callers. The socket file is created
// with mode 0600 and the HTTP listener is expected on loopback. Who
// may unlock a notebook is decided by the lock protocol itself, which
// compares the git identity and signing key of the process serving
// the request against the lock metadata.
package service
