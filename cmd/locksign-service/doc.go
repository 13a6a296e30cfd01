// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Locksign-service serves notebook lock operations to local editors.
//
// Two listeners share one Authority. The HTTP listener speaks JSON
// under server.base_url (default /git-lock-sign) for editor
// extensions; the Unix socket speaks CBOR for the locksign CLI and
// other local tools. The socket is created mode 0600, and neither
// listener authenticates callers: the service acts with the git
// identity and gpg keys of the user running it, so it must only be
// reachable by that user.
//
// Configuration comes from --config or LOCKSIGN_CONFIG. SIGINT and
// SIGTERM stop both listeners after in-flight requests drain.
package main
