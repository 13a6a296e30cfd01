// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens a small pool of SQLite connections with the
// pragmas locksign's local stores expect.
//
// It is a thin layer over zombiezen.com/go/sqlite/sqlitex.Pool: callers
// Take a connection, run SQL with sqlitex.Execute, and Put it back.
// Connections are not safe for concurrent use.
//
// Every connection gets:
//
//   - journal_mode=WAL so the CLI can read the audit log while the
//     service writes it.
//   - synchronous=FULL. Audit rows record who locked and unlocked what;
//     losing the tail on power failure is not acceptable.
//   - busy_timeout=5000 so a writer in another process is waited for
//     rather than reported as SQLITE_BUSY.
//   - temp_store=MEMORY.
//
// Usage:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/locksign/audit.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
package sqlitepool
