// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the locksign
// binaries. It holds the raw stderr write used before the structured
// logger exists, or after it has been torn down.
package process
