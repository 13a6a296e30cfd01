// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for locksign.
//
// Configuration is loaded from a single file specified by either the
// LOCKSIGN_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no ~/.config discovery and no automatic
// file search.
//
// The file may carry environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production without a section disables
// the HTTP listener, leaving only the owner-only Unix socket.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${LOCKSIGN_STATE}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Durations are YAML strings in time.ParseDuration form ("10s").
package config
