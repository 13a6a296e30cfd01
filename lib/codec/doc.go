// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds locksign's CBOR configuration.
//
// JSON is the format of the HTTP API, the notebooks themselves, and
// CLI --json output. CBOR is the format of the local service socket.
// Every package that speaks CBOR goes through this package so that the
// same value always encodes to the same bytes.
//
// Buffers:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Streams:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct tags
//
// Types carried by both transports use `json` tags only: fxamacker/cbor
// falls back to the json tag when no cbor tag is present, so one tag
// names the field in both formats. Types that only ever cross the
// socket (the request envelope, for example) use `cbor` tags. A field
// never has both.
package codec
