// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"time"
)

// fataler is the part of testing.TB the wait helpers use.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed first. what names the
// value in the failure message.
//
//	err := testutil.RequireReceive(t, done, 5*time.Second, "server shutdown")
func RequireReceive[T any](t fataler, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	deadline := time.NewTimer(timeout) //nolint:realclock bounds a hung test
	defer deadline.Stop()

	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed with no value", what)
		}
		return value
	case <-deadline.C:
		t.Fatalf("%s: nothing received within %v", what, timeout)
	}
	var zero T
	return zero
}

// RequireClosed fails the test unless ch is closed (or delivers a
// value) within timeout. Readiness channels signal by closing.
//
//	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "socket server ready")
func RequireClosed(t fataler, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	deadline := time.NewTimer(timeout) //nolint:realclock bounds a hung test
	defer deadline.Stop()

	select {
	case <-ch:
	case <-deadline.C:
		t.Fatalf("%s: not closed within %v", what, timeout)
	}
}
