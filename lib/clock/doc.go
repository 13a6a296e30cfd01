// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that stamp times or wait take a Clock instead of calling
// time.Now or time.After:
//
//	authority.New(authority.Config{Clock: clock.Real(), ...})
//
// Tests pass a FakeClock, which stands still until Advance is called.
// WaitForTimers closes the race between a goroutine registering a wait
// and the test advancing past it:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go locker.Acquire(ctx, path) // polls with c.After
//	c.WaitForTimers(1)
//	c.Advance(time.Second)
package clock
