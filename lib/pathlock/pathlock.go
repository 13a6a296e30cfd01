// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathlock serializes mutating notebook operations.
//
// Two levels of exclusion apply. Within a process, each notebook path
// admits one operation at a time and a second request fails
// immediately with ErrBusy. Across notebooks of the same repository,
// and across processes, operations queue on an exclusive flock(2) lock
// on a file inside the git directory, because git's own index and ref
// updates are not safe to interleave.
package pathlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/locksign/lib/clock"
)

// ErrBusy is returned by TryLock when the path is already held.
var ErrBusy = errors.New("another operation on this notebook is in progress")

// RepositoryLockName is the lock file created inside the git directory.
const RepositoryLockName = "locksign.lock"

// DefaultPollInterval is how often LockRepository retries a contended
// repository lock.
const DefaultPollInterval = 50 * time.Millisecond

// Locker hands out path and repository locks.
type Locker struct {
	clock        clock.Clock
	pollInterval time.Duration

	mu   sync.Mutex
	held map[string]struct{}
}

// New returns a Locker that polls contended repository locks at
// pollInterval (DefaultPollInterval when zero) using clock.
func New(clock clock.Clock, pollInterval time.Duration) *Locker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Locker{
		clock:        clock,
		pollInterval: pollInterval,
		held:         make(map[string]struct{}),
	}
}

// TryLock claims path for the calling operation. The returned release
// function must be called exactly once.
func (l *Locker) TryLock(path string) (release func(), err error) {
	key := filepath.Clean(path)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, ErrBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether path is currently claimed.
func (l *Locker) Held(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[filepath.Clean(path)]
	return busy
}

// LockRepository takes the exclusive lock on <gitDir>/locksign.lock,
// retrying until it is free or ctx is done.
func (l *Locker) LockRepository(ctx context.Context, gitDir string) (release func() error, err error) {
	path := filepath.Join(gitDir, RepositoryLockName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening repository lock %s: %w", path, err)
	}

	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			file.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			file.Close()
			return nil, fmt.Errorf("waiting for repository lock %s: %w", path, ctx.Err())
		case <-l.clock.After(l.pollInterval):
		}
	}

	var once sync.Once
	return func() error {
		var releaseErr error
		once.Do(func() {
			if err := unix.Flock(int(file.Fd()), unix.LOCK_UN); err != nil {
				releaseErr = fmt.Errorf("unlocking %s: %w", path, err)
			}
			if err := file.Close(); err != nil && releaseErr == nil {
				releaseErr = err
			}
		})
		return releaseErr
	}, nil
}
