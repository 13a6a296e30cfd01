// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pathlock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/locksign/lib/clock"
	"github.com/bureau-foundation/locksign/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTryLock(t *testing.T) {
	t.Parallel()

	locker := New(clock.Real(), 0)
	release, err := locker.TryLock("/repo/a.ipynb")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if _, err := locker.TryLock("/repo/./a.ipynb"); !errors.Is(err, ErrBusy) {
		t.Errorf("second TryLock error = %v, want ErrBusy", err)
	}
	if !locker.Held("/repo/a.ipynb") {
		t.Error("Held = false while claimed")
	}

	other, err := locker.TryLock("/repo/b.ipynb")
	if err != nil {
		t.Fatalf("TryLock on another path: %v", err)
	}
	other()

	release()
	release()
	if locker.Held("/repo/a.ipynb") {
		t.Error("Held = true after release")
	}
	again, err := locker.TryLock("/repo/a.ipynb")
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	again()
}

func TestLockRepository_Contention(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	locker := New(fake, time.Second)
	gitDir := t.TempDir()
	ctx := context.Background()

	releaseFirst, err := locker.LockRepository(ctx, gitDir)
	if err != nil {
		t.Fatalf("LockRepository: %v", err)
	}
	if _, err := os.Stat(filepath.Join(gitDir, RepositoryLockName)); err != nil {
		t.Errorf("lock file not created: %v", err)
	}

	acquired := make(chan func() error, 1)
	go func() {
		release, err := locker.LockRepository(ctx, gitDir)
		if err != nil {
			t.Errorf("second LockRepository: %v", err)
			close(acquired)
			return
		}
		acquired <- release
	}()

	fake.WaitForTimers(1)
	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	default:
	}

	if err := releaseFirst(); err != nil {
		t.Fatalf("release: %v", err)
	}
	fake.Advance(time.Second)

	releaseSecond := testutil.RequireReceive(t, acquired, 5*time.Second, "second lock after release")
	if releaseSecond == nil {
		t.Fatal("second lock failed")
	}
	if err := releaseSecond(); err != nil {
		t.Errorf("release second: %v", err)
	}
}

func TestLockRepository_ContextDone(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	locker := New(fake, time.Second)
	gitDir := t.TempDir()

	release, err := locker.LockRepository(context.Background(), gitDir)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := locker.LockRepository(ctx, gitDir)
		result <- err
	}()

	fake.WaitForTimers(1)
	cancel()
	err = testutil.RequireReceive(t, result, 5*time.Second, "LockRepository after cancel")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("LockRepository error = %v, want context.Canceled", err)
	}
}

func TestLockRepository_MissingDirectory(t *testing.T) {
	t.Parallel()

	locker := New(clock.Real(), 0)
	if _, err := locker.LockRepository(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("LockRepository in a missing directory succeeded")
	}
}
