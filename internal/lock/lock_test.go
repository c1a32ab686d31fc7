package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "scope-a", time.Minute)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	if _, err := l.Acquire(ctx, "scope-a", time.Minute); !errors.Is(err, ErrHeld) {
		t.Errorf("second Acquire err = %v, want ErrHeld", err)
	}
	if r, err := l.Acquire(ctx, "scope-b", time.Minute); err != nil {
		t.Errorf("independent scope should lock: %v", err)
	} else {
		_ = r(ctx)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := l.Acquire(ctx, "scope-a", time.Minute); err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}
}

func TestMemoryLocker_Expiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	staleRelease, err := l.Acquire(ctx, "scope", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Second)
	if _, err := l.Acquire(ctx, "scope", time.Second); err != nil {
		t.Fatalf("expired lease should be reclaimed: %v", err)
	}

	// The stale holder must not release the new lease.
	_ = staleRelease(ctx)
	if _, err := l.Acquire(ctx, "scope", time.Second); !errors.Is(err, ErrHeld) {
		t.Errorf("err = %v, want ErrHeld", err)
	}
}

func TestMemoryLocker_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryLocker().Acquire(ctx, "scope", time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMemoryLocker_Concurrent(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(ctx, "scope", time.Minute); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("winners = %d, want 1", winners.Load())
	}
}
