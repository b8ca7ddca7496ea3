package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test")
}

func stores(t *testing.T) map[string]WindowStore {
	return map[string]WindowStore{
		"memory": NewMemoryStore(),
		"redis":  newRedisStore(t),
	}
}

func TestRateGateRejectsOverCapAndRecoversAfterWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			c := New(10, 60, store, WithClock(clock.Now))
			ctx := context.Background()

			for i := 0; i < 60; i++ {
				if err := c.Admit(ctx, "10.0.0.1"); err != nil {
					t.Fatalf("request %d: unexpected error: %v", i+1, err)
				}
				clock.Advance(150 * time.Millisecond)
			}
			if err := c.Admit(ctx, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
				t.Fatalf("61st request: expected ErrRateLimited, got %v", err)
			}
			if err := c.Admit(ctx, "10.0.0.2"); err != nil {
				t.Fatalf("other client must not share the window: %v", err)
			}

			clock.Advance(60 * time.Second)
			if err := c.Admit(ctx, "10.0.0.1"); err != nil {
				t.Fatalf("expected admission after window elapsed, got %v", err)
			}
		})
	}
}

func TestRejectedRequestsAreNotRecorded(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			c := New(1, 2, store, WithClock(clock.Now))
			ctx := context.Background()

			_ = c.Admit(ctx, "a")
			clock.Advance(30 * time.Second)
			_ = c.Admit(ctx, "a")
			for i := 0; i < 5; i++ {
				if err := c.Admit(ctx, "a"); !errors.Is(err, ErrRateLimited) {
					t.Fatalf("expected rejection, got %v", err)
				}
			}
			// Only the first entry has aged out.
			clock.Advance(30 * time.Second)
			if err := c.Admit(ctx, "a"); err != nil {
				t.Fatalf("expected admission once the oldest entry expired, got %v", err)
			}
			if err := c.Admit(ctx, "a"); !errors.Is(err, ErrRateLimited) {
				t.Fatalf("expected rejection, got %v", err)
			}
		})
	}
}

func TestStatsReportsTrackedClients(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := New(4, 60, store)
			ctx := context.Background()
			for _, id := range []string{"a", "b", "a", "c"} {
				if err := c.Admit(ctx, id); err != nil {
					t.Fatalf("Admit(%q): %v", id, err)
				}
			}
			release, err := c.Acquire(ctx)
			if err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}
			defer release()

			stats, err := c.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats() error = %v", err)
			}
			if stats != (Stats{TrackedClients: 3, MaxConcurrency: 4, InFlight: 1}) {
				t.Fatalf("unexpected stats: %+v", stats)
			}
		})
	}
}

func TestConcurrencyGateBlocksAtCeiling(t *testing.T) {
	const ceiling = 3
	c := New(ceiling, 60, nil)
	ctx := context.Background()

	releases := make([]func(), 0, ceiling)
	for i := 0; i < ceiling; i++ {
		release, err := c.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		releases = append(releases, release)
	}
	if c.InFlight() != ceiling {
		t.Fatalf("unexpected in-flight: %d", c.InFlight())
	}

	acquired := make(chan func(), 1)
	go func() {
		release, err := c.Acquire(ctx)
		if err != nil {
			t.Errorf("Acquire() error = %v", err)
			return
		}
		acquired <- release
	}()

	select {
	case <-acquired:
		t.Fatal("call proceeded while every slot was held")
	case <-time.After(50 * time.Millisecond):
	}

	releases[0]()
	releases[0]()
	select {
	case release := <-acquired:
		release()
	case <-time.After(time.Second):
		t.Fatal("waiting call did not proceed after a slot was released")
	}
	if c.InFlight() != ceiling-1 {
		t.Fatalf("double release must not free extra slots, in-flight=%d", c.InFlight())
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	c := New(1, 60, nil)
	release, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if c.InFlight() != 1 {
		t.Fatalf("unexpected in-flight: %d", c.InFlight())
	}
}
