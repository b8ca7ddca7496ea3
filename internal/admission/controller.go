package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrRateLimited = errors.New("rate limit exceeded")

const (
	DefaultMaxConcurrency = 10
	DefaultRequestsPerMin = 60
	DefaultWindow         = time.Minute
)

type WindowStore interface {
	Admit(ctx context.Context, clientID string, now time.Time, window time.Duration, limit int) (bool, error)
	TrackedClients(ctx context.Context) (int, error)
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

type Controller struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64

	store  WindowStore
	limit  int
	window time.Duration
	now    func() time.Time
}

type Stats struct {
	TrackedClients int
	MaxConcurrency int
	InFlight       int
}

func New(maxConcurrency, requestsPerMinute int, store WindowStore, opts ...Option) *Controller {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMin
	}
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Controller{
		sem:      semaphore.NewWeighted(int64(maxConcurrency)),
		capacity: int64(maxConcurrency),
		store:    store,
		limit:    requestsPerMinute,
		window:   DefaultWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Controller) Admit(ctx context.Context, clientID string) error {
	ok, err := c.store.Admit(ctx, clientID, c.now(), c.window, c.limit)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// Acquire blocks until an upstream call slot is free. The returned release
// func is safe to call more than once.
func (c *Controller) Acquire(ctx context.Context) (func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	c.inFlight.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			c.inFlight.Add(-1)
			c.sem.Release(1)
		})
	}, nil
}

func (c *Controller) InFlight() int {
	return int(c.inFlight.Load())
}

func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	tracked, err := c.store.TrackedClients(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TrackedClients: tracked,
		MaxConcurrency: int(c.capacity),
		InFlight:       c.InFlight(),
	}, nil
}
