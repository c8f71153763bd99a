package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Fallback names what a read does when every attempt failed.
type Fallback int

const (
	// FallbackPropagate returns the error to the caller.
	FallbackPropagate Fallback = iota
	// FallbackEmpty returns the zero value marked Degraded and logs a warning.
	FallbackEmpty
)

func (f Fallback) String() string {
	if f == FallbackEmpty {
		return "empty"
	}
	return "propagate"
}

type QueryOptions struct {
	StaleTime  time.Duration
	Retry      int // -1 disables retries
	RetryDelay time.Duration
	Fallback   Fallback
}

// Result is what a consumer of a query sees.
type Result[T any] struct {
	Data      T
	Err       error
	IsLoading bool
	IsStale   bool
	Degraded  bool
	UpdatedAt time.Time
}

// Query binds a key to the function that loads it.
type Query[T any] struct {
	client *QueryClient
	key    Key
	fetch  func(ctx context.Context) (T, error)
	opts   QueryOptions
}

func NewQuery[T any](c *QueryClient, key Key, fetch func(ctx context.Context) (T, error), opts QueryOptions) *Query[T] {
	if opts.StaleTime == 0 {
		opts.StaleTime = c.defaults.StaleTime
	}
	switch {
	case opts.Retry < 0:
		opts.Retry = 0
	case opts.Retry == 0:
		opts.Retry = c.defaults.Retry
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = c.defaults.RetryDelay
	}
	return &Query[T]{client: c, key: key, fetch: fetch, opts: opts}
}

func (q *Query[T]) Key() Key { return q.key }

// Get serves the cached value when it is fresh. A value older than StaleTime
// is returned immediately while a background refetch runs. A missing or
// invalidated value is fetched before returning.
func (q *Query[T]) Get(ctx context.Context) Result[T] {
	if res, invalidated, ok := q.cached(); ok && !invalidated {
		if !res.IsStale {
			q.client.store.stats.hits.Add(1)
			return res
		}
		bg, cancel := q.client.detached(ctx)
		go func() {
			defer cancel()
			q.Fetch(bg)
		}()
		return res
	}

	if q.client.backend != nil {
		if res, ok := q.loadShared(ctx); ok {
			return res
		}
	}
	return q.Fetch(ctx)
}

func (q *Query[T]) cached() (res Result[T], invalidated, ok bool) {
	entry, ok := q.client.store.Get(q.key)
	if !ok {
		return Result[T]{}, false, false
	}
	data, ok := entry.Value.(T)
	if !ok {
		return Result[T]{}, false, false
	}
	stale := entry.Stale || q.client.store.now().Sub(entry.UpdatedAt) >= q.opts.StaleTime
	return Result[T]{Data: data, IsStale: stale, UpdatedAt: entry.UpdatedAt}, entry.Stale, true
}

func (q *Query[T]) loadShared(ctx context.Context) (Result[T], bool) {
	var data T
	updatedAt, err := q.client.backend.Load(ctx, q.key, &data)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			q.client.log.WithError(err).WithField("key", q.key.String()).Debug("shared cache load failed")
		}
		return Result[T]{}, false
	}
	if q.client.store.now().Sub(updatedAt) >= q.opts.StaleTime {
		return Result[T]{}, false
	}
	q.client.store.seed(q.key, data, updatedAt)
	return Result[T]{Data: data, UpdatedAt: updatedAt}, true
}

// Fetch loads the key from the remote, sharing one in-flight request between
// concurrent callers.
func (q *Query[T]) Fetch(ctx context.Context) Result[T] {
	v, err, shared := q.client.group.Do(q.key.String(), func() (interface{}, error) {
		return q.load(ctx)
	})
	if shared {
		q.client.store.stats.shared.Add(1)
	}
	if err != nil {
		return q.fail(err)
	}
	data, _ := v.(T)
	return Result[T]{Data: data, UpdatedAt: q.client.store.now()}
}

func (q *Query[T]) load(ctx context.Context) (interface{}, error) {
	store := q.client.store
	seq := store.beginFetch(q.key)
	store.stats.fetches.Add(1)

	data, err := q.attempt(ctx)
	if err != nil {
		store.failFetch(q.key, seq, err)
		return nil, err
	}
	if !store.commitFetch(q.key, seq, data) {
		// A newer response is already cached; hand that out instead.
		if e, ok := store.Get(q.key); ok && !e.Stale {
			if cur, ok := e.Value.(T); ok {
				return cur, nil
			}
		}
		return data, nil
	}
	if q.client.backend != nil {
		if err := q.client.backend.Save(ctx, q.key, data); err != nil {
			q.client.log.WithError(err).WithField("key", q.key.String()).Debug("shared cache save failed")
		}
	}
	return data, nil
}

// attempt runs the fetch with fixed-delay retries.
func (q *Query[T]) attempt(ctx context.Context) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i <= q.opts.Retry; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("fetch %s: %w (last error: %v)", q.key, ctx.Err(), lastErr)
			case <-time.After(q.opts.RetryDelay):
			}
		}
		data, err := q.fetch(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, fmt.Errorf("fetch %s: %w (last error: %v)", q.key, ctx.Err(), lastErr)
		}
	}
	return zero, lastErr
}

func (q *Query[T]) fail(err error) Result[T] {
	if q.opts.Fallback == FallbackEmpty {
		q.client.store.stats.degraded.Add(1)
		q.client.log.WithError(err).WithFields(logrus.Fields{
			"key":      q.key.String(),
			"fallback": FallbackEmpty.String(),
		}).Warn("query failed, serving empty result")
		var zero T
		return Result[T]{Data: zero, Degraded: true}
	}
	return Result[T]{Err: err}
}

// Observe mounts a consumer. fn receives a Result every time the cached value
// changes or a fetch for the key fails. While at least one consumer is
// mounted, invalidating the key refetches it.
func (q *Query[T]) Observe(fn func(Result[T])) func() {
	unsub := q.client.store.Subscribe(q.key, func(ev Event) {
		switch ev.Type {
		case EventUpdated:
			data, ok := ev.Value.(T)
			if !ok {
				return
			}
			fn(Result[T]{Data: data, UpdatedAt: ev.UpdatedAt})
		case EventFailed:
			fn(q.fail(ev.Err))
		}
	})
	unmount := q.client.mount(q.key, func(ctx context.Context) {
		q.Fetch(ctx)
	})
	return func() {
		unmount()
		unsub()
	}
}
