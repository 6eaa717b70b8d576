package query

import (
	"context"
	"fmt"
	"sync"
)

// Query binds a key and a typed fetcher to a cache.
type Query[T any] struct {
	cache   *Cache
	key     string
	fetcher Fetcher
	opts    []FetchOption

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// New creates a controller for key.
func New[T any](cache *Cache, key string, fetch func(ctx context.Context) (T, error), opts ...FetchOption) *Query[T] {
	var fetcher Fetcher
	if fetch != nil {
		fetcher = func(ctx context.Context) (any, error) {
			return fetch(ctx)
		}
	}
	return &Query[T]{cache: cache, key: key, fetcher: fetcher, opts: opts}
}

// Key returns the cache key.
func (q *Query[T]) Key() string { return q.key }

// Fetch returns fresh cached data or fetches it.
func (q *Query[T]) Fetch(ctx context.Context) (T, error) {
	v, err := q.cache.Fetch(ctx, q.key, q.fetcher, q.opts...)
	return q.cast(v, err)
}

// Refetch ignores freshness and fetches again, joining a fetch already in
// flight.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	q.cache.Invalidate(q.key)
	return q.Fetch(ctx)
}

func (q *Query[T]) cast(v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query %s holds %T, not %T", q.key, v, zero)
	}
	return typed, nil
}

// State returns the current entry state.
func (q *Query[T]) State() State {
	state, _ := q.cache.State(q.key)
	return state
}

// Data returns the cached data, fresh or stale.
func (q *Query[T]) Data() (T, bool) {
	return GetData[T](q.cache, q.key)
}

// SetData replaces the cached data.
func (q *Query[T]) SetData(updater func(previous T) T) {
	SetData(q.cache, q.key, updater)
}

// Invalidate marks the data stale.
func (q *Query[T]) Invalidate() {
	q.cache.Invalidate(q.key)
}

// Subscribe observes the entry and starts a background fetch when the data is
// missing or stale. The returned function detaches the listener.
func (q *Query[T]) Subscribe(listener func(State)) func() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return func() {}
	}
	sub := q.cache.Subscribe(q.key, q.fetcher, listener, q.opts...)
	q.subs = append(q.subs, sub)
	q.mu.Unlock()

	q.cache.Prefetch(context.Background(), q.key, q.fetcher)
	return sub.Unsubscribe
}

// Close detaches every subscription created through this query.
func (q *Query[T]) Close() {
	q.mu.Lock()
	subs := q.subs
	q.subs = nil
	q.closed = true
	q.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
