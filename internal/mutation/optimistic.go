package mutation

import (
	"context"

	"github.com/alexisbeaulieu97/zenify/internal/query"
)

// Rollback restores cache entries captured before an optimistic update.
type Rollback struct {
	cache     *query.Cache
	snapshots []query.Snapshot
}

// Restore puts every captured entry back exactly as it was, in reverse
// capture order.
func (r Rollback) Restore() {
	if r.cache == nil {
		return
	}
	for i := len(r.snapshots) - 1; i >= 0; i-- {
		r.cache.Restore(r.snapshots[i])
	}
}

// Keys lists the captured cache keys.
func (r Rollback) Keys() []string {
	keys := make([]string, 0, len(r.snapshots))
	for _, snap := range r.snapshots {
		keys = append(keys, snap.Key)
	}
	return keys
}

// Capture snapshots keys so they can be rolled back later.
func Capture(cache *query.Cache, keys ...string) Rollback {
	rb := Rollback{cache: cache}
	for _, key := range keys {
		rb.snapshots = append(rb.snapshots, cache.Snapshot(key))
	}
	return rb
}

// Optimistic wires opts so the cache entry under key is patched with update
// before Fn runs and restored exactly if the mutation fails. Hooks already
// set in opts still run: OnMutate before the patch, OnError after the
// rollback.
func Optimistic[In, Out, T any](cache *query.Cache, key string, update func(previous T, in In) T, opts Options[In, Out, Rollback]) Options[In, Out, Rollback] {
	userMutate := opts.OnMutate
	userError := opts.OnError

	opts.Cache = cache
	opts.OnMutate = func(ctx context.Context, in In) (Rollback, error) {
		if userMutate != nil {
			if _, err := userMutate(ctx, in); err != nil {
				return Rollback{}, err
			}
		}
		rb := Capture(cache, key)
		query.SetData(cache, key, func(previous T) T { return update(previous, in) })
		return rb, nil
	}
	opts.OnError = func(ctx context.Context, err error, in In, rb Rollback) {
		rb.Restore()
		if userError != nil {
			userError(ctx, err, in, rb)
		}
	}
	return opts
}
