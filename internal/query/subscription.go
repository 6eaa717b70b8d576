package query

import (
	"context"
	"sync"
	"time"
)

// Subscription keeps a cache entry observed. While an entry has subscribers
// it is never garbage collected and its refetch interval, if any, is running.
type Subscription struct {
	cache *Cache
	entry *entry
	id    uint64
	once  sync.Once
}

// Subscribe attaches listener to key and registers fetcher for background
// refetches. listener receives every state change of the entry and may be
// nil. Subscribing does not fetch by itself.
func (c *Cache) Subscribe(key string, fetcher Fetcher, listener func(State), opts ...FetchOption) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key, opts)
	if fetcher != nil {
		e.fetcher = fetcher
	}
	c.cancelGCLocked(e)
	e.subscribers++
	c.nextID++
	sub := &Subscription{cache: c, entry: e, id: c.nextID}
	if listener != nil {
		if e.listeners == nil {
			e.listeners = make(map[uint64]func(State))
		}
		e.listeners[sub.id] = listener
	}
	if e.cfg.RefetchInterval > 0 && e.stopRefetch == nil && !c.closed {
		e.stopRefetch = make(chan struct{})
		go c.refetchLoop(e, e.cfg.RefetchInterval, e.stopRefetch)
	}
	return sub
}

// Key returns the subscribed key.
func (s *Subscription) Key() string { return s.entry.key }

// Unsubscribe detaches the subscription. When the last subscriber leaves, the
// refetch interval stops, the in-flight fetch is cancelled unless a Fetch
// caller is still waiting on it, and the entry is scheduled for collection
// after its cache time. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cache.detach(s)
	})
}

func (c *Cache) detach(s *Subscription) {
	c.mu.Lock()
	e := s.entry
	delete(e.listeners, s.id)
	if e.subscribers > 0 {
		e.subscribers--
	}
	if e.subscribers > 0 || c.entries[e.key] != e {
		c.mu.Unlock()
		return
	}

	c.stopRefetchLocked(e)
	var notify []func(State)
	var state State
	if e.call != nil && e.call.waiters == 0 {
		e.call.cancel()
		e.call = nil
		e.generation++
		if e.hasData {
			e.status = StatusSuccess
		} else {
			e.status = StatusIdle
		}
		notify, state = e.listenerList(), c.stateLocked(e)
		c.logger.Debug(context.Background(), "cancelled fetch without subscribers", "key", e.key)
	}
	c.scheduleGCLocked(e)
	c.mu.Unlock()
	dispatch(notify, state)
}

func (c *Cache) refetchLoop(e *entry, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.isLive(e) {
				return
			}
			if !c.IsOnline() {
				continue
			}
			if _, err := c.fetch(context.Background(), e.key, nil, false, nil); err != nil {
				c.logger.Debug(context.Background(), "interval refetch failed", "key", e.key, "error", err)
			}
		}
	}
}

func (c *Cache) stopRefetchLocked(e *entry) {
	if e.stopRefetch == nil {
		return
	}
	close(e.stopRefetch)
	e.stopRefetch = nil
}

func (c *Cache) isLive(e *entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[e.key] == e
}
