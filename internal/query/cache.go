package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

// Fetcher loads the data for one key. The context is cancelled when the
// fetch is abandoned; fetchers should stop early when it is done.
type Fetcher func(ctx context.Context) (any, error)

// Option configures a Cache.
type Option func(*Cache)

// WithDefaults sets the configuration every query starts from.
func WithDefaults(cfg Config) Option {
	return func(c *Cache) {
		c.defaults = cfg
	}
}

// WithClock replaces time.Now for staleness and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithEvents publishes fetch and removal events.
func WithEvents(events ports.EventPublisher) Option {
	return func(c *Cache) {
		c.events = events
	}
}

// WithConnectivity makes the online flag follow conn.
func WithConnectivity(conn ports.Connectivity) Option {
	return func(c *Cache) {
		c.conn = conn
	}
}

// Cache is the keyed store of query results. It serves fresh data directly,
// runs at most one fetch per key at a time and lets concurrent callers share
// its result.
type Cache struct {
	defaults Config
	now      func() time.Time
	logger   ports.Logger
	events   ports.EventPublisher
	conn     ports.Connectivity
	connSub  ports.Subscription

	mu      sync.Mutex
	entries map[string]*entry
	online  bool
	nextID  uint64
	closed  bool
}

type entry struct {
	key          string
	cfg          Config
	fetcher      Fetcher
	status       Status
	data         any
	hasData      bool
	err          error
	updatedAt    time.Time
	failureCount int
	invalidated  bool

	// generation increases whenever the stored state changes outside of a
	// fetch; results of fetches started under an older generation are dropped.
	generation uint64
	call       *fetchCall

	listeners   map[uint64]func(State)
	subscribers int
	stopRefetch chan struct{}
	gcTimer     *time.Timer
	gcSeq       uint64
}

type fetchCall struct {
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	fetcher    Fetcher
	cfg        Config
	// waiters counts Fetch callers blocked on done.
	waiters int

	data any
	err  error
}

// NewCache creates an empty cache. It starts online unless a connectivity
// signal says otherwise.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		defaults: DefaultConfig(),
		now:      time.Now,
		entries:  make(map[string]*entry),
		online:   true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = logging.OrNoOp(c.logger).With("component", "query_cache")
	if c.conn != nil {
		c.online = c.conn.IsOnline()
		c.connSub = c.conn.Subscribe(c.SetOnline)
	}
	return c
}

// Fetch returns the data for key. Fresh data is returned without calling the
// fetcher. Otherwise the fetcher runs, unless a fetch for key is already in
// flight, in which case the caller waits for that one. Cancelling ctx only
// stops this caller's wait.
//
// A nil fetcher reuses the one previously registered for key. While offline
// the fetcher is never called: cached data is returned even when stale, and a
// ConnectivityError is returned when there is none.
func (c *Cache) Fetch(ctx context.Context, key string, fetcher Fetcher, opts ...FetchOption) (any, error) {
	return c.fetch(ctx, key, fetcher, true, opts)
}

// fetch implements Fetch. Callers counted as waiters keep a shared fetch
// alive when the last subscriber detaches; background refetches are not
// counted.
func (c *Cache) fetch(ctx context.Context, key string, fetcher Fetcher, waiter bool, opts []FetchOption) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("query cache is closed")
	}
	e := c.entryLocked(key, opts)
	if fetcher != nil {
		e.fetcher = fetcher
	}
	c.cancelGCLocked(e)

	if e.hasData && !e.invalidated && !c.isStaleLocked(e) {
		data := e.data
		c.scheduleGCLocked(e)
		c.mu.Unlock()
		return data, nil
	}
	if !c.online {
		data, hasData := e.data, e.hasData
		if e.call == nil {
			c.scheduleGCLocked(e)
		}
		c.mu.Unlock()
		if hasData {
			return data, nil
		}
		return nil, zerrors.NewConnectivityError("fetch "+key, nil)
	}

	call := e.call
	started := false
	if call == nil {
		if e.fetcher == nil {
			c.scheduleGCLocked(e)
			c.mu.Unlock()
			return nil, fmt.Errorf("query %s has no fetcher", key)
		}
		call = c.startFetchLocked(ctx, e)
		started = true
	}
	if waiter {
		call.waiters++
		defer c.leaveCall(call)
	}
	var (
		notify []func(State)
		state  State
	)
	if started {
		notify, state = e.listenerList(), c.stateLocked(e)
	}
	c.mu.Unlock()
	if started {
		dispatch(notify, state)
		go c.runFetch(e, call)
	}

	select {
	case <-call.done:
		return call.data, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) leaveCall(call *fetchCall) {
	c.mu.Lock()
	call.waiters--
	c.mu.Unlock()
}

// Prefetch starts a fetch for key in the background when one is needed.
// It does not keep the fetch alive once the last subscriber detaches.
func (c *Cache) Prefetch(ctx context.Context, key string, fetcher Fetcher, opts ...FetchOption) {
	go func() {
		if _, err := c.fetch(context.WithoutCancel(ctx), key, fetcher, false, opts); err != nil {
			c.logger.Debug(ctx, "background fetch failed", "key", key, "error", err)
		}
	}()
}

func (c *Cache) entryLocked(key string, opts []FetchOption) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, cfg: c.defaults, status: StatusIdle}
		c.entries[key] = e
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&e.cfg)
		}
	}
	return e
}

func (c *Cache) startFetchLocked(ctx context.Context, e *entry) *fetchCall {
	e.generation++
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	call := &fetchCall{
		done:       make(chan struct{}),
		ctx:        fctx,
		cancel:     cancel,
		generation: e.generation,
		fetcher:    e.fetcher,
		cfg:        e.cfg,
	}
	e.call = call
	e.status = StatusLoading
	return call
}

func (c *Cache) runFetch(e *entry, call *fetchCall) {
	defer call.cancel()
	ctx, fetcher, cfg := call.ctx, call.fetcher, call.cfg
	backoff := cfg.backoff()

	var (
		data     any
		err      error
		attempts int
	)
	for {
		attempts++
		data, err = invoke(ctx, fetcher)
		if err == nil || ctx.Err() != nil || attempts > cfg.RetryCount || !c.IsOnline() {
			break
		}
		c.recordFailure(e, call, attempts)
		c.logger.Debug(ctx, "fetch attempt failed, retrying", "key", e.key, "attempt", attempts, "error", err)
		if !sleep(ctx, backoff(attempts)) {
			err = ctx.Err()
			break
		}
	}
	c.complete(ctx, e, call, data, err, attempts)
}

func invoke(ctx context.Context, fetcher Fetcher) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panicked: %v", r)
		}
	}()
	return fetcher(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Cache) recordFailure(e *entry, call *fetchCall, attempts int) {
	c.mu.Lock()
	if c.entries[e.key] != e || e.generation != call.generation {
		c.mu.Unlock()
		return
	}
	e.failureCount = attempts
	notify, state := e.listenerList(), c.stateLocked(e)
	c.mu.Unlock()
	dispatch(notify, state)
}

func (c *Cache) complete(ctx context.Context, e *entry, call *fetchCall, data any, err error, attempts int) {
	c.mu.Lock()
	if e.call == call {
		e.call = nil
	}
	live := c.entries[e.key] == e
	if !live || e.generation != call.generation {
		if live && e.hasData {
			data, err = e.data, nil
		}
		if live && e.subscribers == 0 {
			c.scheduleGCLocked(e)
		}
		call.data, call.err = data, err
		c.mu.Unlock()
		close(call.done)
		c.logger.Debug(ctx, "discarded superseded fetch result", "key", e.key)
		return
	}

	event := ports.EventQueryFetched
	if err == nil {
		e.status = StatusSuccess
		e.data, e.hasData = data, true
		e.err = nil
		e.updatedAt = c.now()
		e.failureCount = 0
		e.invalidated = false
	} else {
		err = &zerrors.FetchError{Key: e.key, Attempts: attempts, Err: err}
		e.status = StatusError
		e.err = err
		e.failureCount = attempts
		event = ports.EventQueryFailed
	}
	call.data, call.err = data, err
	if e.subscribers == 0 {
		c.scheduleGCLocked(e)
	}
	notify, state := e.listenerList(), c.stateLocked(e)
	c.mu.Unlock()

	close(call.done)
	if err != nil {
		c.logger.Warn(ctx, "fetch failed", "key", e.key, "attempts", attempts, "error", err)
	}
	ports.Publish(ctx, c.events, ports.NewEvent(event, map[string]interface{}{
		"key":      e.key,
		"attempts": attempts,
	}))
	dispatch(notify, state)
}

// SetQueryData replaces the data stored under key with updater(previous).
// previous is nil when the key holds no data. The entry becomes fresh and any
// fetch already in flight for key can no longer overwrite it.
func (c *Cache) SetQueryData(key string, updater func(previous any) any) {
	if updater == nil {
		return
	}
	c.mu.Lock()
	e := c.entryLocked(key, nil)
	var previous any
	if e.hasData {
		previous = e.data
	}
	e.data, e.hasData = updater(previous), true
	e.status = StatusSuccess
	e.err = nil
	e.updatedAt = c.now()
	e.invalidated = false
	e.generation++
	if e.subscribers == 0 && e.call == nil {
		c.cancelGCLocked(e)
		c.scheduleGCLocked(e)
	}
	notify, state := e.listenerList(), c.stateLocked(e)
	c.mu.Unlock()
	dispatch(notify, state)
}

// Data returns the data stored under key, fresh or stale.
func (c *Cache) Data(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.hasData {
		return nil, false
	}
	return e.data, true
}

// State returns a view of the entry stored under key.
func (c *Cache) State(key string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return State{Key: key, Status: StatusIdle}, false
	}
	return c.stateLocked(e), true
}

// Keys lists the cached keys.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// Invalidate marks key so the next Fetch bypasses the staleness check. A
// subscribed query is refetched right away when online.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e.invalidated = true
	refetch := e.subscribers > 0 && e.fetcher != nil && c.online
	notify, state := e.listenerList(), c.stateLocked(e)
	c.mu.Unlock()

	dispatch(notify, state)
	if refetch {
		c.Prefetch(context.Background(), key, nil)
	}
	return true
}

// InvalidatePrefix invalidates every key starting with prefix and returns how
// many entries were marked.
func (c *Cache) InvalidatePrefix(prefix string) int {
	count := 0
	for _, key := range c.Keys() {
		if strings.HasPrefix(key, prefix) && c.Invalidate(key) {
			count++
		}
	}
	return count
}

// RemoveQuery drops key from the cache. An in-flight fetch is cancelled and
// its result discarded.
func (c *Cache) RemoveQuery(key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.removeLocked(e)
	c.mu.Unlock()

	c.logger.Debug(context.Background(), "query removed", "key", key)
	ports.Publish(context.Background(), c.events, ports.NewEvent(ports.EventQueryRemoved, map[string]interface{}{
		"key": key,
	}))
	return true
}

// Clear removes every entry.
func (c *Cache) Clear() {
	for _, key := range c.Keys() {
		c.RemoveQuery(key)
	}
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	e.generation++
	if e.call != nil {
		e.call.cancel()
		e.call = nil
	}
	c.stopRefetchLocked(e)
	c.cancelGCLocked(e)
}

// SetOnline updates the online flag. Going online refetches subscribed
// queries that are stale or invalidated and opted into refetch on reconnect.
func (c *Cache) SetOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	var keys []string
	if changed && online {
		for key, e := range c.entries {
			if e.subscribers > 0 && e.fetcher != nil && e.cfg.RefetchOnReconnect &&
				(!e.hasData || e.invalidated || c.isStaleLocked(e)) {
				keys = append(keys, key)
			}
		}
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	c.logger.Info(context.Background(), "connectivity changed", "online", online, "refetching", len(keys))
	for _, key := range keys {
		c.Prefetch(context.Background(), key, nil)
	}
}

// IsOnline reports the current online flag.
func (c *Cache) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Close stops timers, cancels in-flight fetches and detaches from the
// connectivity signal. The cache rejects fetches afterwards.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.entries {
		c.removeLocked(e)
	}
	sub := c.connSub
	c.connSub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (c *Cache) isStaleLocked(e *entry) bool {
	if !e.hasData {
		return true
	}
	return c.now().Sub(e.updatedAt) > e.cfg.StaleTime
}

func (c *Cache) stateLocked(e *entry) State {
	return State{
		Key:          e.key,
		Status:       e.status,
		Data:         e.data,
		HasData:      e.hasData,
		Err:          e.err,
		UpdatedAt:    e.updatedAt,
		FailureCount: e.failureCount,
		IsFetching:   e.call != nil,
		IsStale:      e.invalidated || c.isStaleLocked(e),
		Invalidated:  e.invalidated,
	}
}

func (c *Cache) scheduleGCLocked(e *entry) {
	if e.subscribers > 0 || e.cfg.CacheTime <= 0 || e.gcTimer != nil {
		return
	}
	e.gcSeq++
	seq := e.gcSeq
	e.gcTimer = time.AfterFunc(e.cfg.CacheTime, func() { c.collect(e, seq) })
}

func (c *Cache) cancelGCLocked(e *entry) {
	if e.gcTimer == nil {
		return
	}
	e.gcTimer.Stop()
	e.gcTimer = nil
	e.gcSeq++
}

func (c *Cache) collect(e *entry, seq uint64) {
	c.mu.Lock()
	if c.entries[e.key] != e || e.gcSeq != seq {
		c.mu.Unlock()
		return
	}
	// The timer has fired; complete or detach re-arms it when needed.
	e.gcTimer = nil
	if e.subscribers > 0 || e.call != nil {
		c.mu.Unlock()
		return
	}
	c.removeLocked(e)
	c.mu.Unlock()

	c.logger.Debug(context.Background(), "query collected", "key", e.key)
	ports.Publish(context.Background(), c.events, ports.NewEvent(ports.EventQueryRemoved, map[string]interface{}{
		"key":    e.key,
		"reason": "gc",
	}))
}

func (e *entry) listenerList() []func(State) {
	if len(e.listeners) == 0 {
		return nil
	}
	list := make([]func(State), 0, len(e.listeners))
	for _, fn := range e.listeners {
		list = append(list, fn)
	}
	return list
}

func dispatch(listeners []func(State), state State) {
	for _, fn := range listeners {
		fn(state)
	}
}
