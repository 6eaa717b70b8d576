// Package connectivity provides the online/offline signal consumed by the
// query cache and the mutation queue.
package connectivity

import (
	"context"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
)

// Probe reports whether the network is reachable.
type Probe func(ctx context.Context) bool

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// Monitor holds the current connectivity flag and notifies listeners on
// every transition. Repeated values are not forwarded.
type Monitor struct {
	logger ports.Logger

	mu        sync.Mutex
	online    bool
	nextID    uint64
	listeners map[uint64]func(bool)
}

// NewMonitor creates a monitor starting at online.
func NewMonitor(online bool, opts ...Option) *Monitor {
	m := &Monitor{online: online, listeners: make(map[uint64]func(bool))}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = logging.OrNoOp(m.logger).With("component", "connectivity")
	return m
}

// IsOnline implements ports.Connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a new value and notifies listeners when it changed.
// Listeners run synchronously on the caller's goroutine in subscription
// order.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	m.logger.Info(context.Background(), "connectivity changed", "online", online)
	for _, fn := range listeners {
		fn(online)
	}
}

// Subscribe implements ports.Connectivity.
func (m *Monitor) Subscribe(listener func(online bool)) ports.Subscription {
	if listener == nil {
		return subscription{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = listener
	return subscription{unsubscribe: func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}}
}

// Watch polls probe every interval until ctx is done and feeds the result
// into SetOnline. The first probe runs immediately.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, probe Probe) {
	if probe == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.SetOnline(probe(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DialProbe reports the network as reachable when a TCP connection to
// address succeeds within timeout.
func DialProbe(address string, timeout time.Duration) Probe {
	return func(ctx context.Context) bool {
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

type subscription struct {
	unsubscribe func()
}

func (s subscription) Unsubscribe() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

var _ ports.Connectivity = (*Monitor)(nil)
