package events

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

// AllEvents subscribes a handler to every event type. A pattern ending in
// ".*", such as "query.*", subscribes to every event under that prefix.
const AllEvents = "*"

type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
)

type eventLog struct {
	level   logLevel
	message string
}

// eventLogs maps core events to the log line written for them. Failures are
// raised to warn so they show without --verbose.
var eventLogs = map[string]eventLog{
	ports.EventScopeCreated:      {levelDebug, "scope created"},
	ports.EventScopeDisposed:     {levelDebug, "scope disposed"},
	ports.EventModuleInitialized: {levelInfo, "module initialized"},
	ports.EventQueryFetched:      {levelDebug, "query fetched"},
	ports.EventQueryFailed:       {levelWarn, "query fetch failed"},
	ports.EventQueryRemoved:      {levelDebug, "query removed"},
	ports.EventMutationQueued:    {levelInfo, "mutation queued for replay"},
	ports.EventJobCompleted:      {levelDebug, "queued job completed"},
	ports.EventJobDeadLettered:   {levelWarn, "queued job dead-lettered"},
}

// LoggingPublisher emits core events as structured logs and fans them out to
// subscribers.
type LoggingPublisher struct {
	logger ports.Logger
	subs   map[string][]subscriptionEntry
	nextID int
	mu     sync.RWMutex
}

// NewLoggingPublisher creates an event publisher that writes each event as a structured log entry.
func NewLoggingPublisher(logger ports.Logger) *LoggingPublisher {
	return &LoggingPublisher{
		logger: logging.OrNoOp(logger),
		subs:   make(map[string][]subscriptionEntry),
	}
}

// Publish logs the event and runs its handlers: exact subscribers first, then
// prefix subscribers from the most specific prefix, then wildcard ones.
func (p *LoggingPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if p == nil || event == nil {
		return nil
	}
	eventType := event.EventType()

	p.mu.RLock()
	var handlers []subscriptionEntry
	for _, pattern := range patternsFor(eventType) {
		handlers = append(handlers, p.subs[pattern]...)
	}
	p.mu.RUnlock()

	p.log(ctx, eventType, event.Payload())

	for _, entry := range handlers {
		if entry.handler == nil {
			continue
		}
		if err := entry.handler(ctx, event); err != nil {
			p.logger.Warn(ctx, "event handler failed", "event_type", eventType, "error", err)
		}
	}

	return nil
}

func (p *LoggingPublisher) log(ctx context.Context, eventType string, payload interface{}) {
	fields := []interface{}{"event_type", eventType, "component", componentOf(eventType)}
	switch payload := payload.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(payload))
		for key := range payload {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fields = append(fields, key, payload[key])
		}
	case nil:
	default:
		fields = append(fields, "payload", payload)
	}

	spec, ok := eventLogs[eventType]
	if !ok {
		spec = eventLog{levelDebug, "core event"}
	}
	switch spec.level {
	case levelWarn:
		p.logger.Warn(ctx, spec.message, fields...)
	case levelInfo:
		p.logger.Info(ctx, spec.message, fields...)
	default:
		p.logger.Debug(ctx, spec.message, fields...)
	}
}

// Subscribe registers a handler for an event type, a "prefix.*" pattern or
// AllEvents.
func (p *LoggingPublisher) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	if err := validatePattern(eventType); err != nil {
		return noopSubscription{}, err
	}
	if p == nil || handler == nil {
		return noopSubscription{}, nil
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[eventType] = append(p.subs[eventType], subscriptionEntry{id: id, handler: handler})
	p.mu.Unlock()

	return subscription{
		cancel: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			handlers := p.subs[eventType]
			for i, entry := range handlers {
				if entry.id == id {
					p.subs[eventType] = append(handlers[:i:i], handlers[i+1:]...)
					break
				}
			}
		},
	}, nil
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return zerrors.NewValidationError("event_type", "must not be empty", nil)
	}
	if pattern == AllEvents {
		return nil
	}
	body := strings.TrimSuffix(pattern, ".*")
	if body == "" || strings.Contains(body, "*") || strings.HasPrefix(body, ".") || strings.HasSuffix(body, ".") {
		return zerrors.NewValidationError("event_type", "invalid pattern "+pattern+`: use an event type, "prefix.*" or "*"`, nil)
	}
	return nil
}

// patternsFor lists the subscription keys matching eventType in dispatch
// order: "queue.job.completed", "queue.job.*", "queue.*", "*".
func patternsFor(eventType string) []string {
	if eventType == AllEvents {
		return []string{AllEvents}
	}
	patterns := []string{eventType}
	for rest := eventType; ; {
		i := strings.LastIndexByte(rest, '.')
		if i <= 0 {
			break
		}
		rest = rest[:i]
		patterns = append(patterns, rest+".*")
	}
	return append(patterns, AllEvents)
}

func componentOf(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		return eventType[:i]
	}
	return eventType
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type subscription struct {
	cancel func()
}

func (s subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriptionEntry struct {
	id      int
	handler ports.EventHandler
}

var _ ports.EventPublisher = (*LoggingPublisher)(nil)
