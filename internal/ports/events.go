package ports

import "context"

const (
	// EventScopeCreated is emitted when a scope joins the registry.
	EventScopeCreated = "scope.created"
	// EventScopeDisposed is emitted after a scope finished disposing.
	EventScopeDisposed = "scope.disposed"
	// EventModuleInitialized is emitted after a module's init hook succeeded.
	EventModuleInitialized = "module.initialized"
	// EventQueryFetched is emitted when a fetch stored fresh data.
	EventQueryFetched = "query.fetched"
	// EventQueryFailed is emitted when a fetch exhausted its retries.
	EventQueryFailed = "query.failed"
	// EventQueryRemoved is emitted when an entry leaves the cache.
	EventQueryRemoved = "query.removed"
	// EventMutationQueued is emitted when a mutation is handed to the queue.
	EventMutationQueued = "mutation.queued"
	// EventJobCompleted is emitted when a replayed job succeeded.
	EventJobCompleted = "queue.job.completed"
	// EventJobDeadLettered is emitted when a job is set aside.
	EventJobDeadLettered = "queue.job.dead_lettered"
)

// DomainEvent represents a significant occurrence within the core. Events
// carry structured payloads that subscribers can use for logging, devtools or
// integrations.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous: Publish blocks until all handlers run. Implementations must be
// thread-safe.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type. Failures are returned so
// publishers can log them and continue with remaining subscribers.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler or listener. Callers must
// invoke Unsubscribe to stop receiving notifications.
type Subscription interface {
	Unsubscribe()
}

// Event is a minimal DomainEvent implementation with a map payload.
type Event struct {
	Type   string
	Fields map[string]interface{}
}

// NewEvent builds an Event with the provided payload fields.
func NewEvent(eventType string, fields map[string]interface{}) Event {
	return Event{Type: eventType, Fields: fields}
}

// EventType implements DomainEvent.
func (e Event) EventType() string { return e.Type }

// Payload implements DomainEvent.
func (e Event) Payload() interface{} { return e.Fields }

// Publish sends event through publisher when one is configured, ignoring
// delivery errors.
func Publish(ctx context.Context, publisher EventPublisher, event DomainEvent) {
	if publisher == nil || event == nil {
		return
	}
	_ = publisher.Publish(ctx, event)
}
