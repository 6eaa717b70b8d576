package scope

import (
	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
)

// Option configures a root scope. Children inherit the logger, registry and
// event publisher of their parent.
type Option func(*settings)

type settings struct {
	logger   ports.Logger
	registry *Registry
	events   ports.EventPublisher
}

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithRegistry tracks the scope tree in registry.
func WithRegistry(registry *Registry) Option {
	return func(s *settings) {
		s.registry = registry
	}
}

// WithEvents publishes scope lifecycle events.
func WithEvents(events ports.EventPublisher) Option {
	return func(s *settings) {
		s.events = events
	}
}

func collectSettings(opts []Option) settings {
	cfg := settings{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg.logger = logging.OrNoOp(cfg.logger).With("component", "scope")
	return cfg
}

// EntryOption tunes a single registration, lookup or removal.
type EntryOption func(*entryOptions)

type entryOptions struct {
	tag       string
	permanent bool
	force     bool
}

// WithTag distinguishes several registrations of the same type.
func WithTag(tag string) EntryOption {
	return func(o *entryOptions) {
		o.tag = tag
	}
}

// Permanent protects a registration from being overwritten or removed
// without Force.
func Permanent() EntryOption {
	return func(o *entryOptions) {
		o.permanent = true
	}
}

// Force allows Remove to drop permanent registrations.
func Force() EntryOption {
	return func(o *entryOptions) {
		o.force = true
	}
}

func collectEntryOptions(opts []EntryOption) entryOptions {
	o := entryOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
