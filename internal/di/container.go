// Package di is the application-facing facade over the scope tree. A
// Container owns a root scope and an ambient stack of active scopes; calls
// that do not name a scope resolve against the top of that stack.
package di

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/module"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	"github.com/alexisbeaulieu97/zenify/internal/scope"
	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

// RootScopeName names the scope every container starts with.
const RootScopeName = "root"

// Option configures a Container.
type Option func(*Container)

// WithLogger injects the logger shared by the container, its scopes and the
// module loader.
func WithLogger(logger ports.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// WithEvents publishes scope and module lifecycle events.
func WithEvents(events ports.EventPublisher) Option {
	return func(c *Container) {
		c.events = events
	}
}

// WithRegistry tracks scopes in an existing registry instead of a private one.
func WithRegistry(registry *scope.Registry) Option {
	return func(c *Container) {
		c.registry = registry
	}
}

// Container is an explicit DI context. It is safe for concurrent use, but the
// ambient stack is shared: goroutines that need their own scope should pass
// it with In rather than Push.
type Container struct {
	logger   ports.Logger
	events   ports.EventPublisher
	registry *scope.Registry
	loader   *module.Loader
	root     *scope.Scope

	mu    sync.Mutex
	stack []*scope.Scope
}

// New builds a container with a fresh root scope.
func New(opts ...Option) *Container {
	c := &Container{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = logging.OrNoOp(c.logger)
	if c.registry == nil {
		c.registry = scope.NewRegistry()
	}
	c.loader = module.NewLoader(module.WithLogger(c.logger), module.WithEvents(c.events))
	c.root = scope.New(RootScopeName,
		scope.WithLogger(c.logger),
		scope.WithRegistry(c.registry),
		scope.WithEvents(c.events),
	)
	return c
}

// Root returns the root scope.
func (c *Container) Root() *scope.Scope { return c.root }

// Registry returns the registry tracking this container's scopes.
func (c *Container) Registry() *scope.Registry { return c.registry }

// Loader returns the module loader used by Enter and Install.
func (c *Container) Loader() *module.Loader { return c.loader }

// Current returns the innermost live scope on the ambient stack, or the root
// when the stack is empty. Scopes disposed behind the container's back are
// dropped from the stack.
func (c *Container) Current() *scope.Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *Container) currentLocked() *scope.Scope {
	for len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]
		if !top.IsDisposed() {
			return top
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	return c.root
}

// Push makes s the current scope.
func (c *Container) Push(s *scope.Scope) error {
	if s == nil {
		return fmt.Errorf("push scope: scope is nil")
	}
	if s.IsDisposed() {
		return zerrors.NewScopeDisposedError(s.ID(), s.Name(), "push")
	}
	c.mu.Lock()
	c.stack = append(c.stack, s)
	c.mu.Unlock()
	return nil
}

// Pop removes the current scope from the stack without disposing it.
func (c *Container) Pop() (*scope.Scope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stack) == 0 {
		return nil, errors.New("pop scope: scope stack is empty")
	}
	top := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return top, nil
}

// Depth reports how many scopes are on the ambient stack.
func (c *Container) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stack)
}

// Enter creates a child of the current scope, installs mods into it and
// pushes it. When installation fails the child is disposed and not pushed.
func (c *Container) Enter(ctx context.Context, name string, mods ...module.Module) (*scope.Scope, error) {
	parent := c.Current()
	child, _, err := module.NewScope(ctx, c.loader, parent, name, mods...)
	if err != nil {
		if child != nil {
			if disposeErr := child.Dispose(); disposeErr != nil {
				c.logger.Warn(ctx, "failed to dispose scope after install error", "scope_id", child.ID(), "error", disposeErr)
			}
		}
		return nil, err
	}
	if err := c.Push(child); err != nil {
		return nil, err
	}
	c.logger.Debug(ctx, "entered scope", "scope_id", child.ID(), "scope_name", name, "parent_id", parent.ID())
	return child, nil
}

// Exit pops the current scope and disposes it.
func (c *Container) Exit() error {
	s, err := c.Pop()
	if err != nil {
		return err
	}
	return s.Dispose()
}

// Install installs mods into the current scope.
func (c *Container) Install(ctx context.Context, mods ...module.Module) (*module.Installation, error) {
	return c.loader.Install(ctx, c.Current(), mods...)
}

// Reset disposes every scope below the root, clears the root including its
// permanent registrations and empties the ambient stack. The container stays
// usable afterwards.
func (c *Container) Reset() error {
	c.mu.Lock()
	stacked := c.stack
	c.stack = nil
	c.mu.Unlock()

	var errs []error
	for i := len(stacked) - 1; i >= 0; i-- {
		if s := stacked[i]; s != c.root {
			if err := s.Dispose(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, child := range c.root.Children() {
		if err := child.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.root.Clear(true); err != nil {
		errs = append(errs, err)
	}
	c.logger.Info(context.Background(), "container reset", "failures", len(errs))
	return errors.Join(errs...)
}

// Close disposes the whole tree. The container rejects registrations
// afterwards.
func (c *Container) Close() error {
	c.mu.Lock()
	c.stack = nil
	c.mu.Unlock()
	return c.root.Dispose()
}
