package module

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	"github.com/alexisbeaulieu97/zenify/internal/scope"
	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

const (
	phaseRegister = "register"
	phaseInit     = "init"
	phaseDispose  = "dispose"
)

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger injects a logger into the loader.
func WithLogger(logger ports.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithEvents publishes module lifecycle events.
func WithEvents(events ports.EventPublisher) LoaderOption {
	return func(l *Loader) {
		l.events = events
	}
}

// Loader installs modules into scopes. It remembers which modules each live
// scope already holds so shared dependencies are registered and initialized
// once per scope.
type Loader struct {
	logger ports.Logger
	events ports.EventPublisher

	mu        sync.Mutex
	installed map[string]map[string]struct{}
}

// NewLoader constructs a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{installed: make(map[string]map[string]struct{})}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrNoOp(l.logger).With("component", "module_loader")
	return l
}

// Install registers mods and their transitive dependencies into s, then runs
// their init hooks, dependencies first. A dependency cycle is reported as a
// CycleError before anything is registered. A failing Register or OnInit
// stops the installation and is returned as a ModuleError; modules handled
// before the failure stay in place and are still disposed with the scope.
func (l *Loader) Install(ctx context.Context, s *scope.Scope, mods ...Module) (*Installation, error) {
	if s == nil {
		return nil, fmt.Errorf("install modules: scope is nil")
	}
	if s.IsDisposed() {
		return nil, zerrors.NewScopeDisposedError(s.ID(), s.Name(), "install modules")
	}

	graph, byName, err := buildGraph(mods)
	if err != nil {
		return nil, err
	}
	if cycle := graph.DetectCycle(); len(cycle) > 0 {
		return nil, &zerrors.CycleError{Cycle: cycle}
	}

	inst := &Installation{scope: s, loader: l}
	if err := s.AddDisposeHook(func() error { return inst.Uninstall(context.Background()) }); err != nil {
		return nil, err
	}

	for _, name := range graph.Order() {
		if !l.claim(s.ID(), name) {
			l.logger.Debug(ctx, "module already installed in scope", "module", name, "scope_id", s.ID())
			continue
		}
		m := byName[name]
		if err := m.Register(s); err != nil {
			l.release(s.ID(), name)
			l.logger.Error(ctx, "module registration failed", "module", name, "scope_id", s.ID(), "error", err)
			return inst, zerrors.NewModuleError(name, phaseRegister, err)
		}
		inst.addRegistered(m)
	}

	for _, m := range inst.Registered() {
		if err := ctx.Err(); err != nil {
			return inst, zerrors.NewModuleError(m.Name(), phaseInit, err)
		}
		if err := m.OnInit(ctx, s); err != nil {
			l.logger.Error(ctx, "module init failed", "module", m.Name(), "scope_id", s.ID(), "error", err)
			return inst, zerrors.NewModuleError(m.Name(), phaseInit, err)
		}
		inst.addInitialized(m)
		ports.Publish(ctx, l.events, ports.NewEvent(ports.EventModuleInitialized, map[string]interface{}{
			"module":   m.Name(),
			"scope_id": s.ID(),
		}))
	}

	l.logger.Info(ctx, "modules installed", "scope_id", s.ID(), "scope_name", s.Name(), "count", len(inst.Registered()))
	return inst, nil
}

// NewScope creates a child of parent and installs mods into it. On failure the
// child is returned together with the error so the caller decides whether to
// dispose it.
func NewScope(ctx context.Context, loader *Loader, parent *scope.Scope, name string, mods ...Module) (*scope.Scope, *Installation, error) {
	child, err := parent.CreateChild(name)
	if err != nil {
		return nil, nil, err
	}
	inst, err := loader.Install(ctx, child, mods...)
	return child, inst, err
}

// Installed reports the names of modules currently installed in the scope
// with the given id.
func (l *Loader) Installed(scopeID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.installed[scopeID]))
	for name := range l.installed[scopeID] {
		names = append(names, name)
	}
	return names
}

func (l *Loader) claim(scopeID, name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.installed[scopeID]
	if set == nil {
		set = make(map[string]struct{})
		l.installed[scopeID] = set
	}
	if _, ok := set[name]; ok {
		return false
	}
	set[name] = struct{}{}
	return true
}

func (l *Loader) release(scopeID, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.installed[scopeID], name)
	if len(l.installed[scopeID]) == 0 {
		delete(l.installed, scopeID)
	}
}

// buildGraph walks mods and their dependencies, keyed by module name. Two
// different module values sharing a name are rejected.
func buildGraph(mods []Module) (*Graph, map[string]Module, error) {
	graph := NewGraph()
	byName := make(map[string]Module)

	var visit func(m Module) error
	visit = func(m Module) error {
		if m == nil {
			return fmt.Errorf("module is nil")
		}
		name := m.Name()
		if name == "" {
			return fmt.Errorf("module of type %T has no name", m)
		}
		if existing, ok := byName[name]; ok {
			if !sameModule(existing, m) {
				return zerrors.NewConflictError("module "+name, "two different modules share this name")
			}
			return nil
		}
		byName[name] = m
		graph.AddNode(name)
		for _, dep := range m.Dependencies() {
			if dep == nil {
				return fmt.Errorf("module %s declares a nil dependency", name)
			}
			graph.AddEdge(name, dep.Name())
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, m := range mods {
		if err := visit(m); err != nil {
			return nil, nil, err
		}
	}
	return graph, byName, nil
}

func sameModule(a, b Module) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// Installation records what one Install call registered and initialized.
type Installation struct {
	scope  *scope.Scope
	loader *Loader

	mu          sync.Mutex
	registered  []Module
	initialized []Module
	uninstalled bool
}

// Scope returns the scope the modules were installed into.
func (i *Installation) Scope() *scope.Scope { return i.scope }

// Registered returns the modules registered by this installation in
// dependency order.
func (i *Installation) Registered() []Module {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Module(nil), i.registered...)
}

// Initialized returns the names of modules whose init hook succeeded.
func (i *Installation) Initialized() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	names := make([]string, 0, len(i.initialized))
	for _, m := range i.initialized {
		names = append(names, m.Name())
	}
	return names
}

// Uninstall runs OnDispose for every initialized module in reverse order.
// Failures are logged and joined; the remaining modules still dispose. It is
// idempotent and also runs automatically when the scope is disposed.
func (i *Installation) Uninstall(ctx context.Context) error {
	i.mu.Lock()
	if i.uninstalled {
		i.mu.Unlock()
		return nil
	}
	i.uninstalled = true
	initialized := append([]Module(nil), i.initialized...)
	registered := append([]Module(nil), i.registered...)
	i.mu.Unlock()

	var errs []error
	for idx := len(initialized) - 1; idx >= 0; idx-- {
		m := initialized[idx]
		if err := m.OnDispose(ctx, i.scope); err != nil {
			i.loader.logger.Error(ctx, "module dispose failed", "module", m.Name(), "scope_id", i.scope.ID(), "error", err)
			errs = append(errs, zerrors.NewModuleError(m.Name(), phaseDispose, err))
		}
	}
	for _, m := range registered {
		i.loader.release(i.scope.ID(), m.Name())
	}
	return errors.Join(errs...)
}

func (i *Installation) addRegistered(m Module) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.registered = append(i.registered, m)
}

func (i *Installation) addInitialized(m Module) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.initialized = append(i.initialized, m)
}
