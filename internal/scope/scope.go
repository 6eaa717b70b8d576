package scope

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/zenify/internal/ports"
	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

// Disposable is implemented by registered instances that hold resources. A
// scope calls Dispose exactly once when the instance leaves it.
type Disposable interface {
	Dispose() error
}

// key identifies a registration by Go type and optional tag.
type key struct {
	typ reflect.Type
	tag string
}

func keyFor[T any](tag string) key {
	return key{typ: reflect.TypeFor[T](), tag: tag}
}

func (k key) String() string {
	name := "<nil>"
	if k.typ != nil {
		name = k.typ.String()
	}
	if k.tag == "" {
		return name
	}
	return fmt.Sprintf("%s[tag=%s]", name, k.tag)
}

type entry struct {
	key       key
	permanent bool
	transient bool
	factory   func() (any, error)

	mu       sync.Mutex
	instance any
	built    bool
	// building is set while the factory of a singleton runs on builder;
	// ready is closed when it returns.
	building bool
	builder  uint64
	ready    chan struct{}
	// active counts transient factory calls per goroutine.
	active map[uint64]int
}

func (e *entry) value() (any, error) {
	gid := goroutineID()
	if e.transient {
		return e.buildTransient(gid)
	}
	for {
		e.mu.Lock()
		if e.built {
			v := e.instance
			e.mu.Unlock()
			return v, nil
		}
		if !e.building {
			break
		}
		if e.builder == gid {
			e.mu.Unlock()
			return nil, zerrors.NewResolutionCycleError(e.key.String())
		}
		ready := e.ready
		e.mu.Unlock()
		<-ready
	}
	e.building, e.builder, e.ready = true, gid, make(chan struct{})
	e.mu.Unlock()

	var (
		v        any
		err      error
		returned bool
	)
	defer func() {
		e.mu.Lock()
		if returned && err == nil {
			e.instance, e.built = v, true
		}
		e.building, e.builder = false, 0
		close(e.ready)
		e.mu.Unlock()
	}()
	v, err = e.factory()
	returned = true
	return v, err
}

func (e *entry) buildTransient(gid uint64) (any, error) {
	e.mu.Lock()
	if e.active[gid] > 0 {
		e.mu.Unlock()
		return nil, zerrors.NewResolutionCycleError(e.key.String())
	}
	if e.active == nil {
		e.active = make(map[uint64]int)
	}
	e.active[gid]++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.active[gid]--; e.active[gid] == 0 {
			delete(e.active, gid)
		}
		e.mu.Unlock()
	}()
	return e.factory()
}

func (e *entry) builtInstance() (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instance, e.built && !e.transient
}

// Scope is a node of the dependency container tree. Lookups check the local
// registrations first and then walk the parent chain toward the root, so a
// child registration shadows the parent's without touching it.
//
// A scope owns its children: disposing it disposes them first.
type Scope struct {
	id   string
	name string

	mu        sync.RWMutex
	parent    *Scope
	children  []*Scope
	entries   map[key]*entry
	order     []key
	hooks     []func() error
	disposing bool
	disposed  bool

	logger   ports.Logger
	registry *Registry
	events   ports.EventPublisher
}

// New creates a root scope.
func New(name string, opts ...Option) *Scope {
	cfg := collectSettings(opts)
	s := newScope(name, cfg)
	s.announce()
	return s
}

func newScope(name string, cfg settings) *Scope {
	return &Scope{
		id:       uuid.NewString(),
		name:     name,
		entries:  make(map[key]*entry),
		logger:   cfg.logger,
		registry: cfg.registry,
		events:   cfg.events,
	}
}

func (s *Scope) announce() {
	if s.registry != nil {
		s.registry.Register(s)
	}
	parentID := ""
	if s.parent != nil {
		parentID = s.parent.id
	}
	ports.Publish(context.Background(), s.events, ports.NewEvent(ports.EventScopeCreated, map[string]interface{}{
		"scope_id":   s.id,
		"scope_name": s.name,
		"parent_id":  parentID,
	}))
}

// ID returns the generated scope identifier.
func (s *Scope) ID() string { return s.id }

// Name returns the human readable scope name.
func (s *Scope) Name() string { return s.name }

// Parent returns the parent scope, or nil for a root.
func (s *Scope) Parent() *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent
}

// Children returns a snapshot of the live child scopes.
func (s *Scope) Children() []*Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Scope(nil), s.children...)
}

// IsDisposed reports whether Dispose completed.
func (s *Scope) IsDisposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}

// Depth returns the number of ancestors.
func (s *Scope) Depth() int {
	depth := 0
	for p := s.Parent(); p != nil; p = p.Parent() {
		depth++
	}
	return depth
}

// CreateChild allocates a scope whose parent is s.
func (s *Scope) CreateChild(name string) (*Scope, error) {
	s.mu.Lock()
	if s.disposed || s.disposing {
		s.mu.Unlock()
		return nil, zerrors.NewScopeDisposedError(s.id, s.name, "create child")
	}
	child := newScope(name, settings{logger: s.logger, registry: s.registry, events: s.events})
	child.parent = s
	s.children = append(s.children, child)
	s.mu.Unlock()

	child.announce()
	s.logger.Debug(context.Background(), "child scope created", "scope_id", s.id, "child_id", child.id, "child_name", name)
	return child, nil
}

// AddDisposeHook registers fn to run while the scope disposes, after its
// children and before its instances. Hooks run in reverse order of addition.
func (s *Scope) AddDisposeHook(fn func() error) error {
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.disposing {
		return zerrors.NewScopeDisposedError(s.id, s.name, "add dispose hook")
	}
	s.hooks = append(s.hooks, fn)
	return nil
}

// Dispose tears the scope down: children first (depth-first), then dispose
// hooks, then registered instances in reverse registration order. A failing
// or panicking disposer is logged and does not stop the others; all failures
// are joined into the returned error. Dispose is idempotent.
func (s *Scope) Dispose() error {
	s.mu.Lock()
	if s.disposed || s.disposing {
		s.mu.Unlock()
		return nil
	}
	s.disposing = true
	children := append([]*Scope(nil), s.children...)
	s.mu.Unlock()

	var errs []error
	for _, child := range children {
		if err := child.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	entries := make([]*entry, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if e, ok := s.entries[s.order[i]]; ok {
			entries = append(entries, e)
		}
	}
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := s.guard("dispose hook", hooks[i]); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range entries {
		if err := s.disposeEntry(e); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.entries = make(map[key]*entry)
	s.order = nil
	s.children = nil
	s.disposed = true
	s.disposing = false
	parent := s.parent
	s.mu.Unlock()

	if parent != nil {
		parent.removeChild(s)
	}
	if s.registry != nil {
		s.registry.Unregister(s.id)
	}
	ports.Publish(context.Background(), s.events, ports.NewEvent(ports.EventScopeDisposed, map[string]interface{}{
		"scope_id":   s.id,
		"scope_name": s.name,
	}))
	s.logger.Debug(context.Background(), "scope disposed", "scope_id", s.id, "scope_name", s.name, "failures", len(errs))

	return errors.Join(errs...)
}

// Clear drops local registrations and disposes their built instances.
// Permanent registrations survive unless force is set.
func (s *Scope) Clear(force bool) error {
	s.mu.Lock()
	var removed []*entry
	kept := s.order[:0]
	for _, k := range s.order {
		e := s.entries[k]
		if e.permanent && !force {
			kept = append(kept, k)
			continue
		}
		delete(s.entries, k)
		removed = append(removed, e)
	}
	s.order = kept
	s.mu.Unlock()

	var errs []error
	for i := len(removed) - 1; i >= 0; i-- {
		if err := s.disposeEntry(removed[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Info describes a scope for introspection.
type Info struct {
	ID       string
	Name     string
	ParentID string
	Keys     []string
	Children []string
	Disposed bool
}

// Describe returns the scope's registrations and children.
func (s *Scope) Describe() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{ID: s.id, Name: s.name, Disposed: s.disposed}
	if s.parent != nil {
		info.ParentID = s.parent.id
	}
	for k := range s.entries {
		info.Keys = append(info.Keys, k.String())
	}
	sort.Strings(info.Keys)
	for _, c := range s.children {
		info.Children = append(info.Children, c.id)
	}
	return info
}

func (s *Scope) removeChild(child *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.children {
		if c == child {
			s.children = append(s.children[:i:i], s.children[i+1:]...)
			return
		}
	}
}

// store installs e under k, returning the entry it replaced.
func (s *Scope) store(k key, e *entry) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.disposing {
		s.logger.Warn(context.Background(), "registration ignored on disposed scope", "scope_id", s.id, "key", k.String())
		return nil, zerrors.NewScopeDisposedError(s.id, s.name, "register "+k.String())
	}
	existing, ok := s.entries[k]
	if ok && existing.permanent {
		return nil, zerrors.NewConflictError(k.String(), "a permanent instance is already registered in this scope")
	}
	s.entries[k] = e
	if !ok {
		s.order = append(s.order, k)
	}
	return existing, nil
}

// lookup walks from s to the root and returns the first matching entry.
func (s *Scope) lookup(k key) (*entry, error) {
	for cur := s; cur != nil; {
		cur.mu.RLock()
		if cur.disposed {
			cur.mu.RUnlock()
			return nil, zerrors.NewScopeDisposedError(cur.id, cur.name, "find "+k.String())
		}
		e, ok := cur.entries[k]
		next := cur.parent
		cur.mu.RUnlock()
		if ok {
			return e, nil
		}
		cur = next
	}
	return nil, zerrors.NewNotFoundError(k.typ.String(), k.tag)
}

func (s *Scope) resolve(k key) (any, error) {
	e, err := s.lookup(k)
	if err != nil {
		return nil, err
	}
	v, err := e.value()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", k, err)
	}
	return v, nil
}

func (s *Scope) remove(k key, force bool) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, false
	}
	e, ok := s.entries[k]
	if !ok {
		return nil, false
	}
	if e.permanent && !force {
		s.logger.Warn(context.Background(), "refusing to remove permanent instance without force", "scope_id", s.id, "key", k.String())
		return nil, false
	}
	delete(s.entries, k)
	for i, existing := range s.order {
		if existing == k {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return e, true
}

func (s *Scope) disposeEntry(e *entry) error {
	instance, ok := e.builtInstance()
	if !ok {
		return nil
	}
	disposable, ok := instance.(Disposable)
	if !ok {
		return nil
	}
	return s.guard(e.key.String(), disposable.Dispose)
}

// guard runs fn, converting panics into errors and logging failures.
func (s *Scope) guard(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while disposing %s: %v", label, r)
		}
		if err != nil {
			s.logger.Error(context.Background(), "disposal failed", "scope_id", s.id, "target", label, "error", err)
		}
	}()
	return fn()
}
