package scope

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

// Put registers instance under (T, tag) in s and returns it. A previous
// non-permanent registration is replaced and, when it is Disposable and a
// different value, disposed. Replacing a permanent registration fails with a
// ConflictError; registering on a disposed scope fails with a
// ScopeDisposedError and changes nothing.
func Put[T any](s *Scope, instance T, opts ...EntryOption) (T, error) {
	o := collectEntryOptions(opts)
	k := keyFor[T](o.tag)
	e := &entry{key: k, permanent: o.permanent, instance: instance, built: true}

	replaced, err := s.store(k, e)
	if err != nil {
		return instance, err
	}
	if replaced != nil {
		if old, built := replaced.builtInstance(); built && !sameInstance(old, instance) {
			_ = s.disposeEntry(replaced)
		}
	}
	s.logger.Debug(context.Background(), "instance registered", "scope_id", s.id, "key", k.String(), "permanent", o.permanent)
	return instance, nil
}

// PutLazy registers a factory that builds the instance on first lookup. The
// built instance is cached; a failing factory is retried on the next lookup.
func PutLazy[T any](s *Scope, factory func() (T, error), opts ...EntryOption) error {
	if factory == nil {
		return fmt.Errorf("lazy factory for %s is nil", reflect.TypeFor[T]())
	}
	o := collectEntryOptions(opts)
	k := keyFor[T](o.tag)
	e := &entry{key: k, permanent: o.permanent, factory: func() (any, error) { return factory() }}
	replaced, err := s.store(k, e)
	if err != nil {
		return err
	}
	if replaced != nil {
		_ = s.disposeEntry(replaced)
	}
	return nil
}

// PutFactory registers a factory invoked on every lookup. Instances produced
// this way are owned by the caller and never disposed by the scope.
func PutFactory[T any](s *Scope, factory func() (T, error), opts ...EntryOption) error {
	if factory == nil {
		return fmt.Errorf("factory for %s is nil", reflect.TypeFor[T]())
	}
	o := collectEntryOptions(opts)
	k := keyFor[T](o.tag)
	e := &entry{key: k, permanent: o.permanent, transient: true, factory: func() (any, error) { return factory() }}
	replaced, err := s.store(k, e)
	if err != nil {
		return err
	}
	if replaced != nil {
		_ = s.disposeEntry(replaced)
	}
	return nil
}

// Find resolves (T, tag) from s or its nearest ancestor. It reports false when
// nothing is registered, when s is disposed, or when a lazy factory fails.
func Find[T any](s *Scope, opts ...EntryOption) (T, bool) {
	v, err := Require[T](s, opts...)
	if err != nil {
		var notFound *zerrors.NotFoundError
		var disposed *zerrors.ScopeDisposedError
		if !errors.As(err, &notFound) && !errors.As(err, &disposed) {
			s.logger.Warn(context.Background(), "lookup failed", "scope_id", s.id, "type", reflect.TypeFor[T]().String(), "error", err)
		}
		var zero T
		return zero, false
	}
	return v, true
}

// Require is Find for dependencies that must exist. It returns a
// NotFoundError naming the type and tag, a ScopeDisposedError when s has been
// disposed, or the error of a failing lazy factory.
func Require[T any](s *Scope, opts ...EntryOption) (T, error) {
	var zero T
	o := collectEntryOptions(opts)
	v, err := s.resolve(keyFor[T](o.tag))
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("registered value for %s has type %T", reflect.TypeFor[T](), v)
	}
	return typed, nil
}

// Has reports whether (T, tag) is registered in s or an ancestor, without
// building lazy registrations.
func Has[T any](s *Scope, opts ...EntryOption) bool {
	o := collectEntryOptions(opts)
	_, err := s.lookup(keyFor[T](o.tag))
	return err == nil
}

// HasLocal reports whether (T, tag) is registered directly in s.
func HasLocal[T any](s *Scope, opts ...EntryOption) bool {
	o := collectEntryOptions(opts)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[keyFor[T](o.tag)]
	return ok
}

// Remove deletes the local registration of (T, tag) and disposes its built
// instance. Ancestors are never touched, so a shadowed parent registration
// becomes visible again. Permanent registrations require Force.
func Remove[T any](s *Scope, opts ...EntryOption) bool {
	o := collectEntryOptions(opts)
	e, ok := s.remove(keyFor[T](o.tag), o.force)
	if !ok {
		return false
	}
	_ = s.disposeEntry(e)
	return true
}

func sameInstance(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
