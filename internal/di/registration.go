package di

import (
	"github.com/alexisbeaulieu97/zenify/internal/scope"
)

// CallOption tunes a single container call.
type CallOption func(*call)

type call struct {
	target  *scope.Scope
	entries []scope.EntryOption
}

// In targets s instead of the current scope.
func In(s *scope.Scope) CallOption {
	return func(c *call) {
		c.target = s
	}
}

// Tag selects a tagged registration.
func Tag(tag string) CallOption {
	return func(c *call) {
		c.entries = append(c.entries, scope.WithTag(tag))
	}
}

// Permanent marks a registration as permanent.
func Permanent() CallOption {
	return func(c *call) {
		c.entries = append(c.entries, scope.Permanent())
	}
}

// Force allows Delete to remove permanent registrations.
func Force() CallOption {
	return func(c *call) {
		c.entries = append(c.entries, scope.Force())
	}
}

func (c *Container) resolveCall(opts []CallOption) call {
	cl := call{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cl)
		}
	}
	if cl.target == nil {
		cl.target = c.Current()
	}
	return cl
}

// Put registers instance in the target scope.
func Put[T any](c *Container, instance T, opts ...CallOption) (T, error) {
	cl := c.resolveCall(opts)
	return scope.Put(cl.target, instance, cl.entries...)
}

// PutLazy registers a factory built once on first lookup.
func PutLazy[T any](c *Container, factory func() (T, error), opts ...CallOption) error {
	cl := c.resolveCall(opts)
	return scope.PutLazy(cl.target, factory, cl.entries...)
}

// PutFactory registers a factory called on every lookup.
func PutFactory[T any](c *Container, factory func() (T, error), opts ...CallOption) error {
	cl := c.resolveCall(opts)
	return scope.PutFactory(cl.target, factory, cl.entries...)
}

// Find resolves T from the target scope and its ancestors.
func Find[T any](c *Container, opts ...CallOption) (T, bool) {
	cl := c.resolveCall(opts)
	return scope.Find[T](cl.target, cl.entries...)
}

// Require resolves T or returns a NotFoundError.
func Require[T any](c *Container, opts ...CallOption) (T, error) {
	cl := c.resolveCall(opts)
	return scope.Require[T](cl.target, cl.entries...)
}

// Has reports whether T is resolvable from the target scope.
func Has[T any](c *Container, opts ...CallOption) bool {
	cl := c.resolveCall(opts)
	return scope.Has[T](cl.target, cl.entries...)
}

// Delete removes T from the target scope only.
func Delete[T any](c *Container, opts ...CallOption) bool {
	cl := c.resolveCall(opts)
	return scope.Remove[T](cl.target, cl.entries...)
}
