package scope

import (
	"fmt"
	"strings"
	"sync"
)

// Registry tracks every live scope for introspection. Lookups never go
// through it; resolution always walks the parent chain.
type Registry struct {
	mu     sync.RWMutex
	scopes map[string]*Scope
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string]*Scope)}
}

// Register adds s to the registry. Registering twice is a no-op.
func (r *Registry) Register(s *Scope) {
	if r == nil || s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scopes[s.id]; exists {
		return
	}
	r.scopes[s.id] = s
	r.order = append(r.order, s.id)
}

// Unregister removes the scope with the given id.
func (r *Registry) Unregister(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scopes[id]; !exists {
		return
	}
	delete(r.scopes, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the live scope with the given id.
func (r *Registry) Get(id string) (*Scope, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scopes[id]
	return s, ok
}

// FindByName returns the live scopes named name in creation order.
func (r *Registry) FindByName(name string) []*Scope {
	var out []*Scope
	for _, s := range r.All() {
		if s.name == name {
			out = append(out, s)
		}
	}
	return out
}

// All returns the live scopes in creation order.
func (r *Registry) All() []*Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Scope, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.scopes[id])
	}
	return out
}

// Count returns the number of live scopes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scopes)
}

// Tree renders the live scope hierarchy, one scope per line, children
// indented under their parent.
func (r *Registry) Tree() string {
	all := r.All()
	known := make(map[*Scope]bool, len(all))
	for _, s := range all {
		known[s] = true
	}

	var b strings.Builder
	var walk func(s *Scope, depth int)
	walk = func(s *Scope, depth int) {
		info := s.Describe()
		name := info.Name
		if name == "" {
			name = "<unnamed>"
		}
		fmt.Fprintf(&b, "%s%s [%d registrations]\n", strings.Repeat("  ", depth), name, len(info.Keys))
		for _, child := range s.Children() {
			if known[child] {
				walk(child, depth+1)
			}
		}
	}
	for _, s := range all {
		if p := s.Parent(); p == nil || !known[p] {
			walk(s, 0)
		}
	}
	return b.String()
}
