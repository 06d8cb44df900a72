package kiban

import "sync"

// Constructor builds an instance from its resolved arguments.
//
// args holds one element per dependency slot, in slot order. A slot that was
// deferred holds a *Lazy instead of the instance itself.
type Constructor func(args []any) (any, error)

// Registration is the metadata stored for one identity.
type Registration struct {
	Identity     Identity
	Kind         Kind
	Options      Options
	Dependencies []Dependency
	Construct    Constructor
}

// dependsOn reports whether id appears among the non-forward dependency tokens.
func (r *Registration) dependsOn(id Identity) bool {
	for _, dep := range r.Dependencies {
		if target, ok := dep.Identity(); ok && target == id {
			return true
		}
	}
	return false
}

// Registry maps identities to registrations.
//
// Iteration order is the order in which identities were first registered.
type Registry struct {
	entries map[Identity]*Registration
	order   []Identity
	mu      sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Identity]*Registration),
	}
}

// Register records reg, replacing any registration for the same identity.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[reg.Identity]; !ok {
		r.order = append(r.order, reg.Identity)
	}
	r.entries[reg.Identity] = &reg
}

// Get returns the registration for id.
func (r *Registry) Get(id Identity) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[id]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[id]
	return ok
}

// AllOfKind returns the registrations of the given kind.
func (r *Registry) AllOfKind(kind Kind) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var regs []Registration
	for _, id := range r.order {
		if reg := r.entries[id]; reg.Kind == kind {
			regs = append(regs, *reg)
		}
	}
	return regs
}

// All returns every registration, one per identity.
func (r *Registry) All() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := make([]Registration, 0, len(r.order))
	for _, id := range r.order {
		regs = append(regs, *r.entries[id])
	}
	return regs
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
