package kiban

import (
	"fmt"
	"reflect"

	"github.com/mazrean/kiban/internal/pkg/collection"
)

// ModuleScope resolves identities with the visibility rules of one module.
//
// Instances are shared with the kernel: a singleton resolved through a scope is
// the same object Resolve returns.
type ModuleScope struct {
	kernel  *Kernel
	visible *collection.OrderedSet[Identity]
	own     *collection.OrderedSet[Identity]
	module  Identity
}

// Scope returns the resolution scope of a composed module.
func (k *Kernel) Scope(module Identity) (*ModuleScope, error) {
	k.modMu.Lock()
	defer k.modMu.Unlock()

	m, ok := k.modules[module]
	if !ok {
		return nil, &UnregisteredDependencyError{Identity: module}
	}
	if m.state != moduleComposed {
		return nil, fmt.Errorf("kiban: module %s is not composed", module)
	}

	visible := collection.NewOrderedSet(m.own.Items()...)
	for _, id := range k.exportClosure(collection.NewQueue(m.descriptor.Imports...)).Items() {
		visible.Add(id)
	}

	return &ModuleScope{
		kernel:  k,
		module:  module,
		own:     collection.NewOrderedSet(m.own.Items()...),
		visible: visible,
	}, nil
}

// Module returns the identity of the scope's module.
func (s *ModuleScope) Module() Identity {
	return s.module
}

// Visible reports whether id can be resolved from the scope.
func (s *ModuleScope) Visible(id Identity) bool {
	return s.visible.Has(id)
}

// Identities returns every identity visible from the scope.
func (s *ModuleScope) Identities() []Identity {
	return s.visible.Items()
}

// Resolve resolves id if it is visible from the module.
//
// For the module's own registrations every non-forward dependency must be
// visible as well; the first one that is not is reported as unregistered.
func (s *ModuleScope) Resolve(id Identity) (any, error) {
	if !s.visible.Has(id) {
		return nil, &UnregisteredDependencyError{Identity: id, Module: s.module}
	}

	if s.own.Has(id) {
		if reg, ok := s.kernel.registry.Get(id); ok {
			for _, dep := range reg.Dependencies {
				target, ok := dep.Identity()
				if ok && !s.visible.Has(target) {
					return nil, fmt.Errorf("%s: %w", id, &UnregisteredDependencyError{Identity: target, Module: s.module})
				}
			}
		}
	}

	return s.kernel.Resolve(id)
}

// ResolveIn resolves TypeOf[T] through scope.
func ResolveIn[T any](scope *ModuleScope) (T, error) {
	var zero T

	v, err := scope.Resolve(TypeOf[T]())
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %s", ErrTypeMismatch, v, reflect.TypeFor[T]())
	}
	return t, nil
}
