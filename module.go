package kiban

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/mazrean/kiban/internal/pkg/collection"
)

// ModuleDescriptor declares the registrations a module contributes and the
// modules it builds on.
//
// A module can resolve its own providers, request handlers and realtime
// endpoints, plus the export closure of its imports: the exports of every
// imported module and, transitively, of the modules those import.
type ModuleDescriptor struct {
	Providers         []Provider
	RequestHandlers   []Provider
	RealtimeEndpoints []Provider
	Imports           []Identity
	Exports           []Identity
}

type moduleState uint8

const (
	moduleDeclared moduleState = iota
	moduleInProgress
	moduleComposed
	moduleFailed
)

type moduleEntry struct {
	err        error
	own        *collection.OrderedSet[Identity]
	descriptor ModuleDescriptor
	state      moduleState
}

// Module declares a module under id and registers id with KindModule.
// Resolving id returns a zero value of its type.
func (k *Kernel) Module(id Identity, descriptor ModuleDescriptor) {
	k.modMu.Lock()
	k.modules[id] = &moduleEntry{
		descriptor: descriptor,
		own:        collection.NewOrderedSet[Identity](),
	}
	k.modMu.Unlock()

	k.Register(Registration{
		Identity: id,
		Kind:     KindModule,
		Construct: func([]any) (any, error) {
			return zeroValue(id.Type()), nil
		},
	})
}

// DeclareModule declares a module whose identity is the type M.
//
// Example:
//
//	type UsersModule struct{}
//
//	kiban.DeclareModule[UsersModule](k, kiban.ModuleDescriptor{
//		Providers: []kiban.Provider{kiban.Service(NewUserRepository)},
//		Exports:   []kiban.Identity{kiban.TypeOf[*UserRepository]()},
//	})
func DeclareModule[M any](k *Kernel, descriptor ModuleDescriptor) Identity {
	id := TypeOf[M]()
	k.Module(id, descriptor)
	return id
}

// Compose folds the registrations of module and of every module it imports,
// directly or transitively, into the registry.
//
// Providers whose identity is already registered are left untouched. Importing
// a module that is still being composed fails with a CircularModuleImportError;
// importing one that is already composed is a no-op.
func (k *Kernel) Compose(module Identity) error {
	k.modMu.Lock()
	defer k.modMu.Unlock()

	return k.compose(module, nil)
}

func (k *Kernel) compose(id Identity, path []Identity) error {
	m, ok := k.modules[id]
	if !ok {
		return &UnregisteredDependencyError{Identity: id}
	}

	switch m.state {
	case moduleInProgress:
		return &CircularModuleImportError{Path: append(slices.Clone(path), id)}
	case moduleComposed:
		return nil
	case moduleFailed:
		return m.err
	}

	m.state = moduleInProgress
	path = append(path, id)
	k.logger.Debug("composing module", "module", id, "depth", len(path))

	groups := []struct {
		providers []Provider
		kind      Kind
	}{
		{providers: m.descriptor.Providers},
		{providers: m.descriptor.RequestHandlers, kind: KindRequestHandler},
		{providers: m.descriptor.RealtimeEndpoints, kind: KindRealtimeEndpoint},
	}
	for _, group := range groups {
		for _, p := range group.providers {
			if err := k.composeProvider(m, p, group.kind); err != nil {
				return k.failModule(m, fmt.Errorf("module %s: %w", id, err))
			}
		}
	}

	for _, imported := range m.descriptor.Imports {
		if err := k.compose(imported, path); err != nil {
			return k.failModule(m, err)
		}
	}

	m.state = moduleComposed
	k.logger.Debug("composed module", "module", id, "own", m.own.Len(), "exports", len(m.descriptor.Exports))

	return nil
}

// composeProvider registers p unless its identity is already present. kind
// overrides the provider's own kind when set.
func (k *Kernel) composeProvider(m *moduleEntry, p Provider, kind Kind) error {
	reg, err := p.registration(KindService)
	if err != nil {
		return err
	}
	if kind != kindUnspecified {
		reg.Kind = kind
	}

	m.own.Add(reg.Identity)
	if k.registry.Has(reg.Identity) {
		return nil
	}

	k.Register(reg)
	return nil
}

func (k *Kernel) failModule(m *moduleEntry, err error) error {
	m.state = moduleFailed
	m.err = err
	return err
}

// Modules returns the identities of every declared module.
func (k *Kernel) Modules() []Identity {
	k.modMu.Lock()
	defer k.modMu.Unlock()

	var ids []Identity
	for _, reg := range k.registry.AllOfKind(KindModule) {
		if _, ok := k.modules[reg.Identity]; ok {
			ids = append(ids, reg.Identity)
		}
	}
	return ids
}

// ExportClosure returns the identities module exposes to its importers: its
// own exports followed by the export closure of each of its imports.
func (k *Kernel) ExportClosure(module Identity) ([]Identity, error) {
	k.modMu.Lock()
	defer k.modMu.Unlock()

	if _, ok := k.modules[module]; !ok {
		return nil, &UnregisteredDependencyError{Identity: module}
	}

	return k.exportClosure(collection.NewQueue(module)).Items(), nil
}

// exportClosure walks the modules in queue and their imports breadth first and
// collects their exports. Each module is visited once.
func (k *Kernel) exportClosure(queue *collection.Queue[Identity]) *collection.OrderedSet[Identity] {
	exports := collection.NewOrderedSet[Identity]()
	seen := collection.NewOrderedSet[Identity]()

	queue.Drain(func(id Identity) bool {
		if !seen.Add(id) {
			return true
		}

		m, ok := k.modules[id]
		if !ok {
			return true
		}
		for _, exported := range m.descriptor.Exports {
			exports.Add(exported)
		}
		for _, imported := range m.descriptor.Imports {
			queue.Push(imported)
		}
		return true
	})

	return exports
}

func zeroValue(t reflect.Type) any {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface()
	}
	return reflect.New(t).Elem().Interface()
}
