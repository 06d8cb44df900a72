package kiban

import (
	"fmt"
	"reflect"
	"slices"
	"sync/atomic"
	"time"
)

// inflight is a singleton whose constructor is running. owner is the
// resolution building it.
type inflight struct {
	done     chan struct{}
	owner    *resolution
	instance any
	err      error
	id       Identity
}

// resolution is one chain of construction running on a single goroutine. path
// holds the identities it is constructing, so re-entering one of them is
// reported instead of recursing forever.
//
// A Lazy handle materialized while the resolution that created it is still
// running starts a child resolution. The child shares the parent's root, and
// with it the parent's place in the wait-for graph, and continues the parent's
// path from where the handle was created.
type resolution struct {
	kernel *Kernel
	root   *resolution
	// waits counts the in-flight singletons members of the group are blocked
	// on. Only set on roots; guarded by kernel.mu.
	waits  map[*inflight]int
	prefix []Identity
	path   []Identity
	active atomic.Bool
}

func newResolution(k *Kernel, parent *resolution, prefix []Identity) *resolution {
	r := &resolution{kernel: k}
	if parent != nil && parent.active.Load() {
		r.root = parent.root
		r.prefix = prefix
	} else {
		r.root = r
		r.waits = make(map[*inflight]int)
	}
	return r
}

// Resolve returns the instance for id, constructing it and its dependencies as
// needed.
//
// For each dependency slot the kernel picks a strategy:
//   - a forward reference is deferred: the slot receives a Lazy handle and the
//     thunk runs on first use;
//   - a dependency whose own registration depends directly on id is deferred
//     too, which breaks two-party cycles;
//   - anything else is resolved eagerly.
//
// Cycles through three or more registrations without a forward reference fail
// with a CircularDependencyError, also when concurrent calls each hold part of
// the cycle.
func (k *Kernel) Resolve(id Identity) (any, error) {
	start := time.Now()

	instance, err := k.run(newResolution(k, nil, nil), id)

	k.observer.Resolved(id, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

// resolveFrom is used by kernel-created lazy handles. prefix is the path of
// parent when the handle was created.
func (k *Kernel) resolveFrom(parent *resolution, prefix []Identity, id Identity) (any, error) {
	return k.run(newResolution(k, parent, prefix), id)
}

func (k *Kernel) run(r *resolution, id Identity) (any, error) {
	r.active.Store(true)
	defer r.active.Store(false)

	return r.resolve(id)
}

// fullPath is the path from the root of the group to the identity r is
// constructing.
func (r *resolution) fullPath() []Identity {
	return append(slices.Clone(r.prefix), r.path...)
}

func (r *resolution) resolve(id Identity) (any, error) {
	k := r.kernel

	k.mu.Lock()
	if instance, ok := k.instances[id]; ok {
		k.mu.Unlock()
		return instance, nil
	}
	k.mu.Unlock()

	if full := r.fullPath(); slices.Contains(full, id) {
		path := append(full[slices.Index(full, id):], id)
		return nil, &CircularDependencyError{Path: path}
	}

	reg, ok := k.registry.Get(id)
	if !ok {
		return nil, &UnregisteredDependencyError{Identity: id}
	}

	if reg.Options.Scope == ScopeTransient {
		return r.construct(&reg)
	}

	k.mu.Lock()
	if instance, ok := k.instances[id]; ok {
		k.mu.Unlock()
		return instance, nil
	}
	if f, ok := k.building[id]; ok {
		if cycle := r.waitCycle(f); cycle != nil {
			k.mu.Unlock()
			return nil, &CircularDependencyError{Path: cycle}
		}
		r.root.waits[f]++
		k.mu.Unlock()

		<-f.done

		k.mu.Lock()
		if r.root.waits[f]--; r.root.waits[f] == 0 {
			delete(r.root.waits, f)
		}
		k.mu.Unlock()

		if f.err != nil {
			return nil, f.err
		}
		return f.instance, nil
	}
	f := &inflight{id: id, owner: r, done: make(chan struct{})}
	k.building[id] = f
	k.mu.Unlock()

	instance, err := r.construct(&reg)

	k.mu.Lock()
	delete(k.building, id)
	if err == nil {
		k.instances[id] = instance
	}
	f.instance, f.err = instance, err
	close(f.done)
	k.mu.Unlock()

	return instance, err
}

// waitCycle reports whether waiting for f would close a loop in the wait-for
// graph: the group building f waits, directly or through other groups, for
// something r's group is building. It returns the cycle path, or nil when
// waiting is safe. kernel.mu must be held.
func (r *resolution) waitCycle(f *inflight) []Identity {
	seen := make(map[*resolution]bool)

	var walk func(f *inflight) []Identity
	walk = func(f *inflight) []Identity {
		owner := f.owner.root
		if owner == r.root {
			return []Identity{f.id}
		}
		if seen[owner] {
			return nil
		}
		seen[owner] = true

		for next := range owner.waits {
			if rest := walk(next); rest != nil {
				return append([]Identity{f.id}, rest...)
			}
		}
		return nil
	}

	chain := walk(f)
	if chain == nil {
		return nil
	}
	return append(r.fullPath(), chain...)
}

func (r *resolution) construct(reg *Registration) (any, error) {
	k := r.kernel

	if reg.Construct == nil {
		return nil, &ConstructionError{Identity: reg.Identity, Err: fmt.Errorf("%w: no constructor", ErrInvalidProvider)}
	}

	r.path = append(r.path, reg.Identity)
	defer func() {
		r.path = r.path[:len(r.path)-1]
	}()

	args := make([]any, len(reg.Dependencies))
	for i, dep := range reg.Dependencies {
		arg, err := r.argument(reg.Identity, i, dep)
		if err != nil {
			return nil, fmt.Errorf("%s: dependency %d: %w", reg.Identity, i, err)
		}
		args[i] = arg
	}

	start := time.Now()
	instance, err := reg.Construct(args)
	k.observer.Constructed(reg.Identity, time.Since(start), err)
	if err != nil {
		return nil, &ConstructionError{Identity: reg.Identity, Err: err}
	}

	k.logger.Debug("constructed", "identity", reg.Identity, "scope", reg.Options.Scope)

	return instance, nil
}

// argument produces the value for one slot of holder.
func (r *resolution) argument(holder Identity, slot int, dep Dependency) (any, error) {
	k := r.kernel

	if IsForwardRef(dep) {
		k.logger.Debug("deferring dependency", "holder", holder, "slot", slot, "reason", "forward-ref")
		k.observer.Deferred(holder, slot, true)
		return r.lazy(dep.resolveThunk), nil
	}

	id, _ := dep.Identity()
	if target, ok := k.registry.Get(id); ok && target.dependsOn(holder) {
		k.logger.Debug("deferring dependency", "holder", holder, "slot", slot, "dependency", id, "reason", "cycle")
		k.observer.Deferred(holder, slot, false)
		return r.lazy(func() (Identity, error) { return id, nil }), nil
	}

	return r.resolve(id)
}

// lazy returns a handle that resolves the identity produced by target.
func (r *resolution) lazy(target func() (Identity, error)) *Lazy {
	k := r.kernel
	prefix := r.fullPath()

	return NewLazy(func() (any, error) {
		id, err := target()
		if err != nil {
			return nil, err
		}

		instance, err := k.resolveFrom(r, prefix, id)
		k.observer.Materialized(id, err)
		if err != nil {
			return nil, err
		}
		return instance, nil
	})
}

// Resolve returns the instance registered under TypeOf[T].
func Resolve[T any](k *Kernel) (T, error) {
	var zero T

	v, err := k.Resolve(TypeOf[T]())
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %s", ErrTypeMismatch, v, reflect.TypeFor[T]())
	}
	return t, nil
}

// MustResolve is like Resolve but panics on error.
func MustResolve[T any](k *Kernel) T {
	v, err := Resolve[T](k)
	if err != nil {
		panic(err)
	}
	return v
}
