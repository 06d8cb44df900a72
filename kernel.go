// Package kiban provides a dependency resolution kernel for composing backend
// services, request handlers and realtime endpoints.
//
// Registrations describe how to construct an identity and which identities its
// constructor needs. The kernel resolves an identity by walking those
// dependencies, constructs each singleton exactly once, and breaks direct
// two-party cycles by handing a Lazy handle to one side. Longer cycles must be
// broken explicitly with ForwardRef.
//
// Modules group registrations into units with imports and exports; see
// ModuleDescriptor.
package kiban

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Observer receives resolution events. Implementations must be safe for
// concurrent use.
type Observer interface {
	// Resolved is called once per top-level Resolve call.
	Resolved(id Identity, elapsed time.Duration, err error)
	// Constructed is called after every constructor invocation.
	Constructed(id Identity, elapsed time.Duration, err error)
	// Deferred is called when slot of holder receives a Lazy handle.
	Deferred(holder Identity, slot int, forward bool)
	// Materialized is called when a kernel-created Lazy handle runs its factory.
	Materialized(id Identity, err error)
}

// NopObserver ignores every event. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) Resolved(Identity, time.Duration, error)    {}
func (NopObserver) Constructed(Identity, time.Duration, error) {}
func (NopObserver) Deferred(Identity, int, bool)               {}
func (NopObserver) Materialized(Identity, error)               {}

// Kernel owns the registry, the singleton instance cache and the module graph.
//
// Registration and module composition are expected to finish before steady
// state resolution starts. Resolve is safe for concurrent use: each singleton
// is constructed exactly once even under concurrent first access, and a call
// that would wait on a singleton whose builder is itself waiting, directly or
// through other calls, on the caller fails with a CircularDependencyError.
type Kernel struct {
	registry  *Registry
	logger    *slog.Logger
	observer  Observer
	instances map[Identity]any
	building  map[Identity]*inflight
	modules   map[Identity]*moduleEntry
	mu        sync.Mutex
	modMu     sync.Mutex
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger used for debug output. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithObserver sets the observer notified of resolution events.
func WithObserver(observer Observer) Option {
	return func(k *Kernel) {
		if observer != nil {
			k.observer = observer
		}
	}
}

// New creates a kernel with an empty registry.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		registry:  NewRegistry(),
		logger:    slog.New(slog.DiscardHandler),
		observer:  NopObserver{},
		instances: make(map[Identity]any),
		building:  make(map[Identity]*inflight),
		modules:   make(map[Identity]*moduleEntry),
	}
	for _, opt := range opts {
		opt(k)
	}

	return k
}

// Registry returns the kernel's registry.
func (k *Kernel) Registry() *Registry {
	return k.registry
}

// Register records reg. Registering an identity again replaces the previous
// registration; instances already cached for it are kept.
func (k *Kernel) Register(reg Registration) {
	k.logger.Debug("register", "identity", reg.Identity, "kind", reg.Kind, "dependencies", len(reg.Dependencies))
	k.registry.Register(reg)
}

// Provide registers each provider with its own kind, or KindService when the
// provider does not carry one.
func (k *Kernel) Provide(providers ...Provider) error {
	for _, p := range providers {
		reg, err := p.registration(KindService)
		if err != nil {
			return err
		}
		k.Register(reg)
	}
	return nil
}

// Registration returns the registration for id.
func (k *Kernel) Registration(id Identity) (Registration, bool) {
	return k.registry.Get(id)
}

// AllOfKind returns the identities registered with kind, in registration order.
func (k *Kernel) AllOfKind(kind Kind) []Identity {
	regs := k.registry.AllOfKind(kind)
	ids := make([]Identity, 0, len(regs))
	for _, reg := range regs {
		ids = append(ids, reg.Identity)
	}
	return ids
}

// All returns every registered identity, in registration order.
func (k *Kernel) All() []Identity {
	regs := k.registry.All()
	ids := make([]Identity, 0, len(regs))
	for _, reg := range regs {
		ids = append(ids, reg.Identity)
	}
	return ids
}

// ResolveAll resolves every registration except modules, in registration order,
// and stops at the first failure. It ignores module visibility.
func (k *Kernel) ResolveAll() error {
	for _, reg := range k.registry.All() {
		if reg.Kind == KindModule {
			continue
		}
		if _, err := k.Resolve(reg.Identity); err != nil {
			return fmt.Errorf("resolve %s: %w", reg.Identity, err)
		}
	}
	return nil
}

// Edge is one dependency slot in the registration graph.
type Edge struct {
	From Identity
	// To is zero for forward references.
	To      Identity
	Slot    int
	Forward bool
}

// Graph returns the dependency edges of every registration.
func (k *Kernel) Graph() []Edge {
	var edges []Edge
	for _, reg := range k.registry.All() {
		for i, dep := range reg.Dependencies {
			to, ok := dep.Identity()
			edges = append(edges, Edge{
				From:    reg.Identity,
				To:      to,
				Slot:    i,
				Forward: !ok,
			})
		}
	}
	return edges
}
