package kiban

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var errUnboundRef = errors.New("kiban: reference is not bound to a dependency")

// Lazy defers obtaining a value until it is first used.
//
// The factory runs at most once successfully; every later Get returns the same
// value. When the factory fails the handle stays unmaterialized and the next Get
// calls the factory again.
//
// The kernel hands out Lazy handles for slots it cannot resolve eagerly: forward
// references and the back edge of a two-party cycle. A constructor must not use
// a handle that leads back to the instance it is constructing. While the
// resolution that created a handle is running, the handle counts as part of it,
// also when a goroutine started by a constructor uses it.
type Lazy struct {
	factory func() (any, error)
	value   any
	mu      sync.Mutex
	done    bool
}

// NewLazy returns an unmaterialized handle over factory.
func NewLazy(factory func() (any, error)) *Lazy {
	return &Lazy{factory: factory}
}

// resolvedLazy returns a handle that is already materialized with v.
func resolvedLazy(v any) *Lazy {
	return &Lazy{value: v, done: true}
}

// Get materializes the handle if needed and returns its value.
func (l *Lazy) Get() (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return l.value, nil
	}

	v, err := l.factory()
	if err != nil {
		return nil, &LazyFactoryError{Err: err}
	}

	l.value = v
	l.done = true
	l.factory = nil

	return v, nil
}

// MustGet is like Get but panics on error.
func (l *Lazy) MustGet() any {
	v, err := l.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Materialized reports whether the factory has already succeeded.
func (l *Lazy) Materialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.done
}

// Ref is the typed view of a Lazy handle.
//
// Declare a constructor parameter as Ref[T] when the dependency may be deferred:
// either it is a forward reference, or T depends back on the type being
// constructed. Eagerly resolved dependencies arrive as already materialized refs.
//
//	type ServiceA struct{ b kiban.Ref[*ServiceB] }
//
//	func NewServiceA(b kiban.Ref[*ServiceB]) *ServiceA { return &ServiceA{b: b} }
type Ref[T any] struct {
	lazy *Lazy
}

// RefOf wraps l as a Ref[T].
func RefOf[T any](l *Lazy) Ref[T] {
	return Ref[T]{lazy: l}
}

// Get materializes the dependency and returns it as T.
func (r Ref[T]) Get() (T, error) {
	var zero T
	if r.lazy == nil {
		return zero, errUnboundRef
	}

	v, err := r.lazy.Get()
	if err != nil {
		return zero, err
	}

	if v == nil {
		return zero, nil
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %s", ErrTypeMismatch, v, reflect.TypeFor[T]())
	}
	return t, nil
}

// MustGet is like Get but panics on error.
func (r Ref[T]) MustGet() T {
	v, err := r.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Materialized reports whether the dependency has been obtained.
func (r Ref[T]) Materialized() bool {
	return r.lazy != nil && r.lazy.Materialized()
}

func (Ref[T]) refTarget() reflect.Type {
	return reflect.TypeFor[T]()
}

func (r *Ref[T]) bind(l *Lazy) {
	r.lazy = l
}

// refParam is implemented by every Ref[T]; refBinder by every *Ref[T].
type (
	refParam interface {
		refTarget() reflect.Type
	}
	refBinder interface {
		bind(l *Lazy)
	}
)

var refParamType = reflect.TypeFor[refParam]()

// refTargetOf returns T when t is some Ref[T].
func refTargetOf(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() != reflect.Struct || !t.Implements(refParamType) {
		return nil, false
	}
	return reflect.Zero(t).Interface().(refParam).refTarget(), true
}

// newRefValue builds a value of the Ref type t bound to l.
func newRefValue(t reflect.Type, l *Lazy) reflect.Value {
	v := reflect.New(t)
	v.Interface().(refBinder).bind(l)
	return v.Elem()
}
