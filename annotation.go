package kiban

import (
	"fmt"
	"reflect"
)

var errorType = reflect.TypeFor[error]()

// Provider is a declared registration that has not been recorded in a kernel yet.
//
// Providers are built with Service, Handler, Endpoint, Component, Provide, Value
// and Bind, and recorded with (*Kernel).Provide or through a ModuleDescriptor.
type Provider struct {
	err          error
	construct    Constructor
	identity     Identity
	dependencies []Dependency
	params       []reflect.Type
	options      Options
	kind         Kind
}

// ProvideOption customizes a Provider.
type ProvideOption func(*Provider)

// Identity returns the identity the provider registers.
func (p Provider) Identity() Identity {
	return p.identity
}

// Kind returns the provider's kind, or the unspecified kind if none was set.
func (p Provider) Kind() Kind {
	return p.kind
}

// Err returns the declaration error, if any.
func (p Provider) Err() error {
	return p.err
}

// registration turns p into a Registration, using fallback when p has no kind.
func (p Provider) registration(fallback Kind) (Registration, error) {
	if p.err != nil {
		return Registration{}, p.err
	}
	if p.identity.IsZero() {
		return Registration{}, fmt.Errorf("%w: no identity", ErrInvalidProvider)
	}

	kind := p.kind
	if kind == kindUnspecified {
		kind = fallback
	}

	return Registration{
		Identity:     p.identity,
		Kind:         kind,
		Options:      p.options,
		Dependencies: p.dependencies,
		Construct:    p.construct,
	}, nil
}

// Provide declares a constructor function.
//
// fn must be a function returning T or (T, error); the provider registers under
// the identity of T. Each parameter becomes a dependency slot whose identity is
// inferred from the parameter type, or from T when the parameter is a Ref[T].
//
// Example:
//
//	kiban.Provide(NewDatabase)  // where NewDatabase returns (*Database, error)
//	kiban.Provide(NewService)   // where NewService returns *Service
func Provide(fn any, opts ...ProvideOption) Provider {
	p := funcProvider(fn)
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Service declares a constructor registered with KindService.
func Service(fn any, opts ...ProvideOption) Provider {
	return Provide(fn, append([]ProvideOption{AsKind(KindService)}, opts...)...)
}

// Handler declares a constructor registered with KindRequestHandler.
func Handler(fn any, opts ...ProvideOption) Provider {
	return Provide(fn, append([]ProvideOption{AsKind(KindRequestHandler)}, opts...)...)
}

// Endpoint declares a constructor registered with KindRealtimeEndpoint.
func Endpoint(fn any, opts ...ProvideOption) Provider {
	return Provide(fn, append([]ProvideOption{AsKind(KindRealtimeEndpoint)}, opts...)...)
}

// Component declares a constructor registered with KindComponent.
func Component(fn any, opts ...ProvideOption) Provider {
	return Provide(fn, append([]ProvideOption{AsKind(KindComponent)}, opts...)...)
}

// Value declares an already built instance.
//
// Example:
//
//	kiban.Value(&Config{Addr: ":8080"})
func Value[T any](v T, opts ...ProvideOption) Provider {
	p := Provider{
		identity: TypeOf[T](),
		construct: func([]any) (any, error) {
			return v, nil
		},
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Bind declares that the interface I is satisfied by the instance registered
// under Impl. Resolving I resolves Impl and returns the same instance.
//
// Example:
//
//	kiban.Bind[UserRepository, *PostgresUserRepository]()
func Bind[I, Impl any](opts ...ProvideOption) Provider {
	iface := reflect.TypeFor[I]()
	impl := TypeOf[Impl]()

	p := Provider{
		identity:     TypeOf[I](),
		dependencies: []Dependency{Token(impl)},
		construct: func(args []any) (any, error) {
			if _, ok := args[0].(*Lazy); ok {
				return nil, ErrDeferredSlot
			}
			if args[0] == nil || !reflect.TypeOf(args[0]).Implements(iface) {
				return nil, fmt.Errorf("%w: %T does not implement %s", ErrTypeMismatch, args[0], iface)
			}
			return args[0], nil
		},
	}
	if iface.Kind() != reflect.Interface {
		p.err = fmt.Errorf("%w: bind target %s is not an interface", ErrInvalidProvider, iface)
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// AsKind sets the provider's kind.
func AsKind(kind Kind) ProvideOption {
	return func(p *Provider) {
		p.kind = kind
	}
}

// WithScope sets the lifecycle of the provided instances.
func WithScope(scope Scope) ProvideOption {
	return func(p *Provider) {
		p.options.Scope = scope
	}
}

// WithTags attaches tags to the registration.
func WithTags(tags ...string) ProvideOption {
	return func(p *Provider) {
		p.options.Tags = append(p.options.Tags, tags...)
	}
}

// WithPath sets the request path a handler is mounted on.
func WithPath(path string) ProvideOption {
	return func(p *Provider) {
		p.options.Path = path
	}
}

// WithMethod restricts a handler to one HTTP method.
func WithMethod(method string) ProvideOption {
	return func(p *Provider) {
		p.options.Method = method
	}
}

// WithNamespace sets the namespace a realtime endpoint is served under.
func WithNamespace(namespace string) ProvideOption {
	return func(p *Provider) {
		p.options.Namespace = namespace
	}
}

// WithMetadata attaches an arbitrary key/value pair to the registration.
func WithMetadata(key string, value any) ProvideOption {
	return func(p *Provider) {
		if p.options.Metadata == nil {
			p.options.Metadata = make(map[string]any)
		}
		p.options.Metadata[key] = value
	}
}

// Inject overrides the dependency token of the parameter at index.
//
// Example:
//
//	kiban.Service(NewOrders, kiban.Inject(1, kiban.ForwardRef(func() kiban.Identity {
//		return kiban.TypeOf[*Billing]()
//	})))
func Inject(index int, dep Dependency) ProvideOption {
	return func(p *Provider) {
		if p.err != nil {
			return
		}
		if index < 0 || index >= len(p.dependencies) {
			p.err = fmt.Errorf("%w: %s has no parameter %d", ErrInvalidProvider, p.identity, index)
			return
		}
		if IsForwardRef(dep) && p.params != nil {
			if _, ok := refTargetOf(p.params[index]); !ok {
				p.err = fmt.Errorf("%w: %s parameter %d", ErrDeferredSlot, p.identity, index)
				return
			}
		}
		if id, ok := dep.Identity(); ok && id.IsZero() {
			p.err = fmt.Errorf("%w: %s parameter %d: empty token", ErrInvalidProvider, p.identity, index)
			return
		}
		if dep.kind == dependencyInferred {
			dep.kind = dependencyExplicit
		}
		p.dependencies[index] = dep
	}
}

// InjectType overrides the parameter at index with the identity of T.
func InjectType[T any](index int) ProvideOption {
	return Inject(index, Token(TypeOf[T]()))
}

// funcProvider builds a provider from a constructor function by inspecting its signature.
func funcProvider(fn any) Provider {
	if fn == nil {
		return Provider{err: fmt.Errorf("%w: nil constructor", ErrInvalidProvider)}
	}

	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return Provider{err: fmt.Errorf("%w: %s is not a function", ErrInvalidProvider, ft)}
	}
	if ft.IsVariadic() {
		return Provider{err: fmt.Errorf("%w: variadic constructor %s", ErrInvalidProvider, ft)}
	}

	isReturnError := false
	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
	case ft.NumOut() == 2 && ft.Out(0) != errorType && ft.Out(1) == errorType:
		isReturnError = true
	default:
		return Provider{err: fmt.Errorf("%w: constructor %s must return T or (T, error)", ErrInvalidProvider, ft)}
	}

	p := Provider{
		identity:     IdentityOf(ft.Out(0)),
		dependencies: make([]Dependency, ft.NumIn()),
		params:       make([]reflect.Type, ft.NumIn()),
	}

	for i := range ft.NumIn() {
		param := ft.In(i)
		p.params[i] = param
		if target, ok := refTargetOf(param); ok {
			p.dependencies[i] = Depends(IdentityOf(target))
			continue
		}
		p.dependencies[i] = Depends(IdentityOf(param))
	}

	identity := p.identity
	params := p.params
	p.construct = func(args []any) (any, error) {
		in := make([]reflect.Value, len(args))
		for i, arg := range args {
			v, err := adaptArgument(params[i], arg)
			if err != nil {
				return nil, fmt.Errorf("%s parameter %d: %w", identity, i, err)
			}
			in[i] = v
		}

		out := fv.Call(in)
		if isReturnError && !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}

	return p
}

// adaptArgument converts a resolved slot value into a value of the parameter type.
func adaptArgument(param reflect.Type, arg any) (reflect.Value, error) {
	lazy, isLazy := arg.(*Lazy)

	if _, ok := refTargetOf(param); ok {
		if !isLazy {
			lazy = resolvedLazy(arg)
		}
		return newRefValue(param, lazy), nil
	}

	if isLazy {
		return reflect.Value{}, ErrDeferredSlot
	}

	if arg == nil {
		return reflect.Zero(param), nil
	}

	v := reflect.ValueOf(arg)
	if !v.Type().AssignableTo(param) {
		return reflect.Value{}, fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, v.Type(), param)
	}
	return v, nil
}
