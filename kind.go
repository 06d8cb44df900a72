package kiban

// Kind classifies a registration.
type Kind uint8

const (
	kindUnspecified Kind = iota
	KindService
	KindRequestHandler
	KindRealtimeEndpoint
	KindModule
	KindComponent
)

func (k Kind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindRequestHandler:
		return "request-handler"
	case KindRealtimeEndpoint:
		return "realtime-endpoint"
	case KindModule:
		return "module"
	case KindComponent:
		return "component"
	default:
		return "unspecified"
	}
}

// Scope is the lifecycle of the instances built for a registration.
type Scope uint8

const (
	// ScopeSingleton builds one instance per identity for the kernel lifetime.
	ScopeSingleton Scope = iota
	// ScopeTransient builds a new instance on every resolution.
	ScopeTransient
)

func (s Scope) String() string {
	if s == ScopeTransient {
		return "transient"
	}

	return "singleton"
}

// Options is the configuration attached to a registration at declaration time.
// Apart from Scope the kernel never looks at it; it is read by whoever wires
// the resolved instances into a transport (Path and Method for request
// handlers, Namespace for realtime endpoints).
type Options struct {
	Scope     Scope
	Tags      []string
	Path      string
	Method    string
	Namespace string
	Metadata  map[string]any
}

// HasTag reports whether tag was attached to the registration.
func (o Options) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
