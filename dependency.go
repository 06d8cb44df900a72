package kiban

import "fmt"

type dependencyKind uint8

const (
	dependencyInferred dependencyKind = iota
	dependencyExplicit
	dependencyForward
)

// Dependency is the token filling one constructor parameter slot.
//
// A slot holds either an inferred identity (taken from the declared parameter
// type), an explicit override identity, or a forward reference thunk.
type Dependency struct {
	id    Identity
	thunk func() Identity
	kind  dependencyKind
}

// Depends returns the token for a slot whose identity is inferred from the
// constructor parameter type.
func Depends(id Identity) Dependency {
	return Dependency{kind: dependencyInferred, id: id}
}

// Token returns an explicit override token. Used with Inject to replace the
// identity inferred from a parameter type.
func Token(id Identity) Dependency {
	return Dependency{kind: dependencyExplicit, id: id}
}

// ForwardRef declares a dependency whose identity is produced by thunk.
//
// The thunk is not called at declaration or construction time. A slot holding a
// forward reference always receives a Lazy handle, and the thunk runs when the
// handle is first used. This is how a dependency on a type registered later, or
// a cycle longer than two registrations, is expressed.
func ForwardRef(thunk func() Identity) Dependency {
	return Dependency{kind: dependencyForward, thunk: thunk}
}

// IsForwardRef reports whether d was built by ForwardRef.
func IsForwardRef(d Dependency) bool {
	return d.kind == dependencyForward
}

// IsExplicit reports whether d was built by Token.
func (d Dependency) IsExplicit() bool {
	return d.kind == dependencyExplicit
}

// Identity returns the identity of a non-forward dependency. ok is false for
// forward references, whose identity is only known once the thunk runs.
func (d Dependency) Identity() (id Identity, ok bool) {
	if d.kind == dependencyForward {
		return Identity{}, false
	}
	return d.id, true
}

func (d Dependency) String() string {
	switch d.kind {
	case dependencyForward:
		return "forward-ref"
	case dependencyExplicit:
		return fmt.Sprintf("inject(%s)", d.id)
	default:
		return d.id.String()
	}
}

// resolveThunk runs the forward reference thunk and rejects a zero identity.
func (d Dependency) resolveThunk() (Identity, error) {
	if d.thunk == nil {
		return Identity{}, fmt.Errorf("%w: forward reference without thunk", ErrInvalidProvider)
	}

	id := d.thunk()
	if id.IsZero() {
		return Identity{}, fmt.Errorf("%w: forward reference returned no identity", ErrInvalidProvider)
	}
	return id, nil
}
