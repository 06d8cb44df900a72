package kiban

import "reflect"

// Identity is the key a declared type is registered and resolved under.
//
// Identities are built from reflect.Type, so two declared types with the same
// name in different packages never collapse into one registration.
type Identity struct {
	typ reflect.Type
}

// TypeOf returns the identity of T.
//
// Example:
//
//	kiban.TypeOf[*UserService]()
func TypeOf[T any]() Identity {
	return Identity{typ: reflect.TypeFor[T]()}
}

// IdentityOf returns the identity of t.
func IdentityOf(t reflect.Type) Identity {
	return Identity{typ: t}
}

// Type returns the underlying type. It is nil for the zero Identity.
func (id Identity) Type() reflect.Type {
	return id.typ
}

// IsZero reports whether id does not name any type.
func (id Identity) IsZero() bool {
	return id.typ == nil
}

func (id Identity) String() string {
	if id.typ == nil {
		return "<nil>"
	}

	return id.typ.String()
}
