package inspect

import (
	"go/token"
	"go/types"
)

// Declaration is a provider declaration found in source.
type Declaration struct {
	Provides  types.Type
	Kind      string
	Path      string
	Method    string
	Namespace string
	Slots     []*Slot
	Pos       token.Position
}

// Slot is one dependency slot of a declaration.
type Slot struct {
	// Type is the identity the slot resolves to, or nil when it is set
	// dynamically and cannot be determined statically.
	Type types.Type
	// Ref is true when the parameter is declared as kiban.Ref[T] and can
	// receive a deferred handle.
	Ref bool
	// Forward is true when the slot is overridden with kiban.ForwardRef.
	Forward bool
}

func typeKey(t types.Type) string {
	return types.TypeString(t, nil)
}

func typeName(t types.Type) string {
	return types.TypeString(t, func(p *types.Package) string {
		return p.Name()
	})
}
