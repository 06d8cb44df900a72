package kiban

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnregisteredDependency is matched by errors for identities without a
	// registration, or not visible from the resolving module scope.
	ErrUnregisteredDependency = errors.New("kiban: unregistered dependency")

	// ErrCircularDependency is matched by errors for resolution cycles that
	// neither the one-hop guard nor a forward reference breaks.
	ErrCircularDependency = errors.New("kiban: circular dependency")

	// ErrCircularModuleImport is matched by errors for module import cycles.
	ErrCircularModuleImport = errors.New("kiban: circular module import")

	// ErrLazyFactory is matched by errors returned when a lazy handle's factory fails.
	ErrLazyFactory = errors.New("kiban: lazy factory failed")

	// ErrConstruction is matched by errors returned by constructors.
	ErrConstruction = errors.New("kiban: construction failed")

	// ErrInvalidProvider is returned for provider declarations that cannot be registered.
	ErrInvalidProvider = errors.New("kiban: invalid provider")

	// ErrDeferredSlot is returned when a deferred dependency is passed to a
	// parameter that is not declared as kiban.Ref.
	ErrDeferredSlot = errors.New("kiban: deferred dependency requires a kiban.Ref parameter")

	// ErrTypeMismatch is returned when a resolved instance does not have the requested type.
	ErrTypeMismatch = errors.New("kiban: type mismatch")
)

// UnregisteredDependencyError reports an identity with no registration.
type UnregisteredDependencyError struct {
	Identity Identity
	// Module is set when the identity exists but is not visible from that module.
	Module Identity
}

func (e *UnregisteredDependencyError) Error() string {
	if !e.Module.IsZero() {
		return fmt.Sprintf("kiban: %s is not visible from module %s", e.Identity, e.Module)
	}
	return fmt.Sprintf("kiban: unregistered dependency %s", e.Identity)
}

func (e *UnregisteredDependencyError) Is(target error) bool {
	return target == ErrUnregisteredDependency
}

// CircularDependencyError reports a resolution cycle.
type CircularDependencyError struct {
	// Path starts and ends with the same identity.
	Path []Identity
}

func (e *CircularDependencyError) Error() string {
	return "kiban: circular dependency detected: " + joinPath(e.Path)
}

func (e *CircularDependencyError) Is(target error) bool {
	return target == ErrCircularDependency
}

// CircularModuleImportError reports a module imported while it is still being composed.
type CircularModuleImportError struct {
	Path []Identity
}

func (e *CircularModuleImportError) Error() string {
	return "kiban: circular module import: " + joinPath(e.Path)
}

func (e *CircularModuleImportError) Is(target error) bool {
	return target == ErrCircularModuleImport
}

// LazyFactoryError wraps the error returned by a lazy handle's factory.
type LazyFactoryError struct {
	Err error
}

func (e *LazyFactoryError) Error() string {
	return "kiban: lazy dependency: " + e.Err.Error()
}

func (e *LazyFactoryError) Unwrap() error { return e.Err }

func (e *LazyFactoryError) Is(target error) bool {
	return target == ErrLazyFactory
}

// ConstructionError wraps an error returned by a constructor.
type ConstructionError struct {
	Identity Identity
	Err      error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("kiban: construct %s: %v", e.Identity, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstruction
}

func joinPath(path []Identity) string {
	names := make([]string, 0, len(path))
	for _, id := range path {
		names = append(names, id.String())
	}
	return strings.Join(names, " -> ")
}
