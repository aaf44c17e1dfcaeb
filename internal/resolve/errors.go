package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// ErrResolution classifies every error returned by Resolve.
var ErrResolution = errors.New("dependency resolution failed")

// UnknownRecipeError reports a name that is not in the catalog.
type UnknownRecipeError struct {
	Name string
	// RequiredBy is the recipe that depends on Name, or empty when the
	// manifest requires it directly.
	RequiredBy string
}

func (e *UnknownRecipeError) Error() string {
	if e.RequiredBy == "" {
		return fmt.Sprintf("unknown recipe %q required by the manifest", e.Name)
	}
	return fmt.Sprintf("unknown recipe %q required by %q", e.Name, e.RequiredBy)
}

func (e *UnknownRecipeError) Unwrap() error { return ErrResolution }

// CyclicDependencyError reports one dependency cycle. Cycle starts at its
// smallest name and does not repeat it at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	path := strings.Join(e.Cycle, " -> ")
	if len(e.Cycle) > 0 {
		path += " -> " + e.Cycle[0]
	}
	return "dependency cycle: " + path
}

func (e *CyclicDependencyError) Unwrap() error { return ErrResolution }

// VersionMismatchError reports a manifest pin the catalog cannot satisfy.
type VersionMismatchError struct {
	Name    string
	Want    string // the pin, e.g. "==2.5.2"
	Version string // the catalog version
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("recipe %q: manifest requires %s, catalog has %s", e.Name, e.Want, e.Version)
}

func (e *VersionMismatchError) Unwrap() error { return ErrResolution }
