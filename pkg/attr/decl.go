// Package attr resolves typed configuration attributes from the
// capsule's metadata record, merging values across the applicable
// sections: main, runtime-major-version qualifiers, platform
// qualifiers, and (for modal attributes) the active mode's sections.
package attr

import (
	"errors"
	"fmt"
)

// Kind is an attribute's declared type.
type Kind int

const (
	String Kind = iota
	Bool
	Int
	Float
	List
	Set
	Map
	// Reference marks a value that resolves to a file or dependency.
	Reference
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case List:
		return "list"
	case Set:
		return "set"
	case Map:
		return "map"
	case Reference:
		return "reference"
	default:
		return "unknown"
	}
}

// Decl declares one attribute: its document key, shape, default and
// modality. Collection kinds carry the element kind in Elem.
type Decl struct {
	Name    string
	Kind    Kind
	Elem    Kind // element kind for List/Set/Map values; String when unset
	Default any
	Modal   bool
}

var (
	// ErrRedeclared is returned when an attribute is re-registered with an incompatible shape
	ErrRedeclared = errors.New("attribute re-registered with incompatible shape")

	// ErrUnknownMode is returned when the selected mode has no section in the document
	ErrUnknownMode = errors.New("mode is not declared in the metadata record")

	// ErrNonModalInSection is returned when a non-modal attribute appears in a mode section
	ErrNonModalInSection = errors.New("non-modal attribute declared in a mode section")
)

// Registry holds attribute declarations. Declarations are registered
// once per override module; the registry is shared by the chain.
type Registry struct {
	decls map[string]Decl
}

// NewRegistry creates an empty declaration registry.
func NewRegistry() *Registry {
	return &Registry{decls: make(map[string]Decl)}
}

// Register adds a declaration. Registering the same shape again is a
// no-op; an incompatible shape is a configuration error.
func (r *Registry) Register(d Decl) error {
	if existing, ok := r.decls[d.Name]; ok {
		if existing.Kind != d.Kind || existing.Elem != d.Elem || existing.Modal != d.Modal {
			return fmt.Errorf("%w: %s (%s vs %s)", ErrRedeclared, d.Name, existing.Kind, d.Kind)
		}
		return nil
	}
	r.decls[d.Name] = d
	return nil
}

// RegisterAll registers a batch of declarations.
func (r *Registry) RegisterAll(decls []Decl) error {
	for _, d := range decls {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the declaration for name.
func (r *Registry) Lookup(name string) (Decl, bool) {
	d, ok := r.decls[name]
	return d, ok
}
