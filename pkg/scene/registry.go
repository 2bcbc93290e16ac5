package scene

import (
	"fmt"
	"reflect"

	"github.com/QYUbit/scenesync/pkg/bitstream"
)

// AttributeType is the capability table of one attribute value type.
type AttributeType struct {
	Name   string
	Zero   func() any
	Encode func(w *bitstream.Writer, v any)
	Decode func(r *bitstream.Reader) (any, error)

	// Lerp blends between two values. Types without Lerp cannot be
	// interpolated.
	Lerp func(from, to any, t float32) any

	// Validate rejects values the encoding cannot carry. It is optional.
	Validate func(v any) error
}

func (t *AttributeType) accepts(v any) bool {
	return reflect.TypeOf(v) == reflect.TypeOf(t.Zero())
}

// AttributeDesc declares one attribute of a fixed component type.
type AttributeDesc struct {
	Name        string
	Type        string
	Interpolate bool
	Default     any
}

// ComponentType declares a component. Dynamic types start without
// attributes and grow at runtime.
type ComponentType struct {
	ID         uint32
	Name       string
	Dynamic    bool
	Attributes []AttributeDesc
}

const (
	DynamicComponentTypeID   uint32 = 25
	DynamicComponentTypeName        = "DynamicComponent"
)

// Registry maps type ids and names to component and attribute types.
type Registry struct {
	attributeTypes map[string]*AttributeType
	components     map[uint32]*ComponentType
	names          map[string]uint32
}

// NewRegistry returns a registry holding the built-in attribute types and
// the dynamic component type.
func NewRegistry() *Registry {
	r := &Registry{
		attributeTypes: make(map[string]*AttributeType),
		components:     make(map[uint32]*ComponentType),
		names:          make(map[string]uint32),
	}

	for _, t := range builtinAttributeTypes() {
		r.attributeTypes[t.Name] = t
	}

	r.components[DynamicComponentTypeID] = &ComponentType{
		ID:      DynamicComponentTypeID,
		Name:    DynamicComponentTypeName,
		Dynamic: true,
	}
	r.names[DynamicComponentTypeName] = DynamicComponentTypeID

	return r
}

func (r *Registry) RegisterAttributeType(t AttributeType) error {
	if t.Name == "" || t.Zero == nil || t.Encode == nil || t.Decode == nil {
		return fmt.Errorf("attribute type %q is incomplete", t.Name)
	}
	if _, ok := r.attributeTypes[t.Name]; ok {
		return fmt.Errorf("%w: attribute type %q", ErrDuplicateType, t.Name)
	}
	r.attributeTypes[t.Name] = &t
	return nil
}

func (r *Registry) RegisterComponent(t ComponentType) error {
	if _, ok := r.components[t.ID]; ok {
		return fmt.Errorf("%w: component type id %d", ErrDuplicateType, t.ID)
	}
	if _, ok := r.names[t.Name]; ok {
		return fmt.Errorf("%w: component type %q", ErrDuplicateType, t.Name)
	}

	seen := make(map[string]struct{}, len(t.Attributes))
	for _, desc := range t.Attributes {
		at, ok := r.attributeTypes[desc.Type]
		if !ok {
			return fmt.Errorf("%w: %q in component %q", ErrUnknownAttributeType, desc.Type, t.Name)
		}
		if _, dup := seen[desc.Name]; dup {
			return fmt.Errorf("%w: %q in component %q", ErrAttributeExists, desc.Name, t.Name)
		}
		if desc.Default != nil && !at.accepts(desc.Default) {
			return fmt.Errorf("%w: default of %q in component %q", ErrValueType, desc.Name, t.Name)
		}
		seen[desc.Name] = struct{}{}
	}

	t.Attributes = append([]AttributeDesc(nil), t.Attributes...)
	r.components[t.ID] = &t
	r.names[t.Name] = t.ID
	return nil
}

// MustRegisterComponent is like RegisterComponent but panics on error.
func (r *Registry) MustRegisterComponent(t ComponentType) {
	if err := r.RegisterComponent(t); err != nil {
		panic(err)
	}
}

func (r *Registry) ComponentType(id uint32) (*ComponentType, bool) {
	t, ok := r.components[id]
	return t, ok
}

func (r *Registry) ComponentTypeID(name string) (uint32, bool) {
	id, ok := r.names[name]
	return id, ok
}

// ComponentTypeName returns a printable name even for unknown ids.
func (r *Registry) ComponentTypeName(id uint32) string {
	if t, ok := r.components[id]; ok {
		return t.Name
	}
	return fmt.Sprintf("unknown(%d)", id)
}

func (r *Registry) AttributeType(name string) (*AttributeType, bool) {
	t, ok := r.attributeTypes[name]
	return t, ok
}
