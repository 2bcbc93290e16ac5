package scene

import (
	"fmt"

	"github.com/QYUbit/scenesync/pkg/bitstream"
)

// Attribute is a named typed value owned by a component.
type Attribute struct {
	name        string
	typ         *AttributeType
	value       any
	interpolate bool

	owner *Component
	index int
}

func newAttribute(name string, typ *AttributeType, value any, interpolate bool) *Attribute {
	if value == nil {
		value = typ.Zero()
	}
	return &Attribute{
		name:        name,
		typ:         typ,
		value:       value,
		interpolate: interpolate,
	}
}

func (a *Attribute) Name() string {
	return a.name
}

func (a *Attribute) TypeName() string {
	return a.typ.Name
}

func (a *Attribute) Type() *AttributeType {
	return a.typ
}

func (a *Attribute) Value() any {
	return a.value
}

// Interpolate reports whether remote updates of this attribute should be
// blended instead of applied at once.
func (a *Attribute) Interpolate() bool {
	return a.interpolate && a.typ.Lerp != nil
}

// Owner returns the component holding a, or nil once it was removed.
func (a *Attribute) Owner() *Component {
	return a.owner
}

// Index is the position of a within its component.
func (a *Attribute) Index() int {
	return a.index
}

// Set changes the value and notifies observers according to change.
func (a *Attribute) Set(v any, change ChangeType) error {
	if !a.typ.accepts(v) {
		return fmt.Errorf("%w: %T for %s attribute %q", ErrValueType, v, a.typ.Name, a.name)
	}
	if a.typ.Validate != nil {
		if err := a.typ.Validate(v); err != nil {
			return fmt.Errorf("attribute %q: %w", a.name, err)
		}
	}
	a.apply(v, change, LocalOrigin)
	return nil
}

func (a *Attribute) apply(v any, change ChangeType, origin Origin) {
	a.value = v
	if a.owner != nil {
		a.owner.emitAttributeChanged(a, change, origin)
	}
}

func (a *Attribute) ToBinary(w *bitstream.Writer) {
	a.typ.Encode(w, a.value)
}

// FromBinary decodes a value from r and applies it.
func (a *Attribute) FromBinary(r *bitstream.Reader, change ChangeType) error {
	v, err := a.DecodeValue(r)
	if err != nil {
		return err
	}
	a.apply(v, change, LocalOrigin)
	return nil
}

// DecodeValue reads a value of a's type without applying it.
func (a *Attribute) DecodeValue(r *bitstream.Reader) (any, error) {
	v, err := a.typ.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", a.name, err)
	}
	return v, nil
}

// ValueOf returns the attribute value as T.
func ValueOf[T any](a *Attribute) (T, bool) {
	if a == nil {
		var zero T
		return zero, false
	}
	v, ok := a.value.(T)
	return v, ok
}
