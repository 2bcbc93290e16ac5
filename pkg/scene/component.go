package scene

import (
	"fmt"

	"github.com/QYUbit/scenesync/pkg/bitstream"
)

// Component is a typed, named attribute container attached to an entity.
type Component struct {
	ctype       *ComponentType
	registry    *Registry
	name        string
	entity      *Entity
	syncEnabled bool
	attributes  []*Attribute
}

func newComponent(reg *Registry, ct *ComponentType, name string) *Component {
	c := &Component{
		ctype:       ct,
		registry:    reg,
		name:        name,
		syncEnabled: true,
	}
	for _, desc := range ct.Attributes {
		at, _ := reg.AttributeType(desc.Type)
		c.attach(newAttribute(desc.Name, at, desc.Default, desc.Interpolate))
	}
	return c
}

func (c *Component) attach(a *Attribute) {
	a.owner = c
	a.index = len(c.attributes)
	c.attributes = append(c.attributes, a)
}

func (c *Component) TypeID() uint32 {
	return c.ctype.ID
}

func (c *Component) TypeName() string {
	return c.ctype.Name
}

func (c *Component) Name() string {
	return c.name
}

// Entity returns the owning entity, or nil once the component was removed.
func (c *Component) Entity() *Entity {
	return c.entity
}

func (c *Component) NetworkSyncEnabled() bool {
	return c.syncEnabled
}

func (c *Component) SetNetworkSyncEnabled(enabled bool) {
	c.syncEnabled = enabled
}

func (c *Component) HasDynamicStructure() bool {
	return c.ctype.Dynamic
}

// Attributes returns the attributes in serialization order.
func (c *Component) Attributes() []*Attribute {
	out := make([]*Attribute, len(c.attributes))
	copy(out, c.attributes)
	return out
}

func (c *Component) Attribute(name string) *Attribute {
	for _, a := range c.attributes {
		if a.name == name {
			return a
		}
	}
	return nil
}

func (c *Component) scene() *Scene {
	if c.entity == nil {
		return nil
	}
	return c.entity.scene
}

// ComponentChanged notifies observers that every attribute changed.
func (c *Component) ComponentChanged(change ChangeType) {
	for _, a := range c.attributes {
		c.emitAttributeChanged(a, change, LocalOrigin)
	}
}

func (c *Component) emitAttributeChanged(a *Attribute, change ChangeType, origin Origin) {
	if s := c.scene(); s != nil {
		s.emitAttributeChanged(c, a, change, origin)
	}
}

// ==================================================================
// Dynamic structure
// ==================================================================

// CreateAttribute adds an attribute to a dynamic component.
func (c *Component) CreateAttribute(typeName, name string, change ChangeType) (*Attribute, error) {
	if !c.ctype.Dynamic {
		return nil, ErrNotDynamic
	}
	if len(name) > MaxAttributeNameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}
	if c.Attribute(name) != nil {
		return nil, fmt.Errorf("%w: %q", ErrAttributeExists, name)
	}
	if len(c.attributes) >= MaxDynamicAttributes {
		return nil, fmt.Errorf("%w: component %q holds %d", ErrTooManyAttributes, c.name, len(c.attributes))
	}
	at, ok := c.registry.AttributeType(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttributeType, typeName)
	}

	a := newAttribute(name, at, nil, false)
	c.attach(a)

	if s := c.scene(); s != nil {
		s.emitAttributeAdded(c, a, change, LocalOrigin)
	}
	return a, nil
}

// RemoveAttribute deletes an attribute from a dynamic component.
func (c *Component) RemoveAttribute(name string, change ChangeType) bool {
	if !c.ctype.Dynamic {
		return false
	}
	a := c.Attribute(name)
	if a == nil {
		return false
	}

	if s := c.scene(); s != nil {
		s.EndAttributeInterpolation(a)
		s.emitAttributeRemoved(c, a, change, LocalOrigin)
	}
	c.detach(a)
	return true
}

func (c *Component) detach(a *Attribute) {
	idx := a.index
	c.attributes = append(c.attributes[:idx], c.attributes[idx+1:]...)
	for i := idx; i < len(c.attributes); i++ {
		c.attributes[i].index = i
	}
	a.owner = nil
}

// ==================================================================
// Serialization
// ==================================================================

// SerializeToBinary writes the full component state. It fails when a
// dynamic component does not fit the count and name prefixes, in which case
// w holds a partial body and must be discarded.
func (c *Component) SerializeToBinary(w *bitstream.Writer) error {
	if !c.ctype.Dynamic {
		for _, a := range c.attributes {
			a.ToBinary(w)
		}
		return nil
	}

	if len(c.attributes) > MaxDynamicAttributes {
		return fmt.Errorf("component %s %q: %w: %d", c.ctype.Name, c.name, ErrTooManyAttributes, len(c.attributes))
	}
	w.WriteU8(uint8(len(c.attributes)))
	for _, a := range c.attributes {
		if err := w.WriteString8(a.name); err != nil {
			return fmt.Errorf("component %s %q: %w: %d bytes", c.ctype.Name, c.name, ErrNameTooLong, len(a.name))
		}
		if err := w.WriteString8(a.typ.Name); err != nil {
			return fmt.Errorf("component %s %q: attribute type %q: %w", c.ctype.Name, c.name, a.typ.Name, err)
		}
		a.ToBinary(w)
	}
	return nil
}

// DeserializeFromBinary reads a full component state. Nothing is applied
// when any part fails to decode.
func (c *Component) DeserializeFromBinary(r *bitstream.Reader, change ChangeType) error {
	if c.ctype.Dynamic {
		return c.deserializeDynamic(r, change)
	}

	values := make([]any, len(c.attributes))
	for i, a := range c.attributes {
		v, err := a.DecodeValue(r)
		if err != nil {
			return fmt.Errorf("component %s %q: %w", c.ctype.Name, c.name, err)
		}
		values[i] = v
	}

	for i, a := range c.attributes {
		a.apply(values[i], change, LocalOrigin)
	}
	return nil
}

type decodedAttribute struct {
	name  string
	typ   *AttributeType
	value any
}

func (c *Component) deserializeDynamic(r *bitstream.Reader, change ChangeType) error {
	n, err := r.ReadU8()
	if err != nil {
		return fmt.Errorf("component %s %q: %w", c.ctype.Name, c.name, err)
	}

	decoded := make([]decodedAttribute, 0, n)
	for range int(n) {
		name, err := r.ReadString8()
		if err != nil {
			return fmt.Errorf("component %s %q: %w", c.ctype.Name, c.name, err)
		}
		typeName, err := r.ReadString8()
		if err != nil {
			return fmt.Errorf("component %s %q: %w", c.ctype.Name, c.name, err)
		}
		at, ok := c.registry.AttributeType(typeName)
		if !ok {
			return fmt.Errorf("component %s %q: %w: %q", c.ctype.Name, c.name, ErrUnknownAttributeType, typeName)
		}
		v, err := at.Decode(r)
		if err != nil {
			return fmt.Errorf("component %s %q: attribute %q: %w", c.ctype.Name, c.name, name, err)
		}
		decoded = append(decoded, decodedAttribute{name: name, typ: at, value: v})
	}

	keep := make(map[string]struct{}, len(decoded))
	for _, d := range decoded {
		keep[d.name] = struct{}{}
	}
	for _, a := range c.Attributes() {
		if _, ok := keep[a.name]; !ok {
			c.RemoveAttribute(a.name, change)
		}
	}

	for _, d := range decoded {
		a := c.Attribute(d.name)
		if a != nil && a.typ != d.typ {
			c.RemoveAttribute(d.name, change)
			a = nil
		}
		if a == nil {
			if a, err = c.CreateAttribute(d.typ.Name, d.name, change); err != nil {
				return fmt.Errorf("component %s %q: %w", c.ctype.Name, c.name, err)
			}
		}
		a.apply(d.value, change, LocalOrigin)
	}
	return nil
}
