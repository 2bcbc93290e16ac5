package protocol

import "github.com/QYUbit/scenesync/pkg/bitstream"

// ComponentData is a component identity plus its serialized body.
type ComponentData struct {
	TypeID uint32
	Name   string
	Data   []byte
}

// ComponentRef identifies a component without data.
type ComponentRef struct {
	TypeID uint32
	Name   string
}

// DynamicAttribute is one entry of a dynamic component delta. An empty Type
// marks the attribute as deleted.
type DynamicAttribute struct {
	Name string
	Type string
	Data []byte
}

// IsDelete reports whether the entry removes the attribute.
func (a DynamicAttribute) IsDelete() bool {
	return a.Type == ""
}

// DynamicComponentUpdate lists changed attributes of a dynamic component.
type DynamicComponentUpdate struct {
	TypeID     uint32
	Name       string
	Attributes []DynamicAttribute
}

func writeComponents(w *bitstream.Writer, comps []ComponentData) error {
	if err := writeCount(w, len(comps)); err != nil {
		return err
	}
	for _, c := range comps {
		w.WriteU32(c.TypeID)
		if err := writeName(w, c.Name); err != nil {
			return err
		}
		if err := writeData(w, c.Data); err != nil {
			return err
		}
	}
	return nil
}

func readComponents(r *bitstream.Reader) ([]ComponentData, error) {
	n, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	comps := make([]ComponentData, 0, n)
	for range int(n) {
		var c ComponentData
		if c.TypeID, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if c.Name, err = r.ReadString8(); err != nil {
			return nil, err
		}
		if c.Data, err = r.ReadBytes16(); err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, nil
}

// ==================================================================
// Entity messages
// ==================================================================

type CreateEntity struct {
	EntityID   uint32
	Components []ComponentData
}

func (*CreateEntity) MessageID() ID      { return CreateEntityID }
func (*CreateEntity) Delivery() Delivery { return DefaultDelivery() }

func (m *CreateEntity) MarshalBinary() ([]byte, error) {
	w := bitstream.NewWriter()
	w.WriteU32(m.EntityID)
	if err := writeComponents(w, m.Components); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (m *CreateEntity) UnmarshalBinary(p []byte) (err error) {
	r := bitstream.NewReader(p)
	if m.EntityID, err = r.ReadU32(); err != nil {
		return err
	}
	m.Components, err = readComponents(r)
	return err
}

type RemoveEntity struct {
	EntityID uint32
}

func (*RemoveEntity) MessageID() ID      { return RemoveEntityID }
func (*RemoveEntity) Delivery() Delivery { return DefaultDelivery() }

func (m *RemoveEntity) MarshalBinary() ([]byte, error) {
	w := bitstream.NewWriterSize(4)
	w.WriteU32(m.EntityID)
	return w.Bytes(), nil
}

func (m *RemoveEntity) UnmarshalBinary(p []byte) (err error) {
	m.EntityID, err = bitstream.NewReader(p).ReadU32()
	return err
}

// EntityIDCollision tells a client that the server stored its entity under
// a different id.
type EntityIDCollision struct {
	OldEntityID uint32
	NewEntityID uint32
}

func (*EntityIDCollision) MessageID() ID      { return EntityIDCollisionID }
func (*EntityIDCollision) Delivery() Delivery { return DefaultDelivery() }

func (m *EntityIDCollision) MarshalBinary() ([]byte, error) {
	w := bitstream.NewWriterSize(8)
	w.WriteU32(m.OldEntityID)
	w.WriteU32(m.NewEntityID)
	return w.Bytes(), nil
}

func (m *EntityIDCollision) UnmarshalBinary(p []byte) (err error) {
	r := bitstream.NewReader(p)
	if m.OldEntityID, err = r.ReadU32(); err != nil {
		return err
	}
	m.NewEntityID, err = r.ReadU32()
	return err
}

// ==================================================================
// Component messages
// ==================================================================

type CreateComponents struct {
	EntityID   uint32
	Components []ComponentData
}

func (*CreateComponents) MessageID() ID      { return CreateComponentsID }
func (*CreateComponents) Delivery() Delivery { return DefaultDelivery() }

func (m *CreateComponents) MarshalBinary() ([]byte, error) {
	w := bitstream.NewWriter()
	w.WriteU32(m.EntityID)
	if err := writeComponents(w, m.Components); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (m *CreateComponents) UnmarshalBinary(p []byte) (err error) {
	r := bitstream.NewReader(p)
	if m.EntityID, err = r.ReadU32(); err != nil {
		return err
	}
	m.Components, err = readComponents(r)
	return err
}

// UpdateComponents carries deltas. Each static entry's Data is a bitstream of
// one changed bit per attribute, each set bit followed by that attribute's
// value.
type UpdateComponents struct {
	EntityID          uint32
	Components        []ComponentData
	DynamicComponents []DynamicComponentUpdate
}

func (*UpdateComponents) MessageID() ID      { return UpdateComponentsID }
func (*UpdateComponents) Delivery() Delivery { return DefaultDelivery() }

// Empty reports whether the message carries no updates.
func (m *UpdateComponents) Empty() bool {
	return len(m.Components) == 0 && len(m.DynamicComponents) == 0
}

func (m *UpdateComponents) MarshalBinary() ([]byte, error) {
	w := bitstream.NewWriter()
	w.WriteU32(m.EntityID)
	if err := writeComponents(w, m.Components); err != nil {
		return nil, err
	}

	if err := writeCount(w, len(m.DynamicComponents)); err != nil {
		return nil, err
	}
	for _, dc := range m.DynamicComponents {
		w.WriteU32(dc.TypeID)
		if err := writeName(w, dc.Name); err != nil {
			return nil, err
		}
		if err := writeCount(w, len(dc.Attributes)); err != nil {
			return nil, err
		}
		for _, a := range dc.Attributes {
			if err := writeName(w, a.Name); err != nil {
				return nil, err
			}
			if err := writeName(w, a.Type); err != nil {
				return nil, err
			}
			if err := writeData(w, a.Data); err != nil {
				return nil, err
			}
		}
	}
	return w.Bytes(), nil
}

func (m *UpdateComponents) UnmarshalBinary(p []byte) (err error) {
	r := bitstream.NewReader(p)
	if m.EntityID, err = r.ReadU32(); err != nil {
		return err
	}
	if m.Components, err = readComponents(r); err != nil {
		return err
	}

	n, err := r.ReadU8()
	if err != nil {
		return err
	}
	m.DynamicComponents = make([]DynamicComponentUpdate, 0, n)
	for range int(n) {
		var dc DynamicComponentUpdate
		if dc.TypeID, err = r.ReadU32(); err != nil {
			return err
		}
		if dc.Name, err = r.ReadString8(); err != nil {
			return err
		}
		count, err := r.ReadU8()
		if err != nil {
			return err
		}
		dc.Attributes = make([]DynamicAttribute, 0, count)
		for range int(count) {
			var a DynamicAttribute
			if a.Name, err = r.ReadString8(); err != nil {
				return err
			}
			if a.Type, err = r.ReadString8(); err != nil {
				return err
			}
			if a.Data, err = r.ReadBytes16(); err != nil {
				return err
			}
			dc.Attributes = append(dc.Attributes, a)
		}
		m.DynamicComponents = append(m.DynamicComponents, dc)
	}
	return nil
}

type RemoveComponents struct {
	EntityID   uint32
	Components []ComponentRef
}

func (*RemoveComponents) MessageID() ID      { return RemoveComponentsID }
func (*RemoveComponents) Delivery() Delivery { return DefaultDelivery() }

func (m *RemoveComponents) MarshalBinary() ([]byte, error) {
	w := bitstream.NewWriter()
	w.WriteU32(m.EntityID)
	if err := writeCount(w, len(m.Components)); err != nil {
		return nil, err
	}
	for _, c := range m.Components {
		w.WriteU32(c.TypeID)
		if err := writeName(w, c.Name); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func (m *RemoveComponents) UnmarshalBinary(p []byte) (err error) {
	r := bitstream.NewReader(p)
	if m.EntityID, err = r.ReadU32(); err != nil {
		return err
	}
	n, err := r.ReadU8()
	if err != nil {
		return err
	}
	m.Components = make([]ComponentRef, 0, n)
	for range int(n) {
		var c ComponentRef
		if c.TypeID, err = r.ReadU32(); err != nil {
			return err
		}
		if c.Name, err = r.ReadString8(); err != nil {
			return err
		}
		m.Components = append(m.Components, c)
	}
	return nil
}

// ==================================================================
// Actions
// ==================================================================

// EntityAction replicates a named action. ExecutionType is a combination of
// ExecLocal, ExecServer and ExecPeers.
type EntityAction struct {
	EntityID      uint32
	Name          string
	ExecutionType uint8
	Parameters    []string
}

func (*EntityAction) MessageID() ID      { return EntityActionID }
func (*EntityAction) Delivery() Delivery { return DefaultDelivery() }

func (m *EntityAction) MarshalBinary() ([]byte, error) {
	w := bitstream.NewWriter()
	w.WriteU32(m.EntityID)
	if err := writeName(w, m.Name); err != nil {
		return nil, err
	}
	w.WriteU8(m.ExecutionType)
	if err := writeCount(w, len(m.Parameters)); err != nil {
		return nil, err
	}
	for _, p := range m.Parameters {
		if err := w.WriteString16(p); err != nil {
			return nil, ErrFieldTooLarge
		}
	}
	return w.Bytes(), nil
}

func (m *EntityAction) UnmarshalBinary(p []byte) (err error) {
	r := bitstream.NewReader(p)
	if m.EntityID, err = r.ReadU32(); err != nil {
		return err
	}
	if m.Name, err = r.ReadString8(); err != nil {
		return err
	}
	if m.ExecutionType, err = r.ReadU8(); err != nil {
		return err
	}
	n, err := r.ReadU8()
	if err != nil {
		return err
	}
	m.Parameters = make([]string, 0, n)
	for range int(n) {
		s, err := r.ReadString16()
		if err != nil {
			return err
		}
		m.Parameters = append(m.Parameters, s)
	}
	return nil
}
