package replication

import (
	"github.com/QYUbit/scenesync/pkg/bitstream"
	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/scene"
	"github.com/QYUbit/scenesync/pkg/syncstate"
)

// HandlePacket decodes a scene message and applies it. Messages that are
// not scene messages are left to the caller and reported as not handled.
func (m *SyncManager) HandlePacket(source string, id protocol.ID, payload []byte) (bool, error) {
	if !protocol.IsSceneMessage(id) {
		return false, nil
	}
	msg, err := protocol.Decode(id, payload)
	if err != nil {
		return true, err
	}
	m.HandleMessage(source, msg)
	return true, nil
}

// HandleMessage applies a scene message received from the connection
// identified by source.
func (m *SyncManager) HandleMessage(source string, msg protocol.Message) {
	if m.scene == nil {
		m.logger.Warn("ignoring message, no scene registered", "message", msg.MessageID())
		return
	}

	switch msg := msg.(type) {
	case *protocol.CreateEntity:
		m.handleCreateEntity(source, msg)
	case *protocol.RemoveEntity:
		m.handleRemoveEntity(source, msg)
	case *protocol.CreateComponents:
		m.handleCreateComponents(source, msg)
	case *protocol.UpdateComponents:
		m.handleUpdateComponents(source, msg)
	case *protocol.RemoveComponents:
		m.handleRemoveComponents(source, msg)
	case *protocol.EntityIDCollision:
		m.handleEntityIDCollision(source, msg)
	case *protocol.EntityAction:
		m.handleEntityAction(source, msg)
	default:
		m.logger.Debug("ignoring non scene message", "message", msg.MessageID())
	}
}

// ValidateAction reports whether source may send a message about entity
// id. Local ids are never accepted. A server only trusts authenticated
// users, a client trusts its server.
func (m *SyncManager) ValidateAction(source string, id scene.EntityID) bool {
	if id.IsLocal() {
		m.logger.Warn("received sync message for a local entity, disregarding", "entity", id, "source", source)
		return false
	}
	if !m.host.IsServer() {
		return true
	}
	if !isAuthenticated(m.principal(source)) {
		m.logger.Warn("received sync message from unauthenticated connection", "entity", id, "source", source)
		return false
	}
	return true
}

func (m *SyncManager) principal(source string) scene.Principal {
	if !m.host.IsServer() {
		return nil
	}
	user := m.host.UserConnection(source)
	if user == nil {
		return nil
	}
	return user
}

func (m *SyncManager) stateFor(source string) *syncstate.SceneSyncState {
	if !m.host.IsServer() {
		return m.serverState
	}
	user := m.host.UserConnection(source)
	if user == nil {
		return nil
	}
	return user.SyncState()
}

// changeType is Replicate on the server so inbound changes cascade to the
// other users, and LocalOnly on clients.
func (m *SyncManager) changeType() scene.ChangeType {
	if m.host.IsServer() {
		return scene.Replicate
	}
	return scene.LocalOnly
}

// resolve performs the shared preamble of inbound handlers.
func (m *SyncManager) resolve(source string, id scene.EntityID, kind protocol.ID) (*syncstate.SceneSyncState, scene.Principal, bool) {
	if !m.ValidateAction(source, id) {
		return nil, nil, false
	}
	state := m.stateFor(source)
	if state == nil {
		m.logger.Warn("no sync state for connection, disregarding message", "message", kind, "source", source)
		return nil, nil, false
	}
	return state, m.principal(source), true
}

func (m *SyncManager) handleCreateEntity(source string, msg *protocol.CreateEntity) {
	id := scene.EntityID(msg.EntityID)
	state, user, ok := m.resolve(source, id, msg.MessageID())
	if !ok {
		return
	}
	if !m.scene.AllowModifyEntity(user, nil) {
		return
	}
	change := m.changeType()

	if m.scene.Entity(id) != nil {
		if m.host.IsServer() {
			newID := m.collisionID()
			if sender := m.host.UserConnection(source); sender != nil {
				m.send(sender, &protocol.EntityIDCollision{OldEntityID: uint32(id), NewEntityID: uint32(newID)})
			}
			m.logger.Debug("entity id collision", "old", id, "new", newID, "source", source)
			id = newID
		} else {
			m.logger.Warn("received creation of an existing entity, removing the old one", "entity", id)
			m.scene.RemoveEntity(id, change)
		}
	}

	e, err := m.scene.CreateEntity(id, scene.Disconnected)
	if err != nil {
		m.logger.Warn("scene refused to create entity", "entity", id, "error", err)
		return
	}
	es := state.GetOrCreateEntity(id)

	batch := m.scene.NewBatch(change, scene.Origin(source))
	batch.EntityCreated(e)
	for _, cd := range msg.Components {
		if c := m.applyFullComponent(e, cd); c != nil {
			es.GetOrCreateComponent(keyOf(c))
			batch.ComponentChanged(c)
		}
	}
	batch.Flush()
}

// applyFullComponent gets or creates the component described by cd and
// decodes its full state without notifications. A component created here
// is dropped again when its data is corrupt.
func (m *SyncManager) applyFullComponent(e *scene.Entity, cd protocol.ComponentData) *scene.Component {
	c, created, err := e.GetOrCreateComponent(cd.TypeID, cd.Name, scene.Disconnected)
	if err != nil {
		m.logger.Warn("could not create component", "type", m.scene.Registry().ComponentTypeName(cd.TypeID), "name", cd.Name, "error", err)
		return nil
	}
	if len(cd.Data) == 0 {
		return c
	}
	if err := c.DeserializeFromBinary(bitstream.NewReader(cd.Data), scene.Disconnected); err != nil {
		m.logger.Error("failed to deserialize component", "type", c.TypeName(), "type_id", cd.TypeID, "name", cd.Name, "error", err)
		if created {
			e.RemoveComponent(c, scene.Disconnected)
		}
		return nil
	}
	return c
}

func (m *SyncManager) handleRemoveEntity(source string, msg *protocol.RemoveEntity) {
	id := scene.EntityID(msg.EntityID)
	state, user, ok := m.resolve(source, id, msg.MessageID())
	if !ok {
		return
	}
	if !m.scene.AllowModifyEntity(user, m.scene.Entity(id)) {
		return
	}

	m.scene.RemoveEntityFrom(id, m.changeType(), scene.Origin(source))
	state.RemoveEntity(id)
}

// targetEntity returns the entity a component message refers to, creating
// it when it is missing.
func (m *SyncManager) targetEntity(state *syncstate.SceneSyncState, user scene.Principal, id scene.EntityID, kind protocol.ID, batch *scene.Batch) *scene.Entity {
	e := m.scene.Entity(id)
	if e == nil {
		if !m.scene.AllowModifyEntity(user, nil) {
			return nil
		}
		m.logger.Warn("entity not found for message, creating it now", "entity", id, "message", kind)

		var err error
		e, err = m.scene.CreateEntity(id, scene.Disconnected)
		if err != nil {
			m.logger.Warn("scene refused to create entity", "entity", id, "error", err)
			return nil
		}
		state.GetOrCreateEntity(id)
		batch.EntityCreated(e)
	}

	if !m.scene.AllowModifyEntity(user, e) {
		return nil
	}
	return e
}

func (m *SyncManager) handleCreateComponents(source string, msg *protocol.CreateComponents) {
	id := scene.EntityID(msg.EntityID)
	state, user, ok := m.resolve(source, id, msg.MessageID())
	if !ok {
		return
	}

	batch := m.scene.NewBatch(m.changeType(), scene.Origin(source))
	e := m.targetEntity(state, user, id, msg.MessageID(), batch)
	if e == nil {
		batch.Flush()
		return
	}
	es := state.GetOrCreateEntity(id)

	for _, cd := range msg.Components {
		existed := e.Component(cd.TypeID, cd.Name) != nil
		c := m.applyFullComponent(e, cd)
		if c == nil {
			continue
		}
		es.GetOrCreateComponent(keyOf(c))
		if !existed {
			batch.ComponentAdded(c)
		}
		batch.ComponentChanged(c)
	}
	batch.Flush()
}

type decodedValue struct {
	attr  *scene.Attribute
	value any
}

func (m *SyncManager) handleUpdateComponents(source string, msg *protocol.UpdateComponents) {
	id := scene.EntityID(msg.EntityID)
	state, user, ok := m.resolve(source, id, msg.MessageID())
	if !ok {
		return
	}

	batch := m.scene.NewBatch(m.changeType(), scene.Origin(source))
	e := m.targetEntity(state, user, id, msg.MessageID(), batch)
	if e == nil {
		batch.Flush()
		return
	}

	for _, cd := range msg.Components {
		c, created, err := e.GetOrCreateComponent(cd.TypeID, cd.Name, scene.Disconnected)
		if err != nil {
			m.logger.Warn("could not create component", "type", m.scene.Registry().ComponentTypeName(cd.TypeID), "name", cd.Name, "error", err)
			continue
		}
		if created {
			batch.ComponentAdded(c)
		}
		if len(cd.Data) == 0 {
			continue
		}
		if c.HasDynamicStructure() {
			m.logger.Warn("received static update for a dynamic component", "type", c.TypeName(), "name", c.Name())
			continue
		}
		m.applyStaticDelta(c, cd.Data, batch)
	}

	for _, dc := range msg.DynamicComponents {
		c, created, err := e.GetOrCreateComponent(dc.TypeID, dc.Name, scene.Disconnected)
		if err != nil {
			m.logger.Warn("could not create component", "type", m.scene.Registry().ComponentTypeName(dc.TypeID), "name", dc.Name, "error", err)
			continue
		}
		if created {
			batch.ComponentAdded(c)
		}
		if !c.HasDynamicStructure() {
			m.logger.Warn("received dynamic update for a static component", "type", c.TypeName(), "name", c.Name())
			continue
		}
		m.applyDynamicDelta(c, dc.Attributes, batch)
	}

	batch.Flush()
}

// applyStaticDelta decodes the changed bit stream of a fixed component. The
// component is left untouched when the stream is corrupt. On clients,
// attributes with the interpolate hint are blended instead of set.
func (m *SyncManager) applyStaticDelta(c *scene.Component, data []byte, batch *scene.Batch) {
	r := bitstream.NewReader(data)
	var values []decodedValue
	for _, a := range c.Attributes() {
		changed, err := r.ReadBit()
		if err != nil {
			m.logger.Error("failed to delta-deserialize component", "type", c.TypeName(), "name", c.Name(), "error", err)
			return
		}
		if !changed {
			continue
		}
		v, err := a.DecodeValue(r)
		if err != nil {
			m.logger.Error("failed to delta-deserialize component", "type", c.TypeName(), "name", c.Name(), "error", err)
			return
		}
		values = append(values, decodedValue{attr: a, value: v})
	}

	isServer := m.host.IsServer()
	for _, dv := range values {
		if !isServer && dv.attr.Interpolate() {
			m.scene.StartAttributeInterpolation(dv.attr, dv.value, m.interpolationWindow())
			continue
		}
		if err := dv.attr.Set(dv.value, scene.Disconnected); err != nil {
			m.logger.Error("failed to apply attribute", "attribute", dv.attr.Name(), "error", err)
			continue
		}
		batch.AttributeChanged(dv.attr)
	}
}

func (m *SyncManager) applyDynamicDelta(c *scene.Component, attrs []protocol.DynamicAttribute, batch *scene.Batch) {
	for _, da := range attrs {
		if da.IsDelete() {
			if a := c.Attribute(da.Name); a != nil {
				c.RemoveAttribute(da.Name, scene.Disconnected)
				batch.AttributeRemoved(c, a)
			}
			continue
		}

		at, ok := m.scene.Registry().AttributeType(da.Type)
		if !ok {
			m.logger.Warn("unknown attribute type in dynamic component", "component", c.Name(), "attribute", da.Name, "type", da.Type)
			continue
		}
		var value any
		if len(da.Data) > 0 {
			v, err := at.Decode(bitstream.NewReader(da.Data))
			if err != nil {
				m.logger.Error("failed to deserialize dynamic attribute", "component", c.Name(), "attribute", da.Name, "error", err)
				continue
			}
			value = v
		}

		a := c.Attribute(da.Name)
		if a != nil && a.TypeName() != da.Type {
			c.RemoveAttribute(da.Name, scene.Disconnected)
			batch.AttributeRemoved(c, a)
			a = nil
		}

		added := false
		if a == nil {
			var err error
			if a, err = c.CreateAttribute(da.Type, da.Name, scene.Disconnected); err != nil {
				m.logger.Warn("could not create dynamic attribute", "component", c.Name(), "attribute", da.Name, "error", err)
				continue
			}
			added = true
		}
		if value != nil {
			if err := a.Set(value, scene.Disconnected); err != nil {
				m.logger.Error("failed to apply attribute", "attribute", da.Name, "error", err)
				continue
			}
		}

		if added {
			batch.AttributeAdded(a)
		} else {
			batch.AttributeChanged(a)
		}
	}
}

func (m *SyncManager) handleRemoveComponents(source string, msg *protocol.RemoveComponents) {
	id := scene.EntityID(msg.EntityID)
	state, user, ok := m.resolve(source, id, msg.MessageID())
	if !ok {
		return
	}
	e := m.scene.Entity(id)
	if e == nil {
		return
	}
	if !m.scene.AllowModifyEntity(user, e) {
		return
	}

	change := m.changeType()
	for _, ref := range msg.Components {
		if c := e.Component(ref.TypeID, ref.Name); c != nil {
			e.RemoveComponentFrom(c, change, scene.Origin(source))
		}
		if es := state.Entity(id); es != nil {
			es.RemoveComponent(syncstate.ComponentKey{TypeID: ref.TypeID, Name: ref.Name})
		}
	}
}

// collisionID picks the id a colliding entity is stored under. Ids some
// user still has to remove are skipped so the removal cannot hit the new
// entity.
func (m *SyncManager) collisionID() scene.EntityID {
	id := m.scene.NextFreeID()
	for m.removalPending(id) {
		id = m.scene.NextFreeIDFrom(id + 1)
	}
	return id
}

func (m *SyncManager) removalPending(id scene.EntityID) bool {
	for _, user := range m.host.UserConnections() {
		if state := user.SyncState(); state != nil && state.IsEntityRemoved(id) {
			return true
		}
	}
	return false
}

// handleEntityIDCollision moves an entity we created to the id the server
// stored it under.
func (m *SyncManager) handleEntityIDCollision(source string, msg *protocol.EntityIDCollision) {
	if m.host.IsServer() {
		m.logger.Warn("received entity id collision from a client, disregarding", "source", source)
		return
	}

	oldID, newID := scene.EntityID(msg.OldEntityID), scene.EntityID(msg.NewEntityID)
	m.logger.Debug("entity id collision", "old", oldID, "new", newID)

	from := oldID
	parked, wasParked := m.displaced[oldID]
	if wasParked {
		delete(m.displaced, oldID)
		from = parked
	}

	if m.scene.Entity(from) == nil {
		m.logger.Warn("entity of id collision no longer exists", "old", oldID, "new", newID)
		switch {
		case wasParked:
			m.serverState.MarkEntityRemoved(newID)
		case m.serverState.IsEntityRemoved(oldID):
			m.serverState.AckRemove(oldID)
			m.serverState.MarkEntityRemoved(newID)
		}
		return
	}

	if m.scene.Entity(newID) != nil {
		if err := m.vacate(newID); err != nil {
			m.logger.Warn("failed to change entity id", "old", oldID, "new", newID, "error", err)
			return
		}
	}
	if err := m.scene.ChangeEntityID(from, newID); err != nil {
		m.logger.Warn("failed to change entity id", "old", oldID, "new", newID, "error", err)
		return
	}

	if wasParked {
		m.resendEntity(m.scene.Entity(newID))
	} else {
		m.serverState.RenameEntity(oldID, newID)
	}
}

// vacate moves our entity at id out of the way. One the server never saw
// takes another free id. One already sent is parked on a local id, the
// server reports its new id with a collision of its own.
func (m *SyncManager) vacate(id scene.EntityID) error {
	if m.serverState.Entity(id) == nil {
		to := m.scene.NextFreeIDFrom(id + 1)
		if err := m.scene.ChangeEntityID(id, to); err != nil {
			return err
		}
		m.serverState.RenameEntity(id, to)
		m.logger.Debug("moved unsent entity", "old", id, "new", to)
		return nil
	}

	parked := m.scene.NextFreeLocalID()
	if err := m.scene.ChangeEntityID(id, parked); err != nil {
		return err
	}
	m.serverState.RemoveEntity(id)
	m.displaced[id] = parked
	m.logger.Debug("parked entity until the server resolves its id", "entity", id, "parked", parked)
	return nil
}

// resendEntity queues every component of e to be sent in full. Changes
// made while e was parked never reached the server.
func (m *SyncManager) resendEntity(e *scene.Entity) {
	es := m.serverState.GetOrCreateEntity(e.ID())
	for _, c := range e.Components() {
		if !c.NetworkSyncEnabled() {
			continue
		}
		key := keyOf(c)
		es.RemoveComponent(key)
		es.MarkComponentDirty(key)
	}
	m.serverState.MarkEntityDirty(e.ID())
}
