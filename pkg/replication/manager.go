package replication

import (
	"errors"
	"slices"
	"time"

	"github.com/QYUbit/scenesync/pkg/axlog"
	"github.com/QYUbit/scenesync/pkg/bitstream"
	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/scene"
	"github.com/QYUbit/scenesync/pkg/syncstate"
)

// SyncManager replicates one scene. All methods must be called from the
// goroutine that owns the scene.
type SyncManager struct {
	host   Host
	logger axlog.Logger
	config Config

	scene       *scene.Scene
	unsubscribe func()

	serverState *syncstate.SceneSyncState

	// displaced maps ids the server handed to another entity to the local
	// id our entity waits under until the server reports its new id.
	displaced map[scene.EntityID]scene.EntityID

	period      time.Duration
	accumulated time.Duration
}

func New(host Host, logger axlog.Logger, config Config) *SyncManager {
	if config.InterpolationSlack <= 0 {
		config.InterpolationSlack = DefaultConfig().InterpolationSlack
	}
	m := &SyncManager{
		host:        host,
		logger:      axlog.With(logger),
		config:      config,
		serverState: syncstate.NewSceneSyncState(),
		displaced:   make(map[scene.EntityID]scene.EntityID),
	}
	m.SetUpdatePeriod(config.UpdatePeriod)
	return m
}

// RegisterToScene starts observing s. A previously registered scene is
// released and the client side sync state is reset.
func (m *SyncManager) RegisterToScene(s *scene.Scene) {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
		m.serverState.Clear()
		clear(m.displaced)
	}
	m.scene = s
	if s == nil {
		m.logger.Error("no scene to replicate")
		return
	}
	m.unsubscribe = s.Subscribe(m)
}

func (m *SyncManager) Scene() *scene.Scene {
	return m.scene
}

// SetUpdatePeriod changes the diff interval. Periods below MinUpdatePeriod
// are raised to it.
func (m *SyncManager) SetUpdatePeriod(d time.Duration) {
	if d <= 0 {
		d = DefaultUpdatePeriod
	}
	m.period = max(d, MinUpdatePeriod)
}

func (m *SyncManager) UpdatePeriod() time.Duration {
	return m.period
}

// SetEchoChangesToSender toggles whether changes are replicated back to the
// user they came from.
func (m *SyncManager) SetEchoChangesToSender(echo bool) {
	m.config.EchoChangesToSender = echo
}

func (m *SyncManager) interpolationWindow() time.Duration {
	return time.Duration(float64(m.period) * m.config.InterpolationSlack)
}

// ServerSyncState is the client side record of what the server knows.
func (m *SyncManager) ServerSyncState() *syncstate.SceneSyncState {
	return m.serverState
}

// NewUserConnected gives user a sync state and queues every replicated
// entity for it.
func (m *SyncManager) NewUserConnected(user UserConnection) {
	if user.SyncState() == nil {
		user.SetSyncState(syncstate.NewSceneSyncState())
	}
	if m.scene == nil {
		m.logger.Warn("user connected without a registered scene", "user", user.ID())
		return
	}

	state := user.SyncState()
	for _, e := range m.scene.Entities() {
		if e.IsLocal() {
			break
		}
		state.MarkEntityDirty(e.ID())
	}
}

// UserDisconnected drops the sync state of user.
func (m *SyncManager) UserDisconnected(user UserConnection) {
	user.SetSyncState(nil)
}

// ==================================================================
// Change capture
// ==================================================================

func keyOf(c *scene.Component) syncstate.ComponentKey {
	return syncstate.ComponentKey{TypeID: c.TypeID(), Name: c.Name()}
}

// eachState calls fn with the sync state of every peer a change from origin
// has to reach.
func (m *SyncManager) eachState(origin scene.Origin, fn func(state *syncstate.SceneSyncState)) {
	if !m.host.IsServer() {
		fn(m.serverState)
		return
	}
	for _, user := range m.host.UserConnections() {
		if !m.config.EchoChangesToSender && !origin.IsLocal() && scene.Origin(user.ID()) == origin {
			continue
		}
		if state := user.SyncState(); state != nil {
			fn(state)
		}
	}
}

func (m *SyncManager) OnAttributeChanged(c *scene.Component, a *scene.Attribute, change scene.ChangeType, origin scene.Origin) {
	// A local edit on the client overrides a running remote interpolation.
	if !m.host.IsServer() && m.scene != nil && !m.scene.IsInterpolating() && origin.IsLocal() && a.Interpolate() {
		m.scene.EndAttributeInterpolation(a)
	}

	if change != scene.Replicate || !c.NetworkSyncEnabled() {
		return
	}
	e := c.Entity()
	if e == nil || e.IsLocal() {
		return
	}

	key := keyOf(c)
	dynamic := c.HasDynamicStructure()
	m.eachState(origin, func(state *syncstate.SceneSyncState) {
		if dynamic {
			state.MarkDynamicAttributeDirty(e.ID(), key, a.Name())
		} else {
			state.MarkAttributeDirty(e.ID(), key, a.Index())
		}
	})
}

// OnAttributeAdded marks the attribute like a change. The diff decides
// whether it is sent as a value or a deletion.
func (m *SyncManager) OnAttributeAdded(c *scene.Component, a *scene.Attribute, change scene.ChangeType, origin scene.Origin) {
	m.OnAttributeChanged(c, a, change, origin)
}

func (m *SyncManager) OnAttributeRemoved(c *scene.Component, a *scene.Attribute, change scene.ChangeType, origin scene.Origin) {
	m.OnAttributeChanged(c, a, change, origin)
}

func (m *SyncManager) OnComponentAdded(e *scene.Entity, c *scene.Component, change scene.ChangeType, origin scene.Origin) {
	if change != scene.Replicate || !c.NetworkSyncEnabled() || e.IsLocal() {
		return
	}
	key := keyOf(c)
	m.eachState(origin, func(state *syncstate.SceneSyncState) {
		state.MarkComponentDirty(e.ID(), key)
	})
}

func (m *SyncManager) OnComponentRemoved(e *scene.Entity, c *scene.Component, change scene.ChangeType, origin scene.Origin) {
	if change != scene.Replicate || !c.NetworkSyncEnabled() || e.IsLocal() {
		return
	}
	key := keyOf(c)
	m.eachState(origin, func(state *syncstate.SceneSyncState) {
		state.MarkComponentRemoved(e.ID(), key)
	})
}

func (m *SyncManager) OnEntityCreated(e *scene.Entity, change scene.ChangeType, origin scene.Origin) {
	if change != scene.Replicate || e.IsLocal() {
		return
	}
	m.eachState(origin, func(state *syncstate.SceneSyncState) {
		if state.MarkEntityDirty(e.ID()) {
			m.logger.Warn("entity created while queued for removal", "entity", e.ID())
		}
	})
}

func (m *SyncManager) OnEntityRemoved(e *scene.Entity, change scene.ChangeType, origin scene.Origin) {
	if change != scene.Replicate || e.IsLocal() {
		return
	}
	m.eachState(origin, func(state *syncstate.SceneSyncState) {
		state.MarkEntityRemoved(e.ID())
	})
}

// ==================================================================
// Periodic diff
// ==================================================================

// Update advances the sync clock by dt and diffs every peer once a period
// has elapsed. Several elapsed periods still produce a single pass.
func (m *SyncManager) Update(dt time.Duration) {
	m.accumulated += dt
	if m.accumulated < m.period {
		return
	}
	m.accumulated %= m.period
	m.Sync()
}

// Sync diffs every peer right away.
func (m *SyncManager) Sync() {
	if m.scene == nil {
		return
	}

	if m.host.IsServer() {
		for _, user := range m.host.UserConnections() {
			if state := user.SyncState(); state != nil {
				m.processSyncState(user, state)
			}
		}
		return
	}

	if server := m.host.ServerConnection(); server != nil {
		m.processSyncState(server, m.serverState)
	}
}

// send queues a single message. A failure is logged and the message is lost.
func (m *SyncManager) send(dest Sender, msg protocol.Message) {
	if err := dest.Send(msg); err != nil {
		m.logger.Error("failed to send message", "message", msg.MessageID(), "error", err)
	}
}

// sendDiff queues a message of a diff pass. A message that does not fit the
// wire format is logged and dropped. Any other failure is returned so the
// caller keeps its markers for the next pass.
func (m *SyncManager) sendDiff(dest Sender, msg protocol.Message) error {
	err := dest.Send(msg)
	if errors.Is(err, protocol.ErrFieldTooLarge) {
		m.logger.Error("dropping message that exceeds wire limits", "message", msg.MessageID(), "error", err)
		return nil
	}
	return err
}

func backlogged(dest Sender) bool {
	b, ok := dest.(Backlogger)
	return ok && b.Backlogged()
}

// processSyncState sends what state has marked. Markers are only cleared
// once the message carrying them was queued. The pass stops early when dest
// cannot take more and resumes on the next one.
func (m *SyncManager) processSyncState(dest Sender, state *syncstate.SceneSyncState) {
	for _, id := range state.DirtyEntities() {
		if backlogged(dest) {
			return
		}
		e := m.scene.Entity(id)
		if e == nil {
			state.AckDirty(id)
			continue
		}
		if err := m.syncEntity(dest, state, e); err != nil {
			m.logger.Debug("deferring sync to the next pass", "entity", id, "error", err)
			return
		}
		state.AckDirty(id)
	}

	for _, id := range state.RemovedEntities() {
		if backlogged(dest) {
			return
		}
		if err := m.sendDiff(dest, &protocol.RemoveEntity{EntityID: uint32(id)}); err != nil {
			m.logger.Debug("deferring removal to the next pass", "entity", id, "error", err)
			return
		}
		state.RemoveEntity(id)
	}
}

func (m *SyncManager) syncEntity(dest Sender, state *syncstate.SceneSyncState, e *scene.Entity) error {
	if state.IsEntityReplaced(e.ID()) {
		if err := m.sendDiff(dest, &protocol.RemoveEntity{EntityID: uint32(e.ID())}); err != nil {
			return err
		}
		state.AckReplaced(e.ID())
	}
	if es := state.Entity(e.ID()); es != nil {
		return m.sendComponentChanges(dest, es, e)
	}
	return m.sendCreateEntity(dest, state, e)
}

// componentData returns the full state of c, or false when it does not fit
// the wire format.
func (m *SyncManager) componentData(c *scene.Component) (protocol.ComponentData, bool) {
	w := bitstream.NewWriter()
	if err := c.SerializeToBinary(w); err != nil {
		m.logger.Error("failed to serialize component, skipping", "type", c.TypeName(), "name", c.Name(), "error", err)
		return protocol.ComponentData{}, false
	}
	if !m.fits(c, w.Len()) {
		return protocol.ComponentData{}, false
	}
	return protocol.ComponentData{TypeID: c.TypeID(), Name: c.Name(), Data: w.Bytes()}, true
}

func (m *SyncManager) fits(c *scene.Component, size int) bool {
	if len(c.Name()) > protocol.MaxNameLength {
		m.logger.Error("component name too long, skipping", "type", c.TypeName(), "length", len(c.Name()))
		return false
	}
	if size > protocol.MaxDataLength {
		m.logger.Error("component data too large, skipping", "type", c.TypeName(), "name", c.Name(), "size", size)
		return false
	}
	return true
}

// sendChunked sends items in messages of at most MaxListLength entries. ack
// runs for every item of a message once that message was queued.
func sendChunked[T any](m *SyncManager, dest Sender, items []T, build func([]T) protocol.Message, ack func(T)) error {
	for chunk := range slices.Chunk(items, protocol.MaxListLength) {
		if err := m.sendDiff(dest, build(chunk)); err != nil {
			return err
		}
		for _, item := range chunk {
			ack(item)
		}
	}
	return nil
}

// sendCreateEntity sends e in full. Components past the list limit are left
// dirty on the new record and follow as CreateComponents.
func (m *SyncManager) sendCreateEntity(dest Sender, state *syncstate.SceneSyncState, e *scene.Entity) error {
	msg := &protocol.CreateEntity{EntityID: uint32(e.ID())}
	var rest []syncstate.ComponentKey
	for _, c := range e.Components() {
		if !c.NetworkSyncEnabled() {
			continue
		}
		if len(msg.Components) == protocol.MaxListLength {
			rest = append(rest, keyOf(c))
			continue
		}
		if cd, ok := m.componentData(c); ok {
			msg.Components = append(msg.Components, cd)
		}
	}
	if err := m.sendDiff(dest, msg); err != nil {
		return err
	}

	es := state.GetOrCreateEntity(e.ID())
	for _, cd := range msg.Components {
		es.GetOrCreateComponent(syncstate.ComponentKey{TypeID: cd.TypeID, Name: cd.Name})
	}
	if len(rest) == 0 {
		return nil
	}
	for _, key := range rest {
		es.MarkComponentDirty(key)
	}
	return m.sendComponentChanges(dest, es, e)
}

// updateEntry is one static or dynamic entry of an UpdateComponents message.
type updateEntry struct {
	static  *protocol.ComponentData
	dynamic *protocol.DynamicComponentUpdate
	ack     func()
}

func (m *SyncManager) sendComponentChanges(dest Sender, es *syncstate.EntitySyncState, e *scene.Entity) error {
	id := uint32(e.ID())
	var creates []protocol.ComponentData
	var updates []updateEntry

	for _, key := range es.DirtyComponents() {
		c := e.Component(key.TypeID, key.Name)
		if c == nil || !c.NetworkSyncEnabled() {
			es.AckDirty(key)
			continue
		}

		cs := es.Component(key)
		switch {
		case cs == nil:
			if cd, ok := m.componentData(c); ok {
				creates = append(creates, cd)
			} else {
				es.AckDirty(key)
			}
		case !c.HasDynamicStructure():
			data, ok := m.staticDelta(c, cs)
			if !ok {
				es.AckDirty(key)
				continue
			}
			updates = append(updates, updateEntry{
				static: &protocol.ComponentData{TypeID: c.TypeID(), Name: c.Name(), Data: data},
				ack:    func() { es.AckDirty(key) },
			})
		default:
			pieces := m.dynamicDelta(c, cs)
			if len(pieces) == 0 {
				es.AckDirty(key)
				continue
			}
			for i := range pieces {
				upd := &pieces[i]
				ack := func() { es.AckDirty(key) }
				if i < len(pieces)-1 {
					ack = func() {
						for _, a := range upd.Attributes {
							cs.AckDynamic(a.Name)
						}
					}
				}
				updates = append(updates, updateEntry{dynamic: upd, ack: ack})
			}
		}
	}

	err := sendChunked(m, dest, creates, func(chunk []protocol.ComponentData) protocol.Message {
		return &protocol.CreateComponents{EntityID: id, Components: chunk}
	}, func(cd protocol.ComponentData) {
		key := syncstate.ComponentKey{TypeID: cd.TypeID, Name: cd.Name}
		es.GetOrCreateComponent(key)
		es.AckDirty(key)
	})
	if err != nil {
		return err
	}

	err = sendChunked(m, dest, updates, func(chunk []updateEntry) protocol.Message {
		msg := &protocol.UpdateComponents{EntityID: id}
		for _, u := range chunk {
			if u.static != nil {
				msg.Components = append(msg.Components, *u.static)
			} else {
				msg.DynamicComponents = append(msg.DynamicComponents, *u.dynamic)
			}
		}
		return msg
	}, func(u updateEntry) {
		u.ack()
	})
	if err != nil {
		return err
	}

	return sendChunked(m, dest, es.RemovedComponents(), func(chunk []syncstate.ComponentKey) protocol.Message {
		msg := &protocol.RemoveComponents{EntityID: id}
		for _, key := range chunk {
			msg.Components = append(msg.Components, protocol.ComponentRef{TypeID: key.TypeID, Name: key.Name})
		}
		return msg
	}, func(key syncstate.ComponentKey) {
		es.RemoveComponent(key)
		es.AckRemove(key)
	})
}

// staticDelta writes one changed bit per attribute, each set bit followed
// by the attribute value. It reports false when nothing changed.
func (m *SyncManager) staticDelta(c *scene.Component, cs *syncstate.ComponentSyncState) ([]byte, bool) {
	w := bitstream.NewWriter()
	changed := false
	for _, a := range c.Attributes() {
		if cs.IsStaticDirty(a.Index()) {
			w.WriteBit(true)
			a.ToBinary(w)
			changed = true
		} else {
			w.WriteBit(false)
		}
	}
	if !changed {
		return nil, false
	}
	return w.Bytes(), m.fits(c, w.Len())
}

// dynamicDelta lists the dirty attributes of a dynamic component, split
// into entries of at most MaxListLength attributes. An attribute that no
// longer exists is sent as a deletion entry. Deletions come first so the
// receiver never holds more attributes than the sender.
func (m *SyncManager) dynamicDelta(c *scene.Component, cs *syncstate.ComponentSyncState) []protocol.DynamicComponentUpdate {
	if !m.fits(c, 0) {
		return nil
	}

	var deletes, attrs []protocol.DynamicAttribute
	for _, name := range cs.DirtyDynamicNames() {
		if len(name) > protocol.MaxNameLength {
			m.logger.Error("attribute name too long, skipping", "component", c.Name(), "length", len(name))
			continue
		}
		a := c.Attribute(name)
		if a == nil {
			deletes = append(deletes, protocol.DynamicAttribute{Name: name})
			continue
		}

		w := bitstream.NewWriter()
		a.ToBinary(w)
		if w.Len() > protocol.MaxDataLength {
			m.logger.Error("attribute data too large, skipping", "component", c.Name(), "attribute", name, "size", w.Len())
			continue
		}
		attrs = append(attrs, protocol.DynamicAttribute{
			Name: name,
			Type: a.TypeName(),
			Data: w.Bytes(),
		})
	}

	var pieces []protocol.DynamicComponentUpdate
	for chunk := range slices.Chunk(append(deletes, attrs...), protocol.MaxListLength) {
		pieces = append(pieces, protocol.DynamicComponentUpdate{TypeID: c.TypeID(), Name: c.Name(), Attributes: chunk})
	}
	return pieces
}
