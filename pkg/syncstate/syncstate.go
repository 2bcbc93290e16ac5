// Package syncstate tracks, per connection, what a peer is known to have
// received and what still has to be sent to it.
package syncstate

import (
	"cmp"
	"slices"

	"github.com/QYUbit/scenesync/pkg/scene"
)

// ComponentKey identifies a component within an entity.
type ComponentKey struct {
	TypeID uint32
	Name   string
}

func compareKeys(a, b ComponentKey) int {
	if c := cmp.Compare(a.TypeID, b.TypeID); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// ComponentSyncState exists once a component was fully sent to the peer.
// Fixed components track dirty attributes by position, dynamic ones by
// name.
type ComponentSyncState struct {
	DirtyStatic  map[int]struct{}
	DirtyDynamic map[string]struct{}
}

func newComponentSyncState() *ComponentSyncState {
	return &ComponentSyncState{
		DirtyStatic:  make(map[int]struct{}),
		DirtyDynamic: make(map[string]struct{}),
	}
}

func (c *ComponentSyncState) IsStaticDirty(index int) bool {
	_, ok := c.DirtyStatic[index]
	return ok
}

// DirtyDynamicNames returns the dirty dynamic attribute names sorted.
func (c *ComponentSyncState) DirtyDynamicNames() []string {
	out := make([]string, 0, len(c.DirtyDynamic))
	for name := range c.DirtyDynamic {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// AckDynamic clears the marker of one dynamic attribute.
func (c *ComponentSyncState) AckDynamic(name string) {
	delete(c.DirtyDynamic, name)
}

func (c *ComponentSyncState) Ack() {
	clear(c.DirtyStatic)
	clear(c.DirtyDynamic)
}

// EntitySyncState exists once an entity was created on the peer.
type EntitySyncState struct {
	components map[ComponentKey]*ComponentSyncState
	dirty      map[ComponentKey]struct{}
	removed    map[ComponentKey]struct{}
}

func newEntitySyncState() *EntitySyncState {
	return &EntitySyncState{
		components: make(map[ComponentKey]*ComponentSyncState),
		dirty:      make(map[ComponentKey]struct{}),
		removed:    make(map[ComponentKey]struct{}),
	}
}

func (e *EntitySyncState) Component(key ComponentKey) *ComponentSyncState {
	return e.components[key]
}

func (e *EntitySyncState) GetOrCreateComponent(key ComponentKey) *ComponentSyncState {
	c, ok := e.components[key]
	if !ok {
		c = newComponentSyncState()
		e.components[key] = c
	}
	return c
}

func (e *EntitySyncState) RemoveComponent(key ComponentKey) {
	delete(e.components, key)
}

func (e *EntitySyncState) ComponentCount() int {
	return len(e.components)
}

// MarkComponentDirty records a component change. Dirty wins over a pending
// removal.
func (e *EntitySyncState) MarkComponentDirty(key ComponentKey) {
	delete(e.removed, key)
	e.dirty[key] = struct{}{}
}

// MarkComponentRemoved records a component removal. Removal wins over
// pending changes.
func (e *EntitySyncState) MarkComponentRemoved(key ComponentKey) {
	delete(e.dirty, key)
	e.removed[key] = struct{}{}
}

func (e *EntitySyncState) IsComponentDirty(key ComponentKey) bool {
	_, ok := e.dirty[key]
	return ok
}

func (e *EntitySyncState) DirtyComponents() []ComponentKey {
	return sortedKeys(e.dirty)
}

func (e *EntitySyncState) RemovedComponents() []ComponentKey {
	return sortedKeys(e.removed)
}

// AckDirty clears the dirty marker of key and its attribute markers.
func (e *EntitySyncState) AckDirty(key ComponentKey) {
	delete(e.dirty, key)
	if c := e.components[key]; c != nil {
		c.Ack()
	}
}

func (e *EntitySyncState) AckRemove(key ComponentKey) {
	delete(e.removed, key)
}

// AckAll clears every component marker of the entity.
func (e *EntitySyncState) AckAll() {
	for key := range e.dirty {
		e.AckDirty(key)
	}
	clear(e.removed)
}

func sortedKeys(m map[ComponentKey]struct{}) []ComponentKey {
	out := make([]ComponentKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.SortFunc(out, compareKeys)
	return out
}

// SceneSyncState is the replication state of one peer.
type SceneSyncState struct {
	entities map[scene.EntityID]*EntitySyncState
	dirty    map[scene.EntityID]struct{}
	removed  map[scene.EntityID]struct{}

	// replaced holds ids the peer still knows as an older entity. They are
	// removed on the peer before being created again.
	replaced map[scene.EntityID]struct{}
}

func NewSceneSyncState() *SceneSyncState {
	return &SceneSyncState{
		entities: make(map[scene.EntityID]*EntitySyncState),
		dirty:    make(map[scene.EntityID]struct{}),
		removed:  make(map[scene.EntityID]struct{}),
		replaced: make(map[scene.EntityID]struct{}),
	}
}

// Entity returns the entity record, or nil when the entity was never sent.
func (s *SceneSyncState) Entity(id scene.EntityID) *EntitySyncState {
	return s.entities[id]
}

func (s *SceneSyncState) GetOrCreateEntity(id scene.EntityID) *EntitySyncState {
	e, ok := s.entities[id]
	if !ok {
		e = newEntitySyncState()
		s.entities[id] = e
	}
	return e
}

// RemoveEntity drops the record and every marker of id.
func (s *SceneSyncState) RemoveEntity(id scene.EntityID) {
	delete(s.entities, id)
	delete(s.dirty, id)
	delete(s.removed, id)
	delete(s.replaced, id)
}

func (s *SceneSyncState) EntityCount() int {
	return len(s.entities)
}

// MarkEntityDirty flags id for the next diff. It reports whether the id was
// pending removal, which the caller should treat as a conflict. A record
// left over from the removed entity is dropped and the id is marked as
// replaced, so the new entity is sent in full.
func (s *SceneSyncState) MarkEntityDirty(id scene.EntityID) bool {
	_, wasRemoved := s.removed[id]
	if wasRemoved {
		delete(s.removed, id)
		if _, ok := s.entities[id]; ok {
			delete(s.entities, id)
			s.replaced[id] = struct{}{}
		}
	}
	s.dirty[id] = struct{}{}
	return wasRemoved
}

func (s *SceneSyncState) MarkEntityRemoved(id scene.EntityID) {
	delete(s.dirty, id)
	delete(s.replaced, id)
	s.removed[id] = struct{}{}
}

// IsEntityReplaced reports whether the peer has to drop its copy of id
// before the entity is created again.
func (s *SceneSyncState) IsEntityReplaced(id scene.EntityID) bool {
	_, ok := s.replaced[id]
	return ok
}

func (s *SceneSyncState) AckReplaced(id scene.EntityID) {
	delete(s.replaced, id)
}

// MarkComponentDirty flags a component change. The entity record is only
// touched when it exists, otherwise the entity is created in full.
func (s *SceneSyncState) MarkComponentDirty(id scene.EntityID, key ComponentKey) {
	s.MarkEntityDirty(id)
	if e := s.entities[id]; e != nil {
		e.MarkComponentDirty(key)
	}
}

func (s *SceneSyncState) MarkComponentRemoved(id scene.EntityID, key ComponentKey) {
	s.MarkEntityDirty(id)
	if e := s.entities[id]; e != nil {
		e.MarkComponentRemoved(key)
	}
}

// MarkAttributeDirty flags a fixed attribute by its position.
func (s *SceneSyncState) MarkAttributeDirty(id scene.EntityID, key ComponentKey, index int) {
	s.MarkEntityDirty(id)
	e := s.entities[id]
	if e == nil {
		return
	}
	e.MarkComponentDirty(key)
	if c := e.components[key]; c != nil {
		c.DirtyStatic[index] = struct{}{}
	}
}

// MarkDynamicAttributeDirty flags a dynamic attribute by name.
func (s *SceneSyncState) MarkDynamicAttributeDirty(id scene.EntityID, key ComponentKey, name string) {
	s.MarkEntityDirty(id)
	e := s.entities[id]
	if e == nil {
		return
	}
	e.MarkComponentDirty(key)
	if c := e.components[key]; c != nil {
		c.DirtyDynamic[name] = struct{}{}
	}
}

func (s *SceneSyncState) IsEntityDirty(id scene.EntityID) bool {
	_, ok := s.dirty[id]
	return ok
}

func (s *SceneSyncState) IsEntityRemoved(id scene.EntityID) bool {
	_, ok := s.removed[id]
	return ok
}

// DirtyEntities returns the dirty ids in ascending order.
func (s *SceneSyncState) DirtyEntities() []scene.EntityID {
	return sortedIDs(s.dirty)
}

// RemovedEntities returns the ids pending removal in ascending order.
func (s *SceneSyncState) RemovedEntities() []scene.EntityID {
	return sortedIDs(s.removed)
}

// AckDirty clears the dirty marker of id and of all its components.
func (s *SceneSyncState) AckDirty(id scene.EntityID) {
	delete(s.dirty, id)
	if e := s.entities[id]; e != nil {
		e.AckAll()
	}
}

func (s *SceneSyncState) AckRemove(id scene.EntityID) {
	delete(s.removed, id)
}

// RenameEntity moves the record and markers of oldID to newID.
func (s *SceneSyncState) RenameEntity(oldID, newID scene.EntityID) {
	if e, ok := s.entities[oldID]; ok {
		delete(s.entities, oldID)
		s.entities[newID] = e
	}
	if _, ok := s.dirty[oldID]; ok {
		delete(s.dirty, oldID)
		s.dirty[newID] = struct{}{}
	}
	if _, ok := s.removed[oldID]; ok {
		delete(s.removed, oldID)
		s.removed[newID] = struct{}{}
	}
	if _, ok := s.replaced[oldID]; ok {
		delete(s.replaced, oldID)
		s.replaced[newID] = struct{}{}
	}
}

// Clear forgets everything known about the peer.
func (s *SceneSyncState) Clear() {
	clear(s.entities)
	clear(s.dirty)
	clear(s.removed)
	clear(s.replaced)
}

func sortedIDs(m map[scene.EntityID]struct{}) []scene.EntityID {
	out := make([]scene.EntityID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
