package scene

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/QYUbit/scenesync/pkg/axlog"
)

// Scene owns all entities of one node. It is not safe for concurrent use;
// callers serialize access on a single goroutine.
type Scene struct {
	registry *Registry
	logger   axlog.Logger

	entities map[EntityID]*Entity
	nextID   EntityID
	nextLoc  EntityID

	observers    []observerEntry
	nextObserver uint64

	policy ModifyPolicy

	interpolations []*interpolation
	interpolating  bool
}

func New(registry *Registry, logger axlog.Logger) *Scene {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Scene{
		registry: registry,
		logger:   axlog.With(logger),
		entities: make(map[EntityID]*Entity),
		nextID:   1,
		nextLoc:  LocalEntityFlag | 1,
	}
}

func (s *Scene) Registry() *Registry {
	return s.registry
}

func (s *Scene) Entity(id EntityID) *Entity {
	return s.entities[id]
}

// Entities returns all entities in ascending id order.
func (s *Scene) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entity) int {
		return cmp.Compare(a.id, b.id)
	})
	return out
}

func (s *Scene) EntityCount() int {
	return len(s.entities)
}

// NextFreeID returns an unused replicated entity id. The id is not reserved.
func (s *Scene) NextFreeID() EntityID {
	return s.NextFreeIDFrom(s.nextID)
}

// NextFreeIDFrom returns the first unused replicated id starting at id.
func (s *Scene) NextFreeIDFrom(id EntityID) EntityID {
	for {
		if id == 0 || id.IsLocal() {
			id = 1
		}
		if _, ok := s.entities[id]; !ok {
			return id
		}
		id++
	}
}

// NextFreeLocalID returns an unused local entity id.
func (s *Scene) NextFreeLocalID() EntityID {
	id := s.nextLoc
	for {
		if !id.IsLocal() || id == LocalEntityFlag {
			id = LocalEntityFlag | 1
		}
		if _, ok := s.entities[id]; !ok {
			return id
		}
		id++
	}
}

// CreateEntity adds an empty entity. An id of 0 picks the next free
// replicated id.
func (s *Scene) CreateEntity(id EntityID, change ChangeType) (*Entity, error) {
	if id == 0 {
		id = s.NextFreeID()
	}
	if _, ok := s.entities[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrEntityExists, id)
	}

	e := &Entity{id: id, scene: s}
	s.entities[id] = e
	if id.IsLocal() {
		s.nextLoc = id + 1
	} else {
		s.nextID = id + 1
	}

	s.emitEntityCreated(e, change, LocalOrigin)
	return e, nil
}

func (s *Scene) CreateLocalEntity(change ChangeType) (*Entity, error) {
	return s.CreateEntity(s.NextFreeLocalID(), change)
}

// RemoveEntity deletes an entity. Observers are notified before it is
// removed.
func (s *Scene) RemoveEntity(id EntityID, change ChangeType) bool {
	return s.RemoveEntityFrom(id, change, LocalOrigin)
}

// RemoveEntityFrom is RemoveEntity on behalf of a remote origin.
func (s *Scene) RemoveEntityFrom(id EntityID, change ChangeType, origin Origin) bool {
	e, ok := s.entities[id]
	if !ok {
		return false
	}

	for _, c := range e.components {
		for _, a := range c.attributes {
			s.EndAttributeInterpolation(a)
		}
	}
	s.emitEntityRemoved(e, change, origin)

	delete(s.entities, id)
	e.scene = nil
	return true
}

// ChangeEntityID moves an entity to a new id without notifying observers.
func (s *Scene) ChangeEntityID(oldID, newID EntityID) error {
	e, ok := s.entities[oldID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrEntityNotFound, oldID)
	}
	if _, ok := s.entities[newID]; ok {
		return fmt.Errorf("%w: %d", ErrEntityExists, newID)
	}
	delete(s.entities, oldID)
	e.id = newID
	s.entities[newID] = e
	return nil
}

// Subscribe registers o for change notifications and returns a function
// that removes it again.
func (s *Scene) Subscribe(o Observer) func() {
	s.nextObserver++
	id := s.nextObserver
	s.observers = append(s.observers, observerEntry{id: id, observer: o})

	return func() {
		s.observers = slices.DeleteFunc(s.observers, func(e observerEntry) bool {
			return e.id == id
		})
	}
}

func (s *Scene) SetModifyPolicy(p ModifyPolicy) {
	s.policy = p
}

// AllowModifyEntity asks the modify policy whether user may change e. A
// nil e asks about creating a new entity. Without a policy everything is
// allowed.
func (s *Scene) AllowModifyEntity(user Principal, e *Entity) bool {
	if s.policy == nil {
		return true
	}
	return s.policy(user, e)
}

// ==================================================================
// Signals
// ==================================================================

func (s *Scene) each(change ChangeType, fn func(o Observer, change ChangeType)) {
	change = change.Resolve()
	if change == Disconnected {
		return
	}
	observers := slices.Clone(s.observers)
	for _, entry := range observers {
		fn(entry.observer, change)
	}
}

func (s *Scene) emitAttributeChanged(c *Component, a *Attribute, change ChangeType, origin Origin) {
	s.each(change, func(o Observer, change ChangeType) {
		o.OnAttributeChanged(c, a, change, origin)
	})
}

func (s *Scene) emitAttributeAdded(c *Component, a *Attribute, change ChangeType, origin Origin) {
	s.each(change, func(o Observer, change ChangeType) {
		o.OnAttributeAdded(c, a, change, origin)
	})
}

func (s *Scene) emitAttributeRemoved(c *Component, a *Attribute, change ChangeType, origin Origin) {
	s.each(change, func(o Observer, change ChangeType) {
		o.OnAttributeRemoved(c, a, change, origin)
	})
}

func (s *Scene) emitComponentAdded(e *Entity, c *Component, change ChangeType, origin Origin) {
	s.each(change, func(o Observer, change ChangeType) {
		o.OnComponentAdded(e, c, change, origin)
	})
}

func (s *Scene) emitComponentRemoved(e *Entity, c *Component, change ChangeType, origin Origin) {
	s.each(change, func(o Observer, change ChangeType) {
		o.OnComponentRemoved(e, c, change, origin)
	})
}

func (s *Scene) emitEntityCreated(e *Entity, change ChangeType, origin Origin) {
	s.each(change, func(o Observer, change ChangeType) {
		o.OnEntityCreated(e, change, origin)
	})
}

func (s *Scene) emitEntityRemoved(e *Entity, change ChangeType, origin Origin) {
	s.each(change, func(o Observer, change ChangeType) {
		o.OnEntityRemoved(e, change, origin)
	})
}

func (s *Scene) emitActionTriggered(e *Entity, action string, params []string, t ExecType) {
	observers := slices.Clone(s.observers)
	for _, entry := range observers {
		entry.observer.OnActionTriggered(e, action, params, t)
	}
}
