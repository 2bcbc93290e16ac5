package scene

import "fmt"

// Action is one invocation of a named entity action.
type Action struct {
	Name   string
	Params []string

	// Sender is the connection the action arrived from, empty when it was
	// triggered on this node.
	Sender Origin
}

type ActionHandler func(a Action)

// Entity is a node of the scene owning an ordered list of components.
type Entity struct {
	id         EntityID
	scene      *Scene
	components []*Component
	actions    map[string][]ActionHandler
}

func (e *Entity) ID() EntityID {
	return e.id
}

func (e *Entity) IsLocal() bool {
	return e.id.IsLocal()
}

// Scene returns the owning scene, or nil once the entity was removed.
func (e *Entity) Scene() *Scene {
	return e.scene
}

func (e *Entity) Components() []*Component {
	out := make([]*Component, len(e.components))
	copy(out, e.components)
	return out
}

func (e *Entity) Component(typeID uint32, name string) *Component {
	for _, c := range e.components {
		if c.ctype.ID == typeID && c.name == name {
			return c
		}
	}
	return nil
}

// ComponentByTypeName looks up a component by its registered type name.
func (e *Entity) ComponentByTypeName(typeName, name string) *Component {
	if e.scene == nil {
		return nil
	}
	id, ok := e.scene.registry.ComponentTypeID(typeName)
	if !ok {
		return nil
	}
	return e.Component(id, name)
}

// CreateComponent attaches a new component of the given type.
func (e *Entity) CreateComponent(typeID uint32, name string, change ChangeType) (*Component, error) {
	if e.scene == nil {
		return nil, ErrEntityNotFound
	}
	if e.Component(typeID, name) != nil {
		return nil, fmt.Errorf("%w: %s %q on entity %d", ErrComponentExists, e.scene.registry.ComponentTypeName(typeID), name, e.id)
	}
	ct, ok := e.scene.registry.ComponentType(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownComponentType, typeID)
	}

	c := newComponent(e.scene.registry, ct, name)
	c.entity = e
	e.components = append(e.components, c)

	e.scene.emitComponentAdded(e, c, change, LocalOrigin)
	return c, nil
}

// GetOrCreateComponent returns the existing component or creates it. The
// boolean reports whether the component was created.
func (e *Entity) GetOrCreateComponent(typeID uint32, name string, change ChangeType) (*Component, bool, error) {
	if c := e.Component(typeID, name); c != nil {
		return c, false, nil
	}
	c, err := e.CreateComponent(typeID, name, change)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// RemoveComponent detaches c. Observers are notified while c is still
// attached.
func (e *Entity) RemoveComponent(c *Component, change ChangeType) bool {
	return e.RemoveComponentFrom(c, change, LocalOrigin)
}

// RemoveComponentFrom is RemoveComponent on behalf of a remote origin.
func (e *Entity) RemoveComponentFrom(c *Component, change ChangeType, origin Origin) bool {
	idx := -1
	for i, x := range e.components {
		if x == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	if e.scene != nil {
		for _, a := range c.attributes {
			e.scene.EndAttributeInterpolation(a)
		}
		e.scene.emitComponentRemoved(e, c, change, origin)
	}

	e.components = append(e.components[:idx], e.components[idx+1:]...)
	c.entity = nil
	return true
}

// OnAction registers a handler for the named action.
func (e *Entity) OnAction(name string, h ActionHandler) {
	if e.actions == nil {
		e.actions = make(map[string][]ActionHandler)
	}
	e.actions[name] = append(e.actions[name], h)
}

// RunAction invokes the local handlers of a.Name. It reports whether any
// handler was registered.
func (e *Entity) RunAction(a Action) bool {
	handlers := e.actions[a.Name]
	for _, h := range handlers {
		h(a)
	}
	return len(handlers) > 0
}

// Exec triggers an action. Local runs the handlers on this node, Server and
// Peers are left to observers that route the action over the network.
func (e *Entity) Exec(t ExecType, action string, params ...string) {
	if t.Has(ExecLocal) {
		e.RunAction(Action{Name: action, Params: params})
	}
	if e.scene != nil && (t.Has(ExecServer) || t.Has(ExecPeers)) {
		e.scene.emitActionTriggered(e, action, params, t)
	}
}
