package scene

// Observer receives scene change notifications. The change type passed is
// already resolved, so Default never reaches an observer, and Disconnected
// changes are never reported.
type Observer interface {
	OnAttributeChanged(c *Component, a *Attribute, change ChangeType, origin Origin)
	OnAttributeAdded(c *Component, a *Attribute, change ChangeType, origin Origin)
	OnAttributeRemoved(c *Component, a *Attribute, change ChangeType, origin Origin)
	OnComponentAdded(e *Entity, c *Component, change ChangeType, origin Origin)
	OnComponentRemoved(e *Entity, c *Component, change ChangeType, origin Origin)
	OnEntityCreated(e *Entity, change ChangeType, origin Origin)
	OnEntityRemoved(e *Entity, change ChangeType, origin Origin)
	OnActionTriggered(e *Entity, action string, params []string, t ExecType)
}

// BaseObserver implements Observer with no-ops. Embed it to handle a
// subset of the notifications.
type BaseObserver struct{}

func (BaseObserver) OnAttributeChanged(*Component, *Attribute, ChangeType, Origin) {}
func (BaseObserver) OnAttributeAdded(*Component, *Attribute, ChangeType, Origin)   {}
func (BaseObserver) OnAttributeRemoved(*Component, *Attribute, ChangeType, Origin) {}
func (BaseObserver) OnComponentAdded(*Entity, *Component, ChangeType, Origin)      {}
func (BaseObserver) OnComponentRemoved(*Entity, *Component, ChangeType, Origin)    {}
func (BaseObserver) OnEntityCreated(*Entity, ChangeType, Origin)                   {}
func (BaseObserver) OnEntityRemoved(*Entity, ChangeType, Origin)                   {}
func (BaseObserver) OnActionTriggered(*Entity, string, []string, ExecType)         {}

type observerEntry struct {
	id       uint64
	observer Observer
}
