package scene

type batchKind uint8

const (
	batchEntityCreated batchKind = iota
	batchComponentAdded
	batchComponentChanged
	batchAttributeChanged
	batchAttributeAdded
	batchAttributeRemoved
)

type batchOp struct {
	kind      batchKind
	entity    *Entity
	component *Component
	attribute *Attribute
}

// Batch collects notifications for mutations applied with Disconnected and
// emits them together, so observers never see a half applied update.
type Batch struct {
	scene  *Scene
	change ChangeType
	origin Origin
	ops    []batchOp
}

// NewBatch returns a batch whose notifications carry change and origin.
func (s *Scene) NewBatch(change ChangeType, origin Origin) *Batch {
	return &Batch{scene: s, change: change, origin: origin}
}

func (b *Batch) EntityCreated(e *Entity) {
	b.ops = append(b.ops, batchOp{kind: batchEntityCreated, entity: e})
}

func (b *Batch) ComponentAdded(c *Component) {
	b.ops = append(b.ops, batchOp{kind: batchComponentAdded, component: c})
}

// ComponentChanged records a change of every attribute of c.
func (b *Batch) ComponentChanged(c *Component) {
	b.ops = append(b.ops, batchOp{kind: batchComponentChanged, component: c})
}

func (b *Batch) AttributeChanged(a *Attribute) {
	b.ops = append(b.ops, batchOp{kind: batchAttributeChanged, component: a.owner, attribute: a})
}

func (b *Batch) AttributeAdded(a *Attribute) {
	b.ops = append(b.ops, batchOp{kind: batchAttributeAdded, component: a.owner, attribute: a})
}

// AttributeRemoved records the removal of a from c. a is usually already
// detached when this is called.
func (b *Batch) AttributeRemoved(c *Component, a *Attribute) {
	b.ops = append(b.ops, batchOp{kind: batchAttributeRemoved, component: c, attribute: a})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

// Flush emits the collected notifications in order and empties the batch.
// Entries whose target was removed in the meantime are skipped.
func (b *Batch) Flush() {
	ops := b.ops
	b.ops = nil

	s := b.scene
	for _, op := range ops {
		switch op.kind {
		case batchEntityCreated:
			if op.entity.scene == s {
				s.emitEntityCreated(op.entity, b.change, b.origin)
			}
		case batchComponentAdded:
			if e := op.component.entity; e != nil && e.scene == s {
				s.emitComponentAdded(e, op.component, b.change, b.origin)
			}
		case batchComponentChanged:
			if e := op.component.entity; e != nil && e.scene == s {
				for _, a := range op.component.attributes {
					s.emitAttributeChanged(op.component, a, b.change, b.origin)
				}
			}
		case batchAttributeChanged:
			if op.attribute.owner == op.component && op.component != nil && op.component.scene() == s {
				s.emitAttributeChanged(op.component, op.attribute, b.change, b.origin)
			}
		case batchAttributeAdded:
			if op.attribute.owner == op.component && op.component != nil && op.component.scene() == s {
				s.emitAttributeAdded(op.component, op.attribute, b.change, b.origin)
			}
		case batchAttributeRemoved:
			if op.component != nil && op.component.scene() == s {
				s.emitAttributeRemoved(op.component, op.attribute, b.change, b.origin)
			}
		}
	}
}
