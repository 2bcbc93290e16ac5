package syncstate

import (
	"testing"

	"github.com/QYUbit/scenesync/pkg/scene"
)

var (
	pos  = ComponentKey{TypeID: 7, Name: "Pos"}
	tags = ComponentKey{TypeID: 25, Name: "Tags"}
)

// TestEntityMarkers tests that dirty and removed markers exclude each other
func TestEntityMarkers(t *testing.T) {
	s := NewSceneSyncState()

	if s.MarkEntityDirty(3) {
		t.Error("Expected no conflict for a fresh id")
	}
	s.MarkEntityRemoved(3)
	if s.IsEntityDirty(3) || !s.IsEntityRemoved(3) {
		t.Error("Expected removal to clear the dirty marker")
	}
	if !s.MarkEntityDirty(3) {
		t.Error("Expected conflict when dirtying a removed id")
	}
	if s.IsEntityRemoved(3) {
		t.Error("Expected dirty to clear the removed marker")
	}

	s.MarkEntityDirty(1)
	s.MarkEntityDirty(2)
	got := s.DirtyEntities()
	want := []scene.EntityID{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
		}
	}
}

// TestAttributeMarkers tests attribute markers and acknowledgement
func TestAttributeMarkers(t *testing.T) {
	s := NewSceneSyncState()

	// no record yet, the entity will be sent in full
	s.MarkAttributeDirty(5, pos, 1)
	if !s.IsEntityDirty(5) || s.Entity(5) != nil {
		t.Error("Expected only the entity marker without a record")
	}

	e := s.GetOrCreateEntity(5)
	e.GetOrCreateComponent(pos)
	e.GetOrCreateComponent(tags)
	s.AckDirty(5)

	s.MarkAttributeDirty(5, pos, 1)
	s.MarkDynamicAttributeDirty(5, tags, "b")
	s.MarkDynamicAttributeDirty(5, tags, "a")

	if !e.IsComponentDirty(pos) || !e.Component(pos).IsStaticDirty(1) {
		t.Error("Expected attribute 1 of Pos to be dirty")
	}
	if e.Component(pos).IsStaticDirty(0) {
		t.Error("Expected attribute 0 of Pos to be clean")
	}
	names := e.Component(tags).DirtyDynamicNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Expected [a b], got %v", names)
	}

	keys := e.DirtyComponents()
	if len(keys) != 2 || keys[0] != pos || keys[1] != tags {
		t.Errorf("Expected [Pos Tags], got %v", keys)
	}

	s.AckDirty(5)
	s.AckDirty(5)
	if s.IsEntityDirty(5) || e.IsComponentDirty(pos) || e.Component(pos).IsStaticDirty(1) {
		t.Error("Expected everything to be clean after ack")
	}
	if len(e.Component(tags).DirtyDynamicNames()) != 0 {
		t.Error("Expected dynamic markers to be cleared")
	}
}

// TestComponentRemoval tests component removal markers
func TestComponentRemoval(t *testing.T) {
	s := NewSceneSyncState()
	e := s.GetOrCreateEntity(1)
	e.GetOrCreateComponent(pos)

	s.MarkComponentDirty(1, pos)
	s.MarkComponentRemoved(1, pos)

	if e.IsComponentDirty(pos) {
		t.Error("Expected removal to win over pending changes")
	}
	if got := e.RemovedComponents(); len(got) != 1 || got[0] != pos {
		t.Errorf("Expected [Pos] removed, got %v", got)
	}

	e.AckRemove(pos)
	e.RemoveComponent(pos)
	if e.ComponentCount() != 0 || len(e.RemovedComponents()) != 0 {
		t.Error("Expected component to be forgotten")
	}
}

// TestRenameEntity tests moving a record to a new id
func TestRenameEntity(t *testing.T) {
	s := NewSceneSyncState()
	e := s.GetOrCreateEntity(10)
	s.MarkEntityDirty(10)

	s.RenameEntity(10, 11)

	if s.Entity(10) != nil || s.Entity(11) != e {
		t.Error("Expected record to move to 11")
	}
	if s.IsEntityDirty(10) || !s.IsEntityDirty(11) {
		t.Error("Expected dirty marker to move to 11")
	}

	s.RemoveEntity(11)
	if s.EntityCount() != 0 || s.IsEntityDirty(11) {
		t.Error("Expected RemoveEntity to drop record and markers")
	}

	s.GetOrCreateEntity(1)
	s.MarkEntityRemoved(2)
	s.Clear()
	if s.EntityCount() != 0 || len(s.RemovedEntities()) != 0 {
		t.Error("Expected Clear to forget everything")
	}
}

// TestEntityReplaced tests recreating an id that is pending removal
func TestEntityReplaced(t *testing.T) {
	s := NewSceneSyncState()
	e := s.GetOrCreateEntity(4)
	e.GetOrCreateComponent(pos)

	s.MarkEntityRemoved(4)
	if !s.MarkEntityDirty(4) {
		t.Error("Expected conflict when dirtying a removed id")
	}
	if s.Entity(4) != nil {
		t.Error("Expected the stale record to be dropped")
	}
	if !s.IsEntityReplaced(4) || !s.IsEntityDirty(4) {
		t.Error("Expected id 4 to be dirty and replaced")
	}

	s.AckReplaced(4)
	if s.IsEntityReplaced(4) {
		t.Error("Expected replaced marker to be cleared")
	}

	// never sent, nothing to replace on the peer
	s.MarkEntityRemoved(9)
	s.MarkEntityDirty(9)
	if s.IsEntityReplaced(9) {
		t.Error("Expected no replaced marker without a record")
	}

	s.GetOrCreateEntity(6)
	s.MarkEntityRemoved(6)
	s.MarkEntityDirty(6)
	s.MarkEntityRemoved(6)
	if s.IsEntityReplaced(6) || !s.IsEntityRemoved(6) {
		t.Error("Expected a second removal to win")
	}
}
