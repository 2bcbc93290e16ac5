package protocol

import (
	"errors"
	"strings"
	"testing"
)

// TestCreateEntityLayout tests the exact byte layout of CreateEntity
func TestCreateEntityLayout(t *testing.T) {
	msg := &CreateEntity{
		EntityID: 42,
		Components: []ComponentData{
			{TypeID: 7, Name: "Pos", Data: []byte{0xAA, 0xBB}},
		},
	}

	data, err := msg.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	want := []byte{
		42, 0, 0, 0, // entityID
		1,          // component count
		7, 0, 0, 0, // type hash
		3, 'P', 'o', 's', // name
		2, 0, 0xAA, 0xBB, // data
	}
	if string(data) != string(want) {
		t.Fatalf("Expected %v, got %v", want, data)
	}
}

// TestDecodeDispatch tests that Decode returns the concrete message type
func TestDecodeDispatch(t *testing.T) {
	in := &UpdateComponents{
		EntityID:   9,
		Components: []ComponentData{{TypeID: 1, Name: "", Data: []byte{0x02}}},
		DynamicComponents: []DynamicComponentUpdate{{
			TypeID: 25,
			Name:   "bag",
			Attributes: []DynamicAttribute{
				{Name: "hp", Type: "int", Data: []byte{1, 0, 0, 0}},
				{Name: "gone"},
			},
		}},
	}

	packet, err := EncodePacket(in)
	if err != nil {
		t.Fatal(err)
	}

	id, payload, err := DecodePacket(packet)
	if err != nil {
		t.Fatal(err)
	}
	if id != UpdateComponentsID {
		t.Fatalf("Expected id %d, got %d", UpdateComponentsID, id)
	}

	msg, err := Decode(id, payload)
	if err != nil {
		t.Fatal(err)
	}
	out, ok := msg.(*UpdateComponents)
	if !ok {
		t.Fatalf("Expected *UpdateComponents, got %T", msg)
	}
	if out.EntityID != 9 || len(out.Components) != 1 || len(out.DynamicComponents) != 1 {
		t.Fatalf("Unexpected message %+v", out)
	}
	attrs := out.DynamicComponents[0].Attributes
	if len(attrs) != 2 || attrs[0].IsDelete() || !attrs[1].IsDelete() {
		t.Errorf("Unexpected dynamic attributes %+v", attrs)
	}
}

// TestEntityActionRoundTrip tests action name, type and parameters
func TestEntityActionRoundTrip(t *testing.T) {
	in := &EntityAction{EntityID: 3, Name: "Jump", ExecutionType: ExecLocal | ExecPeers, Parameters: []string{"high", ""}}
	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	var out EntityAction
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if out.Name != "Jump" || out.ExecutionType != 5 || len(out.Parameters) != 2 || out.Parameters[0] != "high" {
		t.Errorf("Unexpected action %+v", out)
	}
}

// TestFieldLimits tests that oversized names, data and lists are refused
func TestFieldLimits(t *testing.T) {
	long := &CreateComponents{Components: []ComponentData{{Name: strings.Repeat("n", 256)}}}
	if _, err := long.MarshalBinary(); !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("Expected ErrFieldTooLarge for name, got %v", err)
	}

	big := &CreateComponents{Components: []ComponentData{{Name: "c", Data: make([]byte, MaxDataLength+1)}}}
	if _, err := big.MarshalBinary(); !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("Expected ErrFieldTooLarge for data, got %v", err)
	}
	if _, err := EncodePacket(big); !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("Expected EncodePacket to report ErrFieldTooLarge, got %v", err)
	}

	many := &RemoveComponents{Components: make([]ComponentRef, 256)}
	if _, err := many.MarshalBinary(); !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("Expected ErrFieldTooLarge for list, got %v", err)
	}
}

// TestDecodeErrors tests unknown ids and truncated payloads
func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(ID(9999), nil); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Expected ErrUnknownMessage, got %v", err)
	}
	if _, err := Decode(EntityIDCollisionID, []byte{1, 0, 0, 0}); err == nil {
		t.Error("Expected error for truncated EntityIDCollision")
	}
	if _, _, err := DecodePacket([]byte{1}); !errors.Is(err, ErrShortPacket) {
		t.Errorf("Expected ErrShortPacket, got %v", err)
	}
}

// TestDefaultDelivery tests the default transport hints
func TestDefaultDelivery(t *testing.T) {
	d := (&RemoveEntity{}).Delivery()
	if !d.Reliable || !d.InOrder || d.Priority != 100 {
		t.Errorf("Unexpected delivery %+v", d)
	}
	if !IsSceneMessage(RemoveEntityID) || IsSceneMessage(LoginID) {
		t.Error("Unexpected scene message classification")
	}
}
