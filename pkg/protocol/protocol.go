// Package protocol defines the scene replication wire messages and their
// binary encoding. Every message is a plain struct; Decode turns a message id
// and payload back into the matching concrete type.
package protocol

import (
	"encoding"
	"errors"
	"fmt"

	"github.com/QYUbit/scenesync/pkg/bitstream"
)

// ID is the numeric message type carried in front of every payload.
type ID uint16

const (
	LoginID             ID = 100
	LoginReplyID        ID = 101
	CreateEntityID      ID = 110
	CreateComponentsID  ID = 111
	UpdateComponentsID  ID = 112
	RemoveComponentsID  ID = 113
	RemoveEntityID      ID = 114
	EntityIDCollisionID ID = 115
	EntityActionID      ID = 120
)

func (id ID) String() string {
	switch id {
	case LoginID:
		return "Login"
	case LoginReplyID:
		return "LoginReply"
	case CreateEntityID:
		return "CreateEntity"
	case CreateComponentsID:
		return "CreateComponents"
	case UpdateComponentsID:
		return "UpdateComponents"
	case RemoveComponentsID:
		return "RemoveComponents"
	case RemoveEntityID:
		return "RemoveEntity"
	case EntityIDCollisionID:
		return "EntityIDCollision"
	case EntityActionID:
		return "EntityAction"
	}
	return fmt.Sprintf("Message(%d)", uint16(id))
}

// IsSceneMessage reports whether id belongs to the scene sync message set.
func IsSceneMessage(id ID) bool {
	switch id {
	case CreateEntityID, CreateComponentsID, UpdateComponentsID, RemoveComponentsID,
		RemoveEntityID, EntityIDCollisionID, EntityActionID:
		return true
	}
	return false
}

const (
	MaxNameLength     = 255
	MaxDataLength     = 65535
	MaxListLength     = 255
	DefaultPriority   = 100
	ExecLocal         = 1
	ExecServer        = 2
	ExecPeers         = 4
	packetHeaderBytes = 2
)

var (
	ErrUnknownMessage = errors.New("unknown message id")
	ErrFieldTooLarge  = errors.New("field exceeds wire limit")
	ErrShortPacket    = errors.New("packet shorter than header")
)

// Delivery holds transport hints. They are not part of the payload.
type Delivery struct {
	Reliable bool
	InOrder  bool
	Priority uint32
}

func DefaultDelivery() Delivery {
	return Delivery{Reliable: true, InOrder: true, Priority: DefaultPriority}
}

// Message is implemented by every wire message.
type Message interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	MessageID() ID
	Delivery() Delivery
}

// Decode builds the concrete message for id from payload.
func Decode(id ID, payload []byte) (Message, error) {
	var msg Message
	switch id {
	case LoginID:
		msg = new(Login)
	case LoginReplyID:
		msg = new(LoginReply)
	case CreateEntityID:
		msg = new(CreateEntity)
	case CreateComponentsID:
		msg = new(CreateComponents)
	case UpdateComponentsID:
		msg = new(UpdateComponents)
	case RemoveComponentsID:
		msg = new(RemoveComponents)
	case RemoveEntityID:
		msg = new(RemoveEntity)
	case EntityIDCollisionID:
		msg = new(EntityIDCollision)
	case EntityActionID:
		msg = new(EntityAction)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, uint16(id))
	}

	if err := msg.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return msg, nil
}

// EncodePacket prefixes the encoded message with its id.
func EncodePacket(msg Message) ([]byte, error) {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageID(), err)
	}

	w := bitstream.NewWriterSize(packetHeaderBytes + len(payload))
	w.WriteU16(uint16(msg.MessageID()))
	w.WriteRaw(payload)
	return w.Bytes(), nil
}

// DecodePacket splits a packet into message id and payload.
func DecodePacket(p []byte) (ID, []byte, error) {
	if len(p) < packetHeaderBytes {
		return 0, nil, ErrShortPacket
	}
	id := ID(uint16(p[0]) | uint16(p[1])<<8)
	return id, p[packetHeaderBytes:], nil
}

func writeName(w *bitstream.Writer, s string) error {
	if err := w.WriteString8(s); err != nil {
		return fmt.Errorf("%w: name %.16q...", ErrFieldTooLarge, s)
	}
	return nil
}

func writeData(w *bitstream.Writer, p []byte) error {
	if err := w.WriteBytes16(p); err != nil {
		return fmt.Errorf("%w: %d data bytes", ErrFieldTooLarge, len(p))
	}
	return nil
}

func writeCount(w *bitstream.Writer, n int) error {
	if n > MaxListLength {
		return fmt.Errorf("%w: %d list entries", ErrFieldTooLarge, n)
	}
	w.WriteU8(uint8(n))
	return nil
}
