// Package scene provides the entity-component scene graph that scenesync
// replicates. Entities own components, components own typed attributes, and
// every mutation is reported to subscribed observers according to its change
// type.
package scene

import (
	"errors"
	"fmt"
)

// EntityID identifies an entity. IDs with LocalEntityFlag set are local to
// one node and never replicated.
type EntityID uint32

const LocalEntityFlag EntityID = 0x80000000

func (id EntityID) IsLocal() bool {
	return id&LocalEntityFlag != 0
}

// ChangeType tells observers how a mutation should be propagated.
type ChangeType uint8

const (
	// Default resolves to Replicate.
	Default ChangeType = iota
	// Disconnected mutates without notifying anyone.
	Disconnected
	// LocalOnly notifies local observers but is not replicated.
	LocalOnly
	// Replicate notifies observers and is sent to peers.
	Replicate
)

func (c ChangeType) Resolve() ChangeType {
	if c == Default {
		return Replicate
	}
	return c
}

func (c ChangeType) String() string {
	switch c {
	case Default:
		return "Default"
	case Disconnected:
		return "Disconnected"
	case LocalOnly:
		return "LocalOnly"
	case Replicate:
		return "Replicate"
	}
	return fmt.Sprintf("ChangeType(%d)", uint8(c))
}

// Origin names the connection a change arrived from. Local edits have an
// empty origin.
type Origin string

const LocalOrigin Origin = ""

func (o Origin) IsLocal() bool {
	return o == LocalOrigin
}

// ExecType is the entity action execution bitmask.
type ExecType uint8

const (
	ExecLocal  ExecType = 1
	ExecServer ExecType = 2
	ExecPeers  ExecType = 4
)

func (t ExecType) Has(flag ExecType) bool {
	return t&flag != 0
}

// Principal is whoever asks to modify the scene, usually a user connection.
type Principal interface {
	ID() string
	Property(key string) string
}

// ModifyPolicy decides whether user may modify e. A nil entity asks about
// creating entities.
type ModifyPolicy func(user Principal, e *Entity) bool

var (
	ErrEntityExists         = errors.New("entity already exists")
	ErrEntityNotFound       = errors.New("entity not found")
	ErrComponentExists      = errors.New("component already exists")
	ErrUnknownComponentType = errors.New("unknown component type")
	ErrUnknownAttributeType = errors.New("unknown attribute type")
	ErrAttributeExists      = errors.New("attribute already exists")
	ErrNotDynamic           = errors.New("component has no dynamic structure")
	ErrValueType            = errors.New("value does not match attribute type")
	ErrDuplicateType        = errors.New("type already registered")
	ErrNameTooLong          = errors.New("attribute name too long")
	ErrTooManyAttributes    = errors.New("too many attributes")
	ErrValueTooLarge        = errors.New("value too large")
)

const (
	// MaxAttributeNameLength and MaxDynamicAttributes bound dynamic
	// components to what fits the full serialization.
	MaxAttributeNameLength = 255
	MaxDynamicAttributes   = 255

	// MaxStringLength is the largest string attribute value in bytes.
	MaxStringLength = 65535
)
