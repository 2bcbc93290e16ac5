// Package replication keeps a scene consistent between one server and its
// clients. A SyncManager observes local scene changes, records them in the
// sync state of every peer, sends periodic deltas and applies the messages
// peers send back.
package replication

import (
	"time"

	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/scene"
	"github.com/QYUbit/scenesync/pkg/syncstate"
)

// Sender queues a message for a peer without blocking.
type Sender interface {
	Send(msg protocol.Message) error
}

// Backlogger is implemented by senders whose queue can fill up. A diff pass
// stops while Backlogged reports true and continues on the next one.
type Backlogger interface {
	Backlogged() bool
}

// UserConnection is the server side view of one client.
type UserConnection interface {
	scene.Principal
	Sender

	// SyncState is nil until the user was handed to NewUserConnected.
	SyncState() *syncstate.SceneSyncState
	SetSyncState(s *syncstate.SceneSyncState)
}

// Host is the node a SyncManager runs in. Lookups must return an untyped
// nil when nothing is found.
type Host interface {
	IsServer() bool
	UserConnections() []UserConnection
	UserConnection(id string) UserConnection
	ServerConnection() Sender
}

const (
	AuthenticatedProperty = "authenticated"

	MinUpdatePeriod     = 10 * time.Millisecond
	DefaultUpdatePeriod = 33 * time.Millisecond
)

func isAuthenticated(p scene.Principal) bool {
	return p != nil && p.Property(AuthenticatedProperty) == "true"
}

type Config struct {
	// UpdatePeriod is the interval between two diff passes.
	UpdatePeriod time.Duration

	// EchoChangesToSender also replicates changes back to the user they
	// came from.
	EchoChangesToSender bool

	// InterpolationSlack scales the update period into the client side
	// interpolation window to absorb jitter.
	InterpolationSlack float64
}

func DefaultConfig() Config {
	return Config{
		UpdatePeriod:       DefaultUpdatePeriod,
		InterpolationSlack: 1.35,
	}
}
