package server

import (
	"maps"
	"net"
	"time"

	"github.com/QYUbit/scenesync/pkg/conn"
	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/replication"
	"github.com/QYUbit/scenesync/pkg/syncstate"
	"github.com/QYUbit/scenesync/pkg/transport"
)

// The UserConnection struct wraps a connection. It holds the user id, the
// login properties and the user's scene sync state. Apart from Send and
// Close it must only be used from the server loop.
type UserConnection struct {
	id         string
	conn       *conn.Conn
	properties map[string]string
	state      *syncstate.SceneSyncState

	loggedIn    bool
	connectedAt time.Time
}

func newUserConnection(id string, c *conn.Conn) *UserConnection {
	return &UserConnection{
		id:          id,
		conn:        c,
		properties:  make(map[string]string),
		connectedAt: time.Now(),
	}
}

// ==================================================================
// Identity
// ==================================================================

// ID retrieves the id of a user.
func (u *UserConnection) ID() string {
	return u.id
}

func (u *UserConnection) RemoteAddr() net.Addr {
	return u.conn.RemoteAddr()
}

// ConnectedAt is the time the transport connection was accepted.
func (u *UserConnection) ConnectedAt() time.Time {
	return u.connectedAt
}

// LoggedIn reports whether the login handshake completed.
func (u *UserConnection) LoggedIn() bool {
	return u.loggedIn
}

func (u *UserConnection) IsAuthenticated() bool {
	return u.Property(replication.AuthenticatedProperty) == "true"
}

// ==================================================================
// Properties
// ==================================================================

// Property returns the value of key, or "" if it is not set.
func (u *UserConnection) Property(key string) string {
	return u.properties[key]
}

func (u *UserConnection) HasProperty(key string) bool {
	_, ok := u.properties[key]
	return ok
}

func (u *UserConnection) SetProperty(key, value string) {
	u.properties[key] = value
}

func (u *UserConnection) DeleteProperty(key string) {
	delete(u.properties, key)
}

// Properties returns a copy of all properties.
func (u *UserConnection) Properties() map[string]string {
	return maps.Clone(u.properties)
}

// ==================================================================
// Sync state
// ==================================================================

func (u *UserConnection) SyncState() *syncstate.SceneSyncState {
	return u.state
}

func (u *UserConnection) SetSyncState(s *syncstate.SceneSyncState) {
	u.state = s
}

// ==================================================================
// Send
// ==================================================================

// Send queues msg for the user. It never blocks.
func (u *UserConnection) Send(msg protocol.Message) error {
	return u.conn.Send(msg)
}

// Backlogged reports whether the send queue is too full for bulk sends.
func (u *UserConnection) Backlogged() bool {
	return u.conn.Backlogged()
}

// Close disconnects the user. Cleanup happens on the server loop.
func (u *UserConnection) Close(code transport.CloseCode, reason string) error {
	return u.conn.Close(code, reason)
}
