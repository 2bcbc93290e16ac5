package replication

import (
	"slices"

	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/scene"
)

func newActionMessage(e *scene.Entity, action string, params []string, t scene.ExecType) *protocol.EntityAction {
	return &protocol.EntityAction{
		EntityID:      uint32(e.ID()),
		Name:          action,
		ExecutionType: uint8(t),
		Parameters:    slices.Clone(params),
	}
}

// OnActionTriggered routes an action executed on this node. The server runs
// Server actions itself and fans Peers actions out to authenticated users
// as Local. A client forwards Server and Peers actions to the server without
// the Local flag.
func (m *SyncManager) OnActionTriggered(e *scene.Entity, action string, params []string, t scene.ExecType) {
	if e.IsLocal() {
		return
	}
	isServer := m.host.IsServer()

	if isServer && t.Has(scene.ExecServer) && !t.Has(scene.ExecLocal) {
		e.RunAction(scene.Action{Name: action, Params: params})
	}

	if !isServer && (t.Has(scene.ExecServer) || t.Has(scene.ExecPeers)) {
		if server := m.host.ServerConnection(); server != nil {
			m.send(server, newActionMessage(e, action, params, t&^scene.ExecLocal))
		}
	}

	if isServer && t.Has(scene.ExecPeers) {
		for _, user := range m.host.UserConnections() {
			if isAuthenticated(user) {
				m.send(user, newActionMessage(e, action, params, scene.ExecLocal))
			}
		}
	}
}

// SendUserAction sends an action to a single user, to be executed there
// locally.
func (m *SyncManager) SendUserAction(userID string, e *scene.Entity, action string, params ...string) bool {
	if !m.host.IsServer() || e == nil || e.IsLocal() {
		return false
	}
	user := m.host.UserConnection(userID)
	if user == nil || !isAuthenticated(user) {
		return false
	}
	m.send(user, newActionMessage(e, action, params, scene.ExecLocal))
	return true
}

func (m *SyncManager) handleEntityAction(source string, msg *protocol.EntityAction) {
	id := scene.EntityID(msg.EntityID)
	if !m.ValidateAction(source, id) {
		return
	}
	e := m.scene.Entity(id)
	if e == nil {
		m.logger.Warn("entity not found for action", "entity", id, "action", msg.Name)
		return
	}

	isServer := m.host.IsServer()
	t := scene.ExecType(msg.ExecutionType)
	handled := false

	if t.Has(scene.ExecLocal) || (isServer && t.Has(scene.ExecServer)) {
		e.RunAction(scene.Action{Name: msg.Name, Params: msg.Parameters, Sender: scene.Origin(source)})
		handled = true
	}

	if isServer && t.Has(scene.ExecPeers) {
		for _, user := range m.host.UserConnections() {
			if user.ID() == source || !isAuthenticated(user) {
				continue
			}
			m.send(user, newActionMessage(e, msg.Name, msg.Parameters, scene.ExecLocal))
		}
		handled = true
	}

	if !handled {
		m.logger.Warn("entity action went unhandled", "action", msg.Name, "type", msg.ExecutionType)
	}
}
