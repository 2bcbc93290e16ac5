package server

import (
	"context"

	"github.com/QYUbit/scenesync/pkg/conn"
	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/replication"
	"github.com/QYUbit/scenesync/pkg/transport"
	"github.com/google/uuid"
)

// handle runs one connection until it closes. Every packet is handed to the
// server loop before it is looked at.
func (s *Server) handle(ctx context.Context, peer transport.Peer) {
	c := conn.New(peer, s.logger, s.queueSize)
	user := newUserConnection(uuid.NewString(), c)

	s.logger.Debug("peer connected", "peer", peer.RemoteAddr(), "user", user.id)

	err := c.Run(ctx, func(id protocol.ID, payload []byte) {
		if err := s.loop.Post(func() { s.dispatch(user, id, payload) }); err != nil {
			c.Close(transport.CloseGoingAway, "server stopping")
		}
	})
	if err != nil {
		s.logger.Error("connection failed", "user", user.id, "error", err)
	}

	if err := s.loop.Post(func() { s.removeUser(user) }); err != nil {
		s.logger.Debug("server loop stopped before cleanup", "user", user.id)
	}
}

func (s *Server) dispatch(user *UserConnection, id protocol.ID, payload []byte) {
	switch {
	case id == protocol.LoginID:
		s.handleLogin(user, payload)

	case protocol.IsSceneMessage(id):
		// unauthenticated senders are rejected by the sync manager
		if _, err := s.sync.HandlePacket(user.id, id, payload); err != nil {
			s.logger.Warn("dropping malformed scene message", "user", user.id, "id", id, "error", err)
		}

	case !user.loggedIn:
		s.logger.Warn("message before login", "user", user.id, "id", id)

	default:
		s.router.route(user, id, payload)
	}
}

func (s *Server) handleLogin(user *UserConnection, payload []byte) {
	if user.loggedIn {
		s.logger.Warn("duplicate login", "user", user.id)
		return
	}

	msg, err := protocol.Decode(protocol.LoginID, payload)
	if err != nil {
		s.logger.Warn("malformed login", "user", user.id, "error", err)
		user.conn.Close(transport.CloseProtocolError, "malformed login")
		return
	}

	for _, p := range msg.(*protocol.Login).Properties {
		if p.Key == replication.AuthenticatedProperty {
			continue
		}
		user.SetProperty(p.Key, p.Value)
	}

	if s.authenticator != nil {
		if ok, reason := s.authenticator(user); !ok {
			s.logger.Info("login rejected", "user", user.id, "peer", user.RemoteAddr(), "reason", reason)
			user.Send(&protocol.LoginReply{Success: false, Reason: reason})
			user.conn.CloseAfterFlush(transport.CloseLoginFailed, reason)
			return
		}
	}

	user.SetProperty(replication.AuthenticatedProperty, "true")
	user.loggedIn = true
	s.users[user.id] = user
	s.order = append(s.order, user)

	if err := user.Send(&protocol.LoginReply{Success: true, UserID: user.id}); err != nil {
		s.logger.Error("failed to send login reply", "user", user.id, "error", err)
	}

	s.sync.NewUserConnected(user)
	s.logger.Info("user logged in", "user", user.id, "peer", user.RemoteAddr())

	if s.onUserConnected != nil {
		s.onUserConnected(user)
	}
}

func (s *Server) removeUser(user *UserConnection) {
	if !user.loggedIn {
		return
	}
	user.loggedIn = false

	delete(s.users, user.id)
	for i, u := range s.order {
		if u == user {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.sync.UserDisconnected(user)
	s.logger.Info("user disconnected", "user", user.id)

	if s.onUserDisconnected != nil {
		s.onUserDisconnected(user)
	}
}
