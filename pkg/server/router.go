package server

import (
	"github.com/QYUbit/scenesync/pkg/axlog"
	"github.com/QYUbit/scenesync/pkg/protocol"
)

// MessageHandler handles an application message. It runs on the server loop.
type MessageHandler func(user *UserConnection, payload []byte)

// Router dispatches messages that are not part of scene replication to
// handlers registered by message id.
type Router struct {
	logger   axlog.Logger
	handlers map[protocol.ID]MessageHandler
	fallback MessageHandler
}

func NewRouter() *Router {
	return &Router{
		logger:   axlog.Nop(),
		handlers: make(map[protocol.ID]MessageHandler),
	}
}

// Handle registers h for id. Scene message ids are reserved and ignored.
func (r *Router) Handle(id protocol.ID, h MessageHandler) {
	if protocol.IsSceneMessage(id) || id == protocol.LoginID || id == protocol.LoginReplyID {
		r.logger.Warn("cannot route reserved message id", "id", id)
		return
	}
	r.handlers[id] = h
}

// HandleFallback registers h for every id without a handler.
func (r *Router) HandleFallback(h MessageHandler) {
	r.fallback = h
}

func (r *Router) route(user *UserConnection, id protocol.ID, payload []byte) bool {
	if h, ok := r.handlers[id]; ok {
		h(user, payload)
		return true
	}
	if r.fallback != nil {
		r.fallback(user, payload)
		return true
	}
	r.logger.Debug("no handler for message", "id", id, "user", user.ID())
	return false
}
