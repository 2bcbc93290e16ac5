// Package server accepts user connections, authenticates them and
// replicates a scene to every logged in user.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/scenesync/pkg/axlog"
	"github.com/QYUbit/scenesync/pkg/conn"
	"github.com/QYUbit/scenesync/pkg/loop"
	"github.com/QYUbit/scenesync/pkg/replication"
	"github.com/QYUbit/scenesync/pkg/scene"
	"github.com/QYUbit/scenesync/pkg/transport"
	"golang.org/x/sync/errgroup"
)

// Authenticator decides whether a user may log in. The login properties are
// already set on user.
type Authenticator func(user *UserConnection) (accept bool, reason string)

type ServerConfig struct {
	Logger        axlog.Logger
	Listener      transport.Listener
	Scene         *scene.Scene
	Sync          replication.Config
	Authenticator Authenticator
	SendQueueSize int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Sync:          replication.DefaultConfig(),
		SendQueueSize: conn.DefaultQueueSize,
	}
}

type Server struct {
	logger        axlog.Logger
	listener      transport.Listener
	scene         *scene.Scene
	sync          *replication.SyncManager
	loop          *loop.Loop
	router        *Router
	authenticator Authenticator
	queueSize     int

	// owned by the loop
	users map[string]*UserConnection
	order []*UserConnection

	onUserConnected    func(u *UserConnection)
	onUserDisconnected func(u *UserConnection)

	running atomic.Bool
	cancel  context.CancelFunc
	mu      sync.Mutex
	conns   sync.WaitGroup
}

func NewServer(cfg ServerConfig) *Server {
	logger := axlog.With(cfg.Logger)

	sc := cfg.Scene
	if sc == nil {
		sc = scene.New(nil, logger)
	}

	s := &Server{
		logger:        logger,
		listener:      cfg.Listener,
		scene:         sc,
		router:        NewRouter(),
		authenticator: cfg.Authenticator,
		queueSize:     cfg.SendQueueSize,
		users:         make(map[string]*UserConnection),
	}
	s.router.logger = logger

	s.sync = replication.New(s, logger, cfg.Sync)
	s.sync.RegisterToScene(sc)

	s.loop = loop.New(s.sync.UpdatePeriod())
	s.loop.OnTick(s.tick)

	return s
}

// ==================================================================
// Lifecycle
// ==================================================================

// Start accepts connections and runs the server loop until ctx is cancelled
// or Close is called.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		return ErrNoListener
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.logger.Info("server started", "addr", s.listener.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop.Run(ctx)
	})
	g.Go(func() error {
		return s.accept(ctx)
	})

	err := g.Wait()
	s.listener.Close()
	s.conns.Wait()

	s.logger.Info("server stopped")
	return err
}

// Close stops a running server.
func (s *Server) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return ErrServerNotRunning
	}
	cancel()
	return nil
}

func (s *Server) accept(ctx context.Context) error {
	for {
		p, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrListenerClosed) {
				return err
			}
			s.logger.Error("failed to accept new peer", "error", err)
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handle(ctx, p)
		}()
	}
}

func (s *Server) tick(dt time.Duration) {
	s.scene.UpdateInterpolations(dt)
	s.sync.Update(dt)
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ==================================================================
// Loop access
// ==================================================================

// Do runs fn on the server loop and waits for it. The scene and the users
// must only be touched from there.
func (s *Server) Do(ctx context.Context, fn func(sc *scene.Scene)) error {
	return s.loop.Do(ctx, func() { fn(s.scene) })
}

// Post queues fn on the server loop.
func (s *Server) Post(fn func(sc *scene.Scene)) error {
	return s.loop.Post(func() { fn(s.scene) })
}

func (s *Server) Scene() *scene.Scene {
	return s.scene
}

func (s *Server) Sync() *replication.SyncManager {
	return s.sync
}

func (s *Server) Router() *Router {
	return s.router
}

// SetUpdatePeriod changes the replication period and the loop tick rate.
func (s *Server) SetUpdatePeriod(d time.Duration) {
	s.sync.SetUpdatePeriod(d)
	s.loop.SetTickRate(s.sync.UpdatePeriod())
}

// OnUserConnected is called on the loop after a user logged in.
func (s *Server) OnUserConnected(fn func(u *UserConnection)) {
	s.onUserConnected = fn
}

// OnUserDisconnected is called on the loop after a logged in user left.
func (s *Server) OnUserDisconnected(fn func(u *UserConnection)) {
	s.onUserDisconnected = fn
}

// Users returns the logged in users in login order. Loop only.
func (s *Server) Users() []*UserConnection {
	out := make([]*UserConnection, len(s.order))
	copy(out, s.order)
	return out
}

// Kick disconnects a logged in user. Loop only.
func (s *Server) Kick(id, reason string) error {
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	return u.Close(transport.CloseNormal, reason)
}

// ==================================================================
// replication.Host
// ==================================================================

func (s *Server) IsServer() bool { return true }

func (s *Server) UserConnections() []replication.UserConnection {
	out := make([]replication.UserConnection, 0, len(s.order))
	for _, u := range s.order {
		out = append(out, u)
	}
	return out
}

func (s *Server) UserConnection(id string) replication.UserConnection {
	if u, ok := s.users[id]; ok {
		return u
	}
	return nil
}

func (s *Server) ServerConnection() replication.Sender {
	return nil
}
