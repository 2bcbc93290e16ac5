// Package client connects to a scenesync server and mirrors its scene.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/scenesync/pkg/axlog"
	"github.com/QYUbit/scenesync/pkg/conn"
	"github.com/QYUbit/scenesync/pkg/loop"
	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/replication"
	"github.com/QYUbit/scenesync/pkg/scene"
	"github.com/QYUbit/scenesync/pkg/transport"
	"golang.org/x/sync/errgroup"
)

// ServerSource is the origin of every change the server sends.
const ServerSource = "server"

var (
	ErrAlreadyStarted = errors.New("client has already started")
	ErrDisconnected   = errors.New("disconnected from server")
)

// LoginError is returned by Run when the server rejects the login.
type LoginError struct {
	Reason string
}

func (e *LoginError) Error() string {
	if e.Reason == "" {
		return "login rejected"
	}
	return "login rejected: " + e.Reason
}

type ClientConfig struct {
	Logger        axlog.Logger
	Scene         *scene.Scene
	Sync          replication.Config
	Properties    map[string]string
	SendQueueSize int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Sync:          replication.DefaultConfig(),
		SendQueueSize: conn.DefaultQueueSize,
	}
}

type Client struct {
	logger     axlog.Logger
	scene      *scene.Scene
	sync       *replication.SyncManager
	loop       *loop.Loop
	properties map[string]string
	queueSize  int

	// owned by the loop
	conn     *conn.Conn
	loggedIn bool
	loginErr error

	userID   atomic.Value
	ready    chan struct{}
	onLogin  func(userID string)
	started  atomic.Bool
	readyOne sync.Once
}

func NewClient(cfg ClientConfig) *Client {
	logger := axlog.With(cfg.Logger)

	sc := cfg.Scene
	if sc == nil {
		sc = scene.New(nil, logger)
	}

	c := &Client{
		logger:     logger,
		scene:      sc,
		properties: cfg.Properties,
		queueSize:  cfg.SendQueueSize,
		ready:      make(chan struct{}),
	}
	c.userID.Store("")

	c.sync = replication.New(c, logger, cfg.Sync)
	c.sync.RegisterToScene(sc)

	c.loop = loop.New(c.sync.UpdatePeriod())
	c.loop.OnTick(c.tick)

	return c
}

// Run logs in over peer and mirrors the server scene until the connection
// closes or ctx is cancelled. A client runs once.
func (c *Client) Run(ctx context.Context, peer transport.Peer) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	cn := conn.New(peer, c.logger, c.queueSize)

	login := &protocol.Login{}
	for k, v := range c.properties {
		login.Properties = append(login.Properties, protocol.Property{Key: k, Value: v})
	}
	if err := cn.Send(login); err != nil {
		cn.Close(transport.CloseProtocolError, "")
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.loop.Run(gctx)
	})
	g.Go(func() error {
		err := cn.Run(gctx, func(id protocol.ID, payload []byte) {
			c.loop.Post(func() { c.dispatch(cn, id, payload) })
		})
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		return ErrDisconnected
	})

	err := g.Wait()

	// the loop has stopped, nothing else touches the state now
	if c.loginErr != nil {
		return c.loginErr
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) dispatch(cn *conn.Conn, id protocol.ID, payload []byte) {
	if id == protocol.LoginReplyID {
		c.handleLoginReply(cn, payload)
		return
	}
	if !c.loggedIn {
		c.logger.Warn("message before login reply", "id", id)
		return
	}

	handled, err := c.sync.HandlePacket(ServerSource, id, payload)
	if err != nil {
		c.logger.Warn("dropping malformed scene message", "id", id, "error", err)
		return
	}
	if !handled {
		c.logger.Debug("unhandled message", "id", id)
	}
}

func (c *Client) handleLoginReply(cn *conn.Conn, payload []byte) {
	msg, err := protocol.Decode(protocol.LoginReplyID, payload)
	if err != nil {
		c.logger.Error("malformed login reply", "error", err)
		cn.Close(transport.CloseProtocolError, "")
		return
	}

	reply := msg.(*protocol.LoginReply)
	if !reply.Success {
		c.logger.Error("login rejected", "reason", reply.Reason)
		c.loginErr = &LoginError{Reason: reply.Reason}
		cn.Close(transport.CloseNormal, "")
		return
	}

	c.conn = cn
	c.loggedIn = true
	c.userID.Store(reply.UserID)
	c.logger.Info("logged in", "user", reply.UserID)

	c.readyOne.Do(func() { close(c.ready) })
	if c.onLogin != nil {
		c.onLogin(reply.UserID)
	}
}

func (c *Client) tick(dt time.Duration) {
	c.scene.UpdateInterpolations(dt)
	c.sync.Update(dt)
}

// ==================================================================
// Loop access
// ==================================================================

// Do runs fn on the client loop and waits for it.
func (c *Client) Do(ctx context.Context, fn func(sc *scene.Scene)) error {
	return c.loop.Do(ctx, func() { fn(c.scene) })
}

// Post queues fn on the client loop.
func (c *Client) Post(fn func(sc *scene.Scene)) error {
	return c.loop.Post(func() { fn(c.scene) })
}

// Ready is closed once the server accepted the login.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// UserID is the id the server assigned, empty before login.
func (c *Client) UserID() string {
	return c.userID.Load().(string)
}

// OnLogin is called on the loop after a successful login.
func (c *Client) OnLogin(fn func(userID string)) {
	c.onLogin = fn
}

func (c *Client) Scene() *scene.Scene {
	return c.scene
}

func (c *Client) Sync() *replication.SyncManager {
	return c.sync
}

// SetUpdatePeriod changes the replication period and the loop tick rate.
func (c *Client) SetUpdatePeriod(d time.Duration) {
	c.sync.SetUpdatePeriod(d)
	c.loop.SetTickRate(c.sync.UpdatePeriod())
}

// ==================================================================
// replication.Host
// ==================================================================

func (c *Client) IsServer() bool { return false }

func (c *Client) UserConnections() []replication.UserConnection { return nil }

func (c *Client) UserConnection(id string) replication.UserConnection { return nil }

// ServerConnection is nil until the login completed, changes stay queued in
// the server sync state until then.
func (c *Client) ServerConnection() replication.Sender {
	if c.conn == nil || !c.loggedIn {
		return nil
	}
	return c.conn
}
