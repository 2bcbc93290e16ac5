package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/QYUbit/scenesync/pkg/client"
	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/scene"
	"github.com/QYUbit/scenesync/pkg/transport/memory"
)

const posType uint32 = 7

func newRegistry() *scene.Registry {
	reg := scene.NewRegistry()
	reg.MustRegisterComponent(scene.ComponentType{
		ID:         posType,
		Name:       "Pos",
		Attributes: []scene.AttributeDesc{{Name: "X", Type: "real", Interpolate: true}},
	})
	return reg
}

type fixture struct {
	server   *Server
	listener *memory.Listener
	cancel   context.CancelFunc
	done     chan error
}

func startServer(t *testing.T, auth Authenticator) *fixture {
	t.Helper()
	return startServerWith(t, auth, nil)
}

func startServerWith(t *testing.T, auth Authenticator, configure func(*ServerConfig)) *fixture {
	t.Helper()

	l := memory.NewListener("server")
	cfg := DefaultServerConfig()
	cfg.Listener = l
	cfg.Scene = scene.New(newRegistry(), nil)
	cfg.Authenticator = auth
	cfg.Sync.UpdatePeriod = 10 * time.Millisecond
	if configure != nil {
		configure(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{
		server:   NewServer(cfg),
		listener: l,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { f.done <- f.server.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Error("Timed out waiting for server to stop")
		}
	})
	return f
}

func (f *fixture) connect(t *testing.T, props map[string]string) (*client.Client, chan error) {
	t.Helper()

	cfg := client.DefaultClientConfig()
	cfg.Scene = scene.New(newRegistry(), nil)
	cfg.Properties = props
	cfg.Sync.UpdatePeriod = 10 * time.Millisecond
	c := client.NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	peer, err := f.listener.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, peer) }()
	return c, done
}

func waitReady(t *testing.T, c *client.Client) {
	t.Helper()
	select {
	case <-c.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for login")
	}
}

// eventually polls cond on the loop owning sc until it holds
func eventually(t *testing.T, do func(context.Context, func(*scene.Scene)) error, cond func(sc *scene.Scene) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ok := false
		if err := do(context.Background(), func(sc *scene.Scene) { ok = cond(sc) }); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func posX(sc *scene.Scene, id scene.EntityID) (float32, bool) {
	e := sc.Entity(id)
	if e == nil {
		return 0, false
	}
	c := e.Component(posType, "Pos")
	if c == nil {
		return 0, false
	}
	return scene.ValueOf[float32](c.Attribute("X"))
}

// TestReplicationRoundTrip tests server to client and client to server replication
func TestReplicationRoundTrip(t *testing.T) {
	f := startServer(t, nil)

	err := f.server.Do(context.Background(), func(sc *scene.Scene) {
		e, err := sc.CreateEntity(42, scene.Default)
		if err != nil {
			t.Errorf("CreateEntity failed: %v", err)
			return
		}
		c, _ := e.CreateComponent(posType, "Pos", scene.Default)
		c.Attribute("X").Set(float32(3), scene.Default)
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	c, _ := f.connect(t, map[string]string{"name": "alice"})
	waitReady(t, c)

	if c.UserID() == "" {
		t.Error("Expected a user id after login")
	}

	eventually(t, c.Do, func(sc *scene.Scene) bool {
		x, ok := posX(sc, 42)
		return ok && x == 3
	})

	c.Do(context.Background(), func(sc *scene.Scene) {
		sc.Entity(42).Component(posType, "Pos").Attribute("X").Set(float32(8), scene.Default)
	})

	eventually(t, f.server.Do, func(sc *scene.Scene) bool {
		x, ok := posX(sc, 42)
		return ok && x == 8
	})

	f.server.Do(context.Background(), func(*scene.Scene) {
		users := f.server.Users()
		if len(users) != 1 {
			t.Errorf("Expected 1 user, got %d", len(users))
			return
		}
		if users[0].Property("name") != "alice" {
			t.Errorf("Expected name alice, got %q", users[0].Property("name"))
		}
		if !users[0].IsAuthenticated() {
			t.Error("Expected user to be authenticated")
		}
	})
}

// TestChangesReachOtherClients tests that a client edit is relayed to a second client
func TestChangesReachOtherClients(t *testing.T) {
	f := startServer(t, nil)

	a, _ := f.connect(t, nil)
	b, _ := f.connect(t, nil)
	waitReady(t, a)
	waitReady(t, b)

	a.Do(context.Background(), func(sc *scene.Scene) {
		e, _ := sc.CreateEntity(5, scene.Default)
		c, _ := e.CreateComponent(posType, "Pos", scene.Default)
		c.Attribute("X").Set(float32(1), scene.Default)
	})

	eventually(t, b.Do, func(sc *scene.Scene) bool {
		x, ok := posX(sc, 5)
		return ok && x == 1
	})
}

// TestLargeSceneReachesNewClient tests that a scene larger than the send
// queue is delivered in full over several passes
func TestLargeSceneReachesNewClient(t *testing.T) {
	const count = 1000
	f := startServerWith(t, nil, func(cfg *ServerConfig) { cfg.SendQueueSize = 64 })

	err := f.server.Do(context.Background(), func(sc *scene.Scene) {
		for i := range count {
			e, err := sc.CreateEntity(0, scene.Default)
			if err != nil {
				t.Errorf("CreateEntity failed: %v", err)
				return
			}
			c, _ := e.CreateComponent(posType, "Pos", scene.Default)
			c.Attribute("X").Set(float32(i), scene.Default)
		}
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	c, _ := f.connect(t, nil)
	waitReady(t, c)

	eventually(t, c.Do, func(sc *scene.Scene) bool {
		x, ok := posX(sc, count)
		return sc.EntityCount() == count && ok && x == count-1
	})
}

// TestAuthenticatorRejects tests that a rejected login closes the connection
func TestAuthenticatorRejects(t *testing.T) {
	f := startServer(t, func(u *UserConnection) (bool, string) {
		if u.Property("token") != "secret" {
			return false, "bad token"
		}
		return true, ""
	})

	_, done := f.connect(t, map[string]string{"token": "guess"})

	select {
	case err := <-done:
		var loginErr *client.LoginError
		if !errors.As(err, &loginErr) {
			t.Fatalf("Expected LoginError, got %v", err)
		}
		if loginErr.Reason != "bad token" {
			t.Errorf("Expected reason bad token, got %q", loginErr.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for rejected client")
	}

	ok, _ := f.connect(t, map[string]string{"token": "secret"})
	waitReady(t, ok)
}

// TestUserDisconnected tests cleanup after a client leaves
func TestUserDisconnected(t *testing.T) {
	f := startServer(t, nil)

	left := make(chan string, 1)
	f.server.OnUserDisconnected(func(u *UserConnection) { left <- u.ID() })

	cfg := client.DefaultClientConfig()
	cfg.Scene = scene.New(newRegistry(), nil)
	c := client.NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	peer, err := f.listener.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, peer) }()
	waitReady(t, c)

	id := c.UserID()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected clean client shutdown, got %v", err)
	}

	select {
	case got := <-left:
		if got != id {
			t.Errorf("Expected %s to leave, got %s", id, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for disconnect")
	}

	f.server.Do(context.Background(), func(*scene.Scene) {
		if f.server.UserConnection(id) != nil {
			t.Error("Expected user to be removed")
		}
		if err := f.server.Kick(id, ""); err != ErrUserNotFound {
			t.Errorf("Expected ErrUserNotFound, got %v", err)
		}
	})
}

// TestStartTwice tests the server lifecycle errors
func TestStartTwice(t *testing.T) {
	if err := NewServer(DefaultServerConfig()).Start(context.Background()); err != ErrNoListener {
		t.Errorf("Expected ErrNoListener, got %v", err)
	}

	f := startServer(t, nil)
	time.Sleep(10 * time.Millisecond)
	if err := f.server.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}

	if err := NewServer(DefaultServerConfig()).Close(); err != ErrServerNotRunning {
		t.Errorf("Expected ErrServerNotRunning, got %v", err)
	}
}

// TestRouter tests routing of application messages
func TestRouter(t *testing.T) {
	r := NewRouter()
	user := newUserConnection("u1", nil)

	var got []string
	r.Handle(200, func(u *UserConnection, payload []byte) { got = append(got, "chat:"+string(payload)) })
	r.Handle(protocol.CreateEntityID, func(*UserConnection, []byte) { got = append(got, "reserved") })

	if !r.route(user, 200, []byte("hi")) {
		t.Error("Expected message 200 to be handled")
	}
	if r.route(user, protocol.CreateEntityID, nil) {
		t.Error("Expected reserved id to stay unrouted")
	}
	if r.route(user, 201, nil) {
		t.Error("Expected unknown id to be unhandled without fallback")
	}

	r.HandleFallback(func(u *UserConnection, payload []byte) { got = append(got, "fallback:"+u.ID()) })
	r.route(user, 201, nil)

	if len(got) != 2 || got[0] != "chat:hi" || got[1] != "fallback:u1" {
		t.Errorf("Expected [chat:hi fallback:u1], got %v", got)
	}
}
