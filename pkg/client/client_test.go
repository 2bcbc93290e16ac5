package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/QYUbit/scenesync/pkg/bitstream"
	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/scene"
	"github.com/QYUbit/scenesync/pkg/transport"
	"github.com/QYUbit/scenesync/pkg/transport/memory"
)

const posType uint32 = 7

func newRegistry() *scene.Registry {
	reg := scene.NewRegistry()
	reg.MustRegisterComponent(scene.ComponentType{
		ID:         posType,
		Name:       "Pos",
		Attributes: []scene.AttributeDesc{{Name: "X", Type: "real"}},
	})
	return reg
}

// fakeServer is the remote end of a memory pipe
type fakeServer struct {
	t    *testing.T
	peer *memory.Peer
}

func (s *fakeServer) send(msg protocol.Message) {
	s.t.Helper()
	p, err := protocol.EncodePacket(msg)
	if err != nil {
		s.t.Fatalf("EncodePacket failed: %v", err)
	}
	if err := s.peer.WriteMessage(p); err != nil {
		s.t.Fatalf("WriteMessage failed: %v", err)
	}
}

func (s *fakeServer) receive() protocol.Message {
	s.t.Helper()
	p, err := s.peer.ReadMessage()
	if err != nil {
		s.t.Fatalf("ReadMessage failed: %v", err)
	}
	id, payload, err := protocol.DecodePacket(p)
	if err != nil {
		s.t.Fatalf("DecodePacket failed: %v", err)
	}
	msg, err := protocol.Decode(id, payload)
	if err != nil {
		s.t.Fatalf("Decode failed: %v", err)
	}
	return msg
}

func start(t *testing.T, props map[string]string) (*Client, *fakeServer, chan error) {
	t.Helper()

	cfg := DefaultClientConfig()
	cfg.Scene = scene.New(newRegistry(), nil)
	cfg.Properties = props
	cfg.Sync.UpdatePeriod = 10 * time.Millisecond
	c := NewClient(cfg)

	local, remote := memory.Pipe("client", "server")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, local) }()
	return c, &fakeServer{t: t, peer: remote}, done
}

func wait(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for Run to return")
	}
	return nil
}

func f32(v float32) []byte {
	w := bitstream.NewWriter()
	w.WriteF32(v)
	return w.Bytes()
}

// TestLoginAndMirror tests the login handshake and applying server messages
func TestLoginAndMirror(t *testing.T) {
	c, srv, _ := start(t, map[string]string{"name": "bob"})

	login, ok := srv.receive().(*protocol.Login)
	if !ok {
		t.Fatal("Expected Login as first message")
	}
	if len(login.Properties) != 1 || login.Properties[0].Key != "name" || login.Properties[0].Value != "bob" {
		t.Errorf("Expected name=bob, got %v", login.Properties)
	}

	// dropped, the login is not confirmed yet
	srv.send(&protocol.CreateEntity{EntityID: 1})

	srv.send(&protocol.LoginReply{Success: true, UserID: "user-1"})
	srv.send(&protocol.CreateEntity{
		EntityID:   42,
		Components: []protocol.ComponentData{{TypeID: posType, Name: "Pos", Data: f32(3)}},
	})

	select {
	case <-c.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for login")
	}
	if c.UserID() != "user-1" {
		t.Errorf("Expected user-1, got %q", c.UserID())
	}

	deadline := time.Now().Add(2 * time.Second)
	var x float32
	for time.Now().Before(deadline) {
		c.Do(context.Background(), func(sc *scene.Scene) {
			if e := sc.Entity(42); e != nil {
				x, _ = scene.ValueOf[float32](e.Component(posType, "Pos").Attribute("X"))
			}
		})
		if x == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if x != 3 {
		t.Fatalf("Expected X 3, got %v", x)
	}

	c.Do(context.Background(), func(sc *scene.Scene) {
		if sc.Entity(1) != nil {
			t.Error("Expected entity sent before login reply to be dropped")
		}
		sc.Entity(42).Component(posType, "Pos").Attribute("X").Set(float32(4), scene.Default)
	})

	update, ok := srv.receive().(*protocol.UpdateComponents)
	if !ok {
		t.Fatal("Expected UpdateComponents")
	}
	if update.EntityID != 42 || len(update.Components) != 1 {
		t.Errorf("Expected one static update for entity 42, got %+v", update)
	}
}

// TestLoginRejected tests that Run reports the rejection reason
func TestLoginRejected(t *testing.T) {
	_, srv, done := start(t, nil)

	srv.receive()
	srv.send(&protocol.LoginReply{Success: false, Reason: "full"})

	err := wait(t, done)
	var loginErr *LoginError
	if !errors.As(err, &loginErr) || loginErr.Reason != "full" {
		t.Errorf("Expected LoginError full, got %v", err)
	}
}

// TestServerGone tests that Run fails when the server disconnects
func TestServerGone(t *testing.T) {
	c, srv, done := start(t, nil)

	srv.receive()
	srv.send(&protocol.LoginReply{Success: true, UserID: "u"})
	<-c.Ready()

	srv.peer.Close(transport.CloseGoingAway, "")

	if err := wait(t, done); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Expected ErrDisconnected, got %v", err)
	}
	if err := c.Run(context.Background(), nil); err != ErrAlreadyStarted {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

// TestClientHost tests the client side host view
func TestClientHost(t *testing.T) {
	c := NewClient(DefaultClientConfig())

	if c.IsServer() {
		t.Error("Expected client host")
	}
	if c.ServerConnection() != nil {
		t.Error("Expected no server connection before login")
	}
	if c.UserConnection("x") != nil || c.UserConnections() != nil {
		t.Error("Expected no user connections on a client")
	}
}
