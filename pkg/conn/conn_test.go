package conn

import (
	"context"
	"testing"
	"time"

	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/transport"
	"github.com/QYUbit/scenesync/pkg/transport/memory"
)

type packet struct {
	id      protocol.ID
	payload []byte
}

type unreliable struct {
	protocol.RemoveEntity
}

func (*unreliable) Delivery() protocol.Delivery { return protocol.Delivery{} }

func run(t *testing.T, c *Conn) (<-chan packet, <-chan error) {
	t.Helper()
	packets := make(chan packet, 16)
	result := make(chan error, 1)
	go func() {
		result <- c.Run(context.Background(), func(id protocol.ID, payload []byte) {
			packets <- packet{id, payload}
		})
	}()
	return packets, result
}

func receive(t *testing.T, packets <-chan packet) packet {
	t.Helper()
	select {
	case p := <-packets:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for packet")
	}
	return packet{}
}

// TestSendReceive tests reliable and unreliable messages between two conns
func TestSendReceive(t *testing.T) {
	a, b := memory.Pipe("a", "b")
	ca := New(a, nil, 8)
	cb := New(b, nil, 8)

	_, doneA := run(t, ca)
	packets, doneB := run(t, cb)

	if err := ca.Send(&protocol.RemoveEntity{EntityID: 42}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	p := receive(t, packets)
	if p.id != protocol.RemoveEntityID {
		t.Errorf("Expected RemoveEntity, got %s", p.id)
	}

	msg, err := protocol.Decode(p.id, p.payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.(*protocol.RemoveEntity).EntityID != 42 {
		t.Errorf("Expected entity 42, got %v", msg)
	}

	if err := ca.Send(&unreliable{protocol.RemoveEntity{EntityID: 7}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if p := receive(t, packets); p.id != protocol.RemoveEntityID {
		t.Errorf("Expected datagram RemoveEntity, got %s", p.id)
	}

	ca.Close(transport.CloseNormal, "")
	for _, done := range []<-chan error{doneA, doneB} {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Expected clean shutdown, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for Run to return")
		}
	}

	if err := ca.Send(&protocol.RemoveEntity{}); err != ErrConnClosed {
		t.Errorf("Expected ErrConnClosed, got %v", err)
	}
}

// TestSendQueueFull tests that Send never blocks
func TestSendQueueFull(t *testing.T) {
	a, _ := memory.Pipe("a", "b")
	c := New(a, nil, 2)

	c.Send(&protocol.RemoveEntity{})
	c.Send(&protocol.RemoveEntity{})
	if err := c.Send(&protocol.RemoveEntity{}); err != ErrSendQueueFull {
		t.Errorf("Expected ErrSendQueueFull, got %v", err)
	}
}

// TestBacklogged tests the bulk share of the send queue
func TestBacklogged(t *testing.T) {
	a, _ := memory.Pipe("a", "b")
	c := New(a, nil, 8)

	for i := range 6 {
		if c.Backlogged() {
			t.Fatalf("Expected no backlog after %d messages", i)
		}
		c.Send(&protocol.RemoveEntity{})
	}
	if !c.Backlogged() {
		t.Error("Expected backlog after 6 of 8 slots")
	}
	for range 2 {
		if err := c.Send(&protocol.RemoveEntity{}); err != nil {
			t.Errorf("Expected reserved slot to accept message, got %v", err)
		}
	}
	if err := c.Send(&protocol.RemoveEntity{}); err != ErrSendQueueFull {
		t.Errorf("Expected ErrSendQueueFull, got %v", err)
	}
}

// TestCloseAfterFlush tests that queued messages are written before closing
func TestCloseAfterFlush(t *testing.T) {
	a, b := memory.Pipe("a", "b")
	c := New(a, nil, 8)

	c.Send(&protocol.LoginReply{Success: false, Reason: "denied"})
	c.CloseAfterFlush(transport.CloseLoginFailed, "denied")

	_, done := run(t, c)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for Run to return")
	}

	data, err := b.ReadMessage()
	if err != nil {
		t.Fatalf("Expected queued reply, got %v", err)
	}
	id, _, _ := protocol.DecodePacket(data)
	if id != protocol.LoginReplyID {
		t.Errorf("Expected LoginReply, got %s", id)
	}

	code, _, ok := b.CloseReason()
	if !ok || code != transport.CloseLoginFailed {
		t.Errorf("Expected CloseLoginFailed, got %v %v", code, ok)
	}
}

// TestMalformedPacket tests that short packets are dropped
func TestMalformedPacket(t *testing.T) {
	a, b := memory.Pipe("a", "b")
	c := New(a, nil, 8)
	packets, _ := run(t, c)
	defer c.Close(transport.CloseNormal, "")

	b.WriteMessage([]byte{1})
	b.WriteMessage([]byte{114, 0, 1, 0, 0, 0})

	if p := receive(t, packets); p.id != protocol.RemoveEntityID {
		t.Errorf("Expected only the valid packet, got %s", p.id)
	}
}
