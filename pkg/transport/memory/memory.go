// Package memory is an in-process transport. Reliable packets apply back
// pressure, datagrams are dropped when the receiving buffer is full.
package memory

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/QYUbit/scenesync/pkg/transport"
)

const (
	reliableBuffer = 256
	datagramBuffer = 64
)

type pipe struct {
	done      chan struct{}
	closeOnce sync.Once
	code      transport.CloseCode
	reason    string
}

func (p *pipe) close(code transport.CloseCode, reason string) {
	p.closeOnce.Do(func() {
		p.code = code
		p.reason = reason
		close(p.done)
	})
}

type Peer struct {
	pipe     *pipe
	in       chan []byte
	out      chan []byte
	dgramIn  chan []byte
	dgramOut chan []byte
	local    net.Addr
	remote   net.Addr
}

// Pipe returns two connected peers.
func Pipe(localName, remoteName string) (*Peer, *Peer) {
	p := &pipe{done: make(chan struct{})}
	ab := make(chan []byte, reliableBuffer)
	ba := make(chan []byte, reliableBuffer)
	dab := make(chan []byte, datagramBuffer)
	dba := make(chan []byte, datagramBuffer)

	la := transport.Addr{Net: "memory", Name: localName}
	ra := transport.Addr{Net: "memory", Name: remoteName}

	a := &Peer{pipe: p, in: ba, out: ab, dgramIn: dba, dgramOut: dab, local: la, remote: ra}
	b := &Peer{pipe: p, in: ab, out: ba, dgramIn: dab, dgramOut: dba, local: ra, remote: la}
	return a, b
}

func (p *Peer) ReadMessage() ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	default:
	}

	select {
	case b := <-p.in:
		return b, nil
	case <-p.pipe.done:
		return nil, io.EOF
	}
}

func (p *Peer) WriteMessage(b []byte) error {
	select {
	case <-p.pipe.done:
		return transport.ErrClosed
	default:
	}

	select {
	case p.out <- clone(b):
		return nil
	case <-p.pipe.done:
		return transport.ErrClosed
	}
}

func (p *Peer) SendDatagram(b []byte) error {
	select {
	case <-p.pipe.done:
		return transport.ErrClosed
	default:
	}

	select {
	case p.dgramOut <- clone(b):
	default:
	}
	return nil
}

func (p *Peer) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.dgramIn:
		return b, nil
	case <-p.pipe.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends.
func (p *Peer) Close(code transport.CloseCode, reason string) error {
	p.pipe.close(code, reason)
	return nil
}

// CloseReason reports how the pipe was closed, ok is false while it is open.
func (p *Peer) CloseReason() (code transport.CloseCode, reason string, ok bool) {
	select {
	case <-p.pipe.done:
		return p.pipe.code, p.pipe.reason, true
	default:
		return 0, "", false
	}
}

func (p *Peer) LocalAddr() net.Addr  { return p.local }
func (p *Peer) RemoteAddr() net.Addr { return p.remote }

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

type Listener struct {
	name    string
	pending chan *Peer
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	dialed  int
}

func NewListener(name string) *Listener {
	return &Listener{
		name:    name,
		pending: make(chan *Peer),
		done:    make(chan struct{}),
	}
}

// Dial connects a new peer to the listener and blocks until it is accepted.
func (l *Listener) Dial(ctx context.Context) (*Peer, error) {
	l.mu.Lock()
	l.dialed++
	name := l.name + "-client-" + strconv.Itoa(l.dialed)
	l.mu.Unlock()

	client, server := Pipe(name, l.name)

	select {
	case l.pending <- server:
		return client, nil
	case <-l.done:
		return nil, transport.ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Accept(ctx context.Context) (transport.Peer, error) {
	select {
	case p := <-l.pending:
		return p, nil
	case <-l.done:
		return nil, transport.ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *Listener) Addr() net.Addr {
	return transport.Addr{Net: "memory", Name: l.name}
}
