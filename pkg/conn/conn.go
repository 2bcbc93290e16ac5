// Package conn runs the I/O pumps of a single transport peer. Reads are
// handed to a callback, writes go through a bounded queue so callers never
// block on the network. The last quarter of the queue is kept for callers
// that do not check Backlogged first.
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/QYUbit/scenesync/pkg/axlog"
	"github.com/QYUbit/scenesync/pkg/protocol"
	"github.com/QYUbit/scenesync/pkg/transport"
	"golang.org/x/sync/errgroup"
)

var (
	ErrConnClosed    = errors.New("connection is already closed")
	ErrSendQueueFull = errors.New("send queue is full")
	errStopped       = errors.New("connection stopped")
)

const DefaultQueueSize = 1024

// Handler receives every decoded packet header. It runs on a pump goroutine.
type Handler func(id protocol.ID, payload []byte)

type outgoing struct {
	data     []byte
	reliable bool
	close    *closeRequest
}

type closeRequest struct {
	code   transport.CloseCode
	reason string
}

type Conn struct {
	peer   transport.Peer
	logger axlog.Logger
	queue  chan outgoing

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func New(peer transport.Peer, logger axlog.Logger, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Conn{
		peer:   peer,
		logger: axlog.With(logger),
		queue:  make(chan outgoing, queueSize),
		done:   make(chan struct{}),
	}
}

// ==================================================================
// Lifecycle
// ==================================================================

// Run pumps the peer until it disconnects, ctx is cancelled or Close is
// called. A clean disconnect returns nil.
func (c *Conn) Run(ctx context.Context, handle Handler) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.read(handle)
	})
	g.Go(func() error {
		return c.readDatagrams(ctx, handle)
	})
	g.Go(func() error {
		return c.write(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.Close(transport.CloseNormal, "")
		return errStopped
	})

	err := g.Wait()
	if errors.Is(err, errStopped) || errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}

// Close closes the peer immediately, queued messages are discarded.
func (c *Conn) Close(code transport.CloseCode, reason string) (err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.peer.Close(code, reason)
	})
	return
}

// CloseAfterFlush closes the peer once everything queued before it is written.
func (c *Conn) CloseAfterFlush(code transport.CloseCode, reason string) error {
	return c.enqueue(outgoing{close: &closeRequest{code: code, reason: reason}})
}

// IsClosed reports whether a connection is closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.peer.RemoteAddr()
}

// ==================================================================
// Send
// ==================================================================

// Send encodes msg and queues it. Unreliable messages use datagrams.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.EncodePacket(msg)
	if err != nil {
		return err
	}
	return c.enqueue(outgoing{data: data, reliable: msg.Delivery().Reliable})
}

// Backlogged reports whether the queue is filled past its bulk share. Bulk
// senders should stop and retry later so single messages still fit.
func (c *Conn) Backlogged() bool {
	return len(c.queue) >= cap(c.queue)-cap(c.queue)/4
}

func (c *Conn) enqueue(out outgoing) error {
	if c.IsClosed() {
		return ErrConnClosed
	}
	select {
	case c.queue <- out:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// ==================================================================
// Pumps
// ==================================================================

func (c *Conn) read(handle Handler) error {
	for {
		data, err := c.peer.ReadMessage()
		if err != nil {
			if c.IsClosed() {
				c.logger.Debug("connection closed, stopping reader")
				return errStopped
			}
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				c.logger.Debug("peer disconnected", "peer", c.peer.RemoteAddr())
				return io.EOF
			}
			return fmt.Errorf("receive reliable message: %w", err)
		}
		c.dispatch(data, handle)
	}
}

func (c *Conn) readDatagrams(ctx context.Context, handle Handler) error {
	for {
		data, err := c.peer.ReceiveDatagram(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrDatagramsUnsupported) {
				return nil
			}
			if ctx.Err() != nil || c.IsClosed() {
				c.logger.Debug("context cancelled, stopping unreliable reader")
				return nil
			}
			c.logger.Debug("peer disconnected (unreliable)", "error", err)
			return nil
		}
		c.dispatch(data, handle)
	}
}

func (c *Conn) dispatch(data []byte, handle Handler) {
	id, payload, err := protocol.DecodePacket(data)
	if err != nil {
		c.logger.Warn("dropping malformed packet", "peer", c.peer.RemoteAddr(), "error", err)
		return
	}
	handle(id, payload)
}

func (c *Conn) write(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-c.queue:
			if out.close != nil {
				c.Close(out.close.code, out.close.reason)
				return errStopped
			}

			var err error
			if out.reliable {
				err = c.peer.WriteMessage(out.data)
			} else {
				err = c.peer.SendDatagram(out.data)
			}
			if err != nil {
				if c.IsClosed() {
					return errStopped
				}
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
}
