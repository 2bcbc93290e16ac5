// Package transport abstracts the connections scenesync runs on. A Peer
// carries reliable ordered packets and, where the protocol allows it,
// unreliable datagrams.
package transport

import (
	"context"
	"errors"
	"net"
)

var (
	ErrClosed               = errors.New("transport: connection closed")
	ErrListenerClosed       = errors.New("transport: listener closed")
	ErrDatagramsUnsupported = errors.New("transport: datagrams not supported")
	ErrFrameTooLarge        = errors.New("transport: frame too large")
)

// CloseCode is sent to the remote side when a peer is closed.
type CloseCode uint32

const (
	CloseNormal CloseCode = iota
	CloseGoingAway
	CloseProtocolError
	CloseLoginFailed
)

type Peer interface {
	// ReadMessage blocks until the next reliable packet arrives.
	ReadMessage() ([]byte, error)

	// WriteMessage sends a packet reliably and in order.
	WriteMessage(p []byte) error

	// SendDatagram sends a packet without delivery guarantees. Transports
	// without datagrams send it reliably instead.
	SendDatagram(p []byte) error

	// ReceiveDatagram returns ErrDatagramsUnsupported when the transport
	// has no unreliable channel.
	ReceiveDatagram(ctx context.Context) ([]byte, error)

	Close(code CloseCode, reason string) error
	RemoteAddr() net.Addr
}

type Listener interface {
	Accept(ctx context.Context) (Peer, error)
	Close() error
	Addr() net.Addr
}

// Addr is a net.Addr for transports without a socket address.
type Addr struct {
	Net  string
	Name string
}

func (a Addr) Network() string { return a.Net }
func (a Addr) String() string  { return a.Name }
