package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/QYUbit/scenesync/pkg/transport"
	"github.com/quic-go/quic-go"
)

var ErrListenerNotInitialized = errors.New("quic listener has not been initialized")

// HandshakeTimeout bounds how long an accepted connection may take to open
// its control stream.
const HandshakeTimeout = 5 * time.Second

var closeCodeMap = map[transport.CloseCode]quic.ApplicationErrorCode{
	transport.CloseNormal:        0x0,
	transport.CloseGoingAway:     0x1,
	transport.CloseProtocolError: 0x2,
	transport.CloseLoginFailed:   0x3,
}

type emptyAddr struct{}

func (emptyAddr) Network() string { return "none" }
func (emptyAddr) String() string  { return "uninitialized" }

func withDatagrams(cfg *quic.Config) *quic.Config {
	if cfg == nil {
		cfg = &quic.Config{}
	} else {
		cfg = cfg.Clone()
	}
	cfg.EnableDatagrams = true
	return cfg
}

// Listener accepts quic connections. Each connection completes its control
// stream handshake on its own goroutine, so a slow peer does not hold up
// the others.
type Listener struct {
	address  string
	tlsCfg   *tls.Config
	quicCfg  *quic.Config
	listener *quic.Listener

	peers     chan *Peer
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func NewListener(addr string, tlsCfg *tls.Config, quicCfg *quic.Config) *Listener {
	return &Listener{
		address: addr,
		tlsCfg:  tlsCfg,
		quicCfg: withDatagrams(quicCfg),
		peers:   make(chan *Peer),
		done:    make(chan struct{}),
	}
}

// Listen creates and starts a listener on addr.
func Listen(addr string, tlsCfg *tls.Config, quicCfg *quic.Config) (*Listener, error) {
	l := NewListener(addr, tlsCfg, quicCfg)
	if err := l.Listen(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Listener) Listen() error {
	ln, err := quic.ListenAddr(l.address, l.tlsCfg, l.quicCfg)
	if err != nil {
		return err
	}
	l.listener = ln
	go l.serve()
	return nil
}

func (l *Listener) serve() {
	for {
		conn, err := l.listener.Accept(context.Background())
		if err != nil {
			if errors.Is(err, quic.ErrServerClosed) {
				err = transport.ErrListenerClosed
			}
			l.shutdown(err)
			return
		}
		go l.handshake(conn)
	}
}

// handshake waits for the control stream. The dialing side opens it with an
// empty hello frame, which is consumed here.
func (l *Listener) handshake(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(conn.Context(), HandshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(closeCodeMap[transport.CloseProtocolError], "no control stream")
		return
	}

	stream.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	if _, err := transport.ReadFrame(stream); err != nil {
		conn.CloseWithError(closeCodeMap[transport.CloseProtocolError], "bad hello")
		return
	}
	stream.SetReadDeadline(time.Time{})

	select {
	case l.peers <- newPeer(conn, stream):
	case <-l.done:
		conn.CloseWithError(closeCodeMap[transport.CloseGoingAway], "listener closed")
	}
}

// Accept returns the next connection that completed its handshake.
func (l *Listener) Accept(ctx context.Context) (transport.Peer, error) {
	if l.listener == nil {
		return nil, ErrListenerNotInitialized
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, l.err
	case p := <-l.peers:
		return p, nil
	}
}

func (l *Listener) shutdown(err error) {
	l.closeOnce.Do(func() {
		l.err = err
		close(l.done)
	})
}

func (l *Listener) Close() error {
	if l.listener == nil {
		return ErrListenerNotInitialized
	}
	l.shutdown(transport.ErrListenerClosed)
	return l.listener.Close()
}

func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return emptyAddr{}
	}
	return l.listener.Addr()
}

// Dial connects to a quic listener and opens the control stream.
func Dial(ctx context.Context, addr string, tlsCfg *tls.Config, quicCfg *quic.Config) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsCfg, withDatagrams(quicCfg))
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(closeCodeMap[transport.CloseProtocolError], "")
		return nil, err
	}

	if err := transport.WriteFrame(stream, nil); err != nil {
		conn.CloseWithError(closeCodeMap[transport.CloseProtocolError], "")
		return nil, err
	}

	return newPeer(conn, stream), nil
}

type Peer struct {
	conn          *quic.Conn
	controlStream *quic.Stream
	writeMu       sync.Mutex
}

func newPeer(conn *quic.Conn, stream *quic.Stream) *Peer {
	return &Peer{
		conn:          conn,
		controlStream: stream,
	}
}

func (p *Peer) ReadMessage() ([]byte, error) {
	return transport.ReadFrame(p.controlStream)
}

func (p *Peer) WriteMessage(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return transport.WriteFrame(p.controlStream, b)
}

// SendDatagram falls back to the control stream when the connection
// refuses the datagram, for example because it exceeds the path MTU.
func (p *Peer) SendDatagram(b []byte) error {
	if err := p.conn.SendDatagram(b); err != nil {
		if p.conn.Context().Err() != nil {
			return err
		}
		return p.WriteMessage(b)
	}
	return nil
}

func (p *Peer) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return p.conn.ReceiveDatagram(ctx)
}

func (p *Peer) Close(code transport.CloseCode, reason string) error {
	appCode, ok := closeCodeMap[code]
	if !ok {
		appCode = 0x0
	}
	return p.conn.CloseWithError(appCode, reason)
}

func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}
