package websockets

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/QYUbit/scenesync/pkg/transport"
	"github.com/gorilla/websocket"
)

var closeCodeMap = map[transport.CloseCode]int{
	transport.CloseNormal:        websocket.CloseNormalClosure,
	transport.CloseGoingAway:     websocket.CloseGoingAway,
	transport.CloseProtocolError: websocket.CloseProtocolError,
	transport.CloseLoginFailed:   websocket.ClosePolicyViolation,
}

// Listener accepts websocket connections. It is an http.Handler and can be
// mounted on any mux, or run standalone with Listen.
type Listener struct {
	upgrader    *websocket.Upgrader
	connections chan *websocket.Conn
	done        chan struct{}
	closeOnce   sync.Once
	server      *http.Server
	addr        net.Addr
}

func NewListener(upgrader *websocket.Upgrader) *Listener {
	if upgrader == nil {
		upgrader = &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		}
	}
	return &Listener{
		upgrader:    upgrader,
		connections: make(chan *websocket.Conn),
		done:        make(chan struct{}),
	}
}

// Listen serves websocket upgrades on addr under path.
func Listen(addr, path string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := NewListener(nil)
	mux := http.NewServeMux()
	mux.Handle(path, l)

	l.addr = ln.Addr()
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go l.server.Serve(ln)
	return l, nil
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case l.connections <- conn:
	case <-l.done:
		conn.Close()
	case <-r.Context().Done():
		conn.Close()
	}
}

func (l *Listener) Accept(ctx context.Context) (transport.Peer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, transport.ErrListenerClosed
	case conn := <-l.connections:
		return &Peer{conn: conn}, nil
	}
}

func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.server != nil {
			err = l.server.Close()
		}
	})
	return err
}

func (l *Listener) Addr() net.Addr {
	if l.addr == nil {
		return transport.Addr{Net: "ws", Name: "handler"}
	}
	return l.addr
}

// Dial connects to a websocket listener, url being ws:// or wss://.
func Dial(ctx context.Context, url string) (*Peer, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &Peer{conn: conn}, nil
}

type Peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// ReadMessage skips text messages.
func (p *Peer) ReadMessage() ([]byte, error) {
	for {
		typ, b, err := p.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil, transport.ErrClosed
			}
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (p *Peer) WriteMessage(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.BinaryMessage, b)
}

// SendDatagram writes b reliably, websockets have no unreliable channel.
func (p *Peer) SendDatagram(b []byte) error {
	return p.WriteMessage(b)
}

func (p *Peer) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return nil, transport.ErrDatagramsUnsupported
}

func (p *Peer) Close(code transport.CloseCode, reason string) error {
	wsCode, ok := closeCodeMap[code]
	if !ok {
		wsCode = websocket.CloseNormalClosure
	}

	var lastErr error

	p.writeMu.Lock()
	err := p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(wsCode, reason),
		time.Now().Add(time.Second),
	)
	p.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		lastErr = err
	}

	if err := p.conn.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}
