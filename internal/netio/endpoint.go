// Package netio implements the socket endpoint and connection listener
// that sit beneath every other subsystem: one OS socket plus optional
// TLS per endpoint, and a single receive loop shared by every endpoint
// a connection listener owns.
package netio

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// DataAvailableFunc is invoked once plaintext bytes are available for
// an endpoint. Returning a non-nil error does not tear down the
// endpoint; it is only logged by the listener.
type DataAvailableFunc func(customData interface{}, endpoint *Endpoint, data []byte, src, dst net.Addr) error

// Endpoint owns one OS socket, its local address, an optional peer
// address (set for TCP), and an optional TLS client session wrapping
// the raw connection. It exposes send/recv/close and a data-available
// callback the way spec.md §4.2 describes.
type Endpoint struct {
	mu sync.Mutex

	conn net.Conn
	tls  *tls.Conn

	localAddr net.Addr
	peerAddr  net.Addr

	connectionClosed bool
	receiveData      bool

	onData     DataAvailableFunc
	customData interface{}

	readBuf []byte
}

// NewEndpoint wraps conn. If tlsConfig is non-nil the endpoint performs
// a client TLS handshake over conn and all I/O is routed through the
// TLS session instead of the raw socket.
func NewEndpoint(conn net.Conn, tlsConfig *tls.Config) (*Endpoint, error) {
	ep := &Endpoint{
		conn:      conn,
		localAddr: conn.LocalAddr(),
		peerAddr:  conn.RemoteAddr(),
		readBuf:   make([]byte, 8192),
	}

	if tlsConfig != nil {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			return nil, err
		}
		ep.tls = tlsConn
	}

	return ep, nil
}

// SetDataAvailableFunc installs the callback invoked when plaintext
// bytes arrive, along with opaque customData passed through unchanged.
func (e *Endpoint) SetDataAvailableFunc(customData interface{}, fn DataAvailableFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.customData = customData
	e.onData = fn
	e.receiveData = fn != nil
}

// Send writes b to the underlying socket (or TLS session).
func (e *Endpoint) Send(b []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connectionClosed {
		return 0, net.ErrClosed
	}
	if e.tls != nil {
		return e.tls.Write(b)
	}
	return e.conn.Write(b)
}

// SendTo writes b to dst. Only meaningful for connectionless (UDP) sockets.
func (e *Endpoint) SendTo(b []byte, dst net.Addr) (int, error) {
	if pc, ok := e.conn.(net.PacketConn); ok {
		return pc.WriteTo(b, dst)
	}
	return e.Send(b)
}

// LocalAddr returns the endpoint's local socket address.
func (e *Endpoint) LocalAddr() net.Addr { return e.localAddr }

// PeerAddr returns the endpoint's fixed peer address, if any (TCP only).
func (e *Endpoint) PeerAddr() net.Addr { return e.peerAddr }

// Closed reports whether Close has been called.
func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectionClosed
}

// Close releases the underlying socket. Idempotent.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connectionClosed {
		return nil
	}
	e.connectionClosed = true
	if e.tls != nil {
		return e.tls.Close()
	}
	return e.conn.Close()
}

// setReadDeadline lets the listener poll readability without blocking the
// receive loop on one slow endpoint longer than the configured tick.
func (e *Endpoint) setReadDeadline(d time.Duration) {
	_ = e.conn.SetReadDeadline(time.Now().Add(d))
}

// readOnce reads one datagram (UDP) or one stream chunk (TCP/TLS) into
// the endpoint's scratch buffer, decrypting via TLS if attached, and
// dispatches to the data-available callback when bytes emerge.
func (e *Endpoint) readOnce(logger logging.LeveledLogger) (src net.Addr, n int, err error) {
	if e.tls != nil {
		n, err = e.tls.Read(e.readBuf)
		src = e.peerAddr
		if n > 0 {
			e.dispatch(e.readBuf[:n], src, logger)
		}
		return src, n, err
	}

	if pc, ok := e.conn.(net.PacketConn); ok {
		n, src, err = pc.ReadFrom(e.readBuf)
	} else {
		n, err = e.conn.Read(e.readBuf)
		src = e.peerAddr
	}
	if n > 0 {
		e.dispatch(e.readBuf[:n], src, logger)
	}
	return src, n, err
}

func (e *Endpoint) dispatch(b []byte, src net.Addr, logger logging.LeveledLogger) {
	e.mu.Lock()
	fn, custom, enabled := e.onData, e.customData, e.receiveData
	e.mu.Unlock()
	if !enabled || fn == nil {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	if err := fn(custom, e, cp, src, e.localAddr); err != nil {
		// Protocol-violation class errors are logged and dropped; the
		// connection continues per spec.md §7.
		logger.Warnf("endpoint callback returned error: %v", err)
	}
}
