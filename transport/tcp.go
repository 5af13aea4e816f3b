package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// streamConn adapts any net.Conn (plain TCP or crypto/tls.Conn) to the
// non-blocking Conn contract via a zero-wait deadline on every call.
// Grounded on internal/transport/transport_linux.go's non-blocking
// socket setup, generalized to work over the stdlib net.Conn interface
// so TLS composes without a second code path.
type streamConn struct {
	nc   net.Conn
	kind Kind
	fd   uintptr
}

// DialTCP opens a non-blocking plain-TCP carrier.
func DialTCP(addr string, timeout time.Duration) (Conn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s: %w", addr, err)
	}
	if tcpConn, ok := nc.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return newStreamConn(nc, KindPlainTCP), nil
}

// WrapTCP adapts an already-accepted net.Conn (server side) as a
// plain-TCP carrier.
func WrapTCP(nc net.Conn) Conn {
	if tcpConn, ok := nc.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return newStreamConn(nc, KindPlainTCP)
}

// DialTLS opens a non-blocking TLS-over-TCP carrier. The handshake
// itself is blocking (spec.md §9: "any blocking TLS or WebSocket
// handshake is confined to the pre-protocol phase"); every subsequent
// Read/Write is non-blocking.
func DialTLS(addr string, cfg *tls.Config, timeout time.Duration) (Conn, error) {
	d := net.Dialer{Timeout: timeout}
	raw, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tls %s: %w", addr, err)
	}
	if tcpConn, ok := raw.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	tconn := tls.Client(raw, cfg)
	if err := tconn.Handshake(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("transport: tls handshake: %w", err)
	}
	return newStreamConnFD(tconn, KindTLS, rawFD(raw)), nil
}

// WrapTLSServer completes a server-side TLS handshake over an
// already-accepted connection and wraps it as a TLS carrier.
func WrapTLSServer(nc net.Conn, cfg *tls.Config) (Conn, error) {
	tconn := tls.Server(nc, cfg)
	if err := tconn.Handshake(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("transport: tls server handshake: %w", err)
	}
	return newStreamConnFD(tconn, KindTLS, rawFD(nc)), nil
}

func newStreamConn(nc net.Conn, kind Kind) *streamConn {
	return newStreamConnFD(nc, kind, rawFD(nc))
}

func newStreamConnFD(nc net.Conn, kind Kind, fd uintptr) *streamConn {
	sockConn := nc
	if tc, ok := nc.(*tls.Conn); ok {
		sockConn = tc.NetConn()
	}
	_ = setSocketOptions(sockConn)
	return &streamConn{nc: nc, kind: kind, fd: fd}
}

func (c *streamConn) Read(buf []byte) (ReadResult, error) {
	if err := c.nc.SetReadDeadline(time.Now().Add(pollDeadline)); err != nil {
		return ReadResult{}, fmt.Errorf("transport: set read deadline: %w", err)
	}
	n, err := c.nc.Read(buf)
	if err == nil {
		return ReadResult{N: n}, nil
	}
	wouldBlock, eof := classify(err)
	if wouldBlock || eof {
		return ReadResult{N: n, WouldBlock: wouldBlock, EOF: eof}, nil
	}
	return ReadResult{}, fmt.Errorf("transport: read: %w", err)
}

func (c *streamConn) Write(buf []byte) (WriteResult, error) {
	if len(buf) == 0 {
		return WriteResult{}, nil
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(pollDeadline)); err != nil {
		return WriteResult{}, fmt.Errorf("transport: set write deadline: %w", err)
	}
	n, err := c.nc.Write(buf)
	if err == nil {
		return WriteResult{N: n}, nil
	}
	wouldBlock, _ := classify(err)
	if wouldBlock {
		return WriteResult{N: n, WouldBlock: true}, nil
	}
	return WriteResult{}, fmt.Errorf("transport: write: %w", err)
}

func (c *streamConn) Close() error { return c.nc.Close() }

func (c *streamConn) RawFD() uintptr { return c.fd }

func (c *streamConn) Kind() Kind { return c.kind }
