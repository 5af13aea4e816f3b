package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Dial opens a client-side carrier of the requested kind. For the two
// WebSocket kinds the (blocking) HTTP upgrade handshake is performed
// here before the non-blocking Conn is returned, matching spec.md §9
// ("any blocking... handshake is confined to the pre-protocol phase").
func Dial(kind Kind, addr string, tlsCfg *tls.Config, timeout time.Duration) (Conn, error) {
	switch kind {
	case KindPlainTCP:
		return DialTCP(addr, timeout)
	case KindTLS:
		return DialTLS(addr, tlsCfg, timeout)
	case KindWebSocketTCP:
		under, err := DialTCP(addr, timeout)
		if err != nil {
			return nil, err
		}
		return upgradeClientWS(under, addr)
	case KindWebSocketTLS:
		under, err := DialTLS(addr, tlsCfg, timeout)
		if err != nil {
			return nil, err
		}
		return upgradeClientWS(under, addr)
	default:
		return nil, fmt.Errorf("transport: unknown kind %d", kind)
	}
}

// upgradeClientWS performs the blocking WS upgrade handshake over an
// already-connected non-blocking Conn by temporarily borrowing its raw
// fd-free Read/Write in a short retry loop (the handshake is small and
// one-shot, so polling it inline is simpler than threading it through
// the reactor).
func upgradeClientWS(under Conn, host string) (Conn, error) {
	req, key := ClientUpgradeRequest(host, "/rmbt")
	if err := blockingWriteAll(under, []byte(req)); err != nil {
		return nil, fmt.Errorf("transport: ws client handshake write: %w", err)
	}
	raw, err := blockingReadUntil(under, []byte("\r\n\r\n"))
	if err != nil {
		return nil, fmt.Errorf("transport: ws client handshake read: %w", err)
	}
	if err := VerifyServerUpgradeResponse(raw, key); err != nil {
		return nil, err
	}
	return NewWebSocketConn(under, true), nil
}

// blockingWriteAll retries Write against would-block until buf is
// fully flushed; used only for the one-shot handshake exchange.
func blockingWriteAll(c Conn, buf []byte) error {
	pos := 0
	for pos < len(buf) {
		res, err := c.Write(buf[pos:])
		if err != nil {
			return err
		}
		pos += res.N
		if res.WouldBlock || res.N == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

// blockingReadUntil retries Read against would-block until the
// accumulated buffer contains suffix, returning everything read.
func blockingReadUntil(c Conn, suffix []byte) ([]byte, error) {
	var acc []byte
	tmp := make([]byte, 4096)
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := c.Read(tmp)
		if err != nil {
			return nil, err
		}
		if res.N > 0 {
			acc = append(acc, tmp[:res.N]...)
			if hasSuffixSearch(acc, suffix) {
				return acc, nil
			}
		}
		if res.EOF {
			return nil, fmt.Errorf("transport: eof before handshake completed")
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transport: handshake timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func hasSuffixSearch(buf, suffix []byte) bool {
	if len(buf) < len(suffix) {
		return false
	}
	for i := 0; i <= len(buf)-len(suffix); i++ {
		if string(buf[i:i+len(suffix)]) == string(suffix) {
			return true
		}
	}
	return false
}

// AcceptTCP wraps a server-accepted net.Conn as a plain-TCP carrier.
func AcceptTCP(nc net.Conn) Conn { return WrapTCP(nc) }

// AcceptTLS completes a server-side TLS handshake on nc.
func AcceptTLS(nc net.Conn, cfg *tls.Config) (Conn, error) { return WrapTLSServer(nc, cfg) }

// UpgradeServerWS completes a server-side WebSocket upgrade given the
// client's Sec-WebSocket-Key (already parsed from the buffered request
// by the caller's greeting state), and returns the framed Conn.
func UpgradeServerWS(under Conn, secKey string) (Conn, string) {
	return NewWebSocketConn(under, false), WebSocketAcceptResponse(secKey)
}
