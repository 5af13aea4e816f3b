//go:build !linux
// +build !linux

package transport

import "net"

// rawFD is unused outside the epoll reactor; the portable (non-Linux)
// reactor drives a connection by direct Read/Write calls rather than
// fd-based readiness multiplexing, so there is nothing meaningful to
// return here.
func rawFD(nc net.Conn) uintptr {
	return 0
}

// setSocketOptions is a no-op off Linux: golang.org/x/sys/unix's
// socket-option constants are platform-specific, and the portable
// reactor never needs OS-level non-blocking mode since it only ever
// drives one connection at a time via the zero-wait-deadline emulation
// in streamConn.Read/Write.
func setSocketOptions(nc net.Conn) error {
	return nil
}

// classifyErrno never matches off Linux for the same reason.
func classifyErrno(err error) bool {
	return false
}
