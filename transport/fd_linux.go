//go:build linux
// +build linux

package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// rawFD extracts the OS file descriptor backing nc, for epoll
// registration. Grounded on the teacher's reliance on raw fds
// throughout reactor/epoll_reactor.go; net.Conn.(syscall.Conn) is the
// stdlib-sanctioned way to reach it without dropping to a raw socket()
// call ourselves for every carrier (TLS in particular has no public fd
// accessor other than via its embedded net.Conn).
func rawFD(nc net.Conn) uintptr {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return 0
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0
	}
	var fd uintptr
	_ = raw.Control(func(f uintptr) { fd = f })
	return fd
}

// setSocketOptions applies the same socket options the teacher's
// internal/transport/transport_linux.go applies on its own raw
// unix.Socket call (SOCK_NONBLOCK + TCP_NODELAY via SetsockoptInt),
// here via unix syscalls against the fd backing an already-dialed or
// already-accepted net.Conn. Every carrier (DialTCP/WrapTCP/DialTLS/
// WrapTLSServer) runs its fd through this before the Conn is handed to
// a reactor, so the socket is non-blocking at the OS level in addition
// to the zero-wait-deadline emulation streamConn.Read/Write use.
func setSocketOptions(nc net.Conn) error {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("transport: syscallconn: %w", err)
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetNonblock(int(fd), true); err != nil {
			sockErr = fmt.Errorf("transport: set nonblock: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			sockErr = fmt.Errorf("transport: setsockopt TCP_NODELAY: %w", err)
		}
	})
	if ctrlErr != nil {
		return fmt.Errorf("transport: control: %w", ctrlErr)
	}
	return sockErr
}

// classifyErrno reports whether err is the raw EAGAIN/EWOULDBLOCK errno
// the teacher's Recv() path checks directly. stdlib's net.Conn read/
// write normally surfaces a would-block deadline as
// os.ErrDeadlineExceeded, but the errno itself is what the OS actually
// returns underneath, and setSocketOptions above puts the fd in the
// same non-blocking mode the teacher's raw-syscall transport relies on
// for this exact check.
func classifyErrno(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == unix.EAGAIN || errno == unix.EWOULDBLOCK
}
