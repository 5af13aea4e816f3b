//go:build linux
// +build linux

package reactor

import (
	"fmt"
	"syscall"
)

// epollPoller implements osPoller using Linux epoll. Grounded directly
// on reactor/epoll_reactor.go's Register/Poll/Close shape.
type epollPoller struct {
	epfd int
}

func newOSPoller() (osPoller, error) {
	epfd, err := syscall.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &epollPoller{epfd: epfd}, nil
}

func epollEvents(interest Interest) uint32 {
	switch interest {
	case InterestReadable:
		return syscall.EPOLLIN
	case InterestWritable:
		return syscall.EPOLLOUT
	default:
		return 0
	}
}

func (p *epollPoller) add(fd uintptr, interest Interest) error {
	if fd == 0 {
		return nil // handles without a real fd (e.g. non-Linux carriers) opt out of epoll
	}
	ev := syscall.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll_ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) modify(fd uintptr, interest Interest) error {
	if fd == 0 {
		return nil
	}
	ev := syscall.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_MOD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod: %w", err)
	}
	return nil
}

func (p *epollPoller) remove(fd uintptr) error {
	if fd == 0 {
		return nil
	}
	if err := syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return fmt.Errorf("epoll_ctl del: %w", err)
	}
	return nil
}

func (p *epollPoller) wait(timeoutMs int) ([]uintptr, error) {
	var events [256]syscall.EpollEvent
	n, err := syscall.EpollWait(p.epfd, events[:], timeoutMs)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	out := make([]uintptr, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, uintptr(events[i].Fd))
	}
	return out, nil
}

func (p *epollPoller) close() error {
	return syscall.Close(p.epfd)
}
