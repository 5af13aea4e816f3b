// Package reactor implements the single-threaded readiness poller of
// spec.md §4.2: one reactor per worker, dispatching readable/writable
// events to a connection's phase step function and honoring per-phase
// deadlines.
//
// Grounded on reactor/epoll_reactor.go (fd→callback table, panic-
// recovering dispatch); generalized from "one callback per fd" to
// "one step function per connection, re-armed for whichever direction
// its next phase needs".
package reactor

import (
	"fmt"
	"sync"
	"time"
)

// Interest is the I/O direction a connection wants to be polled for.
type Interest int

const (
	InterestNone Interest = iota
	InterestReadable
	InterestWritable
)

// StepResult is what a connection's step function returns to the
// reactor after being invoked, spec.md §9 ("Error returns thread
// bytes_processed to the reactor to distinguish true progress from
// stalled polls").
type StepResult struct {
	// BytesProcessed is > 0 whenever the step made any I/O progress,
	// used by the deadline tracker to distinguish a stalled connection
	// from one that is making slow-but-real progress.
	BytesProcessed int

	// Next is the interest to re-arm for. Ignored when Done or Fatal.
	Next Interest

	// Done indicates the connection's work is finished and it should
	// be unregistered without being treated as an error.
	Done bool

	// Fatal, if non-nil, means the connection must be dropped.
	Fatal error
}

// Handle is implemented by anything the reactor can drive: a
// connection's current phase step function, invoked with the interest
// that just became ready.
type Handle interface {
	// Step is invoked once per readiness notification with the
	// interest the handle is armed for. The per-tick deadline check
	// does not call Step.
	Step(ready Interest) StepResult

	// Deadline returns the absolute time by which this connection's
	// current phase must make progress, or the zero Time for "no
	// deadline".
	Deadline() time.Time

	// FD is the OS file descriptor to register for readiness, or 0 if
	// this handle has none (e.g. not applicable on this platform).
	FD() uintptr
}

// entry is the reactor's bookkeeping for one registered handle.
type entry struct {
	handle   Handle
	interest Interest
}

// Logger is the minimal logging seam the reactor needs; *logrus.Logger
// satisfies it, but the package does not import logging/nettestlog
// directly to keep this layer dependency-free.
type Logger interface {
	Warnf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warnf(string, ...any) {}

// Reactor drives many connections (server) or one connection (client)
// through their phase step functions. PollIntervalMs bounds how often
// deadlines are rechecked even with no readiness events, spec.md §4.2
// ("A poll timeout of ~10-100ms allows per-connection deadlines to
// fire").
//
// Reactor keys registered handles by OS file descriptor. On Linux that
// is always a real, distinct fd. On other platforms transport.Conn has
// no fd concept (see transport/fd_other.go) and every handle reports
// fd 0; such builds are only correct when at most one handle is
// registered per Reactor, which matches the client's "one reactor per
// connection" worker model (spec.md §5). The server's many-connections-
// per-worker model requires the Linux epoll poller.
type Reactor struct {
	mu             sync.Mutex
	entries        map[uintptr]*entry
	seq            []uintptr // insertion order, for the portable poller
	poller         osPoller
	pollIntervalMs int
	log            Logger
}

// Option configures a Reactor at construction time.
type Option func(*Reactor)

// WithLogger attaches a logger for fatal-connection-drop diagnostics.
func WithLogger(l Logger) Option {
	return func(r *Reactor) { r.log = l }
}

// New creates a reactor using the best available OS poller (epoll on
// Linux) or a portable call-loop fallback elsewhere.
func New(pollIntervalMs int, opts ...Option) (*Reactor, error) {
	if pollIntervalMs <= 0 {
		pollIntervalMs = 20
	}
	p, err := newOSPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor: create poller: %w", err)
	}
	r := &Reactor{
		entries:        make(map[uintptr]*entry),
		poller:         p,
		pollIntervalMs: pollIntervalMs,
		log:            noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register arms h for its initial interest.
func (r *Reactor) Register(h Handle, interest Interest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd := h.FD()
	e := &entry{handle: h, interest: interest}
	r.entries[fd] = e
	r.seq = append(r.seq, fd)
	return r.poller.add(fd, interest)
}

// Unregister removes h from the reactor.
func (r *Reactor) Unregister(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd := h.FD()
	delete(r.entries, fd)
	for i, s := range r.seq {
		if s == fd {
			r.seq = append(r.seq[:i], r.seq[i+1:]...)
			break
		}
	}
	return r.poller.remove(fd)
}

// reregister updates the armed interest for fd after a step advances
// to a new phase, spec.md §3 (Phase invariant: armed for exactly one
// of {readable, writable}).
func (r *Reactor) reregister(fd uintptr, interest Interest) error {
	return r.poller.modify(fd, interest)
}

// RunOnce polls for events once (bounded by PollIntervalMs), dispatches
// ready handles, and checks every registered handle's deadline. It
// returns the number of handles that were dispatched.
func (r *Reactor) RunOnce() (int, error) {
	ready, err := r.poller.wait(r.pollIntervalMs)
	if err != nil {
		return 0, fmt.Errorf("reactor: poll: %w", err)
	}

	dispatched := 0
	now := time.Now()

	r.mu.Lock()
	fds := make([]uintptr, 0, len(ready)+len(r.seq))
	seen := make(map[uintptr]bool, len(ready))
	for _, fd := range ready {
		fds = append(fds, fd)
		seen[fd] = true
	}
	// Deadline-only sweep for handles that did not fire this tick.
	for _, fd := range r.seq {
		if !seen[fd] {
			fds = append(fds, fd)
		}
	}
	entriesSnapshot := make(map[uintptr]*entry, len(fds))
	for _, fd := range fds {
		if e, ok := r.entries[fd]; ok {
			entriesSnapshot[fd] = e
		}
	}
	r.mu.Unlock()

	for _, fd := range fds {
		e, ok := entriesSnapshot[fd]
		if !ok {
			continue
		}
		if !e.handle.Deadline().IsZero() && now.After(e.handle.Deadline()) {
			r.dropFatal(fd, fmt.Errorf("reactor: phase deadline exceeded"))
			continue
		}
		if !seen[fd] {
			continue // no readiness event and deadline not exceeded: nothing to do
		}
		dispatched++
		r.dispatchOne(fd, e)
	}
	return dispatched, nil
}

func (r *Reactor) dispatchOne(fd uintptr, e *entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.dropFatal(fd, fmt.Errorf("reactor: panic in step: %v", rec))
		}
	}()
	res := e.handle.Step(e.interest)
	switch {
	case res.Fatal != nil:
		r.dropFatal(fd, res.Fatal)
	case res.Done:
		_ = r.Unregister(e.handle)
	default:
		if res.Next != e.interest {
			e.interest = res.Next
			_ = r.reregister(fd, res.Next)
		}
	}
}

func (r *Reactor) dropFatal(fd uintptr, err error) {
	r.mu.Lock()
	e, ok := r.entries[fd]
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = r.Unregister(e.handle)
	r.log.Warnf("reactor: dropping connection fd=%d: %v", fd, err)
}

// Close releases the OS poller.
func (r *Reactor) Close() error {
	return r.poller.close()
}

// osPoller is the minimal OS-specific readiness multiplexer interface;
// epoll_linux.go and poll_portable.go provide implementations.
type osPoller interface {
	add(fd uintptr, interest Interest) error
	modify(fd uintptr, interest Interest) error
	remove(fd uintptr) error
	wait(timeoutMs int) (readyFDs []uintptr, err error)
	close() error
}
