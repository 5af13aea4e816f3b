package rmbtserver

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/eapache/queue"

	"github.com/nettest-go/engine/chunkstore"
	"github.com/nettest-go/engine/reactor"
	"github.com/nettest-go/engine/token"
	"github.com/nettest-go/engine/transport"
)

// Server accepts connections on one or more listeners and hands them
// off to a fixed pool of workers, each running its own reactor over
// many connections, spec.md §5 ("parallel worker threads, each running
// one reactor over many connections (server)").
//
// Grounded on core/concurrency/executor.go's stopCh/stoppedCh worker
// lifecycle; the acceptor->worker handoff uses github.com/eapache/queue
// as the cross-thread FIFO behind a mutex+condition variable, matching
// spec.md §5's explicit "FIFO shared... via a mutex+condition-variable
// pair".
type Server struct {
	cfg     Config
	workers []*worker

	mu    sync.Mutex
	cond  *sync.Cond
	q     *queue.Queue
	closed bool
}

// NewServer builds a Server with workerCount reactor workers. metrics
// may be nil, in which case connection-level metrics calls are no-ops.
func NewServer(store *chunkstore.Store, secrets [][]byte, window token.Window, bounds ChunkBounds, workerCount int, log Logger, metrics Metrics) (*Server, error) {
	if workerCount <= 0 {
		workerCount = 1
	}
	if log == nil {
		log = noopLogger{}
	}
	s := &Server{
		cfg: Config{Store: store, Secrets: secrets, Window: window, Bounds: bounds, Logger: log, Metrics: metrics},
		q:   queue.New(),
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workerCount; i++ {
		w, err := newWorker(s)
		if err != nil {
			return nil, fmt.Errorf("rmbtserver: start worker %d: %w", i, err)
		}
		s.workers = append(s.workers, w)
	}
	return s, nil
}

// Start launches every worker's reactor loop on its own goroutine.
func (s *Server) Start() {
	for _, w := range s.workers {
		go w.run()
	}
}

// Close stops every worker and releases their reactors.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	var firstErr error
	for _, w := range s.workers {
		w.stop()
		if err := w.reactor.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ServeTCP accepts plain-TCP connections on ln and enqueues them for
// the workers. It does no TLS; callers run ServeTCP and ServeTLS on
// separate listeners per spec.md §6.3's `-l`/`-L` split.
func (s *Server) ServeTCP(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("rmbtserver: accept: %w", err)
		}
		s.enqueue(transport.AcceptTCP(nc))
	}
}

// ServeTLS accepts and completes the TLS handshake before enqueueing.
func (s *Server) ServeTLS(ln net.Listener, tlsCfg *tls.Config) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("rmbtserver: accept: %w", err)
		}
		conn, err := transport.AcceptTLS(nc, tlsCfg)
		if err != nil {
			s.cfg.Logger.Warnf("rmbtserver: tls handshake failed: %v", err)
			_ = nc.Close()
			continue
		}
		s.enqueue(conn)
	}
}

func (s *Server) enqueue(conn transport.Conn) {
	s.mu.Lock()
	s.q.Add(conn)
	s.cond.Signal()
	s.mu.Unlock()
}

// dequeue blocks until a connection is available or the server closes.
func (s *Server) dequeue() (transport.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.q.Length() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.q.Length() == 0 {
		return nil, false
	}
	conn := s.q.Remove().(transport.Conn)
	return conn, true
}

// worker owns one reactor and repeatedly pulls newly accepted
// connections off the shared queue to register with it, spec.md §4.2
// ("Within a worker, handlers are strictly serial").
type worker struct {
	server  *Server
	reactor *reactor.Reactor
	stopCh  chan struct{}
}

func newWorker(s *Server) (*worker, error) {
	r, err := reactor.New(20, reactor.WithLogger(loggerAdapter{s.cfg.Logger}))
	if err != nil {
		return nil, err
	}
	return &worker{server: s, reactor: r, stopCh: make(chan struct{})}, nil
}

func (w *worker) run() {
	go w.acceptLoop()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if _, err := w.reactor.RunOnce(); err != nil {
			w.server.cfg.Logger.Warnf("rmbtserver: reactor: %v", err)
		}
	}
}

// acceptLoop pulls connections off the server's shared FIFO and
// registers a fresh Connection state machine with this worker's
// reactor. It runs on its own goroutine so a slow dequeue never stalls
// RunOnce's polling cadence.
func (w *worker) acceptLoop() {
	for {
		conn, ok := w.server.dequeue()
		if !ok {
			return
		}
		c := NewConnection(conn, w.server.cfg)
		if err := w.reactor.Register(c, reactor.InterestReadable); err != nil {
			w.server.cfg.Logger.Warnf("rmbtserver: register: %v", err)
			_ = conn.Close()
		}
	}
}

func (w *worker) stop() {
	close(w.stopCh)
}

type loggerAdapter struct{ l Logger }

func (a loggerAdapter) Warnf(format string, args ...any) {
	if a.l != nil {
		a.l.Warnf(format, args...)
	}
}
