package rmbtclient

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/nettest-go/engine/calc"
	"github.com/nettest-go/engine/transport"
)

// Barrier is a reusable (cyclic) count-down latch of fixed width,
// spec.md §4.6 ("A barrier of width thread_count is awaited... after
// each phase boundary").
type Barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	width int
	count int
	gen   int
}

// NewBarrier creates a Barrier for width participants.
func NewBarrier(width int) *Barrier {
	b := &Barrier{width: width}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Await blocks until width goroutines have all called Await for the
// current generation, then releases them together.
func (b *Barrier) Await() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.count++
	if b.count == b.width {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// ThreadResult is one worker connection's outcome, spec.md §7 ("the
// coordinator excludes [a failed thread] from the aggregate").
type ThreadResult struct {
	ThreadID        int
	PingMedian      time.Duration
	DownloadSamples []calc.Sample
	UploadSamples   []calc.Sample
	Err             error
}

// Coordinator drives thread_count worker connections to the same
// server through synchronized phases, spec.md §4.6.
type Coordinator struct {
	Addr        string
	Kind        transport.Kind
	TLSConfig   *tls.Config
	ThreadCount int
	Token       string
	DialTimeout time.Duration
	ConnConfig  Config
	Logger      Logger
}

// Run spawns ThreadCount workers and returns once every thread has
// either completed all phases or failed.
func (co *Coordinator) Run() []ThreadResult {
	barrier := NewBarrier(co.ThreadCount)
	results := make([]ThreadResult, co.ThreadCount)
	var wg sync.WaitGroup
	for i := 0; i < co.ThreadCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results[id] = co.runThread(id, barrier)
		}(i)
	}
	wg.Wait()
	return results
}

// runThread drives one worker through greeting, calibration, (thread 0
// only) ping, download, upload, awaiting the shared barrier after each
// boundary, spec.md §4.6 ("Only thread 0 runs the ping phase; the
// others idle at the barrier").
func (co *Coordinator) runThread(id int, barrier *Barrier) ThreadResult {
	res := ThreadResult{ThreadID: id}

	conn, err := transport.Dial(co.Kind, co.Addr, co.TLSConfig, co.DialTimeout)
	if err != nil {
		res.Err = fmt.Errorf("rmbtclient: dial: %w", err)
		barrier.Await()
		barrier.Await()
		barrier.Await()
		barrier.Await()
		barrier.Await()
		return res
	}
	defer conn.Close()

	c := NewConnection(conn, co.Addr, id, co.Token, co.ConnConfig)

	if err := c.RunPhase(phaseGreetingDone); err != nil {
		res.Err = err
	}
	barrier.Await()

	if res.Err == nil {
		if err := c.RunPhase(phaseCalibDone); err != nil {
			res.Err = err
		}
	}
	barrier.Await()

	if res.Err == nil && id == 0 {
		if err := c.RunPhase(phasePingDone); err != nil {
			res.Err = err
		}
	}
	barrier.Await()

	if res.Err == nil {
		if err := c.RunPhase(phaseDownloadDone); err != nil {
			res.Err = err
		}
	}
	barrier.Await()

	if res.Err == nil {
		if err := c.RunPhase(phaseUploadDone); err != nil {
			res.Err = err
		}
	}
	barrier.Await()

	if res.Err == nil {
		_ = c.RunPhase(phaseDone)
	}

	res.PingMedian = c.PingMedian
	res.DownloadSamples = c.DownloadSamples
	res.UploadSamples = c.UploadSamples
	return res
}
