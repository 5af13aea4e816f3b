// Package chunkstore builds the process-wide immutable chunk buffer
// tables described in spec.md §4.3: one randomized buffer per
// supported chunk size, and a parallel "termination" table whose last
// byte is 0xFF instead of 0x00.
//
// The table is built once at process start and never mutated
// afterward, so readers borrow slices without locking — the teacher's
// buffer pools (pool/base_bufferpool.go) use a similar size-class map
// but additionally recycle buffers via Put; chunk data is never
// recycled here because spec.md requires every contiguous prefix of a
// chunk to stay valid for the lifetime of the process.
package chunkstore

import (
	"fmt"
	"math/rand/v2"

	"github.com/nettest-go/engine/wire"
)

// Store holds one immutable buffer per supported chunk size, keyed by
// size, for both termination-byte roles.
type Store struct {
	more     map[int][]byte
	terminal map[int][]byte
	sizes    []int
}

// sizeSeries returns the power-of-two series [MIN, 2*MIN, ..., MAX].
func sizeSeries() []int {
	var sizes []int
	for s := wire.MinChunkSize; s <= wire.MaxChunkSize; s *= 2 {
		sizes = append(sizes, s)
	}
	return sizes
}

// Build constructs the chunk store. It is intended to run once, before
// any worker starts accepting connections or issuing requests.
func Build() *Store {
	sizes := sizeSeries()
	s := &Store{
		more:     make(map[int][]byte, len(sizes)),
		terminal: make(map[int][]byte, len(sizes)),
		sizes:    sizes,
	}
	for _, size := range sizes {
		s.more[size] = randomBuffer(size, wire.ChunkMore)
		s.terminal[size] = randomBuffer(size, wire.ChunkTerminal)
	}
	return s
}

func randomBuffer(size int, lastByte byte) []byte {
	buf := make([]byte, size)
	// #nosec G404 -- payload content is throughput filler, not security sensitive.
	for i := 0; i < size-1; i++ {
		buf[i] = byte(rand.IntN(256))
	}
	buf[size-1] = lastByte
	return buf
}

// Get returns the immutable buffer of the requested size and role.
// terminal selects the 0xFF-suffixed table. The returned slice must
// not be mutated by the caller.
func (s *Store) Get(size int, terminal bool) ([]byte, error) {
	table := s.more
	if terminal {
		table = s.terminal
	}
	buf, ok := table[size]
	if !ok {
		return nil, fmt.Errorf("chunkstore: unsupported chunk size %d", size)
	}
	return buf, nil
}

// Sizes returns the supported chunk sizes in ascending order.
func (s *Store) Sizes() []int {
	out := make([]int, len(s.sizes))
	copy(out, s.sizes)
	return out
}
