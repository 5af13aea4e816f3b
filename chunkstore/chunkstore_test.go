package chunkstore

import (
	"testing"

	"github.com/nettest-go/engine/wire"
)

func TestBuildCoversAllSizes(t *testing.T) {
	s := Build()
	for size := wire.MinChunkSize; size <= wire.MaxChunkSize; size *= 2 {
		more, err := s.Get(size, false)
		if err != nil {
			t.Fatalf("Get(%d, false): %v", size, err)
		}
		if len(more) != size {
			t.Fatalf("size %d: got len %d", size, len(more))
		}
		if more[size-1] != wire.ChunkMore {
			t.Fatalf("size %d: last byte = %#x, want 0x00", size, more[size-1])
		}

		term, err := s.Get(size, true)
		if err != nil {
			t.Fatalf("Get(%d, true): %v", size, err)
		}
		if term[size-1] != wire.ChunkTerminal {
			t.Fatalf("size %d: last byte = %#x, want 0xFF", size, term[size-1])
		}
	}
}

func TestGetUnsupportedSize(t *testing.T) {
	s := Build()
	if _, err := s.Get(100, false); err == nil {
		t.Fatal("expected error for unsupported size")
	}
}

func TestSizesAscending(t *testing.T) {
	s := Build()
	sizes := s.Sizes()
	for i := 1; i < len(sizes); i++ {
		if sizes[i] != sizes[i-1]*2 {
			t.Fatalf("sizes not a power-of-two series: %v", sizes)
		}
	}
	if sizes[0] != wire.MinChunkSize || sizes[len(sizes)-1] != wire.MaxChunkSize {
		t.Fatalf("sizes bounds wrong: %v", sizes)
	}
}
