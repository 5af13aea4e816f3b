package rmbtclient

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nettest-go/engine/chunkstore"
	"github.com/nettest-go/engine/transport"
)

func newTestConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	cfg := DefaultConfig(chunkstore.Build())
	c := NewConnection(transport.WrapTCP(clientSide), "server:5005", 0, "tok", cfg)
	return c, serverSide
}

func TestGreetingReachesAcceptedPhase(t *testing.T) {
	c, server := newTestConnection(t)
	defer server.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- c.RunPhase(phaseGreetingDone) }()

	br := bufio.NewReader(server)
	preamble := make([]byte, len("GET /rmbt HTTP/1.1 \r\nConnection: Upgrade \r\nUpgrade: RMBT\r\nRMBT-Version: 1.2.0\r\n\r\n"))
	if _, err := readFull(br, preamble); err != nil {
		t.Fatalf("read preamble: %v", err)
	}

	_, _ = server.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: RMBT\r\n\r\n"))
	_, _ = server.Write([]byte("RMBTv1.5.0\n"))
	_, _ = server.Write([]byte("ACCEPT TOKEN QUIT\n"))

	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read token line: %v", err)
	}
	if line != "TOKEN tok\n" {
		t.Fatalf("token line = %q", line)
	}

	_, _ = server.Write([]byte("OK\n"))
	_, _ = server.Write([]byte("CHUNKSIZE 4096 4096 4194304\n"))
	_, _ = server.Write([]byte("ACCEPT GETCHUNKS GETTIME PUT PUTNORESULT PING QUIT\n"))

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("RunPhase: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("greeting never completed")
	}

	if c.bounds.Min != 4096 || c.bounds.Max != 4194304 {
		t.Fatalf("bounds = %+v, want min=4096 max=4194304", c.bounds)
	}
}

func TestPingPhaseComputesMedian(t *testing.T) {
	c, server := newTestConnection(t)
	defer server.Close()
	c.phase = phasePingSendPing
	c.cfg.PingMaxSamples = 3
	c.cfg.PingMaxDuration = time.Minute

	errCh := make(chan error, 1)
	go func() { errCh <- c.RunPhase(phasePingDone) }()

	br := bufio.NewReader(server)
	for i := 0; i < 3; i++ {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read PING: %v", err)
		}
		if line != "PING\n" {
			t.Fatalf("expected PING, got %q", line)
		}
		_, _ = server.Write([]byte("PONG\n"))
		okLine, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read OK: %v", err)
		}
		if okLine != "OK\n" {
			t.Fatalf("expected OK, got %q", okLine)
		}
		_, _ = server.Write([]byte("TIME 1000000\n"))
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("RunPhase: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ping phase never completed")
	}

	if c.PingMedian <= 0 {
		t.Fatalf("PingMedian = %v, want > 0", c.PingMedian)
	}
	if len(c.pingSamples) != 3 {
		t.Fatalf("len(pingSamples) = %d, want 3", len(c.pingSamples))
	}
}

func TestDownloadRecvChunkRejectsInvalidTerminator(t *testing.T) {
	c, server := newTestConnection(t)
	defer server.Close()
	c.phase = phaseDownloadRecvChunk
	c.AgreedChunkSize = 4096

	errCh := make(chan error, 1)
	go func() { errCh <- c.RunPhase(phaseDownloadDone) }()

	chunk := make([]byte, 4096)
	chunk[len(chunk)-1] = 0x01 // neither ChunkMore (0x00) nor ChunkTerminal (0xFF)
	if _, err := server.Write(chunk); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a fatal protocol error for an invalid terminator byte, got none")
		}
		if !strings.Contains(err.Error(), "invalid chunk terminator") {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("download phase never reported the malformed terminator as fatal")
	}
}

func TestUploadRoundTrip(t *testing.T) {
	c, server := newTestConnection(t)
	defer server.Close()
	c.phase = phaseUploadSendCommand
	c.AgreedChunkSize = 4096
	c.cfg.UploadDuration = time.Nanosecond // first chunk evaluates as terminal immediately

	errCh := make(chan error, 1)
	go func() { errCh <- c.RunPhase(phaseUploadDone) }()

	br := bufio.NewReader(server)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read PUTTIMERESULT: %v", err)
	}
	if line != "PUTTIMERESULT 4096\n" {
		t.Fatalf("command line = %q", line)
	}
	_, _ = server.Write([]byte("OK\n"))

	chunk := make([]byte, 4096)
	if _, err := readFull(br, chunk); err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if chunk[len(chunk)-1] != 0xFF {
		t.Fatalf("last chunk byte = %x, want 0xFF (single-chunk upload is terminal)", chunk[len(chunk)-1])
	}
	_, _ = server.Write([]byte("TIMERESULT (1000000 4096)\n"))

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("RunPhase: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upload phase never completed")
	}

	if len(c.UploadSamples) != 1 || c.UploadSamples[0].BytesTotal != 4096 {
		t.Fatalf("UploadSamples = %+v, want one sample with 4096 bytes", c.UploadSamples)
	}
}

func TestMedianDuration(t *testing.T) {
	cases := []struct {
		in   []time.Duration
		want time.Duration
	}{
		{nil, 0},
		{[]time.Duration{5}, 5},
		{[]time.Duration{3, 1, 2}, 2},
		{[]time.Duration{4, 1, 3, 2}, 2}, // sorted [1,2,3,4] -> (2+3)/2 = 2 (integer division)
	}
	for _, tc := range cases {
		got := medianDuration(tc.in)
		if len(tc.in) == 4 {
			if got != 2 {
				t.Errorf("medianDuration(%v) = %v, want 2", tc.in, got)
			}
			continue
		}
		if got != tc.want {
			t.Errorf("medianDuration(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
