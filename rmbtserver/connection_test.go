package rmbtserver

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nettest-go/engine/chunkstore"
	"github.com/nettest-go/engine/reactor"
	"github.com/nettest-go/engine/token"
	"github.com/nettest-go/engine/transport"
)

func newTestConnection(t *testing.T, secrets [][]byte) (*Connection, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	store := chunkstore.Build()
	cfg := Config{
		Store:   store,
		Secrets: secrets,
		Window:  token.DefaultWindow,
		Bounds:  ChunkBounds{Default: 4096, Min: 4096, Max: 4194304},
	}
	c := NewConnection(transport.WrapTCP(serverSide), cfg)
	return c, clientSide
}

// driveUntilBlocked repeatedly steps c until it finishes, errors, or
// timeout elapses, sleeping briefly after any step that made no
// progress; would-block results do not end the loop.
func driveUntilBlocked(t *testing.T, c *Connection, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res := c.Step(reactor.InterestReadable)
		if res.Fatal != nil {
			t.Fatalf("connection fatal: %v", res.Fatal)
		}
		if res.Done {
			return
		}
		if res.BytesProcessed == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestGreetingPlainTCPThenQuit(t *testing.T) {
	secret := []byte("topsecret")
	c, client := newTestConnection(t, [][]byte{secret})
	defer client.Close()

	done := make(chan struct{})
	go func() {
		driveUntilBlocked(t, c, 2*time.Second)
		close(done)
	}()

	_, _ = client.Write([]byte("GET /rmbt HTTP/1.1 \r\nConnection: Upgrade \r\nUpgrade: RMBT\r\nRMBT-Version: 1.2.0\r\n\r\n"))

	br := bufio.NewReader(client)
	readLine := func() string {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read line: %v", err)
		}
		return line
	}

	upgrade := make([]byte, len("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: RMBT\r\n\r\n"))
	if _, err := readFull(br, upgrade); err != nil {
		t.Fatalf("read upgrade: %v", err)
	}
	if !strings.Contains(string(upgrade), "101 Switching Protocols") {
		t.Fatalf("unexpected upgrade response: %q", upgrade)
	}

	if line := readLine(); line != "RMBTv1.5.0\n" {
		t.Fatalf("version line = %q", line)
	}
	if line := readLine(); line != "ACCEPT TOKEN QUIT\n" {
		t.Fatalf("accept-token line = %q", line)
	}

	tok := token.Mint(time.Now(), secret)
	_, _ = client.Write([]byte("TOKEN " + tok.Encode() + "\n"))

	if line := readLine(); line != "OK\n" {
		t.Fatalf("ok line = %q", line)
	}
	if line := readLine(); line != "CHUNKSIZE 4096 4096 4194304\n" {
		t.Fatalf("chunksize line = %q", line)
	}
	if line := readLine(); line != "ACCEPT GETCHUNKS GETTIME PUT PUTNORESULT PING QUIT\n" {
		t.Fatalf("accept-commands line = %q", line)
	}

	_, _ = client.Write([]byte("QUIT\n"))
	if line := readLine(); line != "BYE\n" {
		t.Fatalf("bye line = %q", line)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never reached Done")
	}
}

func TestGetChunksDeliversExactBytes(t *testing.T) {
	secret := []byte("s")
	c, client := newTestConnection(t, [][]byte{secret})
	defer client.Close()

	go driveUntilBlocked(t, c, 3*time.Second)

	br := bufio.NewReader(client)
	_, _ = client.Write([]byte("GET /rmbt HTTP/1.1 \r\nConnection: Upgrade \r\nUpgrade: RMBT\r\nRMBT-Version: 1.2.0\r\n\r\n"))
	_, _ = readFull(br, make([]byte, len("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: RMBT\r\n\r\n")))
	_, _ = br.ReadString('\n') // version
	_, _ = br.ReadString('\n') // accept token

	tok := token.Mint(time.Now(), secret)
	_, _ = client.Write([]byte("TOKEN " + tok.Encode() + "\n"))
	_, _ = br.ReadString('\n') // OK
	_, _ = br.ReadString('\n') // CHUNKSIZE
	_, _ = br.ReadString('\n') // ACCEPT

	_, _ = client.Write([]byte("GETCHUNKS 1 4096\n"))
	buf := make([]byte, 4096)
	if _, err := readFull(br, buf); err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if buf[len(buf)-1] != 0xFF {
		t.Fatalf("last chunk byte = %x, want 0xFF (single-chunk burst is terminal)", buf[len(buf)-1])
	}
	_, _ = client.Write([]byte("OK\n"))
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read TIME: %v", err)
	}
	if !strings.HasPrefix(line, "TIME ") {
		t.Fatalf("expected TIME line, got %q", line)
	}
}

// doGreeting drives client through the RMBT-over-TCP upgrade, token
// exchange, and ACCEPT line, leaving the connection ready for a
// GETCHUNKS/GETTIME/PUT-family/PING command.
func doGreeting(t *testing.T, br *bufio.Reader, client net.Conn, secret []byte) {
	t.Helper()
	_, _ = client.Write([]byte("GET /rmbt HTTP/1.1 \r\nConnection: Upgrade \r\nUpgrade: RMBT\r\nRMBT-Version: 1.2.0\r\n\r\n"))
	if _, err := readFull(br, make([]byte, len("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: RMBT\r\n\r\n"))); err != nil {
		t.Fatalf("read upgrade: %v", err)
	}
	if _, err := br.ReadString('\n'); err != nil { // version
		t.Fatalf("read version: %v", err)
	}
	if _, err := br.ReadString('\n'); err != nil { // accept token
		t.Fatalf("read accept-token: %v", err)
	}
	tok := token.Mint(time.Now(), secret)
	_, _ = client.Write([]byte("TOKEN " + tok.Encode() + "\n"))
	if line, err := br.ReadString('\n'); err != nil || line != "OK\n" {
		t.Fatalf("read OK: line=%q err=%v", line, err)
	}
	if _, err := br.ReadString('\n'); err != nil { // CHUNKSIZE
		t.Fatalf("read chunksize: %v", err)
	}
	if _, err := br.ReadString('\n'); err != nil { // ACCEPT
		t.Fatalf("read accept-commands: %v", err)
	}
}

func TestPutNoResultRoundTrip(t *testing.T) {
	secret := []byte("s")
	c, client := newTestConnection(t, [][]byte{secret})
	defer client.Close()

	go driveUntilBlocked(t, c, 3*time.Second)

	br := bufio.NewReader(client)
	doGreeting(t, br, client, secret)

	_, _ = client.Write([]byte("PUTNORESULT 4096\n"))
	if line, err := br.ReadString('\n'); err != nil || line != "OK\n" {
		t.Fatalf("read OK: line=%q err=%v", line, err)
	}

	chunk := make([]byte, 4096)
	chunk[len(chunk)-1] = 0xFF
	if _, err := client.Write(chunk); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read TIME: %v", err)
	}
	if !strings.HasPrefix(line, "TIME ") {
		t.Fatalf("expected TIME line, got %q", line)
	}
}

// driveExpectFatal steps c until it reports a fatal error or the
// timeout elapses, returning that error (nil on timeout).
func driveExpectFatal(t *testing.T, c *Connection, timeout time.Duration) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res := c.Step(reactor.InterestReadable)
		if res.Fatal != nil {
			return res.Fatal
		}
		if res.Done {
			return nil
		}
		if res.BytesProcessed == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

func TestPutRecvChunkRejectsInvalidTerminator(t *testing.T) {
	secret := []byte("s")
	c, client := newTestConnection(t, [][]byte{secret})
	defer client.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- driveExpectFatal(t, c, 3*time.Second) }()

	br := bufio.NewReader(client)
	doGreeting(t, br, client, secret)

	_, _ = client.Write([]byte("PUT 4096\n"))
	if line, err := br.ReadString('\n'); err != nil || line != "OK\n" {
		t.Fatalf("read OK: line=%q err=%v", line, err)
	}

	chunk := make([]byte, 4096)
	chunk[len(chunk)-1] = 0x01 // neither ChunkMore (0x00) nor ChunkTerminal (0xFF)
	if _, err := client.Write(chunk); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a fatal protocol error for an invalid terminator byte, got none")
		}
		if !strings.Contains(err.Error(), "invalid chunk terminator") {
			t.Fatalf("unexpected fatal error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("connection never reported the malformed terminator as fatal")
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
