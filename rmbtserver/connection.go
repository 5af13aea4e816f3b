package rmbtserver

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nettest-go/engine/chunkstore"
	"github.com/nettest-go/engine/reactor"
	"github.com/nettest-go/engine/token"
	"github.com/nettest-go/engine/transport"
	"github.com/nettest-go/engine/wire"
)

// Logger is the minimal logging seam a Connection needs.
type Logger interface {
	Warnf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warnf(string, ...any) {}

// Metrics is the minimal metrics seam a Connection needs; a
// *metrics.Registry bound to the "server" role via ForRole satisfies
// it without this package importing prometheus directly.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	BytesObserved(phase, direction string, n int)
	PhaseObserved(phase string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()                            {}
func (noopMetrics) ConnectionClosed()                             {}
func (noopMetrics) BytesObserved(phase, direction string, n int) {}
func (noopMetrics) PhaseObserved(phase string, seconds float64)  {}

// ChunkBounds configures the sizes a Connection will accept and the
// default used when a command omits one, spec.md §4.4 step 6.
type ChunkBounds struct {
	Default, Min, Max int
}

// Config bundles the per-server parameters a Connection needs beyond
// the raw socket.
type Config struct {
	Store        *chunkstore.Store
	Secrets      [][]byte
	Window       token.Window
	Bounds       ChunkBounds
	PhaseTimeout time.Duration
	Logger       Logger
	Metrics      Metrics
}

// lineWriter streams a fixed text buffer across possibly many would-
// block resumptions, spec.md §4.5 cursor discipline generalized to the
// server's own outbound lines.
type lineWriter struct {
	buf []byte
	pos int
}

func (w *lineWriter) start(s string) { w.buf = []byte(s); w.pos = 0 }
func (w *lineWriter) active() bool   { return w.buf != nil }

func (w *lineWriter) step(c transport.Conn) (n int, wouldBlock, done bool, err error) {
	res, err := c.Write(w.buf[w.pos:])
	if err != nil {
		return res.N, false, false, err
	}
	w.pos += res.N
	if w.pos >= len(w.buf) {
		w.buf = nil
		return res.N, false, true, nil
	}
	return res.N, res.WouldBlock, false, nil
}

// Connection is one accepted socket's protocol state machine. It
// implements reactor.Handle.
type Connection struct {
	conn   transport.Conn
	store  *chunkstore.Store
	secrets [][]byte
	window token.Window
	bounds ChunkBounds
	phaseTimeout time.Duration
	log    Logger
	metrics Metrics

	cmdName string

	phase    phase
	deadline time.Time
	metricsClosed bool

	wline   lineWriter
	pending []byte // unconsumed bytes already read from conn

	clientToken token.Token
	secKey      string
	isWebSocket bool

	chunkSize       int
	chunksRemaining int
	sendTerminal    bool
	clockStart      time.Time
	burstDeadline   time.Time

	recvBuf   []byte
	recvPos   int
	recvTotal int64
	samples   []wire.Sample
	pendingLine string

	fatalErr error
}

// NewConnection wraps an accepted, not-yet-upgraded socket.
func NewConnection(conn transport.Conn, cfg Config) *Connection {
	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}
	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	pt := cfg.PhaseTimeout
	if pt <= 0 {
		pt = 30 * time.Second
	}
	c := &Connection{
		conn:         conn,
		store:        cfg.Store,
		secrets:      cfg.Secrets,
		window:       cfg.Window,
		bounds:       cfg.Bounds,
		phaseTimeout: pt,
		log:          log,
		metrics:      m,
		phase:        phaseGreetingReadRequest,
	}
	c.armDeadline()
	c.metrics.ConnectionOpened()
	return c
}

func (c *Connection) armDeadline() { c.deadline = time.Now().Add(c.phaseTimeout) }

// FD implements reactor.Handle.
func (c *Connection) FD() uintptr { return c.conn.RawFD() }

// Deadline implements reactor.Handle.
func (c *Connection) Deadline() time.Time { return c.deadline }

// Step implements reactor.Handle, running the state machine forward
// until it would block, finishes, or hits a fatal error.
func (c *Connection) Step(ready reactor.Interest) reactor.StepResult {
	total := 0
	for {
		if c.phase == phaseDone {
			c.closeMetrics()
			return reactor.StepResult{BytesProcessed: total, Done: true}
		}
		n, wb, interest, err := c.advance()
		total += n
		if err != nil {
			c.closeMetrics()
			return reactor.StepResult{BytesProcessed: total, Fatal: err}
		}
		if wb {
			return reactor.StepResult{BytesProcessed: total, Next: interest}
		}
		c.armDeadline()
	}
}

// closeMetrics decrements the active-connections gauge exactly once,
// whether the connection finished cleanly (QUIT) or was dropped fatally.
func (c *Connection) closeMetrics() {
	if c.metricsClosed {
		return
	}
	c.metricsClosed = true
	c.metrics.ConnectionClosed()
}

// advance runs exactly one phase step function. It returns would-block
// with the interest to re-arm for when no further progress is
// possible this call.
func (c *Connection) advance() (n int, wouldBlock bool, interest reactor.Interest, err error) {
	switch c.phase {
	case phaseGreetingReadRequest:
		return c.stepGreetingReadRequest()
	case phaseGreetingWriteUpgrade:
		return c.stepGreetingWriteUpgrade()
	case phaseGreetingWriteVersion:
		return c.stepWriteLine(wire.GreetingVersion, phaseGreetingWriteAcceptToken)
	case phaseGreetingWriteAcceptToken:
		return c.stepWriteLine(wire.AcceptTokenLine, phaseGreetingReadToken)
	case phaseGreetingReadToken:
		return c.stepGreetingReadToken()
	case phaseGreetingWriteOK:
		return c.stepWriteLine(wire.OKLine, phaseGreetingWriteChunksize)
	case phaseGreetingWriteChunksize:
		line := wire.ChunksizeLine(c.bounds.Default, c.bounds.Min, c.bounds.Max)
		return c.stepWriteLine(line, phaseAcceptWriteCommands)
	case phaseAcceptWriteCommands:
		return c.stepWriteLine(wire.AcceptCommands, phaseAcceptReadCommand)
	case phaseAcceptReadCommand:
		return c.stepAcceptReadCommand()

	case phaseGetChunksSendChunk:
		return c.stepGetChunksSendChunk()
	case phaseGetChunksAwaitOK:
		return c.stepAwaitOK(phaseGetChunksSendTime)
	case phaseGetChunksSendTime:
		return c.stepSendTimeAndLoop()

	case phaseGetTimeSendChunk:
		return c.stepGetTimeSendChunk()
	case phaseGetTimeAwaitOK:
		return c.stepAwaitOK(phaseGetTimeSendTime)
	case phaseGetTimeSendTime:
		return c.stepSendTimeAndLoop()

	case phasePingSendPong:
		return c.stepWriteLine(wire.PongLine, phasePingAwaitOK)
	case phasePingAwaitOK:
		if c.clockStart.IsZero() {
			c.clockStart = time.Now()
		}
		return c.stepAwaitOK(phasePingSendTime)
	case phasePingSendTime:
		return c.stepSendTimeAndLoop()

	case phasePutSendOK:
		return c.stepWriteLine(wire.OKLine, phasePutRecvChunk)
	case phasePutRecvChunk:
		return c.stepPutRecvChunk()
	case phasePutSendIntermediateTime:
		return c.stepWriteLine(c.pendingLine, phasePutRecvChunk)
	case phasePutSendFinalTime:
		return c.stepWriteLine(c.pendingLine, phaseAcceptWriteCommands)

	case phasePutNoResultSendOK:
		return c.stepWriteLine(wire.OKLine, phasePutNoResultRecvChunk)
	case phasePutNoResultRecvChunk:
		return c.stepPutNoResultRecvChunk()
	case phasePutNoResultSendTime:
		return c.stepWriteLine(c.pendingLine, phaseAcceptWriteCommands)

	case phasePutTimeResultSendOK:
		return c.stepWriteLine(wire.OKLine, phasePutTimeResultRecvChunk)
	case phasePutTimeResultRecvChunk:
		return c.stepPutTimeResultRecvChunk()
	case phasePutTimeResultSendResult:
		return c.stepWriteLine(c.pendingLine, phaseAcceptWriteCommands)

	case phaseQuitSendBye:
		return c.stepWriteLineThenDone(wire.ByeLine)

	case phaseErrSendAndContinue:
		return c.stepWriteLine(wire.ErrLine, phaseAcceptReadCommand)

	default:
		return 0, false, 0, fmt.Errorf("rmbtserver: unhandled phase %d", c.phase)
	}
}

// stepWriteLine drives the generic lineWriter, starting it on first
// entry to the phase and transitioning to next once fully flushed.
func (c *Connection) stepWriteLine(text string, next phase) (int, bool, reactor.Interest, error) {
	if !c.wline.active() {
		c.wline.start(text)
	}
	n, wb, done, err := c.wline.step(c.conn)
	if err != nil {
		return n, false, 0, fmt.Errorf("rmbtserver: write: %w", err)
	}
	if wb {
		return n, true, reactor.InterestWritable, nil
	}
	if done {
		c.phase = next
	}
	return n, false, 0, nil
}

func (c *Connection) stepWriteLineThenDone(text string) (int, bool, reactor.Interest, error) {
	if !c.wline.active() {
		c.wline.start(text)
	}
	n, wb, done, err := c.wline.step(c.conn)
	if err != nil {
		return n, false, 0, fmt.Errorf("rmbtserver: write: %w", err)
	}
	if wb {
		return n, true, reactor.InterestWritable, nil
	}
	if done {
		_ = c.conn.Close()
		c.phase = phaseDone
	}
	return n, false, 0, nil
}

// fill reads once more from the connection into c.pending.
func (c *Connection) fill() (n int, wb, eof bool, err error) {
	tmp := make([]byte, 64*1024)
	res, err := c.conn.Read(tmp)
	if err != nil {
		return 0, false, false, err
	}
	if res.N > 0 {
		c.pending = append(c.pending, tmp[:res.N]...)
	}
	return res.N, res.WouldBlock, res.EOF, nil
}

// readUntil accumulates c.pending until it contains suffix, then
// returns everything up to and including suffix (consuming it from
// pending) on success.
func (c *Connection) readUntil(suffix []byte) (line []byte, n int, wb bool, err error) {
	if idx := bytes.Index(c.pending, suffix); idx >= 0 {
		end := idx + len(suffix)
		line = append([]byte(nil), c.pending[:end]...)
		c.pending = c.pending[end:]
		return line, 0, false, nil
	}
	rn, rwb, eof, rerr := c.fill()
	if rerr != nil {
		return nil, 0, false, fmt.Errorf("rmbtserver: read: %w", rerr)
	}
	if eof {
		return nil, rn, false, fmt.Errorf("rmbtserver: eof before %q", suffix)
	}
	if rwb {
		return nil, rn, true, nil
	}
	if idx := bytes.Index(c.pending, suffix); idx >= 0 {
		end := idx + len(suffix)
		line = append([]byte(nil), c.pending[:end]...)
		c.pending = c.pending[end:]
		return line, rn, false, nil
	}
	return nil, rn, false, nil // progress made, but not complete yet; caller loops
}

func (c *Connection) stepGreetingReadRequest() (int, bool, reactor.Interest, error) {
	line, n, wb, err := c.readUntil([]byte("\r\n\r\n"))
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if line == nil {
		return n, false, 0, nil // partial progress, loop again
	}
	parsed, perr := transport.ParseUpgradeRequest(line)
	if perr != nil {
		return n, false, 0, fmt.Errorf("rmbtserver: greeting: %w", perr)
	}
	c.isWebSocket = parsed.IsWebSocket
	c.secKey = parsed.SecKey
	c.phase = phaseGreetingWriteUpgrade
	return n, false, 0, nil
}

// stepGreetingWriteUpgrade sends the upgrade acknowledgement, wrapping
// the connection in WebSocket framing exactly once (on first entry to
// this phase, before the lineWriter starts draining) if the greeting
// request asked for it.
func (c *Connection) stepGreetingWriteUpgrade() (int, bool, reactor.Interest, error) {
	if !c.wline.active() {
		text := wire.UpgradeResponse
		if c.isWebSocket {
			framed, resp := transport.UpgradeServerWS(c.conn, c.secKey)
			c.conn = framed
			text = resp
		}
		c.wline.start(text)
	}
	n, wb, done, err := c.wline.step(c.conn)
	if err != nil {
		return n, false, 0, fmt.Errorf("rmbtserver: write: %w", err)
	}
	if wb {
		return n, true, reactor.InterestWritable, nil
	}
	if done {
		c.phase = phaseGreetingWriteVersion
	}
	return n, false, 0, nil
}

func (c *Connection) stepGreetingReadToken() (int, bool, reactor.Interest, error) {
	line, n, wb, err := c.readUntil([]byte("\n"))
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if line == nil {
		return n, false, 0, nil
	}
	cmd, cerr := wire.ParseCommandLine(string(line))
	if cerr != nil || cmd.Name != "TOKEN" || len(cmd.Args) != 1 {
		return n, false, 0, fmt.Errorf("rmbtserver: expected TOKEN line, got %q", line)
	}
	tok, perr := token.Parse(cmd.Args[0])
	if perr != nil {
		return n, false, 0, fmt.Errorf("rmbtserver: %w", perr)
	}
	verdict := token.Validate(tok, c.secrets, c.window, time.Now())
	if !verdict.Valid {
		return n, false, 0, fmt.Errorf("rmbtserver: token rejected: %w", verdict.Err)
	}
	if !verdict.DelayUntil.IsZero() {
		time.Sleep(time.Until(verdict.DelayUntil))
	}
	c.clientToken = tok
	c.phase = phaseGreetingWriteOK
	return n, false, 0, nil
}

func (c *Connection) stepAcceptReadCommand() (int, bool, reactor.Interest, error) {
	line, n, wb, err := c.readUntil([]byte("\n"))
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if line == nil {
		return n, false, 0, nil
	}
	cmd, cerr := wire.ParseCommandLine(string(line))
	if cerr != nil {
		c.phase = phaseErrSendAndContinue
		return n, false, 0, nil
	}
	if err := c.dispatch(cmd); err != nil {
		c.phase = phaseErrSendAndContinue
	}
	return n, false, 0, nil
}

// dispatch interprets a command line and sets up phase + per-command
// state, spec.md §4.4 step 8.
func (c *Connection) dispatch(cmd wire.Command) error {
	c.cmdName = strings.ToLower(cmd.Name)
	switch cmd.Name {
	case "GETCHUNKS":
		count, size, err := parseCountSize(cmd.Args, c.bounds.Min)
		if err != nil || count <= 0 || !wire.ValidChunkSize(size) {
			return fmt.Errorf("rmbtserver: malformed GETCHUNKS")
		}
		c.chunkSize = size
		c.chunksRemaining = count
		c.clockStart = time.Now()
		c.phase = phaseGetChunksSendChunk
		return nil
	case "GETTIME":
		seconds, size, err := parseCountSize(cmd.Args, c.bounds.Min)
		if err != nil || seconds < 2 || !wire.ValidChunkSize(size) {
			return fmt.Errorf("rmbtserver: malformed GETTIME")
		}
		c.chunkSize = size
		c.clockStart = time.Now()
		c.burstDeadline = c.clockStart.Add(time.Duration(seconds) * time.Second)
		c.sendTerminal = false
		c.phase = phaseGetTimeSendChunk
		return nil
	case "PING":
		c.clockStart = time.Time{}
		c.phase = phasePingSendPong
		return nil
	case "PUT", "PUTNORESULT", "PUTTIMERESULT":
		size := c.bounds.Min
		if len(cmd.Args) >= 1 {
			v, err := strconv.Atoi(cmd.Args[0])
			if err != nil || !wire.ValidChunkSize(v) {
				return fmt.Errorf("rmbtserver: malformed %s size", cmd.Name)
			}
			size = v
		}
		c.chunkSize = size
		c.recvBuf = make([]byte, size)
		c.recvPos = 0
		c.recvTotal = 0
		c.samples = nil
		c.clockStart = time.Now()
		switch cmd.Name {
		case "PUT":
			c.phase = phasePutSendOK
		case "PUTNORESULT":
			c.phase = phasePutNoResultSendOK
		case "PUTTIMERESULT":
			c.phase = phasePutTimeResultSendOK
		}
		return nil
	case "QUIT":
		c.phase = phaseQuitSendBye
		return nil
	default:
		return fmt.Errorf("rmbtserver: unknown command %q", cmd.Name)
	}
}

func parseCountSize(args []string, defaultSize int) (count, size int, err error) {
	if len(args) == 0 {
		return 0, 0, fmt.Errorf("missing count")
	}
	count, err = strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, err
	}
	size = defaultSize
	if len(args) >= 2 {
		size, err = strconv.Atoi(args[1])
		if err != nil {
			return 0, 0, err
		}
	}
	return count, size, nil
}

// stepGetChunksSendChunk streams c.chunksRemaining chunks, the last one
// drawn from the terminal (0xFF) table.
func (c *Connection) stepGetChunksSendChunk() (int, bool, reactor.Interest, error) {
	if !c.wline.active() {
		terminal := c.chunksRemaining == 1
		buf, err := c.store.Get(c.chunkSize, terminal)
		if err != nil {
			return 0, false, 0, fmt.Errorf("rmbtserver: %w", err)
		}
		c.wline.buf = buf
		c.wline.pos = 0
	}
	n, wb, done, err := c.wline.step(c.conn)
	if err != nil {
		return n, false, 0, fmt.Errorf("rmbtserver: write chunk: %w", err)
	}
	if wb {
		return n, true, reactor.InterestWritable, nil
	}
	if done {
		c.metrics.BytesObserved(c.cmdName, "tx", c.chunkSize)
		c.chunksRemaining--
		if c.chunksRemaining <= 0 {
			c.phase = phaseGetChunksAwaitOK
		}
	}
	return n, false, 0, nil
}

// stepGetTimeSendChunk streams 0x00 chunks until the burst deadline
// passes, then sends exactly one terminal chunk, spec.md §4.4 GETTIME.
func (c *Connection) stepGetTimeSendChunk() (int, bool, reactor.Interest, error) {
	if !c.wline.active() {
		terminal := !time.Now().Before(c.burstDeadline)
		buf, err := c.store.Get(c.chunkSize, terminal)
		if err != nil {
			return 0, false, 0, fmt.Errorf("rmbtserver: %w", err)
		}
		c.wline.buf = buf
		c.wline.pos = 0
		c.sendTerminal = terminal
	}
	n, wb, done, err := c.wline.step(c.conn)
	if err != nil {
		return n, false, 0, fmt.Errorf("rmbtserver: write chunk: %w", err)
	}
	if wb {
		return n, true, reactor.InterestWritable, nil
	}
	if done {
		c.metrics.BytesObserved(c.cmdName, "tx", c.chunkSize)
		if c.sendTerminal {
			c.phase = phaseGetTimeAwaitOK
		}
		// else: loop (wline inactive again) and re-check the deadline
	}
	return n, false, 0, nil
}

func (c *Connection) stepAwaitOK(next phase) (int, bool, reactor.Interest, error) {
	line, n, wb, err := c.readUntil([]byte("\n"))
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if line == nil {
		return n, false, 0, nil
	}
	if strings.TrimSpace(string(line)) != "OK" {
		return n, false, 0, fmt.Errorf("rmbtserver: expected OK, got %q", line)
	}
	c.phase = next
	return n, false, 0, nil
}

func (c *Connection) stepSendTimeAndLoop() (int, bool, reactor.Interest, error) {
	if !c.wline.active() {
		c.wline.start(wire.TimeLine(time.Since(c.clockStart).Nanoseconds()))
	}
	n, wb, done, err := c.wline.step(c.conn)
	if err != nil {
		return n, false, 0, fmt.Errorf("rmbtserver: write: %w", err)
	}
	if wb {
		return n, true, reactor.InterestWritable, nil
	}
	if done {
		c.metrics.PhaseObserved(c.cmdName, time.Since(c.clockStart).Seconds())
		c.phase = phaseAcceptWriteCommands
	}
	return n, false, 0, nil
}

// readChunkBody drains bytes from c.pending/conn into c.recvBuf until a
// full chunk of c.chunkSize bytes has been received, returning done
// once the chunk is complete (terminal reported via its last byte).
func (c *Connection) readChunkBody() (n int, wb bool, done, terminal bool, err error) {
	if len(c.pending) > 0 {
		copied := copy(c.recvBuf[c.recvPos:], c.pending)
		c.recvPos += copied
		c.pending = c.pending[copied:]
	}
	if c.recvPos < c.chunkSize {
		rn, rwb, eof, rerr := c.fill()
		if rerr != nil {
			return 0, false, false, false, fmt.Errorf("rmbtserver: read chunk: %w", rerr)
		}
		if eof {
			return rn, false, false, false, fmt.Errorf("rmbtserver: eof mid-chunk")
		}
		if len(c.pending) > 0 {
			copied := copy(c.recvBuf[c.recvPos:], c.pending)
			c.recvPos += copied
			c.pending = c.pending[copied:]
		}
		if c.recvPos < c.chunkSize {
			if rwb {
				return rn, true, false, false, nil
			}
			return rn, false, false, false, nil
		}
		n = rn
	}
	switch last := c.recvBuf[c.chunkSize-1]; last {
	case wire.ChunkMore:
		terminal = false
	case wire.ChunkTerminal:
		terminal = true
	default:
		return n, false, false, false, fmt.Errorf("rmbtserver: invalid chunk terminator byte 0x%02x", last)
	}
	c.recvTotal += int64(c.chunkSize)
	c.recvPos = 0
	c.metrics.BytesObserved(c.cmdName, "rx", c.chunkSize)
	return n, false, true, terminal, nil
}

// stepPutRecvChunk reads one chunk, then routes to the intermediate
// TIME BYTES reply or the final TIME reply depending on its terminator
// byte, spec.md §4.4 PUT ("after every received chunk emits an
// intermediate TIME BYTES...; after the terminal chunk emits a final
// TIME").
func (c *Connection) stepPutRecvChunk() (int, bool, reactor.Interest, error) {
	n, wb, done, terminal, err := c.readChunkBody()
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if !done {
		return n, false, 0, nil
	}
	if terminal {
		c.pendingLine = wire.TimeLine(time.Since(c.clockStart).Nanoseconds())
		c.metrics.PhaseObserved(c.cmdName, time.Since(c.clockStart).Seconds())
		c.phase = phasePutSendFinalTime
		return n, false, 0, nil
	}
	c.pendingLine = wire.TimeBytesLine(time.Since(c.clockStart).Nanoseconds(), c.recvTotal)
	c.phase = phasePutSendIntermediateTime
	return n, false, 0, nil
}

func (c *Connection) stepPutNoResultRecvChunk() (int, bool, reactor.Interest, error) {
	n, wb, done, terminal, err := c.readChunkBody()
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if !done {
		return n, false, 0, nil
	}
	if !terminal {
		return n, false, 0, nil
	}
	c.pendingLine = wire.TimeLine(time.Since(c.clockStart).Nanoseconds())
	c.metrics.PhaseObserved(c.cmdName, time.Since(c.clockStart).Seconds())
	c.phase = phasePutNoResultSendTime
	return n, false, 0, nil
}

func (c *Connection) stepPutTimeResultRecvChunk() (int, bool, reactor.Interest, error) {
	n, wb, done, terminal, err := c.readChunkBody()
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if !done {
		return n, false, 0, nil
	}
	c.samples = append(c.samples, wire.Sample{TimeNs: time.Since(c.clockStart).Nanoseconds(), Bytes: c.recvTotal})
	if !terminal {
		return n, false, 0, nil
	}
	c.pendingLine = wire.FormatTimeResult(c.samples)
	c.metrics.PhaseObserved(c.cmdName, time.Since(c.clockStart).Seconds())
	c.phase = phasePutTimeResultSendResult
	return n, false, 0, nil
}
