package rmbtclient

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/nettest-go/engine/calc"
	"github.com/nettest-go/engine/chunkstore"
	"github.com/nettest-go/engine/reactor"
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
// *metrics.Registry bound to the "client" role via ForRole satisfies
// it without this package importing prometheus directly.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	BytesObserved(phase, direction string, n int)
	PhaseObserved(phase string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()                            {}
func (noopMetrics) ConnectionClosed()                            {}
func (noopMetrics) BytesObserved(phase, direction string, n int) {}
func (noopMetrics) PhaseObserved(phase string, seconds float64)  {}

// ChunkBounds mirrors the server's configured bounds, refined once the
// CHUNKSIZE reply is parsed during greeting.
type ChunkBounds struct {
	Default, Min, Max int
}

// Config bundles the tunables of spec.md §4.5's pre-download, ping,
// download, and upload phases.
type Config struct {
	Store                  *chunkstore.Store
	MaxChunksBeforeSizeInc int // spec.md §4.5: MAX_CHUNKS_BEFORE_SIZE_INCREASE = 8
	CalibTargetDuration    time.Duration
	PingMaxSamples         int // spec.md §4.5: MAX_PINGS = 200
	PingMaxDuration        time.Duration
	DownloadDuration       time.Duration // spec.md §4.5: d = 7s
	UploadDuration         time.Duration // spec.md §4.5: 7s
	PhaseTimeout           time.Duration
	Logger                 Logger
	Metrics                Metrics
}

// DefaultConfig returns the spec-mandated constants.
func DefaultConfig(store *chunkstore.Store) Config {
	return Config{
		Store:                  store,
		MaxChunksBeforeSizeInc: 8,
		CalibTargetDuration:    2 * time.Second,
		PingMaxSamples:         200,
		PingMaxDuration:        1 * time.Second,
		DownloadDuration:       7 * time.Second,
		UploadDuration:         7 * time.Second,
		PhaseTimeout:           30 * time.Second,
	}
}

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

// Connection is one worker thread's socket and protocol state machine.
// It implements reactor.Handle, mirroring rmbtserver.Connection.
type Connection struct {
	conn      transport.Conn
	preUpgraded bool // true for WebSocket kinds: Dial() already upgraded
	host      string
	threadID  int
	tokenText string
	cfg       Config
	log       Logger
	metrics   Metrics
	metricsClosed bool

	phase    phase
	deadline time.Time

	wline       lineWriter
	pending     []byte
	pendingLine string

	bounds ChunkBounds

	calibCount       int
	calibSize        int
	calibRecvBuf     []byte
	calibRecvPos     int
	calibStart       time.Time
	AgreedChunkSize  int

	pingSamples    []time.Duration
	pingRoundStart time.Time
	pingPhaseStart time.Time

	downloadDeadline time.Time
	downloadStart    time.Time
	downloadRecvBuf  []byte
	downloadRecvPos  int
	DownloadSamples  []calc.Sample

	uploadDeadline time.Time
	uploadStart    time.Time
	uploadTerminal bool
	UploadSamples  []calc.Sample

	// PingMedian is populated once the ping phase completes; only
	// thread 0 runs it, spec.md §4.6.
	PingMedian time.Duration

	Err error
}

// NewConnection builds a client Connection. preUpgraded is true when
// conn's Kind() is a WebSocket carrier, since transport.Dial already
// completed the HTTP-101 handshake for those, spec.md §9 ("any
// blocking... handshake is confined to the pre-protocol phase").
func NewConnection(conn transport.Conn, host string, threadID int, tokenText string, cfg Config) *Connection {
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
	cfg.PhaseTimeout = pt
	preUpgraded := conn.Kind() == transport.KindWebSocketTCP || conn.Kind() == transport.KindWebSocketTLS
	startPhase := phaseSendUpgrade
	if preUpgraded {
		startPhase = phaseReadVersion
	}
	c := &Connection{
		conn:        conn,
		preUpgraded: preUpgraded,
		host:        host,
		threadID:    threadID,
		tokenText:   tokenText,
		cfg:         cfg,
		log:         log,
		metrics:     m,
		phase:       startPhase,
		calibCount:  1,
	}
	c.armDeadline()
	c.metrics.ConnectionOpened()
	return c
}

func (c *Connection) armDeadline() { c.deadline = time.Now().Add(c.cfg.PhaseTimeout) }

// FD implements reactor.Handle.
func (c *Connection) FD() uintptr { return c.conn.RawFD() }

// Deadline implements reactor.Handle.
func (c *Connection) Deadline() time.Time { return c.deadline }

// Step implements reactor.Handle.
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
			c.Err = err
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
// whether the connection finished cleanly or hit a fatal error.
func (c *Connection) closeMetrics() {
	if c.metricsClosed {
		return
	}
	c.metricsClosed = true
	c.metrics.ConnectionClosed()
}

// AtBarrier reports whether the connection has reached one of the five
// phase-boundary stopping points of spec.md §4.6: greeting done,
// calibration done, ping done, download done, upload done (or overall
// done for threads that skip ping).
func (c *Connection) AtBarrier(stop phase) bool { return c.phase == stop }

// RunPhase drives the reactor.Handle forward with a portable poller
// until it reaches stop or phaseDone or hits a fatal error. Used by the
// coordinator, which owns the barrier synchronization itself.
func (c *Connection) RunPhase(stop phase) error {
	for c.phase != stop && c.phase != phaseDone {
		res := c.Step(reactor.InterestReadable)
		if res.Fatal != nil {
			return res.Fatal
		}
		if res.BytesProcessed == 0 {
			time.Sleep(time.Millisecond)
		}
		if time.Now().After(c.deadline) {
			return fmt.Errorf("rmbtclient: phase deadline exceeded in phase %d", c.phase)
		}
	}
	return nil
}

func (c *Connection) advance() (int, bool, reactor.Interest, error) {
	switch c.phase {
	case phaseSendUpgrade:
		return c.stepWriteLine(rmbtUpgradePreamble(), phaseReadUpgradeAck)
	case phaseReadUpgradeAck:
		return c.stepReadUntil([]byte("\r\n\r\n"), nil, phaseReadVersion)
	case phaseReadVersion:
		return c.stepReadUntil([]byte("\n"), nil, phaseReadAcceptToken)
	case phaseReadAcceptToken:
		return c.stepReadUntil([]byte("\n"), nil, phaseSendToken)
	case phaseSendToken:
		return c.stepWriteLine(wire.TokenLine(c.tokenText), phaseReadOK)
	case phaseReadOK:
		return c.stepReadExpect([]byte("\n"), "OK", phaseReadChunksize)
	case phaseReadChunksize:
		return c.stepReadChunksize()
	case phaseReadAcceptCommands:
		return c.stepReadUntil([]byte("\n"), nil, phaseGreetingDone)
	case phaseGreetingDone:
		c.calibSize = c.bounds.Min
		c.phase = phaseCalibSendGetChunks
		return 0, false, 0, nil

	case phaseCalibSendGetChunks:
		return c.stepWriteLine(wire.GetChunksLine(c.calibCount, c.calibSize), phaseCalibRecvChunks)
	case phaseCalibRecvChunks:
		return c.stepCalibRecvChunks()
	case phaseCalibSendOK:
		return c.stepWriteLine(wire.OKLine, phaseCalibReadTime)
	case phaseCalibReadTime:
		return c.stepCalibReadTime()
	case phaseCalibDone:
		// Only thread 0 runs the ping phase; the others go straight on
		// to download.
		if c.threadID != 0 {
			c.phase = phasePingDone
		} else {
			c.phase = phasePingSendPing
		}
		return 0, false, 0, nil

	case phasePingSendPing:
		return c.stepPingSendPing()
	case phasePingReadPong:
		return c.stepReadExpect([]byte("\n"), "PONG", phasePingSendOK)
	case phasePingSendOK:
		return c.stepWriteLine(wire.OKLine, phasePingReadTime)
	case phasePingReadTime:
		return c.stepPingReadTime()
	case phasePingDone:
		c.phase = phaseDownloadSendGetTime
		return 0, false, 0, nil

	case phaseDownloadSendGetTime:
		return c.stepDownloadSendGetTime()
	case phaseDownloadRecvChunk:
		return c.stepDownloadRecvChunk()
	case phaseDownloadSendOK:
		return c.stepWriteLine(wire.OKLine, phaseDownloadReadTime)
	case phaseDownloadReadTime:
		return c.stepReadUntil([]byte("\n"), nil, phaseDownloadDone)
	case phaseDownloadDone:
		c.phase = phaseUploadSendCommand
		return 0, false, 0, nil

	case phaseUploadSendCommand:
		return c.stepWriteLine(wire.PutTimeResultLine(c.AgreedChunkSize), phaseUploadReadOK)
	case phaseUploadReadOK:
		return c.stepReadExpect([]byte("\n"), "OK", phaseUploadSendChunk)
	case phaseUploadSendChunk:
		return c.stepUploadSendChunk()
	case phaseUploadReadResult:
		return c.stepUploadReadResult()
	case phaseUploadDone:
		c.phase = phaseSendQuit
		return 0, false, 0, nil

	case phaseSendQuit:
		return c.stepWriteLine("QUIT\n", phaseReadBye)
	case phaseReadBye:
		return c.stepReadUntilThenDone([]byte("\n"))

	default:
		return 0, false, 0, fmt.Errorf("rmbtclient: unhandled phase %d", c.phase)
	}
}

func rmbtUpgradePreamble() string {
	return "GET /rmbt HTTP/1.1 \r\nConnection: Upgrade \r\nUpgrade: RMBT\r\nRMBT-Version: 1.2.0\r\n\r\n"
}

func (c *Connection) stepWriteLine(text string, next phase) (int, bool, reactor.Interest, error) {
	if !c.wline.active() {
		c.wline.start(text)
	}
	n, wb, done, err := c.wline.step(c.conn)
	if err != nil {
		return n, false, 0, fmt.Errorf("rmbtclient: write: %w", err)
	}
	if wb {
		return n, true, reactor.InterestWritable, nil
	}
	if done {
		c.phase = next
	}
	return n, false, 0, nil
}

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

func (c *Connection) readUntil(suffix []byte) (line []byte, n int, wb bool, err error) {
	if idx := bytes.Index(c.pending, suffix); idx >= 0 {
		end := idx + len(suffix)
		line = append([]byte(nil), c.pending[:end]...)
		c.pending = c.pending[end:]
		return line, 0, false, nil
	}
	rn, rwb, eof, rerr := c.fill()
	if rerr != nil {
		return nil, 0, false, fmt.Errorf("rmbtclient: read: %w", rerr)
	}
	if eof {
		return nil, rn, false, fmt.Errorf("rmbtclient: eof before %q", suffix)
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
	return nil, rn, false, nil
}

func (c *Connection) stepReadUntil(suffix []byte, onDone func(), next phase) (int, bool, reactor.Interest, error) {
	line, n, wb, err := c.readUntil(suffix)
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if line == nil {
		return n, false, 0, nil
	}
	if onDone != nil {
		onDone()
	}
	c.phase = next
	return n, false, 0, nil
}

func (c *Connection) stepReadUntilThenDone(suffix []byte) (int, bool, reactor.Interest, error) {
	line, n, wb, err := c.readUntil(suffix)
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if line == nil {
		return n, false, 0, nil
	}
	_ = c.conn.Close()
	c.phase = phaseDone
	return n, false, 0, nil
}

func (c *Connection) stepReadExpect(suffix []byte, want string, next phase) (int, bool, reactor.Interest, error) {
	line, n, wb, err := c.readUntil(suffix)
	if err != nil {
		return n, false, 0, err
	}
	if wb {
		return n, true, reactor.InterestReadable, nil
	}
	if line == nil {
		return n, false, 0, nil
	}
	if strings.TrimSpace(string(line)) != want {
		return n, false, 0, fmt.Errorf("rmbtclient: expected %q, got %q", want, line)
	}
	c.phase = next
	return n, false, 0, nil
}

func (c *Connection) stepReadChunksize() (int, bool, reactor.Interest, error) {
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
	fields := strings.Fields(string(line))
	if len(fields) != 4 || strings.ToUpper(fields[0]) != "CHUNKSIZE" {
		return n, false, 0, fmt.Errorf("rmbtclient: malformed CHUNKSIZE line %q", line)
	}
	var def, min, max int
	if _, err := fmt.Sscanf(fields[1], "%d", &def); err != nil {
		return n, false, 0, err
	}
	if _, err := fmt.Sscanf(fields[2], "%d", &min); err != nil {
		return n, false, 0, err
	}
	if _, err := fmt.Sscanf(fields[3], "%d", &max); err != nil {
		return n, false, 0, err
	}
	c.bounds = ChunkBounds{Default: def, Min: min, Max: max}
	c.phase = phaseReadAcceptCommands
	return n, false, 0, nil
}

// stepCalibRecvChunks drains calibCount*calibSize bytes of the current
// pre-download probe, spec.md §4.5 pre-download calibration.
func (c *Connection) stepCalibRecvChunks() (int, bool, reactor.Interest, error) {
	want := c.calibCount * c.calibSize
	if c.calibRecvBuf == nil {
		c.calibRecvBuf = make([]byte, want)
		c.calibRecvPos = 0
		if len(c.pending) > 0 {
			copied := copy(c.calibRecvBuf, c.pending)
			c.calibRecvPos += copied
			c.pending = c.pending[copied:]
		}
		c.calibStart = time.Now()
	}
	if c.calibRecvPos < want {
		rn, rwb, eof, err := c.fill()
		if err != nil {
			return 0, false, 0, fmt.Errorf("rmbtclient: calib read: %w", err)
		}
		if eof {
			return rn, false, 0, fmt.Errorf("rmbtclient: eof during calibration")
		}
		if len(c.pending) > 0 {
			copied := copy(c.calibRecvBuf[c.calibRecvPos:], c.pending)
			c.calibRecvPos += copied
			c.pending = c.pending[copied:]
		}
		if c.calibRecvPos < want {
			if rwb {
				return rn, true, reactor.InterestReadable, nil
			}
			return rn, false, 0, nil
		}
		n := rn
		c.calibRecvBuf = nil
		c.phase = phaseCalibSendOK
		return n, false, 0, nil
	}
	c.calibRecvBuf = nil
	c.phase = phaseCalibSendOK
	return 0, false, 0, nil
}

func (c *Connection) stepCalibReadTime() (int, bool, reactor.Interest, error) {
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
	elapsed := time.Since(c.calibStart)
	if elapsed < c.cfg.CalibTargetDuration && c.calibSize < c.bounds.Max {
		if c.calibCount < c.cfg.MaxChunksBeforeSizeInc {
			c.calibCount *= 2
		} else {
			c.calibSize *= 2
			c.calibCount = 1
		}
		c.phase = phaseCalibSendGetChunks
		return n, false, 0, nil
	}
	c.AgreedChunkSize = c.calibSize
	c.phase = phaseCalibDone
	return n, false, 0, nil
}

func (c *Connection) stepPingSendPing() (int, bool, reactor.Interest, error) {
	if c.pingPhaseStart.IsZero() {
		c.pingPhaseStart = time.Now()
	}
	c.pingRoundStart = time.Now()
	return c.stepWriteLine("PING\n", phasePingReadPong)
}

func (c *Connection) stepPingReadTime() (int, bool, reactor.Interest, error) {
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
	c.pingSamples = append(c.pingSamples, time.Since(c.pingRoundStart))
	if len(c.pingSamples) >= c.cfg.PingMaxSamples || time.Since(c.pingPhaseStart) >= c.cfg.PingMaxDuration {
		c.PingMedian = medianDuration(c.pingSamples)
		c.metrics.PhaseObserved("ping", time.Since(c.pingPhaseStart).Seconds())
		c.phase = phasePingDone
		return n, false, 0, nil
	}
	c.phase = phasePingSendPing
	return n, false, 0, nil
}

func medianDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func (c *Connection) stepDownloadSendGetTime() (int, bool, reactor.Interest, error) {
	line := wire.GetTimeLine(int(c.cfg.DownloadDuration/time.Second), c.AgreedChunkSize)
	return c.stepWriteLine(line, phaseDownloadRecvChunk)
}

// stepDownloadRecvChunk reads one chunk of exactly AgreedChunkSize
// bytes and records a sample, spec.md §4.5 download phase.
func (c *Connection) stepDownloadRecvChunk() (int, bool, reactor.Interest, error) {
	size := c.AgreedChunkSize
	if c.downloadRecvBuf == nil {
		c.downloadRecvBuf = make([]byte, size)
		c.downloadRecvPos = 0
		if c.downloadStart.IsZero() {
			c.downloadStart = time.Now()
		}
	}
	if len(c.pending) > 0 {
		copied := copy(c.downloadRecvBuf[c.downloadRecvPos:], c.pending)
		c.downloadRecvPos += copied
		c.pending = c.pending[copied:]
	}
	if c.downloadRecvPos < size {
		rn, rwb, eof, err := c.fill()
		if err != nil {
			return 0, false, 0, fmt.Errorf("rmbtclient: download read: %w", err)
		}
		if eof {
			return rn, false, 0, fmt.Errorf("rmbtclient: eof during download")
		}
		if len(c.pending) > 0 {
			copied := copy(c.downloadRecvBuf[c.downloadRecvPos:], c.pending)
			c.downloadRecvPos += copied
			c.pending = c.pending[copied:]
		}
		if c.downloadRecvPos < size {
			if rwb {
				return rn, true, reactor.InterestReadable, nil
			}
			return rn, false, 0, nil
		}
		n := rn
		return c.finishDownloadChunk(n)
	}
	return c.finishDownloadChunk(0)
}

func (c *Connection) finishDownloadChunk(n int) (int, bool, reactor.Interest, error) {
	var terminal bool
	switch last := c.downloadRecvBuf[len(c.downloadRecvBuf)-1]; last {
	case wire.ChunkMore:
		terminal = false
	case wire.ChunkTerminal:
		terminal = true
	default:
		return n, false, 0, fmt.Errorf("rmbtclient: invalid chunk terminator byte 0x%02x", last)
	}
	total := int64(0)
	if len(c.DownloadSamples) > 0 {
		total = c.DownloadSamples[len(c.DownloadSamples)-1].BytesTotal
	}
	total += int64(len(c.downloadRecvBuf))
	c.metrics.BytesObserved("download", "rx", len(c.downloadRecvBuf))
	c.DownloadSamples = append(c.DownloadSamples, calc.Sample{
		NanosElapsed: time.Since(c.downloadStart).Nanoseconds(),
		BytesTotal:   total,
	})
	c.downloadRecvBuf = nil
	if terminal {
		c.metrics.PhaseObserved("download", time.Since(c.downloadStart).Seconds())
		c.phase = phaseDownloadSendOK
	}
	return n, false, 0, nil
}

func (c *Connection) stepUploadSendChunk() (int, bool, reactor.Interest, error) {
	if !c.wline.active() {
		if c.uploadStart.IsZero() {
			c.uploadStart = time.Now()
		}
		terminal := c.uploadTerminal || time.Since(c.uploadStart) >= c.cfg.UploadDuration
		buf, err := c.cfg.Store.Get(c.AgreedChunkSize, terminal)
		if err != nil {
			return 0, false, 0, fmt.Errorf("rmbtclient: %w", err)
		}
		c.wline.buf = buf
		c.wline.pos = 0
		c.uploadTerminal = terminal
	}
	n, wb, done, err := c.wline.step(c.conn)
	if err != nil {
		return n, false, 0, fmt.Errorf("rmbtclient: upload write: %w", err)
	}
	if wb {
		return n, true, reactor.InterestWritable, nil
	}
	if done {
		total := int64(0)
		if len(c.UploadSamples) > 0 {
			total = c.UploadSamples[len(c.UploadSamples)-1].BytesTotal
		}
		total += int64(c.AgreedChunkSize)
		c.metrics.BytesObserved("upload", "tx", c.AgreedChunkSize)
		c.UploadSamples = append(c.UploadSamples, calc.Sample{
			NanosElapsed: time.Since(c.uploadStart).Nanoseconds(),
			BytesTotal:   total,
		})
		if c.uploadTerminal {
			c.phase = phaseUploadReadResult
		}
		// else loop: wline inactive again, next chunk evaluated against deadline
	}
	return n, false, 0, nil
}

func (c *Connection) stepUploadReadResult() (int, bool, reactor.Interest, error) {
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
	text := strings.TrimSpace(string(line))
	text = strings.TrimPrefix(text, "TIMERESULT")
	samples, perr := wire.ParseTimeResult(text)
	if perr != nil {
		return n, false, 0, fmt.Errorf("rmbtclient: %w", perr)
	}
	c.UploadSamples = c.UploadSamples[:0]
	for _, s := range samples {
		c.UploadSamples = append(c.UploadSamples, calc.Sample{NanosElapsed: s.TimeNs, BytesTotal: s.Bytes})
	}
	c.metrics.PhaseObserved("upload", time.Since(c.uploadStart).Seconds())
	c.phase = phaseUploadDone
	return n, false, 0, nil
}
