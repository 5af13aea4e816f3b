package transport

import (
	"fmt"

	"github.com/nettest-go/engine/wire"
)

// wsConn layers RFC 6455 framing over an already-upgraded underlying
// Conn (plain TCP or TLS), non-blocking in both directions. Grounded
// on protocol/wsconn.go's WebSocketConn (pool-managed frame read/write)
// and protocol/frame_codec.go's size-prefixed framing, generalized
// from "one Read call, one frame" to a byte-stream adapter that can
// serve partial reads/writes across would-block boundaries, matching
// spec.md §4.1's flush-resumption rule.
type wsConn struct {
	under     Conn
	isClient  bool
	chunkSize int

	// receive side: raw bytes not yet forming a complete frame, and
	// any already-decoded payload not yet drained to the caller.
	rxRaw     []byte
	rxPayload []byte
	rxPos     int
	rxClosed  bool

	// send side: an in-flight encoded frame not yet fully flushed.
	txFrame   []byte
	txPos     int
	txPending bool
	txOrigLen int
}

// NewWebSocketConn wraps under (post-handshake) with WS framing.
// isClient selects RFC 6455 client-side masking.
func NewWebSocketConn(under Conn, isClient bool) Conn {
	kind := KindWebSocketTCP
	if under.Kind() == KindTLS {
		kind = KindWebSocketTLS
	}
	return &wsConnKinded{wsConn: &wsConn{under: under, isClient: isClient, chunkSize: wire.DefaultChunkSize}, kind: kind}
}

// wsConnKinded adds Kind() reporting without complicating wsConn's
// embedding of an underlying Conn whose own Kind() must not leak
// through.
type wsConnKinded struct {
	*wsConn
	kind Kind
}

func (w *wsConnKinded) Kind() Kind { return w.kind }

// SetChunkSize updates the text/binary threshold used for subsequent
// writes, spec.md §4.1 ("Payloads shorter than 2 bytes or larger than
// (CHUNK_SIZE-3) are sent as binary"). The threshold starts at
// wire.DefaultChunkSize; the protocol engines in this module never call
// SetChunkSize, so it stays there unless a caller changes it.
func (w *wsConn) SetChunkSize(size int) { w.chunkSize = size }

func (w *wsConn) RawFD() uintptr { return w.under.RawFD() }

func (w *wsConn) Close() error { return w.under.Close() }

func (w *wsConn) Write(buf []byte) (WriteResult, error) {
	if !w.txPending {
		if len(buf) == 0 {
			return WriteResult{}, nil
		}
		opcode := classifyFrameOpcode(buf, w.chunkSize)
		w.txFrame = encodeWSFrame(opcode, buf, w.isClient)
		w.txPos = 0
		w.txPending = true
		w.txOrigLen = len(buf)
	}

	for w.txPos < len(w.txFrame) {
		res, err := w.under.Write(w.txFrame[w.txPos:])
		if err != nil {
			w.txPending = false
			return WriteResult{}, fmt.Errorf("transport: ws flush: %w", err)
		}
		w.txPos += res.N
		if res.WouldBlock {
			return WriteResult{WouldBlock: true}, nil
		}
		if res.N == 0 {
			// Underlying carrier accepted nothing without signalling
			// would-block; treat as would-block to avoid a busy spin.
			return WriteResult{WouldBlock: true}, nil
		}
	}

	w.txPending = false
	return WriteResult{N: w.txOrigLen}, nil
}

func (w *wsConn) Read(buf []byte) (ReadResult, error) {
	if w.rxClosed {
		return ReadResult{EOF: true}, nil
	}

	if w.rxPos < len(w.rxPayload) {
		return w.drainPayload(buf), nil
	}

	for {
		frame, consumed, err := decodeWSFrame(w.rxRaw)
		if err != nil {
			return ReadResult{}, fmt.Errorf("transport: ws decode: %w", err)
		}
		if frame != nil {
			w.rxRaw = w.rxRaw[consumed:]
			switch frame.opcode {
			case opClose:
				w.rxClosed = true
				return ReadResult{EOF: true}, nil
			case opPing, opPong:
				continue // control frames carry no measurement payload
			default:
				w.rxPayload = frame.payload
				w.rxPos = 0
				return w.drainPayload(buf), nil
			}
		}

		// Need more raw bytes.
		tmp := make([]byte, 65536)
		res, err := w.under.Read(tmp)
		if err != nil {
			return ReadResult{}, fmt.Errorf("transport: ws underlying read: %w", err)
		}
		if res.N > 0 {
			w.rxRaw = append(w.rxRaw, tmp[:res.N]...)
			continue // try decoding again with the new bytes
		}
		if res.EOF {
			return ReadResult{EOF: true}, nil
		}
		return ReadResult{WouldBlock: true}, nil
	}
}

func (w *wsConn) drainPayload(buf []byte) ReadResult {
	n := copy(buf, w.rxPayload[w.rxPos:])
	w.rxPos += n
	return ReadResult{N: n}
}

func (w *wsConn) Kind() Kind { return w.under.Kind() }
