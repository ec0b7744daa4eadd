// Package synergy implements the client side of the synergy wire
// protocol: the hello exchange, screen info, keep-alives and decoding
// of the server's input and clipboard messages.
//
// The engine does no I/O of its own.  Everything goes through a
// Transport, which lets the event loop own the socket and lets tests
// script the server.
package synergy

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"synclient/internal/metrics"
	"synclient/util"
)

const (
	// Announced protocol version.  1.4 keeps clipboard transfers in a
	// single DCLP message.
	versionMajor = 1
	versionMinor = 4

	helloMagic = "Synergy"

	// MaxPacket bounds a single message; larger length prefixes are
	// treated as a corrupt stream.
	MaxPacket = 4 << 20

	initialBuffer = 4096
	clipboardText = 0
)

// Transport is the engine's view of the network.  Receive returns at
// least one byte or an error; Disconnect reports whether there was a
// connection to tear down.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() bool
	Send(p []byte) error
	Receive(p []byte) (int, error)
	Sleep(d time.Duration)
	Now() time.Time
}

// ErrorCode records why the engine last lost or failed its connection.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorConnect
	ErrorTimeout
	ErrorReceive
	ErrorSend
	ErrorProtocol
	ErrorRejected
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorConnect:
		return "connect"
	case ErrorTimeout:
		return "timeout"
	case ErrorReceive:
		return "receive"
	case ErrorSend:
		return "send"
	case ErrorProtocol:
		return "protocol"
	case ErrorRejected:
		return "rejected"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Engine is the protocol state machine.  It is not safe for concurrent
// use; the event loop is its only caller.
type Engine struct {
	Name      string
	Transport Transport
	Handler   Handler
	Logger    *util.Logger
	Metrics   *metrics.Collector

	connected   bool
	hello       bool
	lastMessage time.Time
	lastError   ErrorCode

	buf []byte
	n   int

	// seq is the sequence number of the latest CINN; clipboard grabs
	// must echo it.
	seq    uint32
	active bool

	serverMajor, serverMinor uint16
}

// New returns an engine announcing itself under name.
func New(name string, t Transport, h Handler, logger *util.Logger, m *metrics.Collector) *Engine {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Engine{
		Name:      name,
		Transport: t,
		Handler:   h,
		Logger:    logger,
		Metrics:   m,
		buf:       make([]byte, initialBuffer),
	}
}

func (e *Engine) Connected() bool                { return e.connected }
func (e *Engine) LastMessageTime() time.Time     { return e.lastMessage }
func (e *Engine) SetLastMessageTime(t time.Time) { e.lastMessage = t }
func (e *Engine) LastError() ErrorCode           { return e.lastError }
func (e *Engine) SetLastError(c ErrorCode)       { e.lastError = c }

// Active reports whether the pointer is currently on this screen.
func (e *Engine) Active() bool { return e.active }

// Ready reports whether the hello exchange has completed.
func (e *Engine) Ready() bool { return e.connected && e.hello }

// ServerVersion returns the protocol version the server announced.
func (e *Engine) ServerVersion() (major, minor uint16) { return e.serverMajor, e.serverMinor }

// SetConnected marks the transport state.  Dropping the connection also
// forgets any partially received message and the hello state.
func (e *Engine) SetConnected(v bool) {
	if !v {
		e.hello = false
		e.active = false
		e.n = 0
	}
	e.connected = v
}

// Update performs one step: connect when disconnected, otherwise read
// what the transport has and process every complete message.
func (e *Engine) Update(ctx context.Context) error {
	if !e.connected {
		return e.connect(ctx)
	}
	return e.receive()
}

func (e *Engine) connect(ctx context.Context) error {
	e.SetConnected(false)
	if err := e.Transport.Connect(ctx); err != nil {
		e.lastError = ErrorConnect
		return err
	}
	e.connected = true
	e.lastError = ErrorNone
	return nil
}

func (e *Engine) receive() error {
	if e.n == len(e.buf) {
		if len(e.buf) >= MaxPacket+4 {
			return e.fail(ErrorProtocol, fmt.Errorf("receive buffer exhausted"))
		}
		grown := make([]byte, min(2*len(e.buf), MaxPacket+4))
		copy(grown, e.buf[:e.n])
		e.buf = grown
	}

	n, err := e.Transport.Receive(e.buf[e.n:])
	if err != nil {
		// The transport already recorded a timeout; anything else is a
		// plain receive failure.
		if e.lastError != ErrorTimeout {
			e.lastError = ErrorReceive
		}
		e.drop()
		return err
	}
	e.n += n
	e.Metrics.BytesReceived(int64(n))
	return e.drain()
}

// drain processes every complete frame in the buffer and keeps the
// incomplete remainder for the next read.
func (e *Engine) drain() error {
	off := 0
	defer func() {
		if off > 0 && e.connected {
			e.n = copy(e.buf, e.buf[off:e.n])
		}
	}()

	for e.connected && e.n-off >= 4 {
		size := binary.BigEndian.Uint32(e.buf[off:])
		if size > MaxPacket {
			return e.fail(ErrorProtocol, fmt.Errorf("message of %d bytes exceeds limit", size))
		}
		end := off + 4 + int(size)
		if end > e.n {
			if end > len(e.buf) {
				// Make room so the rest of this frame fits.
				grown := make([]byte, end-off+initialBuffer)
				e.n = copy(grown, e.buf[off:e.n])
				e.buf = grown
				off = 0
			}
			break
		}
		msg := e.buf[off+4 : end]
		off = end

		e.lastMessage = e.Transport.Now()
		e.Metrics.MessageReceived()
		if err := e.process(msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) process(msg []byte) error {
	if !e.hello {
		return e.processHello(msg)
	}
	if len(msg) < 4 {
		return e.fail(ErrorProtocol, fmt.Errorf("message too short (%d bytes)", len(msg)))
	}
	code, r := string(msg[:4]), &reader{b: msg[4:]}
	if err := e.dispatch(code, r); err != nil {
		return err
	}
	if r.err != nil {
		return e.fail(ErrorProtocol, fmt.Errorf("%s: %w", code, r.err))
	}
	return nil
}

func (e *Engine) processHello(msg []byte) error {
	if !bytes.HasPrefix(msg, []byte(helloMagic)) {
		return e.fail(ErrorProtocol, fmt.Errorf("expected hello, got %q", truncate(msg)))
	}
	r := &reader{b: msg[len(helloMagic):]}
	e.serverMajor, e.serverMinor = r.u16(), r.u16()
	if r.err != nil {
		return e.fail(ErrorProtocol, fmt.Errorf("hello: %w", r.err))
	}
	e.Logger.Info("server is synergy %d.%d, announcing %q as %d.%d",
		e.serverMajor, e.serverMinor, e.Name, versionMajor, versionMinor)

	p := &packet{b: make([]byte, 4, 32)}
	p.b = append(p.b, helloMagic...)
	p.u16(versionMajor).u16(versionMinor).bytes([]byte(e.Name))
	if err := e.send(p); err != nil {
		return err
	}
	e.hello = true
	return nil
}

func (e *Engine) dispatch(code string, r *reader) error {
	h := e.Handler
	switch code {
	case "QINF":
		return e.sendInfo()
	case "CIAK", "CNOP", "CROP", "DSOP", "CSEC", "LSYN":
		e.Logger.Debug("ignoring %s", code)
	case "CALV":
		return e.send(newPacket("CALV"))
	case "CINN":
		x, y := r.i16(), r.i16()
		e.seq = r.u32()
		mods := r.u16()
		if r.err == nil {
			e.active = true
			e.Logger.Verbose("entering screen at %d,%d", x, y)
			h.Enter(int(x), int(y), mods)
		}
	case "COUT":
		e.active = false
		e.Logger.Verbose("leaving screen")
		h.Leave()
	case "CBYE":
		e.Logger.Info("server said goodbye")
		e.lastError = ErrorNone
		e.drop()
	case "DMMV":
		x, y := r.i16(), r.i16()
		if r.err == nil {
			h.MouseMove(int(x), int(y))
		}
	case "DMRM":
		dx, dy := r.i16(), r.i16()
		if r.err == nil {
			h.MouseRelativeMove(int(dx), int(dy))
		}
	case "DMDN", "DMUP":
		b := r.u8()
		if r.err == nil {
			h.MouseButton(int(b), code == "DMDN")
		}
	case "DMWM":
		dx, dy := r.i16(), r.i16()
		if r.err == nil {
			h.MouseWheel(int(dx), int(dy))
		}
	case "DKDN", "DKUP":
		id, mods, btn := r.u16(), r.u16(), r.u16()
		if r.err == nil {
			h.Key(id, mods, btn, code == "DKDN")
		}
	case "DKRP":
		id, mods, count, btn := r.u16(), r.u16(), r.u16(), r.u16()
		if r.err == nil {
			for i := 0; i < int(count); i++ {
				h.Key(id, mods, btn, true)
			}
		}
	case "DCLP":
		return e.processClipboard(r)
	case "CCLP":
		// The server took ownership; contents follow in DCLP.
		r.u8()
		r.u32()
	case "EICV":
		major, minor := r.u16(), r.u16()
		return e.fail(ErrorRejected, fmt.Errorf("server requires protocol %d.%d", major, minor))
	case "EBSY":
		return e.fail(ErrorRejected, fmt.Errorf("server already has a client named %q", e.Name))
	case "EUNK":
		return e.fail(ErrorRejected, fmt.Errorf("server does not know a screen named %q", e.Name))
	case "EBAD":
		return e.fail(ErrorProtocol, fmt.Errorf("server reported a protocol error"))
	default:
		e.Logger.Debug("unknown message %q", code)
	}
	return nil
}

// processClipboard decodes a DCLP payload.  Only the text format is
// forwarded.
func (e *Engine) processClipboard(r *reader) error {
	id := ClipboardID(r.u8())
	r.u32() // sequence
	data := r.bytes()
	if r.err != nil {
		return nil
	}
	cr := &reader{b: data}
	formats := cr.u32()
	for i := uint32(0); i < formats && cr.err == nil; i++ {
		format := cr.u32()
		body := cr.bytes()
		if cr.err == nil && format == clipboardText {
			e.Handler.Clipboard(id, string(body))
			return nil
		}
	}
	if cr.err != nil {
		r.err = cr.err
	}
	return nil
}

func (e *Engine) sendInfo() error {
	g := e.Handler.Screen()
	p := newPacket("DINF").
		i16(0).i16(0).
		i16(clampI16(g.Width)).i16(clampI16(g.Height)).
		i16(0). // warp zone
		i16(clampI16(g.PointerX)).i16(clampI16(g.PointerY))
	return e.send(p)
}

// UpdateScreen re-announces the screen geometry after a local change.
func (e *Engine) UpdateScreen() error {
	if !e.Ready() {
		return nil
	}
	return e.sendInfo()
}

// SendClipboard claims the clipboard and uploads text to the server.
func (e *Engine) SendClipboard(id ClipboardID, text string) error {
	if !e.Ready() {
		return ErrNotReady
	}
	if err := e.send(newPacket("CCLP").u8(uint8(id)).u32(e.seq)); err != nil {
		return err
	}
	body := (&packet{}).u32(1).u32(clipboardText).bytes([]byte(text)).b
	return e.send(newPacket("DCLP").u8(uint8(id)).u32(e.seq).bytes(body))
}

func (e *Engine) send(p *packet) error {
	b := p.frame()
	if err := e.Transport.Send(b); err != nil {
		if e.lastError != ErrorTimeout {
			e.lastError = ErrorSend
		}
		e.drop()
		return err
	}
	return nil
}

// fail drops the connection for a protocol-level reason.
func (e *Engine) fail(code ErrorCode, err error) error {
	e.lastError = code
	e.Logger.Error("%v", err)
	e.drop()
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

func (e *Engine) drop() {
	e.Transport.Disconnect()
	e.SetConnected(false)
}

func truncate(b []byte) []byte {
	if len(b) > 16 {
		return b[:16]
	}
	return b
}
