// Package session owns the connection to the synergy server for the
// lifetime of the process.  It is the engine's Transport: connect and
// disconnect, framed reads and writes with the idle timeout applied,
// and the readiness hooks the event loop polls with.
//
// A Session holds at most one live channel.  Disconnect is the single
// teardown path and leaves no half-released state behind.
package session

import (
	"bufio"
	"context"
	"net"
	"time"

	ncerr "synclient/internal/errors"
	"synclient/internal/metrics"
	"synclient/internal/secure"
	"synclient/internal/synergy"
	"synclient/util"
)

var _ synergy.Transport = (*Session)(nil)

// readBuffer is one full TLS record, so a single record never
// straddles the buffer boundary.
const readBuffer = 16 << 10

// State is the part of the protocol engine the session keeps in step
// with the connection.
type State interface {
	SetConnected(bool)
	SetLastMessageTime(time.Time)
	SetLastError(synergy.ErrorCode)
}

// Session binds an Establisher to the engine state.
type Session struct {
	Establisher *secure.Establisher
	// IdleTimeout bounds each Send and Receive.  Zero disables it.
	IdleTimeout time.Duration
	Logger      *util.Logger
	Metrics     *metrics.Collector

	state State
	ch    *secure.Channel
	rd    *bufio.Reader
}

// New creates a disconnected Session.
func New(est *secure.Establisher, idle time.Duration, logger *util.Logger, m *metrics.Collector) *Session {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Session{
		Establisher: est,
		IdleTimeout: idle,
		Logger:      logger,
		Metrics:     m,
	}
}

// Bind attaches the engine whose state this session maintains.
func (s *Session) Bind(state State) { s.state = state }

// Connect replaces any existing connection with a freshly established
// one.  The previous channel is always torn down first.
func (s *Session) Connect(ctx context.Context) error {
	s.Disconnect()

	ch, err := s.Establisher.Establish(ctx)
	if err != nil {
		s.Metrics.ConnectFailed()
		s.Metrics.RecordError(err.Error())
		return err
	}
	s.ch = ch
	s.rd = bufio.NewReaderSize(ch.Stream(), readBuffer)

	if s.state != nil {
		s.state.SetLastMessageTime(s.Now())
	}
	s.Metrics.SessionConnected()
	if ch.TLS != nil {
		s.Logger.Info("connected to %s (%s)", ch.Addr, ch.Fingerprint)
	} else {
		s.Logger.Info("connected to %s (plain)", ch.Addr)
	}
	return nil
}

// Disconnect closes the channel and marks the engine disconnected.  It
// reports whether there was anything to close; calling it again is a
// no-op.
func (s *Session) Disconnect() bool {
	if s.ch == nil {
		return false
	}
	ch := s.ch
	s.ch, s.rd = nil, nil
	if s.state != nil {
		s.state.SetConnected(false)
	}

	if err := ch.Close(); err != nil {
		s.Logger.Debug("closing %s: %v", ch.Addr, err)
	}
	s.Metrics.SessionDisconnected()
	s.Logger.Verbose("disconnected from %s", ch.Addr)
	return true
}

// Connected reports whether a channel is open.
func (s *Session) Connected() bool { return s.ch != nil }

// Fingerprint returns the adopted server fingerprint, empty for plain
// or disconnected sessions.
func (s *Session) Fingerprint() string {
	if s.ch == nil {
		return ""
	}
	return s.ch.Fingerprint
}

// Fd returns the socket descriptor to poll, or -1 when disconnected.
func (s *Session) Fd() int {
	if s.ch == nil {
		return -1
	}
	return s.ch.Fd()
}

// Send writes all of p or fails.
func (s *Session) Send(p []byte) error {
	if s.ch == nil {
		return ncerr.ErrNotConnected
	}
	conn := s.ch.Stream()
	s.arm(conn.SetWriteDeadline)
	n, err := conn.Write(p)
	s.Metrics.BytesSent(int64(n))
	if err != nil {
		return s.failed("send", err)
	}
	return nil
}

// Receive reads whatever is available into p, waiting at most the idle
// timeout for the first byte.
func (s *Session) Receive(p []byte) (int, error) {
	if s.ch == nil {
		return 0, ncerr.ErrNotConnected
	}
	s.arm(s.ch.Stream().SetReadDeadline)
	n, err := s.rd.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, ncerr.Wrap("receive", s.ch.Addr, net.ErrClosed)
	}
	return 0, s.failed("receive", err)
}

// Pending reports whether bytes are already decoded in user space.
// Such bytes are invisible to poll: the socket has been drained into
// the TLS layer or the read buffer.
func (s *Session) Pending() bool {
	if s.rd == nil {
		return false
	}
	if s.rd.Buffered() > 0 {
		return true
	}
	if s.ch.TLS == nil {
		return false
	}

	// A deadline in the past makes the read return at once unless the
	// TLS layer already holds a complete record.
	conn := s.ch.Stream()
	conn.SetReadDeadline(time.Unix(1, 0)) //nolint:errcheck
	_, err := s.rd.Peek(1)
	conn.SetReadDeadline(time.Time{}) //nolint:errcheck
	if err != nil && !ncerr.IsTimeout(err) {
		// Let Receive surface a latched close or error.
		return true
	}
	return s.rd.Buffered() > 0
}

// Sleep pauses the caller; used by the engine between failed connects.
func (s *Session) Sleep(d time.Duration) { time.Sleep(d) }

// Now is the engine's clock.
func (s *Session) Now() time.Time { return time.Now() }

func (s *Session) arm(set func(time.Time) error) {
	if s.IdleTimeout > 0 {
		set(time.Now().Add(s.IdleTimeout)) //nolint:errcheck
	}
}

func (s *Session) failed(op string, err error) error {
	addr := s.ch.Addr
	if ncerr.IsTimeout(err) {
		s.Metrics.Timeout()
		if s.state != nil {
			s.state.SetLastError(synergy.ErrorTimeout)
		}
		s.Logger.Warn("%s to %s timed out after %v", op, addr, s.IdleTimeout)
		return ncerr.Wrap(op, addr, ncerr.ErrTimeout)
	}
	s.Logger.Verbose("%s on %s failed: %v", op, addr, err)
	return ncerr.Wrap(op, addr, err)
}
