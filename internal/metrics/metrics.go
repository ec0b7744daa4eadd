// Package metrics tracks runtime statistics of a synclient process:
// session lifecycle, trust failures, timeouts and traffic.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for synclient.
type Collector struct {
	connected       atomic.Int64 // 0 or 1
	connectsTotal   atomic.Int64
	connectFailures atomic.Int64
	disconnects     atomic.Int64
	trustFailures   atomic.Int64
	timeouts        atomic.Int64
	bytesIn         atomic.Int64
	bytesOut        atomic.Int64
	messagesIn      atomic.Int64
	errorsTotal     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastConnect  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session lifecycle ────────────────────────────────────────────────

// SessionConnected records a successful establishment.
func (c *Collector) SessionConnected() {
	if c == nil {
		return
	}
	c.connected.Store(1)
	c.connectsTotal.Add(1)
	c.mu.Lock()
	c.lastConnect = time.Now()
	c.mu.Unlock()
}

// SessionDisconnected records a teardown of an established session.
func (c *Collector) SessionDisconnected() {
	if c == nil {
		return
	}
	c.connected.Store(0)
	c.disconnects.Add(1)
}

// ConnectFailed records a failed establishment attempt.
func (c *Collector) ConnectFailed() {
	if c == nil {
		return
	}
	c.connectFailures.Add(1)
}

// TrustFailure records a pinning failure (missing pin, mismatch,
// persistence failure, missing peer certificate).
func (c *Collector) TrustFailure() {
	if c == nil {
		return
	}
	c.trustFailures.Add(1)
}

// Timeout records an I/O, idle or poll timeout.
func (c *Collector) Timeout() {
	if c == nil {
		return
	}
	c.timeouts.Add(1)
}

// Connected reports whether a session is currently up.
func (c *Collector) Connected() bool {
	if c == nil {
		return false
	}
	return c.connected.Load() == 1
}

// TotalConnects returns the lifetime count of established sessions.
func (c *Collector) TotalConnects() int64 {
	if c == nil {
		return 0
	}
	return c.connectsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the server.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the server.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// MessageReceived records one decoded protocol message.
func (c *Collector) MessageReceived() {
	if c == nil {
		return
	}
	c.messagesIn.Add(1)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	Connected        bool   `json:"connected"`
	ConnectsTotal    int64  `json:"connects_total"`
	ConnectFailures  int64  `json:"connect_failures"`
	Disconnects      int64  `json:"disconnects"`
	TrustFailures    int64  `json:"trust_failures"`
	Timeouts         int64  `json:"timeouts"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	MessagesIn       int64  `json:"messages_in"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastConnect      string `json:"last_connect,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		Connected:       c.connected.Load() == 1,
		ConnectsTotal:   c.connectsTotal.Load(),
		ConnectFailures: c.connectFailures.Load(),
		Disconnects:     c.disconnects.Load(),
		TrustFailures:   c.trustFailures.Load(),
		Timeouts:        c.timeouts.Load(),
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
		MessagesIn:      c.messagesIn.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
	}
	if !c.lastConnect.IsZero() {
		s.LastConnect = c.lastConnect.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as a compact JSON string.
func (c *Collector) JSON() string {
	data, _ := json.Marshal(c.Snapshot())
	return string(data)
}
