// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// Logger writes levelled messages to stderr, and optionally to an
// extra log file, with optional timestamps and level prefixes.
type Logger struct {
	level      LogLevel
	output     io.Writer
	extra      io.WriteCloser // optional second sink (--log-file)
	mu         sync.Mutex
	timestamps bool // if true, prepend timestamps
	start      time.Time
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = errors only, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	return &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
		start:      time.Now(),
	}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) { l.timestamps = on }

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) { l.output = w }

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// OpenFile tees every message into the file at path as well.  With
// appendMode false the file is truncated.
func (l *Logger) OpenFile(path string, appendMode bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", path, err)
	}

	l.mu.Lock()
	old := l.extra
	l.extra = f
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Close releases the extra log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.extra == nil {
		return nil
	}
	err := l.extra.Close()
	l.extra = nil
	return err
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("INF", format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("WRN", format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write("VRB", format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write("DBG", format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("ERR", format, args...)
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	var line string
	if l.timestamps {
		// Seconds since start, like a monotonic clock readout.
		line = fmt.Sprintf("%.6f [%s] %s\n", time.Since(l.start).Seconds(), level, msg)
	} else {
		line = fmt.Sprintf("[%s] %s\n", level, msg)
	}
	io.WriteString(l.output, line) //nolint:errcheck
	if l.extra != nil {
		io.WriteString(l.extra, line) //nolint:errcheck
	}
}
