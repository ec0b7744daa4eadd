package display

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"synclient/util"
)

// maxBacklog caps undelivered output.  A consumer that stops reading
// loses events rather than stalling input processing.
const maxBacklog = 1 << 20

// Stream is a Headless display that also writes each event as a JSON
// line to a file or FIFO.  Writes never block: output the descriptor
// cannot take is queued and flushed when poll reports it writable.
type Stream struct {
	*Headless

	f       *os.File
	fd      int
	pending []byte
	dropped int64
}

// OpenStream opens path for writing and attaches it to a headless
// display.  A FIFO is opened non-blocking, so a reader must already
// be present.
func OpenStream(path string, width, height int, logger *util.Logger) (*Stream, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND|unix.O_NONBLOCK, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening display output: %w", err)
	}
	return newStream(f, width, height, logger)
}

func newStream(f *os.File, width, height int, logger *util.Logger) (*Stream, error) {
	fd := int(f.Fd())
	// Fd() switches the file to blocking mode; undo that.
	if err := unix.SetNonblock(fd, true); err != nil {
		f.Close()
		return nil, fmt.Errorf("display output: %w", err)
	}
	s := &Stream{Headless: NewHeadless(width, height, logger), f: f, fd: fd}
	s.Sink = s.queue
	return s, nil
}

func (s *Stream) queue(ev Event) {
	if s.fd < 0 {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if len(s.pending)+len(line)+1 > maxBacklog {
		s.dropped++
		if s.dropped == 1 {
			s.Logger.Warn("display output backlog full, dropping events")
		}
		return
	}
	s.pending = append(s.pending, line...)
	s.pending = append(s.pending, '\n')
}

// PrepareFd writes what the descriptor accepts right now.
func (s *Stream) PrepareFd() int {
	if s.fd < 0 {
		return -1
	}
	s.flush()
	return s.fd
}

func (s *Stream) PollProcess(revents int16) {
	if s.fd < 0 {
		return
	}
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		s.Logger.Warn("display output closed by reader")
		s.detach()
		return
	}
	if revents&unix.POLLOUT != 0 {
		s.flush()
	}
}

func (s *Stream) FlushPending() bool { return s.fd >= 0 && len(s.pending) > 0 }

// WantsInput is false: the stream is write-only, and a regular file
// would otherwise poll readable forever.
func (s *Stream) WantsInput() bool { return false }

// Dropped returns how many events were discarded for lack of space.
func (s *Stream) Dropped() int64 { return s.dropped }

func (s *Stream) flush() {
	for len(s.pending) > 0 {
		n, err := unix.Write(s.fd, s.pending)
		if n > 0 {
			s.pending = s.pending[n:]
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		if err != nil {
			s.Logger.Error("display output: %v", err)
			s.detach()
			return
		}
	}
	s.pending = s.pending[:0]
}

func (s *Stream) detach() {
	s.f.Close()
	s.fd = -1
	s.pending = nil
}

// Close releases the output file.
func (s *Stream) Close() error {
	if s.fd < 0 {
		return nil
	}
	s.fd = -1
	return s.f.Close()
}
