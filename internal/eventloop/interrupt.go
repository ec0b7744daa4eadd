package eventloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"synclient/util"
)

// ErrInterrupted is returned once a shutdown was requested.
var ErrInterrupted = errors.New("interrupted")

// Interrupter turns asynchronous signals into a token the loop checks
// at each step.  Delivery only records the signal and writes a byte to
// a wake pipe the loop polls; all handling happens in Check on the
// loop's goroutine.
type Interrupter struct {
	Logger *util.Logger

	r, w int

	mu       sync.Mutex
	pending  []os.Signal
	shutdown map[os.Signal]bool
	actions  map[os.Signal]func()
	stopped  bool
	closed   bool

	sigs chan os.Signal
	done chan struct{}
	once sync.Once
}

// NewInterrupter creates the wake pipe.  SIGINT and SIGTERM request
// shutdown until Shutdown overrides them.
func NewInterrupter(logger *util.Logger) (*Interrupter, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	return &Interrupter{
		Logger:   logger,
		r:        p[0],
		w:        p[1],
		shutdown: map[os.Signal]bool{syscall.SIGINT: true, syscall.SIGTERM: true},
		actions:  map[os.Signal]func(){},
		done:     make(chan struct{}),
	}, nil
}

// Fd is the read end of the wake pipe.
func (i *Interrupter) Fd() int { return i.r }

// Shutdown replaces the set of signals that end the run.
func (i *Interrupter) Shutdown(sigs ...os.Signal) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.shutdown = make(map[os.Signal]bool, len(sigs))
	for _, s := range sigs {
		i.shutdown[s] = true
	}
}

// Handle registers action to run from Check when sig arrives.
func (i *Interrupter) Handle(sig os.Signal, action func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.actions[sig] = action
}

// Notify subscribes to every shutdown and handled signal and, until
// Close, forwards them.  Cancelling ctx counts as a shutdown request.
func (i *Interrupter) Notify(ctx context.Context) {
	i.mu.Lock()
	var sigs []os.Signal
	for s := range i.shutdown {
		sigs = append(sigs, s)
	}
	for s := range i.actions {
		sigs = append(sigs, s)
	}
	i.mu.Unlock()

	i.sigs = make(chan os.Signal, 8)
	signal.Notify(i.sigs, sigs...)
	go func() {
		for {
			select {
			case s := <-i.sigs:
				i.Raise(s)
			case <-ctx.Done():
				i.Stop()
				return
			case <-i.done:
				return
			}
		}
	}()
}

// Raise records sig as delivered and wakes the loop.
func (i *Interrupter) Raise(sig os.Signal) {
	i.mu.Lock()
	seen := false
	for _, p := range i.pending {
		if p == sig {
			seen = true
			break
		}
	}
	if !seen {
		i.pending = append(i.pending, sig)
	}
	i.mu.Unlock()
	i.wake()
}

// Stop requests shutdown without a signal.
func (i *Interrupter) Stop() {
	i.mu.Lock()
	i.stopped = true
	i.mu.Unlock()
	i.wake()
}

func (i *Interrupter) wake() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	// A full pipe already guarantees a wakeup.
	unix.Write(i.w, []byte{0}) //nolint:errcheck
}

// Check drains the wake pipe, runs actions for pending signals and
// reports ErrInterrupted once shutdown was requested or ctx is done.
func (i *Interrupter) Check(ctx context.Context) error {
	var buf [64]byte
	for {
		n, err := unix.Read(i.r, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}

	i.mu.Lock()
	pending := i.pending
	i.pending = nil
	for _, s := range pending {
		if i.shutdown[s] {
			i.stopped = true
		}
	}
	stopped := i.stopped
	actions := make([]func(), 0, len(pending))
	for _, s := range pending {
		if a, ok := i.actions[s]; ok && !i.shutdown[s] {
			actions = append(actions, a)
		}
	}
	i.mu.Unlock()

	for _, s := range pending {
		i.Logger.Verbose("received signal %v", s)
	}
	for _, a := range actions {
		a()
	}
	if stopped || ctx.Err() != nil {
		return ErrInterrupted
	}
	return nil
}

// Sleep waits for d on the wake pipe.  Actions run as their signals
// arrive; a shutdown request ends the wait early with ErrInterrupted.
func (i *Interrupter) Sleep(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	fds := []unix.PollFd{{Fd: int32(i.r), Events: unix.POLLIN}}
	for {
		if err := i.Check(ctx); err != nil {
			return err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		fds[0].Revents = 0
		if _, err := (UnixPoller{}).Poll(fds, left); err != nil {
			return err
		}
	}
}

// Close stops signal delivery and releases the wake pipe.
func (i *Interrupter) Close() error {
	var err error
	i.once.Do(func() {
		close(i.done)
		if i.sigs != nil {
			signal.Stop(i.sigs)
		}
		i.mu.Lock()
		i.closed = true
		i.mu.Unlock()
		unix.Close(i.w)
		err = unix.Close(i.r)
	})
	return err
}
