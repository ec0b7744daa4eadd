// Package eventloop drives one connected session: it waits on the
// network socket, the display and the clipboard descriptors with a
// single poll(2), services the network first, and enforces the idle
// timeout.
//
// Everything runs on the caller's goroutine.  Signals reach the loop
// only through the Interrupter, which is checked after every wait and
// every dispatch step.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"synclient/internal/clipboard"
	"synclient/internal/display"
	"synclient/internal/metrics"
	"synclient/util"
)

var (
	// ErrIdleTimeout means no message arrived within the idle interval.
	ErrIdleTimeout = errors.New("idle timeout")
	// ErrPollTimeout means poll returned with nothing ready.
	ErrPollTimeout = errors.New("poll timeout")
	// ErrPoll wraps a failing poll(2).
	ErrPoll = errors.New("poll failed")
)

// Engine is the protocol state the loop steps and observes.
type Engine interface {
	Update(ctx context.Context) error
	Connected() bool
	// Ready reports whether the protocol handshake has completed.
	Ready() bool
	LastMessageTime() time.Time
}

// Session is the network side of the connection.
type Session interface {
	Fd() int
	Pending() bool
	Disconnect() bool
}

// Loop holds the collaborators of one client.  It is reused across
// sessions; each Run serves one.
type Loop struct {
	Engine      Engine
	Session     Session
	Display     display.Display
	Clipboard   clipboard.Clipboard
	Interrupter *Interrupter
	Poller      Poller
	IdleTimeout time.Duration
	Logger      *util.Logger
	Metrics     *metrics.Collector

	// Now defaults to time.Now.
	Now func() time.Time

	set *PollSet
}

// DefaultUpdaters is the updater slot count when none is configured.
const DefaultUpdaters = clipboard.DefaultUpdaters

// New returns a loop with room for the given number of clipboard
// updaters.
func New(updaters int) *Loop {
	if updaters <= 0 {
		updaters = DefaultUpdaters
	}
	return &Loop{Poller: UnixPoller{}, set: NewPollSet(updaters)}
}

// Run serves the current session until it ends.  It returns nil when
// the engine dropped the connection itself, ErrIdleTimeout or
// ErrPollTimeout after forcing a disconnect, ErrInterrupted on
// shutdown, and a wrapped ErrPoll when poll fails.
func (l *Loop) Run(ctx context.Context) error {
	if l.set == nil {
		l.set = NewPollSet(DefaultUpdaters)
	}
	if l.Now == nil {
		l.Now = time.Now
	}
	if l.Poller == nil {
		l.Poller = UnixPoller{}
	}
	if l.Clipboard == nil {
		l.Clipboard = clipboard.Disabled{}
	}
	if l.Logger == nil {
		l.Logger = util.NewLogger(0)
	}
	if l.Interrupter == nil {
		// Without signal delivery only ctx can interrupt the run.
		intr, err := NewInterrupter(l.Logger)
		if err != nil {
			return err
		}
		l.Interrupter = intr
		defer func() {
			intr.Close()
			l.Interrupter = nil
		}()
	}

	for {
		if err := l.Interrupter.Check(ctx); err != nil {
			return err
		}

		ready := l.Engine.Ready()
		l.refresh(ready)

		timeout := l.IdleTimeout
		pending := l.Session.Pending()
		if pending {
			timeout = 0
		}

		n, err := l.Poller.Poll(l.set.Active(ready), timeout)
		if cerr := l.Interrupter.Check(ctx); cerr != nil {
			return cerr
		}
		if err != nil {
			l.Logger.Error("poll failed (%v), dropping connection", err)
			l.Session.Disconnect()
			l.Metrics.RecordError(err.Error())
			return fmt.Errorf("%w: %w", ErrPoll, err)
		}
		if pending {
			// Data already decoded above the socket counts as readable.
			slot := l.set.Slot(SlotNet)
			if slot.Revents == 0 {
				slot.Revents = unix.POLLIN
				n++
			}
		}
		if n == 0 {
			l.Logger.Warn("poll timeout after %v, dropping connection", l.IdleTimeout)
			l.Session.Disconnect()
			l.Metrics.Timeout()
			return ErrPollTimeout
		}

		if err := l.step(ctx, ready); err != nil || !l.Engine.Connected() {
			return err
		}
	}
}

// refresh reloads every slot from its owner.
func (l *Loop) refresh(ready bool) {
	l.set.Set(SlotNet, l.Session.Fd(), unix.POLLIN)
	l.set.Set(SlotWake, l.Interrupter.Fd(), unix.POLLIN)
	if !ready {
		return
	}

	fd := l.Display.PrepareFd()
	l.set.Set(SlotDisplay, fd, l.displayEvents())
	l.set.Set(SlotClipMonitor, l.Clipboard.MonitorFd(), unix.POLLIN)

	fds := l.set.scratch
	l.Clipboard.UpdaterFds(fds)
	for i, fd := range fds {
		l.set.Set(SlotClipUpdater+i, fd, unix.POLLOUT)
	}
}

// displayEvents asks only for what the display can use.  With no
// interest at all poll still reports hangup and errors.
func (l *Loop) displayEvents() int16 {
	var ev int16
	if l.Display.WantsInput() {
		ev |= unix.POLLIN
	}
	if l.Display.FlushPending() {
		ev |= unix.POLLOUT
	}
	return ev
}

// step dispatches one poll result.  The network always goes first so
// keep-alives are answered before local work.
func (l *Loop) step(ctx context.Context, ready bool) error {
	if l.set.Ready(SlotNet) {
		if err := l.Engine.Update(ctx); err != nil {
			l.Logger.Verbose("session ended: %v", err)
		}
		if err := l.Interrupter.Check(ctx); err != nil {
			return err
		}
	}
	if !l.Engine.Connected() {
		return nil
	}

	if idle := l.Now().Sub(l.Engine.LastMessageTime()); idle > l.IdleTimeout {
		l.Logger.Warn("no message from server for %v, dropping connection", idle.Round(time.Millisecond))
		l.Session.Disconnect()
		l.Metrics.Timeout()
		return ErrIdleTimeout
	}

	if !ready {
		return nil
	}

	if l.set.Ready(SlotDisplay) {
		l.Display.PollProcess(l.set.Slot(SlotDisplay).Revents)
	}
	l.set.Slot(SlotDisplay).Events = l.displayEvents()
	if err := l.Interrupter.Check(ctx); err != nil {
		return err
	}

	if l.set.Ready(SlotClipMonitor) {
		l.Clipboard.MonitorPollProcess(l.set.Slot(SlotClipMonitor))
		if err := l.Interrupter.Check(ctx); err != nil {
			return err
		}
	}
	for i := 0; i < l.set.Updaters(); i++ {
		slot := SlotClipUpdater + i
		if !l.set.Ready(slot) {
			continue
		}
		l.Clipboard.MonitorPollProcess(l.set.Slot(slot))
		if err := l.Interrupter.Check(ctx); err != nil {
			return err
		}
	}
	return nil
}
