package eventloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// Fixed slot positions in the descriptor table.  Updater slots follow
// the clipboard monitor.
const (
	SlotNet = iota
	SlotWake
	SlotDisplay
	SlotClipMonitor
	SlotClipUpdater
)

// PollSet is the descriptor table handed to poll(2).  Unused slots
// carry fd -1, which poll skips.
type PollSet struct {
	fds     []unix.PollFd
	scratch []int
}

// NewPollSet returns a table with room for the given number of
// clipboard updaters.
func NewPollSet(updaters int) *PollSet {
	p := &PollSet{
		fds:     make([]unix.PollFd, SlotClipUpdater+updaters),
		scratch: make([]int, updaters),
	}
	for i := range p.fds {
		p.fds[i] = unix.PollFd{Fd: -1, Events: unix.POLLIN}
	}
	return p
}

// Set assigns a descriptor and interest to slot and clears its result.
func (p *PollSet) Set(slot, fd int, events int16) {
	p.fds[slot] = unix.PollFd{Fd: int32(fd), Events: events}
}

// Slot gives direct access to one entry.
func (p *PollSet) Slot(i int) *unix.PollFd { return &p.fds[i] }

// Ready reports whether poll flagged slot.
func (p *PollSet) Ready(slot int) bool {
	return p.fds[slot].Fd >= 0 && p.fds[slot].Revents != 0
}

// Len is the total number of slots.
func (p *PollSet) Len() int { return len(p.fds) }

// Updaters returns the number of clipboard updater slots.
func (p *PollSet) Updaters() int { return len(p.scratch) }

// Active returns the slots to wait on: only the network and wake slots
// until the protocol is up, every slot afterwards.
func (p *PollSet) Active(all bool) []unix.PollFd {
	if all {
		return p.fds
	}
	return p.fds[:SlotWake+1]
}

// Poller waits for readiness.  A negative timeout blocks indefinitely.
type Poller interface {
	Poll(fds []unix.PollFd, timeout time.Duration) (int, error)
}

// UnixPoller is poll(2).  Interrupted calls are retried with whatever
// remains of the timeout.
type UnixPoller struct{}

func (UnixPoller) Poll(fds []unix.PollFd, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		ms := -1
		if timeout >= 0 {
			ms = int(time.Until(deadline).Milliseconds())
			if ms < 0 {
				ms = 0
			}
		}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
