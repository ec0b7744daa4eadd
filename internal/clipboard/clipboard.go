// Package clipboard bridges the local clipboard with the server.  A
// monitor descriptor signals local changes; updater descriptors carry
// server-sent contents to the local side without blocking the loop.
package clipboard

import (
	"golang.org/x/sys/unix"

	"synclient/internal/synergy"
)

// Clipboard is the collaborator the event loop drives.
type Clipboard interface {
	// MonitorFd is polled for local changes, -1 when not monitoring.
	MonitorFd() int
	// UpdaterFds fills dst with the descriptors of in-flight updates,
	// -1 for idle slots.
	UpdaterFds(dst []int)
	// MonitorPollProcess handles one ready slot, either the monitor or
	// an updater.  It may reset slot.Fd to -1 when the slot is done.
	MonitorPollProcess(slot *unix.PollFd)
	// Update delivers contents received from the server.
	Update(id synergy.ClipboardID, text string)
}

// Sender uploads locally changed contents; the protocol engine
// implements it.
type Sender interface {
	SendClipboard(id synergy.ClipboardID, text string) error
}

// Disabled is a Clipboard that neither watches nor updates anything.
type Disabled struct{}

func (Disabled) MonitorFd() int { return -1 }

func (Disabled) MonitorPollProcess(*unix.PollFd)    {}
func (Disabled) Update(synergy.ClipboardID, string) {}

func (Disabled) UpdaterFds(dst []int) {
	for i := range dst {
		dst[i] = -1
	}
}
