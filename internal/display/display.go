// Package display is the local side of input injection.  The event
// loop polls a Display's descriptor alongside the network socket; the
// protocol engine delivers decoded input through synergy.Handler.
package display

import (
	"fmt"

	"synclient/internal/synergy"
	"synclient/util"
)

// Display is the collaborator the event loop drives.
type Display interface {
	synergy.Handler

	// PrepareFd flushes what can be flushed without blocking and returns
	// the descriptor to poll, or -1 when there is none.
	PrepareFd() int
	// WantsInput reports whether the descriptor carries input to read.
	// Output-only descriptors are polled for writability and hangup
	// alone.
	WantsInput() bool
	// PollProcess handles the revents poll reported for the descriptor.
	PollProcess(revents int16)
	// FlushPending reports whether outbound data is waiting, in which
	// case the loop also polls for writability.
	FlushPending() bool
}

// Event is one injected input action.
type Event struct {
	Kind   string `json:"kind"`
	X      int    `json:"x,omitempty"`
	Y      int    `json:"y,omitempty"`
	Key    uint16 `json:"key,omitempty"`
	Mods   uint16 `json:"mods,omitempty"`
	Button int    `json:"button,omitempty"`
	Down   bool   `json:"down,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case "key":
		return fmt.Sprintf("key %d mods=%#x down=%v", e.Key, e.Mods, e.Down)
	case "button":
		return fmt.Sprintf("button %d down=%v", e.Button, e.Down)
	}
	return fmt.Sprintf("%s %d,%d", e.Kind, e.X, e.Y)
}

// Headless accepts input without a window system.  It tracks the
// pointer inside the configured screen and hands every event to Sink.
type Headless struct {
	Width, Height int
	Logger        *util.Logger

	// Sink, when set, observes every injected event.
	Sink func(Event)
	// OnClipboard receives clipboard contents sent by the server.
	OnClipboard func(id synergy.ClipboardID, text string)

	x, y   int
	events int64
}

// NewHeadless returns a display of the given size with the pointer
// centred.
func NewHeadless(width, height int, logger *util.Logger) *Headless {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Headless{Width: width, Height: height, Logger: logger, x: width / 2, y: height / 2}
}

func (h *Headless) PrepareFd() int     { return -1 }
func (h *Headless) WantsInput() bool   { return false }
func (h *Headless) FlushPending() bool { return false }

func (h *Headless) PollProcess(int16) {}

// Pointer returns the current pointer position.
func (h *Headless) Pointer() (x, y int) { return h.x, h.y }

// Events returns how many input events were injected.
func (h *Headless) Events() int64 { return h.events }

// Screen implements synergy.Handler.
func (h *Headless) Screen() synergy.Geometry {
	return synergy.Geometry{Width: h.Width, Height: h.Height, PointerX: h.x, PointerY: h.y}
}

func (h *Headless) Enter(x, y int, mods uint16) {
	h.warp(x, y)
	h.emit(Event{Kind: "enter", X: h.x, Y: h.y, Mods: mods})
}

func (h *Headless) Leave() { h.emit(Event{Kind: "leave"}) }

func (h *Headless) MouseMove(x, y int) {
	h.warp(x, y)
	h.emit(Event{Kind: "move", X: h.x, Y: h.y})
}

func (h *Headless) MouseRelativeMove(dx, dy int) {
	h.warp(h.x+dx, h.y+dy)
	h.emit(Event{Kind: "move", X: h.x, Y: h.y})
}

func (h *Headless) MouseButton(button int, down bool) {
	h.emit(Event{Kind: "button", Button: button, Down: down})
}

func (h *Headless) MouseWheel(dx, dy int) {
	h.emit(Event{Kind: "wheel", X: dx, Y: dy})
}

func (h *Headless) Key(id, mods, button uint16, down bool) {
	h.emit(Event{Kind: "key", Key: id, Mods: mods, Button: int(button), Down: down})
}

func (h *Headless) Clipboard(id synergy.ClipboardID, text string) {
	h.Logger.Verbose("clipboard %d updated by server (%d bytes)", id, len(text))
	if h.OnClipboard != nil {
		h.OnClipboard(id, text)
	}
}

// warp moves the pointer, clamped to the screen.
func (h *Headless) warp(x, y int) {
	h.x = clamp(x, 0, h.Width-1)
	h.y = clamp(y, 0, h.Height-1)
}

func (h *Headless) emit(ev Event) {
	h.events++
	h.Logger.Debug("inject %s", ev)
	if h.Sink != nil {
		h.Sink(ev)
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}
