package synergy

// ClipboardID names one of the two synergy clipboards.
type ClipboardID uint8

const (
	ClipboardPrimary   ClipboardID = 0 // regular copy/paste
	ClipboardSelection ClipboardID = 1 // X11-style primary selection
)

// Geometry describes the local screen as reported to the server.
type Geometry struct {
	Width, Height      int
	PointerX, PointerY int
}

// Handler receives decoded input from the server.  It is implemented
// by the display collaborator; every call happens on the event loop
// goroutine.
type Handler interface {
	Screen() Geometry
	Enter(x, y int, modifiers uint16)
	Leave()
	MouseMove(x, y int)
	MouseRelativeMove(dx, dy int)
	MouseButton(button int, down bool)
	MouseWheel(dx, dy int)
	Key(id, modifiers, button uint16, down bool)
	Clipboard(id ClipboardID, text string)
}
