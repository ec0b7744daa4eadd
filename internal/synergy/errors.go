package synergy

import "errors"

var (
	// ErrProtocol wraps every failure caused by what the server sent.
	ErrProtocol = errors.New("synergy protocol error")
	// ErrNotReady is returned by outbound calls before the hello
	// exchange has completed.
	ErrNotReady = errors.New("synergy session not ready")
)
