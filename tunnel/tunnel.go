// Package tunnel reaches the synergy server through an SSH gateway.
//
// The core only ever polls a real socket, so the tunnel is exposed as
// a loopback listener: every connection accepted there is carried to
// the server over the SSH connection.  The listener doubles as the
// transport.Resolver, handing out its own address as the only
// candidate.
package tunnel

import (
	"context"
	"net"
)

// Gateway is a connection to a jump host able to open streams on the
// caller's behalf.
type Gateway interface {
	// Connect establishes the gateway connection.
	Connect(ctx context.Context) error

	// Dial opens a connection to address from the gateway's side.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the gateway connection.
	Close() error

	// IsAlive reports whether the gateway connection is still up.
	IsAlive() bool
}
