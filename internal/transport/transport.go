// Package transport provides the address resolution and dialing
// primitives used to reach the synergy server.  What happens over the
// connection (TLS, pinning, framing) is the secure and session
// packages' job.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound stream connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver turns host and port into an ordered list of candidate
// "ip:port" addresses.  Order matters: candidates are tried first to
// last and the first that connects wins.
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) ([]string, error)
}
