// Package core is the orchestration layer.  It composes the trust
// store, secure channel, session, protocol engine, collaborators and
// event loop into a running client, and owns reconnection.
//
// Architecture layers (bottom → top):
//
//	transport  →  secure  →  session  →  synergy  →  eventloop  →  core  →  cmd (CLI)
//
// Build is the single place where a Config turns into components.
package core

import "context"

// Mode represents a complete operational mode of synclient.  It owns
// its full lifecycle from connection establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
