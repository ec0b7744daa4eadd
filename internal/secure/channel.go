package secure

import (
	"crypto/tls"
	"net"
	"syscall"
)

// Channel is an established connection to the server.  TLS is nil for
// a plain session; Fingerprint is set only when TLS is in use.
type Channel struct {
	Conn        net.Conn
	TLS         *tls.Conn
	Fingerprint string
	Addr        string
}

// Stream returns the connection protocol bytes flow over.
func (c *Channel) Stream() net.Conn {
	if c.TLS != nil {
		return c.TLS
	}
	return c.Conn
}

// Fd returns the socket descriptor for readiness polling, or -1 when
// the connection does not expose one.
func (c *Channel) Fd() int {
	return connFd(c.Conn)
}

// Close tears down the secure layer (sending close_notify) and the
// socket.  The socket is closed even when close_notify fails; that
// error is returned for logging only.
func (c *Channel) Close() error {
	if c.TLS != nil {
		err := c.TLS.Close()
		c.Conn.Close() // already closed by tls.Conn.Close on success
		return err
	}
	return c.Conn.Close()
}

func connFd(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := rc.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1
	}
	return fd
}
