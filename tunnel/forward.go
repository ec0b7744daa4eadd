package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	ncerr "synclient/internal/errors"
	"synclient/internal/retry"
	"synclient/util"
)

// Forwarder listens on loopback and carries every accepted connection
// to Target through the gateway.
type Forwarder struct {
	Gateway Gateway
	// Target is the synergy server address as seen from the gateway.
	Target string
	// Backoff paces gateway reconnects within one resolution.
	Backoff *retry.Backoff
	// Breaker fails resolutions fast while the gateway keeps failing.
	Breaker *retry.Breaker
	Logger  *util.Logger

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connectMu sync.Mutex
}

// NewForwarder returns a forwarder that retries the gateway three
// times per resolution and rests it for a minute after three failed
// resolutions.
func NewForwarder(gw Gateway, target string, logger *util.Logger) *Forwarder {
	b := retry.DefaultBackoff()
	b.MaxAttempts = 3
	return &Forwarder{
		Gateway: gw,
		Target:  target,
		Backoff: b,
		Breaker: &retry.Breaker{
			Threshold: 3,
			Cooldown:  time.Minute,
			OnChange: func(from, to retry.State) {
				logger.Verbose("tunnel: gateway breaker %s -> %s", from, to)
			},
		},
		Logger: logger,
	}
}

// Start opens the loopback listener.  The gateway is connected lazily.
func (f *Forwarder) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("tunnel listener: %w", err)
	}
	f.ln = ln
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.acceptLoop()
	f.Logger.Verbose("tunnel: forwarding %s to %s", ln.Addr(), f.Target)
	return nil
}

// Addr is the loopback address connections should be made to.
func (f *Forwarder) Addr() string {
	if f.ln == nil {
		return ""
	}
	return f.ln.Addr().String()
}

// Resolve implements transport.Resolver.  Whatever host is asked for,
// the only candidate is the local end of the tunnel; the gateway is
// brought up first so a dead gateway fails resolution instead of
// producing a connection that closes at once.
func (f *Forwarder) Resolve(ctx context.Context, host string, port int) ([]string, error) {
	if f.ln == nil {
		return nil, ncerr.ErrTunnelClosed
	}
	if err := f.ensure(ctx); err != nil {
		return nil, err
	}
	return []string{f.Addr()}, nil
}

// ensure connects the gateway if it is not alive.
func (f *Forwarder) ensure(ctx context.Context) error {
	f.connectMu.Lock()
	defer f.connectMu.Unlock()
	if f.Gateway.IsAlive() {
		return nil
	}
	connect := func() error {
		return f.Backoff.Do(ctx, func(attempt int) error {
			err := f.Gateway.Connect(ctx)
			if err == nil {
				return nil
			}
			f.Logger.Warn("tunnel: gateway connect attempt %d failed: %v", attempt, err)
			var se *ncerr.SSHError
			if errors.As(err, &se) && (se.Op == "auth" || se.Op == "hostkey") {
				return retry.Permanent(err)
			}
			return err
		})
	}
	if f.Breaker == nil {
		return connect()
	}
	return f.Breaker.Do(connect)
}

func (f *Forwarder) acceptLoop() {
	defer f.wg.Done()
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				f.Logger.Error("tunnel: accept: %v", err)
			}
			return
		}
		f.wg.Add(1)
		go f.handle(conn)
	}
}

func (f *Forwarder) handle(local net.Conn) {
	defer f.wg.Done()

	if err := f.ensure(f.ctx); err != nil {
		f.Logger.Error("tunnel: gateway unavailable: %v", err)
		local.Close()
		return
	}
	remote, err := f.Gateway.Dial(f.ctx, "tcp", f.Target)
	if err != nil {
		f.Logger.Error("tunnel: %v", err)
		local.Close()
		return
	}

	up, down, err := util.Bridge(f.ctx, local, remote)
	if err != nil {
		f.Logger.Verbose("tunnel: stream to %s ended: %v", f.Target, err)
	}
	f.Logger.Debug("tunnel: stream to %s closed (%d bytes up, %d down)", f.Target, up, down)
}

// Close stops accepting, ends every forwarded stream and closes the
// gateway.
func (f *Forwarder) Close() error {
	if f.ln == nil {
		return nil
	}
	f.cancel()
	f.ln.Close()
	f.wg.Wait()
	return f.Gateway.Close()
}
