package tunnel

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "synclient/internal/errors"
	"synclient/util"
)

// SSHConfig holds everything needed to log in to the gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
	// KeepAlive is the interval of keepalive@openssh.com requests; zero
	// disables them.
	KeepAlive time.Duration

	// Prompt reads secrets; nil means the controlling terminal.
	Prompt Prompter
}

// SSHGateway implements [Gateway] with golang.org/x/crypto/ssh.
type SSHGateway struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	alive  bool
}

// NewSSHGateway returns a gateway ready to [SSHGateway.Connect].
func NewSSHGateway(cfg *SSHConfig, logger *util.Logger) *SSHGateway {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if cfg.Prompt == nil {
		cfg.Prompt = TerminalPrompt
	}
	return &SSHGateway{config: cfg, logger: logger}
}

// Addr is the gateway's host:port.
func (g *SSHGateway) Addr() string { return util.FormatAddr(g.config.Host, g.config.Port) }

// Connect dials the gateway and logs in.  A live connection is kept.
func (g *SSHGateway) Connect(ctx context.Context) error {
	if g.IsAlive() {
		return nil
	}
	methods, err := BuildAuthMethods(g.config)
	if err != nil {
		return ncerr.WrapSSH("auth", g.config.Host, g.config.Port, err)
	}
	hkCallback, err := hostKeyCallback(g.config)
	if err != nil {
		return ncerr.WrapSSH("hostkey", g.config.Host, g.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            g.config.User,
		Auth:            methods,
		HostKeyCallback: hkCallback,
		Timeout:         g.config.ConnTimeout,
	}

	addr := g.Addr()
	g.logger.Verbose("ssh: connecting to gateway %s as %s", addr, g.config.User)

	dctx, cancel := context.WithTimeout(ctx, g.config.ConnTimeout)
	defer cancel()
	var dialer net.Dialer
	tcpConn, err := dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap("dial", addr, err)
	}

	// The handshake itself has no context; bound it with a deadline.
	tcpConn.SetDeadline(time.Now().Add(g.config.ConnTimeout)) //nolint:errcheck
	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return ncerr.WrapSSH("auth", g.config.Host, g.config.Port, fmt.Errorf("%w: %w", ncerr.ErrAuthFailed, err))
		}
		return ncerr.WrapSSH("handshake", g.config.Host, g.config.Port, err)
	}
	tcpConn.SetDeadline(time.Time{}) //nolint:errcheck

	client := ssh.NewClient(sshConn, chans, reqs)
	g.mu.Lock()
	g.client = client
	g.alive = true
	g.mu.Unlock()

	g.logger.Info("ssh: gateway %s connected", addr)
	go g.monitor(client)
	if g.config.KeepAlive > 0 {
		go g.keepAlive(client, g.config.KeepAlive)
	}
	return nil
}

// Dial opens a direct-tcpip channel to address.
func (g *SSHGateway) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	g.mu.RLock()
	client, alive := g.client, g.alive
	g.mu.RUnlock()
	if !alive || client == nil {
		return nil, ncerr.ErrTunnelClosed
	}

	g.logger.Debug("ssh: opening %s %s via %s", network, address, g.Addr())
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, ncerr.Wrap("tunnel dial", address, err)
	}
	return conn, nil
}

// Close shuts down the SSH connection.
func (g *SSHGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alive = false
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

func (g *SSHGateway) IsAlive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.alive
}

// monitor marks the gateway dead once client's connection ends.
func (g *SSHGateway) monitor(client *ssh.Client) {
	err := client.Wait()

	g.mu.Lock()
	if g.client == client {
		g.alive = false
		g.client = nil
	}
	g.mu.Unlock()

	if err != nil {
		g.logger.Warn("ssh: gateway %s closed: %v", g.Addr(), err)
	} else {
		g.logger.Verbose("ssh: gateway %s closed", g.Addr())
	}
}

// keepAlive pings the gateway so dead links are noticed between
// sessions, when no channel traffic would reveal them.
func (g *SSHGateway) keepAlive(client *ssh.Client, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for range t.C {
		g.mu.RLock()
		current := g.client == client
		g.mu.RUnlock()
		if !current {
			return
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			g.logger.Warn("ssh: keepalive to %s failed: %v", g.Addr(), err)
			client.Close()
			return
		}
	}
}
