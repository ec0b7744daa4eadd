// Package config defines the runtime configuration for synclient and
// the layers it is assembled from: defaults, a YAML file, SYNCLIENT_*
// environment variables and command-line flags.
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	ncerr "synclient/internal/errors"
)

// Config holds every tuneable for a synclient process.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Name        string        `yaml:"name"` // screen name announced in the hello
	NoDNS       bool          `yaml:"no_dns"`
	SourcePort  int           `yaml:"source_port"`  // 0 = ephemeral
	ConnTimeout time.Duration `yaml:"conn_timeout"` // capped at IdleTimeout, 0 = IdleTimeout
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ── Security ─────────────────────────────────────────────────────
	TLS             bool   `yaml:"tls"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use"`
	ConfigDir       string `yaml:"config_dir"`
	CertPath        string `yaml:"cert_path"`     // client certificate, default <config_dir>/tls/cert
	TrustBackend    string `yaml:"trust_backend"` // "file" or "bolt"

	// ── Reconnection ─────────────────────────────────────────────────
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`

	// ── Screen and clipboard ─────────────────────────────────────────
	Width             int    `yaml:"width"`
	Height            int    `yaml:"height"`
	DisplayOutput     string `yaml:"display_output"` // JSON event stream path; empty = log only
	ClipboardFile     string `yaml:"clipboard_file"`
	ClipboardCommand  string `yaml:"clipboard_command"`
	ClipboardUpdaters int    `yaml:"clipboard_updaters"`

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string        `yaml:"tunnel"` // raw [user@]host[:port]
	TunnelEnabled  bool          `yaml:"-"`
	TunnelUser     string        `yaml:"-"`
	TunnelHost     string        `yaml:"-"`
	TunnelPort     int           `yaml:"-"`
	SSHKeyPath     string        `yaml:"ssh_key"`
	SSHPassword    bool          `yaml:"ssh_password"` // true → prompt interactively
	UseSSHAgent    bool          `yaml:"ssh_agent"`
	StrictHostKey  bool          `yaml:"strict_host_key"`
	KnownHostsPath string        `yaml:"known_hosts"`
	KeepAlive      time.Duration `yaml:"ssh_keepalive"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose     int    `yaml:"verbose"`
	LogFile     string `yaml:"log_file"`
	LogAppend   bool   `yaml:"log_append"`
	MetricsAddr string `yaml:"metrics_addr"`

	ConfigFile string `yaml:"-"` // --config, never read from the file itself
}

// TrustPath returns where the selected trust backend keeps its data.
func (c *Config) TrustPath() string {
	if c.TrustBackend == TrustBolt {
		return filepath.Join(c.ConfigDir, "trust.db")
	}
	return c.ConfigDir
}

// AttemptTimeout bounds resolution and each connect and handshake.
// A connection attempt never outlives the idle timeout.
func (c *Config) AttemptTimeout() time.Duration {
	if c.ConnTimeout <= 0 || c.ConnTimeout > c.IdleTimeout {
		return c.IdleTimeout
	}
	return c.ConnTimeout
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnel splits TunnelSpec into its parts.  An empty spec disables
// the tunnel.
func (c *Config) ApplyTunnel() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error(),
			Hint: "e.g. --tunnel admin@bastion.example.com:2222"}
	}
	c.TunnelEnabled = true
	c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ncerr.ConfigError{Field: "host", Message: "server host is required",
			Hint: "synclient [flags] host[:port]"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "out of range 1-65535",
			Hint: fmt.Sprintf("the synergy default is %d", DefaultPort)}
	}
	if c.SourcePort < 0 || c.SourcePort > 65535 {
		return &ncerr.ConfigError{Field: "source-port", Value: c.SourcePort, Message: "out of range 0-65535"}
	}
	if c.Name == "" {
		return &ncerr.ConfigError{Field: "name", Message: "screen name is required",
			Hint: "it must match a screen in the server configuration"}
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width > 32767 || c.Height > 32767 {
		return &ncerr.ConfigError{Field: "size", Value: fmt.Sprintf("%dx%d", c.Width, c.Height),
			Message: "screen dimensions must be between 1 and 32767"}
	}
	if c.IdleTimeout <= 0 {
		return &ncerr.ConfigError{Field: "idle-timeout", Value: c.IdleTimeout, Message: "must be positive",
			Hint: "servers send a keepalive every 3s"}
	}
	if c.ConnTimeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Value: c.ConnTimeout, Message: "must not be negative"}
	}
	if c.RetryInitial <= 0 || c.RetryMax < c.RetryInitial {
		return &ncerr.ConfigError{Field: "retry-max", Value: c.RetryMax,
			Message: fmt.Sprintf("must be at least the initial delay %v", c.RetryInitial)}
	}
	if c.TrustBackend != TrustFile && c.TrustBackend != TrustBolt {
		return &ncerr.ConfigError{Field: "trust-backend", Value: c.TrustBackend,
			Message: "unknown trust backend", Hint: "use file or bolt"}
	}
	if c.TLS && c.ConfigDir == "" {
		return &ncerr.ConfigError{Field: "config-dir", Message: "required to store certificate hashes"}
	}
	if c.ClipboardUpdaters < 1 {
		return &ncerr.ConfigError{Field: "clipboard-updaters", Value: c.ClipboardUpdaters, Message: "must be at least 1"}
	}
	if c.ClipboardCommand != "" && c.ClipboardFile == "" {
		return &ncerr.ConfigError{Field: "clipboard-command", Value: c.ClipboardCommand,
			Message: "needs --clipboard-file to watch for local changes"}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "tunnel host is required"}
	}
	return nil
}
