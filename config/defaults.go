package config

import (
	"os"
	"path/filepath"
	"time"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the synergy server port.
	DefaultPort = 24800

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds connect plus handshake per candidate.
	DefaultConnTimeout = 10 * time.Second

	// DefaultIdleTimeout drops a session that has been silent this long.
	// Servers send a keepalive every 3s.
	DefaultIdleTimeout = 10 * time.Second

	// DefaultRetryInitial and DefaultRetryMax shape the reconnect backoff.
	DefaultRetryInitial = 1 * time.Second
	DefaultRetryMax     = 30 * time.Second

	// DefaultWidth and DefaultHeight describe the screen reported to the
	// server when nothing else is configured.
	DefaultWidth  = 1920
	DefaultHeight = 1080

	// DefaultClipboardUpdaters is the number of concurrent copy commands.
	DefaultClipboardUpdaters = 4

	// DefaultKeepAlive is the SSH keepalive interval.
	DefaultKeepAlive = 30 * time.Second
)

// Trust store backends.
const (
	TrustFile = "file"
	TrustBolt = "bolt"
)

// Default returns a Config populated with every default.  The screen
// name falls back to the host name and the configuration directory to
// the user's XDG config home.
func Default() *Config {
	cfg := &Config{
		Port:              DefaultPort,
		ConnTimeout:       DefaultConnTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		TLS:               true,
		TrustBackend:      TrustFile,
		RetryInitial:      DefaultRetryInitial,
		RetryMax:          DefaultRetryMax,
		Width:             DefaultWidth,
		Height:            DefaultHeight,
		ClipboardUpdaters: DefaultClipboardUpdaters,
		KeepAlive:         DefaultKeepAlive,
		Verbose:           1,
	}
	if name, err := os.Hostname(); err == nil {
		cfg.Name = name
	}
	if dir, err := os.UserConfigDir(); err == nil {
		cfg.ConfigDir = filepath.Join(dir, "synclient")
	}
	return cfg
}

// Finish derives the values that depend on others once every layer has
// been applied.
func (c *Config) Finish() error {
	if c.CertPath == "" && c.ConfigDir != "" {
		c.CertPath = filepath.Join(c.ConfigDir, "tls", "cert")
	}
	return c.ApplyTunnel()
}
