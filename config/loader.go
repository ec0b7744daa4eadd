package config

// loader.go - configuration loading from files and environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. Config file (--config or SYNCLIENT_CONFIG)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto cfg.  Keys missing
// from the file keep their current value; unknown keys are an error.
// Durations use Go syntax ("10s", "1m30s").
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the SYNCLIENT_ prefix.  Boolean values
// accept "1", "true", "yes" and "0", "false", "no" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.  Malformed numbers
// and durations are reported rather than ignored.
func LoadFromEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok, err := envInt(key); err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok, err := envDuration(key); err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := envBool(key); ok {
			*dst = v
		}
	}

	str("SYNCLIENT_HOST", &cfg.Host)
	num("SYNCLIENT_PORT", &cfg.Port)
	str("SYNCLIENT_NAME", &cfg.Name)
	flag("SYNCLIENT_NO_DNS", &cfg.NoDNS)
	num("SYNCLIENT_SOURCE_PORT", &cfg.SourcePort)
	dur("SYNCLIENT_TIMEOUT", &cfg.ConnTimeout)
	dur("SYNCLIENT_IDLE_TIMEOUT", &cfg.IdleTimeout)

	flag("SYNCLIENT_TLS", &cfg.TLS)
	flag("SYNCLIENT_TOFU", &cfg.TrustOnFirstUse)
	str("SYNCLIENT_CONFIG_DIR", &cfg.ConfigDir)
	str("SYNCLIENT_CERT", &cfg.CertPath)
	str("SYNCLIENT_TRUST_BACKEND", &cfg.TrustBackend)
	dur("SYNCLIENT_RETRY_INITIAL", &cfg.RetryInitial)
	dur("SYNCLIENT_RETRY_MAX", &cfg.RetryMax)

	num("SYNCLIENT_WIDTH", &cfg.Width)
	num("SYNCLIENT_HEIGHT", &cfg.Height)
	str("SYNCLIENT_DISPLAY_OUTPUT", &cfg.DisplayOutput)
	str("SYNCLIENT_CLIPBOARD_FILE", &cfg.ClipboardFile)
	str("SYNCLIENT_CLIPBOARD_COMMAND", &cfg.ClipboardCommand)
	num("SYNCLIENT_CLIPBOARD_UPDATERS", &cfg.ClipboardUpdaters)

	// SSH tunnel
	str("SYNCLIENT_TUNNEL", &cfg.TunnelSpec)
	str("SYNCLIENT_SSH_KEY", &cfg.SSHKeyPath)
	flag("SYNCLIENT_SSH_PASSWORD", &cfg.SSHPassword)
	flag("SYNCLIENT_SSH_AGENT", &cfg.UseSSHAgent)
	flag("SYNCLIENT_STRICT_HOSTKEY", &cfg.StrictHostKey)
	str("SYNCLIENT_KNOWN_HOSTS", &cfg.KnownHostsPath)
	dur("SYNCLIENT_SSH_KEEPALIVE", &cfg.KeepAlive)

	// Output
	num("SYNCLIENT_VERBOSE", &cfg.Verbose)
	str("SYNCLIENT_LOG_FILE", &cfg.LogFile)
	flag("SYNCLIENT_LOG_APPEND", &cfg.LogAppend)
	str("SYNCLIENT_METRICS_ADDR", &cfg.MetricsAddr)

	return errors.Join(errs...)
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) (int, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return n, true, nil
}

// envDuration accepts Go durations and, like the old integer settings,
// bare numbers meaning seconds.
func envDuration(key string) (time.Duration, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, true, nil
}

func envBool(key string) (value, ok bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}
