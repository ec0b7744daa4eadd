package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnv_Strings(t *testing.T) {
	t.Setenv("SYNCLIENT_HOST", "server.example.com")
	t.Setenv("SYNCLIENT_NAME", "desk")
	t.Setenv("SYNCLIENT_TRUST_BACKEND", "bolt")
	t.Setenv("SYNCLIENT_CLIPBOARD_COMMAND", "wl-copy")

	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "server.example.com" || cfg.Name != "desk" {
		t.Errorf("host=%q name=%q", cfg.Host, cfg.Name)
	}
	if cfg.TrustBackend != TrustBolt || cfg.ClipboardCommand != "wl-copy" {
		t.Errorf("backend=%q command=%q", cfg.TrustBackend, cfg.ClipboardCommand)
	}
}

func TestLoadFromEnv_Numbers(t *testing.T) {
	t.Setenv("SYNCLIENT_PORT", "24801")
	t.Setenv("SYNCLIENT_WIDTH", "2560")
	t.Setenv("SYNCLIENT_VERBOSE", "3")
	t.Setenv("SYNCLIENT_SOURCE_PORT", "24900")

	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 24801 || cfg.Width != 2560 || cfg.Height != DefaultHeight || cfg.Verbose != 3 {
		t.Errorf("port=%d width=%d height=%d verbose=%d", cfg.Port, cfg.Width, cfg.Height, cfg.Verbose)
	}
	if cfg.SourcePort != 24900 {
		t.Errorf("source port = %d", cfg.SourcePort)
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true}, {"true", true}, {"YES", true},
		{"0", false}, {"false", false}, {"No", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("SYNCLIENT_TOFU", tt.value)
			t.Setenv("SYNCLIENT_TLS", tt.value)
			cfg := Default()
			cfg.TrustOnFirstUse = !tt.want
			cfg.TLS = !tt.want
			if err := LoadFromEnv(cfg); err != nil {
				t.Fatal(err)
			}
			if cfg.TrustOnFirstUse != tt.want || cfg.TLS != tt.want {
				t.Errorf("tofu=%v tls=%v, want %v", cfg.TrustOnFirstUse, cfg.TLS, tt.want)
			}
		})
	}
}

func TestLoadFromEnv_UnrecognisedBoolKeepsValue(t *testing.T) {
	t.Setenv("SYNCLIENT_TLS", "maybe")
	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if !cfg.TLS {
		t.Error("TLS changed by an unrecognised value")
	}
}

func TestLoadFromEnv_Durations(t *testing.T) {
	t.Setenv("SYNCLIENT_TIMEOUT", "5")
	t.Setenv("SYNCLIENT_IDLE_TIMEOUT", "1m30s")
	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.ConnTimeout != 5*time.Second {
		t.Errorf("ConnTimeout = %v", cfg.ConnTimeout)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
}

func TestLoadFromEnv_Malformed(t *testing.T) {
	t.Setenv("SYNCLIENT_PORT", "http")
	t.Setenv("SYNCLIENT_RETRY_MAX", "soon")
	cfg := Default()
	err := LoadFromEnv(cfg)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"SYNCLIENT_PORT", "SYNCLIENT_RETRY_MAX"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d after malformed value", cfg.Port)
	}
}

func TestLoadFromEnv_SSHFields(t *testing.T) {
	t.Setenv("SYNCLIENT_TUNNEL", "admin@bastion:2222")
	t.Setenv("SYNCLIENT_SSH_KEY", "/home/user/.ssh/id_ed25519")
	t.Setenv("SYNCLIENT_SSH_PASSWORD", "true")
	t.Setenv("SYNCLIENT_SSH_AGENT", "1")
	t.Setenv("SYNCLIENT_STRICT_HOSTKEY", "yes")
	t.Setenv("SYNCLIENT_KNOWN_HOSTS", "/tmp/known_hosts")

	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.TunnelSpec != "admin@bastion:2222" || cfg.SSHKeyPath != "/home/user/.ssh/id_ed25519" {
		t.Errorf("tunnel=%q key=%q", cfg.TunnelSpec, cfg.SSHKeyPath)
	}
	if !cfg.SSHPassword || !cfg.UseSSHAgent || !cfg.StrictHostKey {
		t.Error("SSH booleans not applied")
	}
	if cfg.KnownHostsPath != "/tmp/known_hosts" {
		t.Errorf("KnownHostsPath = %q", cfg.KnownHostsPath)
	}
}

func TestLoadFromEnv_EmptyLeavesDefaults(t *testing.T) {
	t.Setenv("SYNCLIENT_HOST", "")
	cfg := Default()
	before := *cfg
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if *cfg != before {
		t.Errorf("config changed without environment: %+v", cfg)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synclient.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_Overlay(t *testing.T) {
	path := writeConfig(t, `
host: server.lan
name: laptop
idle_timeout: 15s
trust_on_first_use: true
clipboard_file: /run/user/1000/clip
tunnel: ops@jump
`)
	cfg := Default()
	if err := LoadFile(cfg, path); err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "server.lan" || cfg.Name != "laptop" {
		t.Errorf("host=%q name=%q", cfg.Host, cfg.Name)
	}
	if cfg.IdleTimeout != 15*time.Second || !cfg.TrustOnFirstUse {
		t.Errorf("idle=%v tofu=%v", cfg.IdleTimeout, cfg.TrustOnFirstUse)
	}
	if cfg.ClipboardFile != "/run/user/1000/clip" || cfg.TunnelSpec != "ops@jump" {
		t.Errorf("clipboard=%q tunnel=%q", cfg.ClipboardFile, cfg.TunnelSpec)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Port != DefaultPort || !cfg.TLS || cfg.ConnTimeout != DefaultConnTimeout {
		t.Errorf("defaults lost: port=%d tls=%v timeout=%v", cfg.Port, cfg.TLS, cfg.ConnTimeout)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	cfg := Default()
	if err := LoadFile(cfg, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
	if err := LoadFile(cfg, writeConfig(t, "hots: typo\n")); err == nil {
		t.Error("expected error for an unknown key")
	}
	if err := LoadFile(cfg, writeConfig(t, "port: [1, 2]\n")); err == nil {
		t.Error("expected error for a malformed value")
	}
}

func TestLoadFile_Empty(t *testing.T) {
	cfg := Default()
	if err := LoadFile(cfg, writeConfig(t, "")); err != nil {
		t.Errorf("empty file: %v", err)
	}
}

// TestPrecedence checks the env layer overrides the file layer.
func TestPrecedence(t *testing.T) {
	path := writeConfig(t, "host: from-file\nport: 1000\n")
	t.Setenv("SYNCLIENT_PORT", "2000")

	cfg := Default()
	if err := LoadFile(cfg, path); err != nil {
		t.Fatal(err)
	}
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "from-file" || cfg.Port != 2000 {
		t.Errorf("host=%q port=%d", cfg.Host, cfg.Port)
	}
}
