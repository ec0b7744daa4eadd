// Package cmd wires up the CLI flags and dispatches to the client core.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"synclient/config"
	"synclient/internal/core"
	"synclient/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X synclient/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives --version and --dry-run output.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// Execute layers defaults, the config file, the environment and args
// into a Config and runs the client until ctx is done or a shutdown
// signal arrives.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()

	// ── file and environment layers ──────────────────────────────
	path := os.Getenv("SYNCLIENT_CONFIG")
	if p := prescanConfig(args); p != "" {
		path = p
	}
	if path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return err
		}
		cfg.ConfigFile = path
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	// Flags default to the merged value so only given flags override.
	fs := flag.NewFlagSet("synclient", flag.ContinueOnError)

	// ── server ───────────────────────────────────────────────────
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Server port")
	fs.StringVarP(&cfg.Name, "name", "N", cfg.Name, "Screen name announced to the server")
	fs.BoolVarP(&cfg.NoDNS, "no-dns", "n", cfg.NoDNS, "Numeric-only, no DNS resolution")
	fs.IntVarP(&cfg.SourcePort, "source-port", "s", cfg.SourcePort, "Local source port (0 = ephemeral)")
	fs.DurationVarP(&cfg.ConnTimeout, "timeout", "w", cfg.ConnTimeout, "Connect and handshake timeout per address (at most --idle-timeout)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Drop a silent session after this long")

	// ── security ─────────────────────────────────────────────────
	fs.BoolVar(&cfg.TLS, "tls", cfg.TLS, "Use TLS (--tls=false for plain TCP)")
	fs.BoolVar(&cfg.TrustOnFirstUse, "tofu", cfg.TrustOnFirstUse, "Trust and pin an unknown server certificate")
	fs.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "Directory for pinned hashes and the client certificate")
	fs.StringVar(&cfg.CertPath, "cert", cfg.CertPath, "Client certificate PEM (default <config-dir>/tls/cert)")
	fs.StringVar(&cfg.TrustBackend, "trust-backend", cfg.TrustBackend, "Pinned hash storage: file or bolt")
	fs.DurationVar(&cfg.RetryInitial, "retry-initial", cfg.RetryInitial, "First reconnect delay")
	fs.DurationVar(&cfg.RetryMax, "retry-max", cfg.RetryMax, "Longest reconnect delay")

	// ── screen and clipboard ─────────────────────────────────────
	fs.IntVar(&cfg.Width, "width", cfg.Width, "Screen width reported to the server")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "Screen height reported to the server")
	fs.StringVar(&cfg.DisplayOutput, "display-output", cfg.DisplayOutput, "Write injected input as JSON lines to this file or FIFO")
	fs.StringVar(&cfg.ClipboardFile, "clipboard-file", cfg.ClipboardFile, "Share this file as the clipboard")
	fs.StringVar(&cfg.ClipboardCommand, "clipboard-command", cfg.ClipboardCommand, "Pipe server clipboard into this shell command")
	fs.IntVar(&cfg.ClipboardUpdaters, "clipboard-updaters", cfg.ClipboardUpdaters, "Concurrent clipboard commands")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach the server through SSH via [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.DurationVar(&cfg.KeepAlive, "ssh-keepalive", cfg.KeepAlive, "SSH keepalive interval (0 disables)")

	// ── output ───────────────────────────────────────────────────
	// CountVarP zeroes its target, so count on top of the merged level.
	baseVerbose, extraVerbose := cfg.Verbose, 0
	fs.CountVarP(&extraVerbose, "verbose", "v", "Increase verbosity (repeatable)")
	var quiet bool
	fs.BoolVarP(&quiet, "quiet", "q", false, "Errors only")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write the log to this file")
	fs.BoolVar(&cfg.LogAppend, "log-append", cfg.LogAppend, "Append to --log-file instead of truncating")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")

	var configPath string
	fs.StringVar(&configPath, "config", path, "YAML configuration file")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || (len(args) == 0 && cfg.Host == "") {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "synclient %s\n", version)
		return nil
	}
	cfg.Verbose = baseVerbose + extraVerbose
	if quiet {
		cfg.Verbose = 0
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Finish(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		printSummary(cfg)
		return nil
	}

	// ── run ──────────────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if cfg.LogFile != "" {
		if err := logger.OpenFile(cfg.LogFile, cfg.LogAppend); err != nil {
			return err
		}
		defer logger.Close()
	}

	mode, err := core.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// prescanConfig finds --config before the real parse so the file can
// sit below the environment and flags.
func prescanConfig(args []string) string {
	fs := flag.NewFlagSet("prescan", flag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	path := fs.String("config", "", "")
	if err := fs.Parse(args); err != nil && !errors.Is(err, flag.ErrHelp) {
		return ""
	}
	return *path
}

// parsePositional accepts a single host[:port] argument.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil // host from the file or environment, checked by Validate
	case 1:
	default:
		return fmt.Errorf("too many arguments: %q (expected host[:port])", remaining)
	}
	host, port, err := util.SplitHostPort(remaining[0], cfg.Port)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	cfg.Host, cfg.Port = host, port
	return nil
}

func printSummary(cfg *config.Config) {
	mode := "plain TCP"
	if cfg.TLS {
		mode = "TLS, strict pinning"
		if cfg.TrustOnFirstUse {
			mode = "TLS, trust on first use"
		}
	}
	fmt.Fprintf(stdout, "server:    %s (%s)\n", util.FormatAddr(cfg.Host, cfg.Port), mode)
	fmt.Fprintf(stdout, "screen:    %s %dx%d\n", cfg.Name, cfg.Width, cfg.Height)
	fmt.Fprintf(stdout, "trust:     %s in %s\n", cfg.TrustBackend, cfg.TrustPath())
	if cfg.TunnelEnabled {
		fmt.Fprintf(stdout, "tunnel:    %s\n", cfg.TunnelSpec)
	}
	if cfg.ClipboardFile != "" {
		fmt.Fprintf(stdout, "clipboard: %s\n", cfg.ClipboardFile)
	}
	if cfg.ConfigFile != "" {
		fmt.Fprintf(stdout, "config:    %s\n", cfg.ConfigFile)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `synclient v%s

A synergy client: receives keyboard, pointer and clipboard events from
a synergy server, over TLS with pinned certificates.

Usage:
  synclient [options] <host>[:<port>]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  synclient --tofu server.lan                 First connection, pin the server
  synclient -N laptop server.lan:24801        Custom screen name and port
  synclient -T admin@bastion server.internal  Through an SSH gateway
  synclient --clipboard-file ~/.clip \
    --clipboard-command wl-copy server.lan    Share the clipboard

Environment variables SYNCLIENT_* and the --config YAML file set the
same options; flags win over the environment, which wins over the file.
`)
}
