package core

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"synclient/config"
	"synclient/internal/clipboard"
	"synclient/internal/display"
	"synclient/internal/eventloop"
	"synclient/internal/metrics"
	"synclient/internal/retry"
	"synclient/internal/secure"
	"synclient/internal/session"
	"synclient/internal/synergy"
	"synclient/internal/transport"
	"synclient/internal/trust"
	"synclient/tunnel"
	"synclient/util"
)

// Build constructs the client from the given configuration.  ctx
// bounds background helpers such as the tunnel listener.  Everything
// opened here is released when the returned Mode's Run returns, or
// immediately if Build fails.
func Build(ctx context.Context, cfg *config.Config, logger *util.Logger) (_ Mode, err error) {
	m := &ClientMode{
		Logger:      logger,
		Metrics:     metrics.New(),
		MetricsAddr: cfg.MetricsAddr,
		Backoff: &retry.Backoff{
			InitialDelay: cfg.RetryInitial,
			MaxDelay:     cfg.RetryMax,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
	defer func() {
		if err != nil {
			m.release()
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	m.closers = append(m.closers, store)

	resolver, err := buildResolver(ctx, cfg, logger, m)
	if err != nil {
		return nil, err
	}

	est := &secure.Establisher{
		Host:            cfg.Host,
		Port:            cfg.Port,
		UseTLS:          cfg.TLS,
		TrustOnFirstUse: cfg.TrustOnFirstUse,
		CertPath:        cfg.CertPath,
		Timeout:         cfg.ConnTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		Resolver:        resolver,
		Dialer:          &transport.TCPDialer{Timeout: cfg.AttemptTimeout(), LocalPort: cfg.SourcePort},
		Store:           store,
		Logger:          logger,
		Metrics:         m.Metrics,
	}
	sess := session.New(est, cfg.IdleTimeout, logger, m.Metrics)

	disp, head, err := buildDisplay(cfg, logger, m)
	if err != nil {
		return nil, err
	}

	engine := synergy.New(cfg.Name, sess, disp, logger, m.Metrics)
	sess.Bind(engine)

	clip, err := buildClipboard(cfg, engine, logger, m)
	if err != nil {
		return nil, err
	}
	head.OnClipboard = clip.Update

	intr, err := eventloop.NewInterrupter(logger)
	if err != nil {
		return nil, err
	}
	m.closers = append(m.closers, intr)
	intr.Handle(syscall.SIGUSR1, func() {
		logger.Info("metrics: %s", m.Metrics.JSON())
	})
	if cfg.LogFile != "" {
		intr.Handle(syscall.SIGHUP, func() {
			if err := logger.OpenFile(cfg.LogFile, true); err != nil {
				logger.Error("reopening log file: %v", err)
			}
		})
	}

	loop := eventloop.New(cfg.ClipboardUpdaters)
	loop.Engine = engine
	loop.Session = sess
	loop.Display = disp
	loop.Clipboard = clip
	loop.Interrupter = intr
	loop.IdleTimeout = cfg.IdleTimeout
	loop.Logger = logger
	loop.Metrics = m.Metrics

	m.Engine = engine
	m.Loop = loop
	m.Session = sess
	m.Interrupter = intr
	return m, nil
}

// ── component builders ───────────────────────────────────────────────

// openStore opens the configured trust backend.  A missing
// configuration directory is created.
func openStore(cfg *config.Config) (trust.Store, error) {
	if cfg.ConfigDir != "" {
		if err := os.MkdirAll(cfg.ConfigDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}
	}
	switch cfg.TrustBackend {
	case config.TrustBolt:
		return trust.OpenBolt(cfg.TrustPath())
	default:
		return trust.NewFileStore(cfg.TrustPath()), nil
	}
}

// buildResolver returns DNS resolution, or the local end of an SSH
// tunnel when one is configured.
func buildResolver(ctx context.Context, cfg *config.Config, logger *util.Logger, m *ClientMode) (transport.Resolver, error) {
	if !cfg.TunnelEnabled {
		return &transport.DNSResolver{NoDNS: cfg.NoDNS}, nil
	}
	gw := tunnel.NewSSHGateway(&tunnel.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   cfg.AttemptTimeout(),
		KeepAlive:     cfg.KeepAlive,
	}, logger)
	fwd := tunnel.NewForwarder(gw, util.FormatAddr(cfg.Host, cfg.Port), logger)
	if err := fwd.Start(ctx); err != nil {
		return nil, err
	}
	m.closers = append(m.closers, fwd)
	logger.Verbose("reaching %s through %s", util.FormatAddr(cfg.Host, cfg.Port), gw.Addr())
	return fwd, nil
}

// buildDisplay returns the display and the headless core it shares
// with the event stream variant.
func buildDisplay(cfg *config.Config, logger *util.Logger, m *ClientMode) (display.Display, *display.Headless, error) {
	if cfg.DisplayOutput == "" {
		h := display.NewHeadless(cfg.Width, cfg.Height, logger)
		return h, h, nil
	}
	st, err := display.OpenStream(cfg.DisplayOutput, cfg.Width, cfg.Height, logger)
	if err != nil {
		return nil, nil, err
	}
	m.closers = append(m.closers, st)
	return st, st.Headless, nil
}

func buildClipboard(cfg *config.Config, sender clipboard.Sender, logger *util.Logger, m *ClientMode) (clipboard.Clipboard, error) {
	if cfg.ClipboardFile == "" {
		return clipboard.Disabled{}, nil
	}
	f, err := clipboard.NewFile(cfg.ClipboardFile, cfg.ClipboardCommand, cfg.ClipboardUpdaters, sender, logger)
	if err != nil {
		return nil, err
	}
	m.closers = append(m.closers, f)
	return f, nil
}
