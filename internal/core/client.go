package core

import (
	"context"
	"errors"
	"io"
	"time"

	ncerr "synclient/internal/errors"
	"synclient/internal/eventloop"
	"synclient/internal/metrics"
	"synclient/internal/retry"
	"synclient/internal/synergy"
	"synclient/util"
)

// Connector is the protocol engine as the supervisor drives it.
type Connector interface {
	Update(ctx context.Context) error
	Connected() bool
	LastError() synergy.ErrorCode
}

// Runner serves one established session.
type Runner interface {
	Run(ctx context.Context) error
}

// Disconnecter tears the current session down.
type Disconnecter interface {
	Disconnect() bool
}

// ClientMode keeps a session to the server alive until interrupted:
// connect, serve, and after any failure wait out the backoff and
// start over.
type ClientMode struct {
	Engine      Connector
	Loop        Runner
	Session     Disconnecter
	Interrupter *eventloop.Interrupter
	Backoff     *retry.Backoff
	Logger      *util.Logger
	Metrics     *metrics.Collector

	// MetricsAddr, when set, serves Prometheus metrics for the run.
	MetricsAddr string

	// closers are released in reverse order when Run returns.
	closers []io.Closer
}

// Run returns nil on an orderly shutdown (signal or ctx) and an error
// only when the run could not start.
func (m *ClientMode) Run(ctx context.Context) error {
	defer m.release()

	if m.MetricsAddr != "" {
		if err := m.Metrics.Serve(ctx, m.MetricsAddr, m.Logger); err != nil {
			return err
		}
	}
	m.Interrupter.Notify(ctx)

	for {
		if err := m.Interrupter.Check(ctx); err != nil {
			return m.finish(err)
		}

		if !m.Engine.Connected() {
			err := m.Engine.Update(ctx)
			if err != nil || !m.Engine.Connected() {
				if ierr := m.Interrupter.Check(ctx); ierr != nil {
					return m.finish(ierr)
				}
				m.reportFailure(err)
				if err := m.pause(ctx); err != nil {
					return m.finish(err)
				}
				continue
			}
			m.Backoff.Reset()
		}

		err := m.Loop.Run(ctx)
		switch {
		case errors.Is(err, eventloop.ErrInterrupted):
			return m.finish(err)
		case err != nil:
			m.Logger.Warn("session ended: %v", err)
		default:
			m.Logger.Info("session ended (%s)", m.Engine.LastError())
		}
		if err := m.pause(ctx); err != nil {
			return m.finish(err)
		}
	}
}

// reportFailure logs a failed connect by kind: trust failures need the
// operator, transient ones usually clear on their own.
func (m *ClientMode) reportFailure(err error) {
	if err == nil {
		err = ncerr.ErrNotConnected
	}
	switch {
	case ncerr.IsTrust(err):
		m.Logger.Error("connection refused by certificate policy: %v", err)
	case ncerr.IsRetryable(err):
		m.Logger.Warn("connection attempt failed (transient): %v", err)
	default:
		m.Logger.Warn("connection attempt failed: %v", err)
	}
}

// pause waits out the next backoff delay on the wake pipe.
func (m *ClientMode) pause(ctx context.Context) error {
	d := m.Backoff.Next()
	m.Logger.Verbose("reconnecting in %v", d.Round(time.Millisecond))
	return m.Interrupter.Sleep(ctx, d)
}

func (m *ClientMode) finish(err error) error {
	m.Session.Disconnect()
	m.Logger.Info("shutting down")
	m.Logger.Verbose("metrics: %s", m.Metrics.JSON())
	if errors.Is(err, eventloop.ErrInterrupted) {
		return nil
	}
	return err
}

func (m *ClientMode) release() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			m.Logger.Debug("close: %v", err)
		}
	}
	m.closers = nil
}
