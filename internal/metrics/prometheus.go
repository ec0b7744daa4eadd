package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"synclient/util"
)

var (
	descConnected = prometheus.NewDesc("synclient_connected",
		"1 while a session with the server is established", nil, nil)
	descConnects = prometheus.NewDesc("synclient_connects_total",
		"Sessions established", nil, nil)
	descConnectFailures = prometheus.NewDesc("synclient_connect_failures_total",
		"Failed connection attempts", nil, nil)
	descDisconnects = prometheus.NewDesc("synclient_disconnects_total",
		"Established sessions torn down", nil, nil)
	descTrustFailures = prometheus.NewDesc("synclient_trust_failures_total",
		"Certificate pinning failures", nil, nil)
	descTimeouts = prometheus.NewDesc("synclient_timeouts_total",
		"I/O, idle and poll timeouts", nil, nil)
	descBytes = prometheus.NewDesc("synclient_bytes_total",
		"Bytes exchanged with the server", []string{"direction"}, nil)
	descMessages = prometheus.NewDesc("synclient_messages_received_total",
		"Protocol messages received", nil, nil)
	descErrors = prometheus.NewDesc("synclient_errors_total",
		"Errors recorded", nil, nil)
)

// promCollector adapts a Collector to prometheus.Collector so the
// atomic counters stay the single source of truth.
type promCollector struct {
	c *Collector
}

// Prometheus returns a prometheus.Collector reading from c.
func (c *Collector) Prometheus() prometheus.Collector {
	return promCollector{c: c}
}

func (p promCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descConnected
	ch <- descConnects
	ch <- descConnectFailures
	ch <- descDisconnects
	ch <- descTrustFailures
	ch <- descTimeouts
	ch <- descBytes
	ch <- descMessages
	ch <- descErrors
}

func (p promCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.c.Snapshot()
	connected := 0.0
	if s.Connected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(descConnected, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(descConnects, prometheus.CounterValue, float64(s.ConnectsTotal))
	ch <- prometheus.MustNewConstMetric(descConnectFailures, prometheus.CounterValue, float64(s.ConnectFailures))
	ch <- prometheus.MustNewConstMetric(descDisconnects, prometheus.CounterValue, float64(s.Disconnects))
	ch <- prometheus.MustNewConstMetric(descTrustFailures, prometheus.CounterValue, float64(s.TrustFailures))
	ch <- prometheus.MustNewConstMetric(descTimeouts, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(descBytes, prometheus.CounterValue, float64(s.BytesIn), "in")
	ch <- prometheus.MustNewConstMetric(descBytes, prometheus.CounterValue, float64(s.BytesOut), "out")
	ch <- prometheus.MustNewConstMetric(descMessages, prometheus.CounterValue, float64(s.MessagesIn))
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(s.ErrorsTotal))
}

// Handler returns an http.Handler exposing c on a private registry.
func (c *Collector) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c.Prometheus())
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.  It runs on
// its own goroutine and never touches session state directly.
func (c *Collector) Serve(ctx context.Context, addr string, logger *util.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()
	go func() {
		logger.Verbose("metrics: serving on http://%s/metrics", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics: %v", err)
		}
	}()
	return nil
}
