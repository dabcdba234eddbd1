package partitionscan

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters holds this scanner's running totals. Each Scanner gets its own
// Counters rather than sharing package-level globals, since a single
// process may run more than one scan configuration; the metrics endpoint
// registers whichever instance the caller wires to it.
type Counters struct {
	Success prometheus.Counter
	Failure prometheus.Counter
	Timeout prometheus.Counter
}

// NewCounters builds a fresh, unregistered set of counters.
func NewCounters() *Counters {
	return &Counters{
		Success: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bwscan_partition_probe_success_total",
			Help: "Total partition probes that built a circuit successfully.",
		}),
		Failure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bwscan_partition_probe_failure_total",
			Help: "Total partition probes that failed to build a circuit.",
		}),
		Timeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bwscan_partition_probe_timeout_total",
			Help: "Total partition probes whose circuit build timed out.",
		}),
	}
}

// ServeMetrics starts a dedicated HTTP server exposing c's counters on
// /metrics at addr, registered against a private registry so this
// scanner's metrics never collide with anything else the process exposes.
// It blocks until ctx is cancelled or the server fails.
func (c *Counters) ServeMetrics(ctx context.Context, addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c.Success, c.Failure, c.Timeout)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
