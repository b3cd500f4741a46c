package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voicerelay/core"
)

const defaultReadHeaderTimeout = 10 * time.Second

type MetricsConfig struct {
	Addr string `json:"addr"` // Listen address for /metrics and /health, e.g. ":9090". Empty disables the exporter.
}

// Exporter serves Prometheus metrics over HTTP.
type Exporter struct {
	addr     string
	server   *http.Server
	registry *prometheus.Registry
	logger   *core.Logger
	mu       sync.Mutex
	started  bool
}

// NewExporter creates an exporter serving the relay metrics plus Go runtime metrics.
func NewExporter(addr string, logger *core.Logger) *Exporter {
	if logger == nil {
		logger = core.GetLogger()
	}
	reg := prometheus.NewRegistry()
	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Exporter{
		addr:     addr,
		registry: reg,
		logger:   logger.With(map[string]interface{}{"component": "metrics"}),
	}
}

// Handler returns the mux serving /metrics and /health.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves until ctx is cancelled, then shuts the server down.
func (e *Exporter) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	e.started = true
	server := e.server
	e.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("Metrics exporter listening", "addr", e.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil && e.started {
		e.started = false
		return e.server.Shutdown(ctx)
	}
	return nil
}
