package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"gatekeeper/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a backing store can serve.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// MetricsServer is the operator listener: Prometheus metrics plus liveness
// and readiness checks, kept off the rate-limited API port.
type MetricsServer struct {
	server *http.Server
	checks []ReadinessCheck
}

// NewMetricsServer serves metrics at cfg.Path on cfg.Port. The metrics path
// is mounted only when the provider has a Prometheus exporter. /livez always
// answers 200; /readyz answers 503 while any check fails.
func NewMetricsServer(cfg models.MetricsConfig, provider *Provider, checks ...ReadinessCheck) *MetricsServer {
	ms := &MetricsServer{checks: checks}

	mux := http.NewServeMux()
	if provider != nil && provider.promExporter != nil {
		mux.Handle(cfg.Path, promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer,
			promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}),
		))
	}
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/readyz", ms.ready)

	ms.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ms
}

func (ms *MetricsServer) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		failed []string
		wg     sync.WaitGroup
	)
	for _, c := range ms.checks {
		wg.Add(1)
		go func(c ReadinessCheck) {
			defer wg.Done()
			if err := c.Check(ctx); err != nil {
				slog.WarnContext(ctx, "Readiness check failed", "check", c.Name, "error", err)
				mu.Lock()
				failed = append(failed, c.Name)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	slices.Sort(failed)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "unavailable: %s\n", strings.Join(failed, ","))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

// Handler returns the server's handler.
func (ms *MetricsServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start serves until Shutdown and then returns http.ErrServerClosed.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
