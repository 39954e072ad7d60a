package prometheus

import (
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sifan077/PowerTrack/config"
)

const defaultPort = 9090

// NewServer exposes the process metrics on /metrics and a liveness probe on
// /healthz. It runs beside the Fiber app on its own port so scrapes never
// compete with tracking traffic or the API rate limiter.
func NewServer(cfg config.PrometheusConfig) *http.Server {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           Handler(prom.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Handler serves g in the Prometheus text or OpenMetrics format.
func Handler(g prom.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Timeout:           5 * time.Second,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
