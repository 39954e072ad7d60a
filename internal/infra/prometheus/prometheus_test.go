package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/sifan077/PowerTrack/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	reg := prom.NewRegistry()
	clicks := prom.NewCounter(prom.CounterOpts{Name: "test_clicks_total", Help: "clicks"})
	reg.MustRegister(clicks)
	clicks.Add(3)

	h := Handler(reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_clicks_total 3")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestNewServerAddr(t *testing.T) {
	assert.Equal(t, ":9090", NewServer(config.PrometheusConfig{}).Addr)
	assert.Equal(t, ":9191", NewServer(config.PrometheusConfig{Port: 9191}).Addr)
}
