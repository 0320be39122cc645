package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/printdesk/internal/gateway/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := metrics.New()

	c.ProxyOutcome("devices.list", "retried")
	c.ProxyOutcome("devices.list", "retried")
	c.ObserveUpstream("call", 401, 10*time.Millisecond)
	c.ObserveUpstream("call", 0, time.Second)
	c.RefreshResult("rejected")

	for name, want := range map[string]int{
		"gateway_proxy_outcomes_total":    1,
		"gateway_upstream_requests_total": 2,
		"gateway_refresh_total":           1,
	} {
		n, err := testutil.GatherAndCount(c.Registry(), name)
		require.NoError(t, err)
		require.Equal(t, want, n, name)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *metrics.Collector

	c.ProxyOutcome("x", "y")
	c.ObserveUpstream("call", 200, time.Millisecond)
	c.RefreshResult("success")

	h := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := metrics.New()

	h := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `gateway_http_requests_total{method="POST",status_code="202"} 1`))
}
