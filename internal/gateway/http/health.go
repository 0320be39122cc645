package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/printdesk/pkg/httpx"
)

// HealthResponse is the body of /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports each dependency /readyz probes.
type HealthChecks struct {
	Backend string `json:"backend"`
	Ledger  string `json:"ledger,omitempty"`
}

// LivezHandler always answers 200 while the process is serving.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		}
		httpx.WriteJSON(w, http.StatusOK, response)
	}
}

// ReadyzHandler probes the backend and, when configured, the audit ledger.
// Any failing dependency makes the gateway not ready.
func ReadyzHandler(startTime time.Time, version string, upstream, ledger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{Backend: "ok"}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := upstream.Ping(r.Context()); err != nil {
			checks.Backend = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if ledger != nil {
			checks.Ledger = "ok"
			if err := ledger.Ping(r.Context()); err != nil {
				checks.Ledger = "error: " + err.Error()
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		response := HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}
