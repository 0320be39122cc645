package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/printdesk/internal/gateway/audit"
	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	"github.com/aussiebroadwan/printdesk/internal/gateway/credential"
	"github.com/aussiebroadwan/printdesk/internal/gateway/metrics"
	"github.com/aussiebroadwan/printdesk/internal/gateway/payload"
	"github.com/aussiebroadwan/printdesk/internal/gateway/proxy"
	"github.com/aussiebroadwan/printdesk/internal/gateway/routes"
	"github.com/aussiebroadwan/printdesk/internal/gateway/session"
	"github.com/aussiebroadwan/printdesk/pkg/httpx"
	"github.com/aussiebroadwan/printdesk/pkg/slogx"
)

// Backend is everything the router needs from the upstream service.
type Backend interface {
	proxy.Caller
	Login(ctx context.Context, credentials *payload.Snapshot) (*backend.Tokens, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Ping(ctx context.Context) error
}

// Pinger is a dependency /readyz checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux     *http.ServeMux
	handler http.Handler

	policy       credential.Policy
	sessions     *session.Issuer
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	Backend   Backend
	Refresher proxy.Refresher
	Routes    routes.Table
	Cloner    payload.Cloner
	Audit     audit.Recorder
	Ledger    Pinger             // Optional: nil when the audit ledger is disabled
	Metrics   *metrics.Collector // Optional
}

func NewRouter(
	policy credential.Policy,
	sessions *session.Issuer,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	return &Router{
		Mux:          http.NewServeMux(),
		policy:       policy,
		sessions:     sessions,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		Routes:       routes.Default(),
	}
}

// ApplyRoutes registers every handler and builds the middleware chain. A
// route table whose patterns collide is reported as an error.
func (r *Router) ApplyRoutes() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("register routes: %v", rec)
		}
	}()

	r.registerSystem()
	r.registerAuth()
	r.registerProxy()

	r.handler = httpx.Chain(r.Mux,
		slogx.HTTPMiddleware(r.logger),
		r.Metrics.Middleware(),
		httpx.Recover(),
		r.sessions.Middleware(),
	)
	return nil
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.handler == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "Service not ready")
		return
	}
	r.handler.ServeHTTP(w, req)
}

func (r *Router) registerSystem() {
	// Health check endpoints - monitoring systems may poll frequently
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.Backend, r.Ledger),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)

	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics.Handler())
	}
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		Backend:  r.Backend,
		Sessions: r.sessions,
		Policy:   r.policy,
		Cloner:   r.Cloner,
		Audit:    r.Audit,
	}

	// POST /api/auth/login - strict rate limit by IP (credential stuffing)
	r.Mux.Handle("POST /api/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /api/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("GET /api/auth/session",
		httpx.Chain(http.HandlerFunc(h.HandleSession),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerProxy() {
	// One bucket per user across every resource route.
	limit := httpx.RateLimitByUser(httpx.LenientLimit)

	var observer proxy.Observer
	if r.Metrics != nil {
		observer = r.Metrics
	}

	for _, route := range r.Routes.Routes {
		h := &proxy.Handler{
			Route:     route,
			Backend:   r.Backend,
			Refresher: r.Refresher,
			Policy:    r.policy,
			Cloner:    r.Cloner,
			Metrics:   observer,
		}
		r.Mux.Handle(route.MuxPattern(), httpx.Chain(h, limit))
	}
}
