package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/printdesk/internal/gateway/audit"
	"github.com/aussiebroadwan/printdesk/internal/gateway/audit/sqlite"
	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	httpapi "github.com/aussiebroadwan/printdesk/internal/gateway/http"
	"github.com/aussiebroadwan/printdesk/internal/gateway/metrics"
	"github.com/aussiebroadwan/printdesk/internal/gateway/payload"
	"github.com/aussiebroadwan/printdesk/internal/gateway/refresh"
	"github.com/aussiebroadwan/printdesk/internal/gateway/routes"
	"github.com/aussiebroadwan/printdesk/internal/gateway/session"
	"github.com/aussiebroadwan/printdesk/pkg/cryptox"
	"github.com/aussiebroadwan/printdesk/pkg/jwtx"
	"github.com/aussiebroadwan/printdesk/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags "-X".
var BuildVersion = "v0.1.0"

// Application encapsulates the gateway with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	ledger       audit.Ledger // nil when the ledger is disabled
	housekeeping *audit.Housekeeping
	running      bool

	backend     *backend.Client
	metrics     *metrics.Collector
	sessions    *session.Issuer
	coordinator *refresh.Coordinator
	routes      routes.Table

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	return NewWithLogger(cfg, slogx.New(slogx.Config{
		Service: "printdesk-gateway",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	}))
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(cfg Config, logger *slog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{cfg: cfg, logger: logger, metrics: metrics.New()}

	table, err := routes.Load(cfg.RoutesFile)
	if err != nil {
		return nil, err
	}
	app.routes = table

	if err := app.initLedger(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		app.closeLedger()
		return nil, err
	}
	if err := app.initHTTP(); err != nil {
		app.closeLedger()
		return nil, err
	}

	return app, nil
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	if app.housekeeping != nil {
		app.housekeeping.Start()
		app.running = true
	}

	app.logger.Info("gateway starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"backend", app.cfg.BackendURL,
		"routes", len(app.routes.Routes),
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.stopBackground()
			app.closeLedger()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.stopBackground()
	if err := app.closeLedger(); err != nil {
		return err
	}

	app.logger.Info("gateway stopped")
	return nil
}

// OpenLedger opens the SQLite audit ledger in file and brings its schema
// up to date.
func OpenLedger(file string) (*sqlite.Store, error) {
	db, err := sqlite.NewStore(sqlite.DSN(file))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit ledger: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply audit ledger migrations: %w", err)
	}
	return db, nil
}

func (app *Application) initLedger() error {
	if app.cfg.AuditDatabaseFile == "" {
		app.logger.Info("audit ledger disabled")
		return nil
	}

	db, err := OpenLedger(app.cfg.AuditDatabaseFile)
	if err != nil {
		return err
	}
	app.ledger = db
	app.housekeeping = audit.NewHousekeeping(db, app.logger, app.cfg.HousekeepingInterval, app.cfg.AuditRetention)

	app.logger.Info("audit ledger ready", "file", app.cfg.AuditDatabaseFile)
	return nil
}

func (app *Application) initServices() error {
	client, err := backend.NewClient(app.cfg.BackendURL, app.cfg.UpstreamTimeout)
	if err != nil {
		return err
	}
	client.HealthPath = app.cfg.BackendHealthPath
	client.Observer = app.metrics
	app.backend = client

	secret, err := app.sessionSecret()
	if err != nil {
		return err
	}
	codec, err := jwtx.NewHS256(secret, session.DefaultIssuer)
	if err != nil {
		return fmt.Errorf("failed to create session codec: %w", err)
	}

	policy := app.cfg.Policy()
	app.sessions = session.NewIssuer(codec, policy)

	app.coordinator = refresh.New(client, policy)
	app.coordinator.Sessions = app.sessions
	app.coordinator.Audit = app.recorder()
	app.coordinator.Metrics = app.metrics
	app.coordinator.Singleflight = app.cfg.RefreshSingleflight
	app.coordinator.ReuseWindow = app.cfg.RefreshReuseWindow
	app.coordinator.Timeout = app.cfg.UpstreamTimeout

	return nil
}

func (app *Application) initHTTP() error {
	router := httpapi.NewRouter(
		app.cfg.Policy(),
		app.sessions,
		BuildVersion,
		app.logger,
	)

	router.Backend = app.backend
	router.Refresher = app.coordinator
	router.Routes = app.routes
	router.Cloner = payload.Cloner{MaxBytes: app.cfg.MaxBodyBytes}
	router.Audit = app.recorder()
	router.Metrics = app.metrics
	if app.ledger != nil {
		router.Ledger = app.ledger
	}
	if err := router.ApplyRoutes(); err != nil {
		return err
	}

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}

// sessionSecret returns the configured secret or, outside prod, a random
// one that does not survive a restart.
func (app *Application) sessionSecret() ([]byte, error) {
	if app.cfg.SessionSecret != "" {
		return []byte(app.cfg.SessionSecret), nil
	}

	secret, err := cryptox.GenerateSecret(jwtx.MinSecretSize)
	if err != nil {
		return nil, err
	}
	app.logger.Warn("GATEWAY_SESSION_SECRET not set, using an ephemeral session secret")
	return []byte(secret), nil
}

func (app *Application) recorder() audit.Recorder {
	if app.ledger == nil {
		return audit.Noop{}
	}
	return app.ledger
}

func (app *Application) stopBackground() {
	if app.running {
		app.housekeeping.Stop()
		app.running = false
	}
}

func (app *Application) closeLedger() error {
	if app.ledger == nil {
		return nil
	}
	err := app.ledger.Close()
	app.ledger = nil
	if err != nil {
		app.logger.Error("error closing audit ledger", "error", err)
	}
	return err
}
