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

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	httpapi "github.com/aussiebroadwan/workspace/internal/workspace/http"
	"github.com/aussiebroadwan/workspace/internal/workspace/service"
	"github.com/aussiebroadwan/workspace/internal/workspace/session"
	"github.com/aussiebroadwan/workspace/internal/workspace/state"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/internal/workspace/store/drivers/rest"
	"github.com/aussiebroadwan/workspace/internal/workspace/store/drivers/sqlite"
	"github.com/aussiebroadwan/workspace/internal/workspace/telemetry"
	"github.com/aussiebroadwan/workspace/pkg/baas"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	serviceName = "workspace"
)

// Application wires the workspace core to the gateway.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// ctx scopes background work and is cancelled on shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// local holds offline data, the sealed session and pomodoro settings.
	local *sqlite.Store
	data  store.Store

	client       *baas.Client     // nil offline
	manager      *session.Manager // nil offline
	tenants      service.TenantSource
	permissions  *service.PermissionService
	tenantSvc    *service.TenantService
	pomodoro     *service.PomodoroService
	state        *state.Store
	follower     *follower
	unfollow     func()
	housekeeping *service.HousekeepingService // nil offline

	shutdownTracing func(context.Context) error

	server *http.Server
	router *httpapi.Router
}

// New validates cfg and builds every dependency. Nothing runs until Run.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		logger: slogx.New(slogx.Config{
			Service: serviceName,
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	app.shutdownTracing = telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, app.logger)

	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, err
	}
	if err := app.initServices(ctx); err != nil {
		cancel()
		_ = app.local.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.start()

	app.logger.Info("workspace gateway starting", "port", app.cfg.Port, "mode", app.cfg.Mode, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
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

// start brings up the session and background workers.
func (app *Application) start() {
	if app.manager == nil {
		// Offline the tenant is fixed, so the store loads once.
		app.follower.observe(session.State{
			User:   &domain.User{ID: "local"},
			Tenant: &domain.Tenant{ID: domain.LocalTenant},
		})
		return
	}

	app.unfollow = app.manager.Subscribe(app.follower.observe)
	app.manager.Start(app.ctx)
	app.housekeeping.Start()
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down workspace gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.housekeeping != nil {
		app.housekeeping.Stop()
	}
	if app.unfollow != nil {
		app.unfollow()
	}
	if app.manager != nil {
		app.manager.Stop()
	}
	app.cancel()
	app.follower.wait()

	if err := app.shutdownTracing(ctx); err != nil {
		app.logger.Error("error flushing traces", "error", err)
	}

	if err := app.local.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("workspace gateway stopped")
	return nil
}

// initDatabase opens the local database and applies migrations
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.local = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices builds the data path for the configured mode
func (app *Application) initServices(ctx context.Context) error {
	if app.cfg.Mode == ModeOffline {
		app.data = app.local
		app.tenants = service.StaticTenant(domain.LocalTenant)
		app.logger.Info("running offline; data stays in the local database", "file", app.cfg.DatabaseFile)
	} else if err := app.initRemote(ctx); err != nil {
		return err
	}

	app.tenantSvc = &service.TenantService{Store: app.data}
	app.permissions = &service.PermissionService{
		Store:      app.data,
		AdminEmail: app.cfg.AdminEmail,
		Logger:     app.logger.With("component", "permissions"),
	}
	app.pomodoro = &service.PomodoroService{
		Store:    app.data,
		Tenants:  app.tenants,
		Settings: app.local,
		Logger:   app.logger.With("component", "pomodoro"),
	}

	if app.client != nil {
		app.manager = session.New(
			session.NewBackend(app.client.Auth, app.cfg.ResetRedirectURL),
			app.tenantSvc,
			app.permissions,
			app.logger.With("component", "session"),
			session.Config{
				SessionTimeout: app.cfg.SessionTimeout,
				LoadingTimeout: app.cfg.LoadingTimeout,
			},
		)
		app.tenants = app.manager
		app.pomodoro.Tenants = app.manager

		app.housekeeping = service.NewHousekeepingService(
			app.permissions,
			app.logger.With("component", "housekeeping"),
			app.cfg.HousekeepingInterval,
			app.manager.Authenticated,
		)
	}

	app.state = state.NewStore(state.Services{
		Tasks:    &service.TaskService{Store: app.data, Tenants: app.tenants},
		Notes:    &service.NoteService{Store: app.data, Tenants: app.tenants},
		Pomodoro: app.pomodoro,
		Chat:     &service.ChatService{Store: app.data, Tenants: app.tenants},
		Stats:    &service.StatsService{Store: app.data, Tenants: app.tenants},
	}, app.logger.With("component", "state"))
	app.follower = newFollower(app.ctx, app.state, app.logger.With("component", "state"))

	return nil
}

// initRemote builds the BaaS client. The session is sealed into the local
// database when a session key is configured.
func (app *Application) initRemote(ctx context.Context) error {
	opts := []baas.Option{
		baas.WithHTTPClient(telemetry.Client(&http.Client{Timeout: baas.DefaultTimeout})),
		baas.WithLogger(app.logger.With("component", "baas")),
	}

	if app.cfg.SessionKey != "" {
		storage, err := app.local.NewSessionStorage(ctx, []byte(app.cfg.SessionKey))
		if err != nil {
			return fmt.Errorf("failed to open session storage: %w", err)
		}
		opts = append(opts, baas.WithSessionStorage(storage))
	} else {
		app.logger.Warn("WORKSPACE_SESSION_KEY not set; the session will not survive a restart")
	}

	app.client = baas.NewClient(app.cfg.BaaSURL, app.cfg.BaaSAnonKey, opts...)
	app.data = rest.NewStore(app.client)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.logger)

	router.Session = app.manager // nil offline
	router.State = app.state
	router.Tenants = app.tenantSvc
	router.Permissions = app.permissions
	router.Pomodoro = app.pomodoro
	router.Storage = app.local
	router.CORS.AllowedOrigins = app.cfg.CORSOrigins
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           telemetry.Handler(router, "workspace-gateway"),
		ReadHeaderTimeout: 3 * time.Second,
	}
}
