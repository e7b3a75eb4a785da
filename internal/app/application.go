package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"classlens/internal/alert"
	"classlens/internal/api"
	"classlens/internal/auth"
	"classlens/internal/bus"
	"classlens/internal/config"
	"classlens/internal/database"
	"classlens/internal/engagement"
	"classlens/internal/hub"
	"classlens/internal/postgres"
	"classlens/internal/presence"
	"classlens/internal/report"
	"classlens/internal/roster"
	"classlens/internal/router"
	"classlens/internal/session"
	"classlens/internal/websocket"
	dbconfig "classlens/pkg/database"
	"classlens/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config         *config.Config
	logger         *slog.Logger
	dbManager      interfaces.DatabaseManager
	sessionManager *session.Manager
	roster         *roster.Roster
	registry       *websocket.Registry
	presenceHub    *hub.Hub
	alerts         *alert.Board
	publisher      *bus.Publisher
	engagement     *engagement.Service
	authn          *auth.Authenticator
	httpServer     *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Storage → Session → Roster/Registry → Router → Presence → Hub → Engagement → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Auth.Secret == config.DevSecret {
		logger.Warn("using the development auth secret, set CLASSLENS_AUTH_SECRET in production")
	}

	// STEP 1: storage (foundation layer)
	dbManager, err := openStorage(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	// STEP 2: session registry warmed from storage
	sessionManager := session.NewManager(dbManager, logger.With("component", "session"))
	if err := sessionManager.LoadActiveSessions(ctx); err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	// STEP 3: presence state and delivery
	rost := roster.New()
	registry := websocket.NewRegistry()
	delivery := router.NewRouter(registry, rost, logger.With("component", "router"))
	presenceHandler := presence.NewHandler(rost, delivery, logger.With("component", "presence"))
	presenceHub := hub.NewHub(presenceHandler, delivery, cfg.WebSocket.HubBuffer, logger.With("component", "hub"))

	// STEP 4: engagement ingestion with its in-process consumers
	alerts := alert.NewBoard(cfg.Engagement.AlertThreshold, cfg.Engagement.AlertTTL, cfg.Engagement.AlertCap)
	publisher, err := bus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger.With("component", "bus"))
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}
	limiter := engagement.NewRateLimiter(cfg.Engagement.RateLimitPerMinute, time.Minute)
	engagementService := engagement.NewService(dbManager, delivery, limiter,
		logger.With("component", "engagement"), alerts, publisher)

	reporter := report.NewReporter(dbManager, sessionManager, cfg.Engagement.ReportParallelism,
		logger.With("component", "report"))

	// STEP 5: auth and transports
	authn, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		_ = publisher.Close()
		_ = dbManager.Close()
		return nil, err
	}

	wsHandler := websocket.NewHandler(registry, authn, presenceHub, websocket.Options{
		SendBuffer:   cfg.WebSocket.BufferSize,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		MaxFrameSize: cfg.WebSocket.MaxFrameSize,
	}, cfg.HTTP.AllowedOrigins, logger.With("component", "websocket"))

	apiServer := api.NewServer(api.Dependencies{
		Sessions:   sessionManager,
		Engagement: engagementService,
		Reports:    reporter,
		Alerts:     alerts,
		Roster:     rost,
		Health:     dbManager,
		Stats: map[string]api.StatsProvider{
			"connections": registry,
			"roster":      rost,
			"sessions":    sessionManager,
			"bus":         publisher,
		},
		Auth:           authn,
		WebSocket:      http.HandlerFunc(wsHandler.HandleWebSocket),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger.With("component", "api"),
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		logger:         logger,
		dbManager:      dbManager,
		sessionManager: sessionManager,
		roster:         rost,
		registry:       registry,
		presenceHub:    presenceHub,
		alerts:         alerts,
		publisher:      publisher,
		engagement:     engagementService,
		authn:          authn,
		httpServer:     httpServer,
	}, nil
}

// openStorage picks the DatabaseManager for the configured driver
func openStorage(ctx context.Context, cfg *dbconfig.Config, logger *slog.Logger) (interfaces.DatabaseManager, error) {
	switch cfg.Driver {
	case dbconfig.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
		defer cancel()
		store, err := postgres.New(connectCtx, cfg.URL, int32(cfg.MaxConnections), logger.With("component", "postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		return store, nil
	default:
		mgr, err := database.NewManager(cfg, logger.With("component", "database"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		return mgr, nil
	}
}

// Start begins application execution
// Hub starts first to handle presence frames, then the HTTP listener accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.presenceHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start presence hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.presenceHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	bgCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	app.wg.Add(3)
	go func() {
		defer app.wg.Done()
		app.alerts.Run(bgCtx, time.Second)
	}()
	go func() {
		defer app.wg.Done()
		app.engagement.RunCleanup(bgCtx, time.Minute)
	}()
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", "error", err)
		}
	}()

	app.logger.Info("classlens started", "addr", listener.Addr().String(), "driver", app.config.Database.Driver)
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → WebSockets → Hub → background loops → bus → storage
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down classlens")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// hijacked WebSocket connections are not closed by Shutdown
	app.registry.CloseAll()

	if err := app.presenceHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	if err := app.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.logger.Info("classlens shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound listener address once started, the configured one before
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Authenticator exposes token issuing for tooling and end-to-end tests
func (app *Application) Authenticator() *auth.Authenticator {
	return app.authn
}
