package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/infrastructure"
	"sankeyhub/internal/integration"
	"sankeyhub/internal/license"
	"sankeyhub/internal/lifecycle"
	custommw "sankeyhub/internal/middleware"
	"sankeyhub/internal/notify"
	"sankeyhub/internal/scheduler"
	"sankeyhub/internal/security"
	"sankeyhub/internal/services"
	"sankeyhub/internal/store"
	transporthttp "sankeyhub/internal/transport/http"
	ws "sankeyhub/internal/websocket"
	"sankeyhub/pkg/contracts"
)

// Application owns every subsystem of the license hub: the store, the
// lifecycle machine and its scheduler, the notifier, the websocket hub
// and the HTTP server that fronts them.
type Application struct {
	Config *config.Config
	Logger *slog.Logger
	Router *chi.Mux
	Server *http.Server

	Store       store.Store
	Codec       *license.Codec
	Machine     *lifecycle.Machine
	Scheduler   *scheduler.Scheduler
	Notifier    notify.Notifier
	Credentials *security.CredentialsManager

	WebSocketHub *ws.Hub
	Services     *ServiceContainer

	OTelProviders *infrastructure.OTelProviders
	SystemMetrics *infrastructure.SystemMetricsCollector
}

// ServiceContainer groups the request-facing services the handlers use.
type ServiceContainer struct {
	Applications *services.ApplicationService
	Integrations *services.IntegrationService
	Profiles     *services.ProfileService
	Export       *services.ExportService
	Health       *services.HealthService
}

// NewApplication loads configuration and wires the full service graph.
// Nothing starts listening until Start is called.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := ws.InitOTelMetrics(); err != nil {
		logger.Warn("websocket metrics unavailable", slog.String("error", err.Error()))
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the service graph bottom-up: store, codec,
// notifier, machine and scheduler, then the request-facing services.
func (a *Application) initializeServices() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := store.NewClient(ctx, a.Config.Dynamo)
	if err != nil {
		return fmt.Errorf("failed to create dynamodb client: %w", err)
	}
	a.Store = store.NewDynamoStore(client, a.Config.Dynamo, a.Logger)

	masterKey, err := license.KeyFromConfig(a.Config.License)
	if err != nil {
		return fmt.Errorf("failed to derive license key: %w", err)
	}
	codec, err := license.NewCodec(masterKey)
	if err != nil {
		return fmt.Errorf("failed to create license codec: %w", err)
	}
	a.Codec = codec

	// Gmail credentials stay encrypted at rest; the manager decrypts them
	// once here and scrubs its buffers on Close.
	var gmailCredentials []byte
	if a.Config.Notification.Mode == "gmail" {
		manager, err := security.NewCredentialsManager(a.Config.Notification.GmailCredentials, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to open gmail credentials: %w", err)
		}
		creds, err := manager.GetCredentials(ctx)
		if err != nil {
			manager.Close()
			return fmt.Errorf("failed to read gmail credentials: %w", err)
		}
		a.Credentials = manager
		gmailCredentials = creds
	}

	notifier, err := notify.New(ctx, a.Config.Notification, gmailCredentials, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}
	a.Notifier = notifier

	machine := lifecycle.NewMachine(a.Store, codec, a.Config.Notification, a.Logger)
	sched := scheduler.New(a.Store, machine, notifier, a.Config.Notification, a.Logger)
	machine.SetScheduler(sched)
	a.Machine = machine
	a.Scheduler = sched

	a.WebSocketHub = ws.NewHub(a.Logger)

	if a.OTelProviders != nil && a.OTelProviders.Meter != nil {
		// The OTel SDK hands back the same instruments for an identical
		// re-creation, so the middleware building its own set later is
		// harmless.
		businessMetrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
		if err != nil {
			a.Logger.Warn("business metrics unavailable", slog.String("error", err.Error()))
		} else {
			machine.SetMetrics(businessMetrics)
			sched.SetMetrics(businessMetrics)
		}

		collector, err := infrastructure.NewSystemMetricsCollector(a.OTelProviders.Meter, 30*time.Second)
		if err != nil {
			a.Logger.Warn("system metrics collector unavailable", slog.String("error", err.Error()))
		} else {
			a.SystemMetrics = collector
		}
	}

	tracker := integration.NewTracker(a.Store, a.Logger)
	gasClient := integration.NewGASClient(a.Config.Integration, a.Logger)

	applicationService := services.NewApplicationService(a.Store, machine, a.WebSocketHub, a.Logger)
	integrationService := services.NewIntegrationService(tracker, gasClient, a.WebSocketHub, a.Config.Integration, a.Logger)
	profileService := services.NewProfileService(a.Store, a.Logger)
	exportService := services.NewExportService(applicationService, a.Logger)
	healthService := services.NewHealthService(a.Store, sched, a.WebSocketHub, contracts.Version, contracts.BuildTime, a.Logger)
	if a.SystemMetrics != nil {
		healthService.SetRuntimeStats(a.SystemMetrics)
	}

	a.Services = &ServiceContainer{
		Applications: applicationService,
		Integrations: integrationService,
		Profiles:     profileService,
		Export:       exportService,
		Health:       healthService,
	}

	return nil
}

// setupRouter assembles the middleware chain and mounts every route.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	healthHandler := transporthttp.NewHealthHandler(a.Services.Health, a.Logger)

	// The websocket upgrade cannot pass through middleware that wraps the
	// ResponseWriter, so it gets its own trace-only group.
	r.Group(func(r chi.Router) {
		r.Use(custommw.WebSocketTraceMiddleware(a.Logger))
		r.Get("/ws", a.handleWebSocket)
	})

	// Liveness and metrics are probe endpoints; they skip the API chain.
	r.Get("/healthz", healthHandler.Liveness)
	if a.OTelProviders != nil && a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		otelMW, err := custommw.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Warn("otel middleware unavailable", slog.String("error", err.Error()))
		} else {
			r.Use(otelMW.Handler)
			// Ahead of Recoverer so the panic path still reaches the
			// error counters.
			r.Use(custommw.BusinessMetricsMiddleware(otelMW.Metrics()))
		}
		r.Use(custommw.StructuredLogger(a.Logger))
		r.Use(custommw.Recoverer(a.Logger))
		r.Use(custommw.DefaultSecureHeaders().Handler)
		if a.Config.Security.EnableCORS {
			r.Use(custommw.CORS(a.getCORSConfig()))
		}
		if a.Config.Security.RateLimit.Enabled {
			limiter := custommw.NewRateLimiter(a.Config.Security.RateLimit.RPS, a.Config.Security.RateLimit.Burst, a.Logger)
			r.Use(limiter.Handler)
		}

		a.setupAPIRoutes(r, healthHandler)
	})

	a.Router = r
}

// setupAPIRoutes mounts the /api tree.
func (a *Application) setupAPIRoutes(r chi.Router, healthHandler *transporthttp.HealthHandler) {
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)
	validation := custommw.NewValidationMiddleware(a.Logger, errorHandler)

	applicationHandler := transporthttp.NewApplicationHandler(a.Services.Applications, a.Services.Export, a.Logger, errorHandler)
	integrationHandler := transporthttp.NewIntegrationHandler(a.Services.Integrations, a.Logger, errorHandler)
	profileHandler := transporthttp.NewProfileHandler(a.Services.Profiles, a.Services.Integrations, a.Logger, errorHandler)
	webhookHandler := transporthttp.NewWebhookHandler(a.Services.Profiles, a.Services.Applications, a.Services.Integrations, a.Logger, errorHandler)
	licenseHandler := transporthttp.NewLicenseHandler(a.Codec, a.Logger, errorHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(validation.ValidateRequest)
		r.Use(custommw.AuditLog(a.Logger))

		r.NotFound(errorHandler.NotFound)
		r.MethodNotAllowed(errorHandler.MethodNotAllowed)

		r.Group(func(r chi.Router) {
			r.Use(custommw.Timeout(a.Config.Server.RequestTimeout, a.Logger))

			r.Mount("/applications", applicationHandler.Routes())
			r.Mount("/profile", profileHandler.Routes())
			r.Mount("/licenses", licenseHandler.Routes())
			r.Mount("/health", healthHandler.Routes())

			// Apps Script calls carry an HMAC signature; nothing else
			// reaches these routes.
			r.Group(func(r chi.Router) {
				r.Use(custommw.WebhookSignature(a.Config.Security.WebhookSecret, a.Logger))
				r.Mount("/webhooks", webhookHandler.Routes())
			})
		})

		// The wait endpoint holds the response open while the harness
		// polls, so it needs a budget above the default request timeout.
		r.Group(func(r chi.Router) {
			r.Use(custommw.Timeout(a.integrationTimeout(), a.Logger))
			r.Mount("/integration-tests", integrationHandler.Routes())
		})
	})
}

// integrationTimeout sizes the route budget for the long-polling wait
// endpoint: the full poll window plus slack, never below the default.
func (a *Application) integrationTimeout() time.Duration {
	cfg := a.Config.Integration
	budget := time.Duration(cfg.MaxPollAttempts+5) * cfg.PollInterval
	if budget < a.Config.Server.RequestTimeout {
		budget = a.Config.Server.RequestTimeout
	}
	return budget
}

func (a *Application) getCORSConfig() custommw.CORSConfig {
	return custommw.CORSConfig{
		AllowedOrigins:   a.Config.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer builds the http.Server. The write timeout is raised when
// the long-poll budget exceeds it, otherwise waiting clients would be cut
// off mid-response.
func (a *Application) createServer() {
	writeTimeout := a.Config.Server.WriteTimeout
	if budget := a.integrationTimeout() + 5*time.Second; writeTimeout > 0 && writeTimeout < budget {
		writeTimeout = budget
	}

	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start launches the hub, the scheduler, the metrics collector and the
// HTTP listener. cancel is invoked if the listener dies so Run can shut
// the rest down.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting application",
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("notification_mode", a.Config.Notification.Mode),
		slog.String("table", a.Config.Dynamo.Table),
	)

	go a.WebSocketHub.Run()

	a.Scheduler.Start(ctx)

	if a.SystemMetrics != nil {
		go a.SystemMetrics.Start(ctx)
	}

	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.performStartupHealthCheck(ctx)

	return nil
}

// performStartupHealthCheck pings the store once. Failure is logged, not
// fatal: the table may still be provisioning on first boot.
func (a *Application) performStartupHealthCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.Store.Ping(checkCtx); err != nil {
		a.Logger.WarnContext(ctx, "store unreachable at startup",
			slog.String("table", a.Config.Dynamo.Table),
			slog.String("error", err.Error()),
		)
		return
	}
	a.Logger.InfoContext(ctx, "store reachable", slog.String("table", a.Config.Dynamo.Table))
}

// Stop shuts everything down in reverse order of Start: listener first so
// no new work arrives, then the scheduler drain, then the hub and the
// telemetry pipeline.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "stopping application")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "http server shutdown failed", slog.String("error", err.Error()))
		firstErr = err
	}

	if err := a.Scheduler.Stop(a.Config.Server.ShutdownTimeout); err != nil {
		a.Logger.WarnContext(ctx, "scheduler drain incomplete", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}

	a.WebSocketHub.Stop()

	if a.SystemMetrics != nil {
		a.SystemMetrics.Stop()
	}

	if a.Credentials != nil {
		if err := a.Credentials.Close(); err != nil {
			a.Logger.WarnContext(ctx, "credentials cleanup failed", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.WarnContext(ctx, "telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "application stopped")
	return firstErr
}

// Run starts the application and blocks until a shutdown signal arrives
// or the listener fails.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx, cancel); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.Logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
		a.Logger.Info("context cancelled, shutting down")
	}

	return a.Stop(ctx)
}

// handleWebSocket upgrades the connection and hands it to the hub.
func (a *Application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	traceID := infrastructure.GetTraceID(r.Context())
	if traceID == "" {
		traceID = infrastructure.GenerateTraceID()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
		WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
		CheckOrigin:     a.checkWebSocketOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	ws.ServeWS(a.WebSocketHub, conn, traceID)
}

// checkWebSocketOrigin mirrors the CORS allow-list. Requests without an
// Origin header are non-browser clients and always pass.
func (a *Application) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if a.Config.Logging.Development {
		return true
	}
	for _, allowed := range a.Config.Security.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
