package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OpenNSW/reportbuilder/internal/auth"
	"github.com/OpenNSW/reportbuilder/internal/config"
	"github.com/OpenNSW/reportbuilder/internal/database"
	"github.com/OpenNSW/reportbuilder/internal/exports"
	"github.com/OpenNSW/reportbuilder/internal/logging"
	"github.com/OpenNSW/reportbuilder/internal/metrics"
	"github.com/OpenNSW/reportbuilder/internal/report/persistence"
	"github.com/OpenNSW/reportbuilder/internal/report/router"
	"github.com/OpenNSW/reportbuilder/internal/report/service"
	"github.com/OpenNSW/reportbuilder/internal/session"
	"github.com/OpenNSW/reportbuilder/internal/session/bridge"
	"github.com/OpenNSW/reportbuilder/internal/session/relay"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	slog.Info("configuration loaded successfully",
		"db_driver", cfg.Database.Driver,
		"db_host", cfg.Database.Host,
		"db_name", cfg.Database.Name,
		"storage", cfg.Storage.Type,
		"bridge_url", cfg.Session.BridgeURL,
		"port", cfg.Server.Port,
	)

	// Initialize database connection
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if err := database.HealthCheck(db); err != nil {
		log.Fatalf("database health check failed: %v", err)
	}

	buildStore := persistence.NewBuildStore(db)
	if err := buildStore.AutoMigrate(); err != nil {
		log.Fatalf("failed to migrate build store: %v", err)
	}

	registry, err := session.NewRegistry(cfg.Session.RegistryCapacity)
	if err != nil {
		log.Fatalf("failed to create session registry: %v", err)
	}

	driver, err := exports.NewStorageFromConfig(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatalf("failed to initialize export storage: %v", err)
	}
	exportService := exports.NewExportService(driver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	buildMetrics, err := metrics.NewBuildMetrics(reg)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}
	if err := metrics.RegisterOpenSessions(reg, registry.Len); err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	builds := service.NewBuildService(registry, buildStore,
		service.WithExportStore(exportService),
		service.WithBuildObserver(buildMetrics),
	)
	sessions := service.NewSessionService(registry, sessionFactory(cfg.Session))
	if cfg.Session.BridgeURL == "" {
		slog.Warn("no session bridge configured, sessions can only be attached through the relay")
	}

	authn, err := auth.NewAuthenticator(cfg.Auth.APITokens)
	if err != nil {
		log.Fatalf("failed to configure API authentication: %v", err)
	}
	if !authn.Enabled() {
		slog.Warn("no API_TOKENS configured, the API accepts unauthenticated requests")
	}

	engine := router.NewEngine(&cfg.CORS, authn,
		router.NewReportRouter(builds, sessions, exportService,
			relay.NewUpgrader(cfg.CORS.AllowedOrigins, cfg.Session.RequestTimeout)),
		func() error { return database.HealthCheck(db) },
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: engine,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}
	slog.Info("server stopped", "open_sessions", registry.Len())
}

// sessionFactory opens bridge-backed sessions, or nothing when no bridge is configured.
func sessionFactory(cfg config.SessionConfig) service.SessionFactory {
	if cfg.BridgeURL == "" {
		return nil
	}
	return func(reportID string) (session.Session, error) {
		return bridge.NewClient(cfg.BridgeURL, reportID,
			bridge.WithToken(cfg.BridgeToken),
			bridge.WithTimeout(cfg.RequestTimeout),
		), nil
	}
}
