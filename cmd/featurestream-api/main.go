package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/featurestream/featurestream/internal/api"
	"github.com/featurestream/featurestream/internal/auth"
	"github.com/featurestream/featurestream/internal/config"
	"github.com/featurestream/featurestream/internal/gateway"
	"github.com/featurestream/featurestream/internal/migrations"
	"github.com/featurestream/featurestream/internal/observability"
	"github.com/featurestream/featurestream/internal/pipeline"
	"github.com/featurestream/featurestream/internal/provider"
	registrypostgres "github.com/featurestream/featurestream/internal/registry/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("featurestream-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	transport := provider.NewTransport(provider.TransportConfig{
		DialTimeout:           cfg.Provider.DialTimeout,
		ResponseHeaderTimeout: cfg.Provider.RequestTimeout,
		MaxIdleConns:          cfg.Provider.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Provider.MaxIdleConnsPerHost,
		InsecureSkipVerify:    cfg.Provider.InsecureSkipVerify,
	})
	providerClient := provider.NewClient(provider.Config{
		Transport:         transport,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		UserAgent:         cfg.Provider.UserAgent,
	})

	deps := api.Dependencies{
		Logger:            logger,
		Fields:            providerClient,
		Pipeline:          &pipeline.Pipeline{Upstream: providerClient, Logger: logger},
		DependencyTimeout: time.Second,
	}

	var gatewayClient *gateway.Client
	if cfg.Gateway.BaseURL != "" {
		gatewayClient, err = gateway.NewClient(gateway.Config{
			BaseURL:   cfg.Gateway.BaseURL,
			APIKey:    cfg.Gateway.APIKey,
			Timeout:   cfg.Gateway.Timeout,
			Transport: transport,
		})
		if err != nil {
			logger.Error("failed to initialize gateway client", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Translator = gatewayClient
		deps.Geostore = gatewayClient
	} else {
		logger.Warn("gateway base URL not configured; sql translation and geostore lookups are disabled")
	}

	var registryDB *sql.DB
	switch cfg.Registry.Backend {
	case config.RegistryPostgres:
		registryDB, err = registrypostgres.Open(context.Background(), registrypostgres.DBConfig{
			DSN:             cfg.Registry.DSN,
			MaxOpenConns:    cfg.Registry.MaxOpenConns,
			MaxIdleConns:    cfg.Registry.MaxIdleConns,
			ConnMaxIdleTime: cfg.Registry.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Registry.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open registry db", slog.Any("error", err))
			os.Exit(1)
		}
		if err := migrations.NewRunner().RequireCurrent(context.Background(), registryDB); err != nil {
			logger.Error("registry schema is not current; run featurestream-migrate", slog.Any("error", err))
			os.Exit(1)
		}
		repo := registrypostgres.NewRepository(registryDB)
		deps.Registry = repo
		deps.StatusUpdater = repo
		deps.Readiness = api.CheckRegistry(repo)
	default:
		if gatewayClient == nil {
			logger.Error("gateway registry backend requires FEATURESTREAM_GATEWAY_URL")
			os.Exit(1)
		}
		deps.Registry = gatewayClient
		deps.StatusUpdater = gatewayClient
		deps.Readiness = api.CombineReadinessChecks(
			api.CheckGatewayConfig(cfg),
			api.CheckRegistry(gatewayClient),
		)
	}
	if registryDB != nil {
		defer func() { _ = registryDB.Close() }()
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("registry", string(cfg.Registry.Backend)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.Timeout+5*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
