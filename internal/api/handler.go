package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/featurestream/featurestream/internal/config"
	"github.com/featurestream/featurestream/internal/observability"
	"github.com/featurestream/featurestream/internal/pipeline"
	"github.com/featurestream/featurestream/internal/provider"
	"github.com/featurestream/featurestream/internal/registry"
	"github.com/featurestream/featurestream/internal/translator"
)

type ReadinessCheck func(ctx context.Context) error

// QueryRunner streams one provider query into a sink.
type QueryRunner interface {
	Run(ctx context.Context, req pipeline.Request, sink io.Writer) (pipeline.Result, error)
}

type FieldsLookup interface {
	Fields(ctx context.Context, connectorURL string) ([]provider.Field, error)
}

type GeostoreResolver interface {
	GeostoreEsriJSON(ctx context.Context, id string) (json.RawMessage, error)
}

// DatasetWriter is implemented by registries that store connector metadata
// locally. Registration upserts through it before recording the status.
type DatasetWriter interface {
	UpsertDataset(ctx context.Context, dataset registry.Dataset) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Registry          registry.Registry
	StatusUpdater     registry.StatusUpdater
	Translator        translator.Translator
	Geostore          GeostoreResolver
	Fields            FieldsLookup
	Pipeline          QueryRunner
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeErrors(w, http.StatusServiceUnavailable, err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	streams := streamSettings{timeout: cfg.Pipeline.Timeout, flushBytes: cfg.Pipeline.FlushBytes}
	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/v1/arcgis/query/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		handleStream(deps, streams, false, w, r)
	})
	protected.HandleFunc("POST /api/v1/arcgis/query/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		handleStream(deps, streams, false, w, r)
	})
	protected.HandleFunc("GET /api/v1/arcgis/download/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		handleStream(deps, streams, true, w, r)
	})
	protected.HandleFunc("POST /api/v1/arcgis/download/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		handleStream(deps, streams, true, w, r)
	})
	protected.HandleFunc("POST /api/v1/arcgis/fields/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		handleFields(deps, w, r)
	})
	protected.HandleFunc("POST /api/v1/arcgis/rest-datasets/featureservice", func(w http.ResponseWriter, r *http.Request) {
		handleRegisterDataset(deps, w, r)
	})
	protected.HandleFunc("DELETE /api/v1/arcgis/rest-datasets/featureservice/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteDataset(w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			deps.logger().Error("auth required but auth middleware missing")
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeErrors(w, http.StatusInternalServerError, "auth middleware is required by configuration", "")
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /api/v1/arcgis/query/{dataset}", protectedHandler)
	mux.Handle("POST /api/v1/arcgis/query/{dataset}", protectedHandler)
	mux.Handle("GET /api/v1/arcgis/download/{dataset}", protectedHandler)
	mux.Handle("POST /api/v1/arcgis/download/{dataset}", protectedHandler)
	mux.Handle("POST /api/v1/arcgis/fields/{dataset}", protectedHandler)
	mux.Handle("POST /api/v1/arcgis/rest-datasets/featureservice", protectedHandler)
	mux.Handle("DELETE /api/v1/arcgis/rest-datasets/featureservice/{dataset}", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckRegistry pings registries that expose a health check.
func CheckRegistry(reg registry.Registry) ReadinessCheck {
	return func(ctx context.Context) error {
		if reg == nil {
			return errors.New("dataset registry is not configured")
		}
		if checker, ok := reg.(healthChecker); ok {
			return checker.HealthCheck(ctx)
		}
		return nil
	}
}

func CheckGatewayConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Gateway.BaseURL == "" {
			return errors.New("gateway base URL is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
