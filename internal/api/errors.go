package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/featurestream/featurestream/internal/apperr"
	"github.com/featurestream/featurestream/internal/pipeline"
)

const providerErrorPrefix = "Error in request to ArcGIS server: "

type errorObject struct {
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	RequestURL string `json:"requestURL,omitempty"`
}

func writeErrors(w http.ResponseWriter, status int, detail, requestURL string) {
	writeJSON(w, status, map[string][]errorObject{
		"errors": {{Status: status, Detail: detail, RequestURL: requestURL}},
	})
}

// writeClassifiedError serializes err. Errors that were never classified
// happened before the provider request and are treated as collaborator
// failures.
func writeClassifiedError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = pipeline.Classify(err, pipeline.StageBeforeRequest, "")
	}
	detail := appErr.Message
	if appErr.Kind == apperr.KindUpstream && appErr.RequestURL != "" {
		detail = providerErrorPrefix + appErr.Message
	}
	level := slog.LevelWarn
	if appErr.Kind == apperr.KindUpstream {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "request failed",
		slog.String("kind", string(appErr.Kind)),
		slog.Int("status", appErr.HTTPStatus),
		slog.String("request_url", appErr.RequestURL),
		slog.String("error", err.Error()),
	)
	writeErrors(w, appErr.HTTPStatus, detail, appErr.RequestURL)
}
