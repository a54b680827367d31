package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/featurestream/featurestream/internal/apperr"
	"github.com/featurestream/featurestream/internal/auth"
	"github.com/featurestream/featurestream/internal/encode"
	"github.com/featurestream/featurestream/internal/observability"
	"github.com/featurestream/featurestream/internal/pipeline"
	"github.com/featurestream/featurestream/internal/provider"
	"github.com/featurestream/featurestream/internal/query"
	"github.com/featurestream/featurestream/internal/registry"
	"github.com/featurestream/featurestream/internal/translator"
)

type streamSettings struct {
	timeout    time.Duration
	flushBytes int
}

type cloneURL struct {
	HTTPMethod string    `json:"http_method"`
	URL        string    `json:"url"`
	Body       cloneBody `json:"body"`
}

type cloneBody struct {
	Dataset cloneDataset `json:"dataset"`
}

type cloneDataset struct {
	DatasetURL  string   `json:"datasetUrl"`
	Application []string `json:"application"`
}

func newCloneURL(requestURI, datasetID string) cloneURL {
	return cloneURL{
		HTTPMethod: http.MethodPost,
		URL:        "/dataset/" + datasetID + "/clone",
		Body: cloneBody{Dataset: cloneDataset{
			DatasetURL:  strings.Replace(requestURI, "/arcgis", "", 1),
			Application: []string{"your", "apps"},
		}},
	}
}

func handleStream(deps Dependencies, settings streamSettings, download bool, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := deps.logger().With(
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("dataset", r.PathValue("dataset")),
	)
	if err := auth.RequireRole(ctx, auth.RoleQueryReader); err != nil {
		writeErrors(w, http.StatusForbidden, err.Error(), "")
		return
	}
	if deps.Registry == nil || deps.Pipeline == nil {
		writeErrors(w, http.StatusNotImplemented, "query dependencies are not configured", "")
		return
	}

	params, err := requestParams(r)
	if err != nil {
		writeErrors(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if !hasQuery(params) {
		writeErrors(w, http.StatusBadRequest, "sql or fs required", "")
		return
	}

	defaultFormat := encode.FormatJSON
	if download {
		defaultFormat = encode.FormatCSV
	}
	format := defaultFormat
	if raw, ok := params.Get("format"); ok && strings.TrimSpace(raw) != "" {
		format, err = encode.ParseFormat(raw)
		if err != nil {
			writeErrors(w, http.StatusBadRequest, err.Error(), "")
			return
		}
	}

	dataset, err := registry.Resolve(ctx, deps.Registry, r.PathValue("dataset"))
	if err != nil {
		writeClassifiedError(ctx, logger, w, err)
		return
	}

	providerParams, descriptor, err := resolveQuery(ctx, deps, params, format)
	if err != nil {
		writeClassifiedError(ctx, logger, w, err)
		return
	}

	countOnly, _ := providerParams.Get("returnCountOnly")
	req := pipeline.Request{
		Descriptor:   descriptor,
		Params:       providerParams,
		ConnectorURL: dataset.ConnectorURL,
		Output: pipeline.OutputRequest{
			Download:     download,
			Format:       format,
			RowCountOnly: strings.EqualFold(countOnly, "true"),
			Timeout:      settings.timeout,
		},
		Meta: encode.Meta{CloneURL: newCloneURL(r.URL.RequestURI(), dataset.ID)},
	}
	if err := req.Output.Validate(); err != nil {
		writeClassifiedError(ctx, logger, w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if download {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s", dataset.ID, format.Extension()))
	}

	sink := newResponseSink(w, settings.flushBytes)
	result, err := deps.Pipeline.Run(ctx, req, sink)
	if err != nil {
		if sink.Committed() {
			logger.ErrorContext(ctx, "stream failed after response was committed",
				slog.String("request_url", result.RequestURL),
				slog.String("error", err.Error()),
			)
			return
		}
		sink.Discard()
		if _, ok := apperr.As(err); !ok {
			// Caller went away or the sink failed; nobody is listening.
			logger.WarnContext(ctx, "stream aborted", slog.String("error", err.Error()))
			return
		}
		w.Header().Del("Content-Disposition")
		writeClassifiedError(ctx, logger, w, err)
		return
	}
	if err := sink.Flush(); err != nil {
		logger.WarnContext(ctx, "flush response", slog.String("error", err.Error()))
	}
}

// resolveQuery produces provider parameters and the column layout either
// through the translator (sql) or from the request's own parameters.
func resolveQuery(ctx context.Context, deps Dependencies, params provider.Params, format encode.Format) (provider.Params, query.Descriptor, error) {
	geostore, _ := params.Get("geostore")
	geojson, _ := params.Get("geojson")

	if sql, _ := params.Get("sql"); strings.TrimSpace(sql) != "" {
		if deps.Translator == nil {
			return nil, query.Descriptor{}, errors.New("query translator is not configured")
		}
		req := translator.Request{
			SQL:               sql,
			Geostore:          geostore,
			ExcludeGeometries: format != encode.FormatGeoJSON,
		}
		if geojson != "" {
			req.GeoJSON = json.RawMessage(geojson)
		}
		result, err := deps.Translator.Translate(ctx, req)
		if err != nil {
			return nil, query.Descriptor{}, pipeline.Classify(err, pipeline.StageBeforeRequest, "")
		}
		return result.Params, result.Descriptor, nil
	}

	forwarded := forwardedParams(params)
	var geometry json.RawMessage
	switch {
	case geojson != "":
		geometry = json.RawMessage(geojson)
	case geostore != "":
		if deps.Geostore == nil {
			return nil, query.Descriptor{}, errors.New("geostore is not configured")
		}
		esri, err := deps.Geostore.GeostoreEsriJSON(ctx, geostore)
		if err != nil {
			return nil, query.Descriptor{}, pipeline.Classify(err, pipeline.StageBeforeRequest, "")
		}
		geometry = esri
	}
	if len(geometry) > 0 {
		forwarded = withSpatialFilter(forwarded, geometry)
	}
	return forwarded, query.Descriptor{}, nil
}

type fieldType struct {
	Type string `json:"type"`
}

func handleFields(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := deps.logger()
	if err := auth.RequireRole(ctx, auth.RoleQueryReader); err != nil {
		writeErrors(w, http.StatusForbidden, err.Error(), "")
		return
	}
	if deps.Registry == nil || deps.Fields == nil {
		writeErrors(w, http.StatusNotImplemented, "fields dependencies are not configured", "")
		return
	}

	dataset, err := registry.Resolve(ctx, deps.Registry, r.PathValue("dataset"))
	if err != nil {
		writeClassifiedError(ctx, logger, w, err)
		return
	}
	fields, err := deps.Fields.Fields(ctx, dataset.ConnectorURL)
	if err != nil {
		writeClassifiedError(ctx, logger, w, apperr.Upstream("Error obtaining fields", "", err))
		return
	}

	byName := make(map[string]fieldType, len(fields))
	for _, field := range fields {
		byName[field.Name] = fieldType{Type: field.Type}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tableName": dataset.TableName,
		"fields":    byName,
	})
}

type registerRequest struct {
	Connector struct {
		ID           json.RawMessage `json:"id"`
		ConnectorURL string          `json:"connector_url"`
		TableName    string          `json:"table_name"`
		Name         string          `json:"name"`
	} `json:"connector"`
}

// handleRegisterDataset checks that the layer answers a fields request and
// records the result on the dataset. The response is always {} once the
// request is valid.
func handleRegisterDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := deps.logger()
	if err := auth.RequireRole(ctx, auth.RoleDatasetAdmin); err != nil {
		writeErrors(w, http.StatusForbidden, err.Error(), "")
		return
	}
	if deps.StatusUpdater == nil || deps.Fields == nil {
		writeErrors(w, http.StatusNotImplemented, "registration dependencies are not configured", "")
		return
	}

	var request registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&request); err != nil {
		writeErrors(w, http.StatusBadRequest, "invalid registration request body", "")
		return
	}
	id := rawID(request.Connector.ID)
	connectorURL := strings.TrimSpace(request.Connector.ConnectorURL)
	if id == "" || connectorURL == "" {
		writeErrors(w, http.StatusBadRequest, "connector id and connector_url are required", "")
		return
	}

	if writer, ok := deps.Registry.(DatasetWriter); ok {
		err := writer.UpsertDataset(ctx, registry.Dataset{
			ID:            id,
			Name:          request.Connector.Name,
			ConnectorType: registry.ConnectorTypeRest,
			Provider:      registry.ProviderFeatureService,
			ConnectorURL:  connectorURL,
			TableName:     request.Connector.TableName,
		})
		if err != nil {
			writeClassifiedError(ctx, logger, w, err)
			return
		}
	}

	status, message := registry.StatusSaved, ""
	if _, err := deps.Fields.Fields(ctx, connectorURL); err != nil {
		status, message = registry.StatusFailed, "Error obtaining fields - "+err.Error()
		logger.WarnContext(ctx, "dataset registration failed",
			slog.String("dataset", id),
			slog.String("error", err.Error()),
		)
	}
	if err := deps.StatusUpdater.UpdateDatasetStatus(ctx, id, status, message); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeErrors(w, http.StatusNotFound, fmt.Sprintf("Dataset with id '%s' doesn't exist", id), "")
			return
		}
		writeClassifiedError(ctx, logger, w, err)
		return
	}
	logger.InfoContext(ctx, "dataset registered",
		slog.String("dataset", id),
		slog.String("status", status.String()),
	)
	writeJSON(w, http.StatusOK, map[string]any{})
}

// handleDeleteDataset acknowledges deletion. Nothing is stored per dataset
// beyond the registry entry, which the registry owner removes.
func handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireRole(r.Context(), auth.RoleDatasetAdmin); err != nil {
		writeErrors(w, http.StatusForbidden, err.Error(), "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func rawID(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return strings.TrimSpace(text)
	}
	return trimmed
}
