package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/featurestream/featurestream/internal/provider"
	"github.com/featurestream/featurestream/internal/query"
)

const maxRequestBody = 1 << 20

// fsParamKeys mark a request that carries provider parameters directly.
var fsParamKeys = []string{"outFields", "outStatistics", "returnCountOnly"}

// localParamKeys are consumed by this service and never forwarded.
var localParamKeys = []string{"dataset", "loggedUser", "geojson", "geostore", "format", "download"}

// requestParams merges the query string and a JSON object body in order.
// Body values replace query values with the same key.
func requestParams(r *http.Request) (provider.Params, error) {
	params, err := parseRawQuery(r.URL.RawQuery)
	if err != nil {
		return nil, err
	}
	body, err := bodyParams(r)
	if err != nil {
		return nil, err
	}
	for _, param := range body {
		params = params.With(param.Key, param.Value)
	}
	return params, nil
}

func parseRawQuery(raw string) (provider.Params, error) {
	var params provider.Params
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("invalid query parameter %q: %w", rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("invalid value for query parameter %q: %w", key, err)
		}
		if key == "" {
			continue
		}
		params = params.With(key, value)
	}
	return params, nil
}

func bodyParams(r *http.Request) (provider.Params, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	row, err := query.DecodeRow(dec)
	if err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	return provider.ParamsFromRow(row)
}

func hasQuery(params provider.Params) bool {
	if value, _ := params.Get("sql"); strings.TrimSpace(value) != "" {
		return true
	}
	for _, key := range fsParamKeys {
		if value, ok := params.Get(key); ok && value != "" {
			return true
		}
	}
	return false
}

// forwardedParams strips local keys and defaults the where clause.
func forwardedParams(params provider.Params) provider.Params {
	out := params
	for _, key := range localParamKeys {
		out = out.Without(key)
	}
	if where, _ := out.Get("where"); where == "" {
		out = out.With("where", "1=1")
	}
	return out
}

// withSpatialFilter appends an intersects filter for an ArcGIS JSON geometry.
func withSpatialFilter(params provider.Params, geometry json.RawMessage) provider.Params {
	return params.
		With("geometryType", "esriGeometryPolygon").
		With("spatialRel", "esriSpatialRelIntersects").
		With("inSR", `{"wkid":4326}`).
		With("geometry", string(geometry))
}
