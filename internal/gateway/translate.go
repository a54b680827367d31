package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/featurestream/featurestream/internal/translator"
)

// Translate converts SQL into provider parameters with the sql2FS endpoint.
// An inline geometry switches the call to POST.
func (c *Client) Translate(ctx context.Context, req translator.Request) (translator.Result, error) {
	var path strings.Builder
	path.WriteString("/v1/convert/sql2FS?sql=")
	path.WriteString(url.QueryEscape(req.SQL))
	if geostore := strings.TrimSpace(req.Geostore); geostore != "" {
		path.WriteString("&geostore=")
		path.WriteString(url.QueryEscape(geostore))
	}
	if req.ExcludeGeometries {
		path.WriteString("&excludeGeometries=true")
	}

	method := http.MethodGet
	var body any
	if len(req.GeoJSON) > 0 {
		method = http.MethodPost
		body = map[string]json.RawMessage{"geojson": req.GeoJSON}
	}

	var raw json.RawMessage
	if err := c.do(ctx, "translator", method, path.String(), body, &raw); err != nil {
		return translator.Result{}, err
	}
	return translator.DecodeResponse(raw)
}
