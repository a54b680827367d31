package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// GeostoreEsriJSON resolves a stored geometry in ArcGIS JSON form.
func (c *Client) GeostoreEsriJSON(ctx context.Context, id string) (json.RawMessage, error) {
	var doc struct {
		Data struct {
			Attributes struct {
				EsriJSON json.RawMessage `json:"esrijson"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := c.do(ctx, "geostore", http.MethodGet, "/v1/geostore/"+url.PathEscape(id)+"?format=esri", nil, &doc); err != nil {
		return nil, err
	}
	esri := doc.Data.Attributes.EsriJSON
	if len(esri) == 0 || string(esri) == "null" {
		return nil, fmt.Errorf("geostore %s has no esrijson", id)
	}
	return esri, nil
}
