package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/featurestream/featurestream/internal/apperr"
	"github.com/featurestream/featurestream/internal/registry"
)

type datasetDocument struct {
	Data struct {
		ID         json.RawMessage `json:"id"`
		Attributes struct {
			Name          string `json:"name"`
			ConnectorType string `json:"connectorType"`
			Provider      string `json:"provider"`
			ConnectorURL  string `json:"connectorUrl"`
			TableName     string `json:"tableName"`
			Status        any    `json:"status"`
			ErrorMessage  string `json:"errorMessage"`
		} `json:"attributes"`
	} `json:"data"`
}

// GetDataset reads a dataset from the gateway's dataset service.
func (c *Client) GetDataset(ctx context.Context, id string) (registry.Dataset, error) {
	var doc datasetDocument
	err := c.do(ctx, "dataset", http.MethodGet, "/v1/dataset/"+url.PathEscape(id), nil, &doc)
	var statusErr *apperr.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return registry.Dataset{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Dataset{}, err
	}
	return doc.dataset(id), nil
}

func (d datasetDocument) dataset(fallbackID string) registry.Dataset {
	attributes := d.Data.Attributes
	id := scalarString(d.Data.ID)
	if id == "" {
		id = fallbackID
	}
	status := ""
	switch value := attributes.Status.(type) {
	case string:
		status = value
	case float64:
		status = registry.Status(int(value)).String()
	}
	return registry.Dataset{
		ID:            id,
		Name:          attributes.Name,
		ConnectorType: attributes.ConnectorType,
		Provider:      attributes.Provider,
		ConnectorURL:  attributes.ConnectorURL,
		TableName:     attributes.TableName,
		Status:        status,
		ErrorMessage:  attributes.ErrorMessage,
	}
}

// UpdateDatasetStatus records the outcome of a dataset registration.
func (c *Client) UpdateDatasetStatus(ctx context.Context, id string, status registry.Status, errorMessage string) error {
	type statusPatch struct {
		Status       int    `json:"status"`
		ErrorMessage string `json:"errorMessage,omitempty"`
	}
	body := map[string]statusPatch{
		"dataset": {Status: int(status), ErrorMessage: errorMessage},
	}
	err := c.do(ctx, "dataset", http.MethodPatch, "/v1/dataset/"+url.PathEscape(id), body, nil)
	var statusErr *apperr.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return registry.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update dataset %s status: %w", id, err)
	}
	return nil
}

// scalarString reads a JSON string or number as text.
func scalarString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	return trimmed
}
