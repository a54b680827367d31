package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/featurestream/featurestream/internal/apperr"
	"github.com/featurestream/featurestream/internal/registry"
	"github.com/featurestream/featurestream/internal/translator"
)

const translatorResponse = `{"data":{"type":"result","attributes":{
	"fs":{"outFields":"state","where":"1=1","groupByFieldsForStatistics":"s"},
	"jsonSql":{"select":[{"value":"state","alias":"s","type":"literal"}],"from":"t"}
}}}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL + "/", APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestTranslateGet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/convert/sql2FS" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("sql") != "SELECT state AS s FROM t GROUP BY s" || query.Get("geostore") != "g-1" || query.Get("excludeGeometries") != "true" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(translatorResponse))
	})

	result, err := client.Translate(context.Background(), translator.Request{
		SQL:               "SELECT state AS s FROM t GROUP BY s",
		Geostore:          "g-1",
		ExcludeGeometries: true,
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.Params.Encode() != "outFields=state&where=1%3D1&groupByFieldsForStatistics=state" {
		t.Fatalf("Params = %s", result.Params.Encode())
	}
}

func TestTranslatePostsInlineGeoJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("Method = %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if string(payload["geojson"]) != `{"type":"Point","coordinates":[1,2]}` {
			t.Fatalf("geojson = %s", payload["geojson"])
		}
		_, _ = w.Write([]byte(translatorResponse))
	})

	_, err := client.Translate(context.Background(), translator.Request{
		SQL:     "SELECT * FROM t",
		GeoJSON: json.RawMessage(`{"type":"Point","coordinates":[1,2]}`),
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
}

func TestTranslateClientErrorCarriesDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"status":400,"detail":"Malformed query"}]}`))
	})

	_, err := client.Translate(context.Background(), translator.Request{SQL: "SELEC"})
	var statusErr *apperr.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Translate() error = %v", err)
	}
	if !statusErr.ClientError() || statusErr.Detail != "Malformed query" || statusErr.Service != "translator" {
		t.Fatalf("StatusError = %+v", statusErr)
	}
}

func TestGetDataset(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/dataset/ds-1" {
			t.Fatalf("Path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"id":"ds-1","type":"dataset","attributes":{
			"name":"Bridges","connectorType":"rest","provider":"featureservice",
			"connectorUrl":"https://services.arcgis.com/FeatureServer/0","tableName":"bridges","status":"saved"}}}`))
	})

	dataset, err := client.GetDataset(context.Background(), "ds-1")
	if err != nil {
		t.Fatalf("GetDataset() error = %v", err)
	}
	if dataset.ID != "ds-1" || dataset.TableName != "bridges" || dataset.Status != "saved" {
		t.Fatalf("GetDataset() = %+v", dataset)
	}
	if err := dataset.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestGetDatasetNumericIDAndStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":42,"attributes":{"status":2}}}`))
	})

	dataset, err := client.GetDataset(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetDataset() error = %v", err)
	}
	if dataset.ID != "42" || dataset.Status != "failed" {
		t.Fatalf("GetDataset() = %+v", dataset)
	}
}

func TestGetDatasetNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetDataset(context.Background(), "missing")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("GetDataset() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateDatasetStatus(t *testing.T) {
	var got map[string]map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v1/dataset/ds-1" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{}`))
	})

	if err := client.UpdateDatasetStatus(context.Background(), "ds-1", registry.StatusFailed, "Error obtaining fields"); err != nil {
		t.Fatalf("UpdateDatasetStatus() error = %v", err)
	}
	if got["dataset"]["status"] != float64(2) || got["dataset"]["errorMessage"] != "Error obtaining fields" {
		t.Fatalf("body = %+v", got)
	}
}

func TestGeostoreEsriJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/geostore/g-1" || r.URL.Query().Get("format") != "esri" {
			t.Fatalf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"data":{"attributes":{"esrijson":{"rings":[[[0,0],[1,0],[1,1],[0,0]]]}}}}`))
	})

	esri, err := client.GeostoreEsriJSON(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("GeostoreEsriJSON() error = %v", err)
	}
	if string(esri) != `{"rings":[[[0,0],[1,0],[1,1],[0,0]]]}` {
		t.Fatalf("GeostoreEsriJSON() = %s", esri)
	}
}
