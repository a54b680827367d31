package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/featurestream/featurestream/internal/apperr"
	"github.com/featurestream/featurestream/internal/query"
)

func TestBuildQueryURLKeepsParamOrder(t *testing.T) {
	row := query.NewRow()
	if err := json.Unmarshal([]byte(`{
		"returnGeometry": false,
		"returnDistinctValues": true,
		"tableName": "ea852c8e-4dca-493c-8de2-e2d84d02897f",
		"outFields": "FUNCSTAT10",
		"resultRecordCount": 10,
		"supportsPagination": true,
		"where": "1=1"
	}`), row); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	params, err := ParamsFromRow(row)
	if err != nil {
		t.Fatalf("ParamsFromRow() error = %v", err)
	}

	got := BuildQueryURL("http://coast.noaa.gov/arcgis/rest/services/sovi/sovi_tracts2010/MapServer/16?f=pjson", params)
	want := "https://coast.noaa.gov/arcgis/rest/services/sovi/sovi_tracts2010/MapServer/16/query?returnGeometry=false&returnDistinctValues=true&tableName=ea852c8e-4dca-493c-8de2-e2d84d02897f&outFields=FUNCSTAT10&resultRecordCount=10&supportsPagination=true&where=1%3D1&f=json"
	if got != want {
		t.Fatalf("BuildQueryURL() = %s\nwant %s", got, want)
	}
}

func TestBuildQueryURLWithoutParams(t *testing.T) {
	if got := BuildQueryURL("https://example.com/FeatureServer/0/", nil); got != "https://example.com/FeatureServer/0/query?f=json" {
		t.Fatalf("BuildQueryURL() = %s", got)
	}
}

func TestFieldsURL(t *testing.T) {
	if got := FieldsURL("HTTP://example.com/FeatureServer/0?token=x"); got != "https://example.com/FeatureServer/0?f=json" {
		t.Fatalf("FieldsURL() = %s", got)
	}
}

func TestEncodeEscapesLikeURIComponent(t *testing.T) {
	params := Params{{Key: "where", Value: "name = 'a b' AND (x>1)*"}, {Key: "outStatistics", Value: `[{"a":1}]`}}
	got := params.Encode()
	want := "where=name%20%3D%20'a%20b'%20AND%20(x%3E1)*&outStatistics=%5B%7B%22a%22%3A1%7D%5D"
	if got != want {
		t.Fatalf("Encode() = %s", got)
	}
}

func TestParamsWithReplacesInPlace(t *testing.T) {
	params := Params{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	updated := params.With("a", "3").With("c", "4")
	if updated.Encode() != "a=3&b=2&c=4" {
		t.Fatalf("With() = %s", updated.Encode())
	}
	if params.Encode() != "a=1&b=2" {
		t.Fatal("With() must not mutate the receiver")
	}
}

func TestParamsFromRowEncodesObjects(t *testing.T) {
	row := query.NewRow()
	row.Set("inSR", map[string]any{"wkid": json.Number("4326")})
	row.Set("skip", nil)
	params, err := ParamsFromRow(row)
	if err != nil {
		t.Fatalf("ParamsFromRow() error = %v", err)
	}
	if len(params) != 1 || params[0].Value != `{"wkid":4326}` {
		t.Fatalf("params = %+v", params)
	}
}

func TestClientQueryStreamsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		_, _ = io.WriteString(w, `{"features":[]}`)
	}))
	defer server.Close()

	client := NewClient(Config{Transport: server.Client().Transport, RequestsPerSecond: 100})
	resp, err := client.Query(context.Background(), server.URL+"/query?f=json")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(body) != `{"features":[]}` {
		t.Fatalf("body = %s", body)
	}
}

func TestClientQueryStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":{"code":502,"message":"service unavailable"}}`)
	}))
	defer server.Close()

	client := NewClient(Config{Transport: server.Client().Transport})
	_, err := client.Query(context.Background(), server.URL)
	var statusErr *apperr.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Query() error = %v, want StatusError", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway || statusErr.Detail != "service unavailable" {
		t.Fatalf("StatusError = %+v", statusErr)
	}
}

func TestClientFields(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("f") != "json" {
			t.Errorf("f = %q", r.URL.Query().Get("f"))
		}
		_, _ = io.WriteString(w, `{"name":"layer","fields":[{"name":"FID","type":"esriFieldTypeOID","alias":"FID"}]}`)
	}))
	defer server.Close()

	client := NewClient(Config{Transport: server.Client().Transport})
	fields, err := client.Fields(context.Background(), server.URL+"/FeatureServer/0")
	if err != nil {
		t.Fatalf("Fields() error = %v", err)
	}
	if len(fields) != 1 || fields[0].Name != "FID" || fields[0].Type != "esriFieldTypeOID" {
		t.Fatalf("fields = %+v", fields)
	}
}
