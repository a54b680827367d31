package stream

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/featurestream/featurestream/internal/query"
)

func drain(t *testing.T, body string, mode Mode) ([]string, error) {
	t.Helper()
	decoder := NewDecoder(strings.NewReader(body), mode)
	var rows []string
	for {
		row, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		raw, err := row.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON() error = %v", err)
		}
		rows = append(rows, string(raw))
	}
}

func TestDecoderAttributesMode(t *testing.T) {
	body := `{
		"objectIdFieldName": "FID",
		"fields": [{"name": "FID", "type": "esriFieldTypeOID"}, {"name": "name", "type": "esriFieldTypeString"}],
		"features": [
			{"attributes": {"FID": 1, "name": "a", "shape_Length": 12.50}, "geometry": {"x": 1, "y": 2}},
			{"geometry": {"x": 3, "y": 4}},
			{"attributes": {"FID": 2, "name": "b", "nested": {"deep": [1, 2, {"x": null}]}}}
		],
		"exceededTransferLimit": false
	}`
	rows, err := drain(t, body, ModeAttributes)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want := []string{
		`{"FID":1,"name":"a","shape_Length":12.50}`,
		`{"FID":2,"name":"b","nested":{"deep":[1,2,{"x":null}]}}`,
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("row %d = %s, want %s", i, rows[i], want[i])
		}
	}
}

func TestDecoderFeaturesMode(t *testing.T) {
	body := `{"features":[{"attributes":{"OBJECTID":7,"b":1,"a":2},"geometry":{"x":1.5,"y":2.5}}]}`
	decoder := NewDecoder(strings.NewReader(body), ModeFeatures)
	feature, err := decoder.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	attributes, ok := feature.Get("attributes")
	if !ok {
		t.Fatal("attributes missing")
	}
	row, ok := attributes.(*query.Row)
	if !ok {
		t.Fatalf("attributes type = %T", attributes)
	}
	if keys := strings.Join(row.Keys(), ","); keys != "OBJECTID,b,a" {
		t.Fatalf("attribute keys = %s", keys)
	}
	if _, ok := feature.Get("geometry"); !ok {
		t.Fatal("geometry missing")
	}
	if _, err := decoder.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want EOF", err)
	}
}

func TestDecoderCountMode(t *testing.T) {
	rows, err := drain(t, `{"features":[{"attributes":{"a":1}}],"count":42}`, ModeCount)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(rows) != 1 || rows[0] != `{"count":42}` {
		t.Fatalf("rows = %v", rows)
	}
}

func TestDecoderMissingTargetYieldsNoRows(t *testing.T) {
	rows, err := drain(t, `{"fields":[],"exceededTransferLimit":true}`, ModeAttributes)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestDecoderEmptyFeatures(t *testing.T) {
	rows, err := drain(t, `{"features":[]}`, ModeFeatures)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestDecoderProviderError(t *testing.T) {
	body := `{"error":{"code":400,"message":"Invalid or missing input parameters.","details":["'where' parameter is invalid"]}}`
	rows, err := drain(t, body, ModeAttributes)
	if len(rows) != 0 {
		t.Fatalf("rows = %v", rows)
	}
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if providerErr.Code != 400 || providerErr.Message != "Invalid or missing input parameters." {
		t.Fatalf("ProviderError = %+v", providerErr)
	}
	if len(providerErr.Details) != 1 || providerErr.Details[0] != "'where' parameter is invalid" {
		t.Fatalf("Details = %v", providerErr.Details)
	}
	if err.Error() != "Invalid or missing input parameters." {
		t.Fatalf("Error() = %q, want message without details", err.Error())
	}
}

func TestDecoderTruncatedBody(t *testing.T) {
	rows, err := drain(t, `{"features":[{"attributes":{"a":1}},{"attributes":{"a":`, ModeAttributes)
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("error = %v, want unexpected EOF", err)
	}
}

func TestDecoderRejectsNonObjectRoot(t *testing.T) {
	if _, err := drain(t, `[1,2,3]`, ModeAttributes); err == nil {
		t.Fatal("expected error for array root")
	}
	if _, err := drain(t, ``, ModeAttributes); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestSelectMode(t *testing.T) {
	if SelectMode(true, true) != ModeCount {
		t.Fatal("row count only should select count mode")
	}
	if SelectMode(false, true) != ModeFeatures {
		t.Fatal("geojson should select features mode")
	}
	if SelectMode(false, false) != ModeAttributes {
		t.Fatal("default should select attributes mode")
	}
}
