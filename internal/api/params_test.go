package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/featurestream/featurestream/internal/provider"
)

func TestRequestParamsMergesBodyOverQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/q?where=a%3D1&outFields=x&empty=", strings.NewReader(`{"where":"b=2","returnGeometry":false,"outStatistics":[{"statisticType":"count"}]}`))
	params, err := requestParams(req)
	if err != nil {
		t.Fatalf("requestParams() error = %v", err)
	}
	want := provider.Params{
		{Key: "where", Value: "b=2"},
		{Key: "outFields", Value: "x"},
		{Key: "empty", Value: ""},
		{Key: "returnGeometry", Value: "false"},
		{Key: "outStatistics", Value: `[{"statisticType":"count"}]`},
	}
	if len(params) != len(want) {
		t.Fatalf("params = %+v", params)
	}
	for i := range want {
		if params[i] != want[i] {
			t.Fatalf("params[%d] = %+v, want %+v", i, params[i], want[i])
		}
	}
}

func TestRequestParamsRejectsNonObjectBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/q", strings.NewReader(`[1,2]`))
	if _, err := requestParams(req); err == nil {
		t.Fatal("expected error for array body")
	}
}

func TestHasQuery(t *testing.T) {
	cases := []struct {
		params provider.Params
		want   bool
	}{
		{provider.Params{{Key: "sql", Value: "select 1"}}, true},
		{provider.Params{{Key: "sql", Value: "  "}}, false},
		{provider.Params{{Key: "outFields", Value: "*"}}, true},
		{provider.Params{{Key: "returnCountOnly", Value: "true"}}, true},
		{provider.Params{{Key: "where", Value: "1=1"}}, false},
	}
	for _, tc := range cases {
		if got := hasQuery(tc.params); got != tc.want {
			t.Fatalf("hasQuery(%+v) = %v, want %v", tc.params, got, tc.want)
		}
	}
}

func TestForwardedParamsDropsLocalKeys(t *testing.T) {
	params := provider.Params{
		{Key: "outFields", Value: "*"},
		{Key: "dataset", Value: `{"id":"x"}`},
		{Key: "format", Value: "csv"},
		{Key: "where", Value: ""},
	}
	if got := forwardedParams(params).Encode(); got != "outFields=*&where=1%3D1" {
		t.Fatalf("forwardedParams() = %s", got)
	}
}

func TestCloneURLStripsArcgisSegment(t *testing.T) {
	clone := newCloneURL("/api/v1/arcgis/query/ds-1?sql=x", "ds-1")
	if clone.HTTPMethod != "POST" || clone.Body.Dataset.DatasetURL != "/api/v1/query/ds-1?sql=x" {
		t.Fatalf("newCloneURL() = %+v", clone)
	}
	if len(clone.Body.Dataset.Application) != 2 {
		t.Fatalf("application = %v", clone.Body.Dataset.Application)
	}
}
