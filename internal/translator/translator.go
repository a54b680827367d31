// Package translator defines the contract with the SQL-to-feature-service
// translation service.
package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/featurestream/featurestream/internal/provider"
	"github.com/featurestream/featurestream/internal/query"
)

const groupByParam = "groupByFieldsForStatistics"

type Request struct {
	SQL      string
	Geostore string
	// GeoJSON is an inline geometry to intersect with. When set the request
	// is sent as a POST body.
	GeoJSON           json.RawMessage
	ExcludeGeometries bool
}

// Result holds the provider query parameters and the parsed column layout.
type Result struct {
	Params     provider.Params
	Descriptor query.Descriptor
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

type response struct {
	Data struct {
		Attributes struct {
			FS      *query.Row      `json:"fs"`
			JSONSQL json.RawMessage `json:"jsonSql"`
		} `json:"attributes"`
	} `json:"data"`
}

// DecodeResponse parses a translator response document. Parameter order in
// "fs" is preserved and group-by aliases are mapped back to source columns.
func DecodeResponse(raw []byte) (Result, error) {
	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode translator response: %w", err)
	}
	attributes := parsed.Data.Attributes
	if attributes.FS == nil {
		return Result{}, fmt.Errorf("decode translator response: missing fs")
	}
	params, err := provider.ParamsFromRow(attributes.FS)
	if err != nil {
		return Result{}, fmt.Errorf("decode translator response: %w", err)
	}
	descriptor, err := query.ParseDescriptor(attributes.JSONSQL)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Params:     RewriteGroupByAliases(params, descriptor),
		Descriptor: descriptor,
	}, nil
}

// RewriteGroupByAliases replaces aliases listed in groupByFieldsForStatistics
// with the source column they alias; the provider only knows source names.
func RewriteGroupByAliases(params provider.Params, descriptor query.Descriptor) provider.Params {
	groupBy, ok := params.Get(groupByParam)
	if !ok || groupBy == "" {
		return params
	}
	aliases := descriptor.Aliases()
	if len(aliases) == 0 {
		return params
	}
	groups := strings.Split(groupBy, ",")
	for i, group := range groups {
		if source, ok := aliases[group]; ok {
			groups[i] = source
		}
	}
	return params.With(groupByParam, strings.Join(groups, ","))
}
