package encode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/featurestream/featurestream/internal/esri"
	"github.com/featurestream/featurestream/internal/query"
)

// idFields are attribute names used as the feature id, in priority order.
var idFields = []string{"OBJECTID", "FID"}

type feature struct {
	Type       string            `json:"type"`
	ID         any               `json:"id,omitempty"`
	BBox       []float64         `json:"bbox,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties *query.Row        `json:"properties"`
}

// GeoJSONEncoder converts provider features into GeoJSON Feature objects.
type GeoJSONEncoder struct{}

func (GeoJSONEncoder) Encode(row *query.Row, first bool) ([]byte, error) {
	f, err := Feature(row)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if !first {
		buf.WriteByte(',')
	}
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode feature: %w", err)
	}
	buf.Truncate(buf.Len() - 1)
	return buf.Bytes(), nil
}

// Feature converts one provider feature (attributes plus ArcGIS geometry) into
// its GeoJSON form.
func Feature(row *query.Row) (any, error) {
	properties := query.NewRow()
	if value, ok := row.Get("attributes"); ok {
		if attributes, ok := value.(*query.Row); ok && attributes != nil {
			properties = attributes
		}
	}
	out := feature{Type: "Feature", Properties: properties}
	for _, name := range idFields {
		if id, ok := properties.Get(name); ok && id != nil {
			out.ID = id
			break
		}
	}

	value, _ := row.Get("geometry")
	g, err := esri.Decode(value)
	if errors.Is(err, esri.ErrUnsupportedGeometry) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if g == nil || len(g.FlatCoords()) == 0 {
		return out, nil
	}
	out.Geometry, err = geojson.Encode(g)
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	out.BBox = bbox(g)
	return out, nil
}

func bbox(g geom.T) []float64 {
	bounds := g.Bounds()
	return []float64{bounds.Min(0), bounds.Min(1), bounds.Max(0), bounds.Max(1)}
}
