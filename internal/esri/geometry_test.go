package esri

import (
	"errors"
	"testing"

	"github.com/twpayne/go-geom"
)

func TestUnmarshalPoint(t *testing.T) {
	g, err := Unmarshal([]byte(`{"x":-3.7,"y":40.4,"spatialReference":{"wkid":4326}}`))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	point, ok := g.(*geom.Point)
	if !ok {
		t.Fatalf("type = %T, want *geom.Point", g)
	}
	if point.X() != -3.7 || point.Y() != 40.4 {
		t.Fatalf("point = %v", point.Coords())
	}
}

func TestUnmarshalPointWithZ(t *testing.T) {
	g, err := Unmarshal([]byte(`{"x":1,"y":2,"z":3}`))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if g.Layout() != geom.XYZ {
		t.Fatalf("Layout() = %v", g.Layout())
	}
}

func TestUnmarshalPolylines(t *testing.T) {
	g, err := Unmarshal([]byte(`{"paths":[[[0,0],[1,1]]]}`))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := g.(*geom.LineString); !ok {
		t.Fatalf("type = %T, want *geom.LineString", g)
	}

	g, err = Unmarshal([]byte(`{"paths":[[[0,0],[1,1]],[[2,2],[3,3]]]}`))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	multi, ok := g.(*geom.MultiLineString)
	if !ok {
		t.Fatalf("type = %T, want *geom.MultiLineString", g)
	}
	if multi.NumLineStrings() != 2 {
		t.Fatalf("NumLineStrings() = %d", multi.NumLineStrings())
	}
}

func TestUnmarshalPolygonWithHole(t *testing.T) {
	// Outer ring clockwise, hole counter-clockwise.
	raw := `{"rings":[
		[[0,0],[0,10],[10,10],[10,0],[0,0]],
		[[2,2],[4,2],[4,4],[2,4],[2,2]]
	]}`
	g, err := Unmarshal([]byte(raw))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	polygon, ok := g.(*geom.Polygon)
	if !ok {
		t.Fatalf("type = %T, want *geom.Polygon", g)
	}
	if polygon.NumLinearRings() != 2 {
		t.Fatalf("NumLinearRings() = %d", polygon.NumLinearRings())
	}
	if isClockwise(polygon.LinearRing(0).Coords()) {
		t.Fatal("exterior ring should be counter-clockwise")
	}
	if !isClockwise(polygon.LinearRing(1).Coords()) {
		t.Fatal("hole should be clockwise")
	}
}

func TestUnmarshalMultiPolygon(t *testing.T) {
	raw := `{"rings":[
		[[0,0],[0,1],[1,1],[1,0],[0,0]],
		[[5,5],[5,6],[6,6],[6,5]]
	]}`
	g, err := Unmarshal([]byte(raw))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	multi, ok := g.(*geom.MultiPolygon)
	if !ok {
		t.Fatalf("type = %T, want *geom.MultiPolygon", g)
	}
	if multi.NumPolygons() != 2 {
		t.Fatalf("NumPolygons() = %d", multi.NumPolygons())
	}
	bounds := multi.Bounds()
	if bounds.Min(0) != 0 || bounds.Min(1) != 0 || bounds.Max(0) != 6 || bounds.Max(1) != 6 {
		t.Fatalf("Bounds() = %v %v", bounds.Min(0), bounds.Max(0))
	}
}

func TestUnmarshalEnvelope(t *testing.T) {
	g, err := Unmarshal([]byte(`{"xmin":1,"ymin":2,"xmax":3,"ymax":4}`))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := g.(*geom.Polygon); !ok {
		t.Fatalf("type = %T, want *geom.Polygon", g)
	}
}

func TestDecodeNilAndUnsupported(t *testing.T) {
	g, err := Decode(nil)
	if err != nil || g != nil {
		t.Fatalf("Decode(nil) = %v, %v", g, err)
	}
	if _, err := Decode(map[string]any{"curveRings": []any{}}); !errors.Is(err, ErrUnsupportedGeometry) {
		t.Fatalf("Decode() error = %v, want ErrUnsupportedGeometry", err)
	}
}
