// Package esri converts ArcGIS JSON geometries into go-geom geometries.
package esri

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"
)

var ErrUnsupportedGeometry = errors.New("esri: unsupported geometry")

// Geometry is the ArcGIS JSON geometry object. Exactly one shape family is
// expected to be populated.
type Geometry struct {
	X      *float64      `json:"x"`
	Y      *float64      `json:"y"`
	Z      *float64      `json:"z"`
	M      *float64      `json:"m"`
	Points [][]float64   `json:"points"`
	Paths  [][][]float64 `json:"paths"`
	Rings  [][][]float64 `json:"rings"`
	XMin   *float64      `json:"xmin"`
	YMin   *float64      `json:"ymin"`
	XMax   *float64      `json:"xmax"`
	YMax   *float64      `json:"ymax"`
	HasZ   bool          `json:"hasZ"`
	HasM   bool          `json:"hasM"`
}

// Decode converts a decoded JSON value (as produced by encoding/json with
// UseNumber) into a geometry. A nil value gives a nil geometry.
func Decode(value any) (geom.T, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("esri: encode geometry: %w", err)
	}
	return Unmarshal(raw)
}

func Unmarshal(raw []byte) (geom.T, error) {
	var g Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("esri: decode geometry: %w", err)
	}
	return g.Geom()
}

// Geom builds the equivalent go-geom geometry. Points without coordinates give
// a nil geometry.
func (g Geometry) Geom() (geom.T, error) {
	switch {
	case g.X != nil || g.Y != nil:
		return g.point()
	case g.Points != nil:
		return g.multiPoint()
	case g.Paths != nil:
		return g.lines()
	case g.Rings != nil:
		return g.polygons()
	case g.XMin != nil && g.YMin != nil && g.XMax != nil && g.YMax != nil:
		return g.envelope()
	default:
		return nil, ErrUnsupportedGeometry
	}
}

func (g Geometry) layout() geom.Layout {
	switch {
	case g.HasZ && g.HasM:
		return geom.XYZM
	case g.HasZ:
		return geom.XYZ
	case g.HasM:
		return geom.XYM
	}
	return geom.XY
}

// coordLayout infers the layout from the first coordinate when the hasZ/hasM
// flags are absent.
func (g Geometry) coordLayout(first []float64) geom.Layout {
	if g.HasZ || g.HasM {
		return g.layout()
	}
	switch len(first) {
	case 3:
		return geom.XYZ
	case 4:
		return geom.XYZM
	}
	return geom.XY
}

func (g Geometry) point() (geom.T, error) {
	if g.X == nil || g.Y == nil {
		return nil, nil
	}
	coord := geom.Coord{*g.X, *g.Y}
	layout := geom.XY
	switch {
	case g.Z != nil && g.M != nil:
		layout = geom.XYZM
		coord = append(coord, *g.Z, *g.M)
	case g.Z != nil:
		layout = geom.XYZ
		coord = append(coord, *g.Z)
	case g.M != nil:
		layout = geom.XYM
		coord = append(coord, *g.M)
	}
	return geom.NewPoint(layout).SetCoords(coord)
}

func (g Geometry) multiPoint() (geom.T, error) {
	layout := geom.XY
	if len(g.Points) > 0 {
		layout = g.coordLayout(g.Points[0])
	}
	coords, err := toCoords(g.Points, layout)
	if err != nil {
		return nil, err
	}
	return geom.NewMultiPoint(layout).SetCoords(coords)
}

func (g Geometry) lines() (geom.T, error) {
	layout := geom.XY
	if len(g.Paths) > 0 && len(g.Paths[0]) > 0 {
		layout = g.coordLayout(g.Paths[0][0])
	}
	paths := make([][]geom.Coord, 0, len(g.Paths))
	for _, path := range g.Paths {
		coords, err := toCoords(path, layout)
		if err != nil {
			return nil, err
		}
		paths = append(paths, coords)
	}
	if len(paths) == 1 {
		return geom.NewLineString(layout).SetCoords(paths[0])
	}
	return geom.NewMultiLineString(layout).SetCoords(paths)
}

func (g Geometry) envelope() (geom.T, error) {
	xmin, ymin, xmax, ymax := *g.XMin, *g.YMin, *g.XMax, *g.YMax
	ring := []geom.Coord{
		{xmin, ymin},
		{xmax, ymin},
		{xmax, ymax},
		{xmin, ymax},
		{xmin, ymin},
	}
	return geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
}

func toCoords(points [][]float64, layout geom.Layout) ([]geom.Coord, error) {
	stride := layout.Stride()
	coords := make([]geom.Coord, 0, len(points))
	for i, point := range points {
		if len(point) < 2 {
			return nil, fmt.Errorf("esri: coordinate %d has %d values", i, len(point))
		}
		coord := make(geom.Coord, stride)
		copy(coord, point)
		coords = append(coords, coord)
	}
	return coords, nil
}
