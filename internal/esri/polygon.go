package esri

import (
	"github.com/twpayne/go-geom"
)

// polygons groups ArcGIS rings into polygons. Clockwise rings are outer
// boundaries and counter-clockwise rings are holes. Output rings follow the
// GeoJSON winding order: exteriors counter-clockwise, holes clockwise.
func (g Geometry) polygons() (geom.T, error) {
	layout := geom.XY
	if len(g.Rings) > 0 && len(g.Rings[0]) > 0 {
		layout = g.coordLayout(g.Rings[0][0])
	}

	var outers [][][]geom.Coord
	var holes [][]geom.Coord
	for _, raw := range g.Rings {
		ring, err := toCoords(raw, layout)
		if err != nil {
			return nil, err
		}
		ring = closeRing(ring)
		if len(ring) < 4 {
			continue
		}
		if isClockwise(ring) {
			outers = append(outers, [][]geom.Coord{reverse(ring)})
			continue
		}
		holes = append(holes, ring)
	}

	for _, hole := range holes {
		owner := -1
		for i, polygon := range outers {
			if ringContains(polygon[0], hole[0]) {
				owner = i
				break
			}
		}
		if owner < 0 {
			// A hole no outer ring contains is promoted to an exterior.
			outers = append(outers, [][]geom.Coord{hole})
			continue
		}
		outers[owner] = append(outers[owner], reverse(hole))
	}

	if len(outers) == 1 {
		return geom.NewPolygon(layout).SetCoords(outers[0])
	}
	return geom.NewMultiPolygon(layout).SetCoords(outers)
}

func closeRing(ring []geom.Coord) []geom.Coord {
	if len(ring) == 0 {
		return ring
	}
	first, last := ring[0], ring[len(ring)-1]
	if first[0] == last[0] && first[1] == last[1] {
		return ring
	}
	closing := make(geom.Coord, len(first))
	copy(closing, first)
	return append(ring, closing)
}

// isClockwise uses the shoelace sum; a positive total means clockwise in a
// y-up coordinate system.
func isClockwise(ring []geom.Coord) bool {
	total := 0.0
	for i := 0; i+1 < len(ring); i++ {
		total += (ring[i+1][0] - ring[i][0]) * (ring[i+1][1] + ring[i][1])
	}
	return total > 0
}

func reverse(ring []geom.Coord) []geom.Coord {
	out := make([]geom.Coord, len(ring))
	for i, coord := range ring {
		out[len(ring)-1-i] = coord
	}
	return out
}

// ringContains is an even-odd ray cast test.
func ringContains(ring []geom.Coord, point geom.Coord) bool {
	x, y := point[0], point[1]
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
