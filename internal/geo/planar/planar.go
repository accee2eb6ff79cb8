// Package planar turns decoded source geometry of any dimensionality into
// two-dimensional orb geometry, keeping ring and part structure intact, and
// simplifies it without collapsing rings.
package planar

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/twpayne/go-geom"
)

var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

// Reduce drops every coordinate component past X and Y. Multi-geometries and
// collections are walked part by part, so nested collections of mixed part
// types come out with the same shape.
func Reduce(g geom.T) (orb.Geometry, error) {
	switch t := g.(type) {
	case nil:
		return nil, nil
	case *geom.Point:
		if t.Empty() {
			return nil, nil
		}
		return point(t.Coords()), nil
	case *geom.MultiPoint:
		out := make(orb.MultiPoint, 0, t.NumPoints())
		for i := 0; i < t.NumPoints(); i++ {
			p := t.Point(i)
			if p.Empty() {
				continue
			}
			out = append(out, point(p.Coords()))
		}
		return out, nil
	case *geom.LineString:
		return lineString(t.Coords()), nil
	case *geom.LinearRing:
		return ring(t.Coords()), nil
	case *geom.MultiLineString:
		out := make(orb.MultiLineString, 0, t.NumLineStrings())
		for i := 0; i < t.NumLineStrings(); i++ {
			out = append(out, lineString(t.LineString(i).Coords()))
		}
		return out, nil
	case *geom.Polygon:
		return polygon(t), nil
	case *geom.MultiPolygon:
		out := make(orb.MultiPolygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			out = append(out, polygon(t.Polygon(i)))
		}
		return out, nil
	case *geom.GeometryCollection:
		out := make(orb.Collection, 0, t.NumGeoms())
		for i, part := range t.Geoms() {
			r, err := Reduce(part)
			if err != nil {
				return nil, fmt.Errorf("collection part %d: %w", i, err)
			}
			if r == nil {
				continue
			}
			out = append(out, r)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
	}
}

func point(c geom.Coord) orb.Point {
	return orb.Point{c.X(), c.Y()}
}

func lineString(cs []geom.Coord) orb.LineString {
	out := make(orb.LineString, len(cs))
	for i, c := range cs {
		out[i] = point(c)
	}
	return out
}

func ring(cs []geom.Coord) orb.Ring {
	return orb.Ring(lineString(cs))
}

func polygon(p *geom.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		out = append(out, ring(p.LinearRing(i).Coords()))
	}
	return out
}

// Empty reports whether g carries no vertices.
func Empty(g orb.Geometry) bool {
	switch t := g.(type) {
	case nil:
		return true
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(t) == 0
	case orb.LineString:
		return len(t) == 0
	case orb.Ring:
		return len(t) == 0
	case orb.MultiLineString:
		for _, ls := range t {
			if len(ls) > 0 {
				return false
			}
		}
		return true
	case orb.Polygon:
		return len(t) == 0 || len(t[0]) == 0
	case orb.MultiPolygon:
		for _, p := range t {
			if !Empty(p) {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, c := range t {
			if !Empty(c) {
				return false
			}
		}
		return true
	case orb.Bound:
		return false
	default:
		return true
	}
}

// minRing is the vertex count of the smallest closed ring.
const minRing = 4

// Simplify returns a Douglas-Peucker simplified copy of g; g itself is left
// alone. Each ring and line is simplified on its own and keeps its original
// vertices when the simplified form would be degenerate, so small parts
// survive tolerances larger than they are.
func Simplify(g orb.Geometry, tolerance float64) orb.Geometry {
	if tolerance <= 0 {
		return orb.Clone(g)
	}
	return simplifyWith(simplify.DouglasPeucker(tolerance), g)
}

func simplifyWith(s *simplify.DouglasPeuckerSimplifier, g orb.Geometry) orb.Geometry {
	switch t := g.(type) {
	case orb.LineString:
		return simplifyLine(s, t)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i, ls := range t {
			out[i] = simplifyLine(s, ls)
		}
		return out
	case orb.Ring:
		return simplifyRing(s, t)
	case orb.Polygon:
		return simplifyPolygon(s, t)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = simplifyPolygon(s, p)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(t))
		for i, part := range t {
			out[i] = simplifyWith(s, part)
		}
		return out
	default:
		return orb.Clone(g)
	}
}

func simplifyLine(s *simplify.DouglasPeuckerSimplifier, ls orb.LineString) orb.LineString {
	out := s.LineString(ls.Clone())
	if len(out) < 2 {
		return ls.Clone()
	}
	return out
}

func simplifyRing(s *simplify.DouglasPeuckerSimplifier, r orb.Ring) orb.Ring {
	out := s.Ring(r.Clone())
	if len(out) < minRing {
		return r.Clone()
	}
	return out
}

func simplifyPolygon(s *simplify.DouglasPeuckerSimplifier, p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		out[i] = simplifyRing(s, r)
	}
	return out
}
