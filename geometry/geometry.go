// Copyright 2024 The Cellulite Authors
// This file is part of Cellulite.
//
// Cellulite is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Cellulite is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Cellulite. If not, see <http://www.gnu.org/licenses/>.

// Package geometry wraps github.com/paulmach/orb for the parts of GeoJSON
// parsing and polygon/point predicate evaluation that spec.md §1 names as
// external collaborators. Cellulite's own logic (the H3 partitioning and
// query traversal) never reimplements these; it calls through here.
package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Geometry is the decoded shape cellulite stores and indexes.
type Geometry = orb.Geometry

// Kind names the GeoJSON geometry kinds the H3 adapter understands (spec §3).
type Kind string

const (
	KindPoint           Kind = "Point"
	KindMultiPoint      Kind = "MultiPoint"
	KindLineString      Kind = "LineString"
	KindMultiLineString Kind = "MultiLineString"
	KindPolygon         Kind = "Polygon"
	KindMultiPolygon    Kind = "MultiPolygon"
	KindCollection      Kind = "GeometryCollection"
)

// Decode parses raw GeoJSON bytes representing either a bare geometry or a
// Feature wrapping one, per spec §6 (`add`'s `geojson` input contract).
func Decode(raw []byte) (Geometry, error) {
	if g, err := geojson.UnmarshalGeometry(raw); err == nil {
		return g.Geometry(), nil
	}
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	if f.Geometry == nil {
		return nil, fmt.Errorf("decode geojson: feature has no geometry")
	}
	return f.Geometry, nil
}

// Encode serializes a Geometry back to GeoJSON, used by `items` encoding.
func Encode(g Geometry) ([]byte, error) {
	return geojson.NewGeometry(g).MarshalJSON()
}

// KindOf classifies a geometry's top-level kind. Members of a
// GeometryCollection are not inspected; Supported enforces the one-level
// nesting limit.
func KindOf(g Geometry) (Kind, bool) {
	switch g.(type) {
	case orb.Point:
		return KindPoint, true
	case orb.MultiPoint:
		return KindMultiPoint, true
	case orb.LineString:
		return KindLineString, true
	case orb.MultiLineString:
		return KindMultiLineString, true
	case orb.Polygon:
		return KindPolygon, true
	case orb.MultiPolygon:
		return KindMultiPolygon, true
	case orb.Collection:
		return KindCollection, true
	default:
		return "", false
	}
}

// Supported reports whether g (and, for a one-level GeometryCollection,
// every member) is a kind the H3 adapter can cover and test.
func Supported(g Geometry) bool {
	kind, ok := KindOf(g)
	if !ok {
		return false
	}
	if kind != KindCollection {
		return true
	}
	for _, member := range g.(orb.Collection) {
		if _, ok := KindOf(member); !ok {
			return false
		}
		if _, isCollection := member.(orb.Collection); isCollection {
			return false // no nested collections beyond one level
		}
	}
	return true
}

// Bound returns the geometry's bounding box, used for the cheap
// disjointness short-circuit ahead of the exact predicates below.
func Bound(g Geometry) orb.Bound { return g.Bound() }

// Contains reports whether outer fully contains g: every point of g (and,
// for areal/linear g, g's boundary) lies inside outer. Used by the H3
// adapter's belly-cell relation test and by the query engine's double-check
// phase. A hole of outer that lies wholly inside g is not detected.
func Contains(outer orb.Polygon, g Geometry) bool {
	if !outer.Bound().Contains(g.Bound().Min) || !outer.Bound().Contains(g.Bound().Max) {
		return false
	}
	switch v := g.(type) {
	case orb.Point:
		return planar.PolygonContains(outer, v)
	case orb.MultiPoint:
		for _, p := range v {
			if !planar.PolygonContains(outer, p) {
				return false
			}
		}
		return true
	case orb.LineString:
		return containsRing(outer, orb.Ring(v))
	case orb.MultiLineString:
		for _, ls := range v {
			if !containsRing(outer, orb.Ring(ls)) {
				return false
			}
		}
		return true
	case orb.Polygon:
		for _, ring := range v {
			if !containsRing(outer, ring) {
				return false
			}
		}
		return true
	case orb.MultiPolygon:
		for _, poly := range v {
			if !Contains(outer, poly) {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, member := range v {
			if !Contains(outer, member) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func containsRing(outer orb.Polygon, ring orb.Ring) bool {
	for _, p := range ring {
		if !planar.PolygonContains(outer, p) {
			return false
		}
	}
	return !segmentsIntersect(outline(outer), [][]orb.Point{[]orb.Point(ring)})
}

// Intersects reports whether a and b share at least one point. Used by the
// query engine's double-check phase (spec §4.5 step 4) and by tests
// evaluating the ground-truth predicate in spec §8 property 6. A
// MultiPolygon intersects when any one of its parts does. Edge contact is
// tested by strict segment crossing, so boundaries that only touch or
// overlap collinearly may be reported as not intersecting, and a geometry
// lying wholly inside a polygon member of a GeometryCollection is not
// detected.
func Intersects(a, b Geometry) bool {
	ba, bb := a.Bound(), b.Bound()
	if !boundsOverlap(ba, bb) {
		return false
	}
	if parts, ok := a.(orb.MultiPolygon); ok {
		for _, poly := range parts {
			if Intersects(poly, b) {
				return true
			}
		}
		return false
	}
	if parts, ok := b.(orb.MultiPolygon); ok {
		return Intersects(parts, a)
	}
	if poly, ok := b.(orb.Polygon); ok {
		if Contains(poly, a) {
			return true
		}
	}
	if poly, ok := a.(orb.Polygon); ok {
		if Contains(poly, b) {
			return true
		}
	}
	return segmentsIntersect(outline(a), outline(b))
}

func boundsOverlap(a, b orb.Bound) bool {
	return a.Min[0] <= b.Max[0] && a.Max[0] >= b.Min[0] &&
		a.Min[1] <= b.Max[1] && a.Max[1] >= b.Min[1]
}

// outline reduces any supported geometry to its independent rings/polylines
// (one entry per ring, linestring, or point), never concatenated across
// ring or part boundaries: a polygon's holes, a multipolygon's parts, and a
// multilinestring's lines must not gain a phantom edge connecting one
// part's last point to the next part's first.
func outline(g Geometry) [][]orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return [][]orb.Point{{v}}
	case orb.MultiPoint:
		parts := make([][]orb.Point, len(v))
		for i, p := range v {
			parts[i] = []orb.Point{p}
		}
		return parts
	case orb.LineString:
		return [][]orb.Point{[]orb.Point(v)}
	case orb.MultiLineString:
		parts := make([][]orb.Point, len(v))
		for i, ls := range v {
			parts[i] = []orb.Point(ls)
		}
		return parts
	case orb.Polygon:
		parts := make([][]orb.Point, len(v))
		for i, r := range v {
			parts[i] = []orb.Point(r)
		}
		return parts
	case orb.MultiPolygon:
		var parts [][]orb.Point
		for _, poly := range v {
			parts = append(parts, outline(poly)...)
		}
		return parts
	case orb.Collection:
		var parts [][]orb.Point
		for _, m := range v {
			parts = append(parts, outline(m)...)
		}
		return parts
	default:
		return nil
	}
}

// segmentsIntersect tests every ring/part of a against every ring/part of
// b independently, so no edge is ever built between two different parts.
func segmentsIntersect(a, b [][]orb.Point) bool {
	for _, pa := range a {
		for _, pb := range b {
			if partIntersect(pa, pb) {
				return true
			}
		}
	}
	return false
}

func partIntersect(a, b []orb.Point) bool {
	if len(a) == 1 {
		return pointAmong(a[0], b)
	}
	if len(b) == 1 {
		return pointAmong(b[0], a)
	}
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsCross(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func pointAmong(p orb.Point, ring []orb.Point) bool {
	for _, q := range ring {
		if p == q {
			return true
		}
	}
	return false
}

func segmentsCross(p1, p2, p3, p4 orb.Point) bool {
	d1 := direction(p3, p4, p1)
	d2 := direction(p3, p4, p2)
	d3 := direction(p1, p2, p3)
	d4 := direction(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func direction(a, b, c orb.Point) float64 {
	return (c[0]-a[0])*(b[1]-a[1]) - (b[0]-a[0])*(c[1]-a[1])
}
