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

// Package h3adapter is the thin H3 Adapter component of spec §4.4: cover,
// children, cell polygon, and cell/geometry relation. H3 cell math itself
// (github.com/uber/h3-go/v4) is an external collaborator per spec §1;
// cellulite only ever touches H3 through this package.
package h3adapter

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/meilisearch/cellulite/geometry"
	"github.com/paulmach/orb"
)

// MaxResolution is H3's finest resolution and spec §4.4's recursion ceiling.
const MaxResolution = 15

// Relation classifies how a cell's hexagon sits against a geometry, per
// spec §4.4/§4.5.
type Relation int

const (
	Disjoint Relation = iota
	Intersects
	Contained // the cell lies inside the geometry
	Contains  // the geometry lies inside the cell (degenerate, small shapes)
)

// Cover returns the set of cells at resolution res that cover g.
func Cover(g geometry.Geometry, res int) ([]h3.Cell, error) {
	switch v := g.(type) {
	case orb.Point:
		return []h3.Cell{h3.LatLngToCell(toLatLng(v), res)}, nil
	case orb.MultiPoint:
		seen := map[h3.Cell]struct{}{}
		var out []h3.Cell
		for _, p := range v {
			c := h3.LatLngToCell(toLatLng(p), res)
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
		return out, nil
	case orb.LineString:
		return coverLine(v, res), nil
	case orb.MultiLineString:
		seen := map[h3.Cell]struct{}{}
		var out []h3.Cell
		for _, ls := range v {
			for _, c := range coverLine(ls, res) {
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					out = append(out, c)
				}
			}
		}
		return out, nil
	case orb.Polygon:
		return coverPolygon(v, res)
	case orb.MultiPolygon:
		seen := map[h3.Cell]struct{}{}
		var out []h3.Cell
		for _, poly := range v {
			cells, err := coverPolygon(poly, res)
			if err != nil {
				return nil, err
			}
			for _, c := range cells {
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					out = append(out, c)
				}
			}
		}
		return out, nil
	case orb.Collection:
		seen := map[h3.Cell]struct{}{}
		var out []h3.Cell
		for _, member := range v {
			cells, err := Cover(member, res)
			if err != nil {
				return nil, err
			}
			for _, c := range cells {
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					out = append(out, c)
				}
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("h3adapter: unsupported geometry %T", g)
	}
}

func coverLine(ls orb.LineString, res int) []h3.Cell {
	seen := map[h3.Cell]struct{}{}
	var out []h3.Cell
	for _, p := range ls {
		c := h3.LatLngToCell(toLatLng(p), res)
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func coverPolygon(poly orb.Polygon, res int) ([]h3.Cell, error) {
	if len(poly) == 0 {
		return nil, nil
	}
	gp := h3.GeoPolygon{GeoLoop: toGeoLoop(poly[0])}
	for _, hole := range poly[1:] {
		gp.Holes = append(gp.Holes, toGeoLoop(hole))
	}
	cells, err := h3.PolygonToCells(gp, res)
	if err != nil {
		return nil, fmt.Errorf("h3adapter: polygon to cells: %w", err)
	}
	return cells, nil
}

// Children returns the cells one resolution finer than c.
func Children(c h3.Cell) ([]h3.Cell, error) {
	r := c.Resolution()
	if r >= MaxResolution {
		return nil, nil
	}
	children, err := c.Children(r + 1)
	if err != nil {
		return nil, fmt.Errorf("h3adapter: children of %d: %w", uint64(c), err)
	}
	return children, nil
}

// CellPolygon returns c's hexagon (or pentagon, at the 12 icosahedral
// vertices) boundary as an orb.Polygon in lon/lat order.
func CellPolygon(c h3.Cell) orb.Polygon {
	boundary := c.Boundary()
	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, ll := range boundary {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// Relate classifies cell c against geometry g, per spec §4.4/§4.5: does g
// contain c's hexagon (belly), does c's hexagon contain g (contains), do
// they merely overlap (intersects), or neither (disjoint).
func Relate(c h3.Cell, g geometry.Geometry) Relation {
	cellPoly := CellPolygon(c)
	if !geometry.Intersects(cellPoly, g) {
		return Disjoint
	}
	if poly, ok := g.(orb.Polygon); ok && geometry.Contains(poly, cellPoly) {
		return Contained
	}
	if mp, ok := g.(orb.MultiPolygon); ok {
		for _, poly := range mp {
			if geometry.Contains(poly, cellPoly) {
				return Contained
			}
		}
	}
	if geometry.Contains(cellPoly, g) {
		return Contains
	}
	return Intersects
}

func toLatLng(p orb.Point) h3.LatLng {
	return h3.LatLng{Lat: p[1], Lng: p[0]}
}

func toGeoLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, len(r))
	for i, p := range r {
		loop[i] = toLatLng(p)
	}
	return loop
}
