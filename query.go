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

package cellulite

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/meilisearch/cellulite/geometry"
	"github.com/meilisearch/cellulite/h3adapter"
	"github.com/meilisearch/cellulite/kv"
	"github.com/paulmach/orb"
)

// InShape returns the ids whose stored geometry intersects or is contained
// by polygon (spec §4.5). polygon's outer ring must already be wound
// right-hand (callers normalize winding, per spec §6).
func (idx *Index) InShape(rtxn kv.Tx, polygon orb.Polygon) (*roaring.Bitmap, error) {
	validated := roaring.New()
	doubleCheck := roaring.New()

	seed, err := h3adapter.Cover(polygon, 0)
	if err != nil {
		return nil, fmt.Errorf("cellulite: cover query polygon: %w", err)
	}

	queue := seed
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		belly, err := idx.getPosting(rtxn, c, tagBelly)
		if err != nil {
			return nil, err
		}
		validated.Or(belly)

		normal, err := idx.getPosting(rtxn, c, tagNormal)
		if err != nil {
			return nil, err
		}
		if normal.IsEmpty() {
			continue
		}

		rel := h3adapter.Relate(c, polygon)
		switch rel {
		case h3adapter.Disjoint:
			// Defensive: the resolution-0 cover should not produce
			// disjoint cells, but skip rather than trust that blindly.
			continue
		case h3adapter.Contained:
			validated.Or(normal)
		default: // Intersects (or the degenerate Contains case)
			full, err := idx.hasChildren(rtxn, c)
			if err != nil {
				return nil, err
			}
			if full {
				next, err := recoverIntersection(c, polygon)
				if err != nil {
					return nil, err
				}
				queue = append(queue, next...)
			} else {
				doubleCheck.Or(normal)
			}
		}
	}

	doubleCheck.AndNot(validated)

	it := doubleCheck.Iterator()
	for it.HasNext() {
		id := it.Next()
		raw, err := rtxn.GetOne(idx.itemsTable, itemKey(id))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue // deleted concurrently with this snapshot's staging; not a match
		}
		g, err := geometry.Decode(raw)
		if err != nil {
			continue
		}
		if geometry.Intersects(g, polygon) {
			validated.Add(id)
		}
	}

	idx.opts.Logger.Debug("cellulite: in_shape done",
		zap.Uint64("validated", validated.GetCardinality()),
		zap.Uint64("doubleChecked", doubleCheck.GetCardinality()))

	return validated, nil
}

// recoverIntersection covers, at c's resolution + 1, the approximation of
// polygon ∩ cellPolygon(c) that clipToBound returns, instead of enumerating
// every one of c's up-to-7 children (the "cover our shape at res+1" step of
// spec §4.5). The approximation is not an exact intersection, so the
// returned cells can lie outside c.
func recoverIntersection(c h3.Cell, polygon orb.Polygon) ([]h3.Cell, error) {
	cellPoly := h3adapter.CellPolygon(c)
	clipped := clipToBound(polygon, cellPoly.Bound())
	return h3adapter.Cover(clipped, c.Resolution()+1)
}

// clipToBound approximates polygon ∩ bound without clipping: it returns
// polygon when polygon's bound lies inside bound, bound as a rectangle when
// bound lies inside polygon's bound, and polygon unchanged otherwise.
func clipToBound(polygon orb.Polygon, bound orb.Bound) orb.Polygon {
	pb := polygon.Bound()
	if bound.Contains(pb.Min) && bound.Contains(pb.Max) {
		return polygon
	}
	if pb.Contains(bound.Min) && pb.Contains(bound.Max) {
		return boundPolygon(bound)
	}
	return polygon
}

func boundPolygon(b orb.Bound) orb.Polygon {
	ring := orb.Ring{
		{b.Min[0], b.Min[1]},
		{b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]},
		{b.Min[0], b.Max[1]},
		{b.Min[0], b.Min[1]},
	}
	return orb.Polygon{ring}
}

// InCircle approximates a circle as an n-sided polygon on the sphere and
// delegates to InShape (spec §4.5). Requires n >= 3 and radiusMeters > 0.
func (idx *Index) InCircle(rtxn kv.Tx, center orb.Point, radiusMeters float64, n int) (*roaring.Bitmap, error) {
	if n < 3 {
		return nil, fmt.Errorf("cellulite: in_circle requires n >= 3, got %d", n)
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("cellulite: in_circle requires radius > 0, got %f", radiusMeters)
	}
	return idx.InShape(rtxn, ngon(center, radiusMeters, n))
}

// earthRadiusMeters is the mean Earth radius used for the forward
// great-circle destination formula below.
const earthRadiusMeters = 6371008.8

// ngon builds a closed n-sided polygon approximating the circle of
// radiusMeters around center, using the spherical forward-destination
// formula (bearing/distance -> point), the standard construction used
// across the pack's geo-heavy examples for circle-as-polygon queries.
func ngon(center orb.Point, radiusMeters float64, n int) orb.Polygon {
	ring := make(orb.Ring, 0, n+1)
	angularDist := radiusMeters / earthRadiusMeters
	lat1 := degToRad(center[1])
	lon1 := degToRad(center[0])

	for i := 0; i < n; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(n)
		lat2 := math.Asin(math.Sin(lat1)*math.Cos(angularDist) +
			math.Cos(lat1)*math.Sin(angularDist)*math.Cos(bearing))
		lon2 := lon1 + math.Atan2(
			math.Sin(bearing)*math.Sin(angularDist)*math.Cos(lat1),
			math.Cos(angularDist)-math.Sin(lat1)*math.Sin(lat2))
		ring = append(ring, orb.Point{radToDeg(lon2), radToDeg(lat2)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }
