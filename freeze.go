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

	"github.com/meilisearch/cellulite/errs"
	"github.com/meilisearch/cellulite/geometry"
	"github.com/meilisearch/cellulite/kv"
)

// frozenItems is the in-memory mapping build pre-materializes from `items`
// on entry to Phase C (spec §4.6). Build's recursive descent (Phase D)
// looks geometries up in this map first. A document that was not staged in
// this build but sits in a posting being re-split is not in the map up
// front: geometryFor reads it from `items` through the write transaction on
// first use and then caches it here.
type frozenItems struct {
	geometries map[uint32]geometry.Geometry
}

// freeze decodes every geometry in ids from `items` into memory. Build
// passes the upsert set; documents already present in a posting that gets
// re-split are not preloaded.
func (idx *Index) freeze(wtxn kv.RwTx, ids map[uint32]struct{}) (*frozenItems, error) {
	f := &frozenItems{geometries: make(map[uint32]geometry.Geometry, len(ids))}
	for id := range ids {
		raw, err := wtxn.GetOne(idx.itemsTable, itemKey(id))
		if err != nil {
			return nil, fmt.Errorf("cellulite: freeze: read item %d: %w", id, err)
		}
		if raw == nil {
			return nil, errs.Internal("freeze: item %d staged for indexing but absent from items", id)
		}
		g, err := geometry.Decode(raw)
		if err != nil {
			return nil, &errs.InvalidGeoJSONError{DocID: id, Err: err}
		}
		f.geometries[id] = g
	}
	return f, nil
}

func (f *frozenItems) get(id uint32) (geometry.Geometry, bool) {
	g, ok := f.geometries[id]
	return g, ok
}
