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

	"github.com/meilisearch/cellulite/geometry"
	"github.com/meilisearch/cellulite/kv"
)

// Add stages id for (re)indexing: the encoded geometry is written to
// `items` (overwriting any prior value) and an upsert marker is written to
// `updates`. Add never touches `cells` and never validates that geometry is
// a supported kind — that check happens during Build (spec §4.3).
func (idx *Index) Add(wtxn kv.RwTx, id uint32, g geometry.Geometry) error {
	raw, err := geometry.Encode(g)
	if err != nil {
		return fmt.Errorf("cellulite: encode geometry for document %d: %w", id, err)
	}
	key := itemKey(id)
	if err := wtxn.Put(idx.itemsTable, key, raw); err != nil {
		return err
	}
	return wtxn.Put(idx.updatesTable, key, []byte{updateUpsert})
}

// Delete stages id for removal: a tombstone is written to `updates`.
// `items` and `cells` are left untouched until Build runs (spec §4.3).
func (idx *Index) Delete(wtxn kv.RwTx, id uint32) error {
	return wtxn.Put(idx.updatesTable, itemKey(id), []byte{updateDelete})
}
