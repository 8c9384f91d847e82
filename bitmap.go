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

	"github.com/RoaringBitmap/roaring/v2"
	h3 "github.com/uber/h3-go/v4"

	"github.com/meilisearch/cellulite/h3adapter"
	"github.com/meilisearch/cellulite/kv"
)

// getPosting reads cell posting (cell, t) from `cells`, decoding the
// roaring bitmap. A missing entry decodes to an empty bitmap.
func (idx *Index) getPosting(tx kv.Tx, c h3.Cell, t tag) (*roaring.Bitmap, error) {
	raw, err := tx.GetOne(idx.cellsTable, cellKey(c, t))
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	if raw == nil {
		return bm, nil
	}
	if _, err := bm.FromBuffer(raw); err != nil {
		return nil, fmt.Errorf("cellulite: decode posting %d/%d: %w", uint64(c), t, err)
	}
	return bm, nil
}

// putPosting writes bm back, or removes the entry entirely when bm is
// empty (keeps `cells` free of zero-length postings).
func (idx *Index) putPosting(wtxn kv.RwTx, c h3.Cell, t tag, bm *roaring.Bitmap) error {
	if bm.IsEmpty() {
		return wtxn.Delete(idx.cellsTable, cellKey(c, t))
	}
	bm.RunOptimize()
	raw, err := bm.ToBytes()
	if err != nil {
		return fmt.Errorf("cellulite: encode posting %d/%d: %w", uint64(c), t, err)
	}
	return wtxn.Put(idx.cellsTable, cellKey(c, t), raw)
}

func (idx *Index) deletePosting(wtxn kv.RwTx, c h3.Cell, t tag) error {
	return wtxn.Delete(idx.cellsTable, cellKey(c, t))
}

// hasChildren reports whether any child of cell has a posting on disk,
// the query engine's "was this cell split at build time" probe (spec
// §4.5, "Detecting full at query time", approach (a)).
func (idx *Index) hasChildren(rtxn kv.Tx, c h3.Cell) (bool, error) {
	children, err := h3adapter.Children(c)
	if err != nil {
		return false, err
	}
	for _, child := range children {
		for _, t := range [...]tag{tagNormal, tagBelly} {
			raw, err := rtxn.GetOne(idx.cellsTable, cellKey(child, t))
			if err != nil {
				return false, err
			}
			if raw != nil {
				return true, nil
			}
		}
	}
	return false, nil
}
