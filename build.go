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
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	h3 "github.com/uber/h3-go/v4"

	"github.com/meilisearch/cellulite/errs"
	"github.com/meilisearch/cellulite/geometry"
	"github.com/meilisearch/cellulite/h3adapter"
	"github.com/meilisearch/cellulite/kv"
	"github.com/meilisearch/cellulite/progress"
)

// CancelProbe is consulted at phase boundaries and at every per-cell
// iteration of the recursive descent (spec §4.4, §4.7). It must return
// quickly; Build never aborts mid-cell-write.
type CancelProbe func() bool

func noCancel() bool { return false }

// Build drains `updates`, strips deleted/re-indexed ids from `cells`, and
// re-partitions every staged document over the H3 grid (spec §4.4). On
// success `updates` is empty and every invariant in spec §3 holds. On
// cancellation or error the caller must discard wtxn uncommitted.
func (idx *Index) Build(wtxn kv.RwTx, cancel CancelProbe, sink progress.Sink) error {
	if cancel == nil {
		cancel = noCancel
	}
	if sink == nil {
		sink = progress.Nop{}
	}
	log := idx.opts.Logger

	upserts, deletes, err := idx.drainUpdates(wtxn, cancel, sink)
	if err != nil {
		return err
	}
	if cancel() {
		return errs.ErrCancelled
	}

	if err := idx.stripStaleEntries(wtxn, upserts, deletes, cancel, sink); err != nil {
		return err
	}
	if cancel() {
		return errs.ErrCancelled
	}

	frozen, err := idx.freeze(wtxn, upserts)
	if err != nil {
		return err
	}

	tasks, err := idx.seedResolutionZero(wtxn, frozen, upserts, sink, log)
	if err != nil {
		return err
	}
	if cancel() {
		return errs.ErrCancelled
	}

	if err := idx.descend(wtxn, frozen, tasks, cancel, sink, log); err != nil {
		return err
	}

	return idx.finalizeMetadata(wtxn, sink)
}

// drainUpdates is Phase A: scan `updates` in full, splitting it into the
// upsert and delete id sets.
func (idx *Index) drainUpdates(wtxn kv.RwTx, cancel CancelProbe, sink progress.Sink) (upserts, deletes map[uint32]struct{}, err error) {
	start := time.Now()
	upserts = make(map[uint32]struct{})
	deletes = make(map[uint32]struct{})

	err = wtxn.ForEach(idx.updatesTable, nil, func(k, v []byte) (bool, error) {
		if cancel() {
			return false, errs.ErrCancelled
		}
		id := itemKeyID(k)
		if len(v) == 1 && v[0] == updateDelete {
			deletes[id] = struct{}{}
		} else {
			upserts[id] = struct{}{}
		}
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	sink.Report(progress.Event{Phase: progress.PhaseRetrieveUpdatedItems, Resolution: -1, Duration: time.Since(start), Done: uint64(len(upserts) + len(deletes))})
	return upserts, deletes, nil
}

// stripStaleEntries is Phase B: remove deleted ids from `items`, then strip
// every deleted-or-reindexed id from every posting in `cells` in a single
// pass (equivalent to, but faster than, spec §4.4's per-id walk — see
// DESIGN.md).
func (idx *Index) stripStaleEntries(wtxn kv.RwTx, upserts, deletes map[uint32]struct{}, cancel CancelProbe, sink progress.Sink) error {
	start := time.Now()

	for id := range deletes {
		if err := wtxn.Delete(idx.itemsTable, itemKey(id)); err != nil {
			return fmt.Errorf("cellulite: delete item %d: %w", id, err)
		}
	}

	toStrip := roaring.New()
	for id := range deletes {
		toStrip.Add(id)
	}
	for id := range upserts {
		toStrip.Add(id) // re-add is delete-then-insert: old postings must go too
	}

	if !toStrip.IsEmpty() {
		var keys [][]byte
		if err := wtxn.ForEach(idx.cellsTable, nil, func(k, _ []byte) (bool, error) {
			keys = append(keys, append([]byte(nil), k...))
			return true, nil
		}); err != nil {
			return err
		}

		for _, k := range keys {
			if cancel() {
				return errs.ErrCancelled
			}
			c, t := decodeCellKey(k)
			bm, err := idx.getPosting(wtxn, c, t)
			if err != nil {
				return err
			}
			if !bm.Intersects(toStrip) {
				continue
			}
			bm.AndNot(toStrip)
			if err := idx.putPosting(wtxn, c, t, bm); err != nil {
				return err
			}
		}
	}

	sink.Report(progress.Event{Phase: progress.PhaseRemoveDeletedItems, Resolution: -1, Duration: time.Since(start), Done: uint64(len(deletes))})
	return nil
}

// seedResolutionZero is Phase C: cover every upsert at resolution 0 and
// write it into the matching belly or normal posting.
func (idx *Index) seedResolutionZero(wtxn kv.RwTx, frozen *frozenItems, upserts map[uint32]struct{}, sink progress.Sink, log *zap.Logger) ([]descentTask, error) {
	start := time.Now()

	touched := make(map[h3.Cell]struct{})
	for id := range upserts {
		g, ok := frozen.get(id)
		if !ok {
			return nil, errs.Internal("seed: item %d missing from frozen map", id)
		}
		if !geometry.Supported(g) {
			kind, _ := geometry.KindOf(g)
			return nil, &errs.UnsupportedGeometryError{DocID: id, Kind: string(kind)}
		}

		cells, err := h3adapter.Cover(g, 0)
		if err != nil {
			return nil, &errs.InvalidGeoJSONError{DocID: id, Err: err}
		}
		for _, c := range cells {
			rel := h3adapter.Relate(c, g)
			t := tagNormal
			if rel == h3adapter.Contained {
				t = tagBelly
			}
			bm, err := idx.getPosting(wtxn, c, t)
			if err != nil {
				return nil, err
			}
			bm.Add(id)
			if err := idx.putPosting(wtxn, c, t, bm); err != nil {
				return nil, err
			}
			if t == tagNormal {
				touched[c] = struct{}{}
			}
		}
	}

	tasks := make([]descentTask, 0, len(touched))
	for c := range touched {
		tasks = append(tasks, descentTask{cell: c, resolution: 0, incoming: roaring.New()})
	}

	sink.Report(progress.Event{Phase: progress.PhaseInsertItemsLevelZero, Resolution: 0, Duration: time.Since(start), Done: uint64(len(upserts))})
	log.Debug("cellulite: seeded resolution 0", zap.Int("upserts", len(upserts)), zap.Int("touchedCells", len(touched)))
	return tasks, nil
}

// descentTask is one unit of spec §9's explicit work queue: a normal cell
// that may need to absorb incoming ids and, if full, split into children.
type descentTask struct {
	cell       h3.Cell
	incoming   *roaring.Bitmap
	resolution int
}

// descend is Phase D, run as an explicit FIFO queue (not recursion) so the
// call-stack depth stays constant down to resolution 15 × up-to-7 children
// (spec §9).
func (idx *Index) descend(wtxn kv.RwTx, frozen *frozenItems, queue []descentTask, cancel CancelProbe, sink progress.Sink, log *zap.Logger) error {
	currentRes := -1
	var resStart time.Time
	var resCount uint64

	flushResPhase := func() {
		if currentRes >= 0 {
			sink.Report(progress.Event{Phase: progress.PhaseInsertItemsRecursively, Resolution: currentRes, Duration: time.Since(resStart), Done: resCount})
			log.Debug("cellulite: resolution pass done", zap.Int("resolution", currentRes), zap.Uint64("cellsProcessed", resCount))
		}
	}

	for len(queue) > 0 {
		if cancel() {
			flushResPhase()
			return errs.ErrCancelled
		}

		task := queue[0]
		queue = queue[1:]

		if task.resolution != currentRes {
			flushResPhase()
			currentRes = task.resolution
			resStart = time.Now()
			resCount = 0
		}
		resCount++

		if _, err := idx.splitCell(wtxn, frozen, task, &queue); err != nil {
			return err
		}
	}

	flushResPhase()
	return nil
}

// splitCell processes one descentTask: load the cell's existing normal
// posting, union it with incoming, and either finalize it (posting fits
// under the threshold, or resolution is maxed out) or split it into
// per-child belly/normal buckets, pushing new tasks for any child whose
// normal bucket is non-empty.
func (idx *Index) splitCell(wtxn kv.RwTx, frozen *frozenItems, task descentTask, queue *[]descentTask) (int, error) {
	full, err := idx.getPosting(wtxn, task.cell, tagNormal)
	if err != nil {
		return 0, err
	}
	combined := full.Clone()
	combined.Or(task.incoming)

	if combined.GetCardinality() <= uint64(idx.opts.Threshold) || task.resolution >= idx.opts.MaxResolution {
		return 0, idx.putPosting(wtxn, task.cell, tagNormal, combined)
	}

	// Full: delete the splitting cell's normal posting (its belly posting,
	// if any, survives untouched) and re-partition combined into children.
	if err := idx.deletePosting(wtxn, task.cell, tagNormal); err != nil {
		return 0, err
	}

	children, err := h3adapter.Children(task.cell)
	if err != nil {
		return 0, err
	}
	if len(children) == 0 {
		// No children to split into (shouldn't happen below maxRes, but
		// accept the oversized posting rather than lose documents).
		return 0, idx.putPosting(wtxn, task.cell, tagNormal, combined)
	}

	bellyAdds := make(map[h3.Cell]*roaring.Bitmap)
	normalBuckets := make(map[h3.Cell]*roaring.Bitmap)

	it := combined.Iterator()
	for it.HasNext() {
		id := it.Next()
		g, err := idx.geometryFor(wtxn, frozen, id)
		if err != nil {
			return 0, err
		}
		for _, child := range children {
			rel := h3adapter.Relate(child, g)
			switch rel {
			case h3adapter.Disjoint:
				continue
			case h3adapter.Contained:
				bm, ok := bellyAdds[child]
				if !ok {
					bm = roaring.New()
					bellyAdds[child] = bm
				}
				bm.Add(id)
			default: // Intersects or Contains
				bm, ok := normalBuckets[child]
				if !ok {
					bm = roaring.New()
					normalBuckets[child] = bm
				}
				bm.Add(id)
			}
		}
	}

	for child, adds := range bellyAdds {
		existing, err := idx.getPosting(wtxn, child, tagBelly)
		if err != nil {
			return 0, err
		}
		existing.Or(adds)
		if err := idx.putPosting(wtxn, child, tagBelly, existing); err != nil {
			return 0, err
		}
	}

	childCount := 0
	for child, bucket := range normalBuckets {
		if bucket.IsEmpty() {
			continue
		}
		childCount++
		*queue = append(*queue, descentTask{cell: child, incoming: bucket, resolution: task.resolution + 1})
	}

	return childCount, nil
}

// geometryFor returns id's geometry, consulting frozen first and falling
// back to a direct (uninvalidated) read of `items` for documents that
// weren't staged this build but whose posting is being re-split (spec
// §4.6's "any ids appearing in postings being resplit").
func (idx *Index) geometryFor(tx kv.Tx, frozen *frozenItems, id uint32) (geometry.Geometry, error) {
	if g, ok := frozen.get(uint32(id)); ok {
		return g, nil
	}
	raw, err := tx.GetOne(idx.itemsTable, itemKey(uint32(id)))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errs.Internal("geometryFor: item %d referenced by a posting but absent from items", id)
	}
	g, err := geometry.Decode(raw)
	if err != nil {
		return nil, &errs.InvalidGeoJSONError{DocID: id, Err: err}
	}
	frozen.geometries[id] = g
	return g, nil
}

// finalizeMetadata is Phase E: clear `updates` in one bulk operation
// (spec §9: "orders of magnitude faster" than per-key delete) and update
// the item counter.
//
// The counter is derived by counting `items` directly rather than adding
// len(upserts) and subtracting len(deletes): an upsert that replaces an
// already-indexed document (Add overwrites `items` in place, spec §4.3)
// is conceptually delete-then-insert but never appears in `deletes`, so
// incrementing by every upsert would overcount by one per re-add.
func (idx *Index) finalizeMetadata(wtxn kv.RwTx, sink progress.Sink) error {
	start := time.Now()

	if err := wtxn.ClearTable(idx.updatesTable); err != nil {
		return err
	}

	count, err := idx.countItems(wtxn)
	if err != nil {
		return err
	}
	if err := wtxn.Put(idx.metadataTable, []byte(metaItemCount), encodeUint64(count)); err != nil {
		return err
	}

	clearEvt := progress.Event{Phase: progress.PhaseClearUpdatedItems, Resolution: -1, Duration: time.Since(start)}
	sink.Report(clearEvt)
	sink.Report(progress.Event{Phase: progress.PhaseUpdateMetadata, Resolution: -1, Duration: time.Since(start), Done: count})
	return nil
}

// countItems counts the live entries in `items`, which after Phase B holds
// exactly the current document set.
func (idx *Index) countItems(rtxn kv.Tx) (uint64, error) {
	var count uint64
	err := rtxn.ForEach(idx.itemsTable, nil, func(_, _ []byte) (bool, error) {
		count++
		return true, nil
	})
	return count, err
}
