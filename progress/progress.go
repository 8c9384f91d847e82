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

// Package progress defines the structured progress events build emits at
// phase boundaries (spec §4.7). Rendering them — a progress bar, a log
// line, a gRPC stream — is the caller's concern; this package only shapes
// the event.
package progress

import "time"

// Phase names build reports, in the order spec §4.7 lists them. A
// per-resolution "insert items recursively" phase is emitted once per
// resolution level actually visited during Phase D.
const (
	PhaseRetrieveUpdatedItems   = "retrieve updated items"
	PhaseClearUpdatedItems      = "clear updated items"
	PhaseRemoveDeletedItems     = "remove deleted items from database"
	PhaseInsertItemsLevelZero   = "insert items at level zero"
	PhaseInsertItemsRecursively = "insert items recursively"
	PhaseUpdateMetadata         = "update the metadata"
)

// Event is one phase boundary: a name, how long the phase took, and for
// the recursive phase, which resolution it covered.
type Event struct {
	Phase      string
	Resolution int // -1 when not applicable
	Duration   time.Duration
	Done       uint64 // units the phase processed: documents, or cells for the per-resolution phase
	Total      uint64 // 0 when unknown
}

// Sink receives progress events. Build calls Report synchronously at each
// phase boundary; implementations must not block indefinitely.
type Sink interface {
	Report(Event)
}

// Nop discards every event; the default when a caller passes no sink.
type Nop struct{}

func (Nop) Report(Event) {}

// Func adapts a plain function to a Sink.
type Func func(Event)

func (f Func) Report(e Event) { f(e) }
