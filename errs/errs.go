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

// Package errs is cellulite's error taxonomy (spec §7): sentinel errors for
// conditions with no useful payload, and structured error types for the two
// kinds that must name an offending document id.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionMismatch is returned by CreateFromEnv when the stored
	// schema version in `metadata` differs from the engine's.
	ErrVersionMismatch = errors.New("cellulite: schema version mismatch")

	// ErrCancelled is returned by Build when the cancel probe reports true.
	ErrCancelled = errors.New("cellulite: build cancelled")

	// ErrInternalConsistency marks an invariant (spec §3, items 1-6)
	// detected broken mid-build. Fatal: the caller must discard the write
	// transaction.
	ErrInternalConsistency = errors.New("cellulite: internal consistency violated")
)

// UnsupportedGeometryError is raised during build when a staged document's
// geometry kind is not understood by the H3 adapter.
type UnsupportedGeometryError struct {
	DocID uint32
	Kind  string
}

func (e *UnsupportedGeometryError) Error() string {
	return fmt.Sprintf("cellulite: document %d has unsupported geometry kind %q", e.DocID, e.Kind)
}

// InvalidGeoJSONError is raised during build when a staged document's
// stored GeoJSON fails to decode, or when the H3 adapter rejects its
// geometry while covering it. Coordinate ranges and ring simplicity are not
// checked.
type InvalidGeoJSONError struct {
	DocID uint32
	Err   error
}

func (e *InvalidGeoJSONError) Error() string {
	return fmt.Sprintf("cellulite: document %d has invalid geojson: %v", e.DocID, e.Err)
}

func (e *InvalidGeoJSONError) Unwrap() error { return e.Err }

// Internal wraps an invariant violation with context, still matching
// ErrInternalConsistency via errors.Is.
func Internal(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInternalConsistency}, args...)...)
}
