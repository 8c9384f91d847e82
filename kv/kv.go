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

// Package kv declares the storage interfaces cellulite is built on: an
// ordered, byte-keyed store with snapshot read transactions and a single
// write transaction at a time. The concrete backend (MDBX, Bolt, a memory
// map for tests) is an external collaborator; this package only names the
// shape cellulite needs from it.
package kv

import "context"

// Tx is a read-only snapshot transaction.
type Tx interface {
	// GetOne returns the value for key in table, or nil if absent.
	GetOne(table string, key []byte) ([]byte, error)

	// Cursor opens a forward cursor over table.
	Cursor(table string) (Cursor, error)

	// ForEach iterates over every key in table in key order, starting at
	// fromKey (or the first key when fromKey is nil). Iteration stops when
	// walker returns false or an error.
	ForEach(table string, fromKey []byte, walker func(k, v []byte) (bool, error)) error

	// Context returns the context the transaction was opened with, if any.
	Context() context.Context
}

// RwTx is a single-writer transaction. cellulite never opens or commits
// transactions itself; callers provide one per call and decide whether to
// commit or discard it.
type RwTx interface {
	Tx

	Put(table string, key, value []byte) error
	Delete(table string, key []byte) error

	// ClearTable removes every entry of table in one operation. Used by
	// build's Phase E to drop `updates` in bulk rather than one delete per
	// key (see DESIGN.md / spec §9, "bulk clear over per-key delete").
	ClearTable(table string) error

	RwCursor(table string) (RwCursor, error)
}

// Cursor walks a table's keys in ascending byte order.
type Cursor interface {
	// Seek positions the cursor at the first key >= seek and returns it.
	// A nil key with nil error means the table has no such entry.
	Seek(seek []byte) (k, v []byte, err error)

	// First positions the cursor at the first entry of the table.
	First() (k, v []byte, err error)

	// Next advances the cursor and returns the entry it lands on.
	Next() (k, v []byte, err error)

	Close()
}

// RwCursor is a Cursor that can also mutate in place at its current
// position.
type RwCursor interface {
	Cursor

	Put(k, v []byte) error
	Delete(k []byte) error
}
