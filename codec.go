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
	"encoding/binary"

	h3 "github.com/uber/h3-go/v4"
)

// tag discriminates a normal cell posting ("some shapes touch this cell but
// don't fully cover it") from a belly one ("this cell is entirely inside
// every document in its posting, forever"). Spec §3, §4.1.
type tag byte

const (
	tagNormal tag = 0
	tagBelly  tag = 1
)

// itemKey encodes a document id as an 8-byte big-endian integer even though
// ids are 32-bit: 8-byte-aligned keys let the backing store align values
// (bitmaps, cell-id arrays) for zero-copy decoding (spec §4.1).
func itemKey(id uint32) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func itemKeyID(k []byte) uint32 {
	return uint32(binary.BigEndian.Uint64(k))
}

// cellKey places the tag byte after the 64-bit cell identifier so a bounded
// range scan [cell‖0, cell‖1] returns both the normal and belly posting for
// one cell in a single seek (spec §4.1).
func cellKey(c h3.Cell, t tag) []byte {
	k := make([]byte, 9)
	binary.BigEndian.PutUint64(k[:8], uint64(c))
	k[8] = byte(t)
	return k
}

// cellKeyPrefix is the range-scan lower bound for both tags of cell c.
func cellKeyPrefix(c h3.Cell) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(c))
	return k
}

func decodeCellKey(k []byte) (h3.Cell, tag) {
	return h3.Cell(binary.BigEndian.Uint64(k[:8])), tag(k[8])
}

// Metadata labels.
const (
	metaVersion   = "version"
	metaThreshold = "threshold"
	metaItemCount = "itemCount"
)

// updates flags.
const (
	updateUpsert byte = 0
	updateDelete byte = 1
)

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
