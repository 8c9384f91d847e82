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
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meilisearch/cellulite/kv"
	"github.com/meilisearch/cellulite/kv/memkv"
)

// memEnv satisfies the Env interface on top of memkv, whose tables spring
// into existence on first access; CreateTable is therefore a no-op that
// only needs to exist to satisfy the interface.
type memEnv struct{ db *memkv.DB }

func (memEnv) CreateTable(kv.RwTx, string) error { return nil }

func newTestIndex(t *testing.T, opts Options) (*Index, *memkv.DB) {
	t.Helper()
	db := memkv.New()
	wtxn := db.BeginRw(context.Background())
	idx, err := CreateFromEnv(memEnv{db}, wtxn, "parcels", opts)
	require.NoError(t, err)
	return idx, db
}
