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

// Package cellulite is an embedded geospatial index: it partitions GeoJSON
// geometries over an H3 hexagonal grid and answers "which documents
// intersect or are contained by this query polygon".
//
// cellulite never opens or commits a transaction itself; every call takes
// one the caller already holds (spec §3, "Ownership").
package cellulite

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/meilisearch/cellulite/errs"
	"github.com/meilisearch/cellulite/kv"
)

// schemaVersion is this engine's expectation for the `version` entry of the
// metadata store. Bump whenever the on-disk layout changes.
const schemaVersion byte = 1

// DefaultThreshold is the split threshold T (spec §4.4): a normal cell
// posting larger than this is "full" and gets partitioned into children.
const DefaultThreshold = 200

// Env is the subset of a kv environment handle CreateFromEnv needs: the
// ability to declare named stores exist. The concrete environment (an MDBX
// or Bolt handle) is an external collaborator; cellulite only needs this.
type Env interface {
	CreateTable(wtxn kv.RwTx, name string) error
}

// Options configures engine construction. Every field has a documented
// default and none are re-read from process globals (this is a library,
// not a service).
type Options struct {
	// Threshold is T, the per-cell split threshold. Default DefaultThreshold.
	Threshold int
	// MaxResolution bounds recursion depth. Default h3adapter.MaxResolution (15).
	MaxResolution int
	// Logger receives build/query diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxResolution <= 0 {
		o.MaxResolution = 15
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Index is the handle returned by CreateFromEnv: four named stores plus
// the construction options. It holds no transaction state of its own.
type Index struct {
	name string
	opts Options

	itemsTable    string
	updatesTable  string
	cellsTable    string
	metadataTable string
}

// NbDBs reports the constant number of stores the engine needs the
// environment to size for (spec §6: `nb_dbs()`).
func NbDBs() int { return 4 }

// CreateFromEnv binds an Index to four stores under name ("<name>-items",
// "<name>-updates", "<name>-cells", "<name>-metadata"), creating them in
// wtxn if absent, and writes the schema version / threshold to metadata on
// first creation. Opening an existing index whose stored version differs
// from schemaVersion fails with errs.ErrVersionMismatch.
func CreateFromEnv(env Env, wtxn kv.RwTx, name string, opts Options) (*Index, error) {
	opts = opts.withDefaults()

	idx := &Index{
		name:          name,
		opts:          opts,
		itemsTable:    name + "-items",
		updatesTable:  name + "-updates",
		cellsTable:    name + "-cells",
		metadataTable: name + "-metadata",
	}

	for _, table := range []string{idx.itemsTable, idx.updatesTable, idx.cellsTable, idx.metadataTable} {
		if err := env.CreateTable(wtxn, table); err != nil {
			return nil, fmt.Errorf("cellulite: create table %s: %w", table, err)
		}
	}

	stored, err := wtxn.GetOne(idx.metadataTable, []byte(metaVersion))
	if err != nil {
		return nil, fmt.Errorf("cellulite: read schema version: %w", err)
	}
	if stored == nil {
		if err := idx.initMetadata(wtxn); err != nil {
			return nil, err
		}
		return idx, nil
	}
	if len(stored) != 1 || stored[0] != schemaVersion {
		return nil, fmt.Errorf("%w: stored=%v want=%d", errs.ErrVersionMismatch, stored, schemaVersion)
	}
	return idx, nil
}

func (idx *Index) initMetadata(wtxn kv.RwTx) error {
	if err := wtxn.Put(idx.metadataTable, []byte(metaVersion), []byte{schemaVersion}); err != nil {
		return err
	}
	if err := wtxn.Put(idx.metadataTable, []byte(metaThreshold), encodeUint64(uint64(idx.opts.Threshold))); err != nil {
		return err
	}
	return wtxn.Put(idx.metadataTable, []byte(metaItemCount), encodeUint64(0))
}

// Stats reports the counters maintained in the metadata store (spec §3,
// §4.2): schema version, configured split threshold, and the number of
// documents present in `items` as of the last successful build.
type Stats struct {
	SchemaVersion byte
	Threshold     int
	ItemCount     uint64
}

func (idx *Index) Stats(rtxn kv.Tx) (Stats, error) {
	version, err := rtxn.GetOne(idx.metadataTable, []byte(metaVersion))
	if err != nil {
		return Stats{}, err
	}
	threshold, err := rtxn.GetOne(idx.metadataTable, []byte(metaThreshold))
	if err != nil {
		return Stats{}, err
	}
	count, err := rtxn.GetOne(idx.metadataTable, []byte(metaItemCount))
	if err != nil {
		return Stats{}, err
	}
	s := Stats{}
	if len(version) == 1 {
		s.SchemaVersion = version[0]
	}
	if len(threshold) == 8 {
		s.Threshold = int(decodeUint64(threshold))
	}
	if len(count) == 8 {
		s.ItemCount = decodeUint64(count)
	}
	return s, nil
}
