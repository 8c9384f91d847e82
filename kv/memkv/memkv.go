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

// Package memkv is an in-memory stand-in for a real kv.Tx/kv.RwTx backend
// (MDBX, Bolt, ...), used by cellulite's own tests. It is not a production
// component: ordering is maintained with a plain sort on read since test
// fixtures never approach a size where that matters.
package memkv

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/meilisearch/cellulite/kv"
)

// DB is a trivial multi-table byte-keyed store guarded by a single mutex,
// mimicking the single-writer/many-readers discipline cellulite expects
// from its backend without implementing real MVCC: tests that need
// concurrent read/write snapshots should exercise a real backend instead.
type DB struct {
	mu     sync.Mutex
	tables map[string]map[string][]byte
}

func New(tables ...string) *DB {
	db := &DB{tables: make(map[string]map[string][]byte, len(tables))}
	for _, t := range tables {
		db.tables[t] = make(map[string][]byte)
	}
	return db
}

func (db *DB) BeginRo(ctx context.Context) kv.Tx {
	return &tx{db: db, ctx: ctx}
}

func (db *DB) BeginRw(ctx context.Context) kv.RwTx {
	return &tx{db: db, ctx: ctx, writable: true}
}

type tx struct {
	db       *DB
	ctx      context.Context
	writable bool
}

func (t *tx) Context() context.Context { return t.ctx }

func (t *tx) table(name string) map[string][]byte {
	tbl, ok := t.db.tables[name]
	if !ok {
		tbl = make(map[string][]byte)
		t.db.tables[name] = tbl
	}
	return tbl
}

func (t *tx) GetOne(table string, key []byte) ([]byte, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	v, ok := t.table(table)[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *tx) sortedKeys(table string) []string {
	tbl := t.table(table)
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *tx) ForEach(table string, fromKey []byte, walker func(k, v []byte) (bool, error)) error {
	t.db.mu.Lock()
	keys := t.sortedKeys(table)
	tbl := t.table(table)
	t.db.mu.Unlock()

	for _, k := range keys {
		if fromKey != nil && bytes.Compare([]byte(k), fromKey) < 0 {
			continue
		}
		cont, err := walker([]byte(k), tbl[k])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (t *tx) Put(table string, key, value []byte) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	t.table(table)[string(key)] = v
	return nil
}

func (t *tx) Delete(table string, key []byte) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	delete(t.table(table), string(key))
	return nil
}

func (t *tx) ClearTable(table string) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.tables[table] = make(map[string][]byte)
	return nil
}

func (t *tx) Cursor(table string) (kv.Cursor, error) {
	t.db.mu.Lock()
	keys := t.sortedKeys(table)
	t.db.mu.Unlock()
	return &cursor{t: t, table: table, keys: keys, pos: -1}, nil
}

func (t *tx) RwCursor(table string) (kv.RwCursor, error) {
	c, err := t.Cursor(table)
	if err != nil {
		return nil, err
	}
	return &cursor{t: t, table: table, keys: c.(*cursor).keys, pos: -1}, nil
}

type cursor struct {
	t     *tx
	table string
	keys  []string
	pos   int
}

func (c *cursor) First() ([]byte, []byte, error) {
	c.pos = 0
	return c.current()
}

func (c *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	idx := sort.Search(len(c.keys), func(i int) bool {
		return c.keys[i] >= string(seek)
	})
	c.pos = idx
	return c.current()
}

func (c *cursor) Next() ([]byte, []byte, error) {
	c.pos++
	return c.current()
}

func (c *cursor) current() ([]byte, []byte, error) {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil, nil, nil
	}
	k := c.keys[c.pos]
	c.t.db.mu.Lock()
	v := c.t.table(c.table)[k]
	c.t.db.mu.Unlock()
	return []byte(k), v, nil
}

func (c *cursor) Put(k, v []byte) error {
	err := c.t.Put(c.table, k, v)
	if err == nil {
		idx := sort.SearchStrings(c.keys, string(k))
		if idx == len(c.keys) || c.keys[idx] != string(k) {
			c.keys = append(c.keys, "")
			copy(c.keys[idx+1:], c.keys[idx:])
			c.keys[idx] = string(k)
		}
	}
	return err
}

func (c *cursor) Delete(k []byte) error {
	return c.t.Delete(c.table, k)
}

func (c *cursor) Close() {}
