// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build cgo

package storage

import (
	"fmt"
	"sync"

	"github.com/linxGnu/grocksdb"
)

// RocksEngine is a disk-backed Engine: one RocksDB column family per
// table, so the table boundary the spec relies on (a batch touching an
// unknown table fails atomically, GetAll scans only its own table) is
// enforced by RocksDB's own column-family isolation rather than by a
// shared key prefix.
type RocksEngine struct {
	mu sync.RWMutex

	db  *grocksdb.DB
	cfs map[string]*grocksdb.ColumnFamilyHandle
	wo  *grocksdb.WriteOptions
	ro  *grocksdb.ReadOptions
}

// OpenRocksEngine opens (or creates) a RocksDB database at dir with one
// column family per table.
func OpenRocksEngine(dir string, tables ...string) (*RocksEngine, error) {
	opts := grocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetCreateIfMissingColumnFamilies(true)

	names := append([]string{"default"}, tables...)
	cfOpts := make([]*grocksdb.Options, len(names))
	for i := range names {
		cfOpts[i] = grocksdb.NewDefaultOptions()
	}

	db, handles, err := grocksdb.OpenDbColumnFamilies(opts, dir, names, cfOpts)
	if err != nil {
		return nil, err
	}

	cfs := make(map[string]*grocksdb.ColumnFamilyHandle, len(tables))
	for i, t := range tables {
		// handles[0] is "default"; table handles start at index 1.
		cfs[t] = handles[i+1]
	}

	wo := grocksdb.NewDefaultWriteOptions()
	ro := grocksdb.NewDefaultReadOptions()

	return &RocksEngine{db: db, cfs: cfs, wo: wo, ro: ro}, nil
}

func (e *RocksEngine) cf(table string) (*grocksdb.ColumnFamilyHandle, error) {
	h, ok := e.cfs[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return h, nil
}

func (e *RocksEngine) Get(table string, key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h, err := e.cf(table)
	if err != nil {
		return nil, false, err
	}
	slice, err := e.db.GetCF(e.ro, h, key)
	if err != nil {
		return nil, false, err
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, false, nil
	}
	v := make([]byte, slice.Size())
	copy(v, slice.Data())
	return v, true, nil
}

func (e *RocksEngine) GetMulti(table string, keys [][]byte) ([][]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h, err := e.cf(table)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		slice, err := e.db.GetCF(e.ro, h, k)
		if err != nil {
			return nil, err
		}
		if slice.Exists() {
			v := make([]byte, slice.Size())
			copy(v, slice.Data())
			out[i] = v
		}
		slice.Free()
	}
	return out, nil
}

func (e *RocksEngine) GetAll(table string) ([]KV, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h, err := e.cf(table)
	if err != nil {
		return nil, err
	}

	it := e.db.NewIteratorCF(e.ro, h)
	defer it.Close()

	var out []KV
	for it.SeekToFirst(); it.Valid(); it.Next() {
		k := it.Key()
		v := it.Value()
		kCopy := make([]byte, k.Size())
		copy(kCopy, k.Data())
		vCopy := make([]byte, v.Size())
		copy(vCopy, v.Data())
		out = append(out, KV{Key: kCopy, Value: vCopy})
		k.Free()
		v.Free()
	}
	return out, it.Err()
}

func (e *RocksEngine) WriteBatch(ops []WriteOp, sync bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	handles := make([]*grocksdb.ColumnFamilyHandle, len(ops))
	for i, op := range ops {
		h, err := e.cf(op.Table)
		if err != nil {
			return err
		}
		handles[i] = h
	}

	batch := grocksdb.NewWriteBatch()
	defer batch.Destroy()

	for i, op := range ops {
		h := handles[i]
		switch op.Kind {
		case OpPut:
			batch.PutCF(h, op.Key, op.Value)
		case OpDelete:
			batch.DeleteCF(h, op.Key)
		case OpDeleteRange:
			batch.DeleteRangeCF(h, op.From, op.To)
		}
	}

	wo := e.wo
	if sync {
		wo = grocksdb.NewDefaultWriteOptions()
		wo.SetSync(true)
		defer wo.Destroy()
	}
	return e.db.Write(wo, batch)
}

// GetSnapshot mirrors the in-memory snapshot's shape so the two
// engines are interchangeable: a full-table scan into one map,
// gob-encoded.
func (e *RocksEngine) GetSnapshot() (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tables := make(map[string]map[string][]byte, len(e.cfs))
	for table := range e.cfs {
		all, err := e.getAllLocked(table)
		if err != nil {
			return nil, err
		}
		m := make(map[string][]byte, len(all))
		for _, kv := range all {
			m[string(kv.Key)] = kv.Value
		}
		tables[table] = m
	}

	snap := newMemorySnapshot()
	if err := snap.encode(tables); err != nil {
		return nil, err
	}
	return snap, nil
}

func (e *RocksEngine) getAllLocked(table string) ([]KV, error) {
	h, err := e.cf(table)
	if err != nil {
		return nil, err
	}
	it := e.db.NewIteratorCF(e.ro, h)
	defer it.Close()

	var out []KV
	for it.SeekToFirst(); it.Valid(); it.Next() {
		k := it.Key()
		v := it.Value()
		kCopy := make([]byte, k.Size())
		copy(kCopy, k.Data())
		vCopy := make([]byte, v.Size())
		copy(vCopy, v.Data())
		out = append(out, KV{Key: kCopy, Value: vCopy})
		k.Free()
		v.Free()
	}
	return out, it.Err()
}

func (e *RocksEngine) ApplySnapshot(snap Snapshot) error {
	ms, ok := snap.(*memorySnapshot)
	if !ok {
		return fmt.Errorf("storage: snapshot type %T not compatible with RocksEngine", snap)
	}
	tables, err := ms.decode()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	batch := grocksdb.NewWriteBatch()
	defer batch.Destroy()
	for table, m := range tables {
		h, err := e.cf(table)
		if err != nil {
			return err
		}

		it := e.db.NewIteratorCF(e.ro, h)
		var toDelete [][]byte
		for it.SeekToFirst(); it.Valid(); it.Next() {
			k := it.Key()
			kc := make([]byte, k.Size())
			copy(kc, k.Data())
			toDelete = append(toDelete, kc)
			k.Free()
		}
		it.Close()
		if err := it.Err(); err != nil {
			return err
		}

		for _, k := range toDelete {
			batch.DeleteCF(h, k)
		}
		for k, v := range m {
			batch.PutCF(h, []byte(k), v)
		}
	}
	return e.db.Write(e.wo, batch)
}

func (e *RocksEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, h := range e.cfs {
		h.Destroy()
	}
	e.wo.Destroy()
	e.ro.Destroy()
	e.db.Close()
	return nil
}
