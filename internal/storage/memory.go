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

package storage

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// MemoryEngine is an in-memory Engine backed by one map per table.
// Every table named at construction exists for the engine's lifetime;
// no table is created or removed afterward.
type MemoryEngine struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
}

// NewMemoryEngine returns an engine with exactly the given tables,
// each initially empty.
func NewMemoryEngine(tables ...string) *MemoryEngine {
	m := make(map[string]map[string][]byte, len(tables))
	for _, t := range tables {
		m[t] = make(map[string][]byte)
	}
	return &MemoryEngine{tables: m}
}

func (e *MemoryEngine) Get(table string, key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tables[table]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	v, ok := t[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (e *MemoryEngine) GetMulti(table string, keys [][]byte) ([][]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, ok := t[string(k)]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[i] = cp
		}
	}
	return out, nil
}

func (e *MemoryEngine) GetAll(table string) ([]KV, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	out := make([]KV, 0, len(t))
	for k, v := range t {
		vc := make([]byte, len(v))
		copy(vc, v)
		out = append(out, KV{Key: []byte(k), Value: vc})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key, out[j].Key) < 0
	})
	return out, nil
}

// WriteBatch applies ops atomically: every referenced table is checked
// to exist before any op is applied, so a batch naming an unknown
// table leaves the engine entirely unchanged. sync is accepted for
// interface parity and ignored; an in-memory table has no durable
// medium to flush.
func (e *MemoryEngine) WriteBatch(ops []WriteOp, sync bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, op := range ops {
		if _, ok := e.tables[op.Table]; !ok {
			return fmt.Errorf("%w: %s", ErrTableNotFound, op.Table)
		}
	}

	for _, op := range ops {
		t := e.tables[op.Table]
		switch op.Kind {
		case OpPut:
			v := make([]byte, len(op.Value))
			copy(v, op.Value)
			t[string(op.Key)] = v
		case OpDelete:
			delete(t, string(op.Key))
		case OpDeleteRange:
			for k := range t {
				kb := []byte(k)
				if bytes.Compare(kb, op.From) >= 0 && bytes.Compare(kb, op.To) < 0 {
					delete(t, k)
				}
			}
		}
	}
	return nil
}

func (e *MemoryEngine) GetSnapshot() (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := newMemorySnapshot()
	if err := snap.encode(e.tables); err != nil {
		return nil, err
	}
	return snap, nil
}

func (e *MemoryEngine) ApplySnapshot(snap Snapshot) error {
	ms, ok := snap.(*memorySnapshot)
	if !ok {
		return fmt.Errorf("storage: snapshot type %T not compatible with MemoryEngine", snap)
	}

	tables, err := ms.decode()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables = tables
	return nil
}

func (e *MemoryEngine) Close() error {
	return nil
}
