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

package mvcc

import (
	"bytes"
	"context"
	"sync"

	"xkv/internal/keyrange"
	"xkv/internal/storage"
)

// eventChanCapacity is the KV-store-to-watcher-subsystem channel
// capacity. One dispatch goroutine in the watcher subsystem drains it
// continuously, forwarding to per-watcher channels without blocking;
// under ordinary load it stays near empty.
const eventChanCapacity = 128

// kvTable is the storage-engine table the store's revision-keyed
// records live in; leaseTable is reserved for the lease manager.
const (
	kvTable    = "kv"
	leaseTable = "lease"
)

// MemoryStore is the KV Store (component D): it generalizes revision
// bookkeeping and the key index on top of a storage.Engine instead of
// owning its own embedded tree, so any Engine implementation (in-memory
// or disk-backed) can serve as its record of truth.
type MemoryStore struct {
	mu sync.RWMutex

	engine storage.Engine

	keyIndex    *KeyIndex
	revisionGen *RevisionGenerator

	compactedRev Revision
	closed       bool

	events chan EventBatch
}

// NewMemoryStore returns a KV Store writing through engine. engine must
// already have a "kv" table (and, if leases are in use, a "lease"
// table); typically storage.NewMemoryEngine("kv", "lease").
func NewMemoryStore(engine storage.Engine) *MemoryStore {
	return &MemoryStore{
		engine:      engine,
		keyIndex:    NewKeyIndex(),
		revisionGen: NewRevisionGenerator(Zero),
		events:      make(chan EventBatch, eventChanCapacity),
	}
}

func (s *MemoryStore) Events() <-chan EventBatch {
	return s.events
}

// publish sends a commit's events to watchers. Done under s.mu so
// event order on the channel matches commit order.
func (s *MemoryStore) publish(rev int64, events []Event) {
	if len(events) == 0 {
		return
	}
	s.events <- EventBatch{Revision: rev, Events: events}
}

func (s *MemoryStore) getRecord(rev Revision) (*KeyValue, error) {
	data, found, err := s.engine.Get(kvTable, rev.Bytes())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	return DefaultCodec.Decode(data)
}

func (s *MemoryStore) putRecord(ops []storage.WriteOp, rev Revision, kv *KeyValue) []storage.WriteOp {
	return append(ops, storage.NewPut(kvTable, rev.Bytes(), DefaultCodec.Encode(kv)))
}

// Put stores a key-value pair and returns the new revision.
func (s *MemoryStore) Put(key, value []byte, lease int64) (int64, error) {
	if len(key) == 0 {
		return 0, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	rev := s.revisionGen.Next()
	kv, err := s.buildPutRecord(key, value, lease, rev)
	if err != nil {
		return 0, err
	}

	ops := s.putRecord(nil, rev, kv)
	if err := s.engine.WriteBatch(ops, false); err != nil {
		return 0, err
	}
	s.keyIndex.RegisterRevision(key, rev)

	s.publish(rev.Main, []Event{{Type: EventTypePut, Kv: kv.Clone()}})
	return rev.Main, nil
}

func (s *MemoryStore) buildPutRecord(key, value []byte, lease int64, rev Revision) (*KeyValue, error) {
	var createRev int64
	var version int64 = 1

	if ki := s.keyIndex.Get(key); ki != nil && !ki.IsDeleted() {
		prevRev := ki.CurrentGeneration().LastRevision()
		if !prevRev.IsZero() {
			if prevKv, err := s.getRecord(prevRev); err == nil {
				createRev = prevKv.CreateRevision
				version = prevKv.Version + 1
			}
		}
	} else {
		createRev = rev.Main
	}

	return &KeyValue{
		Key:            append([]byte{}, key...),
		Value:          append([]byte{}, value...),
		CreateRevision: createRev,
		ModRevision:    rev.Main,
		Version:        version,
		Lease:          lease,
	}, nil
}

// Get retrieves the value for a key at a specific revision.
func (s *MemoryStore) Get(key []byte, rev int64) (*KeyValue, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	atRev := Revision{Main: rev}
	if rev == 0 {
		atRev = s.revisionGen.Current()
	}
	if atRev.LessThan(s.compactedRev) {
		return nil, ErrCompacted
	}
	if atRev.GreaterThan(s.revisionGen.Current()) {
		return nil, ErrFutureRevision
	}

	keyRev := s.keyIndex.GetRevision(key, atRev)
	if keyRev.IsZero() {
		return nil, ErrKeyNotFound
	}

	kv, err := s.getRecord(keyRev)
	if err != nil {
		return nil, err
	}
	if kv.Version == 0 {
		return nil, ErrKeyNotFound
	}
	return kv.Clone(), nil
}

// Range retrieves key-value pairs in the range [start, end).
func (s *MemoryStore) Range(start, end []byte, rev int64, limit int64) ([]*KeyValue, int64, error) {
	if len(start) == 0 {
		return nil, 0, ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, 0, ErrClosed
	}

	atRev := Revision{Main: rev}
	if rev == 0 {
		atRev = s.revisionGen.Current()
	}
	if atRev.LessThan(s.compactedRev) {
		return nil, 0, ErrCompacted
	}
	if atRev.GreaterThan(s.revisionGen.Current()) {
		return nil, 0, ErrFutureRevision
	}

	r := rangeFor(start, end)

	var result []*KeyValue
	var count int64
	s.keyIndex.Range(r, atRev, func(key []byte, keyRev Revision) bool {
		if limit > 0 && count >= limit {
			return false
		}
		kv, err := s.getRecord(keyRev)
		if err != nil || kv.Version == 0 {
			return true
		}
		result = append(result, kv.Clone())
		count++
		return true
	})
	return result, count, nil
}

// RangeFromRevision returns every write event recorded in [start, end)
// with mod_revision >= startRev, ordered by revision ascending.
func (s *MemoryStore) RangeFromRevision(start, end []byte, startRev int64) ([]Event, error) {
	if len(start) == 0 {
		return nil, ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	r := rangeFor(start, end)
	revs := s.keyIndex.GetFromRevision(r, Revision{Main: startRev})

	events := make([]Event, 0, len(revs))
	for _, kr := range revs {
		kv, err := s.getRecord(kr.Rev)
		if err != nil {
			continue
		}
		eventType := EventTypePut
		if kv.Version == 0 {
			eventType = EventTypeDelete
		}
		events = append(events, Event{Type: eventType, Kv: kv.Clone()})
	}
	return events, nil
}

// rangeFor adapts the etcd-style (start, end) pair, where a nil end
// means a single-key match, into a keyrange.Range.
func rangeFor(start, end []byte) keyrange.Range {
	if end == nil {
		return keyrange.NewOneKey(start)
	}
	return keyrange.Range{Start: start, End: end}
}

// Delete deletes a key and returns the revision and number of deleted keys.
func (s *MemoryStore) Delete(key []byte) (int64, int64, error) {
	if len(key) == 0 {
		return 0, 0, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, 0, ErrClosed
	}

	ki := s.keyIndex.Get(key)
	if ki == nil || ki.IsDeleted() {
		return s.revisionGen.Current().Main, 0, nil
	}

	rev := s.revisionGen.Next()
	tombstone, ops, err := s.buildTombstone(nil, key, ki, rev)
	if err != nil {
		return 0, 0, err
	}

	if err := s.engine.WriteBatch(ops, false); err != nil {
		return 0, 0, err
	}
	s.keyIndex.Tombstone(key, rev)

	s.publish(rev.Main, []Event{{Type: EventTypeDelete, Kv: tombstone.Clone()}})
	return rev.Main, 1, nil
}

func (s *MemoryStore) buildTombstone(ops []storage.WriteOp, key []byte, ki *KeyItem, rev Revision) (*KeyValue, []storage.WriteOp, error) {
	var createRev int64
	prevRev := ki.CurrentGeneration().LastRevision()
	if !prevRev.IsZero() {
		if prevKv, err := s.getRecord(prevRev); err == nil {
			createRev = prevKv.CreateRevision
		}
	}
	tombstone := &KeyValue{
		Key:            append([]byte{}, key...),
		CreateRevision: createRev,
		ModRevision:    rev.Main,
		Version:        0,
	}
	ops = s.putRecord(ops, rev, tombstone)
	return tombstone, ops, nil
}

// DeleteRange deletes all keys in the range [start, end).
func (s *MemoryStore) DeleteRange(start, end []byte) (int64, int64, error) {
	if len(start) == 0 {
		return 0, 0, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, 0, ErrClosed
	}

	r := rangeFor(start, end)

	var keysToDelete [][]byte
	s.keyIndex.Range(r, Zero, func(key []byte, keyRev Revision) bool {
		keysToDelete = append(keysToDelete, append([]byte{}, key...))
		return true
	})

	if len(keysToDelete) == 0 {
		return s.revisionGen.Current().Main, 0, nil
	}

	rev := s.revisionGen.Next()
	var ops []storage.WriteOp
	var tombstoneRevs []Revision
	var tombstones []*KeyValue
	var deleted int64

	for i, key := range keysToDelete {
		ki := s.keyIndex.Get(key)
		if ki == nil || ki.IsDeleted() {
			continue
		}
		deleteRev := Revision{Main: rev.Main, Sub: int64(i)}
		tombstone, newOps, err := s.buildTombstone(ops, key, ki, deleteRev)
		if err != nil {
			return 0, 0, err
		}
		ops = newOps
		tombstoneRevs = append(tombstoneRevs, deleteRev)
		tombstones = append(tombstones, tombstone)
		deleted++
	}

	if deleted == 0 {
		return rev.Main, 0, nil
	}

	if err := s.engine.WriteBatch(ops, false); err != nil {
		return 0, 0, err
	}
	for i, key := range keysToDelete {
		if i < len(tombstoneRevs) {
			s.keyIndex.Tombstone(key, tombstoneRevs[i])
		}
	}
	s.revisionGen.current.Sub = int64(len(tombstoneRevs) - 1)

	events := make([]Event, len(tombstones))
	for i, kv := range tombstones {
		events[i] = Event{Type: EventTypeDelete, Kv: kv.Clone()}
	}
	s.publish(rev.Main, events)

	return rev.Main, deleted, nil
}

// Txn executes a transaction.
func (s *MemoryStore) Txn(ctx context.Context) Txn {
	return &memoryTxn{store: s, ctx: ctx}
}

// CurrentRevision returns the current revision.
func (s *MemoryStore) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revisionGen.Current().Main
}

// CompactedRevision returns the revision that has been compacted.
func (s *MemoryStore) CompactedRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compactedRev.Main
}

// Compact compacts all revisions before the given revision.
func (s *MemoryStore) Compact(rev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	targetRev := Revision{Main: rev}
	if targetRev.LessThanOrEqual(s.compactedRev) {
		return ErrCompacted
	}
	if targetRev.GreaterThan(s.revisionGen.Current()) {
		return ErrFutureRevision
	}

	s.keyIndex.Compact(targetRev)

	all, err := s.engine.GetAll(kvTable)
	if err != nil {
		return err
	}
	var ops []storage.WriteOp
	for _, kv := range all {
		rev := ParseRevision(kv.Key)
		if rev.LessThan(targetRev) {
			ops = append(ops, storage.NewDelete(kvTable, kv.Key))
		}
	}
	if len(ops) > 0 {
		if err := s.engine.WriteBatch(ops, false); err != nil {
			return err
		}
	}

	s.compactedRev = targetRev
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true
	close(s.events)
	return nil
}

// memoryTxn implements Txn for MemoryStore.
type memoryTxn struct {
	store *MemoryStore
	ctx   context.Context

	conditions []Condition
	thenOps    []Op
	elseOps    []Op
}

func (t *memoryTxn) If(conds ...Condition) Txn {
	t.conditions = append(t.conditions, conds...)
	return t
}

func (t *memoryTxn) Then(ops ...Op) Txn {
	t.thenOps = append(t.thenOps, ops...)
	return t
}

func (t *memoryTxn) Else(ops ...Op) Txn {
	t.elseOps = append(t.elseOps, ops...)
	return t
}

// Commit evaluates the conditions and applies either the then- or
// else-branch atomically. A branch containing no write ops (pure
// Gets, or an empty branch) does not allocate a new main revision: it
// is evaluated against the current snapshot and reported at the
// store's current revision.
func (t *memoryTxn) Commit() (*TxnResponse, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	succeeded := true
	for _, cond := range t.conditions {
		if !t.evaluateCondition(cond) {
			succeeded = false
			break
		}
	}

	ops := t.thenOps
	if !succeeded {
		ops = t.elseOps
	}

	if !hasWrite(ops) {
		responses := make([]OpResponse, len(ops))
		for i, op := range ops {
			responses[i] = t.executeGet(op)
		}
		return &TxnResponse{
			Succeeded: succeeded,
			Revision:  s.revisionGen.Current().Main,
			Responses: responses,
		}, nil
	}

	rev := s.revisionGen.Next()
	responses := make([]OpResponse, len(ops))
	var writeOps []storage.WriteOp
	var events []Event

	for i, op := range ops {
		opRev := Revision{Main: rev.Main, Sub: int64(i)}
		resp, newOps, evs := t.stageOp(op, opRev, writeOps)
		writeOps = newOps
		events = append(events, evs...)
		responses[i] = resp
	}

	if len(writeOps) > 0 {
		if err := s.engine.WriteBatch(writeOps, false); err != nil {
			return nil, err
		}
	}
	if len(ops) > 0 {
		s.revisionGen.current.Sub = int64(len(ops) - 1)
	}

	s.publish(rev.Main, events)

	return &TxnResponse{
		Succeeded: succeeded,
		Revision:  rev.Main,
		Responses: responses,
	}, nil
}

func hasWrite(ops []Op) bool {
	for _, op := range ops {
		if op.Type == OpTypePut || op.Type == OpTypeDelete || op.Type == OpTypeDeleteRange {
			return true
		}
	}
	return false
}

func (t *memoryTxn) evaluateCondition(cond Condition) bool {
	ki := t.store.keyIndex.Get(cond.Key)

	var kv *KeyValue
	if ki != nil && !ki.IsDeleted() {
		lastRev := ki.CurrentGeneration().LastRevision()
		if !lastRev.IsZero() {
			kv, _ = t.store.getRecord(lastRev)
		}
	}

	var actual interface{}
	switch cond.Target {
	case ConditionTargetVersion:
		if kv != nil {
			actual = kv.Version
		} else {
			actual = int64(0)
		}
	case ConditionTargetCreateRevision:
		if kv != nil {
			actual = kv.CreateRevision
		} else {
			actual = int64(0)
		}
	case ConditionTargetModRevision:
		if kv != nil {
			actual = kv.ModRevision
		} else {
			actual = int64(0)
		}
	case ConditionTargetValue:
		if kv != nil {
			actual = kv.Value
		} else {
			actual = []byte(nil)
		}
	}

	return t.compare(actual, cond.Compare, cond.Value)
}

func (t *memoryTxn) compare(actual interface{}, cmp CompareType, expected interface{}) bool {
	switch a := actual.(type) {
	case int64:
		e := expected.(int64)
		switch cmp {
		case CompareEqual:
			return a == e
		case CompareNotEqual:
			return a != e
		case CompareLess:
			return a < e
		case CompareGreater:
			return a > e
		}
	case []byte:
		e, _ := expected.([]byte)
		result := bytes.Compare(a, e)
		switch cmp {
		case CompareEqual:
			return result == 0
		case CompareNotEqual:
			return result != 0
		case CompareLess:
			return result < 0
		case CompareGreater:
			return result > 0
		}
	}
	return false
}

// stageOp applies op's storage mutation into ops (returned, possibly
// extended) and returns its response plus any watch events produced.
// Pure Get ops stage nothing.
func (t *memoryTxn) stageOp(op Op, rev Revision, ops []storage.WriteOp) (OpResponse, []storage.WriteOp, []Event) {
	s := t.store
	switch op.Type {
	case OpTypePut:
		kv, err := s.buildPutRecord(op.Key, op.Value, op.Lease, rev)
		if err != nil {
			return OpResponse{Type: OpTypePut}, ops, nil
		}
		ops = s.putRecord(ops, rev, kv)
		s.keyIndex.RegisterRevision(op.Key, rev)
		return OpResponse{Type: OpTypePut}, ops, []Event{{Type: EventTypePut, Kv: kv.Clone()}}

	case OpTypeGet:
		return t.executeGet(op), ops, nil

	case OpTypeDelete:
		ki := s.keyIndex.Get(op.Key)
		if ki == nil || ki.IsDeleted() {
			return OpResponse{Type: OpTypeDelete}, ops, nil
		}
		tombstone, newOps, err := s.buildTombstone(ops, op.Key, ki, rev)
		if err != nil {
			return OpResponse{Type: OpTypeDelete}, ops, nil
		}
		ops = newOps
		s.keyIndex.Tombstone(op.Key, rev)
		return OpResponse{Type: OpTypeDelete, Deleted: 1}, ops, []Event{{Type: EventTypeDelete, Kv: tombstone.Clone()}}

	case OpTypeDeleteRange:
		r := rangeFor(op.Key, op.End)
		var keysToDelete [][]byte
		s.keyIndex.Range(r, Zero, func(key []byte, keyRev Revision) bool {
			keysToDelete = append(keysToDelete, append([]byte{}, key...))
			return true
		})

		resp := OpResponse{Type: OpTypeDeleteRange}
		var events []Event
		for i, key := range keysToDelete {
			ki := s.keyIndex.Get(key)
			if ki == nil || ki.IsDeleted() {
				continue
			}
			deleteRev := Revision{Main: rev.Main, Sub: rev.Sub + int64(i)}
			tombstone, newOps, err := s.buildTombstone(ops, key, ki, deleteRev)
			if err != nil {
				continue
			}
			ops = newOps
			s.keyIndex.Tombstone(key, deleteRev)
			events = append(events, Event{Type: EventTypeDelete, Kv: tombstone.Clone()})
			resp.Deleted++
		}
		return resp, ops, events
	}
	return OpResponse{Type: op.Type}, ops, nil
}

func (t *memoryTxn) executeGet(op Op) OpResponse {
	resp := OpResponse{Type: OpTypeGet}
	s := t.store

	if op.End == nil {
		ki := s.keyIndex.Get(op.Key)
		if ki != nil && !ki.IsDeleted() {
			lastRev := ki.CurrentGeneration().LastRevision()
			if !lastRev.IsZero() {
				if kv, err := s.getRecord(lastRev); err == nil {
					resp.Kvs = []*KeyValue{kv.Clone()}
				}
			}
		}
		return resp
	}

	r := rangeFor(op.Key, op.End)
	s.keyIndex.Range(r, Zero, func(key []byte, keyRev Revision) bool {
		if kv, err := s.getRecord(keyRev); err == nil && kv.Version > 0 {
			resp.Kvs = append(resp.Kvs, kv.Clone())
		}
		return true
	})
	return resp
}
