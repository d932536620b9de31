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

// Package storage is the byte-keyed, table-scoped storage engine: the
// lowest layer of the KV data plane. Tables are a closed set fixed at
// construction; callers above this package (the revision index, the KV
// store) are responsible for the user-key/revision encoding that lives
// inside a table's byte space.
package storage

import (
	"errors"
	"io"
)

// ErrTableNotFound is returned by any operation addressing an unknown table.
var ErrTableNotFound = errors.New("storage: table not found")

// OpKind identifies the kind of a WriteOp.
type OpKind int

const (
	// OpPut sets Table[Key] = Value.
	OpPut OpKind = iota
	// OpDelete removes Table[Key].
	OpDelete
	// OpDeleteRange removes every key k with From <= k < To.
	OpDeleteRange
)

// WriteOp is one operation within a WriteBatch. Exactly the fields
// relevant to Kind are populated.
type WriteOp struct {
	Kind  OpKind
	Table string
	Key   []byte
	Value []byte
	From  []byte
	To    []byte
}

// NewPut builds a Put operation.
func NewPut(table string, key, value []byte) WriteOp {
	return WriteOp{Kind: OpPut, Table: table, Key: key, Value: value}
}

// NewDelete builds a Delete operation.
func NewDelete(table string, key []byte) WriteOp {
	return WriteOp{Kind: OpDelete, Table: table, Key: key}
}

// NewDeleteRange builds a DeleteRange operation over [from, to).
func NewDeleteRange(table string, from, to []byte) WriteOp {
	return WriteOp{Kind: OpDeleteRange, Table: table, From: from, To: to}
}

// Snapshot is a complete, independently readable encoding of every
// table in an Engine, opaque to callers beyond this byte-stream
// contract. It round-trips through Engine.ApplySnapshot on a fresh
// engine with the same table set.
type Snapshot interface {
	// Size returns the total number of bytes available to read.
	Size() int64
	// Reader exposes the snapshot payload for streaming (e.g. over gRPC).
	io.Reader
	io.Writer
	// Rewind resets the read position to the start of the payload.
	Rewind() error
	// Clean truncates the snapshot to empty, for reuse as a write target.
	Clean() error
}

// Engine is the storage-engine capability: a table-scoped byte-keyed
// store with atomic batched writes and snapshot capture/restore. Variants
// (in-memory, disk-backed) share this one interface; the Snapshot type
// they produce varies with the backend.
type Engine interface {
	// Get returns the current bound value for key in table, or
	// (nil, false) if absent. Returns ErrTableNotFound if table is unknown.
	Get(table string, key []byte) (value []byte, found bool, err error)

	// GetMulti is the element-wise Get over keys, preserving input order.
	GetMulti(table string, keys [][]byte) ([][]byte, error)

	// GetAll returns every binding in table, sorted ascending by key.
	// The view is a stable snapshot and need not reflect concurrent writes.
	GetAll(table string) ([]KV, error)

	// WriteBatch atomically applies ops, all-or-nothing. sync requests
	// durability and is ignored by engines with no durable medium.
	WriteBatch(ops []WriteOp, sync bool) error

	// GetSnapshot captures a point-in-time, independently readable
	// encoding of every table.
	GetSnapshot() (Snapshot, error)

	// ApplySnapshot replaces the engine's entire state with snap's
	// decoded contents. Always atomic: on error the prior state survives
	// untouched.
	ApplySnapshot(snap Snapshot) error

	// Close releases any engine resources.
	Close() error
}

// KV is one table binding returned by GetAll.
type KV struct {
	Key   []byte
	Value []byte
}
