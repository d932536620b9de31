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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBatchIntoNonExistingTableFails(t *testing.T) {
	e := NewMemoryEngine("kv")

	err := e.WriteBatch([]WriteOp{
		NewPut("kv", []byte("a"), []byte("1")),
		NewPut("no-such-table", []byte("b"), []byte("2")),
	}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTableNotFound))

	// The whole batch, including the valid op preceding the bad one,
	// must leave no trace.
	_, found, err := e.Get("kv", []byte("a"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriteBatchSucceeds(t *testing.T) {
	e := NewMemoryEngine("kv")

	err := e.WriteBatch([]WriteOp{
		NewPut("kv", []byte("a"), []byte("1")),
		NewPut("kv", []byte("b"), []byte("2")),
		NewPut("kv", []byte("c"), []byte("3")),
		NewDelete("kv", []byte("b")),
		NewDeleteRange("kv", []byte("c"), []byte("d")),
	}, true)
	require.NoError(t, err)

	v, found, err := e.Get("kv", []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)

	_, found, err = e.Get("kv", []byte("b"))
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = e.Get("kv", []byte("c"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetOperationSucceeds(t *testing.T) {
	e := NewMemoryEngine("kv", "lease")
	require.NoError(t, e.WriteBatch([]WriteOp{
		NewPut("kv", []byte("a"), []byte("1")),
		NewPut("kv", []byte("b"), []byte("2")),
	}, false))

	vs, err := e.GetMulti("kv", [][]byte{[]byte("a"), []byte("b"), []byte("missing")})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, []byte("1"), vs[0])
	assert.Equal(t, []byte("2"), vs[1])
	assert.Nil(t, vs[2])

	all, err := e.GetAll("kv")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []byte("a"), all[0].Key)
	assert.Equal(t, []byte("b"), all[1].Key)

	_, err = e.Get("no-such-table", []byte("a"))
	assert.True(t, errors.Is(err, ErrTableNotFound))
}

func TestSnapshotRoundTrips(t *testing.T) {
	e := NewMemoryEngine("kv", "lease")
	require.NoError(t, e.WriteBatch([]WriteOp{
		NewPut("kv", []byte("a"), []byte("1")),
		NewPut("kv", []byte("b"), []byte("2")),
		NewPut("lease", []byte("l1"), []byte("ttl=60")),
	}, true))

	snap, err := e.GetSnapshot()
	require.NoError(t, err)

	restored := NewMemoryEngine("kv", "lease")
	require.NoError(t, restored.ApplySnapshot(snap))

	want, err := e.GetAll("kv")
	require.NoError(t, err)
	got, err := restored.GetAll("kv")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	wantLease, err := e.GetAll("lease")
	require.NoError(t, err)
	gotLease, err := restored.GetAll("lease")
	require.NoError(t, err)
	assert.Equal(t, wantLease, gotLease)
}

func TestApplySnapshotLeavesPriorStateOnDecodeError(t *testing.T) {
	e := NewMemoryEngine("kv")
	require.NoError(t, e.WriteBatch([]WriteOp{
		NewPut("kv", []byte("a"), []byte("1")),
	}, false))

	bad := newMemorySnapshot()
	_, err := bad.Write([]byte("not a valid gob stream"))
	require.NoError(t, err)

	err = e.ApplySnapshot(bad)
	require.Error(t, err)

	v, found, err := e.Get("kv", []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)
}
