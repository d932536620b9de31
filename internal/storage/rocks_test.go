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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRocksEngineWriteBatchAndGet(t *testing.T) {
	dir := t.TempDir()
	e, err := OpenRocksEngine(dir, "kv", "lease")
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.WriteBatch([]WriteOp{
		NewPut("kv", []byte("a"), []byte("1")),
		NewPut("kv", []byte("b"), []byte("2")),
	}, true))

	v, found, err := e.Get("kv", []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)

	_, err = e.Get("no-such-table", []byte("a"))
	assert.True(t, errors.Is(err, ErrTableNotFound))
}

func TestRocksEngineSnapshotRoundTrips(t *testing.T) {
	dir := t.TempDir()
	e, err := OpenRocksEngine(dir, "kv")
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.WriteBatch([]WriteOp{
		NewPut("kv", []byte("a"), []byte("1")),
		NewPut("kv", []byte("b"), []byte("2")),
	}, true))

	snap, err := e.GetSnapshot()
	require.NoError(t, err)

	dir2 := t.TempDir()
	restored, err := OpenRocksEngine(dir2, "kv")
	require.NoError(t, err)
	defer restored.Close()

	require.NoError(t, restored.ApplySnapshot(snap))

	want, err := e.GetAll("kv")
	require.NoError(t, err)
	got, err := restored.GetAll("kv")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
