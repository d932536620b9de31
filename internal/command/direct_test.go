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

package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"xkv/internal/mvcc"
	"xkv/internal/storage"
)

func newTestApplier(t *testing.T) (*mvcc.MemoryStore, *DirectApplier) {
	t.Helper()
	store := mvcc.NewMemoryStore(storage.NewMemoryEngine("kv", "lease"))
	t.Cleanup(func() { store.Close() })
	return store, NewDirectApplier(store)
}

func TestDirectApplierPut(t *testing.T) {
	_, applier := newTestApplier(t)

	result, err := applier.Propose(context.Background(), New(KindPut, PutRequest{
		Key:   []byte("foo"),
		Value: []byte("bar"),
	}))
	require.NoError(t, err)
	resp := result.Response.(PutResponse)
	require.Equal(t, int64(1), resp.Revision)
	require.Nil(t, resp.PrevKv)
}

func TestDirectApplierPutPrevKv(t *testing.T) {
	_, applier := newTestApplier(t)

	_, err := applier.Propose(context.Background(), New(KindPut, PutRequest{Key: []byte("foo"), Value: []byte("v1")}))
	require.NoError(t, err)

	result, err := applier.Propose(context.Background(), New(KindPut, PutRequest{
		Key: []byte("foo"), Value: []byte("v2"), PrevKv: true,
	}))
	require.NoError(t, err)
	resp := result.Response.(PutResponse)
	require.NotNil(t, resp.PrevKv)
	require.Equal(t, "v1", string(resp.PrevKv.Value))
}

func TestDirectApplierPutIgnoreValueRequiresExisting(t *testing.T) {
	_, applier := newTestApplier(t)

	_, err := applier.Propose(context.Background(), New(KindPut, PutRequest{
		Key: []byte("foo"), IgnoreValue: true,
	}))
	require.ErrorIs(t, err, mvcc.ErrInvalidRequest)
}

func TestDirectApplierRange(t *testing.T) {
	store, applier := newTestApplier(t)

	_, err := store.Put([]byte("a"), []byte("1"), 0)
	require.NoError(t, err)
	_, err = store.Put([]byte("b"), []byte("2"), 0)
	require.NoError(t, err)

	result, err := applier.Propose(context.Background(), New(KindRange, RangeRequest{
		Key: []byte("a"), RangeEnd: []byte("z"),
	}))
	require.NoError(t, err)
	resp := result.Response.(RangeResponse)
	require.Len(t, resp.Kvs, 2)
	require.Equal(t, int64(2), resp.Count)
}

func TestDirectApplierRangeKeysOnly(t *testing.T) {
	store, applier := newTestApplier(t)
	_, err := store.Put([]byte("a"), []byte("1"), 0)
	require.NoError(t, err)

	result, err := applier.Propose(context.Background(), New(KindRange, RangeRequest{
		Key: []byte("a"), KeysOnly: true,
	}))
	require.NoError(t, err)
	resp := result.Response.(RangeResponse)
	require.Len(t, resp.Kvs, 1)
	require.Nil(t, resp.Kvs[0].Value)
}

func TestDirectApplierRangeSortByVersionAscend(t *testing.T) {
	store, applier := newTestApplier(t)

	for _, key := range []string{"a", "b", "foo", "foo/abc", "fop", "c"} {
		_, err := store.Put([]byte(key), []byte("v"), 0)
		require.NoError(t, err)
	}
	// Bump c to version 2 so it sorts last among otherwise-tied version-1 keys.
	_, err := store.Put([]byte("c"), []byte("v2"), 0)
	require.NoError(t, err)

	result, err := applier.Propose(context.Background(), New(KindRange, RangeRequest{
		Key: []byte("a"), RangeEnd: []byte{0},
		SortTarget: SortByVersion, SortOrder: SortAscend,
	}))
	require.NoError(t, err)
	resp := result.Response.(RangeResponse)

	got := make([]string, len(resp.Kvs))
	for i, kv := range resp.Kvs {
		got[i] = string(kv.Key)
	}
	require.Equal(t, []string{"a", "b", "foo", "foo/abc", "fop", "c"}, got)
}

func TestDirectApplierRangeFiltersByModRevisionBounds(t *testing.T) {
	store, applier := newTestApplier(t)

	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Put([]byte(key), []byte("v"), 0)
		require.NoError(t, err)
	}

	result, err := applier.Propose(context.Background(), New(KindRange, RangeRequest{
		Key: []byte("a"), RangeEnd: []byte{0},
		MinModRevision: 2, MaxModRevision: 2,
	}))
	require.NoError(t, err)
	resp := result.Response.(RangeResponse)
	require.Len(t, resp.Kvs, 1)
	require.Equal(t, "b", string(resp.Kvs[0].Key))
	require.Equal(t, int64(1), resp.Count)
}

func TestDirectApplierDeleteRange(t *testing.T) {
	store, applier := newTestApplier(t)
	_, err := store.Put([]byte("a"), []byte("1"), 0)
	require.NoError(t, err)

	result, err := applier.Propose(context.Background(), New(KindDeleteRange, DeleteRangeRequest{
		Key: []byte("a"),
	}))
	require.NoError(t, err)
	resp := result.Response.(DeleteRangeResponse)
	require.Equal(t, int64(1), resp.Deleted)
}

func TestDirectApplierTxnSuccessBranch(t *testing.T) {
	store, applier := newTestApplier(t)
	_, err := store.Put([]byte("a"), []byte("1"), 0)
	require.NoError(t, err)

	result, err := applier.Propose(context.Background(), New(KindTxn, TxnRequest{
		Compare: []CompareEntry{{Condition: mvcc.Condition{
			Key:     []byte("a"),
			Target:  mvcc.ConditionTargetValue,
			Compare: mvcc.CompareEqual,
			Value:   []byte("1"),
		}}},
		Success: []mvcc.Op{{Type: mvcc.OpTypePut, Key: []byte("a"), Value: []byte("2")}},
		Failure: []mvcc.Op{{Type: mvcc.OpTypePut, Key: []byte("a"), Value: []byte("failed")}},
	}))
	require.NoError(t, err)
	resp := result.Response.(*mvcc.TxnResponse)
	require.True(t, resp.Succeeded)

	kv, err := store.Get([]byte("a"), 0)
	require.NoError(t, err)
	require.Equal(t, "2", string(kv.Value))
}

func TestDirectApplierTxnFailureBranch(t *testing.T) {
	store, applier := newTestApplier(t)
	_, err := store.Put([]byte("a"), []byte("1"), 0)
	require.NoError(t, err)

	result, err := applier.Propose(context.Background(), New(KindTxn, TxnRequest{
		Compare: []CompareEntry{{Condition: mvcc.Condition{
			Key:     []byte("a"),
			Target:  mvcc.ConditionTargetValue,
			Compare: mvcc.CompareEqual,
			Value:   []byte("not-the-value"),
		}}},
		Success: []mvcc.Op{{Type: mvcc.OpTypePut, Key: []byte("a"), Value: []byte("succeeded")}},
		Failure: []mvcc.Op{{Type: mvcc.OpTypePut, Key: []byte("a"), Value: []byte("3")}},
	}))
	require.NoError(t, err)
	resp := result.Response.(*mvcc.TxnResponse)
	require.False(t, resp.Succeeded)

	kv, err := store.Get([]byte("a"), 0)
	require.NoError(t, err)
	require.Equal(t, "3", string(kv.Value))
}

func TestDirectApplierTermIsConstant(t *testing.T) {
	_, applier := newTestApplier(t)
	require.Equal(t, uint64(0), applier.Term())
}
