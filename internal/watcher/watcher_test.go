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

package watcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xkv/internal/keyrange"
	"xkv/internal/mvcc"
	"xkv/internal/storage"
)

func newTestSubsystem(t *testing.T) (*mvcc.MemoryStore, *Subsystem) {
	t.Helper()
	store := mvcc.NewMemoryStore(storage.NewMemoryEngine("kv", "lease"))
	sub := New(store)
	go sub.Run()
	t.Cleanup(func() {
		sub.Close()
		store.Close()
	})
	return store, sub
}

func TestSubsystemObservesEveryValueExactlyOnce(t *testing.T) {
	store, sub := newTestSubsystem(t)

	for i := 0; i < 100; i++ {
		_, err := store.Put([]byte("foo"), []byte(fmt.Sprintf("%d", i)), 0)
		require.NoError(t, err)
	}

	deliver := make(chan Response, 128)
	cancel := make(chan struct{})
	sub.Register(123, keyrange.NewOneKey([]byte("foo")), 1, nil, deliver, cancel)

	seen := make(map[string]int)
	timeout := time.After(3 * time.Second)
	for len(seen) < 100 {
		select {
		case resp := <-deliver:
			for _, ev := range resp.Events {
				seen[string(ev.Kv.Value)]++
			}
		case <-timeout:
			t.Fatalf("timed out, saw %d/100 values", len(seen))
		}
	}

	for v, count := range seen {
		require.Equalf(t, 1, count, "value %q delivered %d times, want 1", v, count)
	}
}

func TestSubsystemHydratesFromStartRevision(t *testing.T) {
	store, sub := newTestSubsystem(t)

	_, err := store.Put([]byte("foo"), []byte("v1"), 0)
	require.NoError(t, err)
	_, err = store.Put([]byte("foo"), []byte("v2"), 0)
	require.NoError(t, err)

	deliver := make(chan Response, 8)
	cancel := make(chan struct{})
	sub.Register(1, keyrange.NewOneKey([]byte("foo")), 1, nil, deliver, cancel)

	select {
	case resp := <-deliver:
		require.Len(t, resp.Events, 2)
		require.Equal(t, "v1", string(resp.Events[0].Kv.Value))
		require.Equal(t, "v2", string(resp.Events[1].Kv.Value))
	case <-time.After(time.Second):
		t.Fatal("expected hydrated events")
	}
}

func TestSubsystemFiltersEventType(t *testing.T) {
	store, sub := newTestSubsystem(t)

	deliver := make(chan Response, 8)
	cancel := make(chan struct{})
	sub.Register(1, keyrange.NewOneKey([]byte("foo")), 0, Filters(mvcc.EventTypeDelete), deliver, cancel)

	_, err := store.Put([]byte("foo"), []byte("bar"), 0)
	require.NoError(t, err)
	_, _, err = store.Delete([]byte("foo"))
	require.NoError(t, err)

	select {
	case resp := <-deliver:
		require.Len(t, resp.Events, 1)
		require.Equal(t, mvcc.EventTypePut, resp.Events[0].Type)
	case <-time.After(time.Second):
		t.Fatal("expected put event")
	}

	select {
	case resp := <-deliver:
		t.Fatalf("unexpected second delivery: %+v", resp)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubsystemCancelRemovesWatcher(t *testing.T) {
	_, sub := newTestSubsystem(t)

	deliver := make(chan Response, 8)
	cancel := make(chan struct{})
	sub.Register(1, keyrange.NewOneKey([]byte("foo")), 0, nil, deliver, cancel)
	sub.Cancel(1)

	require.Panics(t, func() { sub.Cancel(1) })
}

func TestSubsystemDuplicateRegisterPanics(t *testing.T) {
	_, sub := newTestSubsystem(t)

	deliver := make(chan Response, 8)
	cancel := make(chan struct{})
	sub.Register(1, keyrange.NewOneKey([]byte("foo")), 0, nil, deliver, cancel)

	require.Panics(t, func() {
		sub.Register(1, keyrange.NewOneKey([]byte("bar")), 0, nil, deliver, cancel)
	})
}

func TestSubsystemVictimRetryDeliversAfterChannelDrains(t *testing.T) {
	store, sub := newTestSubsystem(t)

	deliver := make(chan Response) // unbuffered: first send always queues as a victim
	cancel := make(chan struct{})
	sub.Register(1, keyrange.NewOneKey([]byte("foo")), 0, nil, deliver, cancel)

	_, err := store.Put([]byte("foo"), []byte("bar"), 0)
	require.NoError(t, err)
	time.Sleep(2 * victimInitialBackoff) // nobody receives while the batch is dispatched

	select {
	case resp := <-deliver:
		require.Len(t, resp.Events, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("victim retry never delivered the queued batch")
	}
}
