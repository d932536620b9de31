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

package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xkv/internal/mvcc"
	"xkv/internal/storage"
)

func newTestManager(t *testing.T, cfg Config) (*mvcc.MemoryStore, *Manager) {
	t.Helper()
	store := mvcc.NewMemoryStore(storage.NewMemoryEngine("kv", "lease"))
	m := New(store, cfg)
	t.Cleanup(func() {
		m.Stop()
		store.Close()
	})
	return store, m
}

func TestGrantAssignsIDAndTTL(t *testing.T) {
	_, m := newTestManager(t, Config{})

	l, err := m.Grant(0, 30)
	require.NoError(t, err)
	require.NotZero(t, l.ID)
	require.Equal(t, int64(30), l.TTL)
}

func TestGrantDuplicateIDFails(t *testing.T) {
	_, m := newTestManager(t, Config{})

	_, err := m.Grant(5, 30)
	require.NoError(t, err)
	_, err = m.Grant(5, 30)
	require.Error(t, err)
}

func TestGrantRespectsMaxLeaseCount(t *testing.T) {
	_, m := newTestManager(t, Config{MaxLeaseCount: 1})

	_, err := m.Grant(0, 30)
	require.NoError(t, err)
	_, err = m.Grant(0, 30)
	require.ErrorIs(t, err, ErrTooManyLeases)
}

func TestRevokeDeletesAttachedKeys(t *testing.T) {
	store, m := newTestManager(t, Config{})

	l, err := m.Grant(1, 30)
	require.NoError(t, err)

	_, err = store.Put([]byte("foo"), []byte("bar"), l.ID)
	require.NoError(t, err)
	require.NoError(t, m.Attach(l.ID, []byte("foo")))

	require.NoError(t, m.Revoke(l.ID))

	_, err = store.Get([]byte("foo"), 0)
	require.ErrorIs(t, err, mvcc.ErrKeyNotFound)

	_, err = m.TimeToLive(l.ID)
	require.ErrorIs(t, err, ErrLeaseNotFound)
}

func TestRevokeUnknownLeaseFails(t *testing.T) {
	_, m := newTestManager(t, Config{})
	require.ErrorIs(t, m.Revoke(999), ErrLeaseNotFound)
}

func TestRenewResetsExpiration(t *testing.T) {
	_, m := newTestManager(t, Config{})

	l, err := m.Grant(1, 1)
	require.NoError(t, err)
	time.Sleep(500 * time.Millisecond)

	ttl, err := m.Renew(l.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), ttl)
	require.False(t, l.IsExpired())
}

func TestGrantWithTokenRequiresTokenToRenew(t *testing.T) {
	_, m := newTestManager(t, Config{})

	l, err := m.GrantWithToken(1, 30, "secret")
	require.NoError(t, err)

	_, err = m.Renew(l.ID)
	require.ErrorIs(t, err, ErrLeaseNotFound)

	_, err = m.RenewWithToken(l.ID, "wrong")
	require.ErrorIs(t, err, ErrLeaseNotFound)

	_, err = m.RenewWithToken(l.ID, "secret")
	require.NoError(t, err)
}

func TestExpiredLeaseSweptInBackground(t *testing.T) {
	store, m := newTestManager(t, Config{
		CheckInterval: 20 * time.Millisecond,
		DefaultTTL:    500 * time.Millisecond, // rounds down to TTL=0, expired as soon as granted
	})
	m.Start()

	l, err := m.Grant(1, 0)
	require.NoError(t, err)

	_, err = store.Put([]byte("foo"), []byte("bar"), l.ID)
	require.NoError(t, err)
	require.NoError(t, m.Attach(l.ID, []byte("foo")))

	require.Eventually(t, func() bool {
		_, err := store.Get([]byte("foo"), 0)
		return err == mvcc.ErrKeyNotFound
	}, time.Second, 10*time.Millisecond)
}

func TestLeasesListsOutstanding(t *testing.T) {
	_, m := newTestManager(t, Config{})

	_, err := m.Grant(1, 30)
	require.NoError(t, err)
	_, err = m.Grant(2, 30)
	require.NoError(t, err)

	require.Len(t, m.Leases(), 2)
}
