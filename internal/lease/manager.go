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
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"xkv/internal/mvcc"
	"xkv/pkg/log"
)

// Config configures the lease manager's background expiry checker and
// limits.
type Config struct {
	// CheckInterval is how often expired leases are swept.
	CheckInterval time.Duration

	// DefaultTTL is used when Grant is called with ttlSeconds <= 0.
	DefaultTTL time.Duration

	// MaxLeaseCount caps the number of outstanding leases; 0 means
	// unlimited.
	MaxLeaseCount int

	// BcryptCost is the hashing cost used for token-protected renewal.
	// Defaults to bcrypt.DefaultCost if <= 0.
	BcryptCost int
}

// Manager grants, renews, and revokes leases, and deletes every key
// attached to a lease through store's write path when that lease
// expires or is explicitly revoked.
type Manager struct {
	mu     sync.RWMutex
	store  mvcc.Store
	leases map[int64]*Lease

	config  Config
	nextID  atomic.Int64
	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a lease manager writing expirations through store.
func New(store mvcc.Store, config Config) *Manager {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Second
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 60 * time.Second
	}
	if config.BcryptCost <= 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}

	m := &Manager{
		store:  store,
		leases: make(map[int64]*Lease),
		config: config,
		stopCh: make(chan struct{}),
	}
	// Seed the id generator away from 0 so Grant(0, ...) can tell
	// "caller didn't pick an id" apart from a legitimately granted one.
	m.nextID.Store(time.Now().UnixNano())
	return m
}

// Start begins the background expiry sweep.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.expiryLoop()
}

// Stop halts the background expiry sweep and waits for it to exit.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}

// Grant creates a new lease. If id is 0, an id is generated. If
// ttlSeconds <= 0, config.DefaultTTL is used.
func (m *Manager) Grant(id int64, ttlSeconds int64) (*Lease, error) {
	return m.grant(id, ttlSeconds, nil)
}

// GrantWithToken is like Grant, but additionally binds a caller-chosen
// renewal token: future Renew calls for this lease must be made via
// RenewWithToken and present the same token. The token itself is never
// stored, only its bcrypt hash.
func (m *Manager) GrantWithToken(id int64, ttlSeconds int64, token string) (*Lease, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), m.config.BcryptCost)
	if err != nil {
		return nil, err
	}
	return m.grant(id, ttlSeconds, hash)
}

func (m *Manager) grant(id int64, ttlSeconds int64, tokenHash []byte) (*Lease, error) {
	if m.stopped.Load() {
		return nil, ErrLeaseNotFound
	}

	ttl := ttlSeconds
	if ttl <= 0 {
		ttl = int64(m.config.DefaultTTL / time.Second)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxLeaseCount > 0 && len(m.leases) >= m.config.MaxLeaseCount {
		return nil, ErrTooManyLeases
	}

	if id == 0 {
		id = m.nextID.Add(1)
	} else if _, exists := m.leases[id]; exists {
		return nil, ErrInvalidTTL
	}

	l := &Lease{
		ID:               id,
		TTL:              ttl,
		GrantedAt:        time.Now(),
		attachedKeys:     make(map[string]struct{}),
		renewalTokenHash: tokenHash,
	}
	m.leases[id] = l
	return l, nil
}

// Attach records that key is attached to leaseID, so the key is
// deleted when the lease expires or is revoked. The caller is
// responsible for having already issued the Put with Lease: leaseID;
// Attach only updates the manager's bookkeeping.
func (m *Manager) Attach(leaseID int64, key []byte) error {
	m.mu.RLock()
	l, ok := m.leases[leaseID]
	m.mu.RUnlock()
	if !ok {
		return ErrLeaseNotFound
	}
	l.attach(key)
	return nil
}

// Detach removes key from leaseID's attached-key set, e.g. when the
// key is overwritten with a different (or no) lease.
func (m *Manager) Detach(leaseID int64, key []byte) {
	m.mu.RLock()
	l, ok := m.leases[leaseID]
	m.mu.RUnlock()
	if ok {
		l.detach(key)
	}
}

// Revoke deletes every key attached to id through store's write path
// (one Delete call per key, matching an explicit delete-range one key
// at a time) and removes the lease.
func (m *Manager) Revoke(id int64) error {
	m.mu.Lock()
	l, ok := m.leases[id]
	if ok {
		delete(m.leases, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrLeaseNotFound
	}
	return m.deleteAttachedKeys(l)
}

func (m *Manager) deleteAttachedKeys(l *Lease) error {
	for _, key := range l.Keys() {
		if _, _, err := m.store.Delete(key); err != nil && err != mvcc.ErrKeyNotFound {
			return err
		}
	}
	return nil
}

// Renew resets id's expiration clock to now + TTL. Fails if the lease
// was granted with a token via GrantWithToken.
func (m *Manager) Renew(id int64) (ttlSeconds int64, err error) {
	m.mu.RLock()
	l, ok := m.leases[id]
	m.mu.RUnlock()
	if !ok {
		return 0, ErrLeaseNotFound
	}
	if l.renewalTokenHash != nil {
		return 0, ErrLeaseNotFound
	}
	l.renew()
	return l.TTL, nil
}

// RenewWithToken is like Renew, but requires token to match the hash
// bound at GrantWithToken time.
func (m *Manager) RenewWithToken(id int64, token string) (ttlSeconds int64, err error) {
	m.mu.RLock()
	l, ok := m.leases[id]
	m.mu.RUnlock()
	if !ok {
		return 0, ErrLeaseNotFound
	}
	if bcrypt.CompareHashAndPassword(l.renewalTokenHash, []byte(token)) != nil {
		return 0, ErrLeaseNotFound
	}
	l.renew()
	return l.TTL, nil
}

// TimeToLive returns the lease with the given id, or ErrLeaseNotFound.
func (m *Manager) TimeToLive(id int64) (*Lease, error) {
	m.mu.RLock()
	l, ok := m.leases[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrLeaseNotFound
	}
	return l, nil
}

// Leases returns every outstanding lease.
func (m *Manager) Leases() []*Lease {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Lease, 0, len(m.leases))
	for _, l := range m.leases {
		out = append(out, l)
	}
	return out
}

func (m *Manager) expiryLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweepExpired() {
	m.mu.RLock()
	var expired []int64
	for id, l := range m.leases {
		if l.IsExpired() {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		if err := m.Revoke(id); err != nil {
			log.Infof("lease: failed to revoke expired lease %d: %v", id, err)
		} else {
			log.Infof("lease: revoked expired lease %d", id)
		}
	}
}
