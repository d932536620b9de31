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

// Package lease manages lease grant/revoke/renew/TTL bookkeeping and
// deletes a lease's attached keys through the same write path as an
// explicit delete-range once the lease expires or is revoked.
package lease

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrLeaseNotFound is returned when a request names an unknown lease.
	ErrLeaseNotFound = errors.New("lease: not found")

	// ErrTooManyLeases is returned when granting a lease would exceed
	// the configured maximum outstanding lease count.
	ErrTooManyLeases = errors.New("lease: too many leases")

	// ErrInvalidTTL is returned by Grant when the requested lease id is
	// already in use. A non-positive TTL is not rejected; Grant replaces
	// it with the default TTL.
	ErrInvalidTTL = errors.New("lease: ttl must be > 0")
)

// Lease is one granted lease: an id, its TTL, when it was last
// (re)granted, and the set of keys currently attached to it.
type Lease struct {
	mu           sync.Mutex
	ID           int64
	TTL          int64 // seconds
	GrantedAt    time.Time
	attachedKeys map[string]struct{}

	// renewalTokenHash is an optional bcrypt hash of a caller-supplied
	// renewal token; set via Manager.GrantWithToken, checked by
	// Manager.RenewWithToken. Leases granted without a token leave this
	// nil and can be renewed by id alone.
	renewalTokenHash []byte
}

// expiresAt returns the wall-clock time at which l expires absent a
// renewal.
func (l *Lease) expiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.GrantedAt.Add(time.Duration(l.TTL) * time.Second)
}

// IsExpired reports whether l has passed its expiration time.
func (l *Lease) IsExpired() bool {
	return time.Now().After(l.expiresAt())
}

// Remaining returns the time until expiration, or 0 if already expired.
func (l *Lease) Remaining() time.Duration {
	d := time.Until(l.expiresAt())
	if d < 0 {
		return 0
	}
	return d
}

// Keys returns a snapshot of the keys currently attached to l.
func (l *Lease) Keys() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([][]byte, 0, len(l.attachedKeys))
	for k := range l.attachedKeys {
		keys = append(keys, []byte(k))
	}
	return keys
}

func (l *Lease) attach(key []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attachedKeys[string(key)] = struct{}{}
}

func (l *Lease) detach(key []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attachedKeys, string(key))
}

func (l *Lease) renew() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.GrantedAt = time.Now()
}
