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

// Package watcher fans out MVCC change events to subscribers filtered
// by key range, start revision, and event type. A Subsystem consumes
// a single mvcc.Store event channel and dispatches to many per-watcher
// delivery channels.
package watcher

import (
	"sync"
	"time"

	"xkv/internal/keyrange"
	"xkv/internal/mvcc"
)

// Victim retry schedule: 50ms, doubling, capped at 5s, up to 5 attempts
// before the watcher is cancelled as if its channel had closed.
const (
	victimInitialBackoff = 50 * time.Millisecond
	victimMaxBackoff     = 5 * time.Second
	victimMaxAttempts    = 5
	victimCheckInterval  = 50 * time.Millisecond
)

// ID identifies a watcher. Identity (equality, hashing) is on ID alone.
type ID int64

// Response is one batch of events delivered to a watcher.
type Response struct {
	WatchID  ID
	Revision int64
	Events   []mvcc.Event
}

// watcher is a single registered subscription.
type watcher struct {
	id           ID
	keyRange     keyrange.Range
	effectiveRev int64
	filters      map[mvcc.EventType]bool
	deliver      chan<- Response
	cancelSignal chan struct{}
}

func (w *watcher) excludes(t mvcc.EventType) bool {
	return w.filters[t]
}

// pendingBatch is one not-yet-delivered Response, retried by the
// victim-recovery loop.
type pendingBatch struct {
	resp        Response
	attempt     int
	nextAttempt time.Time
	backoff     time.Duration
}

// rangeBucket groups the watch IDs registered over one distinct key
// range, alongside the range itself (the index key string is lossy to
// decode back into Start/End when either may contain a zero byte, so
// the range is kept alongside rather than reconstructed).
type rangeBucket struct {
	kr  keyrange.Range
	ids map[ID]struct{}
}

// Subsystem is the dual-indexed watcher registry: by watch ID
// (identity, for cancellation) and by key range (for dispatch).
type Subsystem struct {
	mu       sync.RWMutex
	watchers map[ID]*watcher
	byRange  map[string]*rangeBucket // keyrange.Range.IndexKey() -> bucket

	victimMu sync.Mutex
	victims  map[ID]*pendingBatch

	store  mvcc.Store
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Subsystem that dispatches events read from store's
// event channel. Call Run to start the background dispatch and
// victim-retry loops; both stop when Close is called.
func New(store mvcc.Store) *Subsystem {
	return &Subsystem{
		watchers: make(map[ID]*watcher),
		byRange:  make(map[string]*rangeBucket),
		victims:  make(map[ID]*pendingBatch),
		store:    store,
		stopCh:   make(chan struct{}),
	}
}

// Run starts the dispatch loop (consuming store.Events()) and the
// victim-retry loop. It blocks until Close is called or the store's
// event channel closes.
func (s *Subsystem) Run() {
	s.wg.Add(1)
	go s.runVictimRetry()
	for {
		select {
		case batch, ok := <-s.store.Events():
			if !ok {
				return
			}
			s.handleUpdate(batch)
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the dispatch and victim-retry loops and waits for them
// to exit.
func (s *Subsystem) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

// Filters builds a filter set from event types to exclude.
func Filters(exclude ...mvcc.EventType) map[mvcc.EventType]bool {
	m := make(map[mvcc.EventType]bool, len(exclude))
	for _, t := range exclude {
		m[t] = true
	}
	return m
}

// Register adds a new watcher. If startRev is 0, the watcher observes
// only events from current_revision+1 onward (no backfill). Otherwise
// historical events with mod_revision >= startRev are hydrated and
// delivered as one initial Response before Register returns.
//
// watchID must be unique; registering a duplicate ID is a programming
// error and panics, matching the source's assertion-based contract.
func (s *Subsystem) Register(id ID, kr keyrange.Range, startRev int64, filters map[mvcc.EventType]bool, deliver chan<- Response, cancelSignal chan struct{}) {
	w := &watcher{
		id:           id,
		keyRange:     kr,
		filters:      filters,
		deliver:      deliver,
		cancelSignal: cancelSignal,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.watchers[id]; exists {
		panic("watcher: duplicate watch id registered")
	}

	if startRev == 0 {
		w.effectiveRev = s.store.CurrentRevision() + 1
	} else {
		events := s.hydrate(kr, startRev)
		if len(events) == 0 {
			w.effectiveRev = s.store.CurrentRevision() + 1
		} else {
			last := events[len(events)-1].Kv.ModRevision
			w.notify(Response{WatchID: id, Revision: last, Events: events}, s)
			w.effectiveRev = last + 1
		}
	}

	s.watchers[id] = w
	key := kr.IndexKey()
	bucket, ok := s.byRange[key]
	if !ok {
		bucket = &rangeBucket{kr: kr, ids: make(map[ID]struct{})}
		s.byRange[key] = bucket
	}
	bucket.ids[id] = struct{}{}
}

// hydrate replays every historical write in kr with mod_revision >=
// startRev, in revision order, so a watcher registering after a burst
// of writes observes the same sequence of events a live watcher would
// have seen rather than only the current value of each key.
func (s *Subsystem) hydrate(kr keyrange.Range, startRev int64) []mvcc.Event {
	events, err := s.store.RangeFromRevision(kr.Start, rangeEndFor(kr), startRev)
	if err != nil {
		return nil
	}
	return events
}

func rangeEndFor(kr keyrange.Range) []byte {
	if kr.IsSingleKey() {
		return nil
	}
	return kr.End
}

// Cancel removes a watcher from both indices. Cancelling an unknown
// id is a programming error and panics.
func (s *Subsystem) Cancel(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watchers[id]
	if !ok {
		panic("watcher: cancel of unknown watch id")
	}
	delete(s.watchers, id)

	key := w.keyRange.IndexKey()
	if bucket, ok := s.byRange[key]; ok {
		delete(bucket.ids, id)
		if len(bucket.ids) == 0 {
			delete(s.byRange, key)
		}
	}

	s.victimMu.Lock()
	delete(s.victims, id)
	s.victimMu.Unlock()
}

// handleUpdate dispatches one committed batch to every watcher whose
// range contains the event's key and whose effective start revision
// has been reached, preserving per-watcher event order within the
// batch.
func (s *Subsystem) handleUpdate(batch mvcc.EventBatch) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perWatcher := make(map[ID][]mvcc.Event)
	var order []ID

	for _, ev := range batch.Events {
		for _, bucket := range s.byRange {
			if !bucket.kr.Contains(ev.Kv.Key) {
				continue
			}
			for id := range bucket.ids {
				w := s.watchers[id]
				if ev.Kv.ModRevision < w.effectiveRev {
					continue
				}
				if w.excludes(ev.Type) {
					continue
				}
				if _, seen := perWatcher[id]; !seen {
					order = append(order, id)
				}
				perWatcher[id] = append(perWatcher[id], ev)
			}
		}
	}

	for _, id := range order {
		w := s.watchers[id]
		w.notify(Response{WatchID: id, Revision: batch.Revision, Events: perWatcher[id]}, s)
	}
}

// notify attempts a non-blocking send. A full channel queues the
// watcher as a victim for background retry; a closed channel fires the
// watcher's cancellation signal.
func (w *watcher) notify(resp Response, s *Subsystem) {
	if len(resp.Events) == 0 {
		return
	}
	switch trySend(w.deliver, resp) {
	case sendOK:
		return
	case sendClosed:
		closeSignal(w.cancelSignal)
		return
	}
	s.victimMu.Lock()
	s.victims[w.id] = &pendingBatch{
		resp:        resp,
		backoff:     victimInitialBackoff,
		nextAttempt: time.Now().Add(victimInitialBackoff),
	}
	s.victimMu.Unlock()
}

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)

// trySend performs a non-blocking send. A send to a closed channel
// panics in Go, so the closed case is detected via recover rather than
// a prior state check, which would itself race the close.
func trySend(ch chan<- Response, resp Response) (result sendResult) {
	defer func() {
		if recover() != nil {
			result = sendClosed
		}
	}()
	select {
	case ch <- resp:
		return sendOK
	default:
		return sendFull
	}
}

// closeSignal fires a cancellation signal exactly once.
func closeSignal(sig chan struct{}) {
	defer func() { recover() }()
	close(sig)
}

// runVictimRetry periodically retries the oldest pending batch of each
// victimized watcher on a doubling backoff. A watcher that exhausts
// victimMaxAttempts is cancelled as if its delivery channel had closed.
func (s *Subsystem) runVictimRetry() {
	defer s.wg.Done()

	ticker := time.NewTicker(victimCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.retryDueVictims(now)
		}
	}
}

func (s *Subsystem) retryDueVictims(now time.Time) {
	var toCancel []ID

	s.victimMu.Lock()
	for id, pending := range s.victims {
		if now.Before(pending.nextAttempt) {
			continue
		}

		s.mu.RLock()
		w, ok := s.watchers[id]
		s.mu.RUnlock()
		if !ok {
			delete(s.victims, id)
			continue
		}

		switch trySend(w.deliver, pending.resp) {
		case sendOK:
			delete(s.victims, id)
		case sendClosed:
			toCancel = append(toCancel, id)
			delete(s.victims, id)
		default: // sendFull
			pending.attempt++
			if pending.attempt >= victimMaxAttempts {
				toCancel = append(toCancel, id)
				delete(s.victims, id)
				continue
			}
			pending.backoff *= 2
			if pending.backoff > victimMaxBackoff {
				pending.backoff = victimMaxBackoff
			}
			pending.nextAttempt = now.Add(pending.backoff)
		}
	}
	s.victimMu.Unlock()

	for _, id := range toCancel {
		s.cancelVictim(id)
	}
}

// cancelVictim cancels a watcher that exhausted its retry budget,
// firing its cancellation signal the same way a closed delivery
// channel would.
func (s *Subsystem) cancelVictim(id ID) {
	s.mu.Lock()
	w, ok := s.watchers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.watchers, id)
	key := w.keyRange.IndexKey()
	if bucket, ok := s.byRange[key]; ok {
		delete(bucket.ids, id)
		if len(bucket.ids) == 0 {
			delete(s.byRange, key)
		}
	}
	s.mu.Unlock()

	closeSignal(w.cancelSignal)
}

