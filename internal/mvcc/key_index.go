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
	"sort"
	"sync"

	"github.com/google/btree"

	"xkv/internal/keyrange"
)

// Generation represents one lifetime of a key: from the revision it was
// created (or recreated after a prior deletion) to the revision, if
// any, at which it was tombstoned.
type Generation struct {
	// CreateRevision is the revision this generation began at.
	CreateRevision Revision

	// ModRevisions is every revision that wrote to the key during this
	// generation, ascending, including the create revision.
	ModRevisions []Revision

	// Tombstoned is true once this generation has been ended by a
	// delete. A tombstoned generation contributes no live value; a new
	// Put on the same key starts a fresh generation.
	Tombstoned bool
}

// IsEmpty reports whether this generation recorded no writes at all
// (only possible for a just-constructed Generation).
func (g *Generation) IsEmpty() bool {
	return len(g.ModRevisions) == 0
}

// LastRevision returns the most recent revision recorded in this
// generation, or Zero if none.
func (g *Generation) LastRevision() Revision {
	if len(g.ModRevisions) == 0 {
		return Zero
	}
	return g.ModRevisions[len(g.ModRevisions)-1]
}

// KeyItem is one key's full revision history: a sequence of
// generations, the current (last) one possibly still live. It
// implements btree.Item so KeyIndex can order keys lexicographically.
type KeyItem struct {
	Key         []byte
	Generations []Generation
	Modified    Revision
}

// Less implements btree.Item.
func (ki *KeyItem) Less(other btree.Item) bool {
	return bytes.Compare(ki.Key, other.(*KeyItem).Key) < 0
}

// CurrentGeneration returns the last generation, or nil if the key has
// never been written.
func (ki *KeyItem) CurrentGeneration() *Generation {
	if len(ki.Generations) == 0 {
		return nil
	}
	return &ki.Generations[len(ki.Generations)-1]
}

// IsDeleted reports whether the key's current generation is tombstoned.
func (ki *KeyItem) IsDeleted() bool {
	gen := ki.CurrentGeneration()
	return gen == nil || gen.Tombstoned
}

// FindRevision returns the revision visible for this key at atRev, or
// Zero if the key did not exist (or had already been deleted and not
// yet recreated) as of atRev.
func (ki *KeyItem) FindRevision(atRev Revision) Revision {
	for i := len(ki.Generations) - 1; i >= 0; i-- {
		gen := &ki.Generations[i]
		if gen.CreateRevision.GreaterThan(atRev) {
			continue
		}
		idx := binarySearchRevision(gen.ModRevisions, atRev)
		if idx < 0 {
			continue
		}
		rev := gen.ModRevisions[idx]
		// A tombstone revision is the generation's last ModRevision when
		// Tombstoned; if atRev lands exactly on or after it, the key
		// reads as absent rather than as that delete marker.
		if gen.Tombstoned && idx == len(gen.ModRevisions)-1 {
			return Zero
		}
		return rev
	}
	return Zero
}

// binarySearchRevision finds the index of the largest revision <= target.
// Returns -1 if every revision exceeds target.
func binarySearchRevision(revs []Revision, target Revision) int {
	left, right := 0, len(revs)-1
	result := -1
	for left <= right {
		mid := (left + right) / 2
		if revs[mid].LessThanOrEqual(target) {
			result = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	return result
}

// KeyIndex is the in-memory revision index (component C): a B-tree
// mapping each user key to its generation history, independent of the
// storage engine holding the serialized records those revisions name.
type KeyIndex struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// NewKeyIndex returns an empty index.
func NewKeyIndex() *KeyIndex {
	return &KeyIndex{tree: btree.New(32)}
}

// Get returns the KeyItem for key, or nil if the key is unknown to the
// index (never written).
func (idx *KeyIndex) Get(key []byte) *KeyItem {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	item := idx.tree.Get(&KeyItem{Key: key})
	if item == nil {
		return nil
	}
	return item.(*KeyItem)
}

// GetRevision returns the revision at which key's value should be read
// as of atRev, or Zero if absent at that point.
func (idx *KeyIndex) GetRevision(key []byte, atRev Revision) Revision {
	ki := idx.Get(key)
	if ki == nil {
		return Zero
	}
	return ki.FindRevision(atRev)
}

// RegisterRevision records a write to key at rev, opening a new
// generation if the key is new or its current generation was
// tombstoned.
func (idx *KeyIndex) RegisterRevision(key []byte, rev Revision) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	item := idx.tree.Get(&KeyItem{Key: key})
	if item == nil {
		ki := &KeyItem{
			Key:         append([]byte{}, key...),
			Generations: []Generation{{CreateRevision: rev, ModRevisions: []Revision{rev}}},
			Modified:    rev,
		}
		idx.tree.ReplaceOrInsert(ki)
		return
	}

	ki := item.(*KeyItem)
	gen := ki.CurrentGeneration()
	if gen == nil || gen.Tombstoned {
		ki.Generations = append(ki.Generations, Generation{
			CreateRevision: rev,
			ModRevisions:   []Revision{rev},
		})
	} else {
		gen.ModRevisions = append(gen.ModRevisions, rev)
	}
	ki.Modified = rev
}

// Tombstone ends the key's current generation at rev. Returns false if
// the key is unknown or already tombstoned.
func (idx *KeyIndex) Tombstone(key []byte, rev Revision) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	item := idx.tree.Get(&KeyItem{Key: key})
	if item == nil {
		return false
	}
	ki := item.(*KeyItem)
	gen := ki.CurrentGeneration()
	if gen == nil || gen.Tombstoned {
		return false
	}

	gen.ModRevisions = append(gen.ModRevisions, rev)
	gen.Tombstoned = true
	ki.Modified = rev
	return true
}

// Range calls fn for every key in r visible at atRev (or at each key's
// latest revision, if atRev is Zero), in ascending key order, until fn
// returns false.
func (idx *KeyIndex) Range(r keyrange.Range, atRev Revision, fn func(key []byte, rev Revision) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	start := &KeyItem{Key: r.Start}
	if r.IsAllKeys() {
		start = &KeyItem{}
	}

	idx.tree.AscendGreaterOrEqual(start, func(item btree.Item) bool {
		ki := item.(*KeyItem)

		if r.IsSingleKey() {
			if !bytes.Equal(ki.Key, r.Start) {
				return false
			}
		} else if !r.IsAllKeys() && !r.IsFromKey() {
			if bytes.Compare(ki.Key, r.End) >= 0 {
				return false
			}
		}

		var rev Revision
		if atRev.IsZero() {
			gen := ki.CurrentGeneration()
			if gen != nil && !gen.Tombstoned {
				rev = gen.LastRevision()
			}
		} else {
			rev = ki.FindRevision(atRev)
		}

		if !rev.IsZero() {
			return fn(ki.Key, rev)
		}
		return true
	})
}

// KeyRevision names one historical write: the key it touched and the
// revision it was written at.
type KeyRevision struct {
	Key []byte
	Rev Revision
}

// GetFromRevision returns every write recorded in r with revision >=
// startRev, across all generations (including tombstoned ones still
// retained by the index), ordered by revision ascending. This is the
// index's replay source for watchers hydrating from a start revision:
// unlike Range, which reports one current value per key, it surfaces
// every historical ModRevision so a late-registering watcher can
// observe the same sequence of writes a live one would have seen.
func (idx *KeyIndex) GetFromRevision(r keyrange.Range, startRev Revision) []KeyRevision {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []KeyRevision

	start := &KeyItem{Key: r.Start}
	if r.IsAllKeys() {
		start = &KeyItem{}
	}

	idx.tree.AscendGreaterOrEqual(start, func(item btree.Item) bool {
		ki := item.(*KeyItem)

		if r.IsSingleKey() {
			if !bytes.Equal(ki.Key, r.Start) {
				return false
			}
		} else if !r.IsAllKeys() && !r.IsFromKey() {
			if bytes.Compare(ki.Key, r.End) >= 0 {
				return false
			}
		}

		for i := range ki.Generations {
			gen := &ki.Generations[i]
			for _, rev := range gen.ModRevisions {
				if rev.LessThan(startRev) {
					continue
				}
				out = append(out, KeyRevision{Key: append([]byte{}, ki.Key...), Rev: rev})
			}
		}
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		return out[i].Rev.LessThan(out[j].Rev)
	})

	return out
}

// Compact drops every ModRevision strictly before atRev, removing
// generations and keys that become fully empty as a result. Returns
// the number of revisions dropped.
func (idx *KeyIndex) Compact(atRev Revision) int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var removed int64
	var emptied []*KeyItem

	idx.tree.Ascend(func(item btree.Item) bool {
		ki := item.(*KeyItem)

		newGens := make([]Generation, 0, len(ki.Generations))
		for i := range ki.Generations {
			gen := &ki.Generations[i]

			keepFrom := len(gen.ModRevisions)
			for j, r := range gen.ModRevisions {
				if r.GreaterThanOrEqual(atRev) {
					keepFrom = j
					break
				}
				removed++
			}

			// A tombstoned generation with nothing kept contributes no
			// further reads and is dropped entirely, unless it is the
			// final generation (retained to witness the key was deleted,
			// matching the distilled model's live read-back of a
			// just-deleted key at its own revision).
			isLast := i == len(ki.Generations)-1
			if keepFrom >= len(gen.ModRevisions) {
				if gen.Tombstoned && !isLast {
					continue
				}
				if !gen.Tombstoned {
					continue
				}
			}

			newGen := Generation{
				CreateRevision: gen.CreateRevision,
				Tombstoned:     gen.Tombstoned,
				ModRevisions:   append([]Revision{}, gen.ModRevisions[keepFrom:]...),
			}
			newGens = append(newGens, newGen)
		}

		if len(newGens) == 0 {
			emptied = append(emptied, ki)
		} else {
			ki.Generations = newGens
		}
		return true
	})

	for _, ki := range emptied {
		idx.tree.Delete(ki)
	}
	return removed
}

// Len returns the number of keys tracked by the index.
func (idx *KeyIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}

// RevisionCount returns the total number of recorded ModRevisions
// across every key and generation.
func (idx *KeyIndex) RevisionCount() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var count int64
	idx.tree.Ascend(func(item btree.Item) bool {
		ki := item.(*KeyItem)
		for _, gen := range ki.Generations {
			count += int64(len(gen.ModRevisions))
		}
		return true
	})
	return count
}
