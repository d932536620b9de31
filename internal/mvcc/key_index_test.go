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
	"testing"

	"xkv/internal/keyrange"
)

func TestKeyIndexRegisterRevisionAndGet(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("foo"), Revision{1, 0})

	ki := idx.Get([]byte("foo"))
	if ki == nil {
		t.Fatal("expected key item, got nil")
	}
	if string(ki.Key) != "foo" {
		t.Errorf("key = %q, want foo", ki.Key)
	}
	if len(ki.Generations) != 1 {
		t.Errorf("generations = %d, want 1", len(ki.Generations))
	}
	if ki.Modified != (Revision{1, 0}) {
		t.Errorf("modified = %v, want {1, 0}", ki.Modified)
	}

	idx.RegisterRevision([]byte("foo"), Revision{2, 0})

	ki = idx.Get([]byte("foo"))
	if len(ki.Generations) != 1 {
		t.Errorf("generations = %d, want 1", len(ki.Generations))
	}
	if len(ki.Generations[0].ModRevisions) != 2 {
		t.Errorf("mod revisions = %d, want 2", len(ki.Generations[0].ModRevisions))
	}
}

func TestKeyIndexGetRevision(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("foo"), Revision{1, 0})
	idx.RegisterRevision([]byte("foo"), Revision{3, 0})
	idx.RegisterRevision([]byte("foo"), Revision{5, 0})

	tests := []struct {
		atRev    Revision
		expected Revision
	}{
		{Revision{0, 0}, Zero},
		{Revision{1, 0}, Revision{1, 0}},
		{Revision{2, 0}, Revision{1, 0}},
		{Revision{3, 0}, Revision{3, 0}},
		{Revision{4, 0}, Revision{3, 0}},
		{Revision{5, 0}, Revision{5, 0}},
		{Revision{6, 0}, Revision{5, 0}},
	}

	for _, tt := range tests {
		got := idx.GetRevision([]byte("foo"), tt.atRev)
		if got != tt.expected {
			t.Errorf("GetRevision(foo, %v) = %v, want %v", tt.atRev, got, tt.expected)
		}
	}
}

func TestKeyIndexTombstone(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("foo"), Revision{1, 0})
	idx.RegisterRevision([]byte("foo"), Revision{2, 0})

	if !idx.Tombstone([]byte("foo"), Revision{3, 0}) {
		t.Error("Tombstone should return true")
	}

	ki := idx.Get([]byte("foo"))
	if !ki.IsDeleted() {
		t.Error("key should be deleted")
	}

	if idx.Tombstone([]byte("bar"), Revision{4, 0}) {
		t.Error("Tombstone of non-existent key should return false")
	}

	if idx.Tombstone([]byte("foo"), Revision{5, 0}) {
		t.Error("Tombstone of already-tombstoned key should return false")
	}
}

func TestKeyIndexTombstoneAndRecreate(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("foo"), Revision{1, 0})
	idx.Tombstone([]byte("foo"), Revision{2, 0})
	idx.RegisterRevision([]byte("foo"), Revision{3, 0})

	ki := idx.Get([]byte("foo"))
	if ki.IsDeleted() {
		t.Error("key should not be deleted after recreate")
	}
	if len(ki.Generations) != 2 {
		t.Errorf("generations = %d, want 2 (tombstoned gen0 + live gen1)", len(ki.Generations))
	}

	if got := idx.GetRevision([]byte("foo"), Revision{1, 0}); got != (Revision{1, 0}) {
		t.Errorf("GetRevision at rev1 = %v, want {1,0}", got)
	}
	if got := idx.GetRevision([]byte("foo"), Revision{2, 5}); !got.IsZero() {
		t.Errorf("GetRevision between delete and recreate = %v, want Zero", got)
	}
	if got := idx.GetRevision([]byte("foo"), Revision{3, 0}); got != (Revision{3, 0}) {
		t.Errorf("GetRevision at rev3 = %v, want {3,0}", got)
	}
}

func TestKeyIndexRange(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("a"), Revision{1, 0})
	idx.RegisterRevision([]byte("b"), Revision{2, 0})
	idx.RegisterRevision([]byte("c"), Revision{3, 0})
	idx.RegisterRevision([]byte("d"), Revision{4, 0})

	var keys []string
	idx.Range(keyrange.NewFromKey([]byte("a")), Zero, func(key []byte, rev Revision) bool {
		keys = append(keys, string(key))
		return true
	})
	if len(keys) != 4 {
		t.Errorf("from-key range returned %d keys, want 4", len(keys))
	}

	keys = nil
	idx.Range(keyrange.Range{Start: []byte("b"), End: []byte("d")}, Zero, func(key []byte, rev Revision) bool {
		keys = append(keys, string(key))
		return true
	})
	if len(keys) != 2 {
		t.Errorf("Range(b, d) returned %d keys, want 2", len(keys))
	}

	keys = nil
	idx.Range(keyrange.NewFromKey([]byte("a")), Zero, func(key []byte, rev Revision) bool {
		keys = append(keys, string(key))
		return len(keys) < 2
	})
	if len(keys) != 2 {
		t.Errorf("Range with early stop returned %d keys, want 2", len(keys))
	}
}

func TestKeyIndexRangeAtRevision(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("a"), Revision{1, 0})
	idx.RegisterRevision([]byte("b"), Revision{2, 0})
	idx.RegisterRevision([]byte("c"), Revision{3, 0})
	idx.Tombstone([]byte("a"), Revision{4, 0})

	var keys []string
	idx.Range(keyrange.NewFromKey([]byte("a")), Revision{2, 0}, func(key []byte, rev Revision) bool {
		keys = append(keys, string(key))
		return true
	})
	if len(keys) != 2 {
		t.Errorf("Range at rev 2 returned %d keys, want 2", len(keys))
	}
}

func TestKeyIndexGetFromRevision(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("foo"), Revision{1, 0})
	idx.RegisterRevision([]byte("foo"), Revision{2, 0})
	idx.RegisterRevision([]byte("foo"), Revision{3, 0})

	revs := idx.GetFromRevision(keyrange.NewOneKey([]byte("foo")), Revision{1, 0})
	if len(revs) != 3 {
		t.Fatalf("GetFromRevision from rev1 returned %d entries, want 3", len(revs))
	}
	for i, want := range []Revision{{1, 0}, {2, 0}, {3, 0}} {
		if revs[i].Rev != want {
			t.Errorf("revs[%d] = %v, want %v", i, revs[i].Rev, want)
		}
	}

	revs = idx.GetFromRevision(keyrange.NewOneKey([]byte("foo")), Revision{2, 0})
	if len(revs) != 2 {
		t.Fatalf("GetFromRevision from rev2 returned %d entries, want 2", len(revs))
	}
	if revs[0].Rev != (Revision{2, 0}) || revs[1].Rev != (Revision{3, 0}) {
		t.Errorf("unexpected revisions: %v", revs)
	}
}

func TestKeyIndexGetFromRevisionAcrossGenerations(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("foo"), Revision{1, 0})
	idx.Tombstone([]byte("foo"), Revision{2, 0})
	idx.RegisterRevision([]byte("foo"), Revision{3, 0})

	revs := idx.GetFromRevision(keyrange.NewOneKey([]byte("foo")), Revision{1, 0})
	if len(revs) != 3 {
		t.Fatalf("GetFromRevision returned %d entries, want 3 (create, tombstone, recreate)", len(revs))
	}
	for i, want := range []Revision{{1, 0}, {2, 0}, {3, 0}} {
		if revs[i].Rev != want {
			t.Errorf("revs[%d] = %v, want %v", i, revs[i].Rev, want)
		}
	}
}

func TestKeyIndexCompact(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("a"), Revision{1, 0})
	idx.RegisterRevision([]byte("a"), Revision{2, 0})
	idx.RegisterRevision([]byte("a"), Revision{3, 0})
	idx.RegisterRevision([]byte("b"), Revision{1, 0})
	idx.RegisterRevision([]byte("b"), Revision{2, 0})

	removed := idx.Compact(Revision{2, 0})
	if removed < 2 {
		t.Errorf("Compact removed %d revisions, want >= 2", removed)
	}

	rev := idx.GetRevision([]byte("a"), Revision{10, 0})
	if rev != (Revision{3, 0}) {
		t.Errorf("after compact, GetRevision(a) = %v, want {3, 0}", rev)
	}
}

func TestKeyIndexLen(t *testing.T) {
	idx := NewKeyIndex()

	if idx.Len() != 0 {
		t.Error("empty index should have length 0")
	}

	idx.RegisterRevision([]byte("a"), Revision{1, 0})
	idx.RegisterRevision([]byte("b"), Revision{2, 0})

	if idx.Len() != 2 {
		t.Errorf("Len() = %d, want 2", idx.Len())
	}
}

func TestKeyIndexRevisionCount(t *testing.T) {
	idx := NewKeyIndex()

	idx.RegisterRevision([]byte("a"), Revision{1, 0})
	idx.RegisterRevision([]byte("a"), Revision{2, 0})
	idx.RegisterRevision([]byte("b"), Revision{3, 0})

	if count := idx.RevisionCount(); count != 3 {
		t.Errorf("RevisionCount() = %d, want 3", count)
	}
}

func TestGenerationIsEmpty(t *testing.T) {
	gen := Generation{}
	if !gen.IsEmpty() {
		t.Error("empty generation should return true for IsEmpty()")
	}

	gen.ModRevisions = []Revision{{1, 0}}
	if gen.IsEmpty() {
		t.Error("non-empty generation should return false for IsEmpty()")
	}
}

func TestGenerationLastRevision(t *testing.T) {
	gen := Generation{}
	if gen.LastRevision() != Zero {
		t.Error("empty generation should return Zero for LastRevision()")
	}

	gen.ModRevisions = []Revision{{1, 0}, {2, 0}, {3, 0}}
	if gen.LastRevision() != (Revision{3, 0}) {
		t.Errorf("LastRevision() = %v, want {3, 0}", gen.LastRevision())
	}
}
