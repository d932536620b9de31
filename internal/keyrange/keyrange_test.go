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

package keyrange

import "testing"

func TestOneKeyContains(t *testing.T) {
	r := NewOneKey([]byte("foo"))
	if !r.Contains([]byte("foo")) {
		t.Fatalf("expected exact match to contain foo")
	}
	if r.Contains([]byte("foo/abc")) {
		t.Fatalf("exact-match range must not contain other keys")
	}
}

func TestAllKeys(t *testing.T) {
	r := AllKeys()
	for _, k := range []string{"", "a", "\xff\xff"} {
		if !r.Contains([]byte(k)) {
			t.Fatalf("all-keys range should contain %q", k)
		}
	}
}

func TestFromKey(t *testing.T) {
	r := NewFromKey([]byte("foo"))
	if r.Contains([]byte("f")) {
		t.Fatalf("from-key range must not contain keys before start")
	}
	if !r.Contains([]byte("foo")) || !r.Contains([]byte("fop")) {
		t.Fatalf("from-key range must contain start and everything after")
	}
}

func TestPrefix(t *testing.T) {
	r := Prefix([]byte("foo"))
	want := map[string]bool{"foo": true, "foo/abc": true}
	for k, contained := range want {
		if r.Contains([]byte(k)) != contained {
			t.Fatalf("prefix(foo).Contains(%q) = %v, want %v", k, !contained, contained)
		}
	}
	if r.Contains([]byte("fop")) {
		t.Fatalf("prefix(foo) must not contain fop")
	}
}

func TestPrefixAllFF(t *testing.T) {
	r := Prefix([]byte{0xff, 0xff})
	if !r.IsAllKeys() {
		t.Fatalf("prefix of all-0xFF key must degrade to the universe")
	}
}

func TestPrefixIncrementsLastNonFF(t *testing.T) {
	r := Prefix([]byte{0x01, 0xff})
	if r.End[0] != 0x02 || len(r.End) != 1 {
		t.Fatalf("expected end to be [0x02], got %v", r.End)
	}
}
