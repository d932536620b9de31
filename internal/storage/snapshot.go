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

package storage

import (
	"bytes"
	"encoding/gob"
	"io"
)

// memorySnapshot is the Snapshot implementation shared by MemoryEngine.
// It holds the gob encoding of the whole table map, so GetAll's view is
// reproduced exactly by ApplySnapshot on restore. Writes append to data;
// reads proceed from off, independent of the write position.
type memorySnapshot struct {
	data []byte
	off  int
}

func newMemorySnapshot() *memorySnapshot {
	return &memorySnapshot{}
}

func (s *memorySnapshot) encode(tables map[string]map[string][]byte) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tables); err != nil {
		return err
	}
	s.data = buf.Bytes()
	s.off = 0
	return nil
}

func (s *memorySnapshot) decode() (map[string]map[string][]byte, error) {
	var tables map[string]map[string][]byte
	if err := gob.NewDecoder(bytes.NewReader(s.data)).Decode(&tables); err != nil {
		return nil, err
	}
	return tables, nil
}

func (s *memorySnapshot) Size() int64 {
	return int64(len(s.data))
}

func (s *memorySnapshot) Read(p []byte) (int, error) {
	if s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.off:])
	s.off += n
	return n, nil
}

func (s *memorySnapshot) Write(p []byte) (int, error) {
	s.data = append(s.data, p...)
	return len(p), nil
}

func (s *memorySnapshot) Rewind() error {
	s.off = 0
	return nil
}

func (s *memorySnapshot) Clean() error {
	s.data = s.data[:0]
	s.off = 0
	return nil
}
