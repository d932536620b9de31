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

// Package command wraps incoming API requests as Commands bound for
// the consensus collaborator (modeled here by the Proposer seam), and
// extracts the key ranges each request touches so a replication layer
// can shard or order proposals by conflicting range.
package command

import (
	"context"

	"github.com/google/uuid"

	"xkv/internal/keyrange"
	"xkv/internal/mvcc"
)

// RequestKind identifies which KV Store operation a Command carries.
type RequestKind int

const (
	KindRange RequestKind = iota
	KindPut
	KindDeleteRange
	KindTxn
)

// PutRequest mirrors the etcd-compatible Put request fields this core
// cares about.
type PutRequest struct {
	Key, Value               []byte
	Lease                    int64
	IgnoreValue, IgnoreLease bool
	PrevKv                   bool
}

// SortOrder mirrors RangeRequest_SortOrder.
type SortOrder int32

const (
	SortNone SortOrder = iota
	SortAscend
	SortDescend
)

// SortTarget mirrors RangeRequest_SortTarget.
type SortTarget int32

const (
	SortByKey SortTarget = iota
	SortByVersion
	SortByCreateRevision
	SortByModRevision
	SortByValue
)

// RangeRequest mirrors the subset of RangeRequest fields the KV Store
// read path consumes.
type RangeRequest struct {
	Key, RangeEnd []byte
	Limit         int64
	Revision      int64
	KeysOnly      bool
	CountOnly     bool

	SortOrder  SortOrder
	SortTarget SortTarget

	MinModRevision    int64
	MaxModRevision    int64
	MinCreateRevision int64
	MaxCreateRevision int64
}

// DeleteRangeRequest mirrors DeleteRangeRequest.
type DeleteRangeRequest struct {
	Key, RangeEnd []byte
	PrevKv        bool
}

// CompareEntry pairs an mvcc.Condition with the range it covers, so
// Command Glue can extract key ranges without re-implementing compare
// evaluation (that lives in internal/mvcc). RangeEnd is empty for the
// common single-key compare.
type CompareEntry struct {
	Condition mvcc.Condition
	RangeEnd  []byte
}

// TxnRequest mirrors TxnRequest. Extract only consults Compare (the
// success/failure branches are only evaluated post-commit, per spec);
// DirectApplier evaluates the full txn via internal/mvcc.
type TxnRequest struct {
	Compare []CompareEntry
	Success []mvcc.Op
	Failure []mvcc.Op
}

// Command bundles a request with the key ranges it touches and a
// unique propose ID, ready to hand to a Proposer.
type Command struct {
	KeyRanges []keyrange.Range
	Kind      RequestKind
	Request   interface{}
	ProposeID string
}

// CommandResult carries the outcome of a committed Command: the
// marshaled response bytes, or the error the apply step produced.
type CommandResult struct {
	Response interface{}
	Err      error
}

// Proposer is the seam standing in for the external consensus/
// replication collaborator. A real implementation would route the
// Command through Raft (or similar) and return once it has been
// durably committed and applied; DirectApplier below applies it
// in-process instead.
type Proposer interface {
	Propose(ctx context.Context, cmd Command) (CommandResult, error)

	// Term reports a monotonic, term-like counter for response
	// headers. A real consensus collaborator would report its current
	// leader term; DirectApplier reports a constant, since there is no
	// leadership concept without real replication.
	Term() uint64
}

// New wraps a request as a Command, assigning it a random UUID-derived
// propose ID and extracting its key ranges per request kind.
func New(kind RequestKind, req interface{}) Command {
	return Command{
		KeyRanges: Extract(kind, req),
		Kind:      kind,
		Request:   req,
		ProposeID: uuid.NewString(),
	}
}

// Extract returns the key ranges a request touches, per spec:
//   - Range: one range (key, range_end).
//   - Put: one single-key range (key, nil).
//   - DeleteRange: one range (key, range_end).
//   - Txn: the union of ranges from every compare entry, not from the
//     success/failure branches (those are only evaluated post-commit).
func Extract(kind RequestKind, req interface{}) []keyrange.Range {
	switch kind {
	case KindRange:
		r := req.(RangeRequest)
		return []keyrange.Range{{Start: r.Key, End: r.RangeEnd}}
	case KindPut:
		p := req.(PutRequest)
		return []keyrange.Range{keyrange.NewOneKey(p.Key)}
	case KindDeleteRange:
		d := req.(DeleteRangeRequest)
		return []keyrange.Range{{Start: d.Key, End: d.RangeEnd}}
	case KindTxn:
		t := req.(TxnRequest)
		ranges := make([]keyrange.Range, 0, len(t.Compare))
		for _, c := range t.Compare {
			ranges = append(ranges, keyrange.Range{Start: c.Condition.Key, End: c.RangeEnd})
		}
		return ranges
	default:
		return nil
	}
}
