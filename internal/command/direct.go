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

package command

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"xkv/internal/mvcc"
)

// DirectApplier is a Proposer that applies every Command to the KV
// Store in-process, synchronously, standing in for a real consensus
// collaborator in deployments (or tests) that run a single node with
// no replication. It never rejects a proposal for lack of quorum; the
// only failures it can return are the ones the KV Store itself raises.
type DirectApplier struct {
	store mvcc.Store
}

// NewDirectApplier wraps store as a Proposer.
func NewDirectApplier(store mvcc.Store) *DirectApplier {
	return &DirectApplier{store: store}
}

// Propose applies cmd.Request directly against the KV Store and
// returns its result. Context cancellation is not consulted: once a
// command reaches the apply step, it always runs to completion, the
// same guarantee a real commit would give.
func (d *DirectApplier) Propose(ctx context.Context, cmd Command) (CommandResult, error) {
	switch cmd.Kind {
	case KindPut:
		resp, err := d.applyPut(cmd.Request.(PutRequest))
		return CommandResult{Response: resp, Err: err}, err
	case KindRange:
		resp, err := d.applyRange(cmd.Request.(RangeRequest))
		return CommandResult{Response: resp, Err: err}, err
	case KindDeleteRange:
		resp, err := d.applyDeleteRange(cmd.Request.(DeleteRangeRequest))
		return CommandResult{Response: resp, Err: err}, err
	case KindTxn:
		resp, err := d.applyTxn(ctx, cmd.Request.(TxnRequest))
		return CommandResult{Response: resp, Err: err}, err
	default:
		err := fmt.Errorf("command: unknown request kind %d", cmd.Kind)
		return CommandResult{Err: err}, err
	}
}

// Term always reports 0: a single, never-re-elected "leader", since no
// real consensus runs underneath this seam.
func (d *DirectApplier) Term() uint64 { return 0 }

// PutResponse mirrors the subset of etcd's PutResponse this core fills in.
type PutResponse struct {
	Revision int64
	PrevKv   *mvcc.KeyValue
}

func (d *DirectApplier) applyPut(req PutRequest) (PutResponse, error) {
	var prev *mvcc.KeyValue
	if req.PrevKv || req.IgnoreValue || req.IgnoreLease {
		if kv, err := d.store.Get(req.Key, 0); err == nil {
			prev = kv
		}
	}

	value := req.Value
	lease := req.Lease
	if req.IgnoreValue {
		if prev == nil {
			return PutResponse{}, mvcc.ErrInvalidRequest
		}
		value = prev.Value
	}
	if req.IgnoreLease {
		if prev == nil {
			return PutResponse{}, mvcc.ErrInvalidRequest
		}
		lease = prev.Lease
	}

	rev, err := d.store.Put(req.Key, value, lease)
	if err != nil {
		return PutResponse{}, err
	}

	resp := PutResponse{Revision: rev}
	if req.PrevKv {
		resp.PrevKv = prev
	}
	return resp, nil
}

// RangeResponse mirrors the subset of etcd's RangeResponse this core
// fills in.
type RangeResponse struct {
	Kvs   []*mvcc.KeyValue
	Count int64
}

// applyRange reads the full matching set from the KV Store, applies
// the revision-bound filters, sorts, then applies limit, per the
// read path's filter -> sort -> limit order. Count reports the number
// of keys matching after filtering, independent of limit.
func (d *DirectApplier) applyRange(req RangeRequest) (RangeResponse, error) {
	kvs, _, err := d.store.Range(req.Key, req.RangeEnd, req.Revision, 0)
	if err != nil {
		return RangeResponse{}, err
	}

	kvs = filterByRevisionBounds(kvs, req)
	sortKvs(kvs, req.SortTarget, req.SortOrder)

	count := int64(len(kvs))
	if req.Limit > 0 && int64(len(kvs)) > req.Limit {
		kvs = kvs[:req.Limit]
	}

	if req.KeysOnly {
		for _, kv := range kvs {
			kv.Value = nil
		}
	}
	if req.CountOnly {
		kvs = nil
	}
	return RangeResponse{Kvs: kvs, Count: count}, nil
}

// filterByRevisionBounds drops kvs outside any of the requested
// min/max mod/create revision bounds. A zero bound is unset.
func filterByRevisionBounds(kvs []*mvcc.KeyValue, req RangeRequest) []*mvcc.KeyValue {
	if req.MinModRevision == 0 && req.MaxModRevision == 0 &&
		req.MinCreateRevision == 0 && req.MaxCreateRevision == 0 {
		return kvs
	}

	filtered := kvs[:0]
	for _, kv := range kvs {
		if req.MinModRevision != 0 && kv.ModRevision < req.MinModRevision {
			continue
		}
		if req.MaxModRevision != 0 && kv.ModRevision > req.MaxModRevision {
			continue
		}
		if req.MinCreateRevision != 0 && kv.CreateRevision < req.MinCreateRevision {
			continue
		}
		if req.MaxCreateRevision != 0 && kv.CreateRevision > req.MaxCreateRevision {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}

// sortKvs orders kvs by target, stably, then reverses for descend.
// SortNone leaves the store's natural key order untouched.
func sortKvs(kvs []*mvcc.KeyValue, target SortTarget, order SortOrder) {
	if order == SortNone {
		return
	}

	var less func(i, j int) bool
	switch target {
	case SortByVersion:
		less = func(i, j int) bool { return kvs[i].Version < kvs[j].Version }
	case SortByCreateRevision:
		less = func(i, j int) bool { return kvs[i].CreateRevision < kvs[j].CreateRevision }
	case SortByModRevision:
		less = func(i, j int) bool { return kvs[i].ModRevision < kvs[j].ModRevision }
	case SortByValue:
		less = func(i, j int) bool { return bytes.Compare(kvs[i].Value, kvs[j].Value) < 0 }
	default: // SortByKey
		less = func(i, j int) bool { return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0 }
	}

	sort.SliceStable(kvs, less)
	if order == SortDescend {
		for i, j := 0, len(kvs)-1; i < j; i, j = i+1, j-1 {
			kvs[i], kvs[j] = kvs[j], kvs[i]
		}
	}
}

// DeleteRangeResponse mirrors DeleteRangeResponse.
type DeleteRangeResponse struct {
	Revision int64
	Deleted  int64
}

func (d *DirectApplier) applyDeleteRange(req DeleteRangeRequest) (DeleteRangeResponse, error) {
	rev, deleted, err := d.store.DeleteRange(req.Key, req.RangeEnd)
	if err != nil {
		return DeleteRangeResponse{}, err
	}
	return DeleteRangeResponse{Revision: rev, Deleted: deleted}, nil
}

func (d *DirectApplier) applyTxn(ctx context.Context, req TxnRequest) (*mvcc.TxnResponse, error) {
	conds := make([]mvcc.Condition, len(req.Compare))
	for i, c := range req.Compare {
		conds[i] = c.Condition
	}

	txn := d.store.Txn(ctx).If(conds...).Then(req.Success...).Else(req.Failure...)
	return txn.Commit()
}
