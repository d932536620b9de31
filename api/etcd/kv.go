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

package etcd

import (
	"context"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	mvccpb "go.etcd.io/etcd/api/v3/mvccpb"

	"xkv/internal/command"
	"xkv/internal/mvcc"
)

// KVServer implements etcd's KV gRPC service over Command Glue: every
// request is wrapped as a command.Command and handed to the server's
// Proposer, which applies it to the MVCC Store.
type KVServer struct {
	pb.UnimplementedKVServer
	server *Server
}

// Range executes a ranged read.
func (s *KVServer) Range(ctx context.Context, req *pb.RangeRequest) (*pb.RangeResponse, error) {
	cmd := command.New(command.KindRange, command.RangeRequest{
		Key:       req.Key,
		RangeEnd:  req.RangeEnd,
		Limit:     req.Limit,
		Revision:  req.Revision,
		KeysOnly:  req.KeysOnly,
		CountOnly: req.CountOnly,

		SortOrder:  pbToSortOrder(req.SortOrder),
		SortTarget: pbToSortTarget(req.SortTarget),

		MinModRevision:    req.MinModRevision,
		MaxModRevision:    req.MaxModRevision,
		MinCreateRevision: req.MinCreateRevision,
		MaxCreateRevision: req.MaxCreateRevision,
	})

	result, err := s.server.proposer.Propose(ctx, cmd)
	if err != nil {
		return nil, toGRPCError(err)
	}
	resp := result.Response.(command.RangeResponse)

	return &pb.RangeResponse{
		Header: s.server.getResponseHeader(),
		Kvs:    kvsToPb(resp.Kvs),
		Count:  resp.Count,
	}, nil
}

// Put stores a key-value pair.
func (s *KVServer) Put(ctx context.Context, req *pb.PutRequest) (*pb.PutResponse, error) {
	cmd := command.New(command.KindPut, command.PutRequest{
		Key:         req.Key,
		Value:       req.Value,
		Lease:       req.Lease,
		IgnoreValue: req.IgnoreValue,
		IgnoreLease: req.IgnoreLease,
		PrevKv:      req.PrevKv,
	})

	result, err := s.server.proposer.Propose(ctx, cmd)
	if err != nil {
		return nil, toGRPCError(err)
	}
	resp := result.Response.(command.PutResponse)

	header := s.server.getResponseHeader()
	header.Revision = resp.Revision
	return &pb.PutResponse{
		Header: header,
		PrevKv: kvToPb(resp.PrevKv),
	}, nil
}

// DeleteRange deletes every key in [key, range_end).
func (s *KVServer) DeleteRange(ctx context.Context, req *pb.DeleteRangeRequest) (*pb.DeleteRangeResponse, error) {
	cmd := command.New(command.KindDeleteRange, command.DeleteRangeRequest{
		Key:      req.Key,
		RangeEnd: req.RangeEnd,
		PrevKv:   req.PrevKv,
	})

	result, err := s.server.proposer.Propose(ctx, cmd)
	if err != nil {
		return nil, toGRPCError(err)
	}
	resp := result.Response.(command.DeleteRangeResponse)

	header := s.server.getResponseHeader()
	header.Revision = resp.Revision
	return &pb.DeleteRangeResponse{
		Header:  header,
		Deleted: resp.Deleted,
	}, nil
}

// Txn executes a compare-and-swap transaction.
func (s *KVServer) Txn(ctx context.Context, req *pb.TxnRequest) (*pb.TxnResponse, error) {
	compare := make([]command.CompareEntry, len(req.Compare))
	for i, c := range req.Compare {
		compare[i] = pbToCompareEntry(c)
	}
	then := make([]mvcc.Op, len(req.Success))
	for i, op := range req.Success {
		then[i] = pbToOp(op)
	}
	els := make([]mvcc.Op, len(req.Failure))
	for i, op := range req.Failure {
		els[i] = pbToOp(op)
	}

	cmd := command.New(command.KindTxn, command.TxnRequest{Compare: compare, Success: then, Failure: els})
	result, err := s.server.proposer.Propose(ctx, cmd)
	if err != nil {
		return nil, toGRPCError(err)
	}
	txnResp := result.Response.(*mvcc.TxnResponse)

	header := s.server.getResponseHeader()
	header.Revision = txnResp.Revision
	responses := make([]*pb.ResponseOp, len(txnResp.Responses))
	for i, opResp := range txnResp.Responses {
		responses[i] = opResponseToPb(opResp)
	}
	return &pb.TxnResponse{
		Header:    header,
		Succeeded: txnResp.Succeeded,
		Responses: responses,
	}, nil
}

// Compact removes revisions below req.Revision. Compaction is an
// administrative operation on the store directly; it touches no
// single key range, so it bypasses Command Glue.
func (s *KVServer) Compact(ctx context.Context, req *pb.CompactionRequest) (*pb.CompactionResponse, error) {
	if err := s.server.store.Compact(req.Revision); err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.CompactionResponse{Header: s.server.getResponseHeader()}, nil
}

func pbToSortOrder(o pb.RangeRequest_SortOrder) command.SortOrder {
	switch o {
	case pb.RangeRequest_ASCEND:
		return command.SortAscend
	case pb.RangeRequest_DESCEND:
		return command.SortDescend
	default:
		return command.SortNone
	}
}

func pbToSortTarget(t pb.RangeRequest_SortTarget) command.SortTarget {
	switch t {
	case pb.RangeRequest_VERSION:
		return command.SortByVersion
	case pb.RangeRequest_CREATE:
		return command.SortByCreateRevision
	case pb.RangeRequest_MOD:
		return command.SortByModRevision
	case pb.RangeRequest_VALUE:
		return command.SortByValue
	default:
		return command.SortByKey
	}
}

func kvToPb(kv *mvcc.KeyValue) *mvccpb.KeyValue {
	if kv == nil {
		return nil
	}
	return &mvccpb.KeyValue{
		Key:            kv.Key,
		Value:          kv.Value,
		CreateRevision: kv.CreateRevision,
		ModRevision:    kv.ModRevision,
		Version:        kv.Version,
		Lease:          kv.Lease,
	}
}

func kvsToPb(kvs []*mvcc.KeyValue) []*mvccpb.KeyValue {
	out := make([]*mvccpb.KeyValue, len(kvs))
	for i, kv := range kvs {
		out[i] = kvToPb(kv)
	}
	return out
}

func pbToCompareEntry(cmp *pb.Compare) command.CompareEntry {
	cond := mvcc.Condition{Key: cmp.Key}

	switch cmp.Target {
	case pb.Compare_VERSION:
		cond.Target = mvcc.ConditionTargetVersion
		cond.Value = cmp.GetVersion()
	case pb.Compare_CREATE:
		cond.Target = mvcc.ConditionTargetCreateRevision
		cond.Value = cmp.GetCreateRevision()
	case pb.Compare_MOD:
		cond.Target = mvcc.ConditionTargetModRevision
		cond.Value = cmp.GetModRevision()
	case pb.Compare_VALUE:
		cond.Target = mvcc.ConditionTargetValue
		cond.Value = cmp.GetValue()
	}

	switch cmp.Result {
	case pb.Compare_EQUAL:
		cond.Compare = mvcc.CompareEqual
	case pb.Compare_GREATER:
		cond.Compare = mvcc.CompareGreater
	case pb.Compare_LESS:
		cond.Compare = mvcc.CompareLess
	case pb.Compare_NOT_EQUAL:
		cond.Compare = mvcc.CompareNotEqual
	}

	return command.CompareEntry{Condition: cond, RangeEnd: cmp.RangeEnd}
}

func pbToOp(reqOp *pb.RequestOp) mvcc.Op {
	if r := reqOp.GetRequestRange(); r != nil {
		return mvcc.Op{Type: mvcc.OpTypeGet, Key: r.Key, End: r.RangeEnd}
	}
	if p := reqOp.GetRequestPut(); p != nil {
		return mvcc.Op{Type: mvcc.OpTypePut, Key: p.Key, Value: p.Value, Lease: p.Lease}
	}
	if d := reqOp.GetRequestDeleteRange(); d != nil {
		if len(d.RangeEnd) == 0 {
			return mvcc.Op{Type: mvcc.OpTypeDelete, Key: d.Key}
		}
		return mvcc.Op{Type: mvcc.OpTypeDeleteRange, Key: d.Key, End: d.RangeEnd}
	}
	return mvcc.Op{}
}

func opResponseToPb(opResp mvcc.OpResponse) *pb.ResponseOp {
	switch opResp.Type {
	case mvcc.OpTypeGet:
		return &pb.ResponseOp{Response: &pb.ResponseOp_ResponseRange{
			ResponseRange: &pb.RangeResponse{Kvs: kvsToPb(opResp.Kvs), Count: int64(len(opResp.Kvs))},
		}}
	case mvcc.OpTypePut:
		return &pb.ResponseOp{Response: &pb.ResponseOp_ResponsePut{
			ResponsePut: &pb.PutResponse{PrevKv: kvToPb(opResp.PrevKv)},
		}}
	case mvcc.OpTypeDelete, mvcc.OpTypeDeleteRange:
		resp := &pb.DeleteRangeResponse{Deleted: opResp.Deleted}
		if opResp.PrevKv != nil {
			resp.PrevKvs = []*mvccpb.KeyValue{kvToPb(opResp.PrevKv)}
		}
		return &pb.ResponseOp{Response: &pb.ResponseOp_ResponseDeleteRange{ResponseDeleteRange: resp}}
	default:
		return &pb.ResponseOp{}
	}
}
