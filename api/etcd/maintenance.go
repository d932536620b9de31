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
	"encoding/binary"
	"hash/crc32"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"

	"xkv/internal/mvcc"
)

// MaintenanceServer implements the subset of etcd's Maintenance
// service that makes sense without cluster membership or Raft:
// status, defragmentation (a no-op here), hashing, and snapshotting.
type MaintenanceServer struct {
	pb.UnimplementedMaintenanceServer
	server    *Server
	chunkSize int
}

// Status reports the current revision and an approximate database
// size, computed from a full snapshot encode.
func (s *MaintenanceServer) Status(ctx context.Context, req *pb.StatusRequest) (*pb.StatusResponse, error) {
	snapshot, err := s.buildSnapshot()
	if err != nil {
		return nil, toGRPCError(err)
	}

	return &pb.StatusResponse{
		Header:    s.server.getResponseHeader(),
		Version:   "3.6.0-compatible",
		DbSize:    int64(len(snapshot)),
		Leader:    s.server.memberID,
		RaftIndex: uint64(s.server.store.CurrentRevision()),
		RaftTerm:  s.server.proposer.Term(),
	}, nil
}

// Defragment is a no-op: the MVCC store has no on-disk fragmentation
// to reclaim outside of Compact, which is a distinct operation.
func (s *MaintenanceServer) Defragment(ctx context.Context, req *pb.DefragmentRequest) (*pb.DefragmentResponse, error) {
	return &pb.DefragmentResponse{Header: s.server.getResponseHeader()}, nil
}

// Hash computes a CRC32 hash of the full keyspace snapshot, for
// cross-node consistency checks.
func (s *MaintenanceServer) Hash(ctx context.Context, req *pb.HashRequest) (*pb.HashResponse, error) {
	snapshot, err := s.buildSnapshot()
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.HashResponse{
		Header: s.server.getResponseHeader(),
		Hash:   crc32.ChecksumIEEE(snapshot),
	}, nil
}

// HashKV computes a CRC32 hash over every key/value pair currently
// visible, alongside the compaction revision as of the call.
func (s *MaintenanceServer) HashKV(ctx context.Context, req *pb.HashKVRequest) (*pb.HashKVResponse, error) {
	kvs, _, err := s.server.store.Range([]byte{0}, []byte{0}, 0, 0)
	if err != nil {
		return nil, toGRPCError(err)
	}

	hasher := crc32.NewIEEE()
	for _, kv := range kvs {
		hasher.Write(kv.Key)
		hasher.Write(kv.Value)
	}

	return &pb.HashKVResponse{
		Header:          s.server.getResponseHeader(),
		Hash:            hasher.Sum32(),
		CompactRevision: s.server.store.CompactedRevision(),
	}, nil
}

// Snapshot streams the full keyspace as a sequence of length-prefixed,
// codec-encoded KeyValue records, chunked to chunkSize bytes per send.
func (s *MaintenanceServer) Snapshot(req *pb.SnapshotRequest, stream pb.Maintenance_SnapshotServer) error {
	snapshot, err := s.buildSnapshot()
	if err != nil {
		return toGRPCError(err)
	}

	chunkSize := s.chunkSize
	if chunkSize <= 0 {
		chunkSize = 4 * 1024 * 1024
	}

	for i := 0; i < len(snapshot); i += chunkSize {
		end := i + chunkSize
		if end > len(snapshot) {
			end = len(snapshot)
		}
		if err := stream.Send(&pb.SnapshotResponse{
			Header:         s.server.getResponseHeader(),
			RemainingBytes: uint64(len(snapshot) - end),
			Blob:           snapshot[i:end],
		}); err != nil {
			return err
		}
	}
	return nil
}

// buildSnapshot encodes every visible key-value pair with
// mvcc.DefaultCodec, each record prefixed by its length, so Snapshot
// and the hashing RPCs share one on-the-wire representation.
func (s *MaintenanceServer) buildSnapshot() ([]byte, error) {
	kvs, _, err := s.server.store.Range([]byte{0}, []byte{0}, 0, 0)
	if err != nil {
		return nil, err
	}

	var buf []byte
	lenPrefix := make([]byte, 4)
	for _, kv := range kvs {
		encoded := mvcc.DefaultCodec.Encode(kv)
		binary.BigEndian.PutUint32(lenPrefix, uint32(len(encoded)))
		buf = append(buf, lenPrefix...)
		buf = append(buf, encoded...)
	}
	return buf, nil
}
