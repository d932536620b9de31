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
)

// LeaseServer implements etcd's Lease gRPC service over the core's
// lease.Manager.
type LeaseServer struct {
	pb.UnimplementedLeaseServer
	server *Server
}

// LeaseGrant creates a new lease, optionally with a caller-chosen ID.
func (s *LeaseServer) LeaseGrant(ctx context.Context, req *pb.LeaseGrantRequest) (*pb.LeaseGrantResponse, error) {
	l, err := s.server.leaseMgr.Grant(req.ID, req.TTL)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.LeaseGrantResponse{
		Header: s.server.getResponseHeader(),
		ID:     l.ID,
		TTL:    l.TTL,
	}, nil
}

// LeaseRevoke revokes a lease, deleting every key still attached to it.
func (s *LeaseServer) LeaseRevoke(ctx context.Context, req *pb.LeaseRevokeRequest) (*pb.LeaseRevokeResponse, error) {
	if err := s.server.leaseMgr.Revoke(req.ID); err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.LeaseRevokeResponse{Header: s.server.getResponseHeader()}, nil
}

// LeaseKeepAlive is a bidirectional stream: each request renews a
// lease's TTL clock and the server echoes back the new TTL, until the
// client closes the stream.
func (s *LeaseServer) LeaseKeepAlive(stream pb.Lease_LeaseKeepAliveServer) error {
	for {
		req, err := stream.Recv()
		if err != nil {
			return err
		}

		ttl, err := s.server.leaseMgr.Renew(req.ID)
		if err != nil {
			ttl = 0
		}

		if err := stream.Send(&pb.LeaseKeepAliveResponse{
			Header: s.server.getResponseHeader(),
			ID:     req.ID,
			TTL:    ttl,
		}); err != nil {
			return err
		}
	}
}

// LeaseTimeToLive reports a lease's remaining TTL and, if requested,
// the keys currently attached to it.
func (s *LeaseServer) LeaseTimeToLive(ctx context.Context, req *pb.LeaseTimeToLiveRequest) (*pb.LeaseTimeToLiveResponse, error) {
	l, err := s.server.leaseMgr.TimeToLive(req.ID)
	if err != nil {
		return nil, toGRPCError(err)
	}

	resp := &pb.LeaseTimeToLiveResponse{
		Header:     s.server.getResponseHeader(),
		ID:         l.ID,
		TTL:        int64(l.Remaining().Seconds()),
		GrantedTTL: l.TTL,
	}
	if req.Keys {
		resp.Keys = l.Keys()
	}
	return resp, nil
}

// LeaseLeases lists every outstanding lease ID.
func (s *LeaseServer) LeaseLeases(ctx context.Context, req *pb.LeaseLeasesRequest) (*pb.LeaseLeasesResponse, error) {
	leases := s.server.leaseMgr.Leases()
	out := make([]*pb.LeaseStatus, len(leases))
	for i, l := range leases {
		out[i] = &pb.LeaseStatus{ID: l.ID}
	}
	return &pb.LeaseLeasesResponse{
		Header: s.server.getResponseHeader(),
		Leases: out,
	}, nil
}
