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

// Package etcd implements an etcd-compatible gRPC facade (KV, Watch,
// Lease, Maintenance) over the core's MVCC Store, Command Glue and
// Watcher Subsystem.
package etcd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"

	"xkv/internal/command"
	"xkv/internal/lease"
	"xkv/internal/mvcc"
	"xkv/internal/watcher"
	"xkv/pkg/config"
	xkvgrpc "xkv/pkg/grpc"
	"xkv/pkg/log"
	"xkv/pkg/metrics"
	"xkv/pkg/reliability"
)

// Server is the etcd-compatible gRPC server: it owns the listener and
// grpc.Server and wires the KV, Watch, Lease and Maintenance services
// to a shared store, proposer and watcher subsystem.
type Server struct {
	store    mvcc.Store
	proposer command.Proposer
	watchSub *watcher.Subsystem
	leaseMgr *lease.Manager

	grpcSrv  *grpc.Server
	listener net.Listener

	shutdownMgr *reliability.GracefulShutdown
	resourceMgr *reliability.ResourceManager
	healthMgr   *reliability.HealthManager

	clusterID uint64
	memberID  uint64
	cfg       *config.Config
	logger    *zap.Logger
}

// Deps bundles the collaborators a Server wires together. All fields
// are required.
type Deps struct {
	Store    mvcc.Store
	Proposer command.Proposer
	WatchSub *watcher.Subsystem
	LeaseMgr *lease.Manager
}

// NewServer builds a Server listening on cfg.Server.ListenAddress,
// with every service registered and every shutdown hook wired in, but
// does not start serving — call Start for that.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Proposer == nil || deps.WatchSub == nil || deps.LeaseMgr == nil {
		return nil, fmt.Errorf("etcd: all of Store, Proposer, WatchSub, LeaseMgr are required")
	}

	listener, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("etcd: failed to listen on %s: %w", cfg.Server.ListenAddress, err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		zapLogger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	resourceMgr := reliability.NewResourceManager(reliability.ResourceLimits{
		MaxConnections: int64(cfg.Server.Limits.MaxConnections),
		MaxRequests:    cfg.Server.Limits.MaxRequests,
		MaxMemoryBytes: cfg.Server.Limits.MaxMemoryMB * 1024 * 1024,
	})
	healthMgr := reliability.NewHealthManager()
	shutdownMgr := reliability.NewGracefulShutdown(cfg.Server.Reliability.ShutdownTimeout)

	s := &Server{
		store:       deps.Store,
		proposer:    deps.Proposer,
		watchSub:    deps.WatchSub,
		leaseMgr:    deps.LeaseMgr,
		listener:    listener,
		shutdownMgr: shutdownMgr,
		resourceMgr: resourceMgr,
		healthMgr:   healthMgr,
		clusterID:   cfg.Server.ClusterID,
		memberID:    cfg.Server.MemberID,
		cfg:         cfg,
		logger:      zapLogger,
	}

	opts := xkvgrpc.NewServerOptionsBuilder(cfg, zapLogger).WithMetrics(m).Build()
	s.grpcSrv = grpc.NewServer(opts...)

	pb.RegisterKVServer(s.grpcSrv, &KVServer{server: s})
	pb.RegisterWatchServer(s.grpcSrv, &WatchServer{server: s})
	pb.RegisterLeaseServer(s.grpcSrv, &LeaseServer{server: s})
	pb.RegisterMaintenanceServer(s.grpcSrv, &MaintenanceServer{server: s, chunkSize: cfg.Server.Maintenance.SnapshotChunkSize})

	if cfg.Server.Reliability.EnableHealthCheck {
		healthpb.RegisterHealthServer(s.grpcSrv, healthMgr.GetServer())

		healthMgr.RegisterChecker(reliability.NewStorageHealthChecker("storage", func(ctx context.Context) error {
			if s.store == nil {
				return fmt.Errorf("storage is nil")
			}
			return nil
		}))
		healthMgr.RegisterChecker(reliability.NewLeaseHealthChecker("lease", func(ctx context.Context) error {
			if s.leaseMgr == nil {
				return fmt.Errorf("lease manager is nil")
			}
			return nil
		}))
		healthMgr.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	s.registerShutdownHooks(cfg)

	return s, nil
}

func (s *Server) registerShutdownHooks(cfg *config.Config) {
	s.shutdownMgr.RegisterHook(reliability.PhaseStopAccepting, func(ctx context.Context) error {
		log.Info("shutdown phase: stop accepting", log.Phase("StopAccepting"), log.Component("server"))
		if cfg.Server.Reliability.EnableHealthCheck {
			s.healthMgr.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		}
		return nil
	})

	s.shutdownMgr.RegisterHook(reliability.PhaseDrainConnections, func(ctx context.Context) error {
		log.Info("shutdown phase: drain connections", log.Phase("DrainConnections"), log.Component("server"))
		time.Sleep(cfg.Server.Reliability.DrainTimeout)
		return nil
	})

	s.shutdownMgr.RegisterHook(reliability.PhasePersistState, func(ctx context.Context) error {
		log.Info("shutdown phase: persist state", log.Phase("PersistState"), log.Component("server"))
		return nil
	})

	s.shutdownMgr.RegisterHook(reliability.PhaseCloseResources, func(ctx context.Context) error {
		log.Info("shutdown phase: close resources", log.Phase("CloseResources"), log.Component("server"))
		s.leaseMgr.Stop()
		s.watchSub.Close()
		s.resourceMgr.Close()
		s.grpcSrv.GracefulStop()
		return s.listener.Close()
	})
}

// Start runs the watcher dispatch loop, the lease expiry sweep, and
// the gRPC server, blocking until the listener closes.
func (s *Server) Start() error {
	log.Info("starting etcd-compatible gRPC server",
		log.String("address", s.listener.Addr().String()), log.Component("server"))

	s.leaseMgr.Start()
	reliability.SafeGo("watch-dispatch", s.watchSub.Run)
	reliability.SafeGo("shutdown-listener", s.shutdownMgr.Wait)

	return s.grpcSrv.Serve(s.listener)
}

// Stop triggers graceful shutdown; callers should follow with
// WaitForShutdown.
func (s *Server) Stop() {
	log.Info("triggering graceful shutdown", log.Component("server"))
	s.shutdownMgr.Shutdown()
}

// WaitForShutdown blocks until graceful shutdown has completed.
func (s *Server) WaitForShutdown() {
	<-s.shutdownMgr.Done()
	log.Info("server shutdown complete", log.Component("server"))
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) getResponseHeader() *pb.ResponseHeader {
	return &pb.ResponseHeader{
		ClusterId: s.clusterID,
		MemberId:  s.memberID,
		Revision:  s.store.CurrentRevision(),
		RaftTerm:  s.proposer.Term(),
	}
}
