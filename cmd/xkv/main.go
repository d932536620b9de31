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

package main

import (
	"flag"
	"fmt"
	stdlog "log"
	"os"

	"xkv/api/etcd"
	"xkv/internal/command"
	"xkv/internal/lease"
	"xkv/internal/mvcc"
	"xkv/internal/storage"
	"xkv/internal/watcher"
	"xkv/pkg/config"
	"xkv/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; defaults are used when empty")
	clusterID := flag.Uint64("cluster-id", 1, "cluster ID")
	memberID := flag.Uint64("member-id", 1, "member ID")
	listenAddr := flag.String("listen-address", ":2379", "gRPC listen address for etcd compatibility")
	storageEngine := flag.String("storage", "memory", "storage engine: memory or rocksdb")
	dataDir := flag.String("data-dir", "data/xkv", "data directory for the rocksdb storage engine")

	flag.Parse()

	cfg, err := config.LoadConfigOrDefault(*configPath, *clusterID, *memberID, *listenAddr)
	if err != nil {
		stdlog.Fatalf("xkv: failed to load config: %v", err)
	}

	if err := log.InitFromConfig(&cfg.Server.Log); err != nil {
		stdlog.Fatalf("xkv: failed to init logger: %v", err)
	}

	engine, err := openEngine(*storageEngine, *dataDir)
	if err != nil {
		stdlog.Fatalf("xkv: failed to open storage engine: %v", err)
	}

	store := mvcc.NewMemoryStore(engine)
	applier := command.NewDirectApplier(store)
	watchSub := watcher.New(store)
	leaseMgr := lease.New(store, lease.Config{
		CheckInterval: cfg.Server.Lease.CheckInterval,
		DefaultTTL:    cfg.Server.Lease.DefaultTTL,
		MaxLeaseCount: cfg.Server.Limits.MaxLeaseCount,
		BcryptCost:    cfg.Server.Lease.BcryptCost,
	})

	server, err := etcd.NewServer(cfg, etcd.Deps{
		Store:    store,
		Proposer: applier,
		WatchSub: watchSub,
		LeaseMgr: leaseMgr,
	})
	if err != nil {
		stdlog.Fatalf("xkv: failed to build server: %v", err)
	}

	if err := server.Start(); err != nil {
		log.Errorf("xkv: server exited: %v", err)
		os.Exit(1)
	}
}

// openEngine constructs the storage.Engine backing the KV store. The
// rocksdb path is only available in cgo builds; storage.OpenRocksEngine
// does not exist otherwise, so that branch is isolated behind a build
// tag in rocks_engine.go.
func openEngine(kind, dataDir string) (storage.Engine, error) {
	switch kind {
	case "memory":
		return storage.NewMemoryEngine("kv", "lease"), nil
	case "rocksdb":
		return openRocksEngine(dataDir)
	default:
		return nil, fmt.Errorf("xkv: unknown storage engine %q, supported: memory, rocksdb", kind)
	}
}
