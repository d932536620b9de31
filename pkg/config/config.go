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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the unified configuration tree.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds the server's top-level configuration.
type ServerConfig struct {
	ClusterID     uint64 `yaml:"cluster_id"`
	MemberID      uint64 `yaml:"member_id"`
	ListenAddress string `yaml:"listen_address"`

	GRPC        GRPCConfig        `yaml:"grpc"`
	Limits      LimitsConfig      `yaml:"limits"`
	Watch       WatchConfig       `yaml:"watch"`
	Lease       LeaseConfig       `yaml:"lease"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	Log         LogConfig         `yaml:"log"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	RocksDB     RocksDBConfig     `yaml:"rocksdb"`
}

// GRPCConfig configures the gRPC server and its interceptor chain.
type GRPCConfig struct {
	MaxRecvMsgSize       int    `yaml:"max_recv_msg_size"`      // Default 4MB
	MaxSendMsgSize       int    `yaml:"max_send_msg_size"`      // Default 4MB
	MaxConcurrentStreams uint32 `yaml:"max_concurrent_streams"` // Default 2048

	InitialWindowSize     int32 `yaml:"initial_window_size"`      // Default 8MB
	InitialConnWindowSize int32 `yaml:"initial_conn_window_size"` // Default 16MB

	KeepaliveTime         time.Duration `yaml:"keepalive_time"`
	KeepaliveTimeout      time.Duration `yaml:"keepalive_timeout"`
	MaxConnectionIdle     time.Duration `yaml:"max_connection_idle"`
	MaxConnectionAge      time.Duration `yaml:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `yaml:"max_connection_age_grace"`

	EnableRateLimit bool `yaml:"enable_rate_limit"`
	RateLimitQPS    int  `yaml:"rate_limit_qps"`
	RateLimitBurst  int  `yaml:"rate_limit_burst"`
}

// LimitsConfig caps outstanding resources per server instance.
type LimitsConfig struct {
	MaxConnections int   `yaml:"max_connections"`  // Default 1000
	MaxWatchCount  int   `yaml:"max_watch_count"`  // Default 10000
	MaxLeaseCount  int   `yaml:"max_lease_count"`  // Default 10000
	MaxRequestSize int64 `yaml:"max_request_size"` // Default 1.5MB
	MaxMemoryMB    int64 `yaml:"max_memory_mb"`    // Default 8192; 0 is replaced by the default
	MaxRequests    int64 `yaml:"max_requests"`     // Default 5000
}

// WatchConfig configures the watcher subsystem's dispatch and
// victim-retry behavior.
type WatchConfig struct {
	EventChannelCapacity int           `yaml:"event_channel_capacity"` // Default 128
	VictimInitialBackoff time.Duration `yaml:"victim_initial_backoff"` // Default 50ms
	VictimMaxBackoff     time.Duration `yaml:"victim_max_backoff"`     // Default 5s
	VictimMaxAttempts    int           `yaml:"victim_max_attempts"`    // Default 5
}

// LeaseConfig configures lease expiry sweeping and defaults.
type LeaseConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"` // Default 1s
	DefaultTTL    time.Duration `yaml:"default_ttl"`    // Default 60s
	BcryptCost    int           `yaml:"bcrypt_cost"`    // Default 10, for token-protected renewal
}

// MaintenanceConfig configures snapshot/compaction administrative ops.
type MaintenanceConfig struct {
	SnapshotChunkSize int `yaml:"snapshot_chunk_size"` // Default 4MB
}

// ReliabilityConfig configures shutdown, health checks, and panic
// recovery.
type ReliabilityConfig struct {
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`      // Default 30s
	DrainTimeout        time.Duration `yaml:"drain_timeout"`         // Default 5s
	EnableCRC           bool          `yaml:"enable_crc"`            // Default false
	EnableHealthCheck   bool          `yaml:"enable_health_check"`   // Default true
	EnablePanicRecovery bool          `yaml:"enable_panic_recovery"` // Default true
}

// LogConfig configures the zap-backed structured logger.
type LogConfig struct {
	Level            string   `yaml:"level"`              // Default info
	Encoding         string   `yaml:"encoding"`           // Default json
	OutputPaths      []string `yaml:"output_paths"`       // Default ["stdout"]
	ErrorOutputPaths []string `yaml:"error_output_paths"` // Default ["stderr"]
}

// MonitoringConfig configures the Prometheus metrics endpoint.
type MonitoringConfig struct {
	EnablePrometheus     bool          `yaml:"enable_prometheus"`      // Default true
	PrometheusPort       int           `yaml:"prometheus_port"`        // Default 9090
	SlowRequestThreshold time.Duration `yaml:"slow_request_threshold"` // Default 100ms
}

// RocksDBConfig holds tuning values for the cgo-gated disk-backed
// storage engine. storage.OpenRocksEngine does not read them; it opens
// the database with grocksdb's default options.
type RocksDBConfig struct {
	BlockCacheSize uint64 `yaml:"block_cache_size"` // Default 256MB

	WriteBufferSize             uint64 `yaml:"write_buffer_size"`                  // Default 64MB
	MaxWriteBufferNumber        int    `yaml:"max_write_buffer_number"`            // Default 3
	MinWriteBufferNumberToMerge int    `yaml:"min_write_buffer_number_to_merge"`   // Default 1

	MaxBackgroundJobs              int `yaml:"max_background_jobs"`                // Default 4
	Level0FileNumCompactionTrigger int `yaml:"level0_file_num_compaction_trigger"` // Default 4
	Level0SlowdownWritesTrigger    int `yaml:"level0_slowdown_writes_trigger"`     // Default 20
	Level0StopWritesTrigger        int `yaml:"level0_stop_writes_trigger"`         // Default 36

	BloomFilterBitsPerKey      int  `yaml:"bloom_filter_bits_per_key"`      // Default 10
	BlockBasedTableBloomFilter bool `yaml:"block_based_table_bloom_filter"` // Default true

	MaxOpenFiles int    `yaml:"max_open_files"` // Default 10000
	UseFsync     bool   `yaml:"use_fsync"`      // Default false (use fdatasync)
	BytesPerSync uint64 `yaml:"bytes_per_sync"` // Default 1MB
}

// DefaultConfig returns production-ready defaults for the given
// cluster/member identity and listen address.
func DefaultConfig(clusterID, memberID uint64, listenAddress string) *Config {
	cfg := &Config{
		Server: ServerConfig{
			ClusterID:     clusterID,
			MemberID:      memberID,
			ListenAddress: listenAddress,
		},
	}
	cfg.SetDefaults()
	return cfg
}

// LoadConfig loads, defaults, env-overrides, and validates configuration
// from a YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	cfg.OverrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadConfigOrDefault loads configuration from path if present, falling
// back to DefaultConfig when the file does not exist.
func LoadConfigOrDefault(path string, clusterID, memberID uint64, listenAddress string) (*Config, error) {
	if path != "" {
		cfg, err := LoadConfig(path)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := DefaultConfig(clusterID, memberID, listenAddress)
	cfg.OverrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SetDefaults fills every zero-valued field with its production
// default.
func (c *Config) SetDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":2379"
	}

	if c.Server.GRPC.MaxRecvMsgSize == 0 {
		c.Server.GRPC.MaxRecvMsgSize = 4194304
	}
	if c.Server.GRPC.MaxSendMsgSize == 0 {
		c.Server.GRPC.MaxSendMsgSize = 4194304
	}
	if c.Server.GRPC.MaxConcurrentStreams == 0 {
		c.Server.GRPC.MaxConcurrentStreams = 2048
	}
	if c.Server.GRPC.InitialWindowSize == 0 {
		c.Server.GRPC.InitialWindowSize = 8388608
	}
	if c.Server.GRPC.InitialConnWindowSize == 0 {
		c.Server.GRPC.InitialConnWindowSize = 16777216
	}
	if c.Server.GRPC.KeepaliveTime == 0 {
		c.Server.GRPC.KeepaliveTime = 10 * time.Second
	}
	if c.Server.GRPC.KeepaliveTimeout == 0 {
		c.Server.GRPC.KeepaliveTimeout = 10 * time.Second
	}
	if c.Server.GRPC.MaxConnectionIdle == 0 {
		c.Server.GRPC.MaxConnectionIdle = 300 * time.Second
	}
	if c.Server.GRPC.MaxConnectionAge == 0 {
		c.Server.GRPC.MaxConnectionAge = 10 * time.Minute
	}
	if c.Server.GRPC.MaxConnectionAgeGrace == 0 {
		c.Server.GRPC.MaxConnectionAgeGrace = 10 * time.Second
	}

	if c.Server.Limits.MaxConnections == 0 {
		c.Server.Limits.MaxConnections = 1000
	}
	if c.Server.Limits.MaxWatchCount == 0 {
		c.Server.Limits.MaxWatchCount = 10000
	}
	if c.Server.Limits.MaxLeaseCount == 0 {
		c.Server.Limits.MaxLeaseCount = 10000
	}
	if c.Server.Limits.MaxRequestSize == 0 {
		c.Server.Limits.MaxRequestSize = 1572864
	}
	if c.Server.Limits.MaxMemoryMB == 0 {
		c.Server.Limits.MaxMemoryMB = 8192
	}
	if c.Server.Limits.MaxRequests == 0 {
		c.Server.Limits.MaxRequests = 5000
	}

	if c.Server.Watch.EventChannelCapacity == 0 {
		c.Server.Watch.EventChannelCapacity = 128
	}
	if c.Server.Watch.VictimInitialBackoff == 0 {
		c.Server.Watch.VictimInitialBackoff = 50 * time.Millisecond
	}
	if c.Server.Watch.VictimMaxBackoff == 0 {
		c.Server.Watch.VictimMaxBackoff = 5 * time.Second
	}
	if c.Server.Watch.VictimMaxAttempts == 0 {
		c.Server.Watch.VictimMaxAttempts = 5
	}

	if c.Server.Lease.CheckInterval == 0 {
		c.Server.Lease.CheckInterval = time.Second
	}
	if c.Server.Lease.DefaultTTL == 0 {
		c.Server.Lease.DefaultTTL = 60 * time.Second
	}
	if c.Server.Lease.BcryptCost == 0 {
		c.Server.Lease.BcryptCost = 10
	}

	if c.Server.Maintenance.SnapshotChunkSize == 0 {
		c.Server.Maintenance.SnapshotChunkSize = 4 * 1024 * 1024
	}

	if c.Server.Reliability.ShutdownTimeout == 0 {
		c.Server.Reliability.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.Reliability.DrainTimeout == 0 {
		c.Server.Reliability.DrainTimeout = 5 * time.Second
	}
	if !c.Server.Reliability.EnableHealthCheck {
		c.Server.Reliability.EnableHealthCheck = true
	}
	if !c.Server.Reliability.EnablePanicRecovery {
		c.Server.Reliability.EnablePanicRecovery = true
	}

	if c.Server.Log.Level == "" {
		c.Server.Log.Level = "info"
	}
	if c.Server.Log.Encoding == "" {
		c.Server.Log.Encoding = "json"
	}
	if len(c.Server.Log.OutputPaths) == 0 {
		c.Server.Log.OutputPaths = []string{"stdout"}
	}
	if len(c.Server.Log.ErrorOutputPaths) == 0 {
		c.Server.Log.ErrorOutputPaths = []string{"stderr"}
	}

	if !c.Server.Monitoring.EnablePrometheus {
		c.Server.Monitoring.EnablePrometheus = true
	}
	if c.Server.Monitoring.PrometheusPort == 0 {
		c.Server.Monitoring.PrometheusPort = 9090
	}
	if c.Server.Monitoring.SlowRequestThreshold == 0 {
		c.Server.Monitoring.SlowRequestThreshold = 100 * time.Millisecond
	}

	if c.Server.RocksDB.BlockCacheSize == 0 {
		c.Server.RocksDB.BlockCacheSize = 268435456
	}
	if c.Server.RocksDB.WriteBufferSize == 0 {
		c.Server.RocksDB.WriteBufferSize = 67108864
	}
	if c.Server.RocksDB.MaxWriteBufferNumber == 0 {
		c.Server.RocksDB.MaxWriteBufferNumber = 3
	}
	if c.Server.RocksDB.MinWriteBufferNumberToMerge == 0 {
		c.Server.RocksDB.MinWriteBufferNumberToMerge = 1
	}
	if c.Server.RocksDB.MaxBackgroundJobs == 0 {
		c.Server.RocksDB.MaxBackgroundJobs = 4
	}
	if c.Server.RocksDB.Level0FileNumCompactionTrigger == 0 {
		c.Server.RocksDB.Level0FileNumCompactionTrigger = 4
	}
	if c.Server.RocksDB.Level0SlowdownWritesTrigger == 0 {
		c.Server.RocksDB.Level0SlowdownWritesTrigger = 20
	}
	if c.Server.RocksDB.Level0StopWritesTrigger == 0 {
		c.Server.RocksDB.Level0StopWritesTrigger = 36
	}
	if c.Server.RocksDB.BloomFilterBitsPerKey == 0 {
		c.Server.RocksDB.BloomFilterBitsPerKey = 10
	}
	if !c.Server.RocksDB.BlockBasedTableBloomFilter {
		c.Server.RocksDB.BlockBasedTableBloomFilter = true
	}
	if c.Server.RocksDB.MaxOpenFiles == 0 {
		c.Server.RocksDB.MaxOpenFiles = 10000
	}
	if c.Server.RocksDB.BytesPerSync == 0 {
		c.Server.RocksDB.BytesPerSync = 1048576
	}
}

// OverrideFromEnv applies XKV_* environment variable overrides on top
// of whatever was loaded from file/defaults.
func (c *Config) OverrideFromEnv() {
	if clusterID := os.Getenv("XKV_CLUSTER_ID"); clusterID != "" {
		if id, err := strconv.ParseUint(clusterID, 10, 64); err == nil {
			c.Server.ClusterID = id
		}
	}
	if memberID := os.Getenv("XKV_MEMBER_ID"); memberID != "" {
		if id, err := strconv.ParseUint(memberID, 10, 64); err == nil {
			c.Server.MemberID = id
		}
	}
	if listenAddr := os.Getenv("XKV_LISTEN_ADDRESS"); listenAddr != "" {
		c.Server.ListenAddress = listenAddr
	}
	if logLevel := os.Getenv("XKV_LOG_LEVEL"); logLevel != "" {
		c.Server.Log.Level = logLevel
	}
	if logEncoding := os.Getenv("XKV_LOG_ENCODING"); logEncoding != "" {
		c.Server.Log.Encoding = logEncoding
	}
}

// Validate rejects configurations that cannot safely start a server.
func (c *Config) Validate() error {
	if c.Server.ClusterID == 0 {
		return fmt.Errorf("cluster_id is required and must be non-zero")
	}
	if c.Server.MemberID == 0 {
		return fmt.Errorf("member_id is required and must be non-zero")
	}
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}

	if c.Server.GRPC.MaxRecvMsgSize < 0 {
		return fmt.Errorf("grpc.max_recv_msg_size must be >= 0")
	}
	if c.Server.GRPC.MaxSendMsgSize < 0 {
		return fmt.Errorf("grpc.max_send_msg_size must be >= 0")
	}

	if c.Server.Limits.MaxConnections <= 0 {
		return fmt.Errorf("limits.max_connections must be > 0")
	}
	if c.Server.Limits.MaxWatchCount <= 0 {
		return fmt.Errorf("limits.max_watch_count must be > 0")
	}
	if c.Server.Limits.MaxLeaseCount <= 0 {
		return fmt.Errorf("limits.max_lease_count must be > 0")
	}

	if c.Server.Watch.EventChannelCapacity <= 0 {
		return fmt.Errorf("watch.event_channel_capacity must be > 0")
	}
	if c.Server.Watch.VictimMaxAttempts <= 0 {
		return fmt.Errorf("watch.victim_max_attempts must be > 0")
	}

	if c.Server.Lease.CheckInterval <= 0 {
		return fmt.Errorf("lease.check_interval must be > 0")
	}
	if c.Server.Lease.BcryptCost < 4 || c.Server.Lease.BcryptCost > 31 {
		return fmt.Errorf("lease.bcrypt_cost must be between 4 and 31")
	}

	if c.Server.Maintenance.SnapshotChunkSize <= 0 {
		return fmt.Errorf("maintenance.snapshot_chunk_size must be > 0")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true,
		"error": true, "dpanic": true, "panic": true, "fatal": true,
	}
	if !validLogLevels[c.Server.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error, dpanic, panic, fatal")
	}
	if c.Server.Log.Encoding != "json" && c.Server.Log.Encoding != "console" {
		return fmt.Errorf("log.encoding must be either 'json' or 'console'")
	}

	return nil
}
