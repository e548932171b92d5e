// Package config defines the range server's typed configuration surface,
// loaded from a YAML file (spec.md §6).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RangeServerConfig controls the listener and worker pool.
type RangeServerConfig struct {
	Port    int `yaml:"port"`
	Workers int `yaml:"workers"`
}

// RangeConfig controls split/size thresholds a Range is maintained against.
type RangeConfig struct {
	SplitSize          int64 `yaml:"split_size"`
	MetadataSplitSize  int64 `yaml:"metadata_split_size"`
	MaximumSize        int64 `yaml:"maximum_size"`
}

// AccessGroupConfig controls when an access group compacts.
type AccessGroupConfig struct {
	MaxFiles   int   `yaml:"max_files"`
	MergeFiles int   `yaml:"merge_files"`
	MaxMemory  int64 `yaml:"max_memory"`
}

// MemoryLimitConfig bounds total cell-cache memory, either as an absolute
// byte count or a percentage of system RAM (Percentage wins when non-zero).
type MemoryLimitConfig struct {
	Bytes      int64   `yaml:"bytes"`
	Percentage float64 `yaml:"percentage"`
}

// ClockSkewConfig bounds how far an auto-assigned revision may fall
// behind a range's latest revision before validation rejects the
// mutation with CLOCK_SKEW, per spec.md §9(c): the server clock having
// regressed is treated as an error condition, not silently smoothed over.
type ClockSkewConfig struct {
	Max time.Duration `yaml:"max"`
}

// ScannerConfig bounds how long an idle scan context survives before the
// request cache reclaims it.
type ScannerConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// CommitLogConfig controls fragment rolling and pruning.
type CommitLogConfig struct {
	RollLimit      int64             `yaml:"roll_limit"`
	PruneThreshold PruneConfig       `yaml:"prune_threshold"`
	ErasureCoding  ErasureCodingConfig `yaml:"erasure_coding"`
}

// ErasureCodingConfig enables the commitlog package's optional
// Reed-Solomon parity sidecars for sealed fragments, a supplemental
// durability mode for deployments that keep only a single DFS replica.
// Disabled (the default) matches a standard HDFS deployment's triple
// replication, where the extra parity write and CPU cost buy nothing.
type ErasureCodingConfig struct {
	Enabled      bool `yaml:"enabled"`
	DataShards   int  `yaml:"data_shards"`
	ParityShards int  `yaml:"parity_shards"`
}

// PruneConfig is the min/max fragment count the pruning policy targets.
type PruneConfig struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// BlockCacheConfig bounds the cell-store block cache.
type BlockCacheConfig struct {
	MinMemory int64 `yaml:"min_memory"`
	MaxMemory int64 `yaml:"max_memory"`
}

// QueryCacheConfig bounds the range-server-wide query cache.
type QueryCacheConfig struct {
	MaxMemory int64 `yaml:"max_memory"`
}

// AdminConfig controls the fasthttp admin/stats surface.
type AdminConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     int    `yaml:"port"`
	JWTKey   string `yaml:"jwt_key"`
}

// DFSConfig selects which dfs.Filesystem backend the commit log and cell
// stores write through. DataDirectory is always treated as a path prefix
// within whichever backend is selected, not a separate local root.
type DFSConfig struct {
	Type string        `yaml:"type"` // "local" (default), "s3", "hdfs"
	S3   S3DFSConfig   `yaml:"s3"`
	HDFS HDFSDFSConfig `yaml:"hdfs"`
}

// S3DFSConfig configures the S3-backed DFS implementation.
type S3DFSConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// HDFSDFSConfig configures the HDFS-backed DFS implementation.
type HDFSDFSConfig struct {
	Namenode string `yaml:"namenode"`
}

// Config is the full range server configuration, spec.md §6.
type Config struct {
	RangeServer        RangeServerConfig `yaml:"range_server"`
	Range               RangeConfig       `yaml:"range"`
	AccessGroup          AccessGroupConfig `yaml:"access_group"`
	MaintenanceThreads   int               `yaml:"maintenance_threads"`
	MaintenanceInterval  time.Duration     `yaml:"maintenance_interval"`
	MemoryLimit          MemoryLimitConfig `yaml:"memory_limit"`
	ClockSkew            ClockSkewConfig   `yaml:"clock_skew"`
	Scanner              ScannerConfig     `yaml:"scanner"`
	CommitLog            CommitLogConfig   `yaml:"commit_log"`
	BlockCache           BlockCacheConfig  `yaml:"block_cache"`
	QueryCache           QueryCacheConfig  `yaml:"query_cache"`
	Admin                AdminConfig       `yaml:"admin"`
	DFS                  DFSConfig         `yaml:"dfs"`
	DataDirectory        string            `yaml:"data_directory"`
}

// Default returns the configuration the teacher's DefaultParams mirrors:
// sane standalone values suitable for a single-process dev instance.
func Default() *Config {
	return &Config{
		RangeServer: RangeServerConfig{Port: 38060, Workers: 8},
		Range: RangeConfig{
			SplitSize:         200 << 20,
			MetadataSplitSize: 64 << 20,
			MaximumSize:       400 << 20,
		},
		AccessGroup: AccessGroupConfig{
			MaxFiles:   10,
			MergeFiles: 4,
			MaxMemory:  4 << 20,
		},
		MaintenanceThreads:  4,
		MaintenanceInterval: 30 * time.Second,
		MemoryLimit:        MemoryLimitConfig{Percentage: 70},
		ClockSkew:          ClockSkewConfig{Max: 60 * time.Second},
		Scanner:            ScannerConfig{TTL: 2 * time.Minute},
		CommitLog: CommitLogConfig{
			RollLimit:      100 << 20,
			PruneThreshold: PruneConfig{Min: 3, Max: 10},
		},
		BlockCache: BlockCacheConfig{MinMemory: 16 << 20, MaxMemory: 256 << 20},
		QueryCache: QueryCacheConfig{MaxMemory: 32 << 20},
		Admin:      AdminConfig{Enabled: true, Port: 38061},
		DFS:           DFSConfig{Type: "local"},
		DataDirectory: "/var/rangeserverd",
	}
}

// Load reads and parses a YAML config file, starting from Default() so an
// omitted section keeps its default rather than zeroing out.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
