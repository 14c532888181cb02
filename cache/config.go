package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/IvanBrykalov/ringcache/policy"
	"github.com/IvanBrykalov/ringcache/replication"
	"gopkg.in/yaml.v3"
)

// Config is the file form of Options. Durations use Go syntax ("250ms").
//
//	nodes: [a, b, c]
//	capacityPerShard: 4096
//	evictionPolicy: lfu
//	replicationFactor: 2
//	writeConcern: majority
//	defaultTTL: 5m
type Config struct {
	Nodes               []string      `yaml:"nodes"`
	ShardsPerNode       int           `yaml:"shardsPerNode"`
	CapacityPerShard    int           `yaml:"capacityPerShard"`
	MaxCostPerShard     int64         `yaml:"maxCostPerShard"`
	EvictionPolicy      string        `yaml:"evictionPolicy"`
	TTLFallback         string        `yaml:"ttlFallback"`
	ReplicationFactor   int           `yaml:"replicationFactor"`
	WriteConcern        string        `yaml:"writeConcern"`
	ReadMode            string        `yaml:"readMode"`
	Propagation         string        `yaml:"propagation"`
	DefaultTTL          time.Duration `yaml:"defaultTTL"`
	VirtualNodes        int           `yaml:"virtualNodes"`
	HeartbeatInterval   time.Duration `yaml:"heartbeatInterval"`
	MaxMissedHeartbeats int           `yaml:"maxMissedHeartbeats"`
	SweepInterval       time.Duration `yaml:"sweepInterval"`
	RetryAttempts       int           `yaml:"retryAttempts"`
	RetryBackoff        time.Duration `yaml:"retryBackoff"`
	QueueSize           int           `yaml:"queueSize"`
	OpTimeout           time.Duration `yaml:"opTimeout"`
}

// LoadConfig reads a YAML Config from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cache: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML. Unknown fields are rejected so typos surface.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("cache: parse config: %w", err)
	}
	return cfg, nil
}

// FromConfig converts cfg into Options. Fields Config cannot express
// (Loader, Metrics, Logger, Dial, ...) are left zero for the caller to fill.
func FromConfig[V any](cfg Config) (Options[V], error) {
	var (
		opt Options[V]
		err error
	)
	if cfg.CapacityPerShard <= 0 {
		return opt, errors.New("cache: capacityPerShard must be > 0")
	}
	for _, id := range cfg.Nodes {
		opt.Nodes = append(opt.Nodes, NodeID(id))
	}
	if opt.EvictionPolicy, err = policy.ParseKind(cfg.EvictionPolicy); err != nil {
		return opt, err
	}
	if cfg.TTLFallback != "" {
		if opt.TTLFallback, err = policy.ParseKind(cfg.TTLFallback); err != nil {
			return opt, err
		}
	}
	if opt.WriteConcern, err = replication.ParseWriteConcern(cfg.WriteConcern); err != nil {
		return opt, err
	}
	if opt.ReadMode, err = replication.ParseReadMode(cfg.ReadMode); err != nil {
		return opt, err
	}
	if opt.Propagation, err = replication.ParsePropagation(cfg.Propagation); err != nil {
		return opt, err
	}
	opt.ShardsPerNode = cfg.ShardsPerNode
	opt.CapacityPerShard = cfg.CapacityPerShard
	opt.MaxCostPerShard = cfg.MaxCostPerShard
	opt.ReplicationFactor = cfg.ReplicationFactor
	opt.DefaultTTL = cfg.DefaultTTL
	opt.VirtualNodes = cfg.VirtualNodes
	opt.HeartbeatInterval = cfg.HeartbeatInterval
	opt.MaxMissedHeartbeats = cfg.MaxMissedHeartbeats
	opt.SweepInterval = cfg.SweepInterval
	opt.RetryAttempts = cfg.RetryAttempts
	opt.RetryBackoff = cfg.RetryBackoff
	opt.QueueSize = cfg.QueueSize
	opt.OpTimeout = cfg.OpTimeout
	return opt, nil
}
