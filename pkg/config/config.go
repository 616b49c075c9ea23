package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration, loaded from a YAML file.
type Config struct {
	// Server holds the listen addresses.
	Server ServerConfig `yaml:"server"`

	// Pipeline controls trace buffering and evaluation.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Elasticsearch configures violation persistence.
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`

	// RulesFile optionally seeds the rule registry at startup with the
	// tenant rule definitions in the given YAML file.
	RulesFile string `yaml:"rules_file"`
}

type ServerConfig struct {
	// GRPCAddress is the OTLP trace ingestion listen address.
	GRPCAddress string `yaml:"grpc_address"`

	// MetricsAddress serves Prometheus metrics over HTTP.
	MetricsAddress string `yaml:"metrics_address"`
}

type PipelineConfig struct {
	// StalenessThreshold is how long a trace must be idle before it is
	// considered complete and handed to evaluation.
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`

	// SweepSchedule is the cron schedule for the staleness sweep.
	SweepSchedule string `yaml:"sweep_schedule"`

	// EvaluationTimeout bounds a single trace's rule pass.
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`

	// BatchTimeout bounds one whole sweep's worth of evaluations.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// ShardCount is the number of trace buffer shards.
	ShardCount int `yaml:"shard_count"`

	// WorkerCount is the size of the evaluation worker pool.
	WorkerCount int `yaml:"worker_count"`

	// SubmitQueueSize bounds the hand-off channel between the sweep and
	// the workers. A full queue drops the trace.
	SubmitQueueSize int `yaml:"submit_queue_size"`

	// EvaluatedTraceTTL is how long an evaluated trace ID is remembered
	// so late-arriving spans are dropped instead of re-buffered.
	EvaluatedTraceTTL time.Duration `yaml:"evaluated_trace_ttl"`
}

type ElasticsearchConfig struct {
	// Addresses lists the cluster endpoints. Empty disables persistence
	// and violations stay in the in-memory store only.
	Addresses []string `yaml:"addresses"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCAddress:    ":4317",
			MetricsAddress: ":9090",
		},
		Pipeline: PipelineConfig{
			StalenessThreshold: 5 * time.Second,
			SweepSchedule:      "@every 1s",
			EvaluationTimeout:  5 * time.Second,
			BatchTimeout:       10 * time.Second,
			ShardCount:         16,
			WorkerCount:        8,
			SubmitQueueSize:    1024,
			EvaluatedTraceTTL:  5 * time.Minute,
		},
		Elasticsearch: ElasticsearchConfig{},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.StalenessThreshold <= 0 {
		return fmt.Errorf("staleness_threshold must be positive, got %s", c.Pipeline.StalenessThreshold)
	}
	if c.Pipeline.EvaluationTimeout <= 0 {
		return fmt.Errorf("evaluation_timeout must be positive, got %s", c.Pipeline.EvaluationTimeout)
	}
	if c.Pipeline.BatchTimeout < c.Pipeline.EvaluationTimeout {
		return fmt.Errorf("batch_timeout %s must not be shorter than evaluation_timeout %s",
			c.Pipeline.BatchTimeout, c.Pipeline.EvaluationTimeout)
	}
	if c.Pipeline.ShardCount <= 0 {
		return fmt.Errorf("shard_count must be positive, got %d", c.Pipeline.ShardCount)
	}
	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", c.Pipeline.WorkerCount)
	}
	if c.Pipeline.SubmitQueueSize <= 0 {
		return fmt.Errorf("submit_queue_size must be positive, got %d", c.Pipeline.SubmitQueueSize)
	}
	return nil
}
