// Package config loads and validates the pipeline's YAML configuration
// (spec §6). It follows the teacher's pattern of a typed Config struct with
// a DefaultConfig constructor, a LoadFromFile that overlays YAML onto
// defaults, and environment-variable overrides for container deployments.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderType selects which component subgraph a provider entry runs.
type ProviderType string

const (
	ProviderOCP    ProviderType = "OCP"
	ProviderOCPAWS ProviderType = "OCP_AWS"
)

// Provider is one enabled source to aggregate in this run.
type Provider struct {
	Type                ProviderType `yaml:"type"`
	Enabled             bool         `yaml:"enabled"`
	SourceUUID          string       `yaml:"source_uuid"`
	AWSSourceUUID       string       `yaml:"aws_source_uuid"`
	OCPSourceUUID       string       `yaml:"ocp_source_uuid"`
	Markup              float64      `yaml:"markup"`
	ClusterIDOverride   string       `yaml:"cluster_id_override"`
	ClusterAliasOverride string      `yaml:"cluster_alias_override"`
}

// DateRange selects the partition month, with optional day-level bounds
// used only for row-value predicates within that month.
type DateRange struct {
	Year      string `yaml:"year"`
	Month     string `yaml:"month"`
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

// Database describes the target relational warehouse connection.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"db"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`
}

// ObjectStore describes the S3-compatible source of Parquet partitions.
type ObjectStore struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Performance tunes the coordinator's concurrency and streaming behaviour.
type Performance struct {
	ParallelReaders int  `yaml:"parallel_readers"`
	UseStreaming    bool `yaml:"use_streaming"`
	ChunkSize       int  `yaml:"chunk_size"`
	MaxWorkers      int  `yaml:"max_workers"`
	UseArrowCompute bool `yaml:"use_arrow_compute"`
	UseBulkCopy     bool `yaml:"use_bulk_copy"`
}

// Config is the top-level pipeline configuration (spec §6).
type Config struct {
	Providers   []Provider  `yaml:"providers"`
	DateRange   DateRange   `yaml:"date_range"`
	Database    Database    `yaml:"database"`
	ObjectStore ObjectStore `yaml:"object_store"`
	Performance Performance `yaml:"performance"`
	LogLevel    string      `yaml:"log_level"`

	// MemoryBudgetBytes bounds the reader's in-memory output when the
	// coordinator selects full (non-streaming) mode (spec §5).
	MemoryBudgetBytes int64 `yaml:"memory_budget_bytes"`

	// ProviderTimeout bounds a single provider's wall-clock runtime (spec §5,
	// §7 Timeout). Zero means no timeout.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`

	// ReaderRetry bounds the object-store reader's exponential backoff
	// (spec §4.11).
	ReaderMaxRetries int           `yaml:"reader_max_retries"`
	ReaderRetryBase  time.Duration `yaml:"reader_retry_base"`
}

// DefaultConfig returns a Config with sensible defaults; a loaded YAML file
// or environment overrides are layered on top of this baseline.
func DefaultConfig() *Config {
	return &Config{
		Performance: Performance{
			ParallelReaders: 4,
			UseStreaming:    true,
			ChunkSize:       50_000,
			MaxWorkers:      4,
			UseArrowCompute: true,
			UseBulkCopy:     true,
		},
		LogLevel:          "info",
		MemoryBudgetBytes: 2 << 30, // 2 GiB
		ProviderTimeout:   30 * time.Minute,
		ReaderMaxRetries:  5,
		ReaderRetryBase:   500 * time.Millisecond,
	}
}

// LoadFromFile loads config from a YAML file, overlaying it on defaults,
// then applies environment overrides.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file (unknown keys are errors): %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides fills in the partition selector and credentials from
// environment variables, for container deployments (spec §6).
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("POC_YEAR"); v != "" {
		c.DateRange.Year = v
	}
	if v := os.Getenv("POC_MONTH"); v != "" {
		c.DateRange.Month = v
	}
	ocpUUID := os.Getenv("OCP_PROVIDER_UUID")
	awsUUID := os.Getenv("AWS_PROVIDER_UUID")
	clusterID := os.Getenv("OCP_CLUSTER_ID")
	for i := range c.Providers {
		p := &c.Providers[i]
		if ocpUUID != "" && p.OCPSourceUUID == "" {
			p.OCPSourceUUID = ocpUUID
		}
		if awsUUID != "" && p.AWSSourceUUID == "" {
			p.AWSSourceUUID = awsUUID
		}
		if clusterID != "" && p.ClusterIDOverride == "" {
			p.ClusterIDOverride = clusterID
		}
	}
	if v := os.Getenv("OBJECT_STORE_ENDPOINT"); v != "" && c.ObjectStore.Endpoint == "" {
		c.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("OBJECT_STORE_ACCESS_KEY"); v != "" && c.ObjectStore.AccessKey == "" {
		c.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("OBJECT_STORE_SECRET_KEY"); v != "" && c.ObjectStore.SecretKey == "" {
		c.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" && c.Database.Password == "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DATABASE_PORT"); v != "" && c.Database.Port == 0 {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
}
