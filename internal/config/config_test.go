package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_ReturnsExpectedDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Performance.ParallelReaders != 4 {
		t.Errorf("ParallelReaders = %d, want 4", cfg.Performance.ParallelReaders)
	}
	if !cfg.Performance.UseStreaming {
		t.Error("UseStreaming = false, want true")
	}
	if cfg.Performance.ChunkSize != 50_000 {
		t.Errorf("ChunkSize = %d, want 50000", cfg.Performance.ChunkSize)
	}
	if cfg.ReaderMaxRetries != 5 {
		t.Errorf("ReaderMaxRetries = %d, want 5", cfg.ReaderMaxRetries)
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
providers:
  - type: OCP
    enabled: true
    source_uuid: "11111111-1111-1111-1111-111111111111"
    markup: 0.1
date_range:
  year: "2026"
  month: "06"
database:
  host: warehouse.internal
  port: 5432
  db: cost
  user: etl
  schema: org1234
object_store:
  endpoint: http://minio.internal:9000
  bucket: cost-data
performance:
  parallel_readers: 8
  use_streaming: true
  chunk_size: 10000
  max_workers: 8
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("len(Providers) = %d, want 1", len(cfg.Providers))
	}
	if cfg.Providers[0].Type != ProviderOCP {
		t.Errorf("Providers[0].Type = %q, want OCP", cfg.Providers[0].Type)
	}
	if cfg.Database.Schema != "org1234" {
		t.Errorf("Database.Schema = %q, want org1234", cfg.Database.Schema)
	}
	if cfg.Performance.ParallelReaders != 8 {
		t.Errorf("ParallelReaders = %d, want 8", cfg.Performance.ParallelReaders)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFromFile_UnknownKeyIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
providers: []
totally_unknown_key: true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("LoadFromFile() error = nil, want error for unknown key")
	}
}

func TestValidate_RequiresAtLeastOneProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DateRange = DateRange{Year: "2026", Month: "06"}
	cfg.Database.Schema = "org1"
	cfg.ObjectStore.Bucket = "bucket"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want error for zero providers")
	}
}

func TestValidate_RejectsMarkupOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DateRange = DateRange{Year: "2026", Month: "06"}
	cfg.Database.Schema = "org1"
	cfg.ObjectStore.Bucket = "bucket"
	cfg.Providers = []Provider{{Type: ProviderOCP, SourceUUID: "u", Markup: 1.5}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want error for markup > 1")
	}
}

func TestValidate_OCPAWSRequiresBothSourceUUIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DateRange = DateRange{Year: "2026", Month: "06"}
	cfg.Database.Schema = "org1"
	cfg.ObjectStore.Bucket = "bucket"
	cfg.Providers = []Provider{{Type: ProviderOCPAWS, OCPSourceUUID: "ocp-1"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want error for missing aws_source_uuid")
	}
}

func TestApplyEnvOverrides_FillsPartitionSelector(t *testing.T) {
	t.Setenv("POC_YEAR", "2025")
	t.Setenv("POC_MONTH", "11")
	t.Setenv("OCP_CLUSTER_ID", "cluster-xyz")

	cfg := DefaultConfig()
	cfg.Providers = []Provider{{Type: ProviderOCP}}
	cfg.applyEnvOverrides()

	if cfg.DateRange.Year != "2025" || cfg.DateRange.Month != "11" {
		t.Errorf("DateRange = %+v, want year=2025 month=11", cfg.DateRange)
	}
	if cfg.Providers[0].ClusterIDOverride != "cluster-xyz" {
		t.Errorf("ClusterIDOverride = %q, want cluster-xyz", cfg.Providers[0].ClusterIDOverride)
	}
}
