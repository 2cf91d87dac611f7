package config

import (
	"fmt"
	"strings"
)

// ValidationError collects every problem found in a Config so the caller
// reports them all at once instead of one failed field at a time.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Add(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the config for the structural errors the coordinator
// must refuse to start with (spec §7 ConfigInvalid). Unknown top-level
// keys are rejected earlier, at decode time, by LoadFromFile.
func (c *Config) Validate() error {
	ve := &ValidationError{}

	if len(c.Providers) == 0 {
		ve.Add("providers: at least one provider must be configured")
	}
	for i, p := range c.Providers {
		switch p.Type {
		case ProviderOCP, ProviderOCPAWS:
		default:
			ve.Add("providers[%d].type: %q must be OCP or OCP_AWS", i, p.Type)
		}
		if p.Markup < 0 || p.Markup > 1 {
			ve.Add("providers[%d].markup: %v must be in [0,1]", i, p.Markup)
		}
		if p.Type == ProviderOCP && p.SourceUUID == "" && p.OCPSourceUUID == "" {
			ve.Add("providers[%d]: OCP provider requires source_uuid or ocp_source_uuid", i)
		}
		if p.Type == ProviderOCPAWS {
			if p.OCPSourceUUID == "" {
				ve.Add("providers[%d]: OCP_AWS provider requires ocp_source_uuid", i)
			}
			if p.AWSSourceUUID == "" {
				ve.Add("providers[%d]: OCP_AWS provider requires aws_source_uuid", i)
			}
		}
	}

	if c.DateRange.Year == "" {
		ve.Add("date_range.year is required")
	}
	if c.DateRange.Month == "" {
		ve.Add("date_range.month is required")
	}

	if c.Database.Schema == "" {
		ve.Add("database.schema is required")
	}
	if c.ObjectStore.Bucket == "" {
		ve.Add("object_store.bucket is required")
	}

	if c.Performance.ParallelReaders < 1 {
		ve.Add("performance.parallel_readers must be >= 1")
	}
	if c.Performance.MaxWorkers < 1 {
		ve.Add("performance.max_workers must be >= 1")
	}
	if c.Performance.UseStreaming && c.Performance.ChunkSize < 1 {
		ve.Add("performance.chunk_size must be >= 1 when use_streaming is true")
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
