package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.StagingDir) == "" {
		problems = append(problems, "paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.LibraryDir) == "" {
		problems = append(problems, "paths.library_dir must be set")
	}
	if strings.TrimSpace(c.LogDir) == "" {
		problems = append(problems, "paths.log_dir must be set")
	}
	if c.Source.Port < 0 || c.Source.Port > 65535 {
		problems = append(problems, fmt.Sprintf("source.port %d out of range", c.Source.Port))
	}
	if c.Pipeline.PollIntervalSeconds < 1 {
		problems = append(problems, "pipeline.poll_interval_seconds must be at least 1")
	}
	if c.Pipeline.MaxRecoveryAttempts < 1 {
		problems = append(problems, "pipeline.max_recovery_attempts must be at least 1")
	}
	if c.Pipeline.JobMaxRetries < 0 {
		problems = append(problems, "pipeline.job_max_retries must not be negative")
	}
	for _, pool := range []struct {
		name  string
		count int
	}{
		{"copy_workers", c.Pipeline.CopyWorkers},
		{"process_workers", c.Pipeline.ProcessWorkers},
		{"organize_workers", c.Pipeline.OrganizeWorkers},
		{"transcribe_workers", c.Pipeline.TranscribeWorkers},
		{"analyze_workers", c.Pipeline.AnalyzeWorkers},
	} {
		if pool.count < 0 {
			problems = append(problems, fmt.Sprintf("pipeline.%s must not be negative", pool.name))
		}
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}
	if c.Transcription.Enabled && strings.TrimSpace(c.Transcription.TranscriberBin) == "" {
		problems = append(problems, "transcription.transcriber_bin must be set when transcription is enabled")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
