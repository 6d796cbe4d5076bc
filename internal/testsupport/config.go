package testsupport

import (
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.StagingDir = filepath.Join(base, "staging")
	cfg.ProcessedDir = filepath.Join(base, "processed")
	cfg.LibraryDir = filepath.Join(base, "library")
	cfg.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithTranscription enables the transcribe/analyze sub-pipeline on the test
// config.
func WithTranscription(programOutputOnly bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Transcription.Enabled = true
		cfg.Transcription.ProgramOutputOnly = programOutputOnly
	}
}

// WithMaxRecoveryAttempts overrides the automatic recovery ceiling.
func WithMaxRecoveryAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.MaxRecoveryAttempts = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.StagingDir)
}
