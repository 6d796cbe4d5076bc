package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conveyor/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pipeline.MaxRecoveryAttempts != 5 {
		t.Fatalf("max_recovery_attempts = %d, want 5", cfg.Pipeline.MaxRecoveryAttempts)
	}
	if cfg.Transcription.Enabled {
		t.Fatal("transcription enabled by default")
	}
	if cfg.Processing.TranscoderBin != "ffmpeg" {
		t.Fatalf("transcoder_bin = %q", cfg.Processing.TranscoderBin)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	doc := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
library_dir = "` + filepath.Join(dir, "library") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[pipeline]
copy_workers = 7

[transcription]
enabled = true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, used, found, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found || used != path {
		t.Fatalf("found=%v used=%q", found, used)
	}
	if cfg.Pipeline.CopyWorkers != 7 {
		t.Fatalf("copy_workers = %d, want 7", cfg.Pipeline.CopyWorkers)
	}
	// Unset fields keep their defaults.
	if cfg.Pipeline.ProcessWorkers != 2 {
		t.Fatalf("process_workers = %d, want default 2", cfg.Pipeline.ProcessWorkers)
	}
	if !cfg.Transcription.Enabled {
		t.Fatal("transcription not enabled")
	}
	if cfg.Transcription.TranscriberBin != "whisper" {
		t.Fatalf("transcriber_bin = %q, want default whisper", cfg.Transcription.TranscriberBin)
	}
}

func TestLoadRejectsMissingExplicitPath(t *testing.T) {
	_, _, found, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	if found {
		t.Fatal("found=true for missing file")
	}
}

func TestLoadRejectsInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[pipeline]\npoll_interval_seconds = 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "poll_interval_seconds") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := config.Default()
	cfg.StagingDir = ""
	cfg.Logging.Format = "xml"
	cfg.Source.Port = 70000

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"staging_dir", "logging.format", "source.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestValidateTranscriptionNeedsBinary(t *testing.T) {
	cfg := config.Default()
	cfg.Transcription.Enabled = true
	cfg.Transcription.TranscriberBin = " "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected transcriber_bin validation failure")
	}
}

func TestWorkerCountDefaultsToOne(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.OrganizeWorkers = 0
	if n := cfg.Pipeline.WorkerCount("organize"); n != 1 {
		t.Fatalf("organize workers = %d, want 1", n)
	}
	if n := cfg.Pipeline.WorkerCount("copy"); n != 3 {
		t.Fatalf("copy workers = %d, want 3", n)
	}
	if n := cfg.Pipeline.WorkerCount("unknown"); n != 1 {
		t.Fatalf("unknown kind workers = %d, want 1", n)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	got, err := config.ExpandPath("~/media")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	if got != filepath.Join(home, "media") {
		t.Fatalf("ExpandPath = %q", got)
	}

	empty, err := config.ExpandPath("  ")
	if err != nil || empty != "" {
		t.Fatalf("blank path = %q, %v", empty, err)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, found, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !found {
		t.Fatal("sample not found")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample invalid: %v", err)
	}
}
