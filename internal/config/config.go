package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir   string `toml:"staging_dir"`
	ProcessedDir string `toml:"processed_dir"`
	LibraryDir   string `toml:"library_dir"`
	LogDir       string `toml:"log_dir"`
}

// Source describes the remote origin files are copied from. The transport
// itself is an external collaborator; these settings are handed to the
// injected fetcher.
type Source struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	RootDir        string `toml:"root_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Pipeline contains orchestration tuning: pool sizes, poll cadence, and the
// recovery ceiling.
type Pipeline struct {
	CopyWorkers         int `toml:"copy_workers"`
	ProcessWorkers      int `toml:"process_workers"`
	OrganizeWorkers     int `toml:"organize_workers"`
	TranscribeWorkers   int `toml:"transcribe_workers"`
	AnalyzeWorkers      int `toml:"analyze_workers"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	ErrorRetrySeconds   int `toml:"error_retry_seconds"`
	RecoveryTickSeconds int `toml:"recovery_tick_seconds"`
	MaxRecoveryAttempts int `toml:"max_recovery_attempts"`
	JobMaxRetries       int `toml:"job_max_retries"`
}

// Transcription gates the optional transcribe/analyze sub-pipeline.
type Transcription struct {
	Enabled           bool   `toml:"enabled"`
	ProgramOutputOnly bool   `toml:"program_output_only"`
	TranscriberBin    string `toml:"transcriber_bin"`
	Model             string `toml:"model"`
}

// Processing configures the external transcoder the process stage shells
// out to.
type Processing struct {
	TranscoderBin  string   `toml:"transcoder_bin"`
	ExtraArgs      []string `toml:"extra_args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Analysis configures the HTTP summarizer used by the analyze stage.
type Analysis struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Errors         bool   `toml:"errors"`
	Completions    bool   `toml:"completions"`
	Recovery       bool   `toml:"recovery"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration document. Sections are embedded so common
// fields (LogDir, StagingDir) read naturally at call sites.
type Config struct {
	Paths         `toml:"paths"`
	Source        `toml:"source"`
	Pipeline      `toml:"pipeline"`
	Processing    `toml:"processing"`
	Transcription `toml:"transcription"`
	Analysis      `toml:"analysis"`
	Notifications `toml:"notifications"`
	Logging       `toml:"logging"`
}

// SampleConfig returns the embedded sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the sample configuration document to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	return filepath.Join("~", ".config", "conveyor", "config.toml")
}

// Load reads configuration from path (or the default locations when empty),
// merges it over defaults, normalizes, and validates. It returns the config,
// the path used, and whether a file was actually found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, true, fmt.Errorf("parse config %s: %w", resolved, err)
		}
		if err := cfg.normalize(); err != nil {
			return nil, resolved, true, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, resolved, true, err
		}
		return &cfg, resolved, true, nil
	case errors.Is(err, fs.ErrNotExist):
		if path != "" {
			return nil, resolved, false, fmt.Errorf("config file %s does not exist", resolved)
		}
		if err := cfg.normalize(); err != nil {
			return nil, resolved, false, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, resolved, false, err
		}
		return &cfg, resolved, false, nil
	default:
		return nil, resolved, false, fmt.Errorf("read config %s: %w", resolved, err)
	}
}

func resolveConfigPath(path string) (string, error) {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		candidate = strings.TrimSpace(os.Getenv("CONVEYOR_CONFIG"))
	}
	if candidate == "" {
		candidate = DefaultConfigPath()
	}
	return ExpandPath(candidate)
}

// ExpandPath expands a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	return abs, nil
}

// EnsureDirectories creates the configured working directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StagingDir, c.Paths.ProcessedDir, c.Paths.LibraryDir, c.Paths.LogDir}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WorkerCount returns the configured pool size for a kind name, defaulting
// to one.
func (p Pipeline) WorkerCount(kind string) int {
	var n int
	switch kind {
	case "copy":
		n = p.CopyWorkers
	case "process":
		n = p.ProcessWorkers
	case "organize":
		n = p.OrganizeWorkers
	case "transcribe":
		n = p.TranscribeWorkers
	case "analyze":
		n = p.AnalyzeWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (c *Config) normalize() error {
	fields := []*string{
		&c.Paths.StagingDir,
		&c.Paths.ProcessedDir,
		&c.Paths.LibraryDir,
		&c.Paths.LogDir,
	}
	for _, field := range fields {
		expanded, err := ExpandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}
