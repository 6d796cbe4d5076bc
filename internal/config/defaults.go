package config

const (
	defaultStagingDir          = "~/.local/share/conveyor/staging"
	defaultProcessedDir        = "~/.local/share/conveyor/processed"
	defaultLibraryDir          = "~/library"
	defaultLogDir              = "~/.local/share/conveyor/logs"
	defaultSourcePort          = 21
	defaultSourceTimeout       = 120
	defaultCopyWorkers         = 3
	defaultProcessWorkers      = 2
	defaultOrganizeWorkers     = 1
	defaultTranscribeWorkers   = 1
	defaultAnalyzeWorkers      = 1
	defaultPollInterval        = 5
	defaultErrorRetryInterval  = 15
	defaultRecoveryTick        = 60
	defaultMaxRecoveryAttempts = 5
	defaultJobMaxRetries       = 3
	defaultTranscoderBin       = "ffmpeg"
	defaultTranscoderTimeout   = 7200
	defaultTranscriberBin      = "whisper"
	defaultTranscriberModel    = "base"
	defaultAnalysisBaseURL     = "https://openrouter.ai/api/v1/chat/completions"
	defaultAnalysisModel       = "google/gemini-3-flash-preview"
	defaultAnalysisTimeout     = 60
	defaultNtfyTimeout         = 10
	defaultLogLevel            = "info"
	defaultLogFormat           = "console"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:   defaultStagingDir,
			ProcessedDir: defaultProcessedDir,
			LibraryDir:   defaultLibraryDir,
			LogDir:       defaultLogDir,
		},
		Source: Source{
			Port:           defaultSourcePort,
			TimeoutSeconds: defaultSourceTimeout,
		},
		Pipeline: Pipeline{
			CopyWorkers:         defaultCopyWorkers,
			ProcessWorkers:      defaultProcessWorkers,
			OrganizeWorkers:     defaultOrganizeWorkers,
			TranscribeWorkers:   defaultTranscribeWorkers,
			AnalyzeWorkers:      defaultAnalyzeWorkers,
			PollIntervalSeconds: defaultPollInterval,
			ErrorRetrySeconds:   defaultErrorRetryInterval,
			RecoveryTickSeconds: defaultRecoveryTick,
			MaxRecoveryAttempts: defaultMaxRecoveryAttempts,
			JobMaxRetries:       defaultJobMaxRetries,
		},
		Processing: Processing{
			TranscoderBin:  defaultTranscoderBin,
			TimeoutSeconds: defaultTranscoderTimeout,
		},
		Transcription: Transcription{
			Enabled:           false,
			ProgramOutputOnly: true,
			TranscriberBin:    defaultTranscriberBin,
			Model:             defaultTranscriberModel,
		},
		Analysis: Analysis{
			BaseURL:        defaultAnalysisBaseURL,
			Model:          defaultAnalysisModel,
			TimeoutSeconds: defaultAnalysisTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			Errors:         true,
			Completions:    true,
			Recovery:       false,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
