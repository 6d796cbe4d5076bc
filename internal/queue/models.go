package queue

import (
	"strings"
	"time"
)

// FileState represents the lifecycle of a pipeline file.
type FileState string

const (
	StateDiscovered FileState = "discovered"
	StateQueued     FileState = "queued"
	StateCopying    FileState = "copying"
	StateCopied     FileState = "copied"
	StateProcessing FileState = "processing"
	StateCompleted  FileState = "completed"
	StateFailed     FileState = "failed"
	StatePaused     FileState = "paused"
)

var allFileStates = []FileState{
	StateDiscovered,
	StateQueued,
	StateCopying,
	StateCopied,
	StateProcessing,
	StateCompleted,
	StateFailed,
	StatePaused,
}

var fileStateSet = func() map[FileState]struct{} {
	set := make(map[FileState]struct{}, len(allFileStates))
	for _, state := range allFileStates {
		set[state] = struct{}{}
	}
	return set
}()

// fileEdges is the closed transition table. Any attempted transition not
// listed here fails with ErrInvalidTransition. StateCompleted is terminal;
// StateFailed only re-enters the pipeline through checkpoint restore.
var fileEdges = map[FileState][]FileState{
	StateDiscovered: {StateQueued, StateFailed},
	StateQueued:     {StateCopying, StatePaused, StateFailed},
	StateCopying:    {StateCopied, StatePaused, StateFailed},
	StateCopied:     {StateProcessing, StateFailed},
	StateProcessing: {StateCompleted, StatePaused, StateFailed},
	StatePaused:     {StateQueued, StateCopying, StateProcessing},
	StateFailed:     {StateQueued},
	StateCompleted:  {},
}

// AllFileStates returns the ordered list of known file states.
func AllFileStates() []FileState {
	cp := make([]FileState, len(allFileStates))
	copy(cp, allFileStates)
	return cp
}

// ParseFileState converts a string into a known FileState.
func ParseFileState(value string) (FileState, bool) {
	normalized := FileState(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := fileStateSet[normalized]
	return normalized, ok
}

// CanTransition reports whether the edge from → to exists in the table.
func CanTransition(from, to FileState) bool {
	for _, candidate := range fileEdges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a TransitionError when the edge is not allowed.
func ValidateTransition(from, to FileState) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// IsTerminal reports whether a state has no outgoing edges.
func IsTerminal(state FileState) bool {
	return len(fileEdges[state]) == 0
}

// JobState represents the lifecycle of a single job.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// IsTerminal reports whether the job state is done or failed.
func (s JobState) IsTerminal() bool {
	return s == JobDone || s == JobFailed
}

// Kind identifies a pipeline stage type.
type Kind string

const (
	KindCopy       Kind = "copy"
	KindProcess    Kind = "process"
	KindOrganize   Kind = "organize"
	KindTranscribe Kind = "transcribe"
	KindAnalyze    Kind = "analyze"
)

// kindOrder is the fixed pipeline sequence. Transcribe and analyze form an
// optional sub-pipeline appended after organize.
var kindOrder = []Kind{KindCopy, KindProcess, KindOrganize, KindTranscribe, KindAnalyze}

var kindSet = func() map[Kind]struct{} {
	set := make(map[Kind]struct{}, len(kindOrder))
	for _, kind := range kindOrder {
		set[kind] = struct{}{}
	}
	return set
}()

// AllKinds returns the pipeline kinds in execution order.
func AllKinds() []Kind {
	cp := make([]Kind, len(kindOrder))
	copy(cp, kindOrder)
	return cp
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := kindSet[normalized]
	return normalized, ok
}

// NextKind returns the kind that follows the given one. The transcription
// sub-pipeline is entered after organize only when withTranscription is true.
func NextKind(kind Kind, withTranscription bool) (Kind, bool) {
	switch kind {
	case KindCopy:
		return KindProcess, true
	case KindProcess:
		return KindOrganize, true
	case KindOrganize:
		if withTranscription {
			return KindTranscribe, true
		}
		return "", false
	case KindTranscribe:
		return KindAnalyze, true
	default:
		return "", false
	}
}

// PreconditionState returns the file state a kind's job may be created from.
// This doubles as the checkpoint a failed or cancelled job of that kind rolls
// back to, so completed stages are never repeated.
func PreconditionState(kind Kind) FileState {
	switch kind {
	case KindCopy:
		return StateQueued
	case KindProcess:
		return StateCopied
	default:
		return StateProcessing
	}
}

// RunningState returns the file state recorded while a kind's job executes.
func RunningState(kind Kind) FileState {
	if kind == KindCopy {
		return StateCopying
	}
	return StateProcessing
}

// AcceleratorBound reports whether the kind requires the shared accelerator
// gate before running.
func AcceleratorBound(kind Kind) bool {
	return kind == KindTranscribe || kind == KindAnalyze
}

// File represents a media asset persisted in SQLite.
type File struct {
	ID                  int64
	State               FileState
	Priority            int
	QueueOrder          int64
	SessionID           string
	RemotePath          string
	LocalPath           string
	ProcessedPath       string
	FinalPath           string
	IsProgramOutput     bool
	ParentFileID        *int64
	FailureCategory     string
	FailureJobKind      Kind
	FailedAt            *time.Time
	RetryAfter          *time.Time
	RecoveryAttempts    int
	ManualRetryRequired bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Retryable reports whether automatic recovery may pick the file up again.
func (f *File) Retryable() bool {
	return f.State == StateFailed && !f.ManualRetryRequired && f.RetryAfter != nil
}

// Job represents one unit of work of a Kind against a File.
type Job struct {
	ID                    int64
	FileID                int64
	Kind                  Kind
	State                 JobState
	Priority int
	// Retries is the attempt index within the (file, kind) lineage: zero for
	// the first job, incrementing with every re-queued successor row.
	Retries               int
	MaxRetries            int
	ProgressPercent       float64
	ProgressStage         string
	IsCancellable         bool
	CancellationRequested bool
	CheckpointState       FileState
	ErrorMessage          string
	CreatedAt             time.Time
	StartedAt             *time.Time
	FinishedAt            *time.Time
	UpdatedAt             time.Time
}

// StatsSummary aggregates queue counts for diagnostics and the CLI.
type StatsSummary struct {
	TotalFiles  int
	ByState     map[FileState]int
	ActiveJobs  int
	QueuedJobs  int
	FailedFiles int
	ManualRetry int
}
