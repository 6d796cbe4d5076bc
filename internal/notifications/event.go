package notifications

import "time"

// EventType identifies what happened to a file or job.
type EventType string

const (
	EventFileDiscovered  EventType = "file_discovered"
	EventFileQueued      EventType = "file_queued"
	EventJobEnqueued     EventType = "job_enqueued"
	EventJobClaimed      EventType = "job_claimed"
	EventJobProgress     EventType = "job_progress"
	EventJobCompleted    EventType = "job_completed"
	EventJobFailed       EventType = "job_failed"
	EventJobCancelled    EventType = "job_cancelled"
	EventFileCompleted   EventType = "file_completed"
	EventRecoveryRequeue EventType = "recovery_requeue"
	EventManualRetry     EventType = "manual_retry_required"
)

// Event captures one transition for the sink.
type Event struct {
	Type            EventType
	FileID          int64
	JobID           int64
	Kind            string
	FileState       string
	JobState        string
	FailureCategory string
	Message         string
	OccurredAt      time.Time
}
