package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
)

func TestNewFileDefaults(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	file, err := store.NewFile(ctx, "/remote/a.mkv", "session-1", 3, true, nil)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if file.State != queue.StateDiscovered {
		t.Fatalf("state = %s, want %s", file.State, queue.StateDiscovered)
	}
	if file.Priority != 3 {
		t.Fatalf("priority = %d, want 3", file.Priority)
	}
	if !file.IsProgramOutput {
		t.Fatal("is_program_output not persisted")
	}
	if file.QueueOrder != file.ID {
		t.Fatalf("queue_order = %d, want %d", file.QueueOrder, file.ID)
	}

	loaded, err := store.FileByID(ctx, file.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.RemotePath != "/remote/a.mkv" || loaded.SessionID != "session-1" {
		t.Fatalf("reload mismatch: %+v", loaded)
	}
}

func TestTransitionFileRejectsIllegalEdge(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file := testsupport.NewFile(t, store, "/remote/a.mkv")

	err := store.TransitionFile(ctx, file.ID, queue.StateDiscovered, queue.StateCopying)
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	loaded, err := store.FileByID(ctx, file.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.State != queue.StateDiscovered {
		t.Fatalf("state mutated to %s by rejected transition", loaded.State)
	}
}

func TestTransitionFileStaleSource(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file := testsupport.QueuedFile(t, store, "/remote/a.mkv")

	// Legal edge, but the stored state no longer matches the expected source.
	err := store.TransitionFile(ctx, file.ID, queue.StateDiscovered, queue.StateQueued)
	var transitionErr *queue.TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestListFilesOrdering(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	low, err := store.NewFile(ctx, "/remote/low.mkv", "s", 0, false, nil)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	high, err := store.NewFile(ctx, "/remote/high.mkv", "s", 5, false, nil)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	files, err := store.ListFiles(ctx)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].ID != high.ID || files[1].ID != low.ID {
		t.Fatalf("ordering wrong: got [%d %d], want [%d %d]", files[0].ID, files[1].ID, high.ID, low.ID)
	}
}

func TestInsertJobRejectsActiveDuplicate(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file := testsupport.QueuedFile(t, store, "/remote/a.mkv")

	if _, err := store.InsertJob(ctx, file.ID, queue.KindCopy, 0, 1); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	_, err := store.InsertJob(ctx, file.ID, queue.KindCopy, 0, 1)
	if !errors.Is(err, queue.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestClaimNextMarksRunningAndAdvancesFile(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)

	claimed, err := store.ClaimNext(ctx, queue.KindCopy, 0)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("claimed = %+v, want job %d", claimed, job.ID)
	}
	if claimed.State != queue.JobRunning {
		t.Fatalf("claimed state = %s, want running", claimed.State)
	}
	if claimed.StartedAt == nil {
		t.Fatal("started_at not recorded")
	}

	loaded, err := store.FileByID(ctx, file.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.State != queue.StateCopying {
		t.Fatalf("file state = %s, want copying", loaded.State)
	}

	// Nothing else queued.
	again, err := store.ClaimNext(ctx, queue.KindCopy, 0)
	if err != nil {
		t.Fatalf("second ClaimNext: %v", err)
	}
	if again != nil {
		t.Fatalf("second claim returned job %d", again.ID)
	}
}

func TestClaimNextPriorityOrder(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	_, lowJob := testsupport.QueuedJob(t, store, "/remote/low.mkv", queue.KindCopy)
	highFile := testsupport.QueuedFile(t, store, "/remote/high.mkv")
	highJob, err := store.InsertJob(ctx, highFile.ID, queue.KindCopy, 9, 1)
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	first, err := store.ClaimNext(ctx, queue.KindCopy, 0)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if first == nil || first.ID != highJob.ID {
		t.Fatalf("first claim = %+v, want high-priority job %d", first, highJob.ID)
	}
	second, err := store.ClaimNext(ctx, queue.KindCopy, 0)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if second == nil || second.ID != lowJob.ID {
		t.Fatalf("second claim = %+v, want job %d", second, lowJob.ID)
	}
}

func TestRequeuedJobImmediatelyClaimable(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)

	if _, err := store.ClaimNext(ctx, queue.KindCopy, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	future := time.Now().UTC().Add(time.Hour)
	if err := store.FailJob(ctx, job.ID, queue.FailureInfo{
		Message:    "connection refused",
		Category:   "FTP_CONNECTION",
		Kind:       queue.KindCopy,
		RetryAfter: &future,
	}); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	fresh, err := store.RequeueFailed(ctx, file.ID, queue.KindCopy, queue.StateQueued, 1, 0, 1)
	if err != nil {
		t.Fatalf("RequeueFailed: %v", err)
	}

	// RequeueFailed cleared retry_after, so the fresh job is ready now even
	// though the original backoff window has not elapsed.
	claimed, err := store.ClaimNext(ctx, queue.KindCopy, 0)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != fresh.ID {
		t.Fatalf("claimed = %+v, want job %d", claimed, fresh.ID)
	}
}

func TestClaimNextEnforcesRunningCeiling(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	_, first := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)
	testsupport.QueuedJob(t, store, "/remote/b.mkv", queue.KindCopy)

	claimed, err := store.ClaimNext(ctx, queue.KindCopy, 1)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("claimed = %+v, want job %d", claimed, first.ID)
	}

	// The ceiling is counted inside the claim transaction: with one copy
	// job running, the second candidate stays queued.
	blocked, err := store.ClaimNext(ctx, queue.KindCopy, 1)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if blocked != nil {
		t.Fatalf("claimed job %d past the running ceiling", blocked.ID)
	}

	if _, err := store.CompleteJob(ctx, claimed.ID, queue.StateCopied, nil); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	next, err := store.ClaimNext(ctx, queue.KindCopy, 1)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if next == nil {
		t.Fatal("no claim after the running job completed")
	}
}

func TestInsertJobRecordsAttemptLineage(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	file, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)
	if job.Retries != 0 {
		t.Fatalf("first attempt Retries = %d, want 0", job.Retries)
	}

	if _, err := store.ClaimNext(ctx, queue.KindCopy, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.FailJob(ctx, job.ID, queue.FailureInfo{
		Message:  "connection refused",
		Category: "FTP_CONNECTION",
		Kind:     queue.KindCopy,
	}); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	fresh, err := store.RequeueFailed(ctx, file.ID, queue.KindCopy, queue.StateQueued, 1, 0, 1)
	if err != nil {
		t.Fatalf("RequeueFailed: %v", err)
	}
	if fresh.Retries != 1 {
		t.Fatalf("second attempt Retries = %d, want 1", fresh.Retries)
	}
}

func TestClaimNextConcurrentSingleWinner(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	_, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan *queue.Job, claimers)
	errs := make(chan error, claimers)

	wg.Add(claimers)
	for i := 0; i < claimers; i++ {
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimNext(ctx, queue.KindCopy, 0)
			if err != nil {
				errs <- err
				return
			}
			results <- claimed
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("ClaimNext: %v", err)
	}
	var winners int
	for claimed := range results {
		if claimed != nil {
			winners++
			if claimed.ID != job.ID {
				t.Fatalf("claimed unexpected job %d", claimed.ID)
			}
		}
	}
	if winners != 1 {
		t.Fatalf("%d claimers won, want exactly 1", winners)
	}
}

func TestCompleteJobAdvancesAndEnqueuesNext(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)

	if _, err := store.ClaimNext(ctx, queue.KindCopy, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	next, err := store.CompleteJob(ctx, job.ID, queue.StateCopied, &queue.NextEnqueue{Kind: queue.KindProcess, MaxRetries: 1})
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if next == nil || next.Kind != queue.KindProcess || next.State != queue.JobQueued {
		t.Fatalf("next job = %+v", next)
	}

	done, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if done.State != queue.JobDone || done.ProgressPercent != 100 || done.FinishedAt == nil {
		t.Fatalf("completed job = %+v", done)
	}
	loaded, err := store.FileByID(ctx, file.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.State != queue.StateCopied {
		t.Fatalf("file state = %s, want copied", loaded.State)
	}
}

func TestCompleteJobRequiresRunning(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	_, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)

	_, err := store.CompleteJob(ctx, job.ID, queue.StateCopied, nil)
	if !errors.Is(err, queue.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestFailJobRecordsFailureMetadata(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)

	if _, err := store.ClaimNext(ctx, queue.KindCopy, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	retryAfter := time.Now().UTC().Add(2 * time.Minute)
	err := store.FailJob(ctx, job.ID, queue.FailureInfo{
		Message:    "connection reset",
		Category:   "FTP_CONNECTION",
		Kind:       queue.KindCopy,
		RetryAfter: &retryAfter,
	})
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	loaded, err := store.FileByID(ctx, file.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.State != queue.StateFailed {
		t.Fatalf("file state = %s, want failed", loaded.State)
	}
	if loaded.FailureCategory != "FTP_CONNECTION" || loaded.FailureJobKind != queue.KindCopy {
		t.Fatalf("failure metadata = %q/%q", loaded.FailureCategory, loaded.FailureJobKind)
	}
	if loaded.FailedAt == nil || loaded.RetryAfter == nil {
		t.Fatal("failed_at / retry_after not recorded")
	}
	if loaded.ManualRetryRequired {
		t.Fatal("manual retry set for automatic failure")
	}
}

func TestRequeueFailedRestoresCheckpointAndAudit(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindProcess)

	if _, err := store.ClaimNext(ctx, queue.KindProcess, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.FailJob(ctx, job.ID, queue.FailureInfo{
		Message:  "transcoder exited with status 1",
		Category: "PROCESSING_ERROR",
		Kind:     queue.KindProcess,
	}); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	fresh, err := store.RequeueFailed(ctx, file.ID, queue.KindProcess, queue.StateCopied, 1, 0, 1)
	if err != nil {
		t.Fatalf("RequeueFailed: %v", err)
	}
	if fresh.ID == job.ID {
		t.Fatal("retry reused the failed job row")
	}
	if fresh.State != queue.JobQueued || fresh.Kind != queue.KindProcess {
		t.Fatalf("fresh job = %+v", fresh)
	}

	// The failed job remains as the audit record.
	old, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if old.State != queue.JobFailed || old.ErrorMessage == "" {
		t.Fatalf("audit job mutated: %+v", old)
	}

	loaded, err := store.FileByID(ctx, file.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.State != queue.StateCopied {
		t.Fatalf("checkpoint state = %s, want copied", loaded.State)
	}
	if loaded.FailureCategory != "" || loaded.FailedAt != nil || loaded.RetryAfter != nil {
		t.Fatalf("failure bookkeeping not cleared: %+v", loaded)
	}
	if loaded.RecoveryAttempts != 1 {
		t.Fatalf("recovery_attempts = %d, want 1", loaded.RecoveryAttempts)
	}
}

func TestRequeueFailedRejectsNonFailedFile(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file := testsupport.QueuedFile(t, store, "/remote/a.mkv")

	_, err := store.RequeueFailed(ctx, file.ID, queue.KindCopy, queue.StateQueued, 1, 0, 1)
	if !errors.Is(err, queue.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestCancellationRoundTrip(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)

	if _, err := store.ClaimNext(ctx, queue.KindCopy, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.SetJobCancellable(ctx, job.ID, true); err != nil {
		t.Fatalf("SetJobCancellable: %v", err)
	}

	flagged, err := store.RequestCancellation(ctx)
	if err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	if len(flagged) != 1 || flagged[0] != job.ID {
		t.Fatalf("flagged = %v, want [%d]", flagged, job.ID)
	}

	requested, err := store.CancellationRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancellationRequested: %v", err)
	}
	if !requested {
		t.Fatal("cancellation flag not visible")
	}

	if err := store.FinalizeCancelled(ctx, job.ID, "cancelled at safe point"); err != nil {
		t.Fatalf("FinalizeCancelled: %v", err)
	}
	loaded, err := store.FileByID(ctx, file.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.State != queue.StateQueued {
		t.Fatalf("file state = %s, want checkpoint queued", loaded.State)
	}
	if loaded.FailureCategory != "" {
		t.Fatal("cancellation recorded failure metadata")
	}
}

func TestFinalizeCancelledRequiresPendingRequest(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	_, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)

	if _, err := store.ClaimNext(ctx, queue.KindCopy, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	err := store.FinalizeCancelled(ctx, job.ID, "nope")
	if !errors.Is(err, queue.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestNonCancellableJobNotFlagged(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindCopy)
	if _, err := store.ClaimNext(ctx, queue.KindCopy, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	flagged, err := store.RequestCancellation(ctx)
	if err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	if len(flagged) != 0 {
		t.Fatalf("flagged non-cancellable jobs: %v", flagged)
	}
}

func TestResetStuckRunning(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	file, job := testsupport.QueuedJob(t, store, "/remote/a.mkv", queue.KindProcess)

	if _, err := store.ClaimNext(ctx, queue.KindProcess, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	reset, err := store.ResetStuckRunning(ctx)
	if err != nil {
		t.Fatalf("ResetStuckRunning: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d, want 1", reset)
	}

	old, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if old.State != queue.JobFailed || old.ErrorMessage != "daemon stopped" {
		t.Fatalf("stuck job = %+v", old)
	}

	loaded, err := store.FileByID(ctx, file.ID)
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if loaded.State != queue.StateCopied {
		t.Fatalf("file state = %s, want checkpoint copied", loaded.State)
	}

	jobs, err := store.JobsForFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("JobsForFile: %v", err)
	}
	last := jobs[len(jobs)-1]
	if last.State != queue.JobQueued || last.Kind != queue.KindProcess {
		t.Fatalf("requeued job = %+v", last)
	}
}

func TestRecoveryCandidates(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	fail := func(remote string, retryAfter *time.Time, manual bool) *queue.File {
		t.Helper()
		file, job := testsupport.QueuedJob(t, store, remote, queue.KindCopy)
		if _, err := store.ClaimNext(ctx, queue.KindCopy, 0); err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if err := store.FailJob(ctx, job.ID, queue.FailureInfo{
			Message:     "boom",
			Category:    "FTP_TRANSFER",
			Kind:        queue.KindCopy,
			RetryAfter:  retryAfter,
			ManualRetry: manual,
		}); err != nil {
			t.Fatalf("FailJob: %v", err)
		}
		return file
	}

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	ready := fail("/remote/ready.mkv", &past, false)
	fail("/remote/waiting.mkv", &future, false)
	fail("/remote/manual.mkv", nil, true)

	candidates, err := store.RecoveryCandidates(ctx, now)
	if err != nil {
		t.Fatalf("RecoveryCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != ready.ID {
		ids := make([]int64, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ID)
		}
		t.Fatalf("candidates = %v, want [%d]", ids, ready.ID)
	}
}

func TestStats(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		testsupport.QueuedFile(t, store, fmt.Sprintf("/remote/%d.mkv", i))
	}
	_, _ = testsupport.QueuedJob(t, store, "/remote/run.mkv", queue.KindCopy)
	if _, err := store.ClaimNext(ctx, queue.KindCopy, 0); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalFiles != 4 {
		t.Fatalf("total = %d, want 4", stats.TotalFiles)
	}
	if stats.ByState[queue.StateQueued] != 3 {
		t.Fatalf("queued = %d, want 3", stats.ByState[queue.StateQueued])
	}
	if stats.ActiveJobs != 1 {
		t.Fatalf("active jobs = %d, want 1", stats.ActiveJobs)
	}
}
