package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NextEnqueue describes the follow-up job inserted when a stage completes.
type NextEnqueue struct {
	Kind       Kind
	Priority   int
	MaxRetries int
}

// FailureInfo captures the classified failure applied to a file.
type FailureInfo struct {
	Message     string
	Category    string
	Kind        Kind
	RetryAfter  *time.Time
	ManualRetry bool
}

// CompleteJob marks a running job done and advances its file, inserting the
// follow-up job when next is non-nil. Everything happens in one transaction.
func (s *Store) CompleteJob(ctx context.Context, jobID int64, fileTo FileState, next *NextEnqueue) (*Job, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var nextJob *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		nextJob = nil
		job, err := jobForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.State != JobRunning {
			return fmt.Errorf("complete job %d in state %s: %w", jobID, job.State, ErrInvalidOperation)
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET state = ?, progress_percent = 100, finished_at = ?, updated_at = ? WHERE id = ? AND state = ?`,
			JobDone, timestamp, timestamp, jobID, JobRunning,
		)
		if err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return fmt.Errorf("job %d: %w", jobID, ErrClaimConflict)
		}

		fileState, err := fileStateForUpdate(ctx, tx, job.FileID)
		if err != nil {
			return err
		}
		if fileState != fileTo {
			if err := ValidateTransition(fileState, fileTo); err != nil {
				return err
			}
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE files SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
				fileTo, timestamp, job.FileID, fileState,
			); err != nil {
				return fmt.Errorf("advance file: %w", err)
			}
		}

		if next != nil {
			id, err := insertJobTx(ctx, tx, job.FileID, next.Kind, next.Priority, next.MaxRetries)
			if err != nil {
				return err
			}
			row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
			nextJob, err = scanJob(row)
			if err != nil {
				return fmt.Errorf("reload next job: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nextJob, nil
}

// FailJob marks a running job failed and moves its file to the failed state
// with the classified failure details attached. When info.ManualRetry is set
// no retry_after is recorded, which parks the file until a human intervenes.
func (s *Store) FailJob(ctx context.Context, jobID int64, info FailureInfo) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := jobForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.State.IsTerminal() {
			return fmt.Errorf("fail job %d in state %s: %w", jobID, job.State, ErrInvalidOperation)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET state = ?, error_message = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
			JobFailed, nullableString(info.Message), timestamp, timestamp, jobID,
		); err != nil {
			return fmt.Errorf("fail job: %w", err)
		}

		fileState, err := fileStateForUpdate(ctx, tx, job.FileID)
		if err != nil {
			return err
		}
		if fileState != StateFailed {
			if err := ValidateTransition(fileState, StateFailed); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE files
             SET state = ?, failure_category = ?, failure_job_kind = ?, failed_at = ?,
                 retry_after = ?, manual_retry_required = ?, updated_at = ?
             WHERE id = ?`,
			StateFailed,
			nullableString(info.Category),
			nullableString(string(info.Kind)),
			timestamp,
			nullableTime(info.RetryAfter),
			boolToInt(info.ManualRetry),
			timestamp,
			job.FileID,
		); err != nil {
			return fmt.Errorf("record file failure: %w", err)
		}
		return nil
	})
}

// FinalizeCancelled finishes a job whose worker observed the cancellation
// flag and rolls the file back to the recorded checkpoint. The file carries
// no failure metadata afterwards; cancellation is not a failure.
func (s *Store) FinalizeCancelled(ctx context.Context, jobID int64, message string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := jobForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.State != JobRunning {
			return fmt.Errorf("cancel job %d in state %s: %w", jobID, job.State, ErrInvalidOperation)
		}
		if !job.CancellationRequested {
			return fmt.Errorf("job %d has no pending cancellation: %w", jobID, ErrInvalidOperation)
		}
		checkpoint := job.CheckpointState
		if checkpoint == "" {
			checkpoint = PreconditionState(job.Kind)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET state = ?, error_message = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
			JobFailed, nullableString(message), timestamp, timestamp, jobID,
		); err != nil {
			return fmt.Errorf("finalize cancelled job: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE files SET state = ?, updated_at = ? WHERE id = ?`,
			checkpoint, timestamp, job.FileID,
		); err != nil {
			return fmt.Errorf("restore checkpoint: %w", err)
		}
		return nil
	})
}

// RequeueFailed restores a failed file to the given checkpoint, records the
// recovery attempt count, clears failure bookkeeping, and inserts a fresh job
// of the failed kind. Used by both manual retry and the recovery tick; the
// checkpoint restore is the one sanctioned path out of the failed state
// besides a plain re-queue.
func (s *Store) RequeueFailed(ctx context.Context, fileID int64, kind Kind, checkpoint FileState, attempts, priority, maxRetries int) (*Job, error) {
	ctx = ensureContext(ctx)
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job = nil
		state, err := fileStateForUpdate(ctx, tx, fileID)
		if err != nil {
			return err
		}
		if state != StateFailed {
			return fmt.Errorf("file %d in state %s is not retryable: %w", fileID, state, ErrInvalidOperation)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE files
             SET state = ?, failure_category = NULL, failure_job_kind = NULL,
                 failed_at = NULL, retry_after = NULL, manual_retry_required = 0,
                 recovery_attempts = ?, updated_at = ?
             WHERE id = ? AND state = ?`,
			checkpoint, attempts, timestamp, fileID, StateFailed,
		); err != nil {
			return fmt.Errorf("restore failed file: %w", err)
		}

		id, err := insertJobTx(ctx, tx, fileID, kind, priority, maxRetries)
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		job, err = scanJob(row)
		if err != nil {
			return fmt.Errorf("reload retry job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkManualRetry parks a failed file until a human retries it. No retry_after
// remains set, so recovery ticks skip the file from now on.
func (s *Store) MarkManualRetry(ctx context.Context, fileID int64, attempts int) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE files
         SET manual_retry_required = 1, retry_after = NULL, recovery_attempts = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		attempts,
		time.Now().UTC().Format(time.RFC3339Nano),
		fileID,
		StateFailed,
	)
	if err != nil {
		return fmt.Errorf("mark manual retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("file %d is not failed: %w", fileID, ErrInvalidOperation)
	}
	return nil
}

func jobForUpdate(ctx context.Context, tx *sql.Tx, jobID int64) (*Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func fileStateForUpdate(ctx context.Context, tx *sql.Tx, fileID int64) (FileState, error) {
	var stateStr string
	err := tx.QueryRowContext(ctx, `SELECT state FROM files WHERE id = ?`, fileID).Scan(&stateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("file %d: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load file state: %w", err)
	}
	return FileState(stateStr), nil
}
