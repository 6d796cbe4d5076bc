package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, file_id, kind, state, priority, retries, max_retries, progress_percent, progress_stage, is_cancellable, cancellation_requested, checkpoint_state, error_message, created_at, started_at, finished_at, updated_at"

// InsertJob creates a queued job for a file. At most one non-terminal job per
// (file, kind) may exist; violations fail with ErrDuplicateJob.
func (s *Store) InsertJob(ctx context.Context, fileID int64, kind Kind, priority, maxRetries int) (*Job, error) {
	ctx = ensureContext(ctx)
	if _, ok := kindSet[kind]; !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, kind)
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		inserted, err := insertJobTx(ctx, tx, fileID, kind, priority, maxRetries)
		if err != nil {
			return err
		}
		id = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.JobByID(ctx, id)
}

func insertJobTx(ctx context.Context, tx *sql.Tx, fileID int64, kind Kind, priority, maxRetries int) (int64, error) {
	// One query yields both the duplicate check and the attempt lineage:
	// retries on the new row counts the prior job rows for this (file, kind).
	var prior, active int
	err := tx.QueryRowContext(
		ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN state IN (?, ?) THEN 1 ELSE 0 END), 0)
         FROM jobs WHERE file_id = ? AND kind = ?`,
		JobQueued, JobRunning, fileID, kind,
	).Scan(&prior, &active)
	if err != nil {
		return 0, fmt.Errorf("check active job: %w", err)
	}
	if active > 0 {
		return 0, fmt.Errorf("file %d kind %s: %w", fileID, kind, ErrDuplicateJob)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (file_id, kind, state, priority, retries, max_retries, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fileID, kind, JobQueued, priority, prior, maxRetries, timestamp, timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// JobByID fetches a job by identifier.
func (s *Store) JobByID(ctx context.Context, id int64) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// JobsForFile returns the full job history for a file, oldest first.
func (s *Store) JobsForFile(ctx context.Context, fileID int64) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE file_id = ? ORDER BY created_at, id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("jobs for file: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ActiveJob returns the non-terminal job for a file and kind, or nil.
func (s *Store) ActiveJob(ctx context.Context, fileID int64, kind Kind) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE file_id = ? AND kind = ? AND state IN (?, ?) LIMIT 1`,
		fileID, kind, JobQueued, JobRunning,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job: %w", err)
	}
	return job, nil
}

// ClaimNext atomically claims the highest-priority ready job of a kind and
// marks it running, advancing the owning file to the kind's running state in
// the same transaction. Ready means the job is queued and the file's backoff
// (if any) has expired. A positive maxRunning caps concurrently running jobs
// of the kind; the count is taken inside the claim transaction so racing
// claimers cannot both slip past the ceiling. Returns nil when nothing is
// ready or the kind is saturated.
//
// The claim itself is a conditional update guarded on the queued state, so
// two racing callers can never mark the same row running; the loser simply
// moves on to the next candidate.
func (s *Store) ClaimNext(ctx context.Context, kind Kind, maxRunning int) (*Job, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()

	var claimed *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		if maxRunning > 0 {
			var running int
			err := tx.QueryRowContext(
				ctx,
				`SELECT COUNT(1) FROM jobs WHERE kind = ? AND state = ?`,
				kind, JobRunning,
			).Scan(&running)
			if err != nil {
				return fmt.Errorf("count running: %w", err)
			}
			if running >= maxRunning {
				return nil
			}
		}
		rows, err := tx.QueryContext(
			ctx,
			`SELECT j.id, j.file_id, f.state FROM jobs j
             JOIN files f ON f.id = j.file_id
             WHERE j.kind = ? AND j.state = ?
               AND (f.retry_after IS NULL OR f.retry_after <= ?)
             ORDER BY j.priority DESC, j.created_at ASC, j.id ASC
             LIMIT 16`,
			kind, JobQueued, now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("select claim candidates: %w", err)
		}
		type candidate struct {
			jobID     int64
			fileID    int64
			fileState FileState
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			var stateStr string
			if err := rows.Scan(&c.jobID, &c.fileID, &stateStr); err != nil {
				rows.Close()
				return err
			}
			c.fileState = FileState(stateStr)
			candidates = append(candidates, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		running := RunningState(kind)
		timestamp := now.Format(time.RFC3339Nano)
		for _, c := range candidates {
			// A file already in the running state (multi-stage processing)
			// needs no transition; anything else must hold a legal edge.
			if c.fileState != running && !CanTransition(c.fileState, running) {
				continue
			}
			res, err := tx.ExecContext(
				ctx,
				`UPDATE jobs SET state = ?, started_at = ?, updated_at = ?, progress_percent = 0
                 WHERE id = ? AND state = ?`,
				JobRunning, timestamp, timestamp, c.jobID, JobQueued,
			)
			if err != nil {
				return fmt.Errorf("claim job: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 0 {
				// Lost the race for this row; try the next candidate.
				continue
			}
			if c.fileState != running {
				if _, err := tx.ExecContext(
					ctx,
					`UPDATE files SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
					running, timestamp, c.fileID, c.fileState,
				); err != nil {
					return fmt.Errorf("advance file on claim: %w", err)
				}
			}
			row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, c.jobID)
			job, err := scanJob(row)
			if err != nil {
				return fmt.Errorf("reload claimed job: %w", err)
			}
			claimed = job
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateJobProgress records progress for a running job without changing state.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID int64, percent float64, stage string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET progress_percent = ?, progress_stage = ?, updated_at = ? WHERE id = ?`,
		percent,
		nullableString(stage),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	return nil
}

// SetJobCancellable toggles whether a running job may be interrupted at its
// next safe point.
func (s *Store) SetJobCancellable(ctx context.Context, jobID int64, cancellable bool) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET is_cancellable = ?, updated_at = ? WHERE id = ?`,
		boolToInt(cancellable),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("set cancellable: %w", err)
	}
	return nil
}

// RequestCancellation flags every running, cancellable job and records the
// checkpoint its worker must roll the file back to. Returns the flagged job
// IDs.
func (s *Store) RequestCancellation(ctx context.Context) ([]int64, error) {
	ctx = ensureContext(ctx)
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	var flagged []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		flagged = nil
		rows, err := tx.QueryContext(
			ctx,
			`SELECT id, kind FROM jobs WHERE state = ? AND is_cancellable = 1 AND cancellation_requested = 0`,
			JobRunning,
		)
		if err != nil {
			return fmt.Errorf("select cancellable jobs: %w", err)
		}
		type target struct {
			id   int64
			kind Kind
		}
		var targets []target
		for rows.Next() {
			var t target
			if err := rows.Scan(&t.id, &t.kind); err != nil {
				rows.Close()
				return err
			}
			targets = append(targets, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, t := range targets {
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE jobs SET cancellation_requested = 1, checkpoint_state = ?, updated_at = ? WHERE id = ?`,
				PreconditionState(t.kind), timestamp, t.id,
			); err != nil {
				return fmt.Errorf("flag cancellation: %w", err)
			}
			flagged = append(flagged, t.id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flagged, nil
}

// CancellationRequested reports whether a job has been asked to stop.
func (s *Store) CancellationRequested(ctx context.Context, jobID int64) (bool, error) {
	ctx = ensureContext(ctx)
	var requested int
	err := s.db.QueryRowContext(ctx, `SELECT cancellation_requested FROM jobs WHERE id = ?`, jobID).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("cancellation requested: %w", err)
	}
	return requested != 0, nil
}

// ResetStuckRunning finalizes jobs left running by an unclean shutdown and
// rolls their files back to the owning kind's checkpoint, then re-queues a
// fresh job for each. Returns the number of jobs reset.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var reset int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		reset = 0
		rows, err := tx.QueryContext(
			ctx,
			`SELECT id, file_id, kind, priority, max_retries FROM jobs WHERE state = ?`,
			JobRunning,
		)
		if err != nil {
			return fmt.Errorf("select stuck jobs: %w", err)
		}
		type stuck struct {
			id         int64
			fileID     int64
			kind       Kind
			priority   int
			maxRetries int
		}
		var targets []stuck
		for rows.Next() {
			var t stuck
			if err := rows.Scan(&t.id, &t.fileID, &t.kind, &t.priority, &t.maxRetries); err != nil {
				rows.Close()
				return err
			}
			targets = append(targets, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, t := range targets {
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE jobs SET state = ?, error_message = 'daemon stopped', finished_at = ?, updated_at = ? WHERE id = ?`,
				JobFailed, timestamp, timestamp, t.id,
			); err != nil {
				return fmt.Errorf("finalize stuck job: %w", err)
			}
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE files SET state = ?, updated_at = ? WHERE id = ?`,
				PreconditionState(t.kind), timestamp, t.fileID,
			); err != nil {
				return fmt.Errorf("restore stuck file: %w", err)
			}
			if _, err := insertJobTx(ctx, tx, t.fileID, t.kind, t.priority, t.maxRetries); err != nil {
				return fmt.Errorf("requeue stuck job: %w", err)
			}
			reset++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		fileID          int64
		kindStr         string
		stateStr        string
		priority        int
		retries         int
		maxRetries      int
		progressPercent sql.NullFloat64
		progressStage   sql.NullString
		isCancellable   sql.NullInt64
		cancelRequested sql.NullInt64
		checkpointState sql.NullString
		errorMessage    sql.NullString
		createdRaw      sql.NullString
		startedRaw      sql.NullString
		finishedRaw     sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&fileID,
		&kindStr,
		&stateStr,
		&priority,
		&retries,
		&maxRetries,
		&progressPercent,
		&progressStage,
		&isCancellable,
		&cancelRequested,
		&checkpointState,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&finishedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		FileID:          fileID,
		Kind:            Kind(kindStr),
		State:           JobState(stateStr),
		Priority:        priority,
		Retries:         retries,
		MaxRetries:      maxRetries,
		ProgressPercent: progressPercent.Float64,
		ProgressStage:   progressStage.String,
		CheckpointState: FileState(checkpointState.String),
		ErrorMessage:    errorMessage.String,
	}
	if isCancellable.Valid {
		job.IsCancellable = isCancellable.Int64 != 0
	}
	if cancelRequested.Valid {
		job.CancellationRequested = cancelRequested.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if startedRaw.Valid {
		if t, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &t
		}
	}
	if finishedRaw.Valid {
		if t, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &t
		}
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
