package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const fileColumns = "id, state, priority, queue_order, session_id, remote_path, local_path, processed_path, final_path, is_program_output, parent_file_id, failure_category, failure_job_kind, failed_at, retry_after, recovery_attempts, manual_retry_required, created_at, updated_at"

// NewFile inserts a freshly discovered file.
func (s *Store) NewFile(ctx context.Context, remotePath, sessionID string, priority int, isProgramOutput bool, parentFileID *int64) (*File, error) {
	ctx = ensureContext(ctx)
	if remotePath == "" {
		return nil, fmt.Errorf("%w: remote path is required", ErrInvalidOperation)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO files (
                state, priority, queue_order, session_id, remote_path,
                is_program_output, parent_file_id, created_at, updated_at
            ) VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?)`,
			StateDiscovered,
			priority,
			nullableString(sessionID),
			remotePath,
			boolToInt(isProgramOutput),
			nullableInt64(parentFileID),
			timestamp,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		// queue_order follows insertion order so the FIFO tie-break is stable.
		if _, err := tx.ExecContext(ctx, `UPDATE files SET queue_order = ? WHERE id = ?`, id, id); err != nil {
			return fmt.Errorf("set queue order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FileByID(ctx, id)
}

// FileByID fetches a file by identifier.
func (s *Store) FileByID(ctx context.Context, id int64) (*File, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}

// ListFiles returns files filtered by state set (or all files when no state is
// provided), ordered by priority then insertion order.
func (s *Store) ListFiles(ctx context.Context, states ...FileState) ([]*File, error) {
	ctx = ensureContext(ctx)
	baseQuery := `SELECT ` + fileColumns + ` FROM files`
	orderClause := ` ORDER BY priority DESC, queue_order ASC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(states) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(states))
		args := make([]any, len(states))
		for i, state := range states {
			args[i] = state
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE state IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// UpdateFile persists mutable path, priority, and session fields. Lifecycle
// fields are owned by the transition and event helpers.
func (s *Store) UpdateFile(ctx context.Context, file *File) error {
	if file == nil {
		return errors.New("file is nil")
	}
	file.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE files
         SET priority = ?, session_id = ?, remote_path = ?, local_path = ?,
             processed_path = ?, final_path = ?, is_program_output = ?, updated_at = ?
         WHERE id = ?`,
		file.Priority,
		nullableString(file.SessionID),
		nullableString(file.RemotePath),
		nullableString(file.LocalPath),
		nullableString(file.ProcessedPath),
		nullableString(file.FinalPath),
		boolToInt(file.IsProgramOutput),
		file.UpdatedAt.Format(time.RFC3339Nano),
		file.ID,
	)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("file %d: %w", file.ID, ErrNotFound)
	}
	return nil
}

// TransitionFile moves a file along one edge of the state machine. The write
// is conditional on the expected source state, so a rejected or raced
// transition leaves the stored state untouched.
func (s *Store) TransitionFile(ctx context.Context, id int64, from, to FileState) error {
	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE files SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("transition file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, lookupErr := s.FileByID(ctx, id)
		if lookupErr != nil {
			return lookupErr
		}
		return &TransitionError{From: current.State, To: to}
	}
	return nil
}

// RecoveryCandidates returns failed files whose backoff has expired and that
// have not been parked for manual retry, oldest failure first.
func (s *Store) RecoveryCandidates(ctx context.Context, now time.Time) ([]*File, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM files
         WHERE state = ? AND manual_retry_required = 0
           AND retry_after IS NOT NULL AND retry_after <= ?
         ORDER BY failed_at ASC`,
		StateFailed,
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("recovery candidates: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// Stats aggregates queue counts for diagnostics.
func (s *Store) Stats(ctx context.Context) (StatsSummary, error) {
	ctx = ensureContext(ctx)
	summary := StatsSummary{ByState: make(map[FileState]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT state, manual_retry_required, COUNT(1) FROM files GROUP BY state, manual_retry_required`)
	if err != nil {
		return summary, fmt.Errorf("file stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state FileState
		var manual int
		var count int
		if err := rows.Scan(&state, &manual, &count); err != nil {
			return summary, err
		}
		summary.TotalFiles += count
		summary.ByState[state] += count
		if state == StateFailed {
			summary.FailedFiles += count
			if manual != 0 {
				summary.ManualRetry += count
			}
		}
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT
        COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
        FROM jobs`, JobRunning, JobQueued)
	if err := row.Scan(&summary.ActiveJobs, &summary.QueuedJobs); err != nil {
		return summary, fmt.Errorf("job stats: %w", err)
	}
	return summary, nil
}

// ClearCompleted removes completed files (and their jobs via cascade).
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM files WHERE state = ?`, StateCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all files and jobs.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM files`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

func scanFile(scanner interface{ Scan(dest ...any) error }) (*File, error) {
	var (
		id               int64
		stateStr         string
		priority         int
		queueOrder       int64
		sessionID        sql.NullString
		remotePath       sql.NullString
		localPath        sql.NullString
		processedPath    sql.NullString
		finalPath        sql.NullString
		isProgramOutput  sql.NullInt64
		parentFileID     sql.NullInt64
		failureCategory  sql.NullString
		failureJobKind   sql.NullString
		failedAtRaw      sql.NullString
		retryAfterRaw    sql.NullString
		recoveryAttempts int
		manualRetry      sql.NullInt64
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&stateStr,
		&priority,
		&queueOrder,
		&sessionID,
		&remotePath,
		&localPath,
		&processedPath,
		&finalPath,
		&isProgramOutput,
		&parentFileID,
		&failureCategory,
		&failureJobKind,
		&failedAtRaw,
		&retryAfterRaw,
		&recoveryAttempts,
		&manualRetry,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	file := &File{
		ID:               id,
		State:            FileState(stateStr),
		Priority:         priority,
		QueueOrder:       queueOrder,
		SessionID:        sessionID.String,
		RemotePath:       remotePath.String,
		LocalPath:        localPath.String,
		ProcessedPath:    processedPath.String,
		FinalPath:        finalPath.String,
		FailureCategory:  failureCategory.String,
		FailureJobKind:   Kind(failureJobKind.String),
		RecoveryAttempts: recoveryAttempts,
	}
	if isProgramOutput.Valid {
		file.IsProgramOutput = isProgramOutput.Int64 != 0
	}
	if parentFileID.Valid {
		v := parentFileID.Int64
		file.ParentFileID = &v
	}
	if manualRetry.Valid {
		file.ManualRetryRequired = manualRetry.Int64 != 0
	}
	if failedAtRaw.Valid {
		if t, err := parseTimeString(failedAtRaw.String); err == nil {
			file.FailedAt = &t
		}
	}
	if retryAfterRaw.Valid {
		if t, err := parseTimeString(retryAfterRaw.String); err == nil {
			file.RetryAfter = &t
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		file.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		file.UpdatedAt = updated
	}
	return file, nil
}
