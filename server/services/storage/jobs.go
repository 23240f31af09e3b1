package storage

import (
	"context"
	"database/sql"
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
)

const jobColumns = `id, execution_id, process_instance_id, handler_type, handler_data, retries, lock_owner, lock_expires_at, run_at, exception, created_at`

// InsertJob writes a job.
func (t *Tx) InsertJob(ctx context.Context, row JobRow) error {
	_, err := t.exec(ctx, "insert job "+row.ID, `INSERT INTO job (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ExecutionID, row.ProcessInstanceID, row.HandlerType, row.HandlerData, row.Retries, row.LockOwner, row.LockExpiresAt, row.RunAt, row.Exception, row.CreatedAt)
	return err
}

// GetJob returns a job by id.
func (t *Tx) GetJob(ctx context.Context, id string) (*JobRow, error) {
	row := &JobRow{}
	if err := t.get(ctx, row, errors.ErrJobNotFound, "get job "+id, `SELECT `+jobColumns+` FROM job WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteJob removes a job. It reports whether a row was deleted.
func (t *Tx) DeleteJob(ctx context.Context, id string) (bool, error) {
	n, err := t.exec(ctx, "delete job "+id, `DELETE FROM job WHERE id = ?`, id)
	return n > 0, err
}

// ListJobs returns the matching jobs in run order.
func (t *Tx) ListJobs(ctx context.Context, filter JobFilter) ([]JobRow, error) {
	w := &where{}
	w.eq("execution_id", filter.ExecutionID)
	w.eq("process_instance_id", filter.ProcessInstanceID)
	w.eq("handler_type", filter.HandlerType)
	var rows []JobRow
	err := t.selectRows(ctx, &rows, "list jobs", `SELECT `+jobColumns+` FROM job`+w.String()+` ORDER BY COALESCE(run_at, 0), created_at, id`, w.args...)
	return rows, err
}

// AcquireJobs claims up to limit due jobs for owner. A job is due when its run time has passed, it has retries left
// and it is unlocked or its lock has expired. Jobs claimed by a competing owner in the meantime are skipped.
func (t *Tx) AcquireJobs(ctx context.Context, owner string, now int64, limit int, lockTimeoutMillis int64) ([]JobRow, error) {
	var candidates []JobRow
	err := t.selectRows(ctx, &candidates, "select due jobs",
		`SELECT `+jobColumns+` FROM job
WHERE retries > 0 AND (run_at IS NULL OR run_at <= ?) AND (lock_owner IS NULL OR lock_expires_at IS NULL OR lock_expires_at < ?)
ORDER BY COALESCE(run_at, 0), created_at, id LIMIT ?`, now, now, limit)
	if err != nil {
		return nil, err
	}
	expires := now + lockTimeoutMillis
	claimed := make([]JobRow, 0, len(candidates))
	for _, j := range candidates {
		n, err := t.exec(ctx, "claim job "+j.ID, `UPDATE job SET lock_owner = ?, lock_expires_at = ?
WHERE id = ? AND (lock_owner IS NULL OR lock_expires_at IS NULL OR lock_expires_at < ?)`, owner, expires, j.ID, now)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		j.LockOwner = sql.NullString{String: owner, Valid: true}
		j.LockExpiresAt = sql.NullInt64{Int64: expires, Valid: true}
		claimed = append(claimed, j)
	}
	return claimed, nil
}

// FailJob decrements the retries of a job, records the failure and releases its lock.
func (t *Tx) FailJob(ctx context.Context, id string, exception string) error {
	n, err := t.exec(ctx, "fail job "+id, `UPDATE job SET retries = CASE WHEN retries > 0 THEN retries - 1 ELSE 0 END, exception = ?, lock_owner = NULL, lock_expires_at = NULL WHERE id = ?`, exception, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("fail job %s: %w", id, errors.ErrJobNotFound)
	}
	return nil
}

// UnlockJob releases the lock on a job without touching its retries.
func (t *Tx) UnlockJob(ctx context.Context, id string) error {
	_, err := t.exec(ctx, "unlock job "+id, `UPDATE job SET lock_owner = NULL, lock_expires_at = NULL WHERE id = ?`, id)
	return err
}

// SetJobRetries sets the remaining retries of a job and clears its last failure.
func (t *Tx) SetJobRetries(ctx context.Context, id string, retries int) error {
	n, err := t.exec(ctx, "set job retries "+id, `UPDATE job SET retries = ?, exception = NULL WHERE id = ?`, retries, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("set job retries %s: %w", id, errors.ErrJobNotFound)
	}
	return nil
}
