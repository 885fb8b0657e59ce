package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetyard/backoffice/internal/models"
)

const jobColumns = `id, type, payload, dedup_key, status, attempts, max_attempts, scheduled_for, processed_at, last_error, created, updated`

func (r *SQLiteRepo) InsertJob(ctx context.Context, j *models.EmailJob) (int64, error) {
	if j == nil {
		return 0, fmt.Errorf("job is nil")
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 3
	}
	if j.Status == "" {
		j.Status = models.JobStatusPending
	}
	if j.ScheduledFor.IsZero() {
		j.ScheduledFor = time.Now().UTC()
	}
	ts := now()
	res, err := r.conn.Exec(ctx,
		`INSERT INTO email_jobs (type, payload, dedup_key, status, attempts, max_attempts, scheduled_for, created, updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.Type, string(j.Payload), nullIfEmpty(j.DedupKey), j.Status, j.Attempts, j.MaxAttempts,
		j.ScheduledFor.UTC().Unix(), ts, ts)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepo) GetJob(ctx context.Context, id int64) (*models.EmailJob, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+jobColumns+` FROM email_jobs WHERE id = ?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists status, attempts, processed_at and last_error.
func (r *SQLiteRepo) UpdateJob(ctx context.Context, j *models.EmailJob) error {
	var processed any
	if j.ProcessedAt != nil {
		processed = j.ProcessedAt.UTC().Unix()
	}
	_, err := r.conn.Exec(ctx,
		`UPDATE email_jobs SET status = ?, attempts = ?, scheduled_for = ?, processed_at = ?, last_error = ?, updated = ? WHERE id = ?`,
		j.Status, j.Attempts, j.ScheduledFor.UTC().Unix(), processed, nullIfEmpty(j.LastError), now(), j.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) ListJobs(ctx context.Context, typ, status string, limit int) ([]models.EmailJob, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobColumns + ` FROM email_jobs WHERE type = ?`
	args := []any{typ}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	return r.queryJobs(ctx, q, args...)
}

func (r *SQLiteRepo) ListRunnable(ctx context.Context, typ string, nowAt time.Time, limit int) ([]models.EmailJob, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobColumns + ` FROM email_jobs WHERE type = ? AND status = ? AND scheduled_for <= ? ORDER BY scheduled_for, id LIMIT ?`
	return r.queryJobs(ctx, q, typ, models.JobStatusPending, nowAt.UTC().Unix(), limit)
}

func (r *SQLiteRepo) HasCompletedSince(ctx context.Context, dedupKey string, since time.Time) (bool, error) {
	var count int
	row := r.conn.QueryRow(ctx,
		`SELECT COUNT(1) FROM email_jobs WHERE dedup_key = ? AND status = ? AND processed_at >= ?`,
		dedupKey, models.JobStatusCompleted, since.UTC().Unix())
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check completed jobs: %w", err)
	}
	return count > 0, nil
}

func (r *SQLiteRepo) queryJobs(ctx context.Context, q string, args ...any) ([]models.EmailJob, error) {
	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.EmailJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func scanJob(scan func(...any) error) (*models.EmailJob, error) {
	var (
		j            models.EmailJob
		payload      sql.NullString
		dedupKey     sql.NullString
		scheduledFor int64
		processedAt  sql.NullInt64
		lastError    sql.NullString
		created      int64
		updated      int64
	)
	if err := scan(&j.ID, &j.Type, &payload, &dedupKey, &j.Status, &j.Attempts, &j.MaxAttempts,
		&scheduledFor, &processedAt, &lastError, &created, &updated); err != nil {
		return nil, err
	}
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	j.DedupKey = dedupKey.String
	j.ScheduledFor = time.Unix(scheduledFor, 0).UTC()
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0).UTC()
		j.ProcessedAt = &t
	}
	j.LastError = lastError.String
	j.Created = time.Unix(created, 0).UTC()
	j.Updated = time.Unix(updated, 0).UTC()
	return &j, nil
}
