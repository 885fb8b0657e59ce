package sqlite

import (
	"context"
	"fmt"

	"github.com/fleetyard/backoffice/internal/models"
)

// Claim records (document, threshold, day) as handled. The unique index on
// those three columns makes the insert the race arbiter: under concurrent
// evaluators exactly one caller sees true.
func (r *SQLiteRepo) Claim(ctx context.Context, documentID int64, daysBefore int, date string) (bool, error) {
	res, err := r.conn.Exec(ctx,
		`INSERT OR IGNORE INTO notification_log (document_id, days_before, notification_date, created) VALUES (?, ?, ?, ?)`,
		documentID, daysBefore, date, now())
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *SQLiteRepo) Exists(ctx context.Context, documentID int64, daysBefore int, date string) (bool, error) {
	var count int
	row := r.conn.QueryRow(ctx,
		`SELECT COUNT(1) FROM notification_log WHERE document_id = ? AND days_before = ? AND notification_date = ?`,
		documentID, daysBefore, date)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check notification log: %w", err)
	}
	return count > 0, nil
}

func (r *SQLiteRepo) ListLog(ctx context.Context, documentID int64) ([]models.NotificationLogEntry, error) {
	rows, err := r.conn.QueryRows(ctx,
		`SELECT id, document_id, days_before, notification_date, created FROM notification_log WHERE document_id = ? ORDER BY id`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("list notification log: %w", err)
	}
	defer rows.Close()

	var out []models.NotificationLogEntry
	for rows.Next() {
		var e models.NotificationLogEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.DaysBefore, &e.NotificationDate, &e.Created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
