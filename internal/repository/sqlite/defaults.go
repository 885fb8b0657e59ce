package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fleetyard/backoffice/internal/models"
)

func (r *SQLiteRepo) GetDefault(ctx context.Context, documentType string) (*models.NotificationDefault, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT id, document_type, created_by, updated FROM notification_defaults WHERE document_type = ?`,
		documentType)
	var (
		def       models.NotificationDefault
		createdBy sql.NullString
	)
	err := row.Scan(&def.ID, &def.DocumentType, &createdBy, &def.Updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default: %w", err)
	}
	def.CreatedBy = createdBy.String

	days, err := r.defaultDays(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	def.Days = days
	return &def, nil
}

func (r *SQLiteRepo) ListDefaults(ctx context.Context) ([]models.NotificationDefault, error) {
	rows, err := r.conn.QueryRows(ctx,
		`SELECT id, document_type, created_by, updated FROM notification_defaults ORDER BY document_type`)
	if err != nil {
		return nil, fmt.Errorf("list defaults: %w", err)
	}
	defer rows.Close()

	var out []models.NotificationDefault
	for rows.Next() {
		var (
			def       models.NotificationDefault
			createdBy sql.NullString
		)
		if err := rows.Scan(&def.ID, &def.DocumentType, &createdBy, &def.Updated); err != nil {
			return nil, err
		}
		def.CreatedBy = createdBy.String
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		days, err := r.defaultDays(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Days = days
	}
	return out, nil
}

// UpsertDefault replaces the day list for a document type, keyed on the
// type. The day list lives in a normalized child table, ordered by position.
func (r *SQLiteRepo) UpsertDefault(ctx context.Context, documentType string, days []int, actor string) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notification_defaults (document_type, created_by, updated) VALUES (?, ?, ?)
		 ON CONFLICT(document_type) DO UPDATE SET created_by = excluded.created_by, updated = excluded.updated`,
		documentType, nullIfEmpty(actor), now()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert default: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM notification_defaults WHERE document_type = ?`, documentType).Scan(&id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lookup default id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notification_default_days WHERE default_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear default days: %w", err)
	}
	for i, d := range days {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notification_default_days (default_id, days_before, position) VALUES (?, ?, ?)`,
			id, d, i); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert default day %d: %w", d, err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepo) defaultDays(ctx context.Context, defaultID int64) ([]int, error) {
	rows, err := r.conn.QueryRows(ctx,
		`SELECT days_before FROM notification_default_days WHERE default_id = ? ORDER BY position`, defaultID)
	if err != nil {
		return nil, fmt.Errorf("list default days: %w", err)
	}
	defer rows.Close()

	var days []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
