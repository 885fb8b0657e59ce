package sqlite

import (
	"context"
	"fmt"

	"github.com/fleetyard/backoffice/internal/models"
)

// ReplaceRules swaps the document's full rule set for days: clear-then-insert
// in one transaction, so the call is idempotent and total.
func (r *SQLiteRepo) ReplaceRules(ctx context.Context, documentID int64, days []int) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notification_rules WHERE document_id = ?`, documentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear rules: %w", err)
	}

	ts := now()
	for _, d := range days {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notification_rules (document_id, days_before, is_active, created) VALUES (?, ?, 1, ?)`,
			documentID, d, ts); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert rule %d: %w", d, err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepo) ListRules(ctx context.Context, documentID int64) ([]models.NotificationRule, error) {
	rows, err := r.conn.QueryRows(ctx,
		`SELECT id, document_id, days_before, is_active, created FROM notification_rules WHERE document_id = ? ORDER BY days_before DESC`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []models.NotificationRule
	for rows.Next() {
		var (
			rule   models.NotificationRule
			active int
		)
		if err := rows.Scan(&rule.ID, &rule.DocumentID, &rule.DaysBefore, &active, &rule.Created); err != nil {
			return nil, err
		}
		rule.IsActive = active != 0
		out = append(out, rule)
	}
	return out, rows.Err()
}
