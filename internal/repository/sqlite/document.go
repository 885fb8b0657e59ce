package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/pkg/repository"
)

const documentColumns = `id, machine_id, document_type, expiry_date, last_renewed_date, remarks, created, updated`

// UpsertDocument creates or updates the single row per (machine, document
// type). The unique constraint on the pair backs the create path against
// concurrent inserts.
func (r *SQLiteRepo) UpsertDocument(ctx context.Context, d *models.MachineDocument) (int64, bool, error) {
	if d == nil {
		return 0, false, fmt.Errorf("document is nil")
	}
	ts := now()

	var existing int64
	row := r.conn.QueryRow(ctx,
		`SELECT id FROM machine_documents WHERE machine_id = ? AND document_type = ?`,
		d.MachineID, d.DocumentType)
	err := row.Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		res, err := r.conn.Exec(ctx,
			`INSERT INTO machine_documents (machine_id, document_type, expiry_date, last_renewed_date, remarks, created, updated)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(machine_id, document_type) DO UPDATE SET
			   expiry_date = excluded.expiry_date,
			   last_renewed_date = excluded.last_renewed_date,
			   remarks = excluded.remarks,
			   updated = excluded.updated`,
			d.MachineID, d.DocumentType, d.ExpiryDate, nullIfEmpty(d.LastRenewedDate), nullIfEmpty(d.Remarks), ts, ts)
		if err != nil {
			return 0, false, fmt.Errorf("insert document: %w", err)
		}
		id, err := res.LastInsertId()
		return id, true, err
	case err != nil:
		return 0, false, fmt.Errorf("lookup document: %w", err)
	}

	_, err = r.conn.Exec(ctx,
		`UPDATE machine_documents SET expiry_date = ?, last_renewed_date = ?, remarks = ?, updated = ? WHERE id = ?`,
		d.ExpiryDate, nullIfEmpty(d.LastRenewedDate), nullIfEmpty(d.Remarks), ts, existing)
	if err != nil {
		return 0, false, fmt.Errorf("update document: %w", err)
	}
	return existing, false, nil
}

func (r *SQLiteRepo) GetDocument(ctx context.Context, id int64) (*models.MachineDocument, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM machine_documents WHERE id = ?`, id)
	d, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepo) ListDocuments(ctx context.Context, machineID int64, docType models.DocumentType) ([]models.DocumentWithStatus, error) {
	q := `SELECT d.id, d.machine_id, d.document_type, d.expiry_date, d.last_renewed_date, d.remarks, d.created, d.updated,
	             m.name, m.registration_no, m.is_active
	      FROM machine_documents d
	      JOIN machines m ON m.id = d.machine_id`
	var (
		conds []string
		args  []any
	)
	if machineID > 0 {
		conds = append(conds, `d.machine_id = ?`)
		args = append(args, machineID)
	}
	if docType != "" {
		conds = append(conds, `d.document_type = ?`)
		args = append(args, docType)
	}
	for i, c := range conds {
		if i == 0 {
			q += ` WHERE ` + c
		} else {
			q += ` AND ` + c
		}
	}
	q += ` ORDER BY d.expiry_date, d.id`

	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []models.DocumentWithStatus
	for rows.Next() {
		var (
			item    models.DocumentWithStatus
			renewed sql.NullString
			remarks sql.NullString
			active  int
		)
		if err := rows.Scan(&item.ID, &item.MachineID, &item.DocumentType, &item.ExpiryDate,
			&renewed, &remarks, &item.Created, &item.Updated,
			&item.MachineName, &item.RegistrationNo, &active); err != nil {
			return nil, err
		}
		item.LastRenewedDate = renewed.String
		item.Remarks = remarks.String
		item.MachineActive = active != 0
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) ListWithoutRules(ctx context.Context, docType models.DocumentType) ([]models.MachineDocument, error) {
	rows, err := r.conn.QueryRows(ctx,
		`SELECT `+documentColumns+` FROM machine_documents d
		 WHERE d.document_type = ?
		   AND NOT EXISTS (SELECT 1 FROM notification_rules r WHERE r.document_id = d.id)
		 ORDER BY d.id`, docType)
	if err != nil {
		return nil, fmt.Errorf("list documents without rules: %w", err)
	}
	defer rows.Close()

	var out []models.MachineDocument
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// RenewDocument starts a new renewal cycle: new expiry date, renewal date
// set, and every notification log row purged so thresholds can fire again.
// The update and the purge commit together or not at all.
func (r *SQLiteRepo) RenewDocument(ctx context.Context, id int64, newExpiry, renewedOn, remarks string) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE machine_documents SET expiry_date = ?, last_renewed_date = ?, remarks = COALESCE(?, remarks), updated = ? WHERE id = ?`,
		newExpiry, renewedOn, nullIfEmpty(remarks), now(), id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("renew document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notification_log WHERE document_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("purge notification log: %w", err)
	}

	return tx.Commit()
}

// DeleteDocument removes the document together with its rules and log rows.
func (r *SQLiteRepo) DeleteDocument(ctx context.Context, id int64) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notification_rules WHERE document_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete rules: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notification_log WHERE document_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete log: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM machine_documents WHERE id = ?`, id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}

	return tx.Commit()
}

// ListDueCandidates joins documents on active machines with their active
// rules. The evaluator applies the day match on top.
func (r *SQLiteRepo) ListDueCandidates(ctx context.Context) ([]repository.DueCandidate, error) {
	rows, err := r.conn.QueryRows(ctx,
		`SELECT d.id, d.machine_id, d.document_type, d.expiry_date, d.last_renewed_date, d.remarks, d.created, d.updated,
		        m.id, m.name, m.registration_no, m.model, m.is_active, m.created, m.updated,
		        r.days_before
		 FROM machine_documents d
		 JOIN machines m ON m.id = d.machine_id AND m.is_active = 1
		 JOIN notification_rules r ON r.document_id = d.id AND r.is_active = 1
		 ORDER BY d.id, r.days_before DESC`)
	if err != nil {
		return nil, fmt.Errorf("list due candidates: %w", err)
	}
	defer rows.Close()

	var out []repository.DueCandidate
	for rows.Next() {
		var (
			c       repository.DueCandidate
			renewed sql.NullString
			remarks sql.NullString
			model   sql.NullString
			active  int
		)
		if err := rows.Scan(
			&c.Document.ID, &c.Document.MachineID, &c.Document.DocumentType, &c.Document.ExpiryDate,
			&renewed, &remarks, &c.Document.Created, &c.Document.Updated,
			&c.Machine.ID, &c.Machine.Name, &c.Machine.RegistrationNo, &model, &active,
			&c.Machine.Created, &c.Machine.Updated,
			&c.DaysBefore); err != nil {
			return nil, err
		}
		c.Document.LastRenewedDate = renewed.String
		c.Document.Remarks = remarks.String
		c.Machine.Model = model.String
		c.Machine.IsActive = active != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanDocument(scan func(...any) error) (*models.MachineDocument, error) {
	var (
		d       models.MachineDocument
		renewed sql.NullString
		remarks sql.NullString
	)
	if err := scan(&d.ID, &d.MachineID, &d.DocumentType, &d.ExpiryDate, &renewed, &remarks, &d.Created, &d.Updated); err != nil {
		return nil, err
	}
	d.LastRenewedDate = renewed.String
	d.Remarks = remarks.String
	return &d, nil
}
