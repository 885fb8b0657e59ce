package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fleetyard/backoffice/internal/models"
)

func (r *SQLiteRepo) CreateMachine(ctx context.Context, m *models.Machine) (int64, error) {
	if m == nil {
		return 0, fmt.Errorf("machine is nil")
	}
	ts := now()
	res, err := r.conn.Exec(ctx,
		`INSERT INTO machines (name, registration_no, model, is_active, created, updated) VALUES (?, ?, ?, ?, ?, ?)`,
		m.Name, m.RegistrationNo, nullIfEmpty(m.Model), boolToInt(m.IsActive), ts, ts)
	if err != nil {
		return 0, fmt.Errorf("create machine: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepo) GetMachine(ctx context.Context, id int64) (*models.Machine, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT id, name, registration_no, model, is_active, created, updated FROM machines WHERE id = ?`, id)
	m, err := scanMachine(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get machine: %w", err)
	}
	return m, nil
}

func (r *SQLiteRepo) ListMachines(ctx context.Context) ([]models.Machine, error) {
	rows, err := r.conn.QueryRows(ctx,
		`SELECT id, name, registration_no, model, is_active, created, updated FROM machines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var out []models.Machine
	for rows.Next() {
		m, err := scanMachine(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMachine(scan func(...any) error) (*models.Machine, error) {
	var (
		m      models.Machine
		model  sql.NullString
		active int
	)
	if err := scan(&m.ID, &m.Name, &m.RegistrationNo, &model, &active, &m.Created, &m.Updated); err != nil {
		return nil, err
	}
	m.Model = model.String
	m.IsActive = active != 0
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
