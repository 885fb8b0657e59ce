package sqlite

import (
	"time"

	"log/slog"

	"github.com/fleetyard/backoffice/internal/db"
	"github.com/fleetyard/backoffice/pkg/repository"
)

// SQLiteRepo implements repository interfaces using the internal DB wrapper.
type SQLiteRepo struct {
	conn   *db.DB
	logger *slog.Logger
}

// Ensure SQLiteRepo implements the public interfaces.
var _ repository.MachineRepo = (*SQLiteRepo)(nil)
var _ repository.DocumentRepo = (*SQLiteRepo)(nil)
var _ repository.RuleRepo = (*SQLiteRepo)(nil)
var _ repository.DefaultsRepo = (*SQLiteRepo)(nil)
var _ repository.NotificationLogRepo = (*SQLiteRepo)(nil)
var _ repository.EmailJobRepo = (*SQLiteRepo)(nil)

func New(conn *db.DB, logger *slog.Logger) *SQLiteRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRepo{conn: conn, logger: logger}
}

func now() int64 {
	return time.Now().UTC().Unix()
}

// nullIfEmpty maps "" to NULL for nullable text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
