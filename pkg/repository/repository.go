package repository

import (
	"context"
	"time"

	"github.com/fleetyard/backoffice/internal/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.

type MachineRepo interface {
	CreateMachine(ctx context.Context, m *models.Machine) (int64, error)
	GetMachine(ctx context.Context, id int64) (*models.Machine, error)
	ListMachines(ctx context.Context) ([]models.Machine, error)
}

// DueCandidate is one (document, active rule threshold) pair on an active
// machine, before the evaluator applies the day match and the dedup check.
type DueCandidate struct {
	Document   models.MachineDocument
	Machine    models.Machine
	DaysBefore int
}

type DocumentRepo interface {
	// UpsertDocument creates or updates the single row keyed on
	// (machine_id, document_type). The bool reports whether a row was created.
	UpsertDocument(ctx context.Context, d *models.MachineDocument) (int64, bool, error)
	GetDocument(ctx context.Context, id int64) (*models.MachineDocument, error)
	// ListDocuments filters by machine and/or type; zero values mean no filter.
	// Derived status fields are left for the caller to fill in.
	ListDocuments(ctx context.Context, machineID int64, docType models.DocumentType) ([]models.DocumentWithStatus, error)
	// ListWithoutRules returns documents of a type that have zero rules.
	ListWithoutRules(ctx context.Context, docType models.DocumentType) ([]models.MachineDocument, error)
	// RenewDocument updates expiry/renewal dates and purges the document's
	// notification log rows in one transaction.
	RenewDocument(ctx context.Context, id int64, newExpiry, renewedOn, remarks string) error
	// DeleteDocument removes the document and cascades to its rules and logs.
	DeleteDocument(ctx context.Context, id int64) error
	// ListDueCandidates joins documents on active machines with their active
	// rules.
	ListDueCandidates(ctx context.Context) ([]DueCandidate, error)
}

type RuleRepo interface {
	// ReplaceRules clears the document's rule set and inserts days, in one
	// transaction. Never merges.
	ReplaceRules(ctx context.Context, documentID int64, days []int) error
	ListRules(ctx context.Context, documentID int64) ([]models.NotificationRule, error)
}

type DefaultsRepo interface {
	// GetDefault returns the default for a document type, or nil when none.
	GetDefault(ctx context.Context, documentType string) (*models.NotificationDefault, error)
	ListDefaults(ctx context.Context) ([]models.NotificationDefault, error)
	UpsertDefault(ctx context.Context, documentType string, days []int, actor string) error
}

type NotificationLogRepo interface {
	// Claim atomically records (document, threshold, day) as handled. It
	// returns false when the row already existed, relying on the storage
	// uniqueness constraint rather than check-then-insert.
	Claim(ctx context.Context, documentID int64, daysBefore int, date string) (bool, error)
	Exists(ctx context.Context, documentID int64, daysBefore int, date string) (bool, error)
	ListLog(ctx context.Context, documentID int64) ([]models.NotificationLogEntry, error)
}

type EmailJobRepo interface {
	InsertJob(ctx context.Context, j *models.EmailJob) (int64, error)
	GetJob(ctx context.Context, id int64) (*models.EmailJob, error)
	UpdateJob(ctx context.Context, j *models.EmailJob) error
	// ListJobs filters by type and optional status; status "" means all.
	ListJobs(ctx context.Context, typ, status string, limit int) ([]models.EmailJob, error)
	// ListRunnable returns pending jobs of a type whose scheduled_for has passed.
	ListRunnable(ctx context.Context, typ string, now time.Time, limit int) ([]models.EmailJob, error)
	// HasCompletedSince reports whether a job with the dedup key completed at
	// or after since.
	HasCompletedSince(ctx context.Context, dedupKey string, since time.Time) (bool, error)
}
