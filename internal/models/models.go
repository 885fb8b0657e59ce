package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the storage layout for calendar dates. Expiry, renewal and
// notification dates are calendar days, not instants, so they are kept as
// ISO date strings and compared by day.
const DateLayout = "2006-01-02"

// DocumentType enumerates the compliance documents tracked per machine.
type DocumentType string

const (
	DocTypeRCBook    DocumentType = "RC_Book"
	DocTypePUC       DocumentType = "PUC"
	DocTypeFitness   DocumentType = "Fitness"
	DocTypeInsurance DocumentType = "Insurance"
)

// DefaultScopeAll is the catch-all key in the notification defaults table.
// It applies to any document type lacking a type-specific default.
const DefaultScopeAll = "ALL"

// Valid reports whether t is one of the four known document types.
func (t DocumentType) Valid() bool {
	switch t {
	case DocTypeRCBook, DocTypePUC, DocTypeFitness, DocTypeInsurance:
		return true
	}
	return false
}

// DocumentTypes lists all valid document types.
func DocumentTypes() []DocumentType {
	return []DocumentType{DocTypeRCBook, DocTypePUC, DocTypeFitness, DocTypeInsurance}
}

// ExpiryStatus is the derived urgency band of a document. It is computed
// from expiry_date at query time and never stored.
type ExpiryStatus string

const (
	StatusExpired  ExpiryStatus = "EXPIRED"
	StatusCritical ExpiryStatus = "CRITICAL"
	StatusWarning  ExpiryStatus = "WARNING"
	StatusNotice   ExpiryStatus = "NOTICE"
	StatusOK       ExpiryStatus = "OK"
)

// StatusForDays maps days-until-expiry onto the status bands.
func StatusForDays(days int) ExpiryStatus {
	switch {
	case days <= 0:
		return StatusExpired
	case days <= 3:
		return StatusCritical
	case days <= 7:
		return StatusWarning
	case days <= 14:
		return StatusNotice
	default:
		return StatusOK
	}
}

// FormatDate renders t as a storage date string in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DaysBetween returns the whole calendar days from today until date.
// Negative when the date is in the past.
func DaysBetween(today time.Time, date string) (int, error) {
	d, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parse date %q: %w", date, err)
	}
	t := today.UTC()
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Sub(t).Hours() / 24), nil
}

type Machine struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	RegistrationNo string `json:"registration_no"`
	Model          string `json:"model,omitempty"`
	IsActive       bool   `json:"is_active"`
	Created        int64  `json:"created"`
	Updated        int64  `json:"updated"`
}

// MachineDocument is one compliance document bound to one machine. Exactly
// one row exists per (machine, document_type).
type MachineDocument struct {
	ID              int64        `json:"id"`
	MachineID       int64        `json:"machine_id"`
	DocumentType    DocumentType `json:"document_type"`
	ExpiryDate      string       `json:"expiry_date"`
	LastRenewedDate string       `json:"last_renewed_date,omitempty"`
	Remarks         string       `json:"remarks,omitempty"`
	Created         int64        `json:"created"`
	Updated         int64        `json:"updated"`
}

// DaysUntilExpiry computes expiry_date minus today in calendar days.
func (d *MachineDocument) DaysUntilExpiry(today time.Time) (int, error) {
	return DaysBetween(today, d.ExpiryDate)
}

// StatusOn derives the status band as of today.
func (d *MachineDocument) StatusOn(today time.Time) (ExpiryStatus, error) {
	days, err := d.DaysUntilExpiry(today)
	if err != nil {
		return "", err
	}
	return StatusForDays(days), nil
}

// DocumentWithStatus is a list-view row: the stored document plus machine
// context and the derived fields.
type DocumentWithStatus struct {
	MachineDocument
	MachineName     string       `json:"machine_name"`
	RegistrationNo  string       `json:"registration_no"`
	MachineActive   bool         `json:"machine_active"`
	DaysUntilExpiry int          `json:"days_until_expiry"`
	Status          ExpiryStatus `json:"status"`
}

type NotificationRule struct {
	ID         int64 `json:"id"`
	DocumentID int64 `json:"document_id"`
	DaysBefore int   `json:"days_before"`
	IsActive   bool  `json:"is_active"`
	Created    int64 `json:"created"`
}

// NotificationDefault is a per-document-type day-threshold template used to
// seed rules for documents that have none. Days keeps insertion order.
type NotificationDefault struct {
	ID           int64  `json:"id"`
	DocumentType string `json:"document_type"`
	Days         []int  `json:"days_before"`
	CreatedBy    string `json:"created_by,omitempty"`
	Updated      int64  `json:"updated"`
}

// NotificationLogEntry marks a (document, threshold, day) reminder as
// claimed. Its existence is the dedup source of truth.
type NotificationLogEntry struct {
	ID               int64  `json:"id"`
	DocumentID       int64  `json:"document_id"`
	DaysBefore       int    `json:"days_before"`
	NotificationDate string `json:"notification_date"`
	Created          int64  `json:"created"`
}

// DueNotification is one reminder the evaluator decided must fire today.
type DueNotification struct {
	Document   MachineDocument `json:"document"`
	Machine    Machine         `json:"machine"`
	DaysBefore int             `json:"days_before"`
	Date       string          `json:"date"`
}

// Email job statuses. Terminal states are completed and failed.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobTypeDocumentExpiry is the job type for expiry reminder mail. The job
// table is shared, so new variants register here with a typed payload.
const JobTypeDocumentExpiry = "document_expiry"

// KnownJobType reports whether typ is a registered job variant.
func KnownJobType(typ string) bool {
	return typ == JobTypeDocumentExpiry
}

type EmailJob struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	DedupKey     string          `json:"dedup_key,omitempty"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	Created      time.Time       `json:"created"`
	Updated      time.Time       `json:"updated"`
}

// ExpiryAlertPayload is the typed payload of a document_expiry job.
type ExpiryAlertPayload struct {
	DocumentID     int64        `json:"document_id"`
	MachineID      int64        `json:"machine_id"`
	MachineName    string       `json:"machine_name"`
	RegistrationNo string       `json:"registration_no"`
	DocumentType   DocumentType `json:"document_type"`
	DaysBefore     int          `json:"days_before"`
	ExpiryDate     string       `json:"expiry_date"`
	Recipients     []string     `json:"recipients"`
}

// DedupKey identifies the document an alert is about, for the
// completed-today manual-send check.
func (p *ExpiryAlertPayload) DedupKey() string {
	return fmt.Sprintf("document:%d", p.DocumentID)
}
