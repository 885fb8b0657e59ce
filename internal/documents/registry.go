// Package documents owns machine compliance documents and derives their
// live expiry status. It is the only writer of machine_documents.
package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fleetyard/backoffice/internal/faults"
	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/pkg/repository"
)

type Registry struct {
	docs     repository.DocumentRepo
	machines repository.MachineRepo
	validate *validator.Validate
	logger   *slog.Logger
}

func NewRegistry(docs repository.DocumentRepo, machines repository.MachineRepo, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		docs:     docs,
		machines: machines,
		validate: validator.New(),
		logger:   logger,
	}
}

type UpsertInput struct {
	MachineID       int64  `json:"machine_id" validate:"required,gt=0"`
	DocumentType    string `json:"document_type" validate:"required"`
	ExpiryDate      string `json:"expiry_date" validate:"required"`
	LastRenewedDate string `json:"last_renewed_date,omitempty"`
	Remarks         string `json:"remarks,omitempty"`
}

type UpsertResult struct {
	ID     int64  `json:"id"`
	Action string `json:"action"` // created | updated
}

// Upsert creates or updates the single document per (machine, type). All
// validation happens before any write.
func (r *Registry) Upsert(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	if err := r.validate.Struct(in); err != nil {
		return nil, faults.Validation("", err.Error())
	}
	docType := models.DocumentType(in.DocumentType)
	if !docType.Valid() {
		return nil, faults.Validation("document_type", fmt.Sprintf("unknown type %q", in.DocumentType))
	}
	expiry, err := parseDate(in.ExpiryDate)
	if err != nil {
		return nil, faults.Validation("expiry_date", err.Error())
	}
	if in.LastRenewedDate != "" {
		renewed, err := parseDate(in.LastRenewedDate)
		if err != nil {
			return nil, faults.Validation("last_renewed_date", err.Error())
		}
		if renewed.After(expiry) {
			return nil, faults.Validation("last_renewed_date", "renewal date is after expiry date")
		}
	}

	machine, err := r.machines.GetMachine(ctx, in.MachineID)
	if err != nil {
		return nil, err
	}
	if machine == nil {
		return nil, faults.NotFound("machine", in.MachineID)
	}

	doc := &models.MachineDocument{
		MachineID:       in.MachineID,
		DocumentType:    docType,
		ExpiryDate:      in.ExpiryDate,
		LastRenewedDate: in.LastRenewedDate,
		Remarks:         in.Remarks,
	}
	id, created, err := r.docs.UpsertDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	action := "updated"
	if created {
		action = "created"
	}
	r.logger.Info("document upserted",
		slog.Int64("id", id),
		slog.Int64("machine_id", in.MachineID),
		slog.String("type", string(docType)),
		slog.String("action", action))
	return &UpsertResult{ID: id, Action: action}, nil
}

// Renew starts a new renewal cycle: last_renewed_date becomes today, the
// expiry date moves, and the document's notification log is purged so each
// threshold can fire again.
func (r *Registry) Renew(ctx context.Context, id int64, newExpiryDate, remarks string) error {
	if _, err := parseDate(newExpiryDate); err != nil {
		return faults.Validation("new_expiry_date", err.Error())
	}
	doc, err := r.docs.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return faults.NotFound("document", id)
	}

	today := models.FormatDate(time.Now())
	if err := r.docs.RenewDocument(ctx, id, newExpiryDate, today, remarks); err != nil {
		return err
	}
	r.logger.Info("document renewed",
		slog.Int64("id", id),
		slog.String("new_expiry", newExpiryDate))
	return nil
}

type RenewItem struct {
	DocumentID    int64  `json:"document_id"`
	NewExpiryDate string `json:"new_expiry_date"`
	Remarks       string `json:"remarks,omitempty"`
}

type BulkResult struct {
	Renewed int `json:"renewed"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// BulkRenew renews each item independently; one bad row never aborts the
// rest.
func (r *Registry) BulkRenew(ctx context.Context, items []RenewItem) (*BulkResult, error) {
	if len(items) == 0 {
		return nil, faults.Validation("items", "empty renewal list")
	}
	res := &BulkResult{Total: len(items)}
	for _, item := range items {
		if err := r.Renew(ctx, item.DocumentID, item.NewExpiryDate, item.Remarks); err != nil {
			r.logger.Warn("bulk renew item failed",
				slog.Int64("document_id", item.DocumentID),
				slog.Any("err", err))
			res.Failed++
			continue
		}
		res.Renewed++
	}
	return res, nil
}

// Delete removes the document; rules and log rows go with it.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	doc, err := r.docs.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return faults.NotFound("document", id)
	}
	return r.docs.DeleteDocument(ctx, id)
}

// Get returns a document or a NotFoundError.
func (r *Registry) Get(ctx context.Context, id int64) (*models.MachineDocument, error) {
	doc, err := r.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, faults.NotFound("document", id)
	}
	return doc, nil
}

type ListFilter struct {
	MachineID    int64
	DocumentType string
	Status       string
}

// List returns documents with days_until_expiry and status computed as of
// now; the derived fields are never cached since "today" changes daily.
func (r *Registry) List(ctx context.Context, f ListFilter) ([]models.DocumentWithStatus, error) {
	if f.DocumentType != "" && !models.DocumentType(f.DocumentType).Valid() {
		return nil, faults.Validation("document_type", fmt.Sprintf("unknown type %q", f.DocumentType))
	}
	if f.Status != "" {
		switch models.ExpiryStatus(f.Status) {
		case models.StatusExpired, models.StatusCritical, models.StatusWarning, models.StatusNotice, models.StatusOK:
		default:
			return nil, faults.Validation("status", fmt.Sprintf("unknown status %q", f.Status))
		}
	}

	rows, err := r.docs.ListDocuments(ctx, f.MachineID, models.DocumentType(f.DocumentType))
	if err != nil {
		return nil, err
	}

	today := time.Now()
	out := make([]models.DocumentWithStatus, 0, len(rows))
	for _, row := range rows {
		days, err := row.MachineDocument.DaysUntilExpiry(today)
		if err != nil {
			r.logger.Warn("skipping document with bad expiry date",
				slog.Int64("id", row.ID),
				slog.Any("err", err))
			continue
		}
		row.DaysUntilExpiry = days
		row.Status = models.StatusForDays(days)
		if f.Status != "" && row.Status != models.ExpiryStatus(f.Status) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(models.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected %s date, got %q", models.DateLayout, s)
	}
	return t, nil
}
