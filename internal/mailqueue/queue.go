// Package mailqueue is the durable outbound pipeline: persisted work items
// with status and bounded retry, decoupling "decided to notify" from
// "actually delivered".
package mailqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetyard/backoffice/internal/faults"
	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/pkg/mailer"
	"github.com/fleetyard/backoffice/pkg/repository"
)

type Queue struct {
	jobs        repository.EmailJobRepo
	sender      mailer.Sender
	logger      *slog.Logger
	maxAttempts int
	sendTimeout time.Duration
}

func NewQueue(jobs repository.EmailJobRepo, sender mailer.Sender, logger *slog.Logger, maxAttempts int, sendTimeout time.Duration) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Queue{
		jobs:        jobs,
		sender:      sender,
		logger:      logger,
		maxAttempts: maxAttempts,
		sendTimeout: sendTimeout,
	}
}

// EnqueueExpiryAlert persists a document_expiry job and returns its id.
// Every decided notification goes through here so the job table doubles as
// an audit trail.
func (q *Queue) EnqueueExpiryAlert(ctx context.Context, p *models.ExpiryAlertPayload) (int64, error) {
	return q.enqueue(ctx, models.JobTypeDocumentExpiry, p, p.DedupKey())
}

func (q *Queue) enqueue(ctx context.Context, typ string, payload any, dedupKey string) (int64, error) {
	if !models.KnownJobType(typ) {
		return 0, faults.Validation("type", fmt.Sprintf("unknown job type %q", typ))
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	j := &models.EmailJob{
		Type:         typ,
		Payload:      b,
		DedupKey:     dedupKey,
		Status:       models.JobStatusPending,
		MaxAttempts:  q.maxAttempts,
		ScheduledFor: time.Now().UTC(),
	}
	return q.jobs.InsertJob(ctx, j)
}

// Attempt performs one synchronous delivery for the job and transitions its
// status: completed on success; on failure back to pending while attempts
// remain, failed once max_attempts is reached. A failed terminal job is
// never auto-retried.
func (q *Queue) Attempt(ctx context.Context, jobID int64) error {
	job, err := q.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return faults.NotFound("email job", jobID)
	}
	if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
		return faults.Validation("status", fmt.Sprintf("job %d is terminal (%s)", jobID, job.Status))
	}

	job.Status = models.JobStatusProcessing
	if err := q.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	subject, body, recipients, err := composeMail(job)
	if err != nil {
		// undeliverable payload: burn the job rather than retry forever
		job.Status = models.JobStatusFailed
		job.LastError = err.Error()
		_ = q.jobs.UpdateJob(ctx, job)
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, q.sendTimeout)
	sendErr := q.sender.Send(sendCtx, recipients, subject, body)
	cancel()

	if sendErr == nil {
		now := time.Now().UTC()
		job.Status = models.JobStatusCompleted
		job.ProcessedAt = &now
		job.LastError = ""
		if err := q.jobs.UpdateJob(ctx, job); err != nil {
			return err
		}
		q.logger.Info("email delivered",
			slog.Int64("job_id", job.ID),
			slog.String("type", job.Type),
			slog.Int("attempts", job.Attempts+1))
		return nil
	}

	job.Attempts++
	job.LastError = sendErr.Error()
	if job.Attempts < job.MaxAttempts {
		job.Status = models.JobStatusPending
	} else {
		job.Status = models.JobStatusFailed
		now := time.Now().UTC()
		job.ProcessedAt = &now
	}
	if err := q.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}
	q.logger.Warn("email delivery failed",
		slog.Int64("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.String("status", job.Status),
		slog.Any("err", sendErr))
	return &faults.TransientDeliveryError{Err: sendErr}
}

// ListByStatus supports the audit/status endpoints; status "" lists all.
func (q *Queue) ListByStatus(ctx context.Context, typ, status string, limit int) ([]models.EmailJob, error) {
	if !models.KnownJobType(typ) {
		return nil, faults.Validation("type", fmt.Sprintf("unknown job type %q", typ))
	}
	switch status {
	case "", models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed:
	default:
		return nil, faults.Validation("status", fmt.Sprintf("unknown status %q", status))
	}
	return q.jobs.ListJobs(ctx, typ, status, limit)
}

// HasCompletedToday reports whether an alert for the dedup key already went
// out today. Manual sends consult this unless force_send is set.
func (q *Queue) HasCompletedToday(ctx context.Context, dedupKey string) (bool, error) {
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return q.jobs.HasCompletedSince(ctx, dedupKey, startOfDay)
}

type DrainResult struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
}

// DrainPending retries every runnable pending job of a type once. Delivery
// failures stay in the queue for the next drain; they are never surfaced as
// hard errors.
func (q *Queue) DrainPending(ctx context.Context, typ string) (*DrainResult, error) {
	jobs, err := q.jobs.ListRunnable(ctx, typ, time.Now().UTC(), 0)
	if err != nil {
		return nil, err
	}
	res := &DrainResult{}
	for _, j := range jobs {
		res.Attempted++
		if err := q.Attempt(ctx, j.ID); err != nil {
			continue
		}
		res.Delivered++
	}
	return res, nil
}

// composeMail renders the message for a job's typed payload. Unknown types
// cannot exist past enqueue, but a malformed payload is reported instead of
// panicking.
func composeMail(job *models.EmailJob) (subject, body string, recipients []string, err error) {
	switch job.Type {
	case models.JobTypeDocumentExpiry:
		var p models.ExpiryAlertPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return "", "", nil, fmt.Errorf("decode %s payload: %w", job.Type, err)
		}
		if len(p.Recipients) == 0 {
			return "", "", nil, fmt.Errorf("job %d has no recipients", job.ID)
		}
		return expirySubject(&p), expiryBody(&p), p.Recipients, nil
	default:
		return "", "", nil, fmt.Errorf("unknown job type %q", job.Type)
	}
}

func expirySubject(p *models.ExpiryAlertPayload) string {
	switch {
	case p.DaysBefore < 0:
		return fmt.Sprintf("%s for %s (%s) expired %d days ago", p.DocumentType, p.MachineName, p.RegistrationNo, -p.DaysBefore)
	case p.DaysBefore == 0:
		return fmt.Sprintf("%s for %s (%s) expires today", p.DocumentType, p.MachineName, p.RegistrationNo)
	default:
		return fmt.Sprintf("%s for %s (%s) expires in %d days", p.DocumentType, p.MachineName, p.RegistrationNo, p.DaysBefore)
	}
}

func expiryBody(p *models.ExpiryAlertPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Renewal reminder for machine %s (%s).\n\n", p.MachineName, p.RegistrationNo)
	fmt.Fprintf(&b, "Document: %s\n", p.DocumentType)
	fmt.Fprintf(&b, "Expiry date: %s\n", p.ExpiryDate)
	switch {
	case p.DaysBefore < 0:
		fmt.Fprintf(&b, "Status: expired %d days ago\n", -p.DaysBefore)
	case p.DaysBefore == 0:
		fmt.Fprintf(&b, "Status: expires today\n")
	default:
		fmt.Fprintf(&b, "Days remaining: %d\n", p.DaysBefore)
	}
	b.WriteString("\nPlease arrange the renewal before the expiry date.\n")
	return b.String()
}
