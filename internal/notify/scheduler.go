package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleetyard/backoffice/internal/faults"
	"github.com/fleetyard/backoffice/internal/mailqueue"
	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/pkg/repository"
)

// Scheduler is the single periodic driver: each tick retries the pending
// backlog, evaluates what is due, and dispatches it. It also backs the
// manual trigger and the send-now-for-document path.
type Scheduler struct {
	eval       *Evaluator
	queue      *mailqueue.Queue
	docs       repository.DocumentRepo
	machines   repository.MachineRepo
	recipients []string
	logger     *slog.Logger
	cron       *cron.Cron
}

func NewScheduler(eval *Evaluator, queue *mailqueue.Queue, docs repository.DocumentRepo, machines repository.MachineRepo, recipients []string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		eval:       eval,
		queue:      queue,
		docs:       docs,
		machines:   machines,
		recipients: recipients,
		logger:     logger,
	}
}

// RunReport is what trigger endpoints surface: counts, not stack traces.
type RunReport struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Start schedules periodic runs with the given cron expression.
func (s *Scheduler) Start(spec string) error {
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		report, err := s.Run(context.Background())
		if err != nil {
			s.logger.Error("scheduled run failed", slog.Any("err", err))
			return
		}
		s.logger.Info("scheduled run finished",
			slog.Int("sent", report.Sent),
			slog.Int("failed", report.Failed),
			slog.Int("total", report.Total))
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("scheduler started", slog.String("cron", spec))
	return nil
}

// Stop halts the cron and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
}

// Run performs one full tick: drain the pending backlog from earlier ticks,
// then evaluate and dispatch today's due notifications. A failed immediate
// delivery stays queued; the next tick's drain picks it up.
func (s *Scheduler) Run(ctx context.Context) (*RunReport, error) {
	if drained, err := s.queue.DrainPending(ctx, models.JobTypeDocumentExpiry); err != nil {
		s.logger.Error("drain pending jobs", slog.Any("err", err))
	} else if drained.Attempted > 0 {
		s.logger.Info("retried pending jobs",
			slog.Int("attempted", drained.Attempted),
			slog.Int("delivered", drained.Delivered))
	}

	due, err := s.eval.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	report := &RunReport{Total: len(due)}
	for _, d := range due {
		if s.dispatch(ctx, &d.Document, &d.Machine, d.DaysBefore) {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

// SendAlerts is the manual trigger. With no ids it performs the identical
// periodic logic on demand; with ids it sends for those documents now,
// skipping any that already got mail today unless force is set.
func (s *Scheduler) SendAlerts(ctx context.Context, documentIDs []int64, force bool) (*RunReport, error) {
	if len(documentIDs) == 0 {
		return s.Run(ctx)
	}

	report := &RunReport{Total: len(documentIDs)}
	for _, id := range documentIDs {
		sent, err := s.sendForDocument(ctx, id, force)
		switch {
		case err != nil:
			s.logger.Warn("manual send failed",
				slog.Int64("document_id", id),
				slog.Any("err", err))
			report.Failed++
		case sent:
			report.Sent++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

// sendForDocument builds an alert from the document's current state. The
// bool reports whether mail was actually dispatched (false = deduped).
func (s *Scheduler) sendForDocument(ctx context.Context, documentID int64, force bool) (bool, error) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, faults.NotFound("document", documentID)
	}
	machine, err := s.machines.GetMachine(ctx, doc.MachineID)
	if err != nil {
		return false, err
	}
	if machine == nil {
		return false, faults.NotFound("machine", doc.MachineID)
	}
	days, err := doc.DaysUntilExpiry(time.Now())
	if err != nil {
		return false, err
	}

	payload := s.payloadFor(doc, machine, days)
	if !force {
		done, err := s.queue.HasCompletedToday(ctx, payload.DedupKey())
		if err != nil {
			return false, err
		}
		if done {
			s.logger.Info("alert already sent today, skipping",
				slog.Int64("document_id", documentID))
			return false, nil
		}
	}

	jobID, err := s.queue.EnqueueExpiryAlert(ctx, payload)
	if err != nil {
		return false, err
	}
	if err := s.queue.Attempt(ctx, jobID); err != nil {
		// stays queued for the next drain
		return false, err
	}
	return true, nil
}

// dispatch enqueues and immediately attempts one claimed due notification.
func (s *Scheduler) dispatch(ctx context.Context, doc *models.MachineDocument, machine *models.Machine, daysBefore int) bool {
	payload := s.payloadFor(doc, machine, daysBefore)
	jobID, err := s.queue.EnqueueExpiryAlert(ctx, payload)
	if err != nil {
		s.logger.Error("enqueue alert",
			slog.Int64("document_id", doc.ID),
			slog.Any("err", err))
		return false
	}
	if err := s.queue.Attempt(ctx, jobID); err != nil {
		// claimed for today; the job queue owns the retry from here
		return false
	}
	return true
}

func (s *Scheduler) payloadFor(doc *models.MachineDocument, machine *models.Machine, daysBefore int) *models.ExpiryAlertPayload {
	return &models.ExpiryAlertPayload{
		DocumentID:     doc.ID,
		MachineID:      machine.ID,
		MachineName:    machine.Name,
		RegistrationNo: machine.RegistrationNo,
		DocumentType:   doc.DocumentType,
		DaysBefore:     daysBefore,
		ExpiryDate:     doc.ExpiryDate,
		Recipients:     s.recipients,
	}
}
