// Package notify decides when renewal reminders are due and drives the
// outbound pipeline.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/pkg/repository"
)

// Evaluator produces the exact set of reminders due right now. A reminder
// is due when days_until_expiry equals a rule threshold and no log row
// exists for (document, threshold, today).
type Evaluator struct {
	docs   repository.DocumentRepo
	log    repository.NotificationLogRepo
	logger *slog.Logger
}

func NewEvaluator(docs repository.DocumentRepo, log repository.NotificationLogRepo, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{docs: docs, log: log, logger: logger}
}

// Evaluate returns today's due notifications and claims each one by writing
// its log row before returning it. Write-before-dispatch is the load-bearing
// ordering: once claimed, a threshold cannot fire again today even if the
// send downstream fails; retry of claimed work belongs to the job queue.
// A document with a bad date never blocks evaluation of the rest.
func (e *Evaluator) Evaluate(ctx context.Context) ([]models.DueNotification, error) {
	return e.run(ctx, true)
}

// Preview returns the notifications that would be due right now without
// claiming them. Used by the read-only status endpoint.
func (e *Evaluator) Preview(ctx context.Context) ([]models.DueNotification, error) {
	return e.run(ctx, false)
}

func (e *Evaluator) run(ctx context.Context, claim bool) ([]models.DueNotification, error) {
	candidates, err := e.docs.ListDueCandidates(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	today := models.FormatDate(now)
	var due []models.DueNotification
	for _, c := range candidates {
		days, err := c.Document.DaysUntilExpiry(now)
		if err != nil {
			e.logger.Warn("skipping document with bad expiry date",
				slog.Int64("document_id", c.Document.ID),
				slog.Any("err", err))
			continue
		}
		// exact match: an expired document only fires when a rule explicitly
		// targets zero or a negative threshold
		if days != c.DaysBefore {
			continue
		}

		if claim {
			claimed, err := e.log.Claim(ctx, c.Document.ID, c.DaysBefore, today)
			if err != nil {
				e.logger.Error("claim failed",
					slog.Int64("document_id", c.Document.ID),
					slog.Int("days_before", c.DaysBefore),
					slog.Any("err", err))
				continue
			}
			if !claimed {
				// already fired today
				continue
			}
		} else {
			exists, err := e.log.Exists(ctx, c.Document.ID, c.DaysBefore, today)
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}
		}

		due = append(due, models.DueNotification{
			Document:   c.Document,
			Machine:    c.Machine,
			DaysBefore: c.DaysBefore,
			Date:       today,
		})
	}
	return due, nil
}
