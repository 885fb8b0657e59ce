package notify_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fleetyard/backoffice/internal/mailqueue"
	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/internal/notify"
	"github.com/fleetyard/backoffice/pkg/repository/mock"
)

type fakeSender struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakeSender) Send(ctx context.Context, to []string, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("smtp refused (call %d)", f.calls)
	}
	return nil
}

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func setupScheduler(t *testing.T, sender *fakeSender) (*notify.Scheduler, *mock.Repo) {
	t.Helper()
	repo := mock.NewRepo()
	eval := notify.NewEvaluator(repo, repo, nil)
	queue := mailqueue.NewQueue(repo, sender, nil, 3, 0)
	sched := notify.NewScheduler(eval, queue, repo, repo, []string{"fleet-ops@example.com"}, nil)
	return sched, repo
}

// seedDue creates an active machine with a document whose expiry matches the
// given rule threshold today.
func seedDue(t *testing.T, repo *mock.Repo, threshold int) int64 {
	t.Helper()
	ctx := context.Background()
	machineID, err := repo.CreateMachine(ctx, &models.Machine{
		Name:           "Forklift",
		RegistrationNo: fmt.Sprintf("KA-04-%04d", machineSeq.Add(1)),
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	docID, _, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    machineID,
		DocumentType: models.DocTypePUC,
		ExpiryDate:   dateFromNow(threshold),
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := repo.ReplaceRules(ctx, docID, []int{threshold}); err != nil {
		t.Fatalf("ReplaceRules: %v", err)
	}
	return docID
}

func TestRunDispatchesDueAlerts(t *testing.T) {
	sender := &fakeSender{}
	sched, repo := setupScheduler(t, sender)
	ctx := context.Background()

	docID := seedDue(t, repo, 7)

	report, err := sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Total != 1 || report.Sent != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report: %#v", report)
	}
	if sender.sent() != 1 {
		t.Fatalf("expected 1 delivery, got %d", sender.sent())
	}

	jobs, err := repo.ListJobs(ctx, models.JobTypeDocumentExpiry, models.JobStatusCompleted, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].DedupKey != fmt.Sprintf("document:%d", docID) {
		t.Fatalf("unexpected jobs: %#v", jobs)
	}

	// second tick on the same day: threshold already claimed
	report, err = sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run second: %v", err)
	}
	if report.Total != 0 || report.Sent != 0 {
		t.Fatalf("expected empty second tick, got %#v", report)
	}
	if sender.sent() != 1 {
		t.Fatalf("duplicate delivery: %d sends", sender.sent())
	}
}

func TestRunRetriesFailedDeliveryNextTick(t *testing.T) {
	sender := &fakeSender{failures: 1}
	sched, repo := setupScheduler(t, sender)
	ctx := context.Background()

	seedDue(t, repo, 1)

	report, err := sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Total != 1 || report.Failed != 1 || report.Sent != 0 {
		t.Fatalf("unexpected first report: %#v", report)
	}

	pending, err := repo.ListJobs(ctx, models.JobTypeDocumentExpiry, models.JobStatusPending, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected failed delivery to stay queued, got %d pending", len(pending))
	}

	// the next tick's drain delivers the backlog; the threshold itself is
	// already claimed so nothing new is due
	report, err = sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run second: %v", err)
	}
	if report.Total != 0 {
		t.Fatalf("expected nothing newly due, got %#v", report)
	}

	completed, err := repo.ListJobs(ctx, models.JobTypeDocumentExpiry, models.JobStatusCompleted, 0)
	if err != nil {
		t.Fatalf("ListJobs completed: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("expected backlog delivered, got %d completed", len(completed))
	}
}

func TestSendAlertsForDocuments(t *testing.T) {
	sender := &fakeSender{}
	sched, repo := setupScheduler(t, sender)
	ctx := context.Background()

	docID := seedDue(t, repo, 45)

	report, err := sched.SendAlerts(ctx, []int64{docID}, false)
	if err != nil {
		t.Fatalf("SendAlerts: %v", err)
	}
	if report.Sent != 1 || report.Total != 1 {
		t.Fatalf("unexpected report: %#v", report)
	}

	// already mailed today: deduped unless forced
	report, err = sched.SendAlerts(ctx, []int64{docID}, false)
	if err != nil {
		t.Fatalf("SendAlerts repeat: %v", err)
	}
	if report.Skipped != 1 || report.Sent != 0 {
		t.Fatalf("expected dedup skip, got %#v", report)
	}

	report, err = sched.SendAlerts(ctx, []int64{docID}, true)
	if err != nil {
		t.Fatalf("SendAlerts forced: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("expected forced send, got %#v", report)
	}
	if sender.sent() != 2 {
		t.Fatalf("expected 2 deliveries total, got %d", sender.sent())
	}

	// unknown documents count as failures, not errors
	report, err = sched.SendAlerts(ctx, []int64{docID, 999}, true)
	if err != nil {
		t.Fatalf("SendAlerts mixed: %v", err)
	}
	if report.Sent != 1 || report.Failed != 1 || report.Total != 2 {
		t.Fatalf("unexpected mixed report: %#v", report)
	}
}

func TestSendAlertsWithoutIDsRunsFullTick(t *testing.T) {
	sender := &fakeSender{}
	sched, repo := setupScheduler(t, sender)

	seedDue(t, repo, 7)

	report, err := sched.SendAlerts(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("SendAlerts: %v", err)
	}
	if report.Total != 1 || report.Sent != 1 {
		t.Fatalf("expected full tick semantics, got %#v", report)
	}
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sched, _ := setupScheduler(t, &fakeSender{})

	if err := sched.Start("not a cron spec"); err == nil {
		t.Fatalf("expected error for invalid cron spec")
	}
	if err := sched.Start("@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sched.Start("@every 1h"); err == nil {
		t.Fatalf("expected error on double start")
	}
	sched.Stop()
	// idempotent
	sched.Stop()

	// give the cron goroutine a moment to exit before the leak check
	time.Sleep(10 * time.Millisecond)
}
