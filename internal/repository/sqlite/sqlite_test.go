package sqlite_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	dbfs "github.com/fleetyard/backoffice/db"
	dbpkg "github.com/fleetyard/backoffice/internal/db"
	"github.com/fleetyard/backoffice/internal/models"
	sqlite "github.com/fleetyard/backoffice/internal/repository/sqlite"
)

func setupRepo(t *testing.T) *sqlite.SQLiteRepo {
	t.Helper()
	ctx := context.Background()
	// unique shared in-memory DB per test so fixtures never leak across tests
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	d, err := dbpkg.New(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := dbpkg.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return sqlite.New(d, nil)
}

var machineSeq atomic.Int64

func createMachine(t *testing.T, repo *sqlite.SQLiteRepo, active bool) int64 {
	t.Helper()
	id, err := repo.CreateMachine(context.Background(), &models.Machine{
		Name:           "Excavator " + t.Name(),
		RegistrationNo: fmt.Sprintf("KA-01-%04d", machineSeq.Add(1)),
		Model:          "EX200",
		IsActive:       active,
	})
	if err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	return id
}

func dateFromNow(days int) string {
	return models.FormatDate(time.Now().UTC().AddDate(0, 0, days))
}

func TestDocumentUpsert(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	machineID := createMachine(t, repo, true)

	doc := &models.MachineDocument{
		MachineID:    machineID,
		DocumentType: models.DocTypePUC,
		ExpiryDate:   dateFromNow(30),
	}
	id, created, err := repo.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if !created || id == 0 {
		t.Fatalf("expected created document, got id=%d created=%v", id, created)
	}

	// same (machine, type) must update the existing row, not add one
	doc.ExpiryDate = dateFromNow(60)
	doc.Remarks = "renewed at RTO"
	id2, created2, err := repo.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("UpsertDocument update: %v", err)
	}
	if created2 {
		t.Fatalf("expected update, got create")
	}
	if id2 != id {
		t.Fatalf("expected same id %d, got %d", id, id2)
	}

	got, err := repo.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got == nil || got.ExpiryDate != dateFromNow(60) || got.Remarks != "renewed at RTO" {
		t.Fatalf("GetDocument wrong result: %#v", got)
	}

	// different type on the same machine creates a second document
	_, created3, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    machineID,
		DocumentType: models.DocTypeInsurance,
		ExpiryDate:   dateFromNow(90),
	})
	if err != nil {
		t.Fatalf("UpsertDocument second type: %v", err)
	}
	if !created3 {
		t.Fatalf("expected second type to create")
	}

	missing, err := repo.GetDocument(ctx, 9999)
	if err != nil {
		t.Fatalf("GetDocument missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing document, got %#v", missing)
	}
}

func TestRenewPurgesNotificationLog(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	machineID := createMachine(t, repo, true)

	id, _, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    machineID,
		DocumentType: models.DocTypeFitness,
		ExpiryDate:   dateFromNow(7),
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	today := models.FormatDate(time.Now())
	for _, days := range []int{30, 7} {
		claimed, err := repo.Claim(ctx, id, days, today)
		if err != nil || !claimed {
			t.Fatalf("Claim(%d): claimed=%v err=%v", days, claimed, err)
		}
	}

	if err := repo.RenewDocument(ctx, id, dateFromNow(365), today, "annual renewal"); err != nil {
		t.Fatalf("RenewDocument: %v", err)
	}

	entries, err := repo.ListLog(ctx, id)
	if err != nil {
		t.Fatalf("ListLog: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected purged log, got %d entries", len(entries))
	}

	got, err := repo.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.ExpiryDate != dateFromNow(365) {
		t.Fatalf("expiry not updated: %s", got.ExpiryDate)
	}
	if got.LastRenewedDate != today {
		t.Fatalf("last_renewed_date not set: %q", got.LastRenewedDate)
	}

	// threshold can fire again in the new cycle
	claimed, err := repo.Claim(ctx, id, 7, today)
	if err != nil || !claimed {
		t.Fatalf("post-renew Claim: claimed=%v err=%v", claimed, err)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	machineID := createMachine(t, repo, true)

	id, _, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    machineID,
		DocumentType: models.DocTypeRCBook,
		ExpiryDate:   dateFromNow(10),
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := repo.ReplaceRules(ctx, id, []int{30, 7, 1}); err != nil {
		t.Fatalf("ReplaceRules: %v", err)
	}
	if _, err := repo.Claim(ctx, id, 7, models.FormatDate(time.Now())); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := repo.DeleteDocument(ctx, id); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	got, err := repo.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %#v", got)
	}
	rules, err := repo.ListRules(ctx, id)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected rules cascade, got %d", len(rules))
	}
	entries, err := repo.ListLog(ctx, id)
	if err != nil {
		t.Fatalf("ListLog: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected log cascade, got %d", len(entries))
	}
}

func TestClaimIsUniquePerDay(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	machineID := createMachine(t, repo, true)
	id, _, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    machineID,
		DocumentType: models.DocTypePUC,
		ExpiryDate:   dateFromNow(7),
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	today := models.FormatDate(time.Now())
	claimed, err := repo.Claim(ctx, id, 7, today)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first claim to win")
	}

	claimed, err = repo.Claim(ctx, id, 7, today)
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if claimed {
		t.Fatalf("expected second claim to lose")
	}

	exists, err := repo.Exists(ctx, id, 7, today)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected log row to exist")
	}

	// a different threshold on the same day is a separate claim
	claimed, err = repo.Claim(ctx, id, 1, today)
	if err != nil || !claimed {
		t.Fatalf("different threshold claim: claimed=%v err=%v", claimed, err)
	}
}

func TestReplaceRulesIsTotal(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	machineID := createMachine(t, repo, true)
	id, _, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    machineID,
		DocumentType: models.DocTypeInsurance,
		ExpiryDate:   dateFromNow(45),
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	if err := repo.ReplaceRules(ctx, id, []int{30, 7, 1}); err != nil {
		t.Fatalf("ReplaceRules: %v", err)
	}
	if err := repo.ReplaceRules(ctx, id, []int{14}); err != nil {
		t.Fatalf("ReplaceRules second: %v", err)
	}

	rules, err := repo.ListRules(ctx, id)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 || rules[0].DaysBefore != 14 {
		t.Fatalf("expected exactly [14], got %#v", rules)
	}
	if !rules[0].IsActive {
		t.Fatalf("expected active rule")
	}
}

func TestDefaultsRoundTrip(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	// seeded by migration 0002
	all, err := repo.GetDefault(ctx, models.DefaultScopeAll)
	if err != nil {
		t.Fatalf("GetDefault ALL: %v", err)
	}
	if all == nil {
		t.Fatalf("expected seeded ALL default")
	}
	if len(all.Days) != 4 || all.Days[0] != 30 || all.Days[3] != 1 {
		t.Fatalf("unexpected seeded days: %v", all.Days)
	}

	if err := repo.UpsertDefault(ctx, string(models.DocTypeInsurance), []int{14, 7, 3, 1}, "ops"); err != nil {
		t.Fatalf("UpsertDefault: %v", err)
	}
	def, err := repo.GetDefault(ctx, string(models.DocTypeInsurance))
	if err != nil {
		t.Fatalf("GetDefault: %v", err)
	}
	if def == nil || len(def.Days) != 4 {
		t.Fatalf("unexpected default: %#v", def)
	}
	for i, want := range []int{14, 7, 3, 1} {
		if def.Days[i] != want {
			t.Fatalf("days out of order: %v", def.Days)
		}
	}
	if def.CreatedBy != "ops" {
		t.Fatalf("created_by not kept: %q", def.CreatedBy)
	}

	// upsert replaces the day list, keyed on type
	if err := repo.UpsertDefault(ctx, string(models.DocTypeInsurance), []int{10}, "ops2"); err != nil {
		t.Fatalf("UpsertDefault replace: %v", err)
	}
	def, err = repo.GetDefault(ctx, string(models.DocTypeInsurance))
	if err != nil {
		t.Fatalf("GetDefault after replace: %v", err)
	}
	if len(def.Days) != 1 || def.Days[0] != 10 {
		t.Fatalf("expected [10], got %v", def.Days)
	}

	defaults, err := repo.ListDefaults(ctx)
	if err != nil {
		t.Fatalf("ListDefaults: %v", err)
	}
	if len(defaults) != 2 {
		t.Fatalf("expected ALL + Insurance, got %d", len(defaults))
	}

	missing, err := repo.GetDefault(ctx, string(models.DocTypePUC))
	if err != nil {
		t.Fatalf("GetDefault missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing default")
	}
}

func TestListWithoutRules(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	machineID := createMachine(t, repo, true)

	withRules, _, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    machineID,
		DocumentType: models.DocTypePUC,
		ExpiryDate:   dateFromNow(20),
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := repo.ReplaceRules(ctx, withRules, []int{7}); err != nil {
		t.Fatalf("ReplaceRules: %v", err)
	}

	machine2 := createMachine(t, repo, true)
	bare, _, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    machine2,
		DocumentType: models.DocTypePUC,
		ExpiryDate:   dateFromNow(20),
	})
	if err != nil {
		t.Fatalf("UpsertDocument bare: %v", err)
	}

	docs, err := repo.ListWithoutRules(ctx, models.DocTypePUC)
	if err != nil {
		t.Fatalf("ListWithoutRules: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != bare {
		t.Fatalf("expected only the bare document, got %#v", docs)
	}
}

func TestListDueCandidates(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	activeMachine := createMachine(t, repo, true)
	inactiveMachine := createMachine(t, repo, false)

	activeDoc, _, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    activeMachine,
		DocumentType: models.DocTypePUC,
		ExpiryDate:   dateFromNow(7),
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := repo.ReplaceRules(ctx, activeDoc, []int{30, 7}); err != nil {
		t.Fatalf("ReplaceRules: %v", err)
	}

	parkedDoc, _, err := repo.UpsertDocument(ctx, &models.MachineDocument{
		MachineID:    inactiveMachine,
		DocumentType: models.DocTypePUC,
		ExpiryDate:   dateFromNow(7),
	})
	if err != nil {
		t.Fatalf("UpsertDocument parked: %v", err)
	}
	if err := repo.ReplaceRules(ctx, parkedDoc, []int{7}); err != nil {
		t.Fatalf("ReplaceRules parked: %v", err)
	}

	candidates, err := repo.ListDueCandidates(ctx)
	if err != nil {
		t.Fatalf("ListDueCandidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates from the active machine, got %d", len(candidates))
	}
	for _, c := range candidates {
		if c.Document.ID != activeDoc {
			t.Fatalf("candidate from inactive machine leaked: %#v", c)
		}
		if c.Machine.ID != activeMachine {
			t.Fatalf("wrong machine joined: %#v", c.Machine)
		}
	}
}

func TestEmailJobLifecycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := &models.EmailJob{
		Type:     models.JobTypeDocumentExpiry,
		Payload:  []byte(`{"document_id":1}`),
		DedupKey: "document:1",
	}
	id, err := repo.InsertJob(ctx, job)
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero job id")
	}

	got, err := repo.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil || got.Status != models.JobStatusPending || got.MaxAttempts != 3 {
		t.Fatalf("unexpected job: %#v", got)
	}

	runnable, err := repo.ListRunnable(ctx, models.JobTypeDocumentExpiry, time.Now().Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("ListRunnable: %v", err)
	}
	if len(runnable) != 1 {
		t.Fatalf("expected 1 runnable job, got %d", len(runnable))
	}

	now := time.Now().UTC()
	got.Status = models.JobStatusCompleted
	got.Attempts = 1
	got.ProcessedAt = &now
	if err := repo.UpdateJob(ctx, got); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	completed, err := repo.ListJobs(ctx, models.JobTypeDocumentExpiry, models.JobStatusCompleted, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(completed) != 1 || completed[0].ProcessedAt == nil {
		t.Fatalf("unexpected completed jobs: %#v", completed)
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	done, err := repo.HasCompletedSince(ctx, "document:1", startOfDay)
	if err != nil {
		t.Fatalf("HasCompletedSince: %v", err)
	}
	if !done {
		t.Fatalf("expected completed job to be found")
	}
	done, err = repo.HasCompletedSince(ctx, "document:2", startOfDay)
	if err != nil {
		t.Fatalf("HasCompletedSince other key: %v", err)
	}
	if done {
		t.Fatalf("unexpected match for other dedup key")
	}
}
