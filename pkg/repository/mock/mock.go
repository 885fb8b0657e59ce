// Package mock provides an in-memory repository fake for handler and
// service tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/pkg/repository"
)

// Repo implements every repository interface against in-process maps. It
// mirrors the SQLite repo's semantics: nil for missing rows, uniqueness on
// the claim key, clear-then-insert rule replacement.
type Repo struct {
	mu        sync.Mutex
	machines  map[int64]*models.Machine
	documents map[int64]*models.MachineDocument
	rules     map[int64][]models.NotificationRule
	defaults  map[string]*models.NotificationDefault
	claims    map[string]models.NotificationLogEntry
	jobs      map[int64]*models.EmailJob
	nextID    int64
}

var _ repository.MachineRepo = (*Repo)(nil)
var _ repository.DocumentRepo = (*Repo)(nil)
var _ repository.RuleRepo = (*Repo)(nil)
var _ repository.DefaultsRepo = (*Repo)(nil)
var _ repository.NotificationLogRepo = (*Repo)(nil)
var _ repository.EmailJobRepo = (*Repo)(nil)

func NewRepo() *Repo {
	return &Repo{
		machines:  make(map[int64]*models.Machine),
		documents: make(map[int64]*models.MachineDocument),
		rules:     make(map[int64][]models.NotificationRule),
		defaults:  make(map[string]*models.NotificationDefault),
		claims:    make(map[string]models.NotificationLogEntry),
		jobs:      make(map[int64]*models.EmailJob),
	}
}

func (r *Repo) id() int64 {
	r.nextID++
	return r.nextID
}

func claimKey(documentID int64, daysBefore int, date string) string {
	return fmt.Sprintf("%d:%d:%s", documentID, daysBefore, date)
}

func (r *Repo) CreateMachine(ctx context.Context, m *models.Machine) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	cp.ID = r.id()
	r.machines[cp.ID] = &cp
	return cp.ID, nil
}

func (r *Repo) GetMachine(ctx context.Context, id int64) (*models.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *Repo) ListMachines(ctx context.Context) ([]models.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, *m)
	}
	return out, nil
}

func (r *Repo) UpsertDocument(ctx context.Context, d *models.MachineDocument) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.documents {
		if existing.MachineID == d.MachineID && existing.DocumentType == d.DocumentType {
			existing.ExpiryDate = d.ExpiryDate
			existing.LastRenewedDate = d.LastRenewedDate
			existing.Remarks = d.Remarks
			return existing.ID, false, nil
		}
	}
	cp := *d
	cp.ID = r.id()
	r.documents[cp.ID] = &cp
	return cp.ID, true, nil
}

func (r *Repo) GetDocument(ctx context.Context, id int64) (*models.MachineDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *Repo) ListDocuments(ctx context.Context, machineID int64, docType models.DocumentType) ([]models.DocumentWithStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DocumentWithStatus
	for _, d := range r.documents {
		if machineID > 0 && d.MachineID != machineID {
			continue
		}
		if docType != "" && d.DocumentType != docType {
			continue
		}
		item := models.DocumentWithStatus{MachineDocument: *d}
		if m, ok := r.machines[d.MachineID]; ok {
			item.MachineName = m.Name
			item.RegistrationNo = m.RegistrationNo
			item.MachineActive = m.IsActive
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *Repo) ListWithoutRules(ctx context.Context, docType models.DocumentType) ([]models.MachineDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MachineDocument
	for _, d := range r.documents {
		if d.DocumentType != docType {
			continue
		}
		if len(r.rules[d.ID]) > 0 {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *Repo) RenewDocument(ctx context.Context, id int64, newExpiry, renewedOn, remarks string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[id]
	if !ok {
		return fmt.Errorf("document %d not found", id)
	}
	d.ExpiryDate = newExpiry
	d.LastRenewedDate = renewedOn
	if remarks != "" {
		d.Remarks = remarks
	}
	for key, entry := range r.claims {
		if entry.DocumentID == id {
			delete(r.claims, key)
		}
	}
	return nil
}

func (r *Repo) DeleteDocument(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.documents[id]; !ok {
		return fmt.Errorf("document %d not found", id)
	}
	delete(r.documents, id)
	delete(r.rules, id)
	for key, entry := range r.claims {
		if entry.DocumentID == id {
			delete(r.claims, key)
		}
	}
	return nil
}

func (r *Repo) ListDueCandidates(ctx context.Context) ([]repository.DueCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.DueCandidate
	for _, d := range r.documents {
		m, ok := r.machines[d.MachineID]
		if !ok || !m.IsActive {
			continue
		}
		for _, rule := range r.rules[d.ID] {
			if !rule.IsActive {
				continue
			}
			out = append(out, repository.DueCandidate{
				Document:   *d,
				Machine:    *m,
				DaysBefore: rule.DaysBefore,
			})
		}
	}
	return out, nil
}

func (r *Repo) ReplaceRules(ctx context.Context, documentID int64, days []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules := make([]models.NotificationRule, 0, len(days))
	for _, d := range days {
		rules = append(rules, models.NotificationRule{
			ID:         r.id(),
			DocumentID: documentID,
			DaysBefore: d,
			IsActive:   true,
		})
	}
	r.rules[documentID] = rules
	return nil
}

func (r *Repo) ListRules(ctx context.Context, documentID int64) ([]models.NotificationRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.NotificationRule(nil), r.rules[documentID]...), nil
}

func (r *Repo) GetDefault(ctx context.Context, documentType string) (*models.NotificationDefault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defaults[documentType]
	if !ok {
		return nil, nil
	}
	cp := *def
	cp.Days = append([]int(nil), def.Days...)
	return &cp, nil
}

func (r *Repo) ListDefaults(ctx context.Context) ([]models.NotificationDefault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.NotificationDefault, 0, len(r.defaults))
	for _, def := range r.defaults {
		cp := *def
		cp.Days = append([]int(nil), def.Days...)
		out = append(out, cp)
	}
	return out, nil
}

func (r *Repo) UpsertDefault(ctx context.Context, documentType string, days []int, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defaults[documentType]
	if !ok {
		def = &models.NotificationDefault{ID: r.id(), DocumentType: documentType}
		r.defaults[documentType] = def
	}
	def.Days = append([]int(nil), days...)
	def.CreatedBy = actor
	return nil
}

func (r *Repo) Claim(ctx context.Context, documentID int64, daysBefore int, date string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := claimKey(documentID, daysBefore, date)
	if _, ok := r.claims[key]; ok {
		return false, nil
	}
	r.claims[key] = models.NotificationLogEntry{
		ID:               r.id(),
		DocumentID:       documentID,
		DaysBefore:       daysBefore,
		NotificationDate: date,
	}
	return true, nil
}

func (r *Repo) Exists(ctx context.Context, documentID int64, daysBefore int, date string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.claims[claimKey(documentID, daysBefore, date)]
	return ok, nil
}

func (r *Repo) ListLog(ctx context.Context, documentID int64) ([]models.NotificationLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.NotificationLogEntry
	for _, entry := range r.claims {
		if entry.DocumentID == documentID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *Repo) InsertJob(ctx context.Context, j *models.EmailJob) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	cp.ID = r.id()
	if cp.Status == "" {
		cp.Status = models.JobStatusPending
	}
	if cp.MaxAttempts == 0 {
		cp.MaxAttempts = 3
	}
	if cp.ScheduledFor.IsZero() {
		cp.ScheduledFor = time.Now().UTC()
	}
	r.jobs[cp.ID] = &cp
	return cp.ID, nil
}

func (r *Repo) GetJob(ctx context.Context, id int64) (*models.EmailJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *Repo) UpdateJob(ctx context.Context, j *models.EmailJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; !ok {
		return fmt.Errorf("job %d not found", j.ID)
	}
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *Repo) ListJobs(ctx context.Context, typ, status string, limit int) ([]models.EmailJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EmailJob
	for _, j := range r.jobs {
		if j.Type != typ {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (r *Repo) ListRunnable(ctx context.Context, typ string, now time.Time, limit int) ([]models.EmailJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EmailJob
	for _, j := range r.jobs {
		if j.Type != typ || j.Status != models.JobStatusPending {
			continue
		}
		if j.ScheduledFor.After(now) {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (r *Repo) HasCompletedSince(ctx context.Context, dedupKey string, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.DedupKey != dedupKey || j.Status != models.JobStatusCompleted {
			continue
		}
		if j.ProcessedAt != nil && !j.ProcessedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}
