package api

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/gorilla/mux"

	"github.com/fleetyard/backoffice/internal/mailqueue"
	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/internal/notify"
	"github.com/fleetyard/backoffice/internal/rules"
)

type NotificationsHandler struct {
	store     *rules.Store
	evaluator *notify.Evaluator
	scheduler *notify.Scheduler
	queue     *mailqueue.Queue
}

func NewNotificationsHandler(store *rules.Store, evaluator *notify.Evaluator, scheduler *notify.Scheduler, queue *mailqueue.Queue) *NotificationsHandler {
	return &NotificationsHandler{store: store, evaluator: evaluator, scheduler: scheduler, queue: queue}
}

type configureRequest struct {
	// DaysBefore is the full new rule set; the previous set is replaced.
	DaysBefore []int `json:"days_before"`
	// DayList is an alternative comma-separated form, e.g. "30,7,1".
	DayList string `json:"day_list,omitempty"`
}

func (h *NotificationsHandler) ConfigureNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	days := req.DaysBefore
	if len(days) == 0 && req.DayList != "" {
		parsed, err := rules.ParseDayList(req.DayList)
		if err != nil {
			logger.Warn("malformed day list", slog.Any("err", err))
			writeServiceError(w, err)
			return
		}
		days = parsed
	}

	if err := h.store.Configure(r.Context(), id, days); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"document_id": id, "days_before": days}, http.StatusOK)
}

func (h *NotificationsHandler) GetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	settings, err := h.store.GetSettings(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if settings == nil {
		settings = []models.NotificationRule{}
	}
	writeJSON(w, map[string]any{"document_id": id, "rules": settings}, http.StatusOK)
}

func (h *NotificationsHandler) GetNotificationDefaults(w http.ResponseWriter, r *http.Request) {
	defaults, err := h.store.GetDefaults(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"defaults": defaults}, http.StatusOK)
}

type updateDefaultsRequest struct {
	DaysBefore []int  `json:"days_before"`
	Actor      string `json:"actor,omitempty"`
}

func (h *NotificationsHandler) UpdateNotificationDefaults(w http.ResponseWriter, r *http.Request) {
	docType := mux.Vars(r)["type"]
	var req updateDefaultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.store.UpdateDefaults(r.Context(), docType, req.DaysBefore, req.Actor); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"document_type": docType, "days_before": req.DaysBefore}, http.StatusOK)
}

func (h *NotificationsHandler) ApplyDefaultNotifications(w http.ResponseWriter, r *http.Request) {
	docType := mux.Vars(r)["type"]
	res, err := h.store.ApplyDefaults(r.Context(), docType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

// CheckNotificationsDue is a read-only preview: it reports what would fire
// right now without claiming anything.
func (h *NotificationsHandler) CheckNotificationsDue(w http.ResponseWriter, r *http.Request) {
	due, err := h.evaluator.Preview(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if due == nil {
		due = []models.DueNotification{}
	}
	writeJSON(w, map[string]any{"due": due, "total": len(due)}, http.StatusOK)
}

type sendAlertsRequest struct {
	DocumentIDs []int64 `json:"document_ids,omitempty"`
	ForceSend   bool    `json:"force_send,omitempty"`
}

func (h *NotificationsHandler) SendExpiryAlerts(w http.ResponseWriter, r *http.Request) {
	var req sendAlertsRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	report, err := h.scheduler.SendAlerts(r.Context(), req.DocumentIDs, req.ForceSend)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, report, http.StatusOK)
}

func (h *NotificationsHandler) GetEmailNotificationStatus(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	jobs, err := h.queue.ListByStatus(r.Context(), models.JobTypeDocumentExpiry, status, 200)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.EmailJob{}
	}
	writeJSON(w, map[string]any{"jobs": jobs, "total": len(jobs)}, http.StatusOK)
}
