package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fleetyard/backoffice/internal/documents"
	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/pkg/repository"
)

type DocumentsHandler struct {
	registry *documents.Registry
	machines repository.MachineRepo
}

func NewDocumentsHandler(registry *documents.Registry, machines repository.MachineRepo) *DocumentsHandler {
	return &DocumentsHandler{registry: registry, machines: machines}
}

type createMachineRequest struct {
	Name           string `json:"name"`
	RegistrationNo string `json:"registration_no"`
	Model          string `json:"model,omitempty"`
}

func (h *DocumentsHandler) CreateMachine(w http.ResponseWriter, r *http.Request) {
	var req createMachineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.RegistrationNo = strings.TrimSpace(req.RegistrationNo)
	if req.Name == "" || req.RegistrationNo == "" {
		http.Error(w, "name and registration_no are required", http.StatusBadRequest)
		return
	}

	m := &models.Machine{
		Name:           req.Name,
		RegistrationNo: req.RegistrationNo,
		Model:          req.Model,
		IsActive:       true,
	}
	id, err := h.machines.CreateMachine(r.Context(), m)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": id}, http.StatusCreated)
}

func (h *DocumentsHandler) ListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := h.machines.ListMachines(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if machines == nil {
		machines = []models.Machine{}
	}
	writeJSON(w, map[string]any{"items": machines, "total": len(machines)}, http.StatusOK)
}

func (h *DocumentsHandler) UpsertDocument(w http.ResponseWriter, r *http.Request) {
	var req documents.UpsertInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	res, err := h.registry.Upsert(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if res.Action == "created" {
		status = http.StatusCreated
	}
	writeJSON(w, res, status)
}

func (h *DocumentsHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter documents.ListFilter
	if v := q.Get("machine_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid machine_id", http.StatusBadRequest)
			return
		}
		filter.MachineID = id
	}
	filter.DocumentType = q.Get("type")
	filter.Status = q.Get("status")

	docs, err := h.registry.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if docs == nil {
		docs = []models.DocumentWithStatus{}
	}
	writeJSON(w, map[string]any{"items": docs, "total": len(docs)}, http.StatusOK)
}

type renewRequest struct {
	NewExpiryDate string `json:"new_expiry_date"`
	Remarks       string `json:"remarks,omitempty"`
}

func (h *DocumentsHandler) RenewDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req renewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.registry.Renew(r.Context(), id, req.NewExpiryDate, req.Remarks); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": id, "renewed": true}, http.StatusOK)
}

type bulkRenewRequest struct {
	Items []documents.RenewItem `json:"items"`
}

func (h *DocumentsHandler) BulkRenew(w http.ResponseWriter, r *http.Request) {
	var req bulkRenewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	res, err := h.registry.BulkRenew(r.Context(), req.Items)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func (h *DocumentsHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathID extracts the {id} route variable; writes a 400 and returns false
// when it is missing or malformed.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
