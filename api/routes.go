package api

import (
	"github.com/gorilla/mux"

	"github.com/fleetyard/backoffice/internal/documents"
	"github.com/fleetyard/backoffice/internal/mailqueue"
	"github.com/fleetyard/backoffice/internal/notify"
	"github.com/fleetyard/backoffice/internal/rules"
	"github.com/fleetyard/backoffice/pkg/repository"
)

// Services bundles what the HTTP layer consumes.
type Services struct {
	Registry  *documents.Registry
	Machines  repository.MachineRepo
	Rules     *rules.Store
	Evaluator *notify.Evaluator
	Scheduler *notify.Scheduler
	Queue     *mailqueue.Queue
}

func SetupRoutes(version, buildTime string, svc Services) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	systemHandler := &SystemHandler{}
	docsHandler := NewDocumentsHandler(svc.Registry, svc.Machines)
	notifHandler := NewNotificationsHandler(svc.Rules, svc.Evaluator, svc.Scheduler, svc.Queue)

	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")

	apiV1 := r.PathPrefix("/v1").Subrouter()

	// Machines (minimal: enough to attach documents)
	apiV1.HandleFunc("/machines", docsHandler.CreateMachine).Methods("POST")
	apiV1.HandleFunc("/machines", docsHandler.ListMachines).Methods("GET")

	// Documents
	apiV1.HandleFunc("/documents", docsHandler.UpsertDocument).Methods("POST")
	apiV1.HandleFunc("/documents", docsHandler.ListDocuments).Methods("GET")
	apiV1.HandleFunc("/documents/bulk-renew", docsHandler.BulkRenew).Methods("POST")
	apiV1.HandleFunc("/documents/{id:[0-9]+}/renew", docsHandler.RenewDocument).Methods("POST")
	apiV1.HandleFunc("/documents/{id:[0-9]+}", docsHandler.DeleteDocument).Methods("DELETE")

	// Per-document notification rules
	apiV1.HandleFunc("/documents/{id:[0-9]+}/notifications", notifHandler.ConfigureNotifications).Methods("PUT")
	apiV1.HandleFunc("/documents/{id:[0-9]+}/notifications", notifHandler.GetNotificationSettings).Methods("GET")

	// Defaults
	apiV1.HandleFunc("/notification-defaults", notifHandler.GetNotificationDefaults).Methods("GET")
	apiV1.HandleFunc("/notification-defaults/{type}", notifHandler.UpdateNotificationDefaults).Methods("PUT")
	apiV1.HandleFunc("/notification-defaults/{type}/apply", notifHandler.ApplyDefaultNotifications).Methods("POST")

	// Notification engine
	apiV1.HandleFunc("/notifications/due", notifHandler.CheckNotificationsDue).Methods("GET")
	apiV1.HandleFunc("/notifications/send", notifHandler.SendExpiryAlerts).Methods("POST")
	apiV1.HandleFunc("/notifications/email-status", notifHandler.GetEmailNotificationStatus).Methods("GET")

	return r
}
