package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"log/slog"

	"github.com/fleetyard/backoffice/internal/faults"
)

// package-level logger used by middleware and helpers; can be set via SetLogger from caller
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger installs a logger for the api package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
		)
		next.ServeHTTP(w, r)
	})
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic", slog.Any("err", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Internal
// errors are logged but never leaked verbatim.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case faults.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case faults.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		var cpe *faults.ConfigParseError
		if errors.As(err, &cpe) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("internal error", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
