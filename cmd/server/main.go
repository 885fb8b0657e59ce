package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/joho/godotenv"

	"github.com/fleetyard/backoffice/api"
	dbfs "github.com/fleetyard/backoffice/db"
	"github.com/fleetyard/backoffice/internal/config"
	"github.com/fleetyard/backoffice/internal/db"
	"github.com/fleetyard/backoffice/internal/documents"
	"github.com/fleetyard/backoffice/internal/mailqueue"
	"github.com/fleetyard/backoffice/internal/notify"
	"github.com/fleetyard/backoffice/internal/repository/sqlite"
	"github.com/fleetyard/backoffice/internal/rules"
	"github.com/fleetyard/backoffice/pkg/mailer"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	// optional .env for local development; env vars win over defaults
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	api.SetLogger(logger)

	log.Printf("Starting backoffice server version %s (built at %s)", version, buildTime)

	ctx := context.Background()

	database, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	if err := db.Migrate(ctx, database, dbfs.Migrations); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo := sqlite.New(database, logger)
	registry := documents.NewRegistry(repo, repo, logger)
	ruleStore := rules.NewStore(repo, repo, repo, logger)
	sender := mailer.NewSMTPSender(cfg.Mail)
	queue := mailqueue.NewQueue(repo, sender, logger, cfg.Notify.MaxAttempts, cfg.Mail.Timeout)
	evaluator := notify.NewEvaluator(repo, repo, logger)
	scheduler := notify.NewScheduler(evaluator, queue, repo, repo, cfg.Notify.Recipients, logger)

	if !cfg.Scheduler.Disabled {
		if err := scheduler.Start(cfg.Scheduler.CronSpec); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	}

	handler := api.SetupRoutes(version, buildTime, api.Services{
		Registry:  registry,
		Machines:  repo,
		Rules:     ruleStore,
		Evaluator: evaluator,
		Scheduler: scheduler,
		Queue:     queue,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	scheduler.Stop()

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := database.Close(); err != nil {
		log.Printf("Error closing DB: %v", err)
	}

	log.Println("Server exited")
}
