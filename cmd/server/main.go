package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saathi-app/saathi-backend/internal/clients/llm"
	redisclient "github.com/saathi-app/saathi-backend/internal/clients/redis"
	"github.com/saathi-app/saathi-backend/internal/clients/whatsapp"
	"github.com/saathi-app/saathi-backend/internal/db"
	"github.com/saathi-app/saathi-backend/internal/handlers"
	"github.com/saathi-app/saathi-backend/internal/jobs"
	"github.com/saathi-app/saathi-backend/internal/pkg/envutil"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
	"github.com/saathi-app/saathi-backend/internal/repos"
	"github.com/saathi-app/saathi-backend/internal/server"
	"github.com/saathi-app/saathi-backend/internal/services"
)

// waDeliverer narrows the WhatsApp client to the pipeline's outbound
// interface.
type waDeliverer struct {
	wa whatsapp.Client
}

func (d *waDeliverer) SendText(ctx context.Context, to string, body string) error {
	_, err := d.wa.SendText(ctx, to, body)
	return err
}

func main() {
	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// DB
	dbService, err := db.New(log)
	if err != nil {
		log.Error("DB init failed", "error", err.Error())
		os.Exit(1)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Error("Auto migration failed", "error", err.Error())
		os.Exit(1)
	}
	gdb := dbService.DB()

	// Repos
	log.Info("Setting up repos...")
	userRepo := repos.NewUserRepo(gdb, log)
	turnRepo := repos.NewTurnRepo(gdb, log)
	incidentRepo := repos.NewIncidentRepo(gdb, log)

	// Clients
	log.Info("Setting up clients...")
	llmClient, err := llm.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init LLM client", "error", err.Error())
		os.Exit(1)
	}
	waClient, err := whatsapp.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init WhatsApp client", "error", err.Error())
		os.Exit(1)
	}
	deduper, err := redisclient.NewDeduper(log)
	if err != nil {
		log.Warn("Redis dedup unavailable, using in-process fallback", "error", err.Error())
		deduper = redisclient.NewMemoryDeduper(0)
	}
	defer deduper.Close()

	deliver := &waDeliverer{wa: waClient}

	// Services
	log.Info("Setting up services...")
	onboardingService := services.NewOnboardingService(log, userRepo)
	crisisService := services.NewCrisisService(log, llmClient)
	moodService := services.NewMoodService(log, llmClient)
	patternService := services.NewPatternService(log, turnRepo, llmClient, 7*24*time.Hour)
	pipelineService, err := services.NewPipelineService(
		log,
		services.PipelineConfig{
			DebounceWindow: envutil.DurationSeconds("DEBOUNCE_WINDOW_SECONDS", 3*time.Second),
		},
		userRepo,
		turnRepo,
		incidentRepo,
		deduper,
		onboardingService,
		crisisService,
		moodService,
		patternService,
		llmClient,
		deliver,
	)
	if err != nil {
		log.Error("Could not init pipeline", "error", err.Error())
		os.Exit(1)
	}
	summaryService := services.NewSummaryService(log, services.SummaryConfig{}, userRepo, turnRepo, llmClient, deliver)

	// Jobs
	scheduler := jobs.NewScheduler(log, summaryService)
	if err := scheduler.Start(); err != nil {
		log.Error("Could not start scheduler", "error", err.Error())
		os.Exit(1)
	}

	// Handlers + router
	log.Info("Setting up router...")
	webhookHandler := handlers.NewWebhookHandler(log, pipelineService, waClient, os.Getenv("WEBHOOK_VERIFY_TOKEN"))
	statsHandler := handlers.NewStatsHandler(log, userRepo, turnRepo, patternService)
	summariesHandler := handlers.NewSummariesHandler(log, summaryService)

	router := server.NewRouter(server.RouterConfig{
		Mode:             logMode,
		SchedulerSecret:  os.Getenv("SCHEDULER_SECRET"),
		WebhookHandler:   webhookHandler,
		StatsHandler:     statsHandler,
		SummariesHandler: summariesHandler,
	})

	port := envutil.String("PORT", "8080")
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server stopped", "error", err.Error())
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop intake first, then flush pending turns so no
	// typed message is dropped.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown failed", "error", err.Error())
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler shutdown failed", "error", err.Error())
	}
	if err := pipelineService.Close(shutdownCtx); err != nil {
		log.Warn("Pipeline drain failed", "error", err.Error())
	}
	log.Info("Shutdown complete")
}
