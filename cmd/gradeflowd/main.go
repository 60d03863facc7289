package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gradeflow/internal/api"
	"gradeflow/internal/api/handlers"
	"gradeflow/internal/config"
	"gradeflow/internal/database"
	"gradeflow/internal/ghcache"
	"gradeflow/internal/runnergw"
	"gradeflow/internal/scheduler"
	"gradeflow/internal/security"
	"gradeflow/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Println("Initializing database...")
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	log.Println("Database initialized successfully")

	log.Println("Fetching runner JWKS...")
	runnerVerifier, err := security.FetchRunnerVerifier(ctx, cfg.RunnerJWKSURL, cfg.RunnerOrg, cfg.RunnerRepo)
	if err != nil {
		log.Fatalf("Failed to fetch runner JWKS: %v", err)
	}
	log.Println("Runner JWKS loaded")

	taskStore := store.New(db)

	tokens, err := ghcache.New(cfg.InstallationTokenCacheSize, notImplementedTokenFetcher)
	if err != nil {
		log.Fatalf("Failed to create installation token cache: %v", err)
	}

	gateway := runnergw.New(tokens, cfg.RunnerOrg, cfg.RunnerRepo, cfg.RunnerWorkflowID, cfg.RunnerCallbackOverride, cfg.RunnerCallbackBaseURL)

	sched := scheduler.New(taskStore, gateway, scheduler.Config{
		Interval:            time.Duration(cfg.SchedulerIntervalSecs) * time.Second,
		MinCooldownSecs:     cfg.MinGradingIntervalSecs,
		MaxParallelGradings: cfg.MaxParallelGradings,
		OrderedTimeoutSecs:  cfg.GradingOrderedTimeoutSecs,
		StartedTimeoutSecs:  cfg.GradingStartedTimeoutSecs,
	})

	log.Println("Starting scheduler loop...")
	go sched.Run(ctx)

	router := api.SetupRouter(handlers.Deps{
		Store:          taskStore,
		WebhookSecret:  []byte(cfg.WebhookSecret),
		RunnerVerifier: runnerVerifier,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting gradeflow server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// notImplementedTokenFetcher is the installation-token refresh hook. The
// GitHub App authentication flow (JWT-sign as the App, exchange for an
// installation token) is owned by the collaborator service that holds the
// App's private key; gradeflow only consumes the resulting token through
// this seam.
func notImplementedTokenFetcher(ctx context.Context, installationID int64) (string, time.Time, error) {
	return "", time.Time{}, fmt.Errorf("installation token fetch for %d is not wired: provide a TokenFetcher at startup", installationID)
}
