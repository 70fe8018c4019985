package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/docvivid/backend/internal/auth"
	"github.com/docvivid/backend/internal/billing"
	"github.com/docvivid/backend/internal/config"
	"github.com/docvivid/backend/internal/execution"
	"github.com/docvivid/backend/internal/handlers"
	"github.com/docvivid/backend/internal/ledger"
	"github.com/docvivid/backend/internal/middleware"
	"github.com/docvivid/backend/internal/pipeline"
	"github.com/docvivid/backend/internal/plans"
	"github.com/docvivid/backend/internal/pricing"
	"github.com/docvivid/backend/internal/progress"
	"github.com/docvivid/backend/internal/repository"
	"github.com/docvivid/backend/internal/router"
	"github.com/docvivid/backend/internal/scheduler"
	"github.com/docvivid/backend/internal/validation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		slog.Error("Schema setup failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Cannot reach Redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	bus := progress.NewBus(rdb)

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	creditRepo := repository.NewCreditRepo(pool)
	reservationRepo := repository.NewReservationRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)
	redeemRepo := repository.NewRedeemRepo(pool)

	ledgerSvc := ledger.NewService(userRepo, creditRepo, reservationRepo, redeemRepo)
	planRegistry := plans.NewRegistry(subscriptionRepo)

	// Scheduler: insert func is set after the River client is created
	// (breaks the init cycle between scheduler and worker).
	var insertMu sync.Mutex
	var insertFn scheduler.InsertGenerateVideoTxFunc
	insertGenerateVideo := func(ctx context.Context, tx pgx.Tx, args execution.GenerateVideoArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	schedulerSvc := scheduler.NewService(
		pool, taskRepo, userRepo, planRegistry,
		pricing.EstimatePricer{}, ledgerSvc, bus, insertGenerateVideo, logger,
	)

	// Workers
	renderClient := pipeline.NewHTTPClient(cfg.RenderBaseURL)
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGenerateVideoWorker(schedulerSvc, renderClient, bus, logger))
	river.AddWorker(workers, billing.NewCycleWorker(pool, subscriptionRepo, creditRepo, ledgerSvc, logger))

	billingInterval, err := time.ParseDuration(cfg.BillingInterval)
	if err != nil {
		slog.Error("Invalid BILLING_INTERVAL", "value", cfg.BillingInterval, "error", err)
		os.Exit(1)
	}

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.WorkerCount},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(billingInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return billing.CycleArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args execution.GenerateVideoArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Repair interrupted work before the queue starts delivering jobs.
	if err := schedulerSvc.RecoverInFlight(ctx); err != nil {
		slog.Error("Startup recovery failed", "error", err)
		os.Exit(1)
	}

	// HTTP surface
	validator, err := validation.NewValidator()
	if err != nil {
		slog.Error("Submission validator init failed", "error", err)
		os.Exit(1)
	}

	videoHandler := &handlers.VideoHandler{Scheduler: schedulerSvc, Validator: validator, Logger: logger}
	creditHandler := &handlers.CreditHandler{Pool: pool, Ledger: ledgerSvc, Entries: creditRepo, Codes: redeemRepo, Logger: logger}
	webhookHandler := &handlers.WebhookHandler{Pool: pool, Ledger: ledgerSvc, Subs: subscriptionRepo, Users: userRepo, Logger: logger}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	authn := middleware.BearerAuth(verifier, userRepo)

	mux := http.NewServeMux()
	mux.Handle("/api/", router.New(videoHandler, creditHandler, webhookHandler, authn))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	server := &http.Server{Addr: "0.0.0.0:" + cfg.Port, Handler: corsHandler}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River stop failed", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
