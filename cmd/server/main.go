package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/evaltra/evaltra-backend/internal/broadcast"
	"github.com/evaltra/evaltra-backend/internal/catalog"
	"github.com/evaltra/evaltra-backend/internal/config"
	"github.com/evaltra/evaltra-backend/internal/database"
	"github.com/evaltra/evaltra-backend/internal/handler"
	"github.com/evaltra/evaltra-backend/internal/logger"
	"github.com/evaltra/evaltra-backend/internal/repository"
	"github.com/evaltra/evaltra-backend/internal/router"
	"github.com/evaltra/evaltra-backend/internal/scheduler"
	"github.com/evaltra/evaltra-backend/internal/service"
	"github.com/evaltra/evaltra-backend/internal/validator"
	"github.com/evaltra/evaltra-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Evaltra Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Core Components ────────────────────────────────────
	attemptRepo := repository.NewAttemptRepository(pool)
	examCatalog := catalog.NewPostgresGateway(pool, rdb, cfg, log)
	bc := broadcast.NewBroadcaster(rdb, log)
	sched := scheduler.New(bc, cfg.SweepInterval, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	attemptService := service.NewAttemptService(attemptRepo, examCatalog, sched, bc, rdb, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService),
		Teacher: handler.NewTeacherHandler(attemptService, log),
		Stream:  handler.NewStreamHandler(attemptService, bc, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(attemptService, examCatalog, bc, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	eventWorker := worker.NewEventWorker(pool, rdb, log)
	go eventWorker.Start(workerCtx)

	// The scheduler re-arms persisted deadlines and sweeps attempts that
	// expired while the process was down.
	go sched.Start(workerCtx, attemptService, attemptRepo)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all open exams into Redis BEFORE accepting traffic so a
	// thundering herd of starts never races the lazy fill.
	if err := examCatalog.Prewarm(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the scheduler and workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
