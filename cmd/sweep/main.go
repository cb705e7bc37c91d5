package main

import (
	"context"
	"time"

	"github.com/evaltra/evaltra-backend/internal/broadcast"
	"github.com/evaltra/evaltra-backend/internal/catalog"
	"github.com/evaltra/evaltra-backend/internal/config"
	"github.com/evaltra/evaltra-backend/internal/database"
	"github.com/evaltra/evaltra-backend/internal/logger"
	"github.com/evaltra/evaltra-backend/internal/repository"
	"github.com/evaltra/evaltra-backend/internal/scheduler"
	"github.com/evaltra/evaltra-backend/internal/service"
)

// One-shot expiration sweep: finish every active attempt whose deadline has
// passed, then exit. Useful after an outage or from cron when the server
// itself is down.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
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

	// ─── Wire the finisher ─────────────────────────────────────────────
	attemptRepo := repository.NewAttemptRepository(pool)
	examCatalog := catalog.NewPostgresGateway(pool, rdb, cfg, log)
	bc := broadcast.NewBroadcaster(rdb, log)
	sched := scheduler.New(bc, cfg.SweepInterval, log)
	attempts := service.NewAttemptService(attemptRepo, examCatalog, sched, bc, rdb, log)

	// ─── Sweep ─────────────────────────────────────────────────────────
	now := time.Now().UTC()
	ids, err := attemptRepo.ListExpiredActiveIDs(ctx, now)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list expired attempts")
	}

	finished := 0
	for _, id := range ids {
		if err := attempts.ExpireAttempt(ctx, id); err != nil {
			log.Error().Err(err).Str("attempt_id", id.String()).Msg("Expire failed")
			continue
		}
		finished++
	}

	log.Info().Int("expired", len(ids)).Int("finished", finished).Msg("Sweep complete")
}
