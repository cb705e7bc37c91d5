package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/evaltra/evaltra-backend/internal/config"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventWorker drains the security-event queue and persists events to
// PostgreSQL in batches. Consequences are already applied by the time an
// event lands here; this path only owns the durable triage history, so it
// can afford batching and retries.
type EventWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewEventWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "event_worker").Logger(),
	}
}

type eventPayload struct {
	EventID   string `json:"event_id"`
	AttemptID string `json:"attempt_id"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]*eventPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks for 1 second, returning immediately when data
		// exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistEventsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload eventPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe attempts a bulk insert, then falls back to row-by-row with
// requeueing.
func (w *EventWorker) flushSafe(ctx context.Context, batch []*eventPayload) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *EventWorker) bulkInsert(ctx context.Context, batch []*eventPayload) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, p := range batch {
		eventID, attemptID, err := p.ids()
		if err != nil {
			// Trigger the fallback, which handles the bad row
			// individually.
			return err
		}
		rows = append(rows, []interface{}{
			eventID, attemptID, p.Kind, time.Unix(p.Timestamp, 0).UTC(),
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"security_events"},
		[]string{"id", "attempt_id", "kind", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *EventWorker) fallbackInsert(ctx context.Context, batch []*eventPayload) {
	requeueList := make([]*eventPayload, 0)

	for _, p := range batch {
		eventID, attemptID, err := p.ids()
		if err != nil {
			w.log.Error().Str("event_id", p.EventID).Str("attempt_id", p.AttemptID).Msg("Dropping event with invalid UUID")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO security_events (id, attempt_id, kind, occurred_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			eventID, attemptID, p.Kind, time.Unix(p.Timestamp, 0).UTC(),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				// The attempt was purged while the event sat in
				// the queue. Nothing to attach it to anymore.
				w.log.Warn().Str("attempt_id", p.AttemptID).Msg("Dropping event for deleted attempt")
				continue
			}
			w.log.Error().Err(err).Str("attempt_id", p.AttemptID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, p)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *EventWorker) requeue(ctx context.Context, items []*eventPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
		// Avoid thrashing while the database is down hard.
		time.Sleep(2 * time.Second)
	}
}

func (w *EventWorker) shutdown(buffer []*eventPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (p *eventPayload) ids() (uuid.UUID, uuid.UUID, error) {
	eventID, err := uuid.Parse(p.EventID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	attemptID, err := uuid.Parse(p.AttemptID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return eventID, attemptID, nil
}
