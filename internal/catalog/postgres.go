package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/evaltra/evaltra-backend/internal/config"
	"github.com/evaltra/evaltra-backend/internal/model"
)

// PostgresGateway reads exam snapshots from PostgreSQL, caching them in
// Redis. Every lookup is bounded by the configured catalog timeout.
type PostgresGateway struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	timeout  time.Duration
	cacheTTL time.Duration
	log      zerolog.Logger
}

// NewPostgresGateway creates a PostgresGateway.
func NewPostgresGateway(pool *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, log zerolog.Logger) *PostgresGateway {
	return &PostgresGateway{
		pool:     pool,
		rdb:      rdb,
		timeout:  cfg.CatalogTimeout,
		cacheTTL: cfg.CatalogCacheTTL,
		log:      log.With().Str("component", "catalog").Logger(),
	}
}

// GetByCode resolves a public exam code to a snapshot. The code→id mapping
// is cached separately from the snapshot so a code lookup after a snapshot
// cache hit never touches PostgreSQL.
func (g *PostgresGateway) GetByCode(ctx context.Context, code string) (*model.Exam, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if cached, err := g.rdb.Get(ctx, config.CacheKey.ExamCodeKey(code)).Result(); err == nil {
		if id, parseErr := uuid.Parse(cached); parseErr == nil {
			return g.getByID(ctx, id)
		}
	}

	var id uuid.UUID
	err := g.pool.QueryRow(ctx,
		`SELECT id FROM exams WHERE public_code = $1`, code,
	).Scan(&id)
	if err != nil {
		return nil, classify(err)
	}

	_ = g.rdb.Set(ctx, config.CacheKey.ExamCodeKey(code), id.String(), g.cacheTTL).Err()
	return g.getByID(ctx, id)
}

// GetByID returns an exam snapshot by internal id.
func (g *PostgresGateway) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.getByID(ctx, id)
}

func (g *PostgresGateway) getByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	key := config.CacheKey.ExamSnapshotKey(id.String())

	if raw, err := g.rdb.Get(ctx, key).Result(); err == nil {
		var exam model.Exam
		if jsonErr := json.Unmarshal([]byte(raw), &exam); jsonErr == nil {
			return &exam, nil
		}
		// Corrupt cache entry: drop it and fall through to PostgreSQL.
		_ = g.rdb.Del(ctx, key).Err()
	}

	exam, err := g.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(exam); jsonErr == nil {
		if err := g.rdb.Set(ctx, key, raw, g.cacheTTL).Err(); err != nil {
			g.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Snapshot cache write failed")
		}
	}
	return exam, nil
}

// fetch loads the exam row plus its questions in one round trip each.
func (g *PostgresGateway) fetch(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := g.pool.QueryRow(ctx,
		`SELECT id, public_code, name, state, password_hash,
		        require_name, require_email, require_institutional_id,
		        time_limit_minutes, time_policy, consequence_policy,
		        document_only, document_url, document_max_score, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(
		&e.ID, &e.PublicCode, &e.Name, &e.State, &e.PasswordHash,
		&e.RequireName, &e.RequireEmail, &e.RequireInstitutional,
		&e.TimeLimitMinutes, &e.TimePolicy, &e.ConsequencePolicy,
		&e.DocumentOnly, &e.DocumentURL, &e.DocumentMaxScore, &e.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}

	if e.DocumentOnly {
		return e, nil
	}

	rows, err := g.pool.Query(ctx,
		`SELECT id, exam_id, type, points, partial_credit, answer_key, position
		 FROM exam_questions
		 WHERE exam_id = $1
		 ORDER BY position ASC`, id,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		var rawKey []byte
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Type, &q.Points, &q.PartialCredit, &rawKey, &q.Position); err != nil {
			return nil, classify(err)
		}
		if err := json.Unmarshal(rawKey, &q.Key); err != nil {
			return nil, fmt.Errorf("decode answer key for question %s: %w", q.ID, err)
		}
		e.Questions = append(e.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return e, nil
}

// Prewarm loads every OPEN exam into the Redis cache before traffic is
// accepted, so the first wave of starts does not herd onto PostgreSQL.
func (g *PostgresGateway) Prewarm(ctx context.Context) error {
	rows, err := g.pool.Query(ctx, `SELECT id FROM exams WHERE state = $1`, model.ExamStateOpen)
	if err != nil {
		return fmt.Errorf("list open exams: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	warmed := 0
	for _, id := range ids {
		if _, err := g.getByID(ctx, id); err != nil {
			g.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Prewarm skip")
			continue
		}
		warmed++
	}

	g.log.Info().Int("exams", warmed).Msg("Catalog cache prewarmed")
	return nil
}

// classify maps storage errors onto the gateway's two-error taxonomy.
func classify(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrExamNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
