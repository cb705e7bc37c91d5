package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evaltra/evaltra-backend/internal/model"
)

// ErrNotFound is returned when an attempt, session record, or answer does
// not exist.
var ErrNotFound = errors.New("record not found")

const attemptColumns = `id, exam_id, state, student_name, student_email, institutional_id,
	raw_score, max_score, percentage, final_grade, progress_percent,
	started_at, ended_at, time_policy, consequence_policy,
	document_only, grade_pending, created_at, updated_at`

// AttemptRepository owns the durable attempt record and its satellites
// (session record, answers, security events). All state mutations of one
// attempt go through WithAttempt / WithAttemptByCode, which hold the
// attempt's row lock so concurrent writers are serialized.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// AttemptTxFunc runs with the attempt row locked. Mutations must use tx;
// the transaction commits iff the function returns nil.
type AttemptTxFunc func(ctx context.Context, tx pgx.Tx, a *model.Attempt, s *model.SessionRecord) error

// WithAttempt locks the attempt row (SELECT ... FOR UPDATE), loads the
// paired session record, and runs fn inside the transaction. This is the
// single-writer-per-attempt discipline: a resume and a finish racing on the
// same attempt serialize here, and the second writer observes the state the
// first one committed.
func (r *AttemptRepository) WithAttempt(ctx context.Context, attemptID uuid.UUID, fn AttemptTxFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := r.lockAttempt(ctx, tx, attemptID)
	if err != nil {
		return err
	}
	s, err := r.getSession(ctx, tx, attemptID)
	if err != nil {
		return err
	}

	if err := fn(ctx, tx, a, s); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WithAttemptByCode is WithAttempt keyed by the public access code. The
// code→attempt mapping is immutable, so resolving it outside the lock is
// race-free.
func (r *AttemptRepository) WithAttemptByCode(ctx context.Context, accessCode string, fn AttemptTxFunc) error {
	var attemptID uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT attempt_id FROM session_records WHERE access_code = $1`, accessCode,
	).Scan(&attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("resolve access code: %w", err)
	}
	return r.WithAttempt(ctx, attemptID, fn)
}

func (r *AttemptRepository) lockAttempt(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE`, id,
	).Scan(
		&a.ID, &a.ExamID, &a.State, &a.StudentName, &a.StudentEmail, &a.InstitutionalID,
		&a.RawScore, &a.MaxScore, &a.Percentage, &a.FinalGrade, &a.ProgressPercent,
		&a.StartedAt, &a.EndedAt, &a.TimePolicy, &a.ConsequencePolicy,
		&a.DocumentOnly, &a.GradePending, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock attempt: %w", err)
	}
	return a, nil
}

func (r *AttemptRepository) getSession(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID) (*model.SessionRecord, error) {
	s := &model.SessionRecord{}
	err := tx.QueryRow(ctx,
		`SELECT attempt_id, access_code, session_token, state, expires_at
		 FROM session_records WHERE attempt_id = $1`, attemptID,
	).Scan(&s.AttemptID, &s.AccessCode, &s.SessionToken, &s.State, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session record: %w", err)
	}
	return s, nil
}

// GetSessionByCode reads a session record by access code without locking,
// for read-only authorization checks.
func (r *AttemptRepository) GetSessionByCode(ctx context.Context, accessCode string) (*model.SessionRecord, error) {
	s := &model.SessionRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT attempt_id, access_code, session_token, state, expires_at
		 FROM session_records WHERE access_code = $1`, accessCode,
	).Scan(&s.AttemptID, &s.AccessCode, &s.SessionToken, &s.State, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session by code: %w", err)
	}
	return s, nil
}

// Create persists a new attempt and its paired session record atomically.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt, s *model.SessionRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO attempts (
			id, exam_id, state, student_name, student_email, institutional_id,
			max_score, progress_percent, started_at, time_policy,
			consequence_policy, document_only, grade_pending
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9,$10,$11,$12)
		 RETURNING created_at, updated_at`,
		a.ID, a.ExamID, a.State, a.StudentName, a.StudentEmail, a.InstitutionalID,
		a.MaxScore, a.StartedAt, a.TimePolicy,
		a.ConsequencePolicy, a.DocumentOnly, a.GradePending,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO session_records (attempt_id, access_code, session_token, state, expires_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		s.AttemptID, s.AccessCode, s.SessionToken, s.State, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert session record: %w", err)
	}

	return tx.Commit(ctx)
}

// SetState moves both mirrored records to a new state inside the caller's
// transaction. endedAt is only written when non-nil.
func (r *AttemptRepository) SetState(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, state model.AttemptState, endedAt *time.Time) error {
	if endedAt != nil {
		_, err := tx.Exec(ctx,
			`UPDATE attempts SET state = $1, ended_at = $2, updated_at = NOW() WHERE id = $3`,
			state, *endedAt, attemptID)
		if err != nil {
			return fmt.Errorf("update attempt state: %w", err)
		}
	} else {
		_, err := tx.Exec(ctx,
			`UPDATE attempts SET state = $1, updated_at = NOW() WHERE id = $2`,
			state, attemptID)
		if err != nil {
			return fmt.Errorf("update attempt state: %w", err)
		}
	}

	_, err := tx.Exec(ctx,
		`UPDATE session_records SET state = $1 WHERE attempt_id = $2`, state, attemptID)
	if err != nil {
		return fmt.Errorf("mirror session state: %w", err)
	}
	return nil
}

// RotateToken replaces the session token, invalidating any stale holder.
func (r *AttemptRepository) RotateToken(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, token string) error {
	_, err := tx.Exec(ctx,
		`UPDATE session_records SET session_token = $1 WHERE attempt_id = $2`, token, attemptID)
	if err != nil {
		return fmt.Errorf("rotate session token: %w", err)
	}
	return nil
}

// SaveAggregates writes the derived score fields of one attempt.
func (r *AttemptRepository) SaveAggregates(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, raw, pct, grade *float64, pending bool) error {
	_, err := tx.Exec(ctx,
		`UPDATE attempts
		 SET raw_score = $1, percentage = $2, final_grade = $3, grade_pending = $4, updated_at = NOW()
		 WHERE id = $5`,
		raw, pct, grade, pending, attemptID)
	if err != nil {
		return fmt.Errorf("save aggregates: %w", err)
	}
	return nil
}

// UpsertAnswer inserts or overwrites the answer for (attempt, question).
// The unique constraint guarantees at most one row per pair.
func (r *AttemptRepository) UpsertAnswer(ctx context.Context, tx pgx.Tx, ans *model.Answer) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO attempt_answers (id, attempt_id, question_id, response, kind, submitted_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET response = EXCLUDED.response, kind = EXCLUDED.kind, submitted_at = EXCLUDED.submitted_at
		 RETURNING id`,
		ans.ID, ans.AttemptID, ans.QuestionID, ans.Response, ans.Kind, ans.SubmittedAt,
	).Scan(&ans.ID)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

// SetProgress stores the answer-progress percentage.
func (r *AttemptRepository) SetProgress(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, percent float64) error {
	_, err := tx.Exec(ctx,
		`UPDATE attempts SET progress_percent = $1, updated_at = NOW() WHERE id = $2`,
		percent, attemptID)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// CountAnswers returns how many distinct questions the attempt has answered.
func (r *AttemptRepository) CountAnswers(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_answers WHERE attempt_id = $1`, attemptID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return n, nil
}

// ListAnswers returns all answers of an attempt. It accepts either the pool
// (querier == nil) or an open transaction, so grading can read inside the
// attempt lock.
func (r *AttemptRepository) ListAnswers(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID) ([]model.Answer, error) {
	q := querier(r.pool, tx)
	rows, err := q.Query(ctx,
		`SELECT id, attempt_id, question_id, response, kind, score, feedback, submitted_at
		 FROM attempt_answers WHERE attempt_id = $1 ORDER BY submitted_at ASC`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &a.Response, &a.Kind, &a.Score, &a.Feedback, &a.SubmittedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SaveAnswerScore writes one answer's score (and feedback, when non-nil).
func (r *AttemptRepository) SaveAnswerScore(ctx context.Context, tx pgx.Tx, answerID uuid.UUID, score *float64, feedback *string) error {
	var err error
	if feedback != nil {
		_, err = tx.Exec(ctx,
			`UPDATE attempt_answers SET score = $1, feedback = $2 WHERE id = $3`,
			score, *feedback, answerID)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE attempt_answers SET score = $1 WHERE id = $2`, score, answerID)
	}
	if err != nil {
		return fmt.Errorf("save answer score: %w", err)
	}
	return nil
}

// GetAnswerAttempt resolves which attempt an answer belongs to, so manual
// grading can take the attempt lock before touching the answer.
func (r *AttemptRepository) GetAnswerAttempt(ctx context.Context, answerID uuid.UUID) (uuid.UUID, error) {
	var attemptID uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT attempt_id FROM attempt_answers WHERE id = $1`, answerID,
	).Scan(&attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("resolve answer: %w", err)
	}
	return attemptID, nil
}

// GetAnswer loads one answer inside the caller's transaction.
func (r *AttemptRepository) GetAnswer(ctx context.Context, tx pgx.Tx, answerID uuid.UUID) (*model.Answer, error) {
	a := &model.Answer{}
	err := tx.QueryRow(ctx,
		`SELECT id, attempt_id, question_id, response, kind, score, feedback, submitted_at
		 FROM attempt_answers WHERE id = $1`, answerID,
	).Scan(&a.ID, &a.AttemptID, &a.QuestionID, &a.Response, &a.Kind, &a.Score, &a.Feedback, &a.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get answer: %w", err)
	}
	return a, nil
}

// ListEvents returns an attempt's security events, newest first.
func (r *AttemptRepository) ListEvents(ctx context.Context, attemptID uuid.UUID) ([]model.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, kind, occurred_at, read
		 FROM security_events WHERE attempt_id = $1 ORDER BY occurred_at DESC`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.SecurityEvent
	for rows.Next() {
		var e model.SecurityEvent
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.Kind, &e.OccurredAt, &e.Read); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventsRead flags every unread event of an attempt as read. Running it
// twice is a no-op.
func (r *AttemptRepository) MarkEventsRead(ctx context.Context, attemptID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE security_events SET read = TRUE WHERE attempt_id = $1 AND read = FALSE`, attemptID)
	if err != nil {
		return fmt.Errorf("mark events read: %w", err)
	}
	return nil
}

// GetByID loads an attempt without locking it (read-only views).
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id,
	).Scan(
		&a.ID, &a.ExamID, &a.State, &a.StudentName, &a.StudentEmail, &a.InstitutionalID,
		&a.RawScore, &a.MaxScore, &a.Percentage, &a.FinalGrade, &a.ProgressPercent,
		&a.StartedAt, &a.EndedAt, &a.TimePolicy, &a.ConsequencePolicy,
		&a.DocumentOnly, &a.GradePending, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// ListByExam returns every attempt of an exam, most recent first.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 ORDER BY started_at DESC`, examID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(
			&a.ID, &a.ExamID, &a.State, &a.StudentName, &a.StudentEmail, &a.InstitutionalID,
			&a.RawScore, &a.MaxScore, &a.Percentage, &a.FinalGrade, &a.ProgressPercent,
			&a.StartedAt, &a.EndedAt, &a.TimePolicy, &a.ConsequencePolicy,
			&a.DocumentOnly, &a.GradePending, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListUnfinishedIDs returns the ids of every non-finished attempt of an exam
// (force-finish-all input).
func (r *AttemptRepository) ListUnfinishedIDs(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM attempts WHERE exam_id = $1 AND state <> $2`,
		examID, model.AttemptStateFinished)
	if err != nil {
		return nil, fmt.Errorf("list unfinished: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListExpiredActiveIDs returns active attempts whose deadline has passed:
// the expiration sweep's work list, including deadlines missed across a
// process restart.
func (r *AttemptRepository) ListExpiredActiveIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id
		 FROM attempts a
		 JOIN session_records s ON s.attempt_id = a.id
		 WHERE a.state = $1 AND s.expires_at IS NOT NULL AND s.expires_at <= $2`,
		model.AttemptStateActive, now)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListArmed returns every active attempt with a future deadline, so the
// scheduler can re-arm its timers after a restart.
func (r *AttemptRepository) ListArmed(ctx context.Context, now time.Time) (map[uuid.UUID]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, s.expires_at
		 FROM attempts a
		 JOIN session_records s ON s.attempt_id = a.id
		 WHERE a.state = $1 AND s.expires_at IS NOT NULL AND s.expires_at > $2`,
		model.AttemptStateActive, now)
	if err != nil {
		return nil, fmt.Errorf("list armed: %w", err)
	}
	defer rows.Close()

	armed := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var id uuid.UUID
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		armed[id] = at
	}
	return armed, rows.Err()
}

// Delete purges an attempt. Answers, events, and the session record cascade
// via foreign keys.
func (r *AttemptRepository) Delete(ctx context.Context, attemptID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM attempts WHERE id = $1`, attemptID)
	if err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// querier returns tx when inside a transaction, the pool otherwise.
func querier(pool *pgxpool.Pool, tx pgx.Tx) interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
} {
	if tx != nil {
		return tx
	}
	return pool
}
