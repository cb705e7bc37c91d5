package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/evaltra/evaltra-backend/internal/broadcast"
	"github.com/evaltra/evaltra-backend/internal/catalog"
	"github.com/evaltra/evaltra-backend/internal/config"
	"github.com/evaltra/evaltra-backend/internal/grading"
	"github.com/evaltra/evaltra-backend/internal/model"
	"github.com/evaltra/evaltra-backend/internal/repository"
)

// answeredKeyTTL bounds how long the answered-question mirror outlives its
// attempt in Redis.
const answeredKeyTTL = 24 * time.Hour

// DeadlineScheduler is the slice of the expiration scheduler the
// orchestrator drives.
type DeadlineScheduler interface {
	Arm(attemptID uuid.UUID, deadline time.Time)
	Cancel(attemptID uuid.UUID)
}

// AttemptService orchestrates the live exam-attempt lifecycle: state
// machine, session exclusivity, expiration, consequences, grading, and the
// realtime notifications around all of it. Every state transition runs under
// the attempt's row lock; broadcasts fire only after the transaction
// commits.
type AttemptService struct {
	repo  *repository.AttemptRepository
	exams catalog.Gateway
	sched DeadlineScheduler
	bc    *broadcast.Broadcaster
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	repo *repository.AttemptRepository,
	exams catalog.Gateway,
	sched DeadlineScheduler,
	bc *broadcast.Broadcaster,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		repo:  repo,
		exams: exams,
		sched: sched,
		bc:    bc,
		rdb:   rdb,
		log:   log.With().Str("component", "attempt_service").Logger(),
	}
}

// StartAttempt validates the exam and the student's entry data, then creates
// the attempt and its paired session record atomically.
func (s *AttemptService) StartAttempt(ctx context.Context, req *model.StartAttemptRequest) (*model.Attempt, *model.SessionRecord, error) {
	exam, err := s.exams.GetByCode(ctx, req.ExamCode)
	if err != nil {
		return nil, nil, err
	}

	if exam.State != model.ExamStateOpen {
		return nil, nil, ErrExamNotOpen
	}
	if err := checkRequiredFields(exam, req); err != nil {
		return nil, nil, err
	}
	if exam.PasswordHash != nil {
		if err := bcrypt.CompareHashAndPassword([]byte(*exam.PasswordHash), []byte(req.Password)); err != nil {
			return nil, nil, ErrWrongPassword
		}
	}

	now := time.Now().UTC()
	attempt := &model.Attempt{
		ID:                uuid.New(),
		ExamID:            exam.ID,
		State:             model.AttemptStateActive,
		StudentName:       optional(req.StudentName),
		StudentEmail:      optional(req.StudentEmail),
		InstitutionalID:   optional(req.InstitutionalID),
		MaxScore:          exam.MaxScore(),
		StartedAt:         now,
		TimePolicy:        exam.TimePolicy,
		ConsequencePolicy: exam.ConsequencePolicy,
		DocumentOnly:      exam.DocumentOnly,
	}

	session := &model.SessionRecord{
		AttemptID:    attempt.ID,
		AccessCode:   NewAccessCode(),
		SessionToken: NewSessionToken(),
		State:        model.AttemptStateActive,
	}
	if exam.TimeLimitMinutes > 0 {
		deadline := now.Add(time.Duration(exam.TimeLimitMinutes) * time.Minute)
		session.ExpiresAt = &deadline
	}

	if err := s.repo.Create(ctx, attempt, session); err != nil {
		return nil, nil, err
	}

	if session.ExpiresAt != nil {
		s.sched.Arm(attempt.ID, *session.ExpiresAt)
	}

	s.bc.ToAttempt(attempt.ID, broadcast.Event{
		Type: broadcast.EventAttemptStarted,
		Payload: map[string]interface{}{
			"exam_name":  exam.Name,
			"max_score":  attempt.MaxScore,
			"expires_at": session.ExpiresAt,
		},
	})
	s.bc.ToExam(exam.ID, broadcast.Event{
		Type:      broadcast.EventStudentStarted,
		AttemptID: attempt.ID,
		Payload:   map[string]interface{}{"student_name": req.StudentName},
	})

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", exam.ID.String()).
		Msg("Attempt started")

	return attempt, session, nil
}

// transition validates the lifecycle edge against the state graph and
// persists it, keeping the in-memory attempt in sync.
func (s *AttemptService) transition(ctx context.Context, tx pgx.Tx, a *model.Attempt, to model.AttemptState, endedAt *time.Time) error {
	if !ValidTransition(a.State, to) {
		return fmt.Errorf("%w: %s to %s", ErrAttemptNotActive, a.State, to)
	}
	if err := s.repo.SetState(ctx, tx, a.ID, to, endedAt); err != nil {
		return err
	}
	a.State = to
	return nil
}

// checkRequiredFields enforces the exam's identity requirements.
func checkRequiredFields(exam *model.Exam, req *model.StartAttemptRequest) error {
	if exam.RequireName && req.StudentName == "" {
		return fmt.Errorf("%w: student_name", ErrMissingStudentField)
	}
	if exam.RequireEmail && req.StudentEmail == "" {
		return fmt.Errorf("%w: student_email", ErrMissingStudentField)
	}
	if exam.RequireInstitutional && req.InstitutionalID == "" {
		return fmt.Errorf("%w: institutional_id", ErrMissingStudentField)
	}
	return nil
}

// ResumeAttempt handles a student coming back to an attempt by access code.
//
// ACTIVE attempts accept only the current session token (the same client
// reconnecting, idempotent); anything else is a conflict. That token check
// is the whole exclusivity scheme. ABANDONED attempts past their deadline
// are finished with the time-exceeded policy inside this same transaction;
// before it, the token rotates and the attempt reactivates.
func (s *AttemptService) ResumeAttempt(ctx context.Context, req *model.ResumeAttemptRequest) (*model.Attempt, *model.SessionRecord, error) {
	var (
		outAttempt *model.Attempt
		outSession *model.SessionRecord
		resumed    bool
		expired    expireOutcome
	)

	err := s.repo.WithAttemptByCode(ctx, req.AccessCode, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		switch a.State {
		case model.AttemptStateFinished:
			return ErrAttemptFinished

		case model.AttemptStateBlocked:
			return ErrAttemptBlocked

		case model.AttemptStateActive:
			if req.SessionToken == "" || req.SessionToken != sr.SessionToken {
				return ErrSessionConflict
			}
			outAttempt, outSession = a, sr
			return nil

		case model.AttemptStateAbandoned:
			now := time.Now().UTC()
			if sr.ExpiresAt != nil && now.After(*sr.ExpiresAt) {
				out, err := s.finishLocked(ctx, tx, a, finishExpired)
				if err != nil {
					return err
				}
				expired = out
				expired.happened = true
				return nil // commit the expiration, then surface the conflict
			}

			token := NewSessionToken()
			if err := s.repo.RotateToken(ctx, tx, a.ID, token); err != nil {
				return err
			}
			if err := s.transition(ctx, tx, a, model.AttemptStateActive, nil); err != nil {
				return err
			}
			sr.State = model.AttemptStateActive
			sr.SessionToken = token
			outAttempt, outSession = a, sr
			resumed = true
			return nil

		default: // PAUSED
			return ErrAttemptNotActive
		}
	})
	if err != nil {
		return nil, nil, err
	}

	if expired.happened {
		s.afterExpire(expired)
		s.log.Info().Str("access_code", req.AccessCode).Msg("Expired attempt finished on resume")
		return nil, nil, ErrAttemptExpired
	}

	if resumed {
		if outSession.ExpiresAt != nil {
			s.sched.Arm(outAttempt.ID, *outSession.ExpiresAt)
		}
		s.bc.ToAttempt(outAttempt.ID, broadcast.Event{
			Type:    broadcast.EventAttemptResumed,
			Payload: map[string]interface{}{"expires_at": outSession.ExpiresAt},
		})
		s.bc.ToExam(outAttempt.ExamID, broadcast.Event{
			Type:      broadcast.EventStudentResumed,
			AttemptID: outAttempt.ID,
		})
	}

	return outAttempt, outSession, nil
}

// SubmitAnswer records or overwrites one answer of an active attempt and
// recomputes answer progress.
func (s *AttemptService) SubmitAnswer(ctx context.Context, accessCode string, req *model.SubmitAnswerRequest) (*model.Answer, error) {
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return nil, repository.ErrNotFound
	}

	var (
		out      *model.Answer
		examID   uuid.UUID
		progress float64
	)

	err = s.repo.WithAttemptByCode(ctx, accessCode, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		if req.SessionToken != sr.SessionToken {
			return ErrSessionConflict
		}
		if err := requireActive(a.State); err != nil {
			return err
		}

		exam, err := s.exams.GetByID(ctx, a.ExamID)
		if err != nil {
			return err
		}
		question := findQuestion(exam, questionID)
		if question == nil {
			return repository.ErrNotFound
		}

		kind := req.Kind
		if kind == "" {
			kind = model.ResponseKindText
		}
		ans := &model.Answer{
			ID:          uuid.New(),
			AttemptID:   a.ID,
			QuestionID:  questionID,
			Response:    req.Response,
			Kind:        kind,
			SubmittedAt: time.Now().UTC(),
		}
		if err := s.repo.UpsertAnswer(ctx, tx, ans); err != nil {
			return err
		}

		answered, err := s.repo.CountAnswers(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if total := len(exam.Questions); total > 0 {
			progress = grading.Round2(100 * float64(answered) / float64(total))
		}
		if err := s.repo.SetProgress(ctx, tx, a.ID, progress); err != nil {
			return err
		}

		examID = a.ExamID
		out = ans
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorAnswered(ctx, out.AttemptID, questionID, out.SubmittedAt)
	s.bc.ToExam(examID, broadcast.Event{
		Type:      broadcast.EventProgressUpdated,
		AttemptID: out.AttemptID,
		Payload:   map[string]interface{}{"progress_percent": progress},
	})

	return out, nil
}

// mirrorAnswered keeps the Redis answered-question hash in sync so the
// websocket stream can restore client state without a PostgreSQL read. Pure
// cache: failures are logged and ignored.
func (s *AttemptService) mirrorAnswered(ctx context.Context, attemptID, questionID uuid.UUID, at time.Time) {
	key := config.CacheKey.AttemptAnsweredKey(attemptID.String())
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, questionID.String(), at.Format(time.RFC3339))
	pipe.Expire(ctx, key, answeredKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Answered-mirror write failed")
	}
}

// AnsweredQuestions returns the answered-question ids of an attempt from the
// Redis mirror, falling back to PostgreSQL on a cache miss (and self-healing
// the mirror).
func (s *AttemptService) AnsweredQuestions(ctx context.Context, attemptID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.AttemptAnsweredKey(attemptID.String())
	answered, err := s.rdb.HGetAll(ctx, key).Result()
	if err == nil && len(answered) > 0 {
		return answered, nil
	}

	answers, err := s.repo.ListAnswers(ctx, nil, attemptID)
	if err != nil {
		return nil, err
	}
	answered = make(map[string]string, len(answers))
	for i := range answers {
		answered[answers[i].QuestionID.String()] = answers[i].SubmittedAt.Format(time.RFC3339)
	}
	if len(answered) > 0 {
		pipe := s.rdb.Pipeline()
		pipe.HSet(ctx, key, answered)
		pipe.Expire(ctx, key, answeredKeyTTL)
		_, _ = pipe.Exec(ctx)
	}
	return answered, nil
}

// ReportEvent records one proctoring signal and applies the attempt's
// consequence policy. The state transition (for a LOCK) commits before any
// broadcast; durable event persistence is queued for the event worker.
func (s *AttemptService) ReportEvent(ctx context.Context, accessCode string, req *model.ReportEventRequest) (*model.SecurityEvent, error) {
	var (
		event  *model.SecurityEvent
		action ConsequenceAction
		examID uuid.UUID
	)

	err := s.repo.WithAttemptByCode(ctx, accessCode, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		if req.SessionToken != sr.SessionToken {
			return ErrSessionConflict
		}
		if a.State == model.AttemptStateFinished {
			return ErrAttemptFinished
		}

		event = &model.SecurityEvent{
			ID:         uuid.New(),
			AttemptID:  a.ID,
			Kind:       req.Kind,
			OccurredAt: time.Now().UTC(),
		}

		action = EvaluateConsequence(a.ConsequencePolicy, a.State)
		if action == ActionLock {
			if err := s.transition(ctx, tx, a, model.AttemptStateBlocked, nil); err != nil {
				return err
			}
		}

		examID = a.ExamID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueueEvent(ctx, event)

	switch action {
	case ActionNotify:
		s.bc.ToExam(examID, fraudAlert(event))
	case ActionLock:
		s.sched.Cancel(event.AttemptID)
		s.bc.ToExam(examID, fraudAlert(event))
		s.bc.ToAttempt(event.AttemptID, broadcast.Event{
			Type:    broadcast.EventAttemptBlocked,
			Payload: map[string]interface{}{"reason": string(event.Kind)},
		})
	}

	return event, nil
}

func fraudAlert(e *model.SecurityEvent) broadcast.Event {
	return broadcast.Event{
		Type:      broadcast.EventFraudAlert,
		AttemptID: e.AttemptID,
		Payload: map[string]interface{}{
			"kind":        string(e.Kind),
			"occurred_at": e.OccurredAt,
		},
	}
}

// enqueueEvent hands the event to the persistence queue. The worker owns
// batching and retries; a dead Redis here loses only triage history, never
// the consequence itself.
func (s *AttemptService) enqueueEvent(ctx context.Context, e *model.SecurityEvent) {
	raw, _ := json.Marshal(map[string]interface{}{
		"event_id":   e.ID.String(),
		"attempt_id": e.AttemptID.String(),
		"kind":       string(e.Kind),
		"timestamp":  e.OccurredAt.Unix(),
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, raw).Err(); err != nil {
		s.log.Error().Err(err).Str("attempt_id", e.AttemptID.String()).Msg("Event enqueue failed")
	}
}

// AbandonAttempt flips an active attempt to ABANDONED, keeping the access
// code alive for resumption. The end-time stamp marks the walk-away moment
// but is not final.
func (s *AttemptService) AbandonAttempt(ctx context.Context, accessCode, sessionToken string) error {
	var (
		attemptID uuid.UUID
		examID    uuid.UUID
	)

	err := s.repo.WithAttemptByCode(ctx, accessCode, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		if sessionToken != sr.SessionToken {
			return ErrSessionConflict
		}
		if err := requireActive(a.State); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := s.transition(ctx, tx, a, model.AttemptStateAbandoned, &now); err != nil {
			return err
		}
		attemptID, examID = a.ID, a.ExamID
		return nil
	})
	if err != nil {
		return err
	}

	s.sched.Cancel(attemptID)
	s.bc.ToExam(examID, broadcast.Event{
		Type:      broadcast.EventStudentAbandoned,
		AttemptID: attemptID,
	})
	return nil
}

// FinishAttempt is the student's own finish.
func (s *AttemptService) FinishAttempt(ctx context.Context, accessCode, sessionToken string) (*model.Attempt, error) {
	var (
		out     *model.Attempt
		outcome expireOutcome
	)

	err := s.repo.WithAttemptByCode(ctx, accessCode, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		if sessionToken != sr.SessionToken {
			return ErrSessionConflict
		}
		switch a.State {
		case model.AttemptStateFinished:
			return ErrAttemptFinished
		case model.AttemptStateBlocked:
			return ErrAttemptBlocked
		}

		res, err := s.finishLocked(ctx, tx, a, finishNormal)
		if err != nil {
			return err
		}
		outcome = res
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sched.Cancel(out.ID)
	s.broadcastFinished(out, outcome, broadcast.EventAttemptFinished)
	return out, nil
}

// VerifyStream authorizes a websocket subscription: the access code must
// resolve and the presented token must be the live one.
func (s *AttemptService) VerifyStream(ctx context.Context, accessCode, sessionToken string) (*model.Attempt, *model.SessionRecord, error) {
	sr, err := s.repo.GetSessionByCode(ctx, accessCode)
	if err != nil {
		return nil, nil, err
	}
	if sessionToken != sr.SessionToken {
		return nil, nil, ErrSessionConflict
	}
	a, err := s.repo.GetByID(ctx, sr.AttemptID)
	if err != nil {
		return nil, nil, err
	}
	if a.State == model.AttemptStateFinished {
		return nil, nil, ErrAttemptFinished
	}
	return a, sr, nil
}

func requireActive(state model.AttemptState) error {
	switch state {
	case model.AttemptStateActive:
		return nil
	case model.AttemptStateFinished:
		return ErrAttemptFinished
	case model.AttemptStateBlocked:
		return ErrAttemptBlocked
	default:
		return ErrAttemptNotActive
	}
}

func findQuestion(exam *model.Exam, id uuid.UUID) *model.Question {
	for i := range exam.Questions {
		if exam.Questions[i].ID == id {
			return &exam.Questions[i]
		}
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
