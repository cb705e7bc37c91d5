package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evaltra/evaltra-backend/internal/broadcast"
	"github.com/evaltra/evaltra-backend/internal/grading"
	"github.com/evaltra/evaltra-backend/internal/model"
)

// finishMode selects how an attempt's work is settled when it finishes.
type finishMode int

const (
	// finishNormal grades submitted answers with the exam's key.
	finishNormal finishMode = iota
	// finishExpired applies the exam's time-exceeded policy instead of
	// assuming a deliberate submission.
	finishExpired
)

// expireOutcome carries the committed result of a finish out of the
// transaction so broadcasts can fire afterwards.
type expireOutcome struct {
	happened  bool
	attemptID uuid.UUID
	examID    uuid.UUID
	raw       *float64
	pct       *float64
	grade     *float64
	pending   bool
}

// finishLocked settles and finishes an attempt while its row lock is held.
// Grading failures on individual answers degrade to a zero score rather than
// aborting the whole finish; only infrastructure errors roll back.
func (s *AttemptService) finishLocked(ctx context.Context, tx pgx.Tx, a *model.Attempt, mode finishMode) (expireOutcome, error) {
	out := expireOutcome{attemptID: a.ID, examID: a.ExamID}
	discard := mode == finishExpired && a.TimePolicy == model.TimePolicyDiscard

	switch {
	case a.DocumentOnly:
		// Nothing auto-gradable. The teacher grades the external
		// document later.
		out.pending = true

	case discard:
		var zero float64
		out.raw, out.pct, out.grade = &zero, &zero, &zero

	default:
		exam, err := s.exams.GetByID(ctx, a.ExamID)
		if err != nil {
			return out, err
		}
		answers, err := s.repo.ListAnswers(ctx, tx, a.ID)
		if err != nil {
			return out, err
		}

		for i := range answers {
			ans := &answers[i]
			question := findQuestion(exam, ans.QuestionID)
			if question == nil {
				// Question removed from the exam after the
				// answer landed. Worth nothing either way.
				continue
			}
			score, err := grading.Score(question, ans.Response)
			if err != nil {
				s.log.Warn().Err(err).
					Str("attempt_id", a.ID.String()).
					Str("question_id", ans.QuestionID.String()).
					Msg("Unreadable answer payload scored as zero")
				var zero float64
				score = &zero
			}
			if err := s.repo.SaveAnswerScore(ctx, tx, ans.ID, score, ans.Feedback); err != nil {
				return out, err
			}
			ans.Score = score
		}

		agg := grading.Aggregate(answers, a.MaxScore)
		out.raw, out.pct, out.grade = &agg.RawScore, &agg.Percentage, &agg.FinalGrade
		out.pending = agg.Pending
	}

	if err := s.repo.SaveAggregates(ctx, tx, a.ID, out.raw, out.pct, out.grade, out.pending); err != nil {
		return out, err
	}
	now := time.Now().UTC()
	if err := s.transition(ctx, tx, a, model.AttemptStateFinished, &now); err != nil {
		return out, err
	}

	a.EndedAt = &now
	a.RawScore = out.raw
	a.Percentage = out.pct
	a.FinalGrade = out.grade
	a.GradePending = out.pending
	return out, nil
}

func (s *AttemptService) broadcastFinished(a *model.Attempt, out expireOutcome, attemptEvent broadcast.EventType) {
	payload := map[string]interface{}{
		"raw_score":     deref(out.raw),
		"percentage":    deref(out.pct),
		"final_grade":   deref(out.grade),
		"grade_pending": out.pending,
	}
	s.bc.ToAttempt(a.ID, broadcast.Event{Type: attemptEvent, Payload: payload})
	s.bc.ToExam(a.ExamID, broadcast.Event{
		Type:      broadcast.EventStudentFinished,
		AttemptID: a.ID,
		Payload:   payload,
	})
}

// afterExpire runs the post-commit side of an expiration: the timer is
// dropped and both channels learn the attempt ran out of time.
func (s *AttemptService) afterExpire(out expireOutcome) {
	s.sched.Cancel(out.attemptID)
	payload := map[string]interface{}{
		"raw_score":     deref(out.raw),
		"percentage":    deref(out.pct),
		"final_grade":   deref(out.grade),
		"grade_pending": out.pending,
	}
	s.bc.ToAttempt(out.attemptID, broadcast.Event{Type: broadcast.EventTimeExpired, Payload: payload})
	s.bc.ToExam(out.examID, broadcast.Event{
		Type:      broadcast.EventTimeExpired,
		AttemptID: out.attemptID,
		Payload:   payload,
	})
}

// ExpireAttempt is the scheduler's entry point: the wall clock passed the
// attempt's deadline. Anything not ACTIVE anymore lost the race to a manual
// finish or a block, and that is fine.
func (s *AttemptService) ExpireAttempt(ctx context.Context, attemptID uuid.UUID) error {
	var out expireOutcome

	err := s.repo.WithAttempt(ctx, attemptID, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		if a.State != model.AttemptStateActive {
			return nil
		}
		if sr.ExpiresAt == nil || time.Now().UTC().Before(*sr.ExpiresAt) {
			// Deadline moved or vanished since the timer was armed.
			return nil
		}
		res, err := s.finishLocked(ctx, tx, a, finishExpired)
		if err != nil {
			return err
		}
		out = res
		out.happened = true
		return nil
	})
	if err != nil {
		return err
	}

	if out.happened {
		s.afterExpire(out)
		s.log.Info().Str("attempt_id", attemptID.String()).Msg("Attempt expired")
	}
	return nil
}

// ForceFinish finishes one attempt on a teacher's order, from any
// non-terminal state.
func (s *AttemptService) ForceFinish(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	var (
		out     *model.Attempt
		outcome expireOutcome
	)

	err := s.repo.WithAttempt(ctx, attemptID, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		if a.State == model.AttemptStateFinished {
			return ErrAttemptFinished
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

// ForceFinishResult reports one attempt's fate within a batch force-finish.
type ForceFinishResult struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Finished  bool      `json:"finished"`
	Error     string    `json:"error,omitempty"`
}

// ForceFinishAll force-finishes every unfinished attempt of an exam. Each
// attempt settles in its own transaction so one failure cannot poison the
// batch.
func (s *AttemptService) ForceFinishAll(ctx context.Context, examID uuid.UUID) ([]ForceFinishResult, error) {
	ids, err := s.repo.ListUnfinishedIDs(ctx, examID)
	if err != nil {
		return nil, err
	}

	results := make([]ForceFinishResult, 0, len(ids))
	finished := 0
	for _, id := range ids {
		res := ForceFinishResult{AttemptID: id}
		if _, err := s.ForceFinish(ctx, id); err != nil {
			res.Error = err.Error()
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Force finish failed in batch")
		} else {
			res.Finished = true
			finished++
		}
		results = append(results, res)
	}

	s.bc.ToExam(examID, broadcast.Event{
		Type: broadcast.EventBatchFinished,
		Payload: map[string]interface{}{
			"requested": len(ids),
			"finished":  finished,
		},
	})
	return results, nil
}

// Unlock lifts a consequence block and puts the attempt back to ACTIVE. The
// original deadline is untouched; an already-past deadline expires the
// attempt right after the unlock.
func (s *AttemptService) Unlock(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	var (
		out      *model.Attempt
		deadline *time.Time
	)

	err := s.repo.WithAttempt(ctx, attemptID, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		if a.State != model.AttemptStateBlocked {
			return ErrNotBlocked
		}
		if err := s.transition(ctx, tx, a, model.AttemptStateActive, nil); err != nil {
			return err
		}
		deadline = sr.ExpiresAt
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deadline != nil {
		s.sched.Arm(out.ID, *deadline)
	}
	s.bc.ToAttempt(out.ID, broadcast.Event{Type: broadcast.EventAttemptUnlocked})
	s.log.Info().Str("attempt_id", out.ID.String()).Msg("Attempt unlocked")
	return out, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
