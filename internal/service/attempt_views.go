package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evaltra/evaltra-backend/internal/broadcast"
	"github.com/evaltra/evaltra-backend/internal/config"
	"github.com/evaltra/evaltra-backend/internal/grading"
	"github.com/evaltra/evaltra-backend/internal/model"
)

// AttemptDetail is the teacher's full view of one attempt.
type AttemptDetail struct {
	Attempt *model.Attempt        `json:"attempt"`
	Answers []model.Answer        `json:"answers"`
	Events  []model.SecurityEvent `json:"events"`
	Stats   AttemptStats          `json:"stats"`
}

// AttemptStats summarizes an attempt for the dashboard list row.
type AttemptStats struct {
	AnsweredCount   int   `json:"answered_count"`
	EventCount      int   `json:"event_count"`
	UnreadEvents    int   `json:"unread_events"`
	DurationSeconds int64 `json:"duration_seconds"`
}

// ListExamAttempts returns every attempt of an exam, newest first.
func (s *AttemptService) ListExamAttempts(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	return s.repo.ListByExam(ctx, examID)
}

// GetAttemptDetail loads one attempt with its answers, security events and
// derived stats.
func (s *AttemptService) GetAttemptDetail(ctx context.Context, attemptID uuid.UUID) (*AttemptDetail, error) {
	a, err := s.repo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	answers, err := s.repo.ListAnswers(ctx, nil, attemptID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	stats := AttemptStats{
		AnsweredCount: len(answers),
		EventCount:    len(events),
	}
	for i := range events {
		if !events[i].Read {
			stats.UnreadEvents++
		}
	}
	end := time.Now().UTC()
	if a.EndedAt != nil {
		end = *a.EndedAt
	}
	stats.DurationSeconds = int64(end.Sub(a.StartedAt).Seconds())

	return &AttemptDetail{Attempt: a, Answers: answers, Events: events, Stats: stats}, nil
}

// MarkEventsRead clears the unread flag on every security event of an
// attempt. Idempotent.
func (s *AttemptService) MarkEventsRead(ctx context.Context, attemptID uuid.UUID) error {
	return s.repo.MarkEventsRead(ctx, attemptID)
}

// ManualGradeAnswer overrides one answer's score and re-aggregates the
// attempt's totals from the full answer set.
func (s *AttemptService) ManualGradeAnswer(ctx context.Context, answerID uuid.UUID, req *model.ManualGradeRequest) (*model.Attempt, error) {
	attemptID, err := s.repo.GetAnswerAttempt(ctx, answerID)
	if err != nil {
		return nil, err
	}

	var out *model.Attempt
	err = s.repo.WithAttempt(ctx, attemptID, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		ans, err := s.repo.GetAnswer(ctx, tx, answerID)
		if err != nil {
			return err
		}
		exam, err := s.exams.GetByID(ctx, a.ExamID)
		if err != nil {
			return err
		}
		question := findQuestion(exam, ans.QuestionID)
		if question == nil {
			return ErrQuestionNotFound
		}
		if req.Score < 0 || req.Score > question.Points {
			return ErrScoreOutOfRange
		}

		score := grading.Round2(req.Score)
		var feedback *string
		if req.Feedback != "" {
			feedback = &req.Feedback
		}
		if err := s.repo.SaveAnswerScore(ctx, tx, answerID, &score, feedback); err != nil {
			return err
		}

		// An attempt that never went through finish has no totals to
		// keep consistent yet; the override alone is enough.
		if a.State == model.AttemptStateFinished || a.RawScore != nil {
			answers, err := s.repo.ListAnswers(ctx, tx, a.ID)
			if err != nil {
				return err
			}
			agg := grading.Aggregate(answers, a.MaxScore)
			if err := s.repo.SaveAggregates(ctx, tx, a.ID, &agg.RawScore, &agg.Percentage, &agg.FinalGrade, agg.Pending); err != nil {
				return err
			}
			a.RawScore = &agg.RawScore
			a.Percentage = &agg.Percentage
			a.FinalGrade = &agg.FinalGrade
			a.GradePending = agg.Pending
		}

		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcastGrade(out)
	return out, nil
}

// GradeDocumentAttempt records the teacher's score for a document-only
// attempt, where the whole attempt is one manual grade.
func (s *AttemptService) GradeDocumentAttempt(ctx context.Context, attemptID uuid.UUID, req *model.ManualGradeRequest) (*model.Attempt, error) {
	var out *model.Attempt

	err := s.repo.WithAttempt(ctx, attemptID, func(ctx context.Context, tx pgx.Tx, a *model.Attempt, sr *model.SessionRecord) error {
		if !a.DocumentOnly {
			return ErrNotDocumentOnly
		}
		if req.Score < 0 || req.Score > a.MaxScore {
			return ErrScoreOutOfRange
		}

		raw := grading.Round2(req.Score)
		pct := grading.Percentage(raw, a.MaxScore)
		grade := grading.FinalGrade(pct)
		if err := s.repo.SaveAggregates(ctx, tx, a.ID, &raw, &pct, &grade, false); err != nil {
			return err
		}

		a.RawScore = &raw
		a.Percentage = &pct
		a.FinalGrade = &grade
		a.GradePending = false
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcastGrade(out)
	return out, nil
}

func (s *AttemptService) broadcastGrade(a *model.Attempt) {
	s.bc.ToExam(a.ExamID, broadcast.Event{
		Type:      broadcast.EventGradeUpdated,
		AttemptID: a.ID,
		Payload: map[string]interface{}{
			"raw_score":     a.RawScore,
			"percentage":    a.Percentage,
			"final_grade":   a.FinalGrade,
			"grade_pending": a.GradePending,
		},
	})
}

// PurgeAttempt deletes an attempt and everything hanging off it: rows,
// timer, and Redis leftovers.
func (s *AttemptService) PurgeAttempt(ctx context.Context, attemptID uuid.UUID) error {
	s.sched.Cancel(attemptID)
	if err := s.repo.Delete(ctx, attemptID); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, config.CacheKey.AttemptAnsweredKey(attemptID.String())).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Redis cleanup failed on purge")
	}
	s.log.Info().Str("attempt_id", attemptID.String()).Msg("Attempt purged")
	return nil
}
