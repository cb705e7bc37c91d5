package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptState enumerates the lifecycle states of an attempt.
type AttemptState string

const (
	AttemptStateActive    AttemptState = "ACTIVE"
	AttemptStatePaused    AttemptState = "PAUSED"
	AttemptStateBlocked   AttemptState = "BLOCKED"
	AttemptStateAbandoned AttemptState = "ABANDONED"
	AttemptStateFinished  AttemptState = "FINISHED"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s AttemptState) Terminal() bool {
	return s == AttemptStateFinished
}

// TimePolicy is what happens to an attempt whose time limit elapses.
type TimePolicy string

const (
	TimePolicySubmit  TimePolicy = "SUBMIT"  // grade whatever was answered
	TimePolicyDiscard TimePolicy = "DISCARD" // zero the score without grading
)

// ConsequencePolicy is the exam-level reaction to a security event.
type ConsequencePolicy string

const (
	ConsequenceNone   ConsequencePolicy = "NONE"
	ConsequenceNotify ConsequencePolicy = "NOTIFY"
	ConsequenceLock   ConsequencePolicy = "LOCK"
)

// Attempt is one student's run at one exam: the durable academic record.
// MaxScore is frozen at creation from the exam snapshot. RawScore stays nil
// until a grading pass runs; Percentage and FinalGrade are always derived
// from (RawScore, MaxScore).
type Attempt struct {
	ID                uuid.UUID         `json:"id"`
	ExamID            uuid.UUID         `json:"exam_id"`
	State             AttemptState      `json:"state"`
	StudentName       *string           `json:"student_name,omitempty"`
	StudentEmail      *string           `json:"student_email,omitempty"`
	InstitutionalID   *string           `json:"institutional_id,omitempty"`
	RawScore          *float64          `json:"raw_score"`
	MaxScore          float64           `json:"max_score"`
	Percentage        *float64          `json:"percentage"`
	FinalGrade        *float64          `json:"final_grade"`
	ProgressPercent   float64           `json:"progress_percent"`
	StartedAt         time.Time         `json:"started_at"`
	EndedAt           *time.Time        `json:"ended_at,omitempty"`
	TimePolicy        TimePolicy        `json:"time_policy"`
	ConsequencePolicy ConsequencePolicy `json:"consequence_policy"`
	DocumentOnly      bool              `json:"document_only"`
	GradePending      bool              `json:"grade_pending"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// SessionRecord is the ephemeral connection-exclusivity record paired 1:1
// with an attempt. AccessCode is public (shown to the student for resuming);
// SessionToken is private and rotates on every resume of an abandoned
// attempt. State always mirrors the attempt's state, updated in the same
// transaction. A nil ExpiresAt means unlimited time.
type SessionRecord struct {
	AttemptID    uuid.UUID    `json:"attempt_id"`
	AccessCode   string       `json:"access_code"`
	SessionToken string       `json:"-"`
	State        AttemptState `json:"state"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
}

// StartAttemptRequest is the payload for starting a new attempt.
type StartAttemptRequest struct {
	ExamCode        string `json:"exam_code" binding:"required,min=4,max=32"`
	Password        string `json:"password" binding:"omitempty,max=128"`
	StudentName     string `json:"student_name" binding:"omitempty,max=255"`
	StudentEmail    string `json:"student_email" binding:"omitempty,email,max=255"`
	InstitutionalID string `json:"institutional_id" binding:"omitempty,max=64"`
}

// ResumeAttemptRequest is the payload for resuming an attempt by access code.
// SessionToken is required when the attempt is still ACTIVE (reconnect proof).
type ResumeAttemptRequest struct {
	AccessCode   string `json:"access_code" binding:"required,len=8"`
	SessionToken string `json:"session_token" binding:"omitempty,max=64"`
}

// SessionTokenRequest is the bare proof-of-session payload used by finish
// and abandon.
type SessionTokenRequest struct {
	SessionToken string `json:"session_token" binding:"required,max=64"`
}

// ManualGradeRequest is the payload for manually grading one answer or one
// document-only attempt.
type ManualGradeRequest struct {
	Score    float64 `json:"score" binding:"min=0"`
	Feedback string  `json:"feedback" binding:"omitempty,max=2000"`
}
