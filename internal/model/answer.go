package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResponseKind tags the shape of an answer's raw payload for the richer
// question widgets. Plain text covers the standard question types.
type ResponseKind string

const (
	ResponseKindText    ResponseKind = "TEXT"
	ResponseKindCode    ResponseKind = "CODE"
	ResponseKindDiagram ResponseKind = "DIAGRAM"
)

// Answer is one student response to one question. At most one row exists per
// (attempt, question) pair; a resubmission overwrites in place. Score is nil
// until a grading pass (automatic or manual) touches the question.
type Answer struct {
	ID          uuid.UUID       `json:"id"`
	AttemptID   uuid.UUID       `json:"attempt_id"`
	QuestionID  uuid.UUID       `json:"question_id"`
	Response    json.RawMessage `json:"response"`
	Kind        ResponseKind    `json:"kind"`
	Score       *float64        `json:"score"`
	Feedback    *string         `json:"feedback,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// SubmitAnswerRequest is the payload for submitting or updating one answer.
type SubmitAnswerRequest struct {
	QuestionID   string          `json:"question_id" binding:"required,uuid"`
	SessionToken string          `json:"session_token" binding:"required,max=64"`
	Response     json.RawMessage `json:"response" binding:"required"`
	Kind         ResponseKind    `json:"kind" binding:"omitempty,oneof=TEXT CODE DIAGRAM"`
}
