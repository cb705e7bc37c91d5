package broadcast

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a realtime notification.
type EventType string

// Attempt-channel events (delivered to the one live student client).
const (
	EventAttemptStarted  EventType = "attempt_started"
	EventAttemptResumed  EventType = "attempt_resumed"
	EventAttemptFinished EventType = "attempt_finished"
	EventAttemptBlocked  EventType = "attempt_blocked"
	EventAttemptUnlocked EventType = "attempt_unlocked"
	EventTimeExpired     EventType = "time_expired"
	EventTimeTick        EventType = "time_tick"
)

// Exam-channel events (delivered to every teacher dashboard).
const (
	EventStudentStarted   EventType = "student_started"
	EventStudentResumed   EventType = "student_resumed"
	EventStudentFinished  EventType = "student_finished"
	EventStudentAbandoned EventType = "student_abandoned"
	EventFraudAlert       EventType = "fraud_alert"
	EventProgressUpdated  EventType = "progress_updated"
	EventGradeUpdated     EventType = "grade_updated"
	EventBatchFinished    EventType = "batch_finished"
)

// Event is the wire envelope published on both channels. Payload keys vary
// by type; consumers treat unknown keys as forward-compatible extras.
type Event struct {
	Type      EventType              `json:"type"`
	AttemptID uuid.UUID              `json:"attempt_id,omitempty"`
	ExamID    uuid.UUID              `json:"exam_id,omitempty"`
	At        time.Time              `json:"at"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
