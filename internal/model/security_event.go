package model

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEventKind enumerates the proctoring signals the client can report.
type SecurityEventKind string

const (
	EventTabSwitch      SecurityEventKind = "TAB_SWITCH"
	EventFullscreenExit SecurityEventKind = "FULLSCREEN_EXIT"
	EventForbiddenKeys  SecurityEventKind = "FORBIDDEN_KEYS"
	EventCopyPaste      SecurityEventKind = "COPY_PASTE"
	EventCodeTampering  SecurityEventKind = "CODE_TAMPERING"
	EventConnectionLost SecurityEventKind = "CONNECTION_LOST"
)

// SecurityEvent is one proctoring signal, append-only during an active
// attempt. Read supports teacher dashboard triage; marking read is an
// idempotent all-unread-at-once action.
type SecurityEvent struct {
	ID         uuid.UUID         `json:"id"`
	AttemptID  uuid.UUID         `json:"attempt_id"`
	Kind       SecurityEventKind `json:"kind"`
	OccurredAt time.Time         `json:"occurred_at"`
	Read       bool              `json:"read"`
}

// ReportEventRequest is the payload for reporting one security event.
type ReportEventRequest struct {
	SessionToken string            `json:"session_token" binding:"required,max=64"`
	Kind         SecurityEventKind `json:"kind" binding:"required,oneof=TAB_SWITCH FULLSCREEN_EXIT FORBIDDEN_KEYS COPY_PASTE CODE_TAMPERING CONNECTION_LOST"`
}
