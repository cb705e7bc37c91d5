package ws

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionEvent  Action = "event"
	ActionFinish Action = "finish"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest is sent by the client to save a single answer.
type AnswerRequest struct {
	Action     Action          `json:"action"`
	QuestionID string          `json:"question_id"`
	Response   json.RawMessage `json:"response"`
	Kind       string          `json:"kind"`
}

// EventRequest is sent by the client to report a security event.
type EventRequest struct {
	Action Action `json:"action"`
	Kind   string `json:"kind"`
}

// FinishRequest is sent by the client to finish and grade the attempt.
type FinishRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventSaved    Event = "saved"
	EventRecorded Event = "recorded"
	EventFinished Event = "finished"
	EventRestore  Event = "restore"
	EventPong     Event = "pong"
	// EventBroadcast frames messages relayed from the attempt's Redis
	// channel (blocks, unlocks, expiration, time ticks).
	EventBroadcast Event = "broadcast"
)

// RestoreResponse replays the answered-question map on connect so a
// reconnecting client can rebuild its local state.
type RestoreResponse struct {
	Event    Event             `json:"event"`
	State    string            `json:"state"`
	Answered map[string]string `json:"answered"`
}

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

type RecordedResponse struct {
	Event   Event  `json:"event"`
	Kind    string `json:"kind"`
	Blocked bool   `json:"blocked"`
}

type FinishedResponse struct {
	Event        Event    `json:"event"`
	RawScore     *float64 `json:"raw_score"`
	Percentage   *float64 `json:"percentage"`
	FinalGrade   *float64 `json:"final_grade"`
	GradePending bool     `json:"grade_pending"`
}

type BroadcastResponse struct {
	Event   Event           `json:"event"`
	Message json.RawMessage `json:"message"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
