package service

import "github.com/evaltra/evaltra-backend/internal/model"

// ConsequenceAction is what the orchestrator does with a security event
// beyond recording it.
type ConsequenceAction int

const (
	// ActionRecordOnly stores the event with no escalation.
	ActionRecordOnly ConsequenceAction = iota
	// ActionNotify additionally broadcasts a fraud alert to the exam channel.
	ActionNotify
	// ActionLock notifies and transitions the attempt to BLOCKED.
	ActionLock
)

// EvaluateConsequence maps an exam's consequence policy and the attempt's
// current state to an action. A LOCK policy only ever moves ACTIVE →
// BLOCKED: on an attempt that is already blocked (or anything else), it
// degrades to a notify so the teacher still sees the signal but the state
// stays untouched.
func EvaluateConsequence(policy model.ConsequencePolicy, state model.AttemptState) ConsequenceAction {
	switch policy {
	case model.ConsequenceNotify:
		return ActionNotify
	case model.ConsequenceLock:
		if state == model.AttemptStateActive {
			return ActionLock
		}
		return ActionNotify
	default:
		return ActionRecordOnly
	}
}
