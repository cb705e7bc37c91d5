package service

import "github.com/evaltra/evaltra-backend/internal/model"

// transitions is the attempt lifecycle graph. FINISHED is terminal; PAUSED
// is set by teacher tooling elsewhere in the platform and the engine only
// ever force-finishes it.
var transitions = map[model.AttemptState][]model.AttemptState{
	model.AttemptStateActive: {
		model.AttemptStateFinished,
		model.AttemptStateBlocked,
		model.AttemptStateAbandoned,
	},
	model.AttemptStateBlocked: {
		model.AttemptStateActive, // teacher unlock only
		model.AttemptStateFinished,
	},
	model.AttemptStateAbandoned: {
		model.AttemptStateActive, // resume before the deadline
		model.AttemptStateFinished,
	},
	model.AttemptStatePaused: {
		model.AttemptStateFinished,
	},
	model.AttemptStateFinished: {},
}

// ValidTransition reports whether the lifecycle graph allows from → to.
func ValidTransition(from, to model.AttemptState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
