package service

import (
	"testing"

	"github.com/evaltra/evaltra-backend/internal/model"
)

func TestEvaluateConsequence(t *testing.T) {
	tests := []struct {
		name   string
		policy model.ConsequencePolicy
		state  model.AttemptState
		want   ConsequenceAction
	}{
		{"none records only", model.ConsequenceNone, model.AttemptStateActive, ActionRecordOnly},
		{"notify alerts", model.ConsequenceNotify, model.AttemptStateActive, ActionNotify},
		{"lock blocks active", model.ConsequenceLock, model.AttemptStateActive, ActionLock},
		// A lock against an already-blocked attempt must not re-trigger
		// the transition.
		{"lock degrades on blocked", model.ConsequenceLock, model.AttemptStateBlocked, ActionNotify},
		{"lock degrades on abandoned", model.ConsequenceLock, model.AttemptStateAbandoned, ActionNotify},
		{"notify on blocked", model.ConsequenceNotify, model.AttemptStateBlocked, ActionNotify},
		{"none on blocked", model.ConsequenceNone, model.AttemptStateBlocked, ActionRecordOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateConsequence(tt.policy, tt.state); got != tt.want {
				t.Errorf("EvaluateConsequence(%s, %s) = %v, want %v", tt.policy, tt.state, got, tt.want)
			}
		})
	}
}
