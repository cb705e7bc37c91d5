package service

import (
	"testing"

	"github.com/evaltra/evaltra-backend/internal/model"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to model.AttemptState
		want     bool
	}{
		{model.AttemptStateActive, model.AttemptStateFinished, true},
		{model.AttemptStateActive, model.AttemptStateBlocked, true},
		{model.AttemptStateActive, model.AttemptStateAbandoned, true},
		{model.AttemptStateActive, model.AttemptStatePaused, false},
		{model.AttemptStateBlocked, model.AttemptStateActive, true},
		{model.AttemptStateBlocked, model.AttemptStateFinished, true},
		{model.AttemptStateBlocked, model.AttemptStateAbandoned, false},
		{model.AttemptStateAbandoned, model.AttemptStateActive, true},
		{model.AttemptStateAbandoned, model.AttemptStateFinished, true},
		{model.AttemptStateAbandoned, model.AttemptStateBlocked, false},
		{model.AttemptStatePaused, model.AttemptStateFinished, true},
		{model.AttemptStatePaused, model.AttemptStateActive, false},
		// FINISHED is terminal.
		{model.AttemptStateFinished, model.AttemptStateActive, false},
		{model.AttemptStateFinished, model.AttemptStateFinished, false},
		{model.AttemptStateFinished, model.AttemptStateBlocked, false},
	}

	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalState(t *testing.T) {
	if !model.AttemptStateFinished.Terminal() {
		t.Error("FINISHED should be terminal")
	}
	for _, s := range []model.AttemptState{
		model.AttemptStateActive,
		model.AttemptStatePaused,
		model.AttemptStateBlocked,
		model.AttemptStateAbandoned,
	} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
