package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type recordingFinisher struct {
	mu    sync.Mutex
	fired []uuid.UUID
	done  chan struct{}
}

func newRecordingFinisher(expect int) *recordingFinisher {
	return &recordingFinisher{done: make(chan struct{}, expect)}
}

func (f *recordingFinisher) ExpireAttempt(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	f.fired = append(f.fired, id)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *recordingFinisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func testScheduler() *ExpirationScheduler {
	return New(nil, time.Minute, zerolog.Nop())
}

func TestArmFiresFinisher(t *testing.T) {
	s := testScheduler()
	f := newRecordingFinisher(1)
	s.finisher = f

	id := uuid.New()
	s.Arm(id, time.Now().Add(20*time.Millisecond))

	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	if f.count() != 1 || f.fired[0] != id {
		t.Errorf("fired = %v, want exactly [%s]", f.fired, id)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s := testScheduler()
	f := newRecordingFinisher(1)
	s.finisher = f

	id := uuid.New()
	s.Arm(id, time.Now().Add(50*time.Millisecond))
	s.Cancel(id)
	s.Cancel(id) // cancel-then-cancel is a no-op

	select {
	case <-f.done:
		t.Fatal("cancelled timer fired")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRearmReplacesPriorTimer(t *testing.T) {
	s := testScheduler()
	f := newRecordingFinisher(2)
	s.finisher = f

	id := uuid.New()
	s.Arm(id, time.Now().Add(30*time.Millisecond))
	s.Arm(id, time.Now().Add(100*time.Millisecond))

	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("re-armed timer never fired")
	}

	// Give the replaced timer a chance to misfire.
	time.Sleep(100 * time.Millisecond)
	if got := f.count(); got != 1 {
		t.Errorf("fired %d times, want 1 (re-arm must cancel the prior timer)", got)
	}
}

func TestFireWithoutFinisherIsDeferred(t *testing.T) {
	s := testScheduler()

	id := uuid.New()
	s.Arm(id, time.Now().Add(10*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	// The timer fired with no finisher bound: nothing crashes, and the
	// bookkeeping is cleared so the startup sweep owns the attempt.
	s.mu.Lock()
	_, hasTimer := s.timers[id]
	s.mu.Unlock()
	if hasTimer {
		t.Error("timer entry not cleared after firing")
	}
}
