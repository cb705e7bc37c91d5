// Package scheduler enforces attempt wall-clock deadlines. A per-attempt
// in-memory timer is the low-latency fast path; a periodic sweep over the
// store is the correctness backstop that also catches deadlines missed
// while the process was down.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evaltra/evaltra-backend/internal/broadcast"
)

const tickInterval = time.Second

// Finisher applies the time-exceeded policy to one attempt. The scheduler
// never mutates state itself; the finisher runs under the same per-attempt
// lock as every other writer, so a timer racing a manual finish is a no-op.
type Finisher interface {
	ExpireAttempt(ctx context.Context, attemptID uuid.UUID) error
}

// Store supplies the sweep with deadlines from the attempt store.
type Store interface {
	ListExpiredActiveIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListArmed(ctx context.Context, now time.Time) (map[uuid.UUID]time.Time, error)
}

// AttemptPublisher is the slice of the broadcaster the tick loop needs.
type AttemptPublisher interface {
	ToAttempt(attemptID uuid.UUID, ev broadcast.Event)
}

// ExpirationScheduler holds one timer per attempt with an active, non-nil
// deadline.
type ExpirationScheduler struct {
	mu        sync.Mutex
	timers    map[uuid.UUID]*time.Timer
	deadlines map[uuid.UUID]time.Time

	finisher      Finisher
	pub           AttemptPublisher
	sweepInterval time.Duration
	log           zerolog.Logger
}

// New creates an ExpirationScheduler. The finisher is bound at Start; timers
// armed before Start stay pending until it is.
func New(pub AttemptPublisher, sweepInterval time.Duration, log zerolog.Logger) *ExpirationScheduler {
	return &ExpirationScheduler{
		timers:        make(map[uuid.UUID]*time.Timer),
		deadlines:     make(map[uuid.UUID]time.Time),
		pub:           pub,
		sweepInterval: sweepInterval,
		log:           log.With().Str("component", "expiration_scheduler").Logger(),
	}
}

// Arm schedules (or reschedules) the deadline for one attempt. Re-arming
// always cancels any prior timer for that attempt first.
func (s *ExpirationScheduler) Arm(attemptID uuid.UUID, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[attemptID]; ok {
		t.Stop()
	}
	s.deadlines[attemptID] = deadline
	s.timers[attemptID] = time.AfterFunc(time.Until(deadline), func() {
		s.fire(attemptID)
	})
}

// Cancel removes the timer for one attempt. Cancelling an attempt that has
// no timer is a no-op.
func (s *ExpirationScheduler) Cancel(attemptID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[attemptID]; ok {
		t.Stop()
		delete(s.timers, attemptID)
		delete(s.deadlines, attemptID)
	}
}

func (s *ExpirationScheduler) fire(attemptID uuid.UUID) {
	s.mu.Lock()
	delete(s.timers, attemptID)
	delete(s.deadlines, attemptID)
	finisher := s.finisher
	s.mu.Unlock()

	if finisher == nil {
		// Not started yet; the startup sweep will pick this attempt up.
		return
	}

	if err := finisher.ExpireAttempt(context.Background(), attemptID); err != nil {
		// Leave the attempt for the next sweep rather than crash or retry
		// in a tight loop.
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Timer expiration failed")
	}
}

// Start binds the finisher, re-arms timers for every live deadline found in
// the store, immediately sweeps deadlines that passed while the process was
// down, and then runs the sweep and tick loops until ctx is cancelled.
func (s *ExpirationScheduler) Start(ctx context.Context, finisher Finisher, store Store) {
	s.mu.Lock()
	s.finisher = finisher
	s.mu.Unlock()

	if armed, err := store.ListArmed(ctx, time.Now()); err != nil {
		s.log.Error().Err(err).Msg("Re-arm scan failed")
	} else {
		for id, deadline := range armed {
			s.Arm(id, deadline)
		}
		s.log.Info().Int("timers", len(armed)).Msg("ExpirationScheduler started")
	}

	s.sweep(ctx, store)

	sweepTicker := time.NewTicker(s.sweepInterval)
	defer sweepTicker.Stop()
	tickTicker := time.NewTicker(tickInterval)
	defer tickTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("ExpirationScheduler stopped")
			return
		case <-sweepTicker.C:
			s.sweep(ctx, store)
		case <-tickTicker.C:
			s.publishTicks()
		}
	}
}

// sweep finishes every active attempt whose deadline already passed.
// Individual failures are logged and retried on the next pass.
func (s *ExpirationScheduler) sweep(ctx context.Context, store Store) {
	ids, err := store.ListExpiredActiveIDs(ctx, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Expiration sweep scan failed")
		return
	}

	s.mu.Lock()
	finisher := s.finisher
	s.mu.Unlock()

	for _, id := range ids {
		if err := finisher.ExpireAttempt(ctx, id); err != nil {
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Sweep expiration failed")
		}
	}
}

// publishTicks broadcasts the remaining seconds of every armed attempt to
// its attempt channel. Ticks go only to the attempt channel: teacher
// dashboards derive countdowns from the started/expires timestamps instead.
func (s *ExpirationScheduler) publishTicks() {
	if s.pub == nil {
		return
	}

	now := time.Now()
	s.mu.Lock()
	snapshot := make(map[uuid.UUID]time.Time, len(s.deadlines))
	for id, at := range s.deadlines {
		snapshot[id] = at
	}
	s.mu.Unlock()

	for id, deadline := range snapshot {
		remaining := deadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		s.pub.ToAttempt(id, broadcast.Event{
			Type:    broadcast.EventTimeTick,
			Payload: map[string]interface{}{"remaining_seconds": int(remaining.Seconds())},
		})
	}
}
