// Package broadcast fans attempt- and exam-scoped events out to connected
// observers over Redis Pub/Sub. Delivery is fire-and-forget: state is
// committed to PostgreSQL before anything is published, so a missed event
// can only delay an observer's view, never desynchronize state.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/evaltra/evaltra-backend/internal/config"
)

// publishTimeout bounds each publish so a dead Redis cannot stall the
// request path that fired the event.
const publishTimeout = 2 * time.Second

// Broadcaster publishes events and hands out subscriptions on the two
// logical channels.
type Broadcaster struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(rdb *redis.Client, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		rdb: rdb,
		log: log.With().Str("component", "broadcaster").Logger(),
	}
}

// ToAttempt publishes an event on the attempt-scoped channel.
func (b *Broadcaster) ToAttempt(attemptID uuid.UUID, ev Event) {
	ev.AttemptID = attemptID
	b.publish(config.CacheKey.AttemptChannel(attemptID.String()), ev)
}

// ToExam publishes an event on the exam-scoped channel.
func (b *Broadcaster) ToExam(examID uuid.UUID, ev Event) {
	ev.ExamID = examID
	b.publish(config.CacheKey.ExamChannel(examID.String()), ev)
}

func (b *Broadcaster) publish(channel string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Str("channel", channel).Msg("Event marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		// Observers reconcile by re-fetching on reconnect.
		b.log.Warn().Err(err).Str("channel", channel).Str("type", string(ev.Type)).Msg("Publish failed")
	}
}

// SubscribeAttempt returns a subscription to one attempt's channel. The
// caller owns the PubSub and must Close it.
func (b *Broadcaster) SubscribeAttempt(ctx context.Context, attemptID uuid.UUID) *redis.PubSub {
	return b.rdb.Subscribe(ctx, config.CacheKey.AttemptChannel(attemptID.String()))
}

// SubscribeExam returns a subscription to one exam's channel.
func (b *Broadcaster) SubscribeExam(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return b.rdb.Subscribe(ctx, config.CacheKey.ExamChannel(examID.String()))
}
