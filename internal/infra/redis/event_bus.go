package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"challenge-service/internal/domain"
	"challenge-service/internal/infra/memory"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EventBus fans challenge change notifications out over Redis pub/sub so every instance sees
// every write. Each event is published twice:
//
//	PUBLISH challenge:{challengeID}             {event}
//	PUBLISH challenge:opponent:{opponentID}     {event}   (only when an opponent is bound)
//
// Subscribers listen on exactly one of the two channels depending on their filter.
type EventBus struct {
	client *redis.Client
	log    logrus.FieldLogger
	buffer int
}

func NewEventBus(client *redis.Client, log logrus.FieldLogger) *EventBus {
	return &EventBus{client: client, log: log, buffer: 8}
}

func (b *EventBus) Publish(ctx context.Context, ev domain.ChallengeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := b.client.Pipeline()
	pipe.Publish(ctx, challengeChannel(ev.Challenge.ID), payload)
	if ev.Challenge.OpponentID != nil {
		pipe.Publish(ctx, incomingChannel(*ev.Challenge.OpponentID), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Subscribe returns once Redis confirmed the subscription, so events published after it
// returns are never missed.
func (b *EventBus) Subscribe(ctx context.Context, filter domain.EventFilter) (<-chan domain.ChallengeEvent, func(), error) {
	channel := incomingChannel(filter.OpponentID)
	if filter.ChallengeID != "" {
		channel = challengeChannel(filter.ChallengeID)
	}

	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan domain.ChallengeEvent, b.buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev domain.ChallengeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.WithError(err).WithField("channel", msg.Channel).Warn("drop malformed challenge event")
				continue
			}
			if filter.Matches(ev) {
				memory.Deliver(out, ev)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = pubsub.Close()
			<-done
		})
	}
	return out, cancel, nil
}

func challengeChannel(id string) string {
	return "challenge:" + id
}

func incomingChannel(opponentID string) string {
	return "challenge:opponent:" + opponentID
}
