package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"challenge-service/internal/domain"
	"challenge-service/internal/infra/memory"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying challenge change events.
const NotifyChannel = "challenge_events"

// EventBus publishes challenge events with pg_notify and fans them out to local subscribers
// from a single LISTEN connection. Run must be running for subscribers to receive anything.
type EventBus struct {
	pool  *pgxpool.Pool
	local *memory.EventBus
	log   logrus.FieldLogger
}

func NewEventBus(pool *pgxpool.Pool, log logrus.FieldLogger) *EventBus {
	return &EventBus{pool: pool, local: memory.NewEventBus(), log: log}
}

func (b *EventBus) Publish(ctx context.Context, ev domain.ChallengeEvent) error {
	ev.Challenge = ev.Challenge.Summary()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (b *EventBus) Subscribe(ctx context.Context, filter domain.EventFilter) (<-chan domain.ChallengeEvent, func(), error) {
	return b.local.Subscribe(ctx, filter)
}

// Run holds a dedicated LISTEN connection until ctx is cancelled, reconnecting with
// exponential backoff when the connection drops. The connection is taken out of the pool and
// closed when the listener stops.
func (b *EventBus) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := b.listen(ctx, policy)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		b.log.WithError(err).WithField("retry_in", wait.String()).Warn("challenge event listener dropped")
	})
}

func (b *EventBus) listen(ctx context.Context, policy backoff.BackOff) error {
	pooled, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	// The session keeps its LISTEN registration, so it never goes back to the pool.
	conn := pooled.Hijack()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	policy.Reset()
	b.log.WithField("channel", NotifyChannel).Info("listening for challenge events")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		var ev domain.ChallengeEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			b.log.WithError(err).Warn("drop malformed challenge event")
			continue
		}
		_ = b.local.Publish(ctx, ev)
	}
}
