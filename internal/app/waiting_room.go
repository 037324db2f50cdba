package app

import (
	"context"
	"time"

	"challenge-service/internal/domain"
)

// AwaitStart blocks until both participants acknowledged readiness and the quiz started. It
// subscribes before reading so no transition between the read and the subscription is lost.
// After the start is observed it waits out the start grace delay so both clients begin their
// countdown together. The wait fails with ErrReadyTimeout once ReadyTimeout has passed since
// acceptance (or since the pending deadline while still unaccepted). A challenge that already
// completed counts as started and is returned at once so callers can go on to its outcome.
func (s *ChallengeService) AwaitStart(ctx context.Context, id string) (domain.Challenge, error) {
	updates, cancel, err := s.events.Subscribe(ctx, domain.EventFilter{ChallengeID: id})
	if err != nil {
		return domain.Challenge{}, err
	}
	defer cancel()

	c, err := s.challenges.Get(ctx, id)
	if err != nil {
		return domain.Challenge{}, err
	}

	for {
		if c.Status == domain.StatusCompleted {
			return c, nil
		}
		if c.StartedAt != nil && c.Status == domain.StatusInProgress {
			if err := sleepCtx(ctx, s.opts.StartGrace); err != nil {
				return c, err
			}
			return s.challenges.Get(ctx, id)
		}
		if c.Status.IsTerminal() {
			return c, domain.ErrChallengeClosed
		}

		timer := time.NewTimer(s.readyDeadline(c).Sub(s.now()))
		select {
		case ev, ok := <-updates:
			timer.Stop()
			if !ok {
				return c, domain.ErrChallengeClosed
			}
			if ev.Challenge.Version >= c.Version {
				c = ev.Challenge
			}
		case <-timer.C:
			return c, domain.ErrReadyTimeout
		case <-ctx.Done():
			timer.Stop()
			return c, ctx.Err()
		}
	}
}

func (s *ChallengeService) readyDeadline(c domain.Challenge) time.Time {
	if c.AcceptedAt != nil {
		return c.AcceptedAt.Add(s.opts.ReadyTimeout)
	}
	return c.ExpiresAt.Add(s.opts.ReadyTimeout)
}

// AwaitOutcome blocks until the challenge is completed. It reacts to the change stream alone:
// the moment both finished flags are observed it triggers reconciliation itself, retrying
// with bounded exponential backoff.
func (s *ChallengeService) AwaitOutcome(ctx context.Context, id string) (domain.Challenge, error) {
	updates, cancel, err := s.events.Subscribe(ctx, domain.EventFilter{ChallengeID: id})
	if err != nil {
		return domain.Challenge{}, err
	}
	defer cancel()

	c, err := s.challenges.Get(ctx, id)
	if err != nil {
		return domain.Challenge{}, err
	}

	for {
		switch {
		case c.Status == domain.StatusCompleted:
			return s.challenges.Get(ctx, id)
		case c.Status.IsTerminal():
			return c, domain.ErrChallengeClosed
		case c.BothFinished():
			return s.reconcileWithBackoff(ctx, id)
		}

		select {
		case ev, ok := <-updates:
			if !ok {
				return c, domain.ErrChallengeClosed
			}
			if ev.Challenge.Version >= c.Version {
				c = ev.Challenge
			}
		case <-ctx.Done():
			return c, ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
