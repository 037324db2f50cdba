package app

import (
	"context"
	"errors"
	"fmt"

	"challenge-service/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ReconcileRequest triggers result reconciliation. Scores are the caller's view; the scores
// each participant recorded on finish are authoritative.
type ReconcileRequest struct {
	ChallengeID   string
	HostScore     *int
	OpponentScore *int
}

// Reconcile computes and commits the outcome once both participants finished. It is
// idempotent: a completed challenge is returned unchanged whatever scores the request carries.
// Concurrent calls for the same challenge within this process share a single attempt.
func (s *ChallengeService) Reconcile(ctx context.Context, req ReconcileRequest) (domain.Challenge, error) {
	v, err, _ := s.inflight.Do(req.ChallengeID, func() (interface{}, error) {
		return s.reconcile(ctx, req)
	})
	if err != nil {
		return domain.Challenge{}, err
	}
	return v.(domain.Challenge), nil
}

func (s *ChallengeService) reconcile(ctx context.Context, req ReconcileRequest) (domain.Challenge, error) {
	start := s.opts.Clock()
	log := s.log.WithField("challenge_id", req.ChallengeID)

	for attempt := 0; ; attempt++ {
		current, err := s.challenges.Get(ctx, req.ChallengeID)
		if err != nil {
			return domain.Challenge{}, err
		}
		if current.Status == domain.StatusCompleted {
			s.opts.Recorder.Reconciled("already_completed", s.opts.Clock().Sub(start))
			return current, nil
		}
		if current.Status != domain.StatusInProgress {
			return current, fmt.Errorf("reconcile %s challenge: %w", current.Status, domain.ErrInvalidTransition)
		}
		if !current.BothFinished() {
			return current, domain.ErrNotFinished
		}
		warnScoreMismatch(log, "host", req.HostScore, current.HostScore)
		warnScoreMismatch(log, "opponent", req.OpponentScore, current.OpponentScore)

		now := s.now()
		outcome := domain.DecideOutcome(current)
		next := current
		if err := next.Complete(outcome, now); err != nil {
			return current, err
		}

		saved, stats, err := s.challenges.Complete(ctx, next, now)
		if errors.Is(err, domain.ErrStaleWrite) && attempt < s.opts.WriteRetries {
			log.WithField("attempt", attempt+1).Debug("stale completion, re-reading")
			continue
		}
		if err != nil {
			s.opts.Recorder.Reconciled("error", s.opts.Clock().Sub(start))
			return domain.Challenge{}, err
		}

		result := "win"
		if saved.IsDraw {
			result = "draw"
		}
		s.opts.Recorder.Reconciled(result, s.opts.Clock().Sub(start))
		s.opts.Recorder.Transition("complete", saved.Status)
		log.WithFields(logrus.Fields{
			"winner_id":      stringValue(saved.WinnerID),
			"is_draw":        saved.IsDraw,
			"host_score":     outcome.HostScore,
			"opponent_score": outcome.OpponentScore,
		}).Info("challenge reconciled")

		s.publish(ctx, domain.EventUpdate, saved)
		s.notifyOutcome(ctx, saved, stats)
		return saved, nil
	}
}

// reconcileWithBackoff retries reconciliation with bounded exponential backoff. Errors that a
// retry cannot fix stop it immediately.
func (s *ChallengeService) reconcileWithBackoff(ctx context.Context, id string) (domain.Challenge, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ReconcileInitialInterval
	b.MaxInterval = s.opts.ReconcileMaxInterval
	b.MaxElapsedTime = s.opts.ReconcileMaxElapsed

	var completed domain.Challenge
	op := func() error {
		c, err := s.Reconcile(ctx, ReconcileRequest{ChallengeID: id})
		if err == nil {
			completed = c
			return nil
		}
		if errors.Is(err, domain.ErrChallengeNotFound) ||
			errors.Is(err, domain.ErrInvalidTransition) ||
			errors.Is(err, domain.ErrNotFinished) {
			return backoff.Permanent(err)
		}
		s.opts.Recorder.ReconcileRetried()
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return domain.Challenge{}, err
	}
	return completed, nil
}

func (s *ChallengeService) notifyOutcome(ctx context.Context, c domain.Challenge, stats []domain.UserChallengeStats) {
	if c.WinnerID == nil {
		return
	}
	winner := *c.WinnerID
	s.opts.Notifier.Dispatch(ctx, domain.Notification{
		UserID:  winner,
		Kind:    domain.KindChallengeWin,
		Subject: "You won a challenge",
		Body:    fmt.Sprintf("You won the %s challenge %d to %d.", c.Subject, winnerScore(c), loserScore(c)),
	})

	if s.opts.MilestoneEvery <= 0 {
		return
	}
	for _, st := range stats {
		if st.UserID != winner {
			continue
		}
		if st.CurrentStreak == st.HighestStreak && st.CurrentStreak%s.opts.MilestoneEvery == 0 {
			s.opts.Notifier.Dispatch(ctx, domain.Notification{
				UserID:  winner,
				Kind:    domain.KindLeaderboardReward,
				Subject: "New streak record",
				Body:    fmt.Sprintf("You reached a %d-win streak.", st.CurrentStreak),
			})
		}
	}
}

func warnScoreMismatch(log logrus.FieldLogger, side string, reported, recorded *int) {
	if reported == nil || recorded == nil || *reported == *recorded {
		return
	}
	log.WithFields(logrus.Fields{
		"side":     side,
		"reported": *reported,
		"recorded": *recorded,
	}).Warn("reported score differs from recorded score")
}

func winnerScore(c domain.Challenge) int {
	out := c.Outcome()
	if c.WinnerID != nil && *c.WinnerID == c.HostID {
		return out.HostScore
	}
	return out.OpponentScore
}

func loserScore(c domain.Challenge) int {
	out := c.Outcome()
	if c.WinnerID != nil && *c.WinnerID == c.HostID {
		return out.OpponentScore
	}
	return out.HostScore
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
