package domain

import (
	"fmt"
	"time"
)

// Role identifies which side of a challenge a user plays.
type Role string

const (
	RoleHost     Role = "host"
	RoleOpponent Role = "opponent"
)

// RoleOf returns the caller's side of the challenge.
func (c *Challenge) RoleOf(userID string) (Role, bool) {
	if userID == "" {
		return "", false
	}
	if c.HostID == userID {
		return RoleHost, true
	}
	if c.OpponentID != nil && *c.OpponentID == userID {
		return RoleOpponent, true
	}
	return "", false
}

// Phase derives the handshake phase from the persisted fields.
func (c *Challenge) Phase() Phase {
	switch c.Status {
	case StatusPending:
		return PhaseProposed
	case StatusInProgress:
		if c.StartedAt != nil {
			return PhaseRunning
		}
		return PhaseAccepted
	case StatusCompleted:
		return PhaseCompleted
	case StatusDeclined:
		return PhaseDeclined
	case StatusExpired:
		return PhaseExpired
	default:
		return PhaseCancelled
	}
}

func (c *Challenge) BothReady() bool {
	return c.HostReadyAt != nil && c.OpponentReadyAt != nil
}

func (c *Challenge) BothFinished() bool {
	return isTrue(c.HostFinished) && isTrue(c.OpponentFinished)
}

// ExpiredAt reports whether a pending challenge is past its acceptance deadline.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return c.Status == StatusPending && !now.Before(c.ExpiresAt)
}

// Outcome returns the stored outcome of a completed challenge.
func (c *Challenge) Outcome() Outcome {
	return Outcome{
		WinnerID:      c.WinnerID,
		IsDraw:        c.IsDraw,
		HostScore:     intValue(c.HostScore),
		OpponentScore: intValue(c.OpponentScore),
	}
}

// Accept moves a pending challenge to in_progress on behalf of the opponent. Open challenges
// (no opponent yet) bind the accepting user as opponent.
func (c *Challenge) Accept(userID string, now time.Time) error {
	if c.Status != StatusPending {
		return fmt.Errorf("accept from %s: %w", c.Status, ErrInvalidTransition)
	}
	if userID == c.HostID {
		return ErrSelfChallenge
	}
	if c.OpponentID != nil && *c.OpponentID != userID {
		return ErrNotParticipant
	}
	if c.ExpiredAt(now) {
		return fmt.Errorf("accept after deadline: %w", ErrInvalidTransition)
	}
	c.OpponentID = &userID
	c.Status = StatusInProgress
	c.AcceptedAt = &now
	return nil
}

// Decline closes a pending challenge on behalf of the opponent.
func (c *Challenge) Decline(userID string) error {
	if c.Status != StatusPending {
		return fmt.Errorf("decline from %s: %w", c.Status, ErrInvalidTransition)
	}
	if c.OpponentID == nil || *c.OpponentID != userID {
		return ErrNotParticipant
	}
	c.Status = StatusDeclined
	return nil
}

// Cancel closes a pending challenge on behalf of the host.
func (c *Challenge) Cancel(userID string) error {
	if c.Status != StatusPending {
		return fmt.Errorf("cancel from %s: %w", c.Status, ErrInvalidTransition)
	}
	if c.HostID != userID {
		return ErrNotParticipant
	}
	c.Status = StatusCancelled
	return nil
}

// Expire closes a pending challenge whose acceptance deadline passed.
func (c *Challenge) Expire(now time.Time) error {
	if c.Status != StatusPending {
		return fmt.Errorf("expire from %s: %w", c.Status, ErrInvalidTransition)
	}
	if !c.ExpiredAt(now) {
		return ErrNotExpired
	}
	c.Status = StatusExpired
	return nil
}

// MarkReady records the caller's readiness acknowledgement. The second acknowledgement sets
// StartedAt, which is never rewritten afterwards. Repeated acknowledgements are no-ops and
// report changed=false.
func (c *Challenge) MarkReady(userID string, now time.Time) (bool, error) {
	if c.Status != StatusInProgress {
		return false, fmt.Errorf("ready in %s: %w", c.Status, ErrInvalidTransition)
	}
	role, ok := c.RoleOf(userID)
	if !ok {
		return false, ErrNotParticipant
	}
	changed := false
	switch role {
	case RoleHost:
		if c.HostReadyAt == nil {
			c.HostReadyAt = &now
			changed = true
		}
	case RoleOpponent:
		if c.OpponentReadyAt == nil {
			c.OpponentReadyAt = &now
			changed = true
		}
	}
	if c.BothReady() && c.StartedAt == nil {
		c.StartedAt = &now
		changed = true
	}
	return changed, nil
}

// Finish records the caller's own score and finished flag.
func (c *Challenge) Finish(userID string, score int) error {
	if c.Status != StatusInProgress {
		return fmt.Errorf("finish in %s: %w", c.Status, ErrInvalidTransition)
	}
	role, ok := c.RoleOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if c.StartedAt == nil {
		return ErrNotStarted
	}
	if score < 0 || score > len(c.Questions) {
		return fmt.Errorf("score %d of %d: %w", score, len(c.Questions), ErrInvalidScore)
	}
	done := true
	switch role {
	case RoleHost:
		if isTrue(c.HostFinished) {
			return ErrAlreadyFinished
		}
		c.HostScore = &score
		c.HostFinished = &done
	case RoleOpponent:
		if isTrue(c.OpponentFinished) {
			return ErrAlreadyFinished
		}
		c.OpponentScore = &score
		c.OpponentFinished = &done
	}
	return nil
}

// Complete writes the outcome. It is only legal once, after both sides finished.
func (c *Challenge) Complete(outcome Outcome, now time.Time) error {
	if c.Status != StatusInProgress {
		return fmt.Errorf("complete from %s: %w", c.Status, ErrInvalidTransition)
	}
	if !c.BothFinished() {
		return ErrNotFinished
	}
	hostScore, opponentScore := outcome.HostScore, outcome.OpponentScore
	c.HostScore = &hostScore
	c.OpponentScore = &opponentScore
	c.WinnerID = outcome.WinnerID
	c.IsDraw = outcome.IsDraw
	c.Status = StatusCompleted
	c.CompletedAt = &now
	return nil
}

// DecideOutcome compares the two recorded scores. Equal scores, including 0 == 0, are a draw.
func DecideOutcome(c Challenge) Outcome {
	out := Outcome{
		HostScore:     intValue(c.HostScore),
		OpponentScore: intValue(c.OpponentScore),
	}
	switch {
	case out.HostScore > out.OpponentScore:
		winner := c.HostID
		out.WinnerID = &winner
	case out.OpponentScore > out.HostScore && c.OpponentID != nil:
		winner := *c.OpponentID
		out.WinnerID = &winner
	default:
		out.IsDraw = true
	}
	return out
}

// Participants returns the host and, when bound, the opponent.
func (c *Challenge) Participants() []string {
	ids := []string{c.HostID}
	if c.OpponentID != nil {
		ids = append(ids, *c.OpponentID)
	}
	return ids
}

// Summary returns a copy suitable for change notifications.
func (c Challenge) Summary() Challenge {
	c.Questions = nil
	return c
}

func isTrue(b *bool) bool { return b != nil && *b }

func intValue(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
