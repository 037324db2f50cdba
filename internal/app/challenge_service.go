package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"challenge-service/internal/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ChallengeRepository abstracts the shared challenge record store (in-memory, Postgres).
type ChallengeRepository interface {
	Create(ctx context.Context, c domain.Challenge) error
	Get(ctx context.Context, id string) (domain.Challenge, error)
	// Update stores c only if the persisted row still has status expect and version c.Version.
	// It returns the stored row with its version bumped, or domain.ErrStaleWrite.
	Update(ctx context.Context, c domain.Challenge, expect domain.Status) (domain.Challenge, error)
	// Complete stores a completed challenge under the same condition as Update (expecting
	// in_progress) and folds the outcome into every participant's stats in the same write.
	Complete(ctx context.Context, c domain.Challenge, now time.Time) (domain.Challenge, []domain.UserChallengeStats, error)
	ListIncoming(ctx context.Context, opponentID string, now time.Time) ([]domain.Challenge, error)
	ListExpired(ctx context.Context, now time.Time) ([]domain.Challenge, error)
}

// StatsRepository reads per-user challenge stats. Missing users read as zero stats.
type StatsRepository interface {
	GetStats(ctx context.Context, userID string) (domain.UserChallengeStats, error)
}

// EventBus is the change notification channel for challenge rows.
type EventBus interface {
	Publish(ctx context.Context, ev domain.ChallengeEvent) error
	// Subscribe returns a channel of matching events. The caller must invoke the returned
	// cancel function to avoid leaks.
	Subscribe(ctx context.Context, filter domain.EventFilter) (<-chan domain.ChallengeEvent, func(), error)
}

// QuestionGenerator produces the immutable question set of a new challenge.
type QuestionGenerator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.QuestionSet, error)
}

// Notifier dispatches fire-and-forget user notifications.
type Notifier interface {
	Dispatch(ctx context.Context, n domain.Notification)
}

// Recorder receives service metrics.
type Recorder interface {
	Transition(op string, to domain.Status)
	Reconciled(result string, took time.Duration)
	ReconcileRetried()
	Expired(n int)
}

// Options tunes timeouts and collaborators. Zero values fall back to defaults.
type Options struct {
	PendingTimeout time.Duration
	ReadyTimeout   time.Duration
	StartGrace     time.Duration
	WriteRetries   int

	ReconcileInitialInterval time.Duration
	ReconcileMaxInterval     time.Duration
	ReconcileMaxElapsed      time.Duration

	// MilestoneEvery sends a leaderboard reward notification when a win sets a new highest
	// streak that is a multiple of this value. Zero disables it.
	MilestoneEvery int

	Clock    func() time.Time
	Logger   logrus.FieldLogger
	Notifier Notifier
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.PendingTimeout <= 0 {
		o.PendingTimeout = 30 * time.Second
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 120 * time.Second
	}
	if o.StartGrace < 0 {
		o.StartGrace = 0
	}
	if o.WriteRetries <= 0 {
		o.WriteRetries = 3
	}
	if o.ReconcileInitialInterval <= 0 {
		o.ReconcileInitialInterval = 250 * time.Millisecond
	}
	if o.ReconcileMaxInterval <= 0 {
		o.ReconcileMaxInterval = 5 * time.Second
	}
	if o.ReconcileMaxElapsed <= 0 {
		o.ReconcileMaxElapsed = time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		o.Logger = discard
	}
	if o.Notifier == nil {
		o.Notifier = noopNotifier{}
	}
	if o.Recorder == nil {
		o.Recorder = noopRecorder{}
	}
	return o
}

// ChallengeService contains the challenge use cases: lifecycle transitions, the readiness
// handshake, completion reporting and result reconciliation.
type ChallengeService struct {
	challenges ChallengeRepository
	stats      StatsRepository
	events     EventBus
	generator  QuestionGenerator
	opts       Options
	log        logrus.FieldLogger

	inflight singleflight.Group
}

func NewChallengeService(challenges ChallengeRepository, stats StatsRepository, events EventBus, generator QuestionGenerator, opts Options) *ChallengeService {
	opts = opts.withDefaults()
	return &ChallengeService{
		challenges: challenges,
		stats:      stats,
		events:     events,
		generator:  generator,
		opts:       opts,
		log:        opts.Logger,
	}
}

// CreateRequest describes a new challenge. An empty OpponentID makes an open challenge any
// other user may accept.
type CreateRequest struct {
	HostID          string
	OpponentID      string
	Subject         string
	DurationSeconds int
}

// Create generates the question set once and stores a pending challenge.
func (s *ChallengeService) Create(ctx context.Context, req CreateRequest) (domain.Challenge, error) {
	if err := validateCreate(req); err != nil {
		return domain.Challenge{}, err
	}

	hostStats, err := s.stats.GetStats(ctx, req.HostID)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("load host stats: %w", err)
	}

	set, err := s.generator.Generate(ctx, domain.GenerateRequest{
		Subject:         req.Subject,
		DurationSeconds: req.DurationSeconds,
		HostStreak:      hostStats.CurrentStreak,
	})
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("generate questions: %w", err)
	}
	if len(set.Questions) == 0 {
		return domain.Challenge{}, domain.ErrNoQuestions
	}

	now := s.now()
	c := domain.Challenge{
		ID:              uuid.NewString(),
		HostID:          req.HostID,
		Subject:         strings.TrimSpace(req.Subject),
		DurationSeconds: req.DurationSeconds,
		Difficulty:      set.Difficulty,
		Questions:       set.Questions,
		Status:          domain.StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.opts.PendingTimeout),
		Version:         1,
	}
	if req.OpponentID != "" {
		opponent := req.OpponentID
		c.OpponentID = &opponent
	}

	if err := s.challenges.Create(ctx, c); err != nil {
		return domain.Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	s.opts.Recorder.Transition("create", c.Status)
	s.log.WithFields(logrus.Fields{
		"challenge_id": c.ID,
		"host_id":      c.HostID,
		"difficulty":   c.Difficulty,
		"questions":    len(c.Questions),
	}).Info("challenge created")
	s.publish(ctx, domain.EventInsert, c)
	return c, nil
}

func validateCreate(req CreateRequest) error {
	var fields []domain.FieldError
	if strings.TrimSpace(req.HostID) == "" {
		fields = append(fields, domain.FieldError{Field: "hostId", Error: "this field is required"})
	}
	if strings.TrimSpace(req.Subject) == "" {
		fields = append(fields, domain.FieldError{Field: "subject", Error: "this field is required"})
	}
	if req.DurationSeconds <= 0 {
		fields = append(fields, domain.FieldError{Field: "durationSeconds", Error: "must be positive"})
	}
	if len(fields) > 0 {
		return domain.NewValidationError(errors.New("invalid challenge request"), fields...)
	}
	if req.OpponentID != "" && req.OpponentID == req.HostID {
		return domain.ErrSelfChallenge
	}
	return nil
}

// Get returns the full challenge record, questions included.
func (s *ChallengeService) Get(ctx context.Context, id string) (domain.Challenge, error) {
	return s.challenges.Get(ctx, id)
}

// ListIncoming returns the pending, unexpired challenges addressed to a user.
func (s *ChallengeService) ListIncoming(ctx context.Context, opponentID string) ([]domain.Challenge, error) {
	return s.challenges.ListIncoming(ctx, opponentID, s.now())
}

// Stats returns a user's challenge stats.
func (s *ChallengeService) Stats(ctx context.Context, userID string) (domain.UserChallengeStats, error) {
	return s.stats.GetStats(ctx, userID)
}

// Subscribe exposes the change notification channel.
func (s *ChallengeService) Subscribe(ctx context.Context, filter domain.EventFilter) (<-chan domain.ChallengeEvent, func(), error) {
	return s.events.Subscribe(ctx, filter)
}

// Accept moves a pending challenge to in_progress. A challenge found past its deadline is
// expired on the spot and the accept is rejected.
func (s *ChallengeService) Accept(ctx context.Context, id, userID string) (domain.Challenge, error) {
	current, err := s.challenges.Get(ctx, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	if current.ExpiredAt(s.now()) {
		if _, err := s.expire(ctx, id); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return domain.Challenge{}, err
		}
		return domain.Challenge{}, fmt.Errorf("challenge %s expired: %w", id, domain.ErrInvalidTransition)
	}
	return s.mutate(ctx, "accept", id, func(c *domain.Challenge, now time.Time) (bool, error) {
		return true, c.Accept(userID, now)
	})
}

// Decline closes a pending challenge on behalf of its opponent.
func (s *ChallengeService) Decline(ctx context.Context, id, userID string) (domain.Challenge, error) {
	return s.mutate(ctx, "decline", id, func(c *domain.Challenge, _ time.Time) (bool, error) {
		return true, c.Decline(userID)
	})
}

// Cancel closes a pending challenge on behalf of its host.
func (s *ChallengeService) Cancel(ctx context.Context, id, userID string) (domain.Challenge, error) {
	return s.mutate(ctx, "cancel", id, func(c *domain.Challenge, _ time.Time) (bool, error) {
		return true, c.Cancel(userID)
	})
}

// MarkReady records a readiness acknowledgement. The second one starts the quiz.
func (s *ChallengeService) MarkReady(ctx context.Context, id, userID string) (domain.Challenge, error) {
	return s.mutate(ctx, "ready", id, func(c *domain.Challenge, now time.Time) (bool, error) {
		return c.MarkReady(userID, now)
	})
}

// Finish writes the caller's score and finished flag. When both sides have finished the
// result is reconciled right away; a failed attempt is retried in the background.
func (s *ChallengeService) Finish(ctx context.Context, id, userID string, score int) (domain.Challenge, error) {
	saved, err := s.mutate(ctx, "finish", id, func(c *domain.Challenge, _ time.Time) (bool, error) {
		return true, c.Finish(userID, score)
	})
	if err != nil || !saved.BothFinished() {
		return saved, err
	}

	completed, err := s.Reconcile(ctx, ReconcileRequest{ChallengeID: id})
	if err != nil {
		s.log.WithError(err).WithField("challenge_id", id).Warn("reconcile after finish failed, retrying in background")
		go func() {
			if _, err := s.reconcileWithBackoff(context.WithoutCancel(ctx), id); err != nil {
				s.log.WithError(err).WithField("challenge_id", id).Error("background reconcile gave up")
			}
		}()
		return saved, nil
	}
	return completed, nil
}

// ExpireStale expires every pending challenge past its acceptance deadline and reports how
// many it closed.
func (s *ChallengeService) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.challenges.ListExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	expired := 0
	for _, c := range stale {
		if _, err := s.expire(ctx, c.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotExpired) {
				continue
			}
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.opts.Recorder.Expired(expired)
		s.log.WithField("count", expired).Info("expired stale challenges")
	}
	return expired, nil
}

func (s *ChallengeService) expire(ctx context.Context, id string) (domain.Challenge, error) {
	return s.mutate(ctx, "expire", id, func(c *domain.Challenge, now time.Time) (bool, error) {
		return true, c.Expire(now)
	})
}

// mutate runs a read-modify-write against the record. The write is conditioned on the status
// and version that were read; on a lost race the transition is re-evaluated against the fresh
// row, so a stale transition fails its own guard instead of overwriting.
func (s *ChallengeService) mutate(ctx context.Context, op, id string, apply func(c *domain.Challenge, now time.Time) (bool, error)) (domain.Challenge, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.challenges.Get(ctx, id)
		if err != nil {
			return domain.Challenge{}, err
		}
		next := current
		changed, err := apply(&next, s.now())
		if err != nil {
			return current, err
		}
		if !changed {
			return current, nil
		}

		saved, err := s.challenges.Update(ctx, next, current.Status)
		if errors.Is(err, domain.ErrStaleWrite) && attempt < s.opts.WriteRetries {
			s.log.WithFields(logrus.Fields{"challenge_id": id, "op": op, "attempt": attempt + 1}).Debug("stale write, re-reading")
			continue
		}
		if err != nil {
			return domain.Challenge{}, err
		}

		s.opts.Recorder.Transition(op, saved.Status)
		s.log.WithFields(logrus.Fields{
			"challenge_id": id,
			"op":           op,
			"status":       saved.Status,
			"version":      saved.Version,
		}).Info("challenge updated")
		s.publish(ctx, domain.EventUpdate, saved)
		return saved, nil
	}
}

func (s *ChallengeService) publish(ctx context.Context, typ domain.EventType, c domain.Challenge) {
	if err := s.events.Publish(ctx, domain.ChallengeEvent{Type: typ, Challenge: c.Summary()}); err != nil {
		s.log.WithError(err).WithField("challenge_id", c.ID).Warn("publish challenge event")
	}
}

func (s *ChallengeService) now() time.Time {
	return s.opts.Clock().UTC()
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(context.Context, domain.Notification) {}

type noopRecorder struct{}

func (noopRecorder) Transition(string, domain.Status) {}
func (noopRecorder) Reconciled(string, time.Duration) {}
func (noopRecorder) ReconcileRetried()                {}
func (noopRecorder) Expired(int)                      {}
