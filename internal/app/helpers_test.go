package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"challenge-service/internal/app"
	"challenge-service/internal/domain"
	"challenge-service/internal/infra/memory"
	"challenge-service/internal/questions"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingGenerator struct {
	app.QuestionGenerator
	mu    sync.Mutex
	calls int
}

func (g *countingGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.QuestionSet, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.QuestionGenerator.Generate(ctx, req)
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Dispatch(_ context.Context, msg domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) Sent() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.sent...)
}

// flakyStore fails the first completion write with a transient error.
type flakyStore struct {
	*memory.ChallengeStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Complete(ctx context.Context, c domain.Challenge, now time.Time) (domain.Challenge, []domain.UserChallengeStats, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return domain.Challenge{}, nil, errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return s.ChallengeStore.Complete(ctx, c, now)
}

type harness struct {
	service   *app.ChallengeService
	store     *memory.ChallengeStore
	bus       *memory.EventBus
	clock     *fakeClock
	generator *countingGenerator
	notifier  *recordingNotifier
}

func newHarness(t *testing.T, mutate ...func(*app.Options)) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewChallengeStore(),
		bus:      memory.NewEventBus(),
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
	}
	banks := memory.NewBankRepository(memory.NewStaticBankLoader(sampleBanks()...), time.Minute)
	h.generator = &countingGenerator{QuestionGenerator: questions.NewBankGenerator(banks, quietLogger())}

	opts := app.Options{
		StartGrace:               0,
		ReconcileInitialInterval: 5 * time.Millisecond,
		ReconcileMaxInterval:     20 * time.Millisecond,
		ReconcileMaxElapsed:      2 * time.Second,
		MilestoneEvery:           5,
		Clock:                    h.clock.Now,
		Notifier:                 h.notifier,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.service = app.NewChallengeService(h.store, h.store, h.bus, h.generator, opts)
	return h
}

func newHarnessWithRepo(t *testing.T, repo app.ChallengeRepository, store *memory.ChallengeStore) *harness {
	t.Helper()
	h := newHarness(t)
	h.store = store
	h.service = app.NewChallengeService(repo, store, h.bus, h.generator, app.Options{
		ReconcileInitialInterval: 5 * time.Millisecond,
		ReconcileMaxInterval:     20 * time.Millisecond,
		ReconcileMaxElapsed:      2 * time.Second,
		Clock:                    h.clock.Now,
		Notifier:                 h.notifier,
	})
	return h
}

func sampleBanks() []domain.QuestionBank {
	var banks []domain.QuestionBank
	for _, d := range []domain.Difficulty{domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard, domain.DifficultyExpert} {
		qs := make([]domain.Question, 0, 20)
		for i := 0; i < 20; i++ {
			qs = append(qs, domain.Question{
				Question:    fmt.Sprintf("%s question %d", d, i),
				Options:     []string{"a", "b", "c", "d"},
				AnswerIndex: i % 4,
			})
		}
		banks = append(banks, domain.QuestionBank{Subject: "Science", Difficulty: d, Questions: qs})
	}
	return banks
}

// startedChallenge creates, accepts and readies a challenge between alice and bob.
func (h *harness) startedChallenge(t *testing.T, duration int) domain.Challenge {
	t.Helper()
	ctx := context.Background()
	c, err := h.service.Create(ctx, app.CreateRequest{HostID: "alice", OpponentID: "bob", Subject: "Science", DurationSeconds: duration})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.service.Accept(ctx, c.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := h.service.MarkReady(ctx, c.ID, "alice"); err != nil {
		t.Fatalf("host ready: %v", err)
	}
	started, err := h.service.MarkReady(ctx, c.ID, "bob")
	if err != nil {
		t.Fatalf("opponent ready: %v", err)
	}
	if started.StartedAt == nil {
		t.Fatalf("expected started challenge, got %+v", started)
	}
	return started
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}
