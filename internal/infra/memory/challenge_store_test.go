package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"challenge-service/internal/domain"
)

func TestChallengeStoreConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewChallengeStore()
	now := time.Now().UTC()

	opp := "bob"
	c := domain.Challenge{ID: "c1", HostID: "alice", OpponentID: &opp, Status: domain.StatusPending, ExpiresAt: now.Add(time.Minute), Questions: make([]domain.Question, 3)}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := store.Get(ctx, "c1")
	second, _ := store.Get(ctx, "c1")

	if err := first.Accept("bob", now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	saved, err := store.Update(ctx, first, domain.StatusPending)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}

	if err := second.Decline("bob"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := store.Update(ctx, second, domain.StatusPending); !errors.Is(err, domain.ErrStaleWrite) {
		t.Fatalf("expected stale write, got %v", err)
	}

	got, _ := store.Get(ctx, "c1")
	if got.Status != domain.StatusInProgress || len(got.Questions) != 3 {
		t.Fatalf("expected accepted challenge with questions intact, got %+v", got)
	}
}

func TestChallengeStoreListings(t *testing.T) {
	ctx := context.Background()
	store := NewChallengeStore()
	now := time.Now().UTC()
	bob := "bob"

	_ = store.Create(ctx, domain.Challenge{ID: "fresh", HostID: "a", OpponentID: &bob, Status: domain.StatusPending, CreatedAt: now, ExpiresAt: now.Add(time.Minute)})
	_ = store.Create(ctx, domain.Challenge{ID: "stale", HostID: "a", OpponentID: &bob, Status: domain.StatusPending, CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(-time.Second)})
	_ = store.Create(ctx, domain.Challenge{ID: "done", HostID: "a", OpponentID: &bob, Status: domain.StatusCompleted, CreatedAt: now, ExpiresAt: now.Add(-time.Second)})

	incoming, _ := store.ListIncoming(ctx, "bob", now)
	if len(incoming) != 1 || incoming[0].ID != "fresh" {
		t.Fatalf("expected only fresh incoming, got %+v", incoming)
	}
	expired, _ := store.ListExpired(ctx, now)
	if len(expired) != 1 || expired[0].ID != "stale" {
		t.Fatalf("expected only stale expired, got %+v", expired)
	}
}

func TestChallengeStoreMissingStatsReadAsZero(t *testing.T) {
	store := NewChallengeStore()
	st, err := store.GetStats(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if st.UserID != "nobody" || st.CurrentStreak != 0 || st.TotalChallenges != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
