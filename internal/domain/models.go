package domain

import (
	"strings"
	"time"
)

// Status is the persisted lifecycle status of a challenge.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDeclined   Status = "declined"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition may leave this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Phase is the handshake view of a challenge derived from its status and readiness fields.
type Phase string

const (
	PhaseProposed  Phase = "proposed"
	PhaseAccepted  Phase = "accepted"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseDeclined  Phase = "declined"
	PhaseExpired   Phase = "expired"
	PhaseCancelled Phase = "cancelled"
)

// Difficulty of a generated question set.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// Question is a single multiple-choice item. Options always has OptionsPerQuestion entries
// once sanitized.
type Question struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answerIndex"`
	Explanation string   `json:"explanation,omitempty"`
}

// GenerateRequest asks the question generator for a challenge's question set.
type GenerateRequest struct {
	Subject         string `json:"subject"`
	DurationSeconds int    `json:"durationSeconds"`
	HostStreak      int    `json:"hostStreak"`
}

// QuestionSet is the generator's answer.
type QuestionSet struct {
	Questions     []Question `json:"questions"`
	Difficulty    Difficulty `json:"difficulty"`
	QuestionCount int        `json:"questionCount"`
}

// Challenge is the shared record both participants and the reconciler mutate.
type Challenge struct {
	ID              string     `json:"id"`
	HostID          string     `json:"hostId"`
	OpponentID      *string    `json:"opponentId"`
	Subject         string     `json:"subject"`
	DurationSeconds int        `json:"durationSeconds"`
	Difficulty      Difficulty `json:"difficulty"`
	Questions       []Question `json:"questions,omitempty"`

	Status Status `json:"status"`

	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	AcceptedAt      *time.Time `json:"acceptedAt,omitempty"`
	HostReadyAt     *time.Time `json:"hostReadyAt,omitempty"`
	OpponentReadyAt *time.Time `json:"opponentReadyAt,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`

	HostFinished     *bool `json:"hostFinished"`
	OpponentFinished *bool `json:"opponentFinished"`
	HostScore        *int  `json:"hostScore"`
	OpponentScore    *int  `json:"opponentScore"`

	WinnerID *string `json:"winnerId"`
	IsDraw   bool    `json:"isDraw"`

	// Version increments on every successful write and guards compare-and-swap updates.
	Version int64 `json:"version"`
}

// UserChallengeStats tracks a user's challenge record. Only the reconciler mutates it.
type UserChallengeStats struct {
	UserID            string     `json:"userId"`
	CurrentStreak     int        `json:"currentStreak"`
	HighestStreak     int        `json:"highestStreak"`
	TotalWins         int        `json:"totalWins"`
	TotalChallenges   int        `json:"totalChallenges"`
	LastChallengeDate *time.Time `json:"lastChallengeDate,omitempty"`
}

// Outcome is the reconciled result of a challenge.
type Outcome struct {
	WinnerID      *string `json:"winnerId"`
	IsDraw        bool    `json:"isDraw"`
	HostScore     int     `json:"hostScore"`
	OpponentScore int     `json:"opponentScore"`
}

// EventType mirrors the row-level change kinds clients react to.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// ChallengeEvent is a change notification for a single challenge row. Questions are never
// carried; subscribers fetch them once via Get.
type ChallengeEvent struct {
	Type      EventType `json:"type"`
	Challenge Challenge `json:"challenge"`
}

// EventFilter selects the events a subscriber receives. Exactly one field should be set.
type EventFilter struct {
	ChallengeID string
	OpponentID  string
}

// Matches reports whether the event passes the filter.
func (f EventFilter) Matches(ev ChallengeEvent) bool {
	if f.ChallengeID != "" && ev.Challenge.ID != f.ChallengeID {
		return false
	}
	if f.OpponentID != "" {
		if ev.Challenge.OpponentID == nil || *ev.Challenge.OpponentID != f.OpponentID {
			return false
		}
	}
	return true
}

// QuestionBank is a pool of vetted questions for one subject at one difficulty.
type QuestionBank struct {
	Subject    string     `json:"subject"`
	Difficulty Difficulty `json:"difficulty"`
	Questions  []Question `json:"questions"`
}

// BankKey normalizes a subject/difficulty pair into a cache key.
func BankKey(subject string, difficulty Difficulty) string {
	return strings.ToLower(strings.TrimSpace(subject)) + ":" + string(difficulty)
}
