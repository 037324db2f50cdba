package domain

// NotificationKind names a fire-and-forget user notification.
type NotificationKind string

const (
	KindChallengeWin      NotificationKind = "challenge_win"
	KindLeaderboardReward NotificationKind = "leaderboard_reward"
)

// Notification is delivered outside the synchronization path; failures never affect a challenge.
type Notification struct {
	UserID  string           `json:"userId"`
	Kind    NotificationKind `json:"kind"`
	Subject string           `json:"subject"`
	Body    string           `json:"body"`
}
