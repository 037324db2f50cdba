package domain

import (
	"strings"
	"time"
)

// OptionsPerQuestion is the fixed number of choices every question carries.
const OptionsPerQuestion = 4

// MaxDurationSeconds is the longest challenge tier; it escalates difficulty by one step.
const MaxDurationSeconds = 240

var questionCounts = map[int]int{
	30:  3,
	60:  5,
	120: 10,
	240: 15,
}

// QuestionCount maps a challenge duration to its fixed question count. Unknown durations get 5.
func QuestionCount(durationSeconds int) int {
	if n, ok := questionCounts[durationSeconds]; ok {
		return n
	}
	return 5
}

// ValidDuration reports whether the duration is one of the supported tiers.
func ValidDuration(durationSeconds int) bool {
	_, ok := questionCounts[durationSeconds]
	return ok
}

// DifficultyForStreak picks the question difficulty for a host's current streak.
func DifficultyForStreak(streak, durationSeconds int) Difficulty {
	var d Difficulty
	switch {
	case streak >= 20:
		d = DifficultyExpert
	case streak >= 10:
		d = DifficultyHard
	case streak >= 3:
		d = DifficultyMedium
	default:
		d = DifficultyEasy
	}
	if durationSeconds == MaxDurationSeconds {
		d = d.Escalate()
	}
	return d
}

// Escalate returns the next harder difficulty; expert stays expert.
func (d Difficulty) Escalate() Difficulty {
	switch d {
	case DifficultyEasy:
		return DifficultyMedium
	case DifficultyMedium:
		return DifficultyHard
	default:
		return DifficultyExpert
	}
}

// ParseDifficulty accepts a difficulty name in any case and reports whether it is known.
func ParseDifficulty(raw string) (Difficulty, bool) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(raw)))
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyExpert:
		return d, true
	}
	return "", false
}

// SanitizeQuestions coerces generated questions into the shape the quiz needs rather than
// rejecting them: missing options are padded, extra options dropped, and a missing or
// out-of-range answer index falls back to 0. Questions without text are skipped.
func SanitizeQuestions(raw []Question) []Question {
	out := make([]Question, 0, len(raw))
	for _, q := range raw {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			continue
		}
		options := make([]string, 0, OptionsPerQuestion)
		for _, opt := range q.Options {
			if len(options) == OptionsPerQuestion {
				break
			}
			options = append(options, strings.TrimSpace(opt))
		}
		for len(options) < OptionsPerQuestion {
			options = append(options, placeholderOption(len(options)))
		}
		answer := q.AnswerIndex
		if answer < 0 || answer >= OptionsPerQuestion {
			answer = 0
		}
		out = append(out, Question{
			Question:    text,
			Options:     options,
			AnswerIndex: answer,
			Explanation: strings.TrimSpace(q.Explanation),
		})
	}
	return out
}

func placeholderOption(i int) string {
	return "Option " + string(rune('A'+i))
}

// ScoreAnswers counts answers matching each question's answer index. Missing answers count as wrong.
func ScoreAnswers(questions []Question, answers []int) int {
	score := 0
	for i, q := range questions {
		if i < len(answers) && answers[i] == q.AnswerIndex {
			score++
		}
	}
	return score
}

// ApplyResult folds one finished challenge into a participant's stats. Only wins move the
// streak: a win after a gap of more than one calendar day starts a fresh streak of one, while
// losses and draws leave the current streak untouched whatever the gap.
func ApplyResult(stats UserChallengeStats, outcome Outcome, now time.Time) UserChallengeStats {
	today := calendarDay(now)
	stats.TotalChallenges++
	if !outcome.IsDraw && outcome.WinnerID != nil && *outcome.WinnerID == stats.UserID {
		if stats.LastChallengeDate != nil && daysBetween(calendarDay(*stats.LastChallengeDate), today) > 1 {
			stats.CurrentStreak = 0
		}
		stats.TotalWins++
		stats.CurrentStreak++
		if stats.CurrentStreak > stats.HighestStreak {
			stats.HighestStreak = stats.CurrentStreak
		}
	}
	stats.LastChallengeDate = &today
	return stats
}

func calendarDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
