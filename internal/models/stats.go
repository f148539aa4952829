package models

import "time"

// UserStat is the per-(user, chat) score and streak state. Mutated only by
// the stats aggregator on answer ingestion.
type UserStat struct {
	UserID   int64  `db:"user_id" json:"user_id"`
	ChatID   int64  `db:"chat_id" json:"chat_id"`
	Name     string `db:"name" json:"name,omitempty"`

	Score                 float64    `db:"score" json:"score"`
	AnsweredCount         int        `db:"answered_count" json:"answered_count"`
	ConsecutiveCorrect    int        `db:"consecutive_correct" json:"consecutive_correct"`
	MaxConsecutiveCorrect int        `db:"max_consecutive_correct" json:"max_consecutive_correct"`
	LastAnswerAt          *time.Time `db:"last_answer_at" json:"last_answer_at,omitempty"`
}

// AnswerEvent is the single event type the aggregator ingests. EventID makes
// re-ingestion idempotent: callers that retry must reuse the id.
type AnswerEvent struct {
	EventID       string    `json:"event_id"`
	UserID        int64     `json:"user_id"`
	ChatID        int64     `json:"chat_id"`
	UserName      string    `json:"user_name,omitempty"`
	IsCorrect     bool      `json:"is_correct"`
	PointsAwarded float64   `json:"points_awarded"`
	Timestamp     time.Time `json:"timestamp"`
}

// Achievement kinds.
const (
	AchievementStreak       = "streak"
	AchievementChat         = "chat"
	AchievementMotivational = "motivational"
	AchievementOther        = "other"
)

// AchievementIcon returns the badge icon for an achievement kind.
func AchievementIcon(kind string) string {
	switch kind {
	case AchievementStreak:
		return "🔥"
	case AchievementChat:
		return "🏆"
	case AchievementMotivational:
		return "⭐"
	}
	return "🎖️"
}

// Achievement is a permanent badge. Created once per qualifying event,
// deduplicated by (user, rule id, chat); never mutated or deleted, and a
// stats reset does not remove it.
type Achievement struct {
	UserID      int64     `db:"user_id" json:"-"`
	ChatID      int64     `db:"chat_id" json:"-"`
	RuleID      string    `db:"rule_id" json:"-"`
	Type        string    `db:"type" json:"type"`
	Icon        string    `db:"icon" json:"icon"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	ChatTitle   *string   `db:"chat_title" json:"chat_title"`
	EarnedAt    time.Time `db:"earned_at" json:"earned_at"`
}

// UserSummary aggregates a user's stats across all chats for admin views.
type UserSummary struct {
	UserID        int64         `json:"user_id"`
	Name          string        `json:"name,omitempty"`
	TotalScore    float64       `json:"total_score"`
	TotalAnswered int           `json:"total_answered"`
	MaxStreak     int           `json:"max_streak"`
	ChatCount     int           `json:"chat_count"`
	Banned        bool          `json:"banned"`
	Achievements  []Achievement `json:"achievements,omitempty"`
}
