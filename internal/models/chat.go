package models

import "time"

// QuizTime is one daily fire slot, interpreted in Moscow time.
type QuizTime struct {
	Hour   int `db:"hour" json:"hour"`
	Minute int `db:"minute" json:"minute"`
}

// ChatSubscription is the daily-quiz schedule for one chat. Owned exclusively
// by the scheduler; mutated only through its update API.
type ChatSubscription struct {
	ChatID          int64      `db:"chat_id" json:"chat_id"`
	Enabled         bool       `db:"enabled" json:"enabled"`
	TimesMSK        []QuizTime `db:"-" json:"times_msk"`
	NumQuestions    int        `db:"num_questions" json:"num_questions"`
	IntervalSeconds int        `db:"interval_seconds" json:"interval_seconds"`
	PollOpenSeconds int        `db:"poll_open_seconds" json:"poll_open_seconds"`
}

// Subscription defaults, matching the original bot configuration.
const (
	DefaultNumQuestions    = 10
	DefaultIntervalSeconds = 60
	DefaultPollOpenSeconds = 600
)

// Chat is the admin-facing chat summary: subscription state joined with
// aggregate activity (computed fields filled by list queries).
type Chat struct {
	ID      int64  `db:"id" json:"id"`
	Title   string `db:"title" json:"title"`
	IsGroup bool   `db:"is_group" json:"is_group"`

	Subscription *ChatSubscription `db:"-" json:"subscription,omitempty"`

	UserCount    int        `db:"user_count" json:"user_count"`
	TotalScore   float64    `db:"total_score" json:"total_score"`
	LastActivity *time.Time `db:"last_activity" json:"last_activity,omitempty"`
}

// QuizRun statuses.
const (
	RunStatusPending   = "pending"
	RunStatusDelivered = "delivered"
	RunStatusFailed    = "failed"
)

// QuizRun is one scheduled or ad-hoc batch of questions for a chat.
type QuizRun struct {
	ID         string     `json:"id"`
	ChatID     int64      `json:"chat_id"`
	Categories []string   `json:"categories"`
	Questions  []Question `json:"questions"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
}

// FireMarker records the last calendar day (YYYY-MM-DD, Moscow time) a
// (chat, slot) pair fired. Durable so a restart within the same day does not
// fire the slot twice.
type FireMarker struct {
	ChatID   int64  `db:"chat_id"`
	Slot     string `db:"slot"` // "HH:MM"
	FiredDay string `db:"fired_day"`
}
