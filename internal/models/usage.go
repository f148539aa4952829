package models

import "time"

// CategoryUsage is the per-chat recency record for one category. Weight is
// derived from it by the selector; categories inside the cool-down window are
// excluded from selection entirely.
type CategoryUsage struct {
	ChatID       int64     `db:"chat_id" json:"chat_id"`
	CategoryName string    `db:"category_name" json:"category_name"`
	LastUsedAt   time.Time `db:"last_used_at" json:"last_used_at"`
	UsageCount   int       `db:"usage_count" json:"usage_count"`
}
