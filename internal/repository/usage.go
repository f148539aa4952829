package repository

import (
	"time"

	"backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// UsageRepository persists per-chat category recency. CommitUsage is the only
// writer the selector uses and applies all rows of one selection atomically.
type UsageRepository interface {
	GetUsage(chatID int64) (map[string]models.CategoryUsage, error)
	CommitUsage(chatID int64, categories []string, usedAt time.Time) error
	ResetChatUsage(chatID int64) error
}

type usageRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewUsageRepository(db *sqlx.DB, logger *zap.Logger) UsageRepository {
	return &usageRepository{db: db, logger: logger}
}

func (r *usageRepository) GetUsage(chatID int64) (map[string]models.CategoryUsage, error) {
	var rows []models.CategoryUsage
	query := `SELECT chat_id, category_name, last_used_at, usage_count FROM category_usage WHERE chat_id = $1`
	if err := r.db.Select(&rows, query, chatID); err != nil {
		return nil, err
	}
	usage := make(map[string]models.CategoryUsage, len(rows))
	for _, u := range rows {
		usage[u.CategoryName] = u
	}
	return usage, nil
}

func (r *usageRepository) CommitUsage(chatID int64, categories []string, usedAt time.Time) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, name := range categories {
		_, err := tx.Exec(`
			INSERT INTO category_usage (chat_id, category_name, last_used_at, usage_count)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (chat_id, category_name)
			DO UPDATE SET last_used_at = EXCLUDED.last_used_at, usage_count = category_usage.usage_count + 1`,
			chatID, name, usedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *usageRepository) ResetChatUsage(chatID int64) error {
	_, err := r.db.Exec(`DELETE FROM category_usage WHERE chat_id = $1`, chatID)
	return err
}
