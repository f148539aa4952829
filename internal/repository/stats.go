package repository

import (
	"database/sql"
	"errors"
	"time"

	"backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// StatsRepository owns per-(user, chat) score rows, the achievement log and
// the processed-event set that makes answer ingestion idempotent.
//
// Reset operations zero the counters but keep identity rows and achievement
// history: achievements are permanent badges, not reversible by a reset.
type StatsRepository interface {
	GetUserStat(userID, chatID int64) (*models.UserStat, error)
	SaveUserStat(stat *models.UserStat) error
	ListChatStats(chatID int64) ([]models.UserStat, error)
	ListUserStats(userID int64) ([]models.UserStat, error)
	ListAllStats() ([]models.UserStat, error)

	ResetUserStats(userID int64) error
	ResetChatStats(chatID int64) error
	// DeleteUser is a hard delete across all chats, achievements included.
	DeleteUser(userID int64) error
	DeleteChatStats(chatID int64) error

	HasEvent(eventID string) (bool, error)
	RecordEvent(eventID string, processedAt time.Time) error
	// CountEventsByDay buckets processed answer events by calendar day
	// (YYYY-MM-DD, UTC) from since onward.
	CountEventsByDay(since time.Time) (map[string]int, error)

	// AddAchievement records a badge unless the (user, rule, chat) triple is
	// already present; reports whether a new row was written.
	AddAchievement(a *models.Achievement) (bool, error)
	ListAchievements(userID int64) ([]models.Achievement, error)
}

type statsRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewStatsRepository(db *sqlx.DB, logger *zap.Logger) StatsRepository {
	return &statsRepository{db: db, logger: logger}
}

const userStatColumns = `user_id, chat_id, name, score, answered_count, consecutive_correct, max_consecutive_correct, last_answer_at`

func (r *statsRepository) GetUserStat(userID, chatID int64) (*models.UserStat, error) {
	var stat models.UserStat
	query := `SELECT ` + userStatColumns + ` FROM user_stats WHERE user_id = $1 AND chat_id = $2`
	err := r.db.Get(&stat, query, userID, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stat, nil
}

func (r *statsRepository) SaveUserStat(stat *models.UserStat) error {
	_, err := r.db.Exec(`
		INSERT INTO user_stats (user_id, chat_id, name, score, answered_count, consecutive_correct, max_consecutive_correct, last_answer_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET
			name = EXCLUDED.name,
			score = EXCLUDED.score,
			answered_count = EXCLUDED.answered_count,
			consecutive_correct = EXCLUDED.consecutive_correct,
			max_consecutive_correct = EXCLUDED.max_consecutive_correct,
			last_answer_at = EXCLUDED.last_answer_at`,
		stat.UserID, stat.ChatID, stat.Name, stat.Score, stat.AnsweredCount,
		stat.ConsecutiveCorrect, stat.MaxConsecutiveCorrect, stat.LastAnswerAt)
	return err
}

func (r *statsRepository) ListChatStats(chatID int64) ([]models.UserStat, error) {
	var stats []models.UserStat
	query := `SELECT ` + userStatColumns + ` FROM user_stats WHERE chat_id = $1 ORDER BY user_id`
	if err := r.db.Select(&stats, query, chatID); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *statsRepository) ListUserStats(userID int64) ([]models.UserStat, error) {
	var stats []models.UserStat
	query := `SELECT ` + userStatColumns + ` FROM user_stats WHERE user_id = $1 ORDER BY chat_id`
	if err := r.db.Select(&stats, query, userID); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *statsRepository) ListAllStats() ([]models.UserStat, error) {
	var stats []models.UserStat
	query := `SELECT ` + userStatColumns + ` FROM user_stats ORDER BY chat_id, user_id`
	if err := r.db.Select(&stats, query); err != nil {
		return nil, err
	}
	return stats, nil
}

const resetStatFields = `score = 0, answered_count = 0, consecutive_correct = 0, max_consecutive_correct = 0, last_answer_at = NULL`

func (r *statsRepository) ResetUserStats(userID int64) error {
	res, err := r.db.Exec(`UPDATE user_stats SET `+resetStatFields+` WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (r *statsRepository) ResetChatStats(chatID int64) error {
	_, err := r.db.Exec(`UPDATE user_stats SET `+resetStatFields+` WHERE chat_id = $1`, chatID)
	return err
}

func (r *statsRepository) DeleteUser(userID int64) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM user_stats WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if _, err := tx.Exec(`DELETE FROM achievements WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if n == 0 {
		return models.ErrUserNotFound
	}
	return tx.Commit()
}

func (r *statsRepository) DeleteChatStats(chatID int64) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM user_stats WHERE chat_id = $1`, chatID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM achievements WHERE chat_id = $1`, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *statsRepository) HasEvent(eventID string) (bool, error) {
	var exists bool
	err := r.db.Get(&exists, `SELECT EXISTS (SELECT 1 FROM answer_events WHERE event_id = $1)`, eventID)
	return exists, err
}

func (r *statsRepository) RecordEvent(eventID string, processedAt time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO answer_events (event_id, processed_at) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, processedAt)
	return err
}

func (r *statsRepository) CountEventsByDay(since time.Time) (map[string]int, error) {
	rows, err := r.db.Queryx(`
		SELECT to_char(processed_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*) AS n
		FROM answer_events WHERE processed_at >= $1
		GROUP BY day`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		counts[day] = n
	}
	return counts, rows.Err()
}

func (r *statsRepository) AddAchievement(a *models.Achievement) (bool, error) {
	res, err := r.db.Exec(`
		INSERT INTO achievements (user_id, chat_id, rule_id, type, icon, title, description, chat_title, earned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, chat_id, rule_id) DO NOTHING`,
		a.UserID, a.ChatID, a.RuleID, a.Type, a.Icon, a.Title, a.Description, a.ChatTitle, a.EarnedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *statsRepository) ListAchievements(userID int64) ([]models.Achievement, error) {
	var achievements []models.Achievement
	query := `
		SELECT user_id, chat_id, rule_id, type, icon, title, description, chat_title, earned_at
		FROM achievements WHERE user_id = $1 ORDER BY earned_at DESC
	`
	if err := r.db.Select(&achievements, query, userID); err != nil {
		return nil, err
	}
	return achievements, nil
}
