package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ChatRepository owns chats, their daily-quiz subscriptions and the durable
// per-(chat, slot) fire markers the scheduler consults after a restart.
type ChatRepository interface {
	GetAllChats() ([]*models.Chat, error)
	GetChatByID(id int64) (*models.Chat, error)
	UpsertChat(chat *models.Chat) error
	// DeleteChat removes the chat row, its subscription, its time slots, its
	// fire markers and its category usage. Stats are owned by StatsRepository
	// and removed separately by the caller.
	DeleteChat(id int64) error

	GetSubscription(chatID int64) (*models.ChatSubscription, error)
	ListEnabledSubscriptions() ([]*models.ChatSubscription, error)
	SaveSubscription(sub *models.ChatSubscription) error

	LastFiredDay(chatID int64, slot string) (string, error)
	// MarkFiredIfUnfired claims the (chat, slot, day) marker in one atomic
	// step; reports false when the slot already fired that day.
	MarkFiredIfUnfired(chatID int64, slot, day string) (bool, error)
}

type chatRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewChatRepository(db *sqlx.DB, logger *zap.Logger) ChatRepository {
	return &chatRepository{db: db, logger: logger}
}

func (r *chatRepository) GetAllChats() ([]*models.Chat, error) {
	var chats []*models.Chat
	query := `
		SELECT
			c.id,
			c.title,
			c.is_group,
			COUNT(s.user_id) AS user_count,
			COALESCE(SUM(s.score), 0) AS total_score,
			MAX(s.last_answer_at) AS last_activity
		FROM chats c
		LEFT JOIN user_stats s ON s.chat_id = c.id
		GROUP BY c.id, c.title, c.is_group
		ORDER BY c.id
	`
	if err := r.db.Select(&chats, query); err != nil {
		return nil, err
	}
	for _, chat := range chats {
		sub, err := r.GetSubscription(chat.ID)
		if err != nil {
			return nil, err
		}
		chat.Subscription = sub
	}
	return chats, nil
}

func (r *chatRepository) GetChatByID(id int64) (*models.Chat, error) {
	var chat models.Chat
	query := `
		SELECT
			c.id,
			c.title,
			c.is_group,
			COUNT(s.user_id) AS user_count,
			COALESCE(SUM(s.score), 0) AS total_score,
			MAX(s.last_answer_at) AS last_activity
		FROM chats c
		LEFT JOIN user_stats s ON s.chat_id = c.id
		WHERE c.id = $1
		GROUP BY c.id, c.title, c.is_group
	`
	err := r.db.Get(&chat, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	sub, err := r.GetSubscription(id)
	if err != nil {
		return nil, err
	}
	chat.Subscription = sub
	return &chat, nil
}

func (r *chatRepository) UpsertChat(chat *models.Chat) error {
	_, err := r.db.Exec(`
		INSERT INTO chats (id, title, is_group) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, is_group = EXCLUDED.is_group`,
		chat.ID, chat.Title, chat.IsGroup)
	return err
}

func (r *chatRepository) DeleteChat(id int64) error {
	res, err := r.db.Exec(`DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrChatNotFound
	}
	return nil
}

func (r *chatRepository) loadTimes(chatID int64) ([]models.QuizTime, error) {
	var times []models.QuizTime
	query := `SELECT hour, minute FROM subscription_times WHERE chat_id = $1 ORDER BY hour, minute`
	if err := r.db.Select(&times, query, chatID); err != nil {
		return nil, err
	}
	return times, nil
}

func (r *chatRepository) GetSubscription(chatID int64) (*models.ChatSubscription, error) {
	var sub models.ChatSubscription
	query := `SELECT chat_id, enabled, num_questions, interval_seconds, poll_open_seconds FROM subscriptions WHERE chat_id = $1`
	err := r.db.Get(&sub, query, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No subscription configured yet.
	}
	if err != nil {
		return nil, err
	}
	sub.TimesMSK, err = r.loadTimes(chatID)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *chatRepository) ListEnabledSubscriptions() ([]*models.ChatSubscription, error) {
	var subs []*models.ChatSubscription
	query := `SELECT chat_id, enabled, num_questions, interval_seconds, poll_open_seconds FROM subscriptions WHERE enabled`
	if err := r.db.Select(&subs, query); err != nil {
		return nil, err
	}
	for _, sub := range subs {
		times, err := r.loadTimes(sub.ChatID)
		if err != nil {
			return nil, err
		}
		sub.TimesMSK = times
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ChatID < subs[j].ChatID })
	return subs, nil
}

// ValidateSubscription enforces the subscription invariants: enabling with no
// time slots is rejected, slots must be valid times without duplicates.
func ValidateSubscription(sub *models.ChatSubscription) error {
	if sub.Enabled && len(sub.TimesMSK) == 0 {
		return fmt.Errorf("%w: %v", models.ErrValidation, models.ErrNoTimesConfigured)
	}
	seen := make(map[models.QuizTime]struct{}, len(sub.TimesMSK))
	for _, t := range sub.TimesMSK {
		if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
			return fmt.Errorf("%w: invalid time %02d:%02d", models.ErrValidation, t.Hour, t.Minute)
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: duplicate time %02d:%02d", models.ErrValidation, t.Hour, t.Minute)
		}
		seen[t] = struct{}{}
	}
	if sub.NumQuestions < 1 {
		return fmt.Errorf("%w: num_questions must be at least 1", models.ErrValidation)
	}
	if sub.IntervalSeconds < 0 {
		return fmt.Errorf("%w: interval_seconds must not be negative", models.ErrValidation)
	}
	if sub.PollOpenSeconds < 1 {
		return fmt.Errorf("%w: poll_open_seconds must be at least 1", models.ErrValidation)
	}
	return nil
}

func (r *chatRepository) SaveSubscription(sub *models.ChatSubscription) error {
	if err := ValidateSubscription(sub); err != nil {
		return err
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// A subscription may be configured before the bot ever saw the chat.
	if _, err := tx.Exec(`INSERT INTO chats (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, sub.ChatID); err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO subscriptions (chat_id, enabled, num_questions, interval_seconds, poll_open_seconds)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chat_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			num_questions = EXCLUDED.num_questions,
			interval_seconds = EXCLUDED.interval_seconds,
			poll_open_seconds = EXCLUDED.poll_open_seconds`,
		sub.ChatID, sub.Enabled, sub.NumQuestions, sub.IntervalSeconds, sub.PollOpenSeconds)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM subscription_times WHERE chat_id = $1`, sub.ChatID); err != nil {
		return err
	}
	for _, t := range sub.TimesMSK {
		_, err := tx.Exec(`INSERT INTO subscription_times (chat_id, hour, minute) VALUES ($1, $2, $3)`,
			sub.ChatID, t.Hour, t.Minute)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *chatRepository) LastFiredDay(chatID int64, slot string) (string, error) {
	var day string
	err := r.db.Get(&day, `SELECT fired_day FROM fire_markers WHERE chat_id = $1 AND slot = $2`, chatID, slot)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return day, err
}

func (r *chatRepository) MarkFiredIfUnfired(chatID int64, slot, day string) (bool, error) {
	res, err := r.db.Exec(`
		INSERT INTO fire_markers (chat_id, slot, fired_day) VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, slot) DO UPDATE SET fired_day = EXCLUDED.fired_day
		WHERE fire_markers.fired_day <> EXCLUDED.fired_day`,
		chatID, slot, day)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
