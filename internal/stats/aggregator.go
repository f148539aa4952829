package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"backend/internal/models"
	"backend/internal/repository"

	"go.uber.org/zap"
)

// Aggregator ingests answer events and maintains per-(user, chat) score and
// streak state. Ingestion for the same (user, chat) pair is serialized;
// different pairs proceed independently.
type Aggregator struct {
	stats     repository.StatsRepository
	blacklist repository.BlacklistRepository
	chats     repository.ChatRepository
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[statPair]*sync.Mutex
}

type statPair struct {
	userID int64
	chatID int64
}

func NewAggregator(stats repository.StatsRepository, blacklist repository.BlacklistRepository, chats repository.ChatRepository, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		stats:     stats,
		blacklist: blacklist,
		chats:     chats,
		logger:    logger,
		locks:     make(map[statPair]*sync.Mutex),
	}
}

func (a *Aggregator) pairLock(userID, chatID int64) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := statPair{userID, chatID}
	lock, ok := a.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[key] = lock
	}
	return lock
}

// Ingest applies one answer event. Re-ingesting an already processed event id
// is a no-op returning ErrDuplicateEvent; an event older than the last
// applied answer for the pair is rejected with ErrStaleEvent so out-of-order
// delivery cannot corrupt the streak counters.
func (a *Aggregator) Ingest(event *models.AnswerEvent) error {
	if event.EventID == "" {
		return fmt.Errorf("%w: event_id is required", models.ErrValidation)
	}
	if banned, err := a.blacklist.IsBanned(event.UserID, models.SubjectUser); err != nil {
		return fmt.Errorf("checking blacklist: %w", err)
	} else if banned {
		a.logger.Info("dropping answer from banned user",
			zap.Int64("user_id", event.UserID), zap.Int64("chat_id", event.ChatID))
		return nil
	}
	if banned, err := a.blacklist.IsBanned(event.ChatID, models.SubjectChat); err != nil {
		return fmt.Errorf("checking blacklist: %w", err)
	} else if banned {
		a.logger.Info("dropping answer from banned chat", zap.Int64("chat_id", event.ChatID))
		return nil
	}

	lock := a.pairLock(event.UserID, event.ChatID)
	lock.Lock()
	defer lock.Unlock()

	seen, err := a.stats.HasEvent(event.EventID)
	if err != nil {
		return fmt.Errorf("checking event id: %w", err)
	}
	if seen {
		return models.ErrDuplicateEvent
	}

	stat, err := a.stats.GetUserStat(event.UserID, event.ChatID)
	if err != nil {
		return fmt.Errorf("loading user stat: %w", err)
	}
	if stat == nil {
		stat = &models.UserStat{UserID: event.UserID, ChatID: event.ChatID}
	}
	if stat.LastAnswerAt != nil && event.Timestamp.Before(*stat.LastAnswerAt) {
		a.logger.Warn("rejecting out-of-order answer event",
			zap.String("event_id", event.EventID),
			zap.Int64("user_id", event.UserID), zap.Int64("chat_id", event.ChatID),
			zap.Time("event_ts", event.Timestamp), zap.Time("last_answer_at", *stat.LastAnswerAt))
		return models.ErrStaleEvent
	}

	if event.UserName != "" {
		stat.Name = event.UserName
	}
	stat.AnsweredCount++
	stat.Score += event.PointsAwarded
	if event.IsCorrect {
		stat.ConsecutiveCorrect++
	} else {
		stat.ConsecutiveCorrect = 0
	}
	if stat.ConsecutiveCorrect > stat.MaxConsecutiveCorrect {
		stat.MaxConsecutiveCorrect = stat.ConsecutiveCorrect
	}
	ts := event.Timestamp
	stat.LastAnswerAt = &ts

	// The event id is recorded before the stat write: a retry after a partial
	// failure is rejected as a duplicate, never applied a second time.
	if err := a.stats.RecordEvent(event.EventID, time.Now()); err != nil {
		return fmt.Errorf("recording event id: %w", err)
	}
	if err := a.stats.SaveUserStat(stat); err != nil {
		return fmt.Errorf("saving user stat: %w", err)
	}

	a.evaluateAchievements(stat, event)
	return nil
}

// Leaderboard returns chat stats sorted by score descending, ties broken by
// answered count descending then user id ascending. chatID 0 aggregates all
// chats per user.
func (a *Aggregator) Leaderboard(chatID int64, limit int) ([]models.UserStat, error) {
	var stats []models.UserStat
	var err error
	if chatID != 0 {
		stats, err = a.stats.ListChatStats(chatID)
	} else {
		stats, err = a.globalStats()
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Score != stats[j].Score {
			return stats[i].Score > stats[j].Score
		}
		if stats[i].AnsweredCount != stats[j].AnsweredCount {
			return stats[i].AnsweredCount > stats[j].AnsweredCount
		}
		return stats[i].UserID < stats[j].UserID
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

func (a *Aggregator) globalStats() ([]models.UserStat, error) {
	all, err := a.stats.ListAllStats()
	if err != nil {
		return nil, err
	}
	byUser := make(map[int64]*models.UserStat)
	for _, s := range all {
		agg, ok := byUser[s.UserID]
		if !ok {
			agg = &models.UserStat{UserID: s.UserID}
			byUser[s.UserID] = agg
		}
		if s.Name != "" {
			agg.Name = s.Name
		}
		agg.Score += s.Score
		agg.AnsweredCount += s.AnsweredCount
		if s.MaxConsecutiveCorrect > agg.MaxConsecutiveCorrect {
			agg.MaxConsecutiveCorrect = s.MaxConsecutiveCorrect
		}
		if s.LastAnswerAt != nil && (agg.LastAnswerAt == nil || s.LastAnswerAt.After(*agg.LastAnswerAt)) {
			t := *s.LastAnswerAt
			agg.LastAnswerAt = &t
		}
	}
	out := make([]models.UserStat, 0, len(byUser))
	for _, s := range byUser {
		out = append(out, *s)
	}
	return out, nil
}

// UserSummary aggregates one user's stats across chats plus the permanent
// achievement list.
func (a *Aggregator) UserSummary(userID int64) (*models.UserSummary, error) {
	stats, err := a.stats.ListUserStats(userID)
	if err != nil {
		return nil, err
	}
	achievements, err := a.stats.ListAchievements(userID)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 && len(achievements) == 0 {
		return nil, models.ErrUserNotFound
	}
	summary := &models.UserSummary{UserID: userID, Achievements: achievements}
	for _, s := range stats {
		if s.Name != "" {
			summary.Name = s.Name
		}
		summary.TotalScore += s.Score
		summary.TotalAnswered += s.AnsweredCount
		if s.MaxConsecutiveCorrect > summary.MaxStreak {
			summary.MaxStreak = s.MaxConsecutiveCorrect
		}
		summary.ChatCount++
	}
	banned, err := a.blacklist.IsBanned(userID, models.SubjectUser)
	if err != nil {
		return nil, err
	}
	summary.Banned = banned
	return summary, nil
}

// ResetUserStats zeroes counters across all chats; achievements stay.
func (a *Aggregator) ResetUserStats(userID int64) error {
	return a.stats.ResetUserStats(userID)
}

// ResetChatStats zeroes counters for every user in the chat; achievements stay.
func (a *Aggregator) ResetChatStats(chatID int64) error {
	return a.stats.ResetChatStats(chatID)
}
