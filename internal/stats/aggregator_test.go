package stats

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"backend/internal/models"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAggregator(t *testing.T) (*Aggregator, *repository.MemoryStatsRepository, *repository.MemoryBlacklistRepository) {
	t.Helper()
	statsRepo := repository.NewMemoryStatsRepository()
	blacklist := repository.NewMemoryBlacklistRepository()
	chats := repository.NewMemoryChatRepository(statsRepo)
	return NewAggregator(statsRepo, blacklist, chats, zap.NewNop()), statsRepo, blacklist
}

func answerAt(userID, chatID int64, correct bool, ts time.Time) *models.AnswerEvent {
	return &models.AnswerEvent{
		EventID:       uuid.NewString(),
		UserID:        userID,
		ChatID:        chatID,
		IsCorrect:     correct,
		PointsAwarded: 1,
		Timestamp:     ts,
	}
}

func TestIngestUpdatesStat(t *testing.T) {
	agg, statsRepo, _ := newTestAggregator(t)
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, agg.Ingest(answerAt(1, 100, true, ts)))

	stat, err := statsRepo.GetUserStat(1, 100)
	require.NoError(t, err)
	require.NotNil(t, stat)
	assert.Equal(t, 1, stat.AnsweredCount)
	assert.Equal(t, 1.0, stat.Score)
	assert.Equal(t, 1, stat.ConsecutiveCorrect)
	require.NotNil(t, stat.LastAnswerAt)
	assert.True(t, stat.LastAnswerAt.Equal(ts))
}

func TestIngestStreakMonotonicity(t *testing.T) {
	// max_consecutive_correct ends up equal to the longest run of correct
	// answers in the timestamp-ordered sequence.
	agg, statsRepo, _ := newTestAggregator(t)
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	sequence := []bool{true, true, false, true, true, true, false, true}
	for i, correct := range sequence {
		require.NoError(t, agg.Ingest(answerAt(1, 100, correct, ts.Add(time.Duration(i)*time.Minute))))
	}

	stat, err := statsRepo.GetUserStat(1, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, stat.MaxConsecutiveCorrect)
	assert.Equal(t, 1, stat.ConsecutiveCorrect)
	assert.Equal(t, len(sequence), stat.AnsweredCount)
}

func TestIngestDuplicateEventIsIdempotent(t *testing.T) {
	agg, statsRepo, _ := newTestAggregator(t)
	event := answerAt(1, 100, true, time.Now())

	require.NoError(t, agg.Ingest(event))
	err := agg.Ingest(event)
	assert.ErrorIs(t, err, models.ErrDuplicateEvent)

	stat, err := statsRepo.GetUserStat(1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, stat.AnsweredCount)
}

func TestIngestRejectsOutOfOrderEvent(t *testing.T) {
	agg, statsRepo, _ := newTestAggregator(t)
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, agg.Ingest(answerAt(1, 100, true, ts)))

	err := agg.Ingest(answerAt(1, 100, false, ts.Add(-time.Hour)))
	assert.ErrorIs(t, err, models.ErrStaleEvent)

	// The stale wrong answer must not have broken the streak.
	stat, err := statsRepo.GetUserStat(1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, stat.ConsecutiveCorrect)
	assert.Equal(t, 1, stat.AnsweredCount)
}

func TestIngestDropsBannedUser(t *testing.T) {
	agg, statsRepo, blacklist := newTestAggregator(t)
	require.NoError(t, blacklist.Ban(&models.BlacklistEntry{
		SubjectID: 1, SubjectKind: models.SubjectUser, BannedAt: time.Now(),
	}))

	require.NoError(t, agg.Ingest(answerAt(1, 100, true, time.Now())))

	stat, err := statsRepo.GetUserStat(1, 100)
	require.NoError(t, err)
	assert.Nil(t, stat)
}

func TestStreakAchievementsAwardedOnce(t *testing.T) {
	agg, statsRepo, _ := newTestAggregator(t)
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		require.NoError(t, agg.Ingest(answerAt(1, 100, true, ts.Add(time.Duration(i)*time.Minute))))
	}

	achievements, err := statsRepo.ListAchievements(1)
	require.NoError(t, err)

	streak5 := 0
	for _, a := range achievements {
		if a.RuleID == "streak_5" {
			streak5++
		}
	}
	// Answers 5, 6 and 7 all satisfy the threshold but the badge is awarded once.
	assert.Equal(t, 1, streak5)
}

func TestResetKeepsAchievements(t *testing.T) {
	agg, statsRepo, _ := newTestAggregator(t)
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, agg.Ingest(answerAt(1, 100, true, ts.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, agg.ResetChatStats(100))

	stat, err := statsRepo.GetUserStat(1, 100)
	require.NoError(t, err)
	require.NotNil(t, stat)
	assert.Zero(t, stat.Score)
	assert.Zero(t, stat.AnsweredCount)
	assert.Zero(t, stat.MaxConsecutiveCorrect)

	summary, err := agg.UserSummary(1)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.Achievements, "achievements are permanent badges and survive a stats reset")
}

func TestLeaderboardOrdering(t *testing.T) {
	agg, statsRepo, _ := newTestAggregator(t)
	now := time.Now()

	seed := []models.UserStat{
		{UserID: 1, ChatID: 5, Score: 10, AnsweredCount: 12, LastAnswerAt: &now},
		{UserID: 2, ChatID: 5, Score: 20, AnsweredCount: 4, LastAnswerAt: &now},
		{UserID: 3, ChatID: 5, Score: 10, AnsweredCount: 20, LastAnswerAt: &now},
		{UserID: 4, ChatID: 5, Score: 10, AnsweredCount: 12, LastAnswerAt: &now},
	}
	for i := range seed {
		require.NoError(t, statsRepo.SaveUserStat(&seed[i]))
	}

	board, err := agg.Leaderboard(5, 0)
	require.NoError(t, err)
	require.Len(t, board, 4)

	ids := make([]int64, len(board))
	for i, s := range board {
		ids[i] = s.UserID
	}
	// Score desc, then answered desc, then user id asc.
	assert.Equal(t, []int64{2, 3, 1, 4}, ids)
}

func TestGlobalLeaderboardAggregatesChats(t *testing.T) {
	agg, statsRepo, _ := newTestAggregator(t)

	for chat := int64(1); chat <= 3; chat++ {
		require.NoError(t, statsRepo.SaveUserStat(&models.UserStat{
			UserID: 9, ChatID: chat, Score: 5, AnsweredCount: 2,
		}))
	}

	board, err := agg.Leaderboard(0, 0)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 15.0, board[0].Score)
	assert.Equal(t, 6, board[0].AnsweredCount)
}

func TestConcurrentIngestSamePair(t *testing.T) {
	agg, statsRepo, _ := newTestAggregator(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	const n = 20
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			done <- agg.Ingest(&models.AnswerEvent{
				EventID:       fmt.Sprintf("event-%d", i),
				UserID:        1,
				ChatID:        100,
				IsCorrect:     true,
				PointsAwarded: 1,
				Timestamp:     base.Add(time.Duration(i) * time.Second),
			})
		}(i)
	}
	applied := 0
	for i := 0; i < n; i++ {
		if err := <-done; err == nil {
			applied++
		}
	}

	stat, err := statsRepo.GetUserStat(1, 100)
	require.NoError(t, err)
	// Events arriving behind a newer one are rejected as stale, never lost
	// into a corrupted counter: applied events and the count must agree.
	assert.Equal(t, applied, stat.AnsweredCount)
	assert.Equal(t, applied, stat.ConsecutiveCorrect)
}

// recordFailOnce wraps the memory repository so the first RecordEvent call
// fails, simulating a partial write that the caller retries.
type recordFailOnce struct {
	*repository.MemoryStatsRepository
	failed bool
}

func (r *recordFailOnce) RecordEvent(eventID string, processedAt time.Time) error {
	if !r.failed {
		r.failed = true
		return errors.New("connection reset")
	}
	return r.MemoryStatsRepository.RecordEvent(eventID, processedAt)
}

func TestIngestRetryAfterPartialFailureAppliesOnce(t *testing.T) {
	inner := repository.NewMemoryStatsRepository()
	statsRepo := &recordFailOnce{MemoryStatsRepository: inner}
	blacklist := repository.NewMemoryBlacklistRepository()
	chats := repository.NewMemoryChatRepository(inner)
	agg := NewAggregator(statsRepo, blacklist, chats, zap.NewNop())

	event := answerAt(1, 100, true, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))

	// The failed attempt must leave no stat behind.
	require.Error(t, agg.Ingest(event))
	stat, err := inner.GetUserStat(1, 100)
	require.NoError(t, err)
	assert.Nil(t, stat)

	require.NoError(t, agg.Ingest(event))
	stat, err = inner.GetUserStat(1, 100)
	require.NoError(t, err)
	require.NotNil(t, stat)
	assert.Equal(t, 1, stat.AnsweredCount)

	// A retry of an already applied event is a duplicate, not a second apply.
	err = agg.Ingest(event)
	assert.ErrorIs(t, err, models.ErrDuplicateEvent)
	assert.Equal(t, 1, stat.AnsweredCount)
}
