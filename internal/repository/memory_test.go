package repository

import (
	"testing"
	"time"

	"backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuestion(text string) *models.Question {
	return &models.Question{
		Question:    text,
		Options:     []string{"Mars", "Venus", "Jupiter"},
		Correct:     "Mars",
		Explanation: "The red planet",
		Difficulty:  models.DifficultyEasy,
	}
}

func TestAddAndGetQuestionRoundTrip(t *testing.T) {
	repo := NewMemoryQuestionRepository()
	require.NoError(t, repo.CreateCategory("Space"))

	in := sampleQuestion("Which planet is red?")
	index, err := repo.AddQuestion("Space", in)
	require.NoError(t, err)
	assert.Equal(t, 0, index)

	out, err := repo.GetQuestion("Space", 0)
	require.NoError(t, err)
	assert.Equal(t, in.Question, out.Question)
	assert.Equal(t, in.Options, out.Options)
	assert.Equal(t, in.Correct, out.Correct)
	assert.Equal(t, in.Explanation, out.Explanation)
	assert.Equal(t, in.Difficulty, out.Difficulty)
	assert.NotEmpty(t, out.ID)
}

func TestQuestionValidation(t *testing.T) {
	repo := NewMemoryQuestionRepository()
	require.NoError(t, repo.CreateCategory("Space"))

	_, err := repo.AddQuestion("Space", &models.Question{
		Question: "One option only", Options: []string{"a"}, Correct: "a",
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = repo.AddQuestion("Space", &models.Question{
		Question: "Duplicate options", Options: []string{"a", "a"}, Correct: "a",
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = repo.AddQuestion("Space", &models.Question{
		Question: "Correct not in options", Options: []string{"a", "b"}, Correct: "c",
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = repo.AddQuestion("Nowhere", sampleQuestion("q"))
	assert.ErrorIs(t, err, models.ErrCategoryNotFound)
}

func TestDeleteQuestionCompactsIndices(t *testing.T) {
	repo := NewMemoryQuestionRepository()
	require.NoError(t, repo.CreateCategory("Space"))
	for _, text := range []string{"first", "second", "third"} {
		_, err := repo.AddQuestion("Space", sampleQuestion(text))
		require.NoError(t, err)
	}

	require.NoError(t, repo.DeleteQuestion("Space", 0))

	questions, err := repo.ListQuestions("Space")
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "second", questions[0].Question)
	assert.Equal(t, 0, questions[0].Index)
	assert.Equal(t, "third", questions[1].Question)
	assert.Equal(t, 1, questions[1].Index)

	err = repo.DeleteQuestion("Space", 5)
	assert.ErrorIs(t, err, models.ErrQuestionIndex)
}

func TestDeleteCategoryCascades(t *testing.T) {
	repo := NewMemoryQuestionRepository()
	require.NoError(t, repo.CreateCategory("Space"))
	for i := 0; i < 5; i++ {
		_, err := repo.AddQuestion("Space", sampleQuestion("q"))
		require.NoError(t, err)
	}

	removed, err := repo.DeleteCategory("Space")
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	_, err = repo.ListQuestions("Space")
	assert.ErrorIs(t, err, models.ErrCategoryNotFound)

	_, err = repo.DeleteCategory("Space")
	assert.ErrorIs(t, err, models.ErrCategoryNotFound)
}

func TestMoveQuestionAtomicOnBadTarget(t *testing.T) {
	repo := NewMemoryQuestionRepository()
	require.NoError(t, repo.CreateCategory("Space"))
	_, err := repo.AddQuestion("Space", sampleQuestion("movable"))
	require.NoError(t, err)

	err = repo.MoveQuestion("Space", 0, "Nowhere")
	assert.ErrorIs(t, err, models.ErrConsistency)

	// The original location must be undisturbed.
	questions, err := repo.ListQuestions("Space")
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "movable", questions[0].Question)
}

func TestMoveQuestionKeepsID(t *testing.T) {
	repo := NewMemoryQuestionRepository()
	require.NoError(t, repo.CreateCategory("Space"))
	require.NoError(t, repo.CreateCategory("History"))
	q := sampleQuestion("movable")
	_, err := repo.AddQuestion("Space", q)
	require.NoError(t, err)

	require.NoError(t, repo.MoveQuestion("Space", 0, "History"))

	moved, err := repo.GetQuestion("History", 0)
	require.NoError(t, err)
	assert.Equal(t, q.ID, moved.ID)

	questions, err := repo.ListQuestions("Space")
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestSubscriptionValidation(t *testing.T) {
	repo := NewMemoryChatRepository(nil)

	err := repo.SaveSubscription(&models.ChatSubscription{
		ChatID: 1, Enabled: true, TimesMSK: nil,
		NumQuestions: 10, IntervalSeconds: 60, PollOpenSeconds: 600,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	err = repo.SaveSubscription(&models.ChatSubscription{
		ChatID: 1, Enabled: true,
		TimesMSK:     []models.QuizTime{{Hour: 9, Minute: 0}, {Hour: 9, Minute: 0}},
		NumQuestions: 10, IntervalSeconds: 60, PollOpenSeconds: 600,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	err = repo.SaveSubscription(&models.ChatSubscription{
		ChatID: 1, Enabled: true,
		TimesMSK:     []models.QuizTime{{Hour: 25, Minute: 0}},
		NumQuestions: 10, IntervalSeconds: 60, PollOpenSeconds: 600,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	err = repo.SaveSubscription(&models.ChatSubscription{
		ChatID: 1, Enabled: true,
		TimesMSK:     []models.QuizTime{{Hour: 9, Minute: 0}, {Hour: 19, Minute: 30}},
		NumQuestions: 10, IntervalSeconds: 60, PollOpenSeconds: 600,
	})
	assert.NoError(t, err)

	sub, err := repo.GetSubscription(1)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.True(t, sub.Enabled)
	assert.Len(t, sub.TimesMSK, 2)
}

func TestFireMarkerClaimedOncePerDay(t *testing.T) {
	repo := NewMemoryChatRepository(nil)

	day, err := repo.LastFiredDay(1, "09:00")
	require.NoError(t, err)
	assert.Empty(t, day)

	claimed, err := repo.MarkFiredIfUnfired(1, "09:00", "2025-05-01")
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim for the same slot and day must lose.
	claimed, err = repo.MarkFiredIfUnfired(1, "09:00", "2025-05-01")
	require.NoError(t, err)
	assert.False(t, claimed)

	day, err = repo.LastFiredDay(1, "09:00")
	require.NoError(t, err)
	assert.Equal(t, "2025-05-01", day)

	// A new day opens the slot again.
	claimed, err = repo.MarkFiredIfUnfired(1, "09:00", "2025-05-02")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestBanIsIdempotent(t *testing.T) {
	repo := NewMemoryBlacklistRepository()

	first := &models.BlacklistEntry{
		SubjectID: 5, SubjectKind: models.SubjectUser,
		Reason: "spam", BannedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.Ban(first))

	second := &models.BlacklistEntry{
		SubjectID: 5, SubjectKind: models.SubjectUser,
		Reason: "abuse", BannedAt: time.Now(),
	}
	require.NoError(t, repo.Ban(second))

	entries, err := repo.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "abuse", entries[0].Reason)
}

func TestUnbanAbsentSubject(t *testing.T) {
	repo := NewMemoryBlacklistRepository()

	removed, err := repo.Unban(404, models.SubjectUser)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, repo.Ban(&models.BlacklistEntry{
		SubjectID: 404, SubjectKind: models.SubjectUser, BannedAt: time.Now(),
	}))
	removed, err = repo.Unban(404, models.SubjectUser)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestUsageCommitAccumulates(t *testing.T) {
	repo := NewMemoryUsageRepository()
	ts := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CommitUsage(1, []string{"A", "B"}, ts))
	require.NoError(t, repo.CommitUsage(1, []string{"A"}, ts.Add(time.Hour)))

	usage, err := repo.GetUsage(1)
	require.NoError(t, err)
	assert.Equal(t, 2, usage["A"].UsageCount)
	assert.Equal(t, 1, usage["B"].UsageCount)
	assert.True(t, usage["A"].LastUsedAt.Equal(ts.Add(time.Hour)))

	// Usage is per chat.
	other, err := repo.GetUsage(2)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestResetUserStatsKeepsRow(t *testing.T) {
	repo := NewMemoryStatsRepository()
	now := time.Now()
	require.NoError(t, repo.SaveUserStat(&models.UserStat{
		UserID: 1, ChatID: 2, Score: 12, AnsweredCount: 7,
		ConsecutiveCorrect: 3, MaxConsecutiveCorrect: 5, LastAnswerAt: &now,
	}))

	require.NoError(t, repo.ResetUserStats(1))

	stat, err := repo.GetUserStat(1, 2)
	require.NoError(t, err)
	require.NotNil(t, stat, "identity row must survive a reset")
	assert.Zero(t, stat.Score)
	assert.Zero(t, stat.MaxConsecutiveCorrect)
	assert.Nil(t, stat.LastAnswerAt)

	err = repo.ResetUserStats(99)
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestCountEventsByDay(t *testing.T) {
	repo := NewMemoryStatsRepository()
	day1 := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 5, 2, 8, 30, 0, 0, time.UTC)
	require.NoError(t, repo.RecordEvent("a", day1))
	require.NoError(t, repo.RecordEvent("b", day1.Add(5*time.Hour)))
	require.NoError(t, repo.RecordEvent("c", day2))

	counts, err := repo.CountEventsByDay(day1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2025-05-01": 2, "2025-05-02": 1}, counts)

	counts, err = repo.CountEventsByDay(day2)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2025-05-02": 1}, counts)
}
