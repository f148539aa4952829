package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backend/internal/models"
	"backend/internal/repository"
	"backend/internal/selector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDeliverer struct {
	mu       sync.Mutex
	runs     []*models.QuizRun
	failures int // fail this many deliveries before succeeding
}

func (d *fakeDeliverer) DeliverRun(_ context.Context, run *models.QuizRun, _ *models.ChatSubscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs = append(d.runs, run)
	if d.failures > 0 {
		d.failures--
		return errors.New("telegram unavailable")
	}
	return nil
}

func (d *fakeDeliverer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

type fixture struct {
	sched     *Scheduler
	chats     *repository.MemoryChatRepository
	blacklist *repository.MemoryBlacklistRepository
	deliverer *fakeDeliverer
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	questions := repository.NewMemoryQuestionRepository()
	require.NoError(t, questions.CreateCategory("Space"))
	for i := 0; i < 3; i++ {
		_, err := questions.AddQuestion("Space", &models.Question{
			Question:   "Which planet is red?",
			Options:    []string{"Mars", "Venus"},
			Correct:    "Mars",
			Difficulty: models.DifficultyEasy,
		})
		require.NoError(t, err)
	}

	sel := selector.New(questions, repository.NewMemoryUsageRepository(), selector.Options{
		CoolDown: 0, AgeFactor: 1.0, UsagePenalty: 0.1,
	}, zap.NewNop())

	chats := repository.NewMemoryChatRepository(nil)
	blacklist := repository.NewMemoryBlacklistRepository()
	deliverer := &fakeDeliverer{}

	opts := DefaultOptions()
	opts.BackoffBase = time.Millisecond
	opts.BackoffMax = time.Millisecond

	sched, err := New(chats, blacklist, sel, deliverer, opts, zap.NewNop())
	require.NoError(t, err)
	if !now.IsZero() {
		sched.now = func() time.Time { return now }
	}
	return &fixture{sched: sched, chats: chats, blacklist: blacklist, deliverer: deliverer}
}

func enabledSub(chatID int64, times ...models.QuizTime) *models.ChatSubscription {
	return &models.ChatSubscription{
		ChatID:          chatID,
		Enabled:         true,
		TimesMSK:        times,
		NumQuestions:    3,
		IntervalSeconds: 0,
		PollOpenSeconds: 600,
	}
}

func TestToggleEnableWithoutTimesRejected(t *testing.T) {
	f := newFixture(t, time.Time{})

	err := f.sched.Toggle(42, true)
	assert.ErrorIs(t, err, models.ErrValidation)

	// Disabling an unknown chat records a disabled placeholder instead.
	require.NoError(t, f.sched.Toggle(42, false))
	sub, err := f.chats.GetSubscription(42)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.False(t, sub.Enabled)
}

func TestToggleKeepsStoredTimes(t *testing.T) {
	f := newFixture(t, time.Time{})
	require.NoError(t, f.sched.UpdateSubscription(enabledSub(1, models.QuizTime{Hour: 9})))

	require.NoError(t, f.sched.Toggle(1, false))
	require.NoError(t, f.sched.Toggle(1, true))

	sub, err := f.chats.GetSubscription(1)
	require.NoError(t, err)
	assert.True(t, sub.Enabled)
	assert.Equal(t, []models.QuizTime{{Hour: 9}}, sub.TimesMSK)
}

func TestUpdateSubscriptionAppliesDefaults(t *testing.T) {
	f := newFixture(t, time.Time{})
	require.NoError(t, f.sched.UpdateSubscription(&models.ChatSubscription{
		ChatID: 1, Enabled: true, TimesMSK: []models.QuizTime{{Hour: 9}},
	}))

	sub, err := f.chats.GetSubscription(1)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultNumQuestions, sub.NumQuestions)
	assert.Equal(t, models.DefaultIntervalSeconds, sub.IntervalSeconds)
	assert.Equal(t, models.DefaultPollOpenSeconds, sub.PollOpenSeconds)
}

func TestFireMarksBeforeDeliveryAndOncePerDay(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 5, 0, 0, time.UTC)
	f := newFixture(t, now)
	sub := enabledSub(1, models.QuizTime{Hour: 9})
	require.NoError(t, f.chats.SaveSubscription(sub))

	f.sched.fire(context.Background(), sub, models.QuizTime{Hour: 9}, false)
	assert.Equal(t, 1, f.deliverer.attempts())

	day, err := f.chats.LastFiredDay(1, "09:00")
	require.NoError(t, err)
	assert.NotEmpty(t, day)

	// A second fire of the same slot on the same day is a no-op.
	f.sched.fire(context.Background(), sub, models.QuizTime{Hour: 9}, false)
	assert.Equal(t, 1, f.deliverer.attempts())
}

func TestFireSkipsBlacklistedChat(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 5, 0, 0, time.UTC)
	f := newFixture(t, now)
	sub := enabledSub(1, models.QuizTime{Hour: 9})
	require.NoError(t, f.chats.SaveSubscription(sub))
	require.NoError(t, f.blacklist.Ban(&models.BlacklistEntry{
		SubjectID: 1, SubjectKind: models.SubjectChat, BannedAt: now,
	}))

	f.sched.fire(context.Background(), sub, models.QuizTime{Hour: 9}, false)

	assert.Zero(t, f.deliverer.attempts())
	day, err := f.chats.LastFiredDay(1, "09:00")
	require.NoError(t, err)
	assert.Empty(t, day, "a skipped run must not consume the daily slot")
}

func TestDeliveryRetriesThenFails(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 5, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.deliverer.failures = 10 // more than MaxAttempts
	sub := enabledSub(1, models.QuizTime{Hour: 9})
	require.NoError(t, f.chats.SaveSubscription(sub))

	f.sched.fire(context.Background(), sub, models.QuizTime{Hour: 9}, false)

	assert.Equal(t, f.sched.opts.MaxAttempts, f.deliverer.attempts())
	require.NotEmpty(t, f.deliverer.runs)
	assert.Equal(t, models.RunStatusFailed, f.deliverer.runs[0].Status)
}

func TestDeliveryRecoversWithinRetryBudget(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 5, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.deliverer.failures = 2 // third attempt succeeds
	sub := enabledSub(1, models.QuizTime{Hour: 9})
	require.NoError(t, f.chats.SaveSubscription(sub))

	f.sched.fire(context.Background(), sub, models.QuizTime{Hour: 9}, false)

	assert.Equal(t, 3, f.deliverer.attempts())
	assert.Equal(t, models.RunStatusDelivered, f.deliverer.runs[0].Status)
}

func TestTriggerNowBypassesDailyMarker(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	sub := enabledSub(1, models.QuizTime{Hour: 9})
	require.NoError(t, f.chats.SaveSubscription(sub))
	claimed, err := f.chats.MarkFiredIfUnfired(1, "09:00", "2025-05-01")
	require.NoError(t, err)
	require.True(t, claimed)

	run, err := f.sched.TriggerNow(1)
	require.NoError(t, err)
	assert.Len(t, run.Questions, 3)

	require.Eventually(t, func() bool { return f.deliverer.attempts() == 1 },
		time.Second, time.Millisecond)

	// An ad-hoc run leaves the daily marker untouched.
	day, err := f.chats.LastFiredDay(1, "09:00")
	require.NoError(t, err)
	assert.Equal(t, "2025-05-01", day)
}

// TriggerNow must hand back the pending run immediately instead of holding the
// caller for the full delivery (which can span minutes between polls).
func TestTriggerNowReturnsBeforeDelivery(t *testing.T) {
	f := newFixture(t, time.Time{})
	sub := enabledSub(1, models.QuizTime{Hour: 9})
	require.NoError(t, f.chats.SaveSubscription(sub))

	run, err := f.sched.TriggerNow(1)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)

	require.Eventually(t, func() bool { return f.deliverer.attempts() == 1 },
		time.Second, time.Millisecond)
}

func TestTriggerNowRejectsBlacklistedChat(t *testing.T) {
	f := newFixture(t, time.Time{})
	require.NoError(t, f.blacklist.Ban(&models.BlacklistEntry{
		SubjectID: 7, SubjectKind: models.SubjectChat, BannedAt: time.Now(),
	}))

	_, err := f.sched.TriggerNow(7)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Zero(t, f.deliverer.attempts())
}

func TestPlanFindsDueAndNextSlots(t *testing.T) {
	// 10:00 MSK on 2025-05-01.
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, loc)

	f := newFixture(t, now)
	require.NoError(t, f.chats.SaveSubscription(enabledSub(1,
		models.QuizTime{Hour: 9}, models.QuizTime{Hour: 19, Minute: 30})))

	next, due := f.sched.plan()
	require.Len(t, due, 1)
	assert.Equal(t, models.QuizTime{Hour: 9}, due[0].slot)
	assert.Equal(t, time.Date(2025, 5, 1, 19, 30, 0, 0, loc), next.In(loc))

	// Once the morning slot is marked fired today, nothing is due.
	claimed, err := f.chats.MarkFiredIfUnfired(1, "09:00", "2025-05-01")
	require.NoError(t, err)
	require.True(t, claimed)
	_, due = f.sched.plan()
	assert.Empty(t, due)
}

func TestConcurrentFiresDeliverOnce(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 5, 0, 0, time.UTC)
	f := newFixture(t, now)
	sub := enabledSub(1, models.QuizTime{Hour: 9})
	require.NoError(t, f.chats.SaveSubscription(sub))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.sched.fire(context.Background(), sub, models.QuizTime{Hour: 9}, false)
		}()
	}
	wg.Wait()

	// Only one of the racing fires may claim the slot and deliver.
	assert.Equal(t, 1, f.deliverer.attempts())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t, time.Time{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
