package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend/internal/models"
	"backend/internal/repository"
	"backend/internal/selector"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deliverer hands a built quiz run to the bot-delivery collaborator.
type Deliverer interface {
	DeliverRun(ctx context.Context, run *models.QuizRun, sub *models.ChatSubscription) error
}

// Options bound the delivery retry loop.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		BackoffMax:  30 * time.Second,
	}
}

// Scheduler owns chat subscriptions and fires daily quiz runs at the
// configured Moscow-time slots. One loop computes the minimum next fire time
// across all chats and sleeps until then, waking early on subscription
// changes; each (chat, slot) fires at most once per calendar day, enforced by
// a durable marker that survives restarts.
type Scheduler struct {
	chats     repository.ChatRepository
	blacklist repository.BlacklistRepository
	selector  *selector.Selector
	deliverer Deliverer
	logger    *zap.Logger
	opts      Options
	loc       *time.Location
	now       func() time.Time

	wake chan struct{}

	ctxMu  sync.Mutex
	runCtx context.Context
}

func New(chats repository.ChatRepository, blacklist repository.BlacklistRepository, sel *selector.Selector, deliverer Deliverer, opts Options, logger *zap.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return nil, fmt.Errorf("loading Moscow timezone: %w", err)
	}
	return &Scheduler{
		chats:     chats,
		blacklist: blacklist,
		selector:  sel,
		deliverer: deliverer,
		logger:    logger,
		opts:      opts,
		loc:       loc,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
		runCtx:    context.Background(),
	}, nil
}

// Run drives the scheduler until ctx is cancelled. A single chat's failure is
// logged and skipped; the loop itself never terminates on it.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctxMu.Lock()
	s.runCtx = ctx
	s.ctxMu.Unlock()

	s.logger.Info("scheduler started")
	for {
		next, due := s.plan()
		for _, d := range due {
			go s.fire(ctx, d.sub, d.slot, false)
		}

		wait := time.Minute
		if !next.IsZero() {
			wait = time.Until(next)
			if wait < time.Second {
				wait = time.Second
			}
			if wait > time.Minute {
				// Re-plan at least once a minute so subscriptions edited
				// directly in the store are still picked up.
				wait = time.Minute
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

type dueSlot struct {
	sub  *models.ChatSubscription
	slot models.QuizTime
}

// plan returns the earliest upcoming fire instant across all enabled chats
// and the slots that are due right now and unfired today.
func (s *Scheduler) plan() (time.Time, []dueSlot) {
	subs, err := s.chats.ListEnabledSubscriptions()
	if err != nil {
		s.logger.Error("failed to list enabled subscriptions", zap.Error(err))
		return time.Time{}, nil
	}

	now := s.now().In(s.loc)
	today := now.Format("2006-01-02")

	var next time.Time
	var due []dueSlot
	for _, sub := range subs {
		for _, slot := range sub.TimesMSK {
			slotTime := time.Date(now.Year(), now.Month(), now.Day(), slot.Hour, slot.Minute, 0, 0, s.loc)
			slotKey := slotName(slot)

			fired, err := s.chats.LastFiredDay(sub.ChatID, slotKey)
			if err != nil {
				s.logger.Error("failed to read fire marker",
					zap.Int64("chat_id", sub.ChatID), zap.String("slot", slotKey), zap.Error(err))
				continue
			}

			if !slotTime.After(now) {
				if fired != today {
					due = append(due, dueSlot{sub: sub, slot: slot})
				}
				slotTime = slotTime.AddDate(0, 0, 1)
			}
			if next.IsZero() || slotTime.Before(next) {
				next = slotTime
			}
		}
	}
	return next, due
}

func slotName(t models.QuizTime) string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// fire builds and delivers one quiz run. adhoc runs bypass the daily marker.
func (s *Scheduler) fire(ctx context.Context, sub *models.ChatSubscription, slot models.QuizTime, adhoc bool) {
	log := s.logger.With(zap.Int64("chat_id", sub.ChatID), zap.String("slot", slotName(slot)))

	if banned, err := s.blacklist.IsBanned(sub.ChatID, models.SubjectChat); err != nil {
		log.Error("blacklist check failed, skipping run", zap.Error(err))
		return
	} else if banned {
		log.Info("chat is blacklisted, skipping run")
		return
	}

	if !adhoc {
		day := s.now().In(s.loc).Format("2006-01-02")
		// The marker is claimed atomically and before delivery: two racing
		// fire goroutines for the same slot cannot both deliver, and a crash
		// mid-delivery must not re-fire the slot on restart within the same
		// day.
		claimed, err := s.chats.MarkFiredIfUnfired(sub.ChatID, slotName(slot), day)
		if err != nil {
			log.Error("failed to claim fire marker, skipping run", zap.Error(err))
			return
		}
		if !claimed {
			return
		}
	}

	run, err := s.buildRun(sub)
	if err != nil {
		if errors.Is(err, models.ErrNoCategoriesAvailable) {
			log.Warn("no categories available, skipping run")
			return
		}
		log.Error("failed to build quiz run", zap.Error(err))
		return
	}

	s.deliver(ctx, run, sub, log)
}

func (s *Scheduler) buildRun(sub *models.ChatSubscription) (*models.QuizRun, error) {
	categories, err := s.selector.SelectCategories(sub.ChatID, sub.NumQuestions)
	if err != nil {
		return nil, err
	}
	questions, err := s.selector.PickQuestions(categories, sub.NumQuestions)
	if err != nil {
		return nil, err
	}
	return &models.QuizRun{
		ID:         uuid.NewString(),
		ChatID:     sub.ChatID,
		Categories: categories,
		Questions:  questions,
		Status:     models.RunStatusPending,
		StartedAt:  s.now(),
	}, nil
}

// deliver retries with exponential backoff up to the bounded attempt count,
// then marks the run failed. It is never retried past that and never crashes
// the scheduler loop.
func (s *Scheduler) deliver(ctx context.Context, run *models.QuizRun, sub *models.ChatSubscription, log *zap.Logger) {
	backoff := s.opts.BackoffBase
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := s.deliverer.DeliverRun(ctx, run, sub)
		if err == nil {
			run.Status = models.RunStatusDelivered
			log.Info("quiz run delivered", zap.String("run_id", run.ID), zap.Int("attempt", attempt))
			return
		}
		log.Warn("quiz run delivery failed",
			zap.String("run_id", run.ID), zap.Int("attempt", attempt), zap.Error(err))

		if attempt == s.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			run.Status = models.RunStatusFailed
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.BackoffMax {
			backoff = s.opts.BackoffMax
		}
	}
	run.Status = models.RunStatusFailed
	log.Error("quiz run delivery gave up",
		zap.String("run_id", run.ID), zap.Int("attempts", s.opts.MaxAttempts),
		zap.Error(models.ErrDelivery))
}

// UpdateSubscription replaces a chat's schedule. The scheduler owns
// subscription state; all mutations go through here so the loop re-plans.
func (s *Scheduler) UpdateSubscription(sub *models.ChatSubscription) error {
	if sub.NumQuestions == 0 {
		sub.NumQuestions = models.DefaultNumQuestions
	}
	if sub.IntervalSeconds == 0 {
		sub.IntervalSeconds = models.DefaultIntervalSeconds
	}
	if sub.PollOpenSeconds == 0 {
		sub.PollOpenSeconds = models.DefaultPollOpenSeconds
	}
	if err := s.chats.SaveSubscription(sub); err != nil {
		return err
	}
	s.nudge()
	return nil
}

// Toggle flips the enabled flag, keeping the stored time set. Enabling a chat
// that has no configured times is rejected.
func (s *Scheduler) Toggle(chatID int64, enabled bool) error {
	sub, err := s.chats.GetSubscription(chatID)
	if err != nil {
		return err
	}
	if sub == nil {
		if enabled {
			return fmt.Errorf("%w: %v", models.ErrValidation, models.ErrNoTimesConfigured)
		}
		sub = &models.ChatSubscription{
			ChatID:          chatID,
			NumQuestions:    models.DefaultNumQuestions,
			IntervalSeconds: models.DefaultIntervalSeconds,
			PollOpenSeconds: models.DefaultPollOpenSeconds,
		}
	}
	sub.Enabled = enabled
	if err := s.chats.SaveSubscription(sub); err != nil {
		return err
	}
	s.nudge()
	return nil
}

// TriggerNow launches an ad-hoc run immediately, bypassing the daily marker.
// Delivery runs on the scheduler's own context, not the caller's: a full run
// spans minutes and must survive the admin request that started it. The
// returned run is a snapshot, still pending.
func (s *Scheduler) TriggerNow(chatID int64) (*models.QuizRun, error) {
	sub, err := s.chats.GetSubscription(chatID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		sub = &models.ChatSubscription{
			ChatID:          chatID,
			NumQuestions:    models.DefaultNumQuestions,
			IntervalSeconds: models.DefaultIntervalSeconds,
			PollOpenSeconds: models.DefaultPollOpenSeconds,
		}
	}
	if banned, err := s.blacklist.IsBanned(chatID, models.SubjectChat); err != nil {
		return nil, err
	} else if banned {
		return nil, fmt.Errorf("%w: chat is blacklisted", models.ErrValidation)
	}
	run, err := s.buildRun(sub)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	go s.deliver(s.background(), run, sub, s.logger.With(zap.Int64("chat_id", chatID), zap.String("trigger", "manual")))
	return &snapshot, nil
}

// background is the context scheduled and ad-hoc deliveries stop with; the
// Run loop's context once the loop has started.
func (s *Scheduler) background() context.Context {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	return s.runCtx
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
