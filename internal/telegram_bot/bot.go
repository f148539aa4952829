package telegram_bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"backend/internal/models"
)

// Bot delivers quiz runs to Telegram chats as native quiz polls. The chat
// transport (receiving answers) lives with the bot process; this client only
// covers the delivery boundary the scheduler depends on.
type Bot struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

// NewBot creates the delivery client. An empty token disables delivery and
// returns nil; callers treat a nil bot as "log only".
func NewBot(token string, logger *zap.Logger) (*Bot, error) {
	if token == "" {
		logger.Info("Telegram bot is disabled (empty token)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))
	return &Bot{api: botAPI, logger: logger}, nil
}

// DeliverRun sends every question of the run as a quiz poll, pausing the
// configured interval between questions. The first send failure aborts the
// run so the scheduler's retry policy decides what happens next.
func (b *Bot) DeliverRun(ctx context.Context, run *models.QuizRun, sub *models.ChatSubscription) error {
	if b == nil {
		return nil // Delivery disabled.
	}

	for i, q := range run.Questions {
		if i > 0 && sub.IntervalSeconds > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(sub.IntervalSeconds) * time.Second):
			}
		}
		if err := b.sendQuestion(run.ChatID, &q, sub.PollOpenSeconds); err != nil {
			return fmt.Errorf("%w: question %d of run %s: %v", models.ErrDelivery, i, run.ID, err)
		}
	}
	b.logger.Info("quiz run sent",
		zap.String("run_id", run.ID), zap.Int64("chat_id", run.ChatID), zap.Int("questions", len(run.Questions)))
	return nil
}

func (b *Bot) sendQuestion(chatID int64, q *models.Question, openSeconds int) error {
	correct := int64(-1)
	for i, opt := range q.Options {
		if opt == q.Correct {
			correct = int64(i)
			break
		}
	}
	if correct < 0 {
		return fmt.Errorf("correct answer missing from options for question %s", q.ID)
	}

	poll := tgbotapi.NewPoll(chatID, q.Question, q.Options...)
	poll.Type = "quiz"
	poll.CorrectOptionID = correct
	poll.IsAnonymous = false
	poll.OpenPeriod = openSeconds
	if q.Explanation != "" {
		poll.Explanation = q.Explanation
	}

	_, err := b.api.Send(poll)
	return err
}
