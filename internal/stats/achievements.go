package stats

import (
	"fmt"

	"backend/internal/models"

	"go.uber.org/zap"
)

// Streak thresholds and score milestones that earn a badge.
var (
	streakThresholds = []int{5, 10, 25}
	scoreMilestones  = []float64{50, 100, 250, 500}
)

// evaluateAchievements checks the updated stat against every rule and records
// newly qualifying badges. Recording is deduplicated by (user, rule, chat) in
// the store, so re-evaluation after a retried event cannot double-award.
func (a *Aggregator) evaluateAchievements(stat *models.UserStat, event *models.AnswerEvent) {
	var chatTitle *string
	if chat, err := a.chats.GetChatByID(event.ChatID); err == nil && chat != nil && chat.Title != "" {
		chatTitle = &chat.Title
	}

	award := func(ruleID, kind, title, description string) {
		badge := &models.Achievement{
			UserID:      stat.UserID,
			ChatID:      stat.ChatID,
			RuleID:      ruleID,
			Type:        kind,
			Icon:        models.AchievementIcon(kind),
			Title:       title,
			Description: description,
			ChatTitle:   chatTitle,
			EarnedAt:    event.Timestamp,
		}
		added, err := a.stats.AddAchievement(badge)
		if err != nil {
			a.logger.Error("failed to record achievement",
				zap.String("rule", ruleID), zap.Int64("user_id", stat.UserID), zap.Error(err))
			return
		}
		if added {
			a.logger.Info("achievement earned",
				zap.String("rule", ruleID), zap.Int64("user_id", stat.UserID), zap.Int64("chat_id", stat.ChatID))
		}
	}

	if stat.AnsweredCount == 1 {
		award("first_answer", models.AchievementMotivational,
			"First answer", "Answered a quiz question for the first time in this chat")
	}

	for _, threshold := range streakThresholds {
		if stat.ConsecutiveCorrect >= threshold {
			award(fmt.Sprintf("streak_%d", threshold), models.AchievementStreak,
				fmt.Sprintf("Streak: %d in a row", threshold),
				fmt.Sprintf("A run of %d consecutive correct answers", threshold))
		}
	}

	for _, milestone := range scoreMilestones {
		if stat.Score >= milestone {
			award(fmt.Sprintf("score_%d", int(milestone)), models.AchievementChat,
				fmt.Sprintf("Chat milestone: %d points", int(milestone)),
				fmt.Sprintf("Scored %d points in this chat", int(milestone)))
		}
	}
}
