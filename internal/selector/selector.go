package selector

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"backend/internal/models"
	"backend/internal/repository"

	"go.uber.org/zap"
)

// Options tune the weighting formula. Categories used within CoolDown are
// excluded from selection outright; among the rest, weight favors categories
// unused longest and used least often.
type Options struct {
	CoolDown     time.Duration
	AgeFactor    float64
	UsagePenalty float64
}

// DefaultOptions matches the original bot behavior: two-day cool-down.
func DefaultOptions() Options {
	return Options{
		CoolDown:     48 * time.Hour,
		AgeFactor:    1.0,
		UsagePenalty: 0.1,
	}
}

// Selector picks quiz categories for a chat and commits their usage. The
// selection-and-commit pair is serialized per chat: two concurrent quiz runs
// for the same chat never double-count a category, while unrelated chats
// proceed independently.
type Selector struct {
	questions repository.QuestionRepository
	usage     repository.UsageRepository
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	chatLocks map[int64]*sync.Mutex
}

func New(questions repository.QuestionRepository, usage repository.UsageRepository, opts Options, logger *zap.Logger) *Selector {
	return &Selector{
		questions: questions,
		usage:     usage,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		chatLocks: make(map[int64]*sync.Mutex),
	}
}

func (s *Selector) chatLock(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.chatLocks[chatID] = lock
	}
	return lock
}

type candidate struct {
	name   string
	weight float64
	used   time.Time // zero when never used
}

// SelectCategories returns up to count category names for the chat, highest
// weight first, and atomically commits usage for the returned set.
func (s *Selector) SelectCategories(chatID int64, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", models.ErrValidation)
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	categories, err := s.questions.ListCategories()
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	usage, err := s.usage.GetUsage(chatID)
	if err != nil {
		return nil, fmt.Errorf("loading category usage: %w", err)
	}

	now := s.now()
	var admitted []candidate
	var cooling []candidate
	for _, c := range categories {
		if c.QuestionCount == 0 {
			continue
		}
		u, ok := usage[c.Name]
		cand := candidate{name: c.Name}
		if ok {
			cand.used = u.LastUsedAt
			cand.weight = s.weigh(now, u)
			if now.Sub(u.LastUsedAt) < s.opts.CoolDown {
				cooling = append(cooling, cand)
				continue
			}
		} else {
			cand.weight = s.weigh(now, models.CategoryUsage{LastUsedAt: time.Time{}})
		}
		admitted = append(admitted, cand)
	}

	// Degrade gracefully: if the cool-down exclusion leaves fewer categories
	// than requested, admit the least recently excluded ones back.
	if len(admitted) < count && len(cooling) > 0 {
		sort.Slice(cooling, func(i, j int) bool {
			if !cooling[i].used.Equal(cooling[j].used) {
				return cooling[i].used.Before(cooling[j].used)
			}
			return cooling[i].name < cooling[j].name
		})
		missing := count - len(admitted)
		if missing > len(cooling) {
			missing = len(cooling)
		}
		s.logger.Warn("cool-down window leaves too few categories, admitting recently used ones back",
			zap.Int64("chat_id", chatID), zap.Int("admitted_back", missing))
		admitted = append(admitted, cooling[:missing]...)
	}

	if len(admitted) == 0 {
		return nil, models.ErrNoCategoriesAvailable
	}

	// Highest weight first; ties alphabetical so selection is deterministic.
	sort.Slice(admitted, func(i, j int) bool {
		if admitted[i].weight != admitted[j].weight {
			return admitted[i].weight > admitted[j].weight
		}
		return admitted[i].name < admitted[j].name
	})
	if len(admitted) > count {
		admitted = admitted[:count]
	}

	selected := make([]string, len(admitted))
	for i, c := range admitted {
		selected[i] = c.name
	}
	if err := s.usage.CommitUsage(chatID, selected, now); err != nil {
		return nil, fmt.Errorf("committing category usage: %w", err)
	}
	return selected, nil
}

// weigh computes daysSinceUse*AgeFactor - usageCount*UsagePenalty. A category
// never used counts as 365 days old so it outranks any recently used one.
func (s *Selector) weigh(now time.Time, u models.CategoryUsage) float64 {
	days := 365.0
	if !u.LastUsedAt.IsZero() {
		days = now.Sub(u.LastUsedAt).Hours() / 24
	}
	return days*s.opts.AgeFactor - float64(u.UsageCount)*s.opts.UsagePenalty
}

// PickQuestions draws the questions for a quiz run: one pass over the
// selected categories in order, taking questions round-robin until total is
// reached or the pool is exhausted.
func (s *Selector) PickQuestions(categories []string, total int) ([]models.Question, error) {
	pools := make([][]models.Question, 0, len(categories))
	for _, name := range categories {
		questions, err := s.questions.ListQuestions(name)
		if err != nil {
			s.logger.Warn("skipping category while building run", zap.String("category", name), zap.Error(err))
			continue
		}
		if len(questions) > 0 {
			pools = append(pools, questions)
		}
	}

	var picked []models.Question
	for round := 0; len(picked) < total; round++ {
		progressed := false
		for _, pool := range pools {
			if round < len(pool) {
				picked = append(picked, pool[round])
				progressed = true
				if len(picked) == total {
					break
				}
			}
		}
		if !progressed {
			break
		}
	}
	if len(picked) == 0 {
		return nil, models.ErrNoCategoriesAvailable
	}
	return picked, nil
}
