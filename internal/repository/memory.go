package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"backend/internal/models"

	"github.com/google/uuid"
)

// In-memory implementations of the repository interfaces. Used by tests and
// by the `storage: memory` configuration for local development; the process
// loses state on restart, everything else behaves like the Postgres variants.

type MemoryQuestionRepository struct {
	mu         sync.RWMutex
	categories map[string][]models.Question
}

func NewMemoryQuestionRepository() *MemoryQuestionRepository {
	return &MemoryQuestionRepository{categories: make(map[string][]models.Question)}
}

func (r *MemoryQuestionRepository) ListCategories() ([]models.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	categories := make([]models.Category, 0, len(r.categories))
	for name, questions := range r.categories {
		categories = append(categories, models.Category{Name: name, QuestionCount: len(questions)})
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (r *MemoryQuestionRepository) CreateCategory(name string) error {
	if name == "" {
		return fmt.Errorf("%w: category name is empty", models.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[name]; ok {
		return fmt.Errorf("%w: category %q already exists", models.ErrValidation, name)
	}
	r.categories[name] = nil
	return nil
}

func (r *MemoryQuestionRepository) DeleteCategory(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	questions, ok := r.categories[name]
	if !ok {
		return 0, models.ErrCategoryNotFound
	}
	delete(r.categories, name)
	return len(questions), nil
}

func (r *MemoryQuestionRepository) ListQuestions(category string) ([]models.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	questions, ok := r.categories[category]
	if !ok {
		return nil, models.ErrCategoryNotFound
	}
	out := make([]models.Question, len(questions))
	for i, q := range questions {
		q.Index = i
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out, nil
}

func (r *MemoryQuestionRepository) GetQuestion(category string, index int) (*models.Question, error) {
	questions, err := r.ListQuestions(category)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(questions) {
		return nil, models.ErrQuestionIndex
	}
	q := questions[index]
	return &q, nil
}

func (r *MemoryQuestionRepository) AddQuestion(category string, q *models.Question) (int, error) {
	if err := ValidateQuestion(q); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(category, q)
}

func (r *MemoryQuestionRepository) addLocked(category string, q *models.Question) (int, error) {
	questions, ok := r.categories[category]
	if !ok {
		return 0, models.ErrCategoryNotFound
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	stored := *q
	stored.Options = append([]string(nil), q.Options...)
	r.categories[category] = append(questions, stored)
	index := len(questions)
	q.Index = index
	return index, nil
}

func (r *MemoryQuestionRepository) UpdateQuestion(category string, index int, q *models.Question) error {
	if err := ValidateQuestion(q); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	questions, ok := r.categories[category]
	if !ok {
		return models.ErrCategoryNotFound
	}
	if index < 0 || index >= len(questions) {
		return models.ErrQuestionIndex
	}
	stored := *q
	stored.ID = questions[index].ID
	stored.Options = append([]string(nil), q.Options...)
	questions[index] = stored
	return nil
}

func (r *MemoryQuestionRepository) DeleteQuestion(category string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.deleteLocked(category, index)
	return err
}

func (r *MemoryQuestionRepository) deleteLocked(category string, index int) (*models.Question, error) {
	questions, ok := r.categories[category]
	if !ok {
		return nil, models.ErrCategoryNotFound
	}
	if index < 0 || index >= len(questions) {
		return nil, models.ErrQuestionIndex
	}
	removed := questions[index]
	r.categories[category] = append(questions[:index], questions[index+1:]...)
	return &removed, nil
}

func (r *MemoryQuestionRepository) MoveQuestion(fromCategory string, index int, toCategory string) error {
	if fromCategory == toCategory {
		return fmt.Errorf("%w: source and target category are the same", models.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Check the target before touching the source so a bad target never
	// leaves the question deleted.
	if _, ok := r.categories[toCategory]; !ok {
		return fmt.Errorf("%w: target %v", models.ErrConsistency, models.ErrCategoryNotFound)
	}
	q, err := r.deleteLocked(fromCategory, index)
	if err != nil {
		return err
	}
	if _, err := r.addLocked(toCategory, q); err != nil {
		return fmt.Errorf("%w: re-adding question to %q: %v", models.ErrConsistency, toCategory, err)
	}
	return nil
}

type MemoryUsageRepository struct {
	mu    sync.RWMutex
	usage map[int64]map[string]models.CategoryUsage
}

func NewMemoryUsageRepository() *MemoryUsageRepository {
	return &MemoryUsageRepository{usage: make(map[int64]map[string]models.CategoryUsage)}
}

func (r *MemoryUsageRepository) GetUsage(chatID int64) (map[string]models.CategoryUsage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.CategoryUsage, len(r.usage[chatID]))
	for name, u := range r.usage[chatID] {
		out[name] = u
	}
	return out, nil
}

func (r *MemoryUsageRepository) CommitUsage(chatID int64, categories []string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byChat := r.usage[chatID]
	if byChat == nil {
		byChat = make(map[string]models.CategoryUsage)
		r.usage[chatID] = byChat
	}
	for _, name := range categories {
		u := byChat[name]
		u.ChatID = chatID
		u.CategoryName = name
		u.LastUsedAt = usedAt
		u.UsageCount++
		byChat[name] = u
	}
	return nil
}

func (r *MemoryUsageRepository) ResetChatUsage(chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.usage, chatID)
	return nil
}

type chatRecord struct {
	chat    models.Chat
	sub     *models.ChatSubscription
	markers map[string]string // slot -> fired day
}

type MemoryChatRepository struct {
	mu    sync.RWMutex
	chats map[int64]*chatRecord

	stats *MemoryStatsRepository // optional, for aggregate chat summaries
}

func NewMemoryChatRepository(stats *MemoryStatsRepository) *MemoryChatRepository {
	return &MemoryChatRepository{chats: make(map[int64]*chatRecord), stats: stats}
}

func (r *MemoryChatRepository) summarize(rec *chatRecord) *models.Chat {
	chat := rec.chat
	if rec.sub != nil {
		sub := *rec.sub
		sub.TimesMSK = append([]models.QuizTime(nil), rec.sub.TimesMSK...)
		chat.Subscription = &sub
	}
	if r.stats != nil {
		stats, _ := r.stats.ListChatStats(chat.ID)
		chat.UserCount = len(stats)
		chat.TotalScore = 0
		for _, s := range stats {
			chat.TotalScore += s.Score
			if s.LastAnswerAt != nil && (chat.LastActivity == nil || s.LastAnswerAt.After(*chat.LastActivity)) {
				t := *s.LastAnswerAt
				chat.LastActivity = &t
			}
		}
	}
	return &chat
}

func (r *MemoryChatRepository) GetAllChats() ([]*models.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chats := make([]*models.Chat, 0, len(r.chats))
	for _, rec := range r.chats {
		chats = append(chats, r.summarize(rec))
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return chats, nil
}

func (r *MemoryChatRepository) GetChatByID(id int64) (*models.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chats[id]
	if !ok {
		return nil, models.ErrChatNotFound
	}
	return r.summarize(rec), nil
}

func (r *MemoryChatRepository) UpsertChat(chat *models.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.chats[chat.ID]
	if !ok {
		rec = &chatRecord{markers: make(map[string]string)}
		r.chats[chat.ID] = rec
	}
	rec.chat = models.Chat{ID: chat.ID, Title: chat.Title, IsGroup: chat.IsGroup}
	return nil
}

func (r *MemoryChatRepository) DeleteChat(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[id]; !ok {
		return models.ErrChatNotFound
	}
	delete(r.chats, id)
	return nil
}

func (r *MemoryChatRepository) GetSubscription(chatID int64) (*models.ChatSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chats[chatID]
	if !ok || rec.sub == nil {
		return nil, nil
	}
	sub := *rec.sub
	sub.TimesMSK = append([]models.QuizTime(nil), rec.sub.TimesMSK...)
	return &sub, nil
}

func (r *MemoryChatRepository) ListEnabledSubscriptions() ([]*models.ChatSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var subs []*models.ChatSubscription
	for _, rec := range r.chats {
		if rec.sub != nil && rec.sub.Enabled {
			sub := *rec.sub
			sub.TimesMSK = append([]models.QuizTime(nil), rec.sub.TimesMSK...)
			subs = append(subs, &sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ChatID < subs[j].ChatID })
	return subs, nil
}

func (r *MemoryChatRepository) SaveSubscription(sub *models.ChatSubscription) error {
	if err := ValidateSubscription(sub); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.chats[sub.ChatID]
	if !ok {
		rec = &chatRecord{chat: models.Chat{ID: sub.ChatID}, markers: make(map[string]string)}
		r.chats[sub.ChatID] = rec
	}
	stored := *sub
	stored.TimesMSK = append([]models.QuizTime(nil), sub.TimesMSK...)
	rec.sub = &stored
	return nil
}

func (r *MemoryChatRepository) LastFiredDay(chatID int64, slot string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chats[chatID]
	if !ok {
		return "", nil
	}
	return rec.markers[slot], nil
}

func (r *MemoryChatRepository) MarkFiredIfUnfired(chatID int64, slot, day string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.chats[chatID]
	if !ok {
		rec = &chatRecord{chat: models.Chat{ID: chatID}, markers: make(map[string]string)}
		r.chats[chatID] = rec
	}
	if rec.markers[slot] == day {
		return false, nil
	}
	rec.markers[slot] = day
	return true, nil
}

type statKey struct {
	userID int64
	chatID int64
}

type achievementKey struct {
	userID int64
	chatID int64
	ruleID string
}

type MemoryStatsRepository struct {
	mu           sync.RWMutex
	stats        map[statKey]models.UserStat
	achievements map[achievementKey]models.Achievement
	events       map[string]time.Time
}

func NewMemoryStatsRepository() *MemoryStatsRepository {
	return &MemoryStatsRepository{
		stats:        make(map[statKey]models.UserStat),
		achievements: make(map[achievementKey]models.Achievement),
		events:       make(map[string]time.Time),
	}
}

func (r *MemoryStatsRepository) GetUserStat(userID, chatID int64) (*models.UserStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stat, ok := r.stats[statKey{userID, chatID}]
	if !ok {
		return nil, nil
	}
	return &stat, nil
}

func (r *MemoryStatsRepository) SaveUserStat(stat *models.UserStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[statKey{stat.UserID, stat.ChatID}] = *stat
	return nil
}

func (r *MemoryStatsRepository) list(filter func(models.UserStat) bool) []models.UserStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.UserStat
	for _, stat := range r.stats {
		if filter(stat) {
			out = append(out, stat)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r *MemoryStatsRepository) ListChatStats(chatID int64) ([]models.UserStat, error) {
	return r.list(func(s models.UserStat) bool { return s.ChatID == chatID }), nil
}

func (r *MemoryStatsRepository) ListUserStats(userID int64) ([]models.UserStat, error) {
	return r.list(func(s models.UserStat) bool { return s.UserID == userID }), nil
}

func (r *MemoryStatsRepository) ListAllStats() ([]models.UserStat, error) {
	return r.list(func(models.UserStat) bool { return true }), nil
}

func resetStat(stat *models.UserStat) {
	stat.Score = 0
	stat.AnsweredCount = 0
	stat.ConsecutiveCorrect = 0
	stat.MaxConsecutiveCorrect = 0
	stat.LastAnswerAt = nil
}

func (r *MemoryStatsRepository) ResetUserStats(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for key, stat := range r.stats {
		if key.userID == userID {
			resetStat(&stat)
			r.stats[key] = stat
			found = true
		}
	}
	if !found {
		return models.ErrUserNotFound
	}
	return nil
}

func (r *MemoryStatsRepository) ResetChatStats(chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, stat := range r.stats {
		if key.chatID == chatID {
			resetStat(&stat)
			r.stats[key] = stat
		}
	}
	return nil
}

func (r *MemoryStatsRepository) DeleteUser(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for key := range r.stats {
		if key.userID == userID {
			delete(r.stats, key)
			found = true
		}
	}
	for key := range r.achievements {
		if key.userID == userID {
			delete(r.achievements, key)
		}
	}
	if !found {
		return models.ErrUserNotFound
	}
	return nil
}

func (r *MemoryStatsRepository) DeleteChatStats(chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.stats {
		if key.chatID == chatID {
			delete(r.stats, key)
		}
	}
	for key := range r.achievements {
		if key.chatID == chatID {
			delete(r.achievements, key)
		}
	}
	return nil
}

func (r *MemoryStatsRepository) HasEvent(eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.events[eventID]
	return ok, nil
}

func (r *MemoryStatsRepository) RecordEvent(eventID string, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[eventID] = processedAt
	return nil
}

func (r *MemoryStatsRepository) CountEventsByDay(since time.Time) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, processedAt := range r.events {
		if processedAt.Before(since) {
			continue
		}
		counts[processedAt.UTC().Format("2006-01-02")]++
	}
	return counts, nil
}

func (r *MemoryStatsRepository) AddAchievement(a *models.Achievement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := achievementKey{a.UserID, a.ChatID, a.RuleID}
	if _, ok := r.achievements[key]; ok {
		return false, nil
	}
	r.achievements[key] = *a
	return true, nil
}

func (r *MemoryStatsRepository) ListAchievements(userID int64) ([]models.Achievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Achievement
	for key, a := range r.achievements {
		if key.userID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.After(out[j].EarnedAt) })
	return out, nil
}

type MemoryAuthRepository struct {
	mu    sync.RWMutex
	users map[string]models.AdminUser
	nexts int64
}

func NewMemoryAuthRepository() *MemoryAuthRepository {
	return &MemoryAuthRepository{users: make(map[string]models.AdminUser)}
}

func (r *MemoryAuthRepository) CreateUser(user *models.AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Username]; ok {
		return fmt.Errorf("%w: username %q taken", models.ErrValidation, user.Username)
	}
	r.nexts++
	user.ID = r.nexts
	user.CreatedAt = time.Now()
	r.users[user.Username] = *user
	return nil
}

func (r *MemoryAuthRepository) GetUserByUsername(username string) (*models.AdminUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[username]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &user, nil
}

func (r *MemoryAuthRepository) CountUsers() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

type blacklistKey struct {
	subjectID int64
	kind      string
}

type MemoryBlacklistRepository struct {
	mu      sync.RWMutex
	entries map[blacklistKey]models.BlacklistEntry
}

func NewMemoryBlacklistRepository() *MemoryBlacklistRepository {
	return &MemoryBlacklistRepository{entries: make(map[blacklistKey]models.BlacklistEntry)}
}

func (r *MemoryBlacklistRepository) Ban(entry *models.BlacklistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[blacklistKey{entry.SubjectID, entry.SubjectKind}] = *entry
	return nil
}

func (r *MemoryBlacklistRepository) Unban(subjectID int64, kind string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := blacklistKey{subjectID, kind}
	if _, ok := r.entries[key]; !ok {
		return false, nil
	}
	delete(r.entries, key)
	return true, nil
}

func (r *MemoryBlacklistRepository) IsBanned(subjectID int64, kind string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[blacklistKey{subjectID, kind}]
	return ok, nil
}

func (r *MemoryBlacklistRepository) List() ([]models.BlacklistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.BlacklistEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BannedAt.After(out[j].BannedAt) })
	return out, nil
}
