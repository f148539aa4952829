package selector

import (
	"testing"
	"time"

	"backend/internal/models"
	"backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSelector(t *testing.T, categories ...string) (*Selector, *repository.MemoryUsageRepository) {
	t.Helper()
	questions := repository.NewMemoryQuestionRepository()
	for _, name := range categories {
		require.NoError(t, questions.CreateCategory(name))
		_, err := questions.AddQuestion(name, &models.Question{
			Question: "What is the capital of France?",
			Options:  []string{"Paris", "Lyon"},
			Correct:  "Paris",
		})
		require.NoError(t, err)
	}
	usage := repository.NewMemoryUsageRepository()
	return New(questions, usage, DefaultOptions(), zap.NewNop()), usage
}

func TestSelectCategoriesRejectsNonPositiveCount(t *testing.T) {
	sel, _ := newTestSelector(t, "Space")

	_, err := sel.SelectCategories(1, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = sel.SelectCategories(1, -3)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSelectCategoriesNoCategories(t *testing.T) {
	sel, _ := newTestSelector(t)

	_, err := sel.SelectCategories(1, 1)
	assert.ErrorIs(t, err, models.ErrNoCategoriesAvailable)
}

func TestSelectCategoriesDeterministicOrder(t *testing.T) {
	sel, _ := newTestSelector(t, "History", "Art", "Space")

	selected, err := sel.SelectCategories(1, 3)
	require.NoError(t, err)
	// All unused, equal weight: ties break alphabetically.
	assert.Equal(t, []string{"Art", "History", "Space"}, selected)
}

func TestSelectCommitsUsageAndExcludesWithinCoolDown(t *testing.T) {
	sel, usage := newTestSelector(t, "Space", "History")

	selected, err := sel.SelectCategories(42, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	first := selected[0]

	committed, err := usage.GetUsage(42)
	require.NoError(t, err)
	require.Contains(t, committed, first)
	assert.Equal(t, 1, committed[first].UsageCount)

	// The just-used category is inside the cool-down window, so the next
	// selection for the same chat must return the other one.
	selected, err = sel.SelectCategories(42, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.NotEqual(t, first, selected[0])
}

func TestSelectCoolDownScenario(t *testing.T) {
	// Category A used at day 0 and day 1; selection on day 1 for count=1 with
	// only {A, B} available excludes A and returns B.
	sel, usage := newTestSelector(t, "A", "B")

	day0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	day1 := day0.AddDate(0, 0, 1)
	require.NoError(t, usage.CommitUsage(7, []string{"A"}, day0))
	require.NoError(t, usage.CommitUsage(7, []string{"A"}, day1))

	sel.now = func() time.Time { return day1.Add(time.Hour) }

	selected, err := sel.SelectCategories(7, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, selected)
}

func TestSelectDegradesBackWhenCoolDownLeavesTooFew(t *testing.T) {
	sel, usage := newTestSelector(t, "A", "B", "C")

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	// A used long ago (admitted), B and C used recently (cooling).
	require.NoError(t, usage.CommitUsage(9, []string{"A"}, now.AddDate(0, 0, -10)))
	require.NoError(t, usage.CommitUsage(9, []string{"B"}, now.Add(-30*time.Hour)))
	require.NoError(t, usage.CommitUsage(9, []string{"C"}, now.Add(-2*time.Hour)))

	sel.now = func() time.Time { return now }

	// Asking for 2 with only one admitted: the least recently used cooling
	// category (B) is admitted back.
	selected, err := sel.SelectCategories(9, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, selected)
}

func TestWeightFavorsOlderAndLessUsed(t *testing.T) {
	sel, usage := newTestSelector(t, "Old", "Fresh")

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, usage.CommitUsage(3, []string{"Old"}, now.AddDate(0, 0, -30)))
	require.NoError(t, usage.CommitUsage(3, []string{"Fresh"}, now.AddDate(0, 0, -3)))

	sel.now = func() time.Time { return now }

	selected, err := sel.SelectCategories(3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Old", "Fresh"}, selected)
}

func TestPickQuestionsRoundRobin(t *testing.T) {
	questions := repository.NewMemoryQuestionRepository()
	for _, name := range []string{"A", "B"} {
		require.NoError(t, questions.CreateCategory(name))
		for i := 0; i < 3; i++ {
			_, err := questions.AddQuestion(name, &models.Question{
				Question: name + " question",
				Options:  []string{"yes", "no"},
				Correct:  "yes",
			})
			require.NoError(t, err)
		}
	}
	sel := New(questions, repository.NewMemoryUsageRepository(), DefaultOptions(), zap.NewNop())

	picked, err := sel.PickQuestions([]string{"A", "B"}, 4)
	require.NoError(t, err)
	require.Len(t, picked, 4)
	assert.Equal(t, "A question", picked[0].Question)
	assert.Equal(t, "B question", picked[1].Question)
}

func TestPickQuestionsExhaustedPool(t *testing.T) {
	sel, _ := newTestSelector(t, "Tiny")

	picked, err := sel.PickQuestions([]string{"Tiny"}, 10)
	require.NoError(t, err)
	// Only one question exists; the run is smaller than requested.
	assert.Len(t, picked, 1)
}
