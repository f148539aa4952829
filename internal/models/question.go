package models

// Difficulty levels accepted for a question.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Question is one quiz question inside a category. ID is a never-reused
// identifier assigned on creation; Index is the positional address within the
// category and shifts when earlier questions are deleted (callers must
// re-fetch after structural changes).
type Question struct {
	ID          string   `db:"id" json:"id"`
	Index       int      `db:"-" json:"index"`
	Question    string   `db:"question" json:"question"`
	Options     []string `db:"-" json:"options"`
	Correct     string   `db:"correct" json:"correct"`
	Explanation string   `db:"explanation" json:"explanation,omitempty"`
	Difficulty  string   `db:"difficulty" json:"difficulty"`
}

// Category groups questions under a globally unique name.
type Category struct {
	Name          string `db:"name" json:"name"`
	QuestionCount int    `db:"question_count" json:"count"`
}

// ValidDifficulty reports whether d is one of the accepted difficulty levels.
// The empty string is allowed and defaults to medium at the boundary.
func ValidDifficulty(d string) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}
