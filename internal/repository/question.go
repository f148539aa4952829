package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"backend/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// QuestionRepository is the category-scoped question store. Question indices
// are positional: deleting an earlier question shifts later indices, so
// callers must re-fetch after structural changes.
type QuestionRepository interface {
	ListCategories() ([]models.Category, error)
	CreateCategory(name string) error
	// DeleteCategory cascades to all contained questions and reports how many
	// were removed, for audit purposes.
	DeleteCategory(name string) (int, error)

	ListQuestions(category string) ([]models.Question, error)
	GetQuestion(category string, index int) (*models.Question, error)
	// AddQuestion returns the index assigned to the new question.
	AddQuestion(category string, q *models.Question) (int, error)
	UpdateQuestion(category string, index int, q *models.Question) error
	DeleteQuestion(category string, index int) error
	// MoveQuestion is delete-then-add, atomic from the caller's perspective:
	// on failure the original location is left undisturbed.
	MoveQuestion(fromCategory string, index int, toCategory string) error
}

// ValidateQuestion checks the canonical question shape: at least two unique
// options and a correct answer that is one of them.
func ValidateQuestion(q *models.Question) error {
	if q.Question == "" {
		return fmt.Errorf("%w: question text is empty", models.ErrValidation)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: need at least two options", models.ErrValidation)
	}
	seen := make(map[string]struct{}, len(q.Options))
	for _, opt := range q.Options {
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("%w: duplicate option %q", models.ErrValidation, opt)
		}
		seen[opt] = struct{}{}
	}
	if _, ok := seen[q.Correct]; !ok {
		return fmt.Errorf("%w: correct answer is not one of the options", models.ErrValidation)
	}
	if q.Difficulty == "" {
		q.Difficulty = models.DifficultyMedium
	}
	if !models.ValidDifficulty(q.Difficulty) {
		return fmt.Errorf("%w: unknown difficulty %q", models.ErrValidation, q.Difficulty)
	}
	return nil
}

type questionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewQuestionRepository(db *sqlx.DB, logger *zap.Logger) QuestionRepository {
	return &questionRepository{db: db, logger: logger}
}

func (r *questionRepository) ListCategories() ([]models.Category, error) {
	var categories []models.Category
	query := `
		SELECT c.name, COUNT(q.id) AS question_count
		FROM categories c
		LEFT JOIN questions q ON q.category_name = c.name
		GROUP BY c.name
		ORDER BY c.name
	`
	if err := r.db.Select(&categories, query); err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *questionRepository) CreateCategory(name string) error {
	if name == "" {
		return fmt.Errorf("%w: category name is empty", models.ErrValidation)
	}
	res, err := r.db.Exec(`INSERT INTO categories (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: category %q already exists", models.ErrValidation, name)
	}
	return nil
}

func (r *questionRepository) DeleteCategory(name string) (int, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var removed int
	if err := tx.Get(&removed, `SELECT COUNT(*) FROM questions WHERE category_name = $1`, name); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM categories WHERE name = $1`, name)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, models.ErrCategoryNotFound
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

const questionColumns = `id, question, options, correct, explanation, difficulty`

func scanQuestions(rows *sqlx.Rows) ([]models.Question, error) {
	var questions []models.Question
	for rows.Next() {
		var q models.Question
		var explanation sql.NullString
		if err := rows.Scan(&q.ID, &q.Question, pq.Array(&q.Options), &q.Correct, &explanation, &q.Difficulty); err != nil {
			return nil, err
		}
		q.Explanation = explanation.String
		q.Index = len(questions)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (r *questionRepository) listInTx(q sqlx.Queryer, category string) ([]models.Question, error) {
	var exists bool
	if err := sqlx.Get(q, &exists, `SELECT EXISTS (SELECT 1 FROM categories WHERE name = $1)`, category); err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.ErrCategoryNotFound
	}
	rows, err := q.Queryx(
		`SELECT `+questionColumns+` FROM questions WHERE category_name = $1 ORDER BY position`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuestions(rows)
}

func (r *questionRepository) ListQuestions(category string) ([]models.Question, error) {
	return r.listInTx(r.db, category)
}

func (r *questionRepository) GetQuestion(category string, index int) (*models.Question, error) {
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

func (r *questionRepository) addInTx(tx *sqlx.Tx, category string, q *models.Question) (int, error) {
	var exists bool
	if err := tx.Get(&exists, `SELECT EXISTS (SELECT 1 FROM categories WHERE name = $1)`, category); err != nil {
		return 0, err
	}
	if !exists {
		return 0, models.ErrCategoryNotFound
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	var position int
	err := tx.Get(&position,
		`SELECT COALESCE(MAX(position)+1, 0) FROM questions WHERE category_name = $1`, category)
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(`
		INSERT INTO questions (id, category_name, position, question, options, correct, explanation, difficulty)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		q.ID, category, position, q.Question, pq.Array(q.Options), q.Correct, q.Explanation, q.Difficulty)
	if err != nil {
		return 0, err
	}
	var index int
	if err := tx.Get(&index, `SELECT COUNT(*)-1 FROM questions WHERE category_name = $1`, category); err != nil {
		return 0, err
	}
	return index, nil
}

func (r *questionRepository) AddQuestion(category string, q *models.Question) (int, error) {
	if err := ValidateQuestion(q); err != nil {
		return 0, err
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	index, err := r.addInTx(tx, category, q)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	q.Index = index
	return index, nil
}

// questionIDAt resolves a positional index to the stable question id.
func (r *questionRepository) questionIDAt(q sqlx.Queryer, category string, index int) (string, error) {
	var exists bool
	if err := sqlx.Get(q, &exists, `SELECT EXISTS (SELECT 1 FROM categories WHERE name = $1)`, category); err != nil {
		return "", err
	}
	if !exists {
		return "", models.ErrCategoryNotFound
	}
	var id string
	err := sqlx.Get(q, &id,
		`SELECT id FROM questions WHERE category_name = $1 ORDER BY position OFFSET $2 LIMIT 1`,
		category, index)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrQuestionIndex
	}
	return id, err
}

func (r *questionRepository) UpdateQuestion(category string, index int, q *models.Question) error {
	if index < 0 {
		return models.ErrQuestionIndex
	}
	if err := ValidateQuestion(q); err != nil {
		return err
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := r.questionIDAt(tx, category, index)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		UPDATE questions SET question = $1, options = $2, correct = $3, explanation = $4, difficulty = $5
		WHERE id = $6`,
		q.Question, pq.Array(q.Options), q.Correct, q.Explanation, q.Difficulty, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *questionRepository) deleteInTx(tx *sqlx.Tx, category string, index int) (*models.Question, error) {
	if index < 0 {
		return nil, models.ErrQuestionIndex
	}
	id, err := r.questionIDAt(tx, category, index)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRowx(`DELETE FROM questions WHERE id = $1 RETURNING `+questionColumns, id)
	var q models.Question
	var explanation sql.NullString
	if err := row.Scan(&q.ID, &q.Question, pq.Array(&q.Options), &q.Correct, &explanation, &q.Difficulty); err != nil {
		return nil, err
	}
	q.Explanation = explanation.String
	return &q, nil
}

func (r *questionRepository) DeleteQuestion(category string, index int) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := r.deleteInTx(tx, category, index); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *questionRepository) MoveQuestion(fromCategory string, index int, toCategory string) error {
	if fromCategory == toCategory {
		return fmt.Errorf("%w: source and target category are the same", models.ErrValidation)
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q, err := r.deleteInTx(tx, fromCategory, index)
	if err != nil {
		return err
	}
	if _, err := r.addInTx(tx, toCategory, q); err != nil {
		// The transaction rolls back, so the original location stays intact;
		// surface the target-side failure rather than swallowing it.
		r.logger.Error("move question failed after delete, rolling back",
			zap.String("from", fromCategory), zap.Int("index", index),
			zap.String("to", toCategory), zap.Error(err))
		if errors.Is(err, models.ErrCategoryNotFound) {
			return fmt.Errorf("%w: target %v", models.ErrConsistency, err)
		}
		return fmt.Errorf("%w: re-adding question to %q: %v", models.ErrConsistency, toCategory, err)
	}
	return tx.Commit()
}
