package repository

import (
	"backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// BlacklistRepository is the moderation store. Ban is idempotent: re-banning
// a subject updates the reason and timestamp instead of erroring.
type BlacklistRepository interface {
	Ban(entry *models.BlacklistEntry) error
	// Unban hard-deletes the entry; reports false when the subject was not
	// banned, which the admin surface treats as a normal outcome.
	Unban(subjectID int64, kind string) (bool, error)
	IsBanned(subjectID int64, kind string) (bool, error)
	List() ([]models.BlacklistEntry, error)
}

type blacklistRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewBlacklistRepository(db *sqlx.DB, logger *zap.Logger) BlacklistRepository {
	return &blacklistRepository{db: db, logger: logger}
}

func (r *blacklistRepository) Ban(entry *models.BlacklistEntry) error {
	_, err := r.db.Exec(`
		INSERT INTO blacklist (subject_id, subject_kind, name, reason, banned_at, banned_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_id, subject_kind) DO UPDATE SET
			name = EXCLUDED.name,
			reason = EXCLUDED.reason,
			banned_at = EXCLUDED.banned_at,
			banned_by = EXCLUDED.banned_by`,
		entry.SubjectID, entry.SubjectKind, entry.Name, entry.Reason, entry.BannedAt, entry.BannedBy)
	return err
}

func (r *blacklistRepository) Unban(subjectID int64, kind string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM blacklist WHERE subject_id = $1 AND subject_kind = $2`, subjectID, kind)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *blacklistRepository) IsBanned(subjectID int64, kind string) (bool, error) {
	var exists bool
	err := r.db.Get(&exists,
		`SELECT EXISTS (SELECT 1 FROM blacklist WHERE subject_id = $1 AND subject_kind = $2)`,
		subjectID, kind)
	return exists, err
}

func (r *blacklistRepository) List() ([]models.BlacklistEntry, error) {
	var entries []models.BlacklistEntry
	query := `SELECT subject_id, subject_kind, name, reason, banned_at, banned_by FROM blacklist ORDER BY banned_at DESC`
	if err := r.db.Select(&entries, query); err != nil {
		return nil, err
	}
	return entries, nil
}
