package models

import "time"

// Blacklist subject kinds.
const (
	SubjectUser = "user"
	SubjectChat = "chat"
)

// BlacklistEntry is one ban record. Presence of an entry is the sole
// authority for "is banned"; unban is a hard delete.
type BlacklistEntry struct {
	SubjectID   int64     `db:"subject_id" json:"-"`
	SubjectKind string    `db:"subject_kind" json:"-"`
	Name        string    `db:"name" json:"name"`
	Reason      string    `db:"reason" json:"reason"`
	BannedAt    time.Time `db:"banned_at" json:"banned_at"`
	BannedBy    string    `db:"banned_by" json:"banned_by"`
}
