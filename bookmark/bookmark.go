// Package bookmark tracks each named consumer's progress through the event
// log as a single (name -> sequence) row. Grounded on the teacher's
// background.Repository (background/db.go), whose sqlx-based
// upsert-by-conflict pattern for job rows is generalized here from a job's
// full aggregate state down to a single (name, value) pair.
package bookmark

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Bookmark is one consumer's last successfully processed store-global
// sequence. A Bookmark for a name never seen before reads as Sequence 0.
type Bookmark struct {
	Name     string
	Sequence int64
}

// Store is the bookmark dependency package async polls and saves against.
type Store interface {
	BookmarkFor(ctx context.Context, name string) (Bookmark, error)
	Save(ctx context.Context, name string, sequence int64) error
}

// EnsureSchema creates the bookmarks table if it does not already exist.
// Safe to call on every startup.
func EnsureSchema(db *sqlx.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS bookmarks (
		name VARCHAR(160) PRIMARY KEY,
		value BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	return err
}

// SQLStore is a Store backed by either SQL dialect this module supports;
// sqlx.DB.Rebind picks the right placeholder style for whichever driver it
// was opened with.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps db.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

type bookmarkRow struct {
	Name  string `db:"name"`
	Value int64  `db:"value"`
}

func (s *SQLStore) BookmarkFor(ctx context.Context, name string) (Bookmark, error) {
	var row bookmarkRow
	query := s.db.Rebind(`SELECT name, value FROM bookmarks WHERE name = ?`)
	err := s.db.GetContext(ctx, &row, query, name)
	if err == sql.ErrNoRows {
		return Bookmark{Name: name, Sequence: 0}, nil
	}
	if err != nil {
		return Bookmark{}, err
	}
	return Bookmark{Name: row.Name, Sequence: row.Value}, nil
}

func (s *SQLStore) Save(ctx context.Context, name string, sequence int64) error {
	query := s.db.Rebind(`
		INSERT INTO bookmarks (name, value, created_at, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE
		SET value = ?, updated_at = CURRENT_TIMESTAMP`)
	_, err := s.db.ExecContext(ctx, query, name, sequence, sequence)
	return err
}
