// Package seqstats is the per-event-class high-water-mark cache the event
// store upserts into inside its sink transaction, so LastSequence never has
// to scan the events table. One Store implementation serves both SQL
// dialects: jmoiron/sqlx's Rebind translates the `?` placeholders below to
// Postgres's `$N` form, and LastSequence expands its class filter with
// sqlx.In before rebinding, the same DB-agnostic-query idiom background/db.go
// uses for its job upserts.
package seqstats

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// New wraps db. The caller's dialect must already have created the
// sequence_stats table (each eventstore dialect's schema does this as part
// of its own Make, since the table lives alongside events).
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Store is an eventstore.SeqStatsStore.
type Store struct {
	db *sqlx.DB
}

// UpsertTx records sequence as the high-water mark for eventType, inside
// tx, unless a higher sequence was already recorded (out-of-order upserts
// can happen if a sink retries after a partial failure).
func (s *Store) UpsertTx(tx *sql.Tx, eventType string, sequence int64) error {
	query := s.db.Rebind(`
		INSERT INTO sequence_stats (event_type, sequence) VALUES (?, ?)
		ON CONFLICT(event_type) DO UPDATE
		SET sequence = excluded.sequence
		WHERE excluded.sequence > sequence_stats.sequence`)
	_, err := tx.Exec(query, eventType, sequence)
	return err
}

// LastSequence answers the cached high-water mark, optionally restricted to
// eventClasses (empty means every class).
func (s *Store) LastSequence(eventClasses []string) (int64, error) {
	if len(eventClasses) == 0 {
		var max sql.NullInt64
		if err := s.db.Get(&max, "SELECT MAX(sequence) FROM sequence_stats"); err != nil {
			return 0, err
		}
		return max.Int64, nil
	}

	query, args, err := sqlx.In("SELECT MAX(sequence) FROM sequence_stats WHERE event_type IN (?)", eventClasses)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)

	var max sql.NullInt64
	if err := s.db.Get(&max, query, args...); err != nil {
		return 0, err
	}
	return max.Int64, nil
}
