package sqlitestore

import (
	"context"
	"database/sql"

	"github.com/hashicorp/go-multierror"

	"github.com/kestrelhq/escore/log"
)

type schema struct {
	Config Config
}

var statements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		sequence INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		aggregate_sequence INTEGER NOT NULL,
		aggregate_id TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		json_body TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS events_aggregate_sequence_idx
		ON events (aggregate_id, aggregate_sequence)`,
	`CREATE INDEX IF NOT EXISTS events_type_idx ON events (event_type, aggregate_type)`,
	`CREATE TABLE IF NOT EXISTS sequence_stats (
		event_type TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL
	)`,
}

func (s schema) Make(db *sql.DB) error {
	log.Info(context.Background(), "creating sqlite event store schema", log.F{})

	var result error
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
