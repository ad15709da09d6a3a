package postgres

import (
	"context"
	"database/sql"

	"github.com/hashicorp/go-multierror"

	"github.com/kestrelhq/escore/log"
)

// Schema creates the events table and its supporting constraints/index. It
// is safe to call on every startup; every statement is idempotent.
type Schema struct {
	Config Config
}

var statements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		sequence BIGSERIAL PRIMARY KEY,
		id UUID UNIQUE NOT NULL,
		aggregate_sequence BIGINT NOT NULL,
		aggregate_id UUID NOT NULL,
		aggregate_type VARCHAR(128) NOT NULL,
		event_type VARCHAR(256) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		json_body JSONB NOT NULL,
		metadata JSONB NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS events_aggregate_sequence_idx
		ON events (aggregate_id, aggregate_sequence)`,
	`CREATE INDEX IF NOT EXISTS events_type_idx ON events (event_type, aggregate_type)`,
	`CREATE TABLE IF NOT EXISTS sequence_stats (
		event_type VARCHAR(256) PRIMARY KEY,
		sequence BIGINT NOT NULL
	)`,
}

// Make runs every schema statement, collecting failures from all of them
// rather than aborting at the first: a fresh database and a database
// mid-migration fail in different statements, and reporting only one
// obscures the rest.
func (s Schema) Make(db *sql.DB) error {
	log.Info(context.Background(), "creating postgres event store schema", log.F{})

	var result error
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Reset truncates the schema's tables. Used by tests between runs.
func (s Schema) Reset(db *sql.DB) error {
	var result error
	for _, table := range []string{"events", "sequence_stats"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
