package sqlitestore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/kestrelhq/escore/errors"
	"github.com/kestrelhq/escore/event"
	"github.com/kestrelhq/escore/eventstore"
	"github.com/kestrelhq/escore/log"
	"github.com/kestrelhq/escore/serializer"
)

// Open opens (or creates) the sqlite file at c.Path. The returned *sqlx.DB
// is meant to be shared with a seqstats.Store/bookmark.SQLStore reading the
// tables New's schema creates alongside events; the sqlite3 driver is not
// safe for concurrent writers on one *sql.DB, so Open caps it to one
// connection.
func Open(c Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", c.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// New ensures the schema exists on db and returns a ready Store. The dialect
// never blocks on a lock strategy; sqlite already serializes writers at the
// connection level.
func New(db *sqlx.DB, c Config, registry *serializer.Registry, stats eventstore.SeqStatsStore, processors ...eventstore.Processor) (*Store, error) {
	if err := (schema{Config: c}).Make(db.DB); err != nil {
		return nil, err
	}
	return &Store{db: db.DB, registry: registry, stats: stats, processors: processors}, nil
}

// Store is the embedded testing eventstore.Store implementation.
type Store struct {
	db         *sql.DB
	registry   *serializer.Registry
	stats      eventstore.SeqStatsStore
	processors []eventstore.Processor
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Sink(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events ...event.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	if err := eventstore.CheckSameAggregate(aggregateID, aggregateType, events); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer eventstore.RecoverSink(tx, &err)

	for _, e := range events {
		body := s.registry.EncodeBody(e.Body)
		metadata := s.registry.EncodeMetadata(e.Type(), e.Metadata)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, aggregate_sequence, aggregate_id, aggregate_type,
				event_type, created_at, json_body, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AggregateSequence, e.AggregateID, e.AggregateType,
			e.Type(), e.CreatedAt, body, metadata,
		)
		if err != nil {
			tx.Rollback()
			if isUniqueViolation(err) {
				return errors.ConcurrencyError{AggregateID: aggregateID, Sequence: e.AggregateSequence}
			}
			return err
		}

		global, err := res.LastInsertId()
		if err != nil {
			tx.Rollback()
			return err
		}

		if err := s.stats.UpsertTx(tx, e.Type(), global); err != nil {
			tx.Rollback()
			return err
		}

		if err := eventstore.RunProcessors(ctx, s.processors, e); err != nil {
			tx.Rollback()
			log.Error(ctx, err, log.F{"event": e.String()})
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetAfter(ctx context.Context, sequence int64, eventClasses []string, batchSize int) ([]event.SequencedEvent, error) {
	query := `SELECT sequence, id, aggregate_sequence, aggregate_id, aggregate_type,
		event_type, created_at, json_body, metadata
		FROM events WHERE sequence > ?`
	args := []interface{}{sequence}

	if len(eventClasses) > 0 {
		placeholders := make([]string, len(eventClasses))
		for i, c := range eventClasses {
			placeholders[i] = "?"
			args = append(args, c)
		}
		query += " AND event_type IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY sequence ASC LIMIT ?"
	args = append(args, batchSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanSequenced(rows)
}

func (s *Store) EventsFor(ctx context.Context, aggregateID uuid.UUID) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sequence, id, aggregate_sequence, aggregate_id,
		aggregate_type, event_type, created_at, json_body, metadata
		FROM events WHERE aggregate_id = ? ORDER BY aggregate_sequence ASC`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sequenced, err := s.scanSequenced(rows)
	if err != nil {
		return nil, err
	}
	out := make([]event.Event, len(sequenced))
	for i, se := range sequenced {
		out[i] = se.Event
	}
	return out, nil
}

func (s *Store) LastSequence(ctx context.Context, eventClasses []string) (int64, error) {
	query := "SELECT COALESCE(MAX(sequence), 0) FROM sequence_stats"
	args := []interface{}{}
	if len(eventClasses) > 0 {
		placeholders := make([]string, len(eventClasses))
		for i, c := range eventClasses {
			placeholders[i] = "?"
			args = append(args, c)
		}
		query += " WHERE event_type IN (" + strings.Join(placeholders, ",") + ")"
	}

	var max int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (s *Store) scanSequenced(rows *sql.Rows) ([]event.SequencedEvent, error) {
	var out []event.SequencedEvent
	for rows.Next() {
		var (
			global, aggSeq     int64
			id, aggID          uuid.UUID
			aggType, evType    string
			createdAt          time.Time
			bodyData, metaData []byte
		)
		if err := rows.Scan(&global, &id, &aggSeq, &aggID, &aggType, &evType, &createdAt, &bodyData, &metaData); err != nil {
			return nil, err
		}

		body, err := s.registry.DecodeBody(evType, bodyData)
		if err != nil {
			return nil, err
		}
		meta, err := s.registry.DecodeMetadata(evType, metaData)
		if err != nil {
			return nil, err
		}

		out = append(out, event.SequencedEvent{
			Sequence: global,
			Event: event.Event{
				ID:                id,
				AggregateID:       aggID,
				AggregateSequence: aggSeq,
				AggregateType:     aggType,
				CreatedAt:         createdAt,
				Metadata:          meta,
				Body:              body,
			},
		})
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	sqliteErr, ok := err.(sqlite3.Error)
	return ok && sqliteErr.Code == sqlite3.ErrConstraint
}
