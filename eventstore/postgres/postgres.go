// Package postgres is the production eventstore.Store dialect: JSONB
// bodies/metadata, a transaction-scoped advisory lock strategy, and
// unique-constraint-to-ConcurrencyError translation via lib/pq's error
// codes. Adapted from the teacher's eventstore/postgres/postgres.go, which
// sank a single polymorphic bus.Event onto an owner/type/version schema;
// generalized here to the aggregate_id/aggregate_sequence/event_type schema
// and to running synchronous processors and the sequence-stats upsert
// inside the same transaction.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kestrelhq/escore/errors"
	"github.com/kestrelhq/escore/event"
	"github.com/kestrelhq/escore/eventstore"
	"github.com/kestrelhq/escore/log"
	"github.com/kestrelhq/escore/serializer"
)

// Now is not read by Store: the created_at column is taken from each
// event's CreatedAt, which the caller stamps before Sink.
var Now = time.Now

// Open opens the connection named by c and pings it. The returned *sqlx.DB
// is meant to be shared: New uses it for the events table, and the same
// connection backs a seqstats.Store/bookmark.SQLStore reading the tables
// New's schema creates alongside events.
func Open(c Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", c.DBDsn())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// New ensures the schema exists on db and returns a ready Store. lock may be
// nil (defaults to eventstore.NoopLock).
func New(db *sqlx.DB, c Config, registry *serializer.Registry, stats eventstore.SeqStatsStore, lock eventstore.LockStrategy, processors ...eventstore.Processor) (*Store, error) {
	if err := (Schema{Config: c}).Make(db.DB); err != nil {
		return nil, err
	}
	if lock == nil {
		lock = eventstore.NoopLock{}
	}
	return &Store{db: db.DB, registry: registry, stats: stats, lock: lock, processors: processors}, nil
}

// Store is the Postgres eventstore.Store implementation.
type Store struct {
	db         *sql.DB
	registry   *serializer.Registry
	stats      eventstore.SeqStatsStore
	lock       eventstore.LockStrategy
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

	if err := s.lock.Acquire(ctx, tx, aggregateID); err != nil {
		tx.Rollback()
		return err
	}

	for _, e := range events {
		body := s.registry.EncodeBody(e.Body)
		metadata := s.registry.EncodeMetadata(e.Type(), e.Metadata)

		var global int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO events (id, aggregate_sequence, aggregate_id, aggregate_type,
				event_type, created_at, json_body, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING sequence`,
			e.ID, e.AggregateSequence, e.AggregateID, e.AggregateType,
			e.Type(), e.CreatedAt, body, metadata,
		).Scan(&global)
		if err != nil {
			tx.Rollback()
			if isUniqueViolation(err) {
				return errors.ConcurrencyError{AggregateID: aggregateID, Sequence: e.AggregateSequence}
			}
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
		FROM events WHERE sequence > $1`
	args := []interface{}{sequence}

	if len(eventClasses) > 0 {
		query += ` AND event_type = ANY($2) ORDER BY sequence ASC LIMIT $3`
		args = append(args, pq.Array(eventClasses), batchSize)
	} else {
		query += ` ORDER BY sequence ASC LIMIT $2`
		args = append(args, batchSize)
	}

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
		FROM events WHERE aggregate_id = $1 ORDER BY aggregate_sequence ASC`, aggregateID)
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
		query += " WHERE event_type = ANY($1)"
		args = append(args, pq.Array(eventClasses))
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
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}
