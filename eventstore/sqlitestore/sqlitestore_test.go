package sqlitestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/escore/errors"
	"github.com/kestrelhq/escore/event"
	"github.com/kestrelhq/escore/eventstore/sqlitestore"
	"github.com/kestrelhq/escore/seqstats"
	"github.com/kestrelhq/escore/serializer"
)

type created struct {
	Name string `json:"name"`
}

func (created) EventType() string { return "test.created" }

type renamed struct {
	Name string `json:"name"`
}

func (renamed) EventType() string { return "test.renamed" }

type meta struct {
	ID uuid.UUID `json:"id"`
}

func (m meta) CorrelationID() uuid.UUID { return m.ID }

// brokenMeta serializes a non-UUID string into the "id" field the registry's
// default metadata type (meta) declares as a uuid.UUID, so decoding it back
// as meta fails and EncodeMetadata panics.
type brokenMeta struct {
	ID string `json:"id"`
}

func (brokenMeta) CorrelationID() uuid.UUID { return uuid.Nil }

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	cfg := sqlitestore.Config{Path: ":memory:"}
	db, err := sqlitestore.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := serializer.NewRegistry(meta{})
	reg.RegisterEvent(created{})
	reg.RegisterEvent(renamed{})

	store, err := sqlitestore.New(db, cfg, reg, seqstats.New(db))
	require.NoError(t, err)
	return store
}

// TestSinkRecoversMetadataSerializationPanicWithoutCommitting is the S4
// scenario: registry.EncodeMetadata panics mid-batch on the second event,
// and RecoverSink must roll the whole transaction back rather than leave the
// first, otherwise-valid event committed.
func TestSinkRecoversMetadataSerializationPanicWithoutCommitting(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := uuid.New()

	buf := event.NewBuffer(id, "testEntity", 0)
	good := buf.Seal(time.Now(), meta{ID: uuid.New()}, created{Name: "a"})
	bad := buf.Seal(time.Now(), brokenMeta{ID: "not-a-uuid"}, renamed{Name: "b"})

	batch := append(good, bad...)
	err := store.Sink(ctx, id, "testEntity", batch...)
	require.Error(t, err)

	var serr errors.EventMetadataSerializationException
	require.ErrorAs(t, err, &serr)

	got, err := store.EventsFor(ctx, id)
	require.NoError(t, err)
	require.Empty(t, got, "no row should remain committed once a later event in the batch panics encoding metadata")
}

// TestSinkRecoversBodySerializationPanicWithoutCommitting covers the other
// panic site: EncodeBody panics when an event's class was never registered.
func TestSinkRecoversBodySerializationPanicWithoutCommitting(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id := uuid.New()

	buf := event.NewBuffer(id, "testEntity", 0)
	events := buf.Seal(time.Now(), meta{ID: uuid.New()}, created{Name: "a"}, unregistered{Name: "b"})

	err := store.Sink(ctx, id, "testEntity", events...)
	require.Error(t, err)

	var serr errors.EventBodySerializationException
	require.ErrorAs(t, err, &serr)

	got, err := store.EventsFor(ctx, id)
	require.NoError(t, err)
	require.Empty(t, got, "no row should remain committed once a later event in the batch panics encoding its body")
}

type unregistered struct {
	Name string `json:"name"`
}

func (unregistered) EventType() string { return "test.unregistered" }
