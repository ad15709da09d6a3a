//go:build !unit

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/escore/errors"
	"github.com/kestrelhq/escore/event"
	"github.com/kestrelhq/escore/eventstore/postgres"
	"github.com/kestrelhq/escore/seqstats"
	"github.com/kestrelhq/escore/serializer"
)

// Requires a running Postgres reachable with the below Config. The `!unit`
// build tag compiles this file into every run except one given `-tags unit`;
// when Postgres is unreachable the test skips itself.
var testConfig = postgres.Config{
	DBName: "escore",
	DBPass: "escore",
	DBHost: "db",
	DBUser: "escore",
}

type created struct {
	Name string `json:"name"`
}

func (created) EventType() string { return "test.created" }

type meta struct {
	ID uuid.UUID `json:"id"`
}

func (m meta) CorrelationID() uuid.UUID { return m.ID }

func TestPostgresEventStoreSinkAndRead(t *testing.T) {
	db, err := postgres.Open(testConfig)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer db.Close()
	require.NoError(t, (postgres.Schema{Config: testConfig}).Reset(db.DB))

	reg := serializer.NewRegistry(meta{})
	reg.RegisterEvent(created{})

	store, err := postgres.New(db, testConfig, reg, seqstats.New(db), nil)
	require.NoError(t, err)
	defer store.Close()

	id := uuid.New()
	buf := event.NewBuffer(id, "testEntity", 0)
	events := buf.Seal(time.Now(), meta{ID: uuid.New()}, created{Name: "Gabriel"})

	require.NoError(t, store.Sink(context.Background(), id, "testEntity", events...))

	got, err := store.EventsFor(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, got, 1)

	racer := event.NewBuffer(id, "testEntity", 0)
	raceEvents := racer.Seal(time.Now(), meta{ID: uuid.New()}, created{Name: "race"})
	err = store.Sink(context.Background(), id, "testEntity", raceEvents...)

	var concurrency errors.ConcurrencyError
	require.ErrorAs(t, err, &concurrency)
}
