package bookmark_test

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/suite"

	"github.com/kestrelhq/escore/bookmark"
)

func TestSQLStore(t *testing.T) {
	suite.Run(t, new(SQLStoreSuite))
}

type SQLStoreSuite struct {
	suite.Suite

	db    *sqlx.DB
	store *bookmark.SQLStore
}

func (s *SQLStoreSuite) SetupTest() {
	db, err := sqlx.Open("sqlite3", ":memory:")
	s.Require().NoError(err)
	s.Require().NoError(bookmark.EnsureSchema(db))

	s.db = db
	s.store = bookmark.NewSQLStore(db)
}

func (s *SQLStoreSuite) TearDownTest() {
	s.db.Close()
}

func (s *SQLStoreSuite) TestBookmarkForUnknownNameReadsZero() {
	b, err := s.store.BookmarkFor(context.Background(), "projector.a")
	s.Require().NoError(err)
	s.Equal(int64(0), b.Sequence)
}

func (s *SQLStoreSuite) TestSaveThenBookmarkForRoundTrips() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "projector.a", 42))

	b, err := s.store.BookmarkFor(ctx, "projector.a")
	s.Require().NoError(err)
	s.Equal(int64(42), b.Sequence)
}

func (s *SQLStoreSuite) TestSaveTwiceUpdatesInPlace() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "projector.a", 1))
	s.Require().NoError(s.store.Save(ctx, "projector.a", 2))

	b, err := s.store.BookmarkFor(ctx, "projector.a")
	s.Require().NoError(err)
	s.Equal(int64(2), b.Sequence)
}

func (s *SQLStoreSuite) TestSaveIsIndependentPerName() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "projector.a", 10))
	s.Require().NoError(s.store.Save(ctx, "projector.b", 20))

	a, err := s.store.BookmarkFor(ctx, "projector.a")
	s.Require().NoError(err)
	b, err := s.store.BookmarkFor(ctx, "projector.b")
	s.Require().NoError(err)

	s.Equal(int64(10), a.Sequence)
	s.Equal(int64(20), b.Sequence)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := bookmark.NewMemoryStore()

	b, err := store.BookmarkFor(ctx, "projector.a")
	if err != nil || b.Sequence != 0 {
		t.Fatalf("expected zero-value bookmark, got %+v, err %v", b, err)
	}

	if err := store.Save(ctx, "projector.a", 7); err != nil {
		t.Fatal(err)
	}
	b, err = store.BookmarkFor(ctx, "projector.a")
	if err != nil || b.Sequence != 7 {
		t.Fatalf("expected bookmark sequence 7, got %+v, err %v", b, err)
	}
}
