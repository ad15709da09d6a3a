package async_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/kestrelhq/escore/async"
	"github.com/kestrelhq/escore/bookmark"
	"github.com/kestrelhq/escore/event"
	"github.com/kestrelhq/escore/eventstore/memory"
)

type widgetMade struct {
	Name string
}

func (widgetMade) EventType() string { return "widget.made" }

type meta struct{ id uuid.UUID }

func (m meta) CorrelationID() uuid.UUID { return m.id }

type recordingProcessor struct {
	classes []string
	seen    []event.Event
	fail    map[string]bool
}

func (p *recordingProcessor) EventClasses() []string { return p.classes }

func (p *recordingProcessor) Process(ctx context.Context, e event.Event) error {
	if p.fail[e.Type()] {
		return errFake
	}
	p.seen = append(p.seen, e)
	return nil
}

var errFake = errFakeType{}

type errFakeType struct{}

func (errFakeType) Error() string { return "fake processing failure" }

func seedEvents(t *testing.T, store *memory.Store, n int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	buf := event.NewBuffer(id, "widget", 0)
	bodies := make([]event.DomainEvent, n)
	for i := 0; i < n; i++ {
		bodies[i] = widgetMade{Name: "w"}
	}
	sealed := buf.Seal(time.Now(), meta{id: uuid.New()}, bodies...)
	if err := store.Sink(context.Background(), id, "widget", sealed...); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestBatchedAsyncEventProcessor(t *testing.T) {
	suite.Run(t, new(BatchSuite))
}

type BatchSuite struct {
	suite.Suite

	store *memory.Store
	marks *bookmark.MemoryStore
}

func (s *BatchSuite) SetupTest() {
	s.store = memory.New()
	s.marks = bookmark.NewMemoryStore()
}

func (s *BatchSuite) TestProcessOneBatchAdvancesBookmarkPerEvent() {
	seedEvents(s.T(), s.store, 3)

	proc := &recordingProcessor{}
	p := async.New("widgets", s.store, s.marks, proc)
	p.BatchSize = 10

	outcome, err := p.ProcessOneBatch(context.Background())
	s.Require().NoError(err)
	s.Equal(async.Wait, outcome)
	s.Require().Len(proc.seen, 3)

	mark, err := s.marks.BookmarkFor(context.Background(), "widgets")
	s.Require().NoError(err)
	s.Equal(int64(3), mark.Sequence)
}

func (s *BatchSuite) TestProcessOneBatchReturnsContinueWhenBatchIsFull() {
	seedEvents(s.T(), s.store, 5)

	proc := &recordingProcessor{}
	p := async.New("widgets", s.store, s.marks, proc)
	p.BatchSize = 2

	outcome, err := p.ProcessOneBatch(context.Background())
	s.Require().NoError(err)
	s.Equal(async.Continue, outcome)
	s.Require().Len(proc.seen, 2)
}

func (s *BatchSuite) TestFailureLeavesBookmarkAtLastSuccess() {
	seedEvents(s.T(), s.store, 3)

	// A processor that succeeds once then fails, mimicking a crash mid-batch.
	calls := 0
	limited := &countingProcessor{limit: 1, counted: &calls}
	p := async.New("widgets", s.store, s.marks, limited)

	outcome, err := p.ProcessOneBatch(context.Background())
	s.Require().Error(err)
	s.Equal(async.Wait, outcome)

	mark, err := s.marks.BookmarkFor(context.Background(), "widgets")
	s.Require().NoError(err)
	s.Equal(int64(1), mark.Sequence)
}

type countingProcessor struct {
	limit   int
	counted *int
}

func (p *countingProcessor) EventClasses() []string { return nil }

func (p *countingProcessor) Process(ctx context.Context, e event.Event) error {
	*p.counted++
	if *p.counted > p.limit {
		return errFake
	}
	return nil
}

func (s *BatchSuite) TestNoAvailableEventsReturnsWait() {
	proc := &recordingProcessor{}
	p := async.New("widgets", s.store, s.marks, proc)

	outcome, err := p.ProcessOneBatch(context.Background())
	s.Require().NoError(err)
	s.Equal(async.Wait, outcome)
}

func TestMonitorReportsLagFromBookmarkGap(t *testing.T) {
	store := memory.New()
	marks := bookmark.NewMemoryStore()
	id := seedEvents(t, store, 4)
	_ = id

	proc := &recordingProcessor{}
	p := async.New("widgets", store, marks, proc)

	if err := marks.Save(context.Background(), "widgets", 2); err != nil {
		t.Fatal(err)
	}

	stats := fakeLagSource{high: 4}
	sink := &capturingSink{}
	monitor := async.NewMonitor(stats, sink, p)

	if err := monitor.ReportOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(sink.reports))
	}
	if sink.reports[0].lag != 2 {
		t.Fatalf("expected lag 2, got %d", sink.reports[0].lag)
	}
}

type fakeLagSource struct{ high int64 }

func (f fakeLagSource) LastSequence(classes []string) (int64, error) { return f.high, nil }

type lagReport struct {
	consumer string
	lag      int64
}

type capturingSink struct {
	reports []lagReport
}

func (c *capturingSink) ReportLag(ctx context.Context, consumer string, lag int64) {
	c.reports = append(c.reports, lagReport{consumer: consumer, lag: lag})
}
