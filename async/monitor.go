package async

import "context"

// LagSource is the subset of seqstats.Store the monitor reads the
// per-consumer high-water mark from.
type LagSource interface {
	LastSequence(eventClasses []string) (int64, error)
}

// MetricsSink receives one lag reading per consumer per ReportOnce call.
type MetricsSink interface {
	ReportLag(ctx context.Context, consumer string, lag int64)
}

// AsyncEventProcessorMonitor reports each watched consumer's lag: the
// store's cached high-water mark for that consumer's event classes, minus
// the consumer's own bookmark. It reports once per ReportOnce call; it runs
// no ticker or loop of its own, so repeated reporting happens only when a
// caller invokes ReportOnce repeatedly.
type AsyncEventProcessorMonitor struct {
	stats      LagSource
	metrics    MetricsSink
	processors []*BatchedAsyncEventProcessor
}

// NewMonitor builds a monitor over processors, reading high-water marks
// from stats and reporting through metrics.
func NewMonitor(stats LagSource, metrics MetricsSink, processors ...*BatchedAsyncEventProcessor) *AsyncEventProcessorMonitor {
	return &AsyncEventProcessorMonitor{stats: stats, metrics: metrics, processors: processors}
}

// ReportOnce computes and reports lag for every watched consumer. A
// consumer further behind the log's high-water mark than it has
// bookmarked has positive lag; a consumer that has processed everything
// seqstats has recorded reports zero (lag is never negative: seqstats is
// only ever ahead of or equal to what any consumer has bookmarked).
func (m *AsyncEventProcessorMonitor) ReportOnce(ctx context.Context) error {
	for _, p := range m.processors {
		mark, err := p.Bookmarks.BookmarkFor(ctx, p.Name)
		if err != nil {
			return err
		}

		high, err := m.stats.LastSequence(p.Processor.EventClasses())
		if err != nil {
			return err
		}

		lag := high - mark.Sequence
		if lag < 0 {
			lag = 0
		}
		m.metrics.ReportLag(ctx, p.Name, lag)
	}
	return nil
}
