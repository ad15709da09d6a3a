package async

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelhq/escore/log"
)

// DefaultPollInterval is how long a consumer waits between batches once it
// has caught up to the log, the Supervisor's equivalent of
// Controller.LoopSeconds.
const DefaultPollInterval = 5 * time.Second

// DefaultFailureLimit is how many consecutive failed batches a consumer
// tolerates before its goroutine gives up, matching Controller.Run's
// failureLimit of 10.
const DefaultFailureLimit = 10

// Supervisor runs one goroutine per named consumer, each looping
// ProcessOneBatch forever: Continue re-polls immediately, Wait sleeps for
// PollInterval, a failed batch backs off exponentially via backoff/v3, and a
// run of consecutive errors trips a circuit breaker —
// directly adapted from background.Controller.Run's
// ticker-plus-failures/failureLimit loop, ported from a done-channel to
// context.Context cancellation.
type Supervisor struct {
	// PollInterval is how long a consumer sleeps after a Wait outcome with
	// no error. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// FailureLimit is how many consecutive errors a consumer tolerates
	// before its Run call returns. Zero means DefaultFailureLimit.
	FailureLimit int
}

func (s Supervisor) pollInterval() time.Duration {
	if s.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return s.PollInterval
}

func (s Supervisor) failureLimit() int {
	if s.FailureLimit <= 0 {
		return DefaultFailureLimit
	}
	return s.FailureLimit
}

// Run loops p.ProcessOneBatch until ctx is cancelled or the failure limit
// trips. It never returns nil: it returns ctx's error once ctx is
// cancelled, or the last batch error once the failure limit trips.
func (s Supervisor) Run(ctx context.Context, p *BatchedAsyncEventProcessor) error {
	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = s.pollInterval()
	backoffPolicy.MaxInterval = 30 * time.Second
	// Unbounded elapsed time: FailureLimit is this loop's circuit breaker,
	// not backoff's own Stop sentinel.
	backoffPolicy.MaxElapsedTime = 0

	failures := 0
	limit := s.failureLimit()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := p.ProcessOneBatch(ctx)
		if err != nil {
			failures++
			log.Error(ctx, err, log.F{"consumer": p.Name, "failures": failures})
			if failures >= limit {
				return fmt.Errorf("async: consumer %s stopped after %d consecutive failures: %w", p.Name, failures, err)
			}
			if err := sleep(ctx, backoffPolicy.NextBackOff()); err != nil {
				return err
			}
			continue
		}

		failures = 0
		backoffPolicy.Reset()

		if outcome == Continue {
			continue
		}

		if err := sleep(ctx, s.pollInterval()); err != nil {
			return err
		}
	}
}

// RunAll runs every processor's Run loop concurrently, one goroutine each,
// cancelling the rest the moment any one of them returns a non-nil error
// (including context cancellation propagated from outside), following the
// same all-or-nothing shutdown shape golang.org/x/sync/errgroup gives the
// blackbox eventstore tests' concurrent writers.
func (s Supervisor) RunAll(ctx context.Context, processors ...*BatchedAsyncEventProcessor) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, p := range processors {
		p := p
		group.Go(func() error {
			return s.Run(gctx, p)
		})
	}
	return group.Wait()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
