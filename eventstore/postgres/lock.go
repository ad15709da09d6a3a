package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhq/escore/errors"
)

// AdvisoryLock serializes every Sink call against a single transaction-scoped
// Postgres advisory lock, bounded by Timeout. Coarser than the per-aggregate
// unique-constraint serialization the store already gets for free; useful
// for test determinism or a migration window where every writer must be
// strictly ordered.
type AdvisoryLock struct {
	// Key identifies the advisory lock. All Sink calls sharing a Key
	// serialize against each other; aggregateID is ignored.
	Key int64
	// Timeout bounds how long Acquire waits before giving up. Zero means
	// DefaultLockTimeout.
	Timeout time.Duration
}

// DefaultLockTimeout is the lock_timeout Acquire sets when Timeout is zero.
const DefaultLockTimeout = 10 * time.Second

// Acquire sets a session-local lock_timeout, then blocks on
// pg_advisory_xact_lock until it is granted or the timeout elapses. A
// timeout surfaces as errors.LockingError.
func (l AdvisoryLock) Acquire(ctx context.Context, tx *sql.Tx, aggregateID uuid.UUID) error {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return errors.LockingError{Reason: err.Error()}
	}

	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", l.Key)
	if err != nil {
		if isLockTimeout(err) {
			return errors.LockingError{Reason: "advisory lock timed out"}
		}
		return errors.LockingError{Reason: err.Error()}
	}
	return nil
}

func isLockTimeout(err error) bool {
	return strings.Contains(err.Error(), "lock timeout") || strings.Contains(err.Error(), "57014")
}
