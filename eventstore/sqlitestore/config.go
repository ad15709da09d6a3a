// Package sqlitestore is the embedded testing dialect: TEXT columns instead
// of JSONB, no lock strategy, backed by github.com/mattn/go-sqlite3. It
// fills the same "single process, no server, deterministic tests" role in
// the Go ecosystem that H2's MySQL-compatibility mode fills in the JVM
// ecosystem, which is what the spec's testing dialect was originally
// modeled on; there is no maintained Go H2 driver, so sqlite3 stands in.
// Structured following eventstore/postgres/config.go's plain-struct-plus-
// DSN-method shape.
package sqlitestore

import "fmt"

// Config points at a sqlite database file. Path may be ":memory:" for a
// process-local, non-persistent store, which is how the blackbox test
// suites use it.
type Config struct {
	Path string
}

// DSN returns the go-sqlite3 data source name. Foreign keys are enabled and
// a busy timeout is set so concurrent-writer tests see retries rather than
// SQLITE_BUSY errors.
func (c Config) DSN() string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", c.Path)
}
