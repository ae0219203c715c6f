// Package repository implements core.Storage directly over
// database/sql, without a query generator: the job runtime's query set
// is small and the two supported dialects (PostgreSQL and SQLite) diverge
// enough in locking semantics that a generated layer would only hide
// that divergence rather than remove it.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duracron/duracron/internal/core"
)

// LeaseDuration bounds how long a claimed job may sit in Processing
// before another FetchNextJob call is allowed to reclaim it, mirroring
// memstore's crash-recovery lease.
const LeaseDuration = 5 * time.Minute

// Dialect distinguishes the two supported backends. The SQL this
// repository emits is otherwise identical; only locking strategy and
// placeholder syntax change.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store implements core.Storage over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// NewStore wraps an already-opened, already-migrated *sql.DB. driver
// must be "pgx" or "sqlite" (the driver names connection.go registers
// the database under); both are normalized to a Dialect here. A driver
// name neither backend recognizes panics, since it indicates a wiring
// bug in the caller, not a runtime condition to recover from; use
// NewStoreWithDialect to validate without panicking.
func NewStore(db *sql.DB, driver string) *Store {
	s, err := NewStoreWithDialect(db, driver)
	if err != nil {
		panic(err)
	}
	return s
}

// NewStoreWithDialect is NewStore without the panic, for callers that
// resolve the driver name from configuration and want to surface an
// invalid value as an error instead.
func NewStoreWithDialect(db *sql.DB, driver string) (*Store, error) {
	var d Dialect
	switch driver {
	case "pgx":
		d = DialectPostgres
	case "sqlite":
		d = DialectSQLite
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDialect, driver)
	}
	return &Store{db: db, dialect: d}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetConnection(ctx context.Context) (core.Connection, error) {
	return &conn{store: s}, nil
}

// placeholder returns the positional bind marker for i (1-based) in the
// store's dialect: pgx requires $1, $2, ...; the sqlite driver accepts
// plain ?.
func (s *Store) placeholder(i int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func newID() string {
	return uuid.NewString()
}

func mapExecErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &core.StorageError{Op: op, Err: err, Transient: true}
}
