// Package store provides read-only access to the bridge-owned message
// archive. The external protocol bridge is the sole writer of this database;
// wavault only ever reads from it.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the bridge database schema. The bridge owns the production
// database; this copy exists for tests and development tooling that need to
// fabricate a compatible archive.
func Schema() string { return schemaSQL }

// ErrUnavailable marks transient read failures against the bridge database.
// Callers can test for it with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// UnavailableError wraps a driver error from a failed read.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is reports true for ErrUnavailable so errors.Is(err, ErrUnavailable) works
// without callers knowing the concrete type.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// Store is a read-only projection over the bridge's SQLite archive.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens the bridge database read-only. The file: URI keeps paths with
// special characters safe, and mode=ro guarantees we can never write to a
// database we do not own. The busy timeout lets reads wait out the bridge's
// write transactions.
func Open(dbPath string) (*Store, error) {
	dsn := (&url.URL{
		Scheme:   "file",
		OmitHost: true,
		Path:     dbPath,
		RawQuery: "mode=ro&_journal_mode=WAL&_busy_timeout=5000",
	}).String()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// New wraps an existing connection. Used by tests that build an in-memory
// database, and by callers that manage the connection themselves.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}
