// Package database provides the SQLite connection and schema
// introspection layer that the normalization engine runs on top of.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// quoteIdentifier safely quotes a SQLite identifier using double quotes,
// escaping any embedded double quotes.
func quoteIdentifier(identifier string) string {
	out := make([]byte, 0, len(identifier)+2)
	out = append(out, '"')
	for i := 0; i < len(identifier); i++ {
		if identifier[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, identifier[i])
	}
	out = append(out, '"')
	return string(out)
}

// bracketIdentifier quotes an identifier with square brackets, the
// convention sqlitenorm uses for freshly created tables and for every
// column name, matching the canonical rendering in spec.md.
func bracketIdentifier(identifier string) string {
	return "[" + identifier + "]"
}

// QuoteIdentifier is the exported form of quoteIdentifier, for
// packages (internal/normalize) that need to render double-quoted
// table references outside of this package's own DDL helpers.
func QuoteIdentifier(identifier string) string {
	return quoteIdentifier(identifier)
}

// BracketIdentifier is the exported form of bracketIdentifier.
func BracketIdentifier(identifier string) string {
	return bracketIdentifier(identifier)
}

// Executor is the minimal query surface the engine needs. Both
// *sqlx.DB and *sqlx.Tx satisfy it, which lets every component in
// internal/normalize run unmodified whether it is reading committed
// schema state before a transaction opens or reading/writing inside
// the single transaction a mutating call wraps itself in (spec.md §5).
// Mixing the two against the same *Connection would deadlock, since
// the connection pool is capped at one connection (see Open) and an
// open transaction pins it -- every component downstream of a
// transaction must thread the *sqlx.Tx through, never fall back to
// the *Connection.
type Executor interface {
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

var _ Executor = (*sqlx.DB)(nil)
var _ Executor = (*sqlx.Tx)(nil)

// Connection represents a single-writer SQLite connection.
//
// The engine assumes exclusive write access for the duration of a
// call (spec.md §5) -- sqlitenorm does not pool connections the way
// a multi-tenant server would, it opens one and holds it for the
// life of the process.
type Connection struct {
	db        *sqlx.DB
	path      string
	inspector *SchemaInspector
}

// Open opens (or creates) the SQLite database file at path and
// configures the pragmas the normalization engine relies on:
// foreign key enforcement and a busy timeout so a concurrent reader
// does not immediately fail a write.
func Open(ctx context.Context, path string) (*Connection, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database %q: %w", path, err)
	}

	// A single writer is assumed (spec.md §5); cap the pool so
	// modernc.org/sqlite never hands out a second writable handle,
	// and so that an open transaction reliably pins the one
	// connection (see the Executor doc comment above).
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping sqlite database %q: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("unable to apply %q: %w", pragma, err)
		}
	}

	log.Debug().Str("path", path).Msg("Opened sqlite connection")

	conn := &Connection{db: db, path: path}
	conn.inspector = NewSchemaInspector(db)
	return conn, nil
}

// Close closes the underlying database handle.
func (c *Connection) Close() error {
	return c.db.Close()
}

// Inspector returns the schema inspector bound to this connection's
// committed state (outside of any transaction).
func (c *Connection) Inspector() *SchemaInspector {
	return c.inspector
}

// DB returns the underlying *sqlx.DB for callers (the Table
// Abstraction, the CLI) that need direct parameterized-SQL access
// outside of an engine-managed transaction.
func (c *Connection) DB() *sqlx.DB {
	return c.db
}

// Exec executes a statement that does not return rows, outside of
// any transaction.
func (c *Connection) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// BeginTx starts a transaction. The engine wraps every mutating
// operation in one (spec.md §5: "every mutating call is performed
// inside a transaction").
func (c *Connection) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return c.db.BeginTxx(ctx, nil)
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on any error -- including a panic, which is
// re-thrown after rollback.
func WithTx(ctx context.Context, conn *Connection, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := conn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to roll back transaction after error")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit transaction: %w", err)
	}
	return nil
}

// Health checks that the connection is still usable.
func (c *Connection) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}
