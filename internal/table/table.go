// Package table implements the Table Abstraction external interface
// (spec.md §6): a named-table handle supporting schema introspection,
// row iteration, insertion, and the extract/extract_expand operations
// normalization engine implements in internal/normalize.
package table

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/phaer/sqlitenorm/internal/database"
	"github.com/phaer/sqlitenorm/internal/normalize"
)

// Row is one row's columns exposed by name -- the "heterogeneous row
// iteration" model of spec.md §9. It is a plain map, so ranging over
// it does not follow the table's column order.
type Row = normalize.RowValues

// Table is a handle to a single named table on conn. It carries no
// state of its own beyond the name; every operation reads or writes
// through conn at call time.
type Table struct {
	conn *database.Connection
	name string
}

// New returns a handle to the table named name on conn.
func New(conn *database.Connection, name string) *Table {
	return &Table{conn: conn, name: name}
}

// Name returns the table's name.
func (t *Table) Name() string {
	return t.name
}

// Exists reports whether the table is present in the schema.
func (t *Table) Exists(ctx context.Context) (bool, error) {
	return t.conn.Inspector().Exists(ctx, t.name)
}

// Columns returns the ordered list of (name, declared type) pairs.
func (t *Table) Columns(ctx context.Context) ([]database.Column, error) {
	return t.conn.Inspector().Columns(ctx, t.name)
}

// PrimaryKey returns the table's primary key column name, or the
// sentinel database.RowidPK for a table with no declared primary key.
func (t *Table) PrimaryKey(ctx context.Context) (string, error) {
	return t.conn.Inspector().PrimaryKey(ctx, t.name)
}

// ForeignKeys returns every foreign key declared on the table.
func (t *Table) ForeignKeys(ctx context.Context) ([]database.ForeignKey, error) {
	return t.conn.Inspector().ForeignKeys(ctx, t.name)
}

// Schema returns the canonical CREATE TABLE text exactly as committed
// to sqlite_master (spec.md §6).
func (t *Table) Schema(ctx context.Context) (string, error) {
	return t.conn.Inspector().Schema(ctx, t.name)
}

// Rows iterates every row of the table as an attribute-value mapping
// (spec.md §6 "rows"; see Row for its ordering), invoking fn for each
// one. Iteration
// stops and returns fn's error the first time it returns non-nil.
func (t *Table) Rows(ctx context.Context, fn func(Row) error) error {
	query := fmt.Sprintf("SELECT * FROM %s", database.QuoteIdentifier(t.name))
	rows, err := t.conn.DB().QueryxContext(ctx, query)
	if err != nil {
		return fmt.Errorf("reading rows of %s: %w", t.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		row := make(Row)
		if err := rows.MapScan(row); err != nil {
			return fmt.Errorf("scanning a row of %s: %w", t.name, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Insert inserts a single row, keyed by column name, outside of any
// engine-managed transaction (spec.md §6 "insert(row)").
func (t *Table) Insert(ctx context.Context, row map[string]interface{}) error {
	return t.InsertAll(ctx, []map[string]interface{}{row})
}

// InsertAll inserts every row in rows. All rows must share the same
// set of columns; column order follows the first row's map iteration,
// which is acceptable here since callers construct rows deliberately
// rather than relying on any order preserved from a decoded payload.
func (t *Table) InsertAll(ctx context.Context, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	columns := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		columns = append(columns, c)
	}

	bracketed := make([]string, len(columns))
	for i, c := range columns {
		bracketed[i] = database.BracketIdentifier(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdentifier(t.name), strings.Join(bracketed, ", "), placeholders)

	return database.WithTx(ctx, t.conn, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			values := make([]interface{}, len(columns))
			for i, c := range columns {
				values[i] = row[c]
			}
			if _, err := tx.ExecContext(ctx, query, values...); err != nil {
				return fmt.Errorf("inserting a row into %s: %w", t.name, err)
			}
		}
		return nil
	})
}

// Extract lifts columns out of the table into a lookup table and
// replaces them with a foreign key (spec.md §4.4).
func (t *Table) Extract(ctx context.Context, columns []string, opts normalize.ExtractOptions) error {
	return normalize.Extract(ctx, t.conn, t.name, columns, opts)
}

// ExtractExpand decodes column and normalizes it into related tables
// (spec.md §4.5).
func (t *Table) ExtractExpand(ctx context.Context, column string, decoder normalize.Decoder, destinationTable, destinationPK string) error {
	return normalize.Expand(ctx, t.conn, t.name, normalize.ExpandOptions{
		Column:           column,
		Decoder:          decoder,
		DestinationTable: destinationTable,
		DestinationPK:    destinationPK,
	})
}
