package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// RowidPK is the sentinel primary-key name for a table with no
// declared primary key -- SQLite's implicit rowid.
const RowidPK = "rowid"

// Column describes one column of a table: its name and its declared
// SQLite storage class (spec.md §3: INTEGER, TEXT, REAL, BLOB, NUMERIC).
type Column struct {
	Name string
	Type string
}

// ForeignKey identifies a single foreign key relationship. Identity
// is the 4-tuple (spec.md §3).
type ForeignKey struct {
	Table       string
	Column      string
	OtherTable  string
	OtherColumn string
}

// SchemaInspector reads columns, primary key, and foreign keys of an
// existing table, reflecting the schema visible through exec at call
// time -- the committed schema when exec is a *sqlx.DB,
// or the in-progress transaction's view when exec is a *sqlx.Tx.
type SchemaInspector struct {
	exec Executor
}

// NewSchemaInspector creates a schema inspector bound to exec (either
// a *sqlx.DB for reads ahead of any transaction, or a *sqlx.Tx to
// read/write within one already-open transaction).
func NewSchemaInspector(exec Executor) *SchemaInspector {
	return &SchemaInspector{exec: exec}
}

// Exists reports whether table is present in the schema.
func (si *SchemaInspector) Exists(ctx context.Context, table string) (bool, error) {
	var name string
	err := si.exec.QueryRowxContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking existence of table %s: %w", table, err)
	}
	return true, nil
}

// requireExists fails with TableNotFound when table is absent.
func (si *SchemaInspector) requireExists(ctx context.Context, table string) error {
	exists, err := si.Exists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return &TableNotFound{Table: table}
	}
	return nil
}

type tableInfoRow struct {
	CID          int     `db:"cid"`
	Name         string  `db:"name"`
	Type         string  `db:"type"`
	NotNull      int     `db:"notnull"`
	DefaultValue *string `db:"dflt_value"`
	PK           int     `db:"pk"`
}

// Columns returns the ordered list of (name, declared type) for table.
func (si *SchemaInspector) Columns(ctx context.Context, table string) ([]Column, error) {
	if err := si.requireExists(ctx, table); err != nil {
		return nil, err
	}

	rows, err := si.exec.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("reading columns of table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var r tableInfoRow
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("scanning column info of table %s: %w", table, err)
		}
		columns = append(columns, Column{Name: r.Name, Type: strings.ToUpper(r.Type)})
	}
	return columns, rows.Err()
}

// PrimaryKey returns the single primary-key column name, or the
// sentinel RowidPK when the table has no declared primary key.
func (si *SchemaInspector) PrimaryKey(ctx context.Context, table string) (string, error) {
	if err := si.requireExists(ctx, table); err != nil {
		return "", err
	}

	rows, err := si.exec.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdentifier(table)))
	if err != nil {
		return "", fmt.Errorf("reading primary key of table %s: %w", table, err)
	}
	defer rows.Close()

	var pkColumns []string
	for rows.Next() {
		var r tableInfoRow
		if err := rows.StructScan(&r); err != nil {
			return "", fmt.Errorf("scanning column info of table %s: %w", table, err)
		}
		if r.PK > 0 {
			pkColumns = append(pkColumns, r.Name)
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if len(pkColumns) == 0 {
		return RowidPK, nil
	}
	return pkColumns[0], nil
}

type foreignKeyListRow struct {
	ID       int    `db:"id"`
	Seq      int    `db:"seq"`
	Table    string `db:"table"`
	From     string `db:"from"`
	To       string `db:"to"`
	OnUpdate string `db:"on_update"`
	OnDelete string `db:"on_delete"`
	Match    string `db:"match"`
}

// ForeignKeys returns every foreign key declared on table.
func (si *SchemaInspector) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	if err := si.requireExists(ctx, table); err != nil {
		return nil, err
	}

	rows, err := si.exec.QueryxContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("reading foreign keys of table %s: %w", table, err)
	}
	defer rows.Close()

	var foreignKeys []ForeignKey
	for rows.Next() {
		var r foreignKeyListRow
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("scanning foreign key of table %s: %w", table, err)
		}
		foreignKeys = append(foreignKeys, ForeignKey{
			Table:       table,
			Column:      r.From,
			OtherTable:  r.Table,
			OtherColumn: r.To,
		})
	}
	return foreignKeys, rows.Err()
}

// Schema returns the canonical CREATE TABLE text for table exactly as
// committed to sqlite_master. sqlitenorm only ever issues CREATE TABLE
// statements it has rendered itself (see RenderCreateTable), so for
// tables it created or rewrote the text coming back here already
// matches spec.md §6's canonical format. A table created by other DDL
// is returned with that DDL's own text; it is not re-rendered.
func (si *SchemaInspector) Schema(ctx context.Context, table string) (string, error) {
	if err := si.requireExists(ctx, table); err != nil {
		return "", err
	}

	var sql string
	err := si.exec.QueryRowxContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&sql)
	if err != nil {
		return "", fmt.Errorf("reading schema of table %s: %w", table, err)
	}
	return sql, nil
}

// ColumnDef is one column of a table about to be created via
// RenderCreateTable: its name, declared type, and whether it carries
// the PRIMARY KEY clause.
type ColumnDef struct {
	Name       string
	Type       string
	PrimaryKey bool
}

// TableQuoteStyle controls how the table identifier is rendered in a
// CREATE TABLE statement, per spec.md §6: a freshly created table is
// bracket-quoted, a table produced by the copy-drop-rename rewrite is
// double-quoted.
type TableQuoteStyle int

const (
	// QuoteFresh brackets the table name: [name].
	QuoteFresh TableQuoteStyle = iota
	// QuoteRewritten double-quotes the table name: "name".
	QuoteRewritten
)

// RenderCreateTable renders the canonical CREATE TABLE text described
// in spec.md §6: column names always bracketed, FK clauses following
// the last column one per line, the REFERENCES table identifier bare.
func RenderCreateTable(table string, style TableQuoteStyle, columns []ColumnDef, foreignKeys []ForeignKey) string {
	var tableName string
	if style == QuoteRewritten {
		tableName = quoteIdentifier(table)
	} else {
		tableName = bracketIdentifier(table)
	}

	var lines []string
	for _, c := range columns {
		line := fmt.Sprintf("   %s %s", bracketIdentifier(c.Name), c.Type)
		if c.PrimaryKey {
			line += " PRIMARY KEY"
		}
		lines = append(lines, line)
	}
	for _, fk := range foreignKeys {
		lines = append(lines, fmt.Sprintf("   FOREIGN KEY(%s) REFERENCES %s(%s)", fk.Column, fk.OtherTable, fk.OtherColumn))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", tableName)
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	return b.String()
}
