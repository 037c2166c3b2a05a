package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/phaer/sqlitenorm/internal/database"
	"github.com/rs/zerolog/log"
)

// ExpandOptions carries the caller-supplied arguments to an expand
// call (spec.md §4.5): the column to decode, the decoder, the
// destination table name, and the destination primary key column
// used when the decoded object shape carries its own id.
type ExpandOptions struct {
	Column           string
	Decoder          Decoder
	DestinationTable string
	DestinationPK    string
}

// Expand decodes every row's table.Column value and normalizes it
// into destination table(s), dispatching on the shape of the first
// non-null payload (spec.md §4.5): object → 1:N replacement (through
// the same Rewriter the Extract Engine uses, not through Extract
// itself), scalar array → N:1 child rows, object array → M:N through
// a junction table.
//
// After the column and primary key are validated, the rest of the
// operation runs inside one transaction for the same reason Extract
// does: downstream reads must see tables this same call may have just
// created, and the connection pool is capped at one connection
// (database.Open). Foreign key enforcement is switched off for the
// duration of that transaction, because the rewrite drops and
// recreates the source table while child and junction rows reference
// it; it is switched back on when the call returns.
func Expand(ctx context.Context, conn *database.Connection, table string, opts ExpandOptions) error {
	if opts.Decoder == nil {
		return fmt.Errorf("expand %s.%s: decoder is required", table, opts.Column)
	}

	inspector := conn.Inspector()
	existing, err := inspector.Columns(ctx, table)
	if err != nil {
		return err
	}
	if !originalHasColumn(existing, opts.Column) {
		return &database.InvalidColumns{Missing: []string{opts.Column}}
	}

	pk, err := inspector.PrimaryKey(ctx, table)
	if err != nil {
		return err
	}

	// PRAGMA foreign_keys has no effect inside a transaction, so it is
	// set on the (single) pooled connection before the transaction opens.
	if _, err := conn.Exec(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disabling foreign keys for expand: %w", err)
	}
	defer func() { _, _ = conn.Exec(ctx, "PRAGMA foreign_keys = ON") }()

	return database.WithTx(ctx, conn, func(tx *sqlx.Tx) error {
		rows, shape, err := scanAndClassify(ctx, tx, table, pk, opts)
		if err != nil {
			return err
		}

		switch shape {
		case KindNull:
			// Every value was null; nothing to expand, leave as-is.
			return nil
		case KindObject:
			return expandObjects(ctx, tx, table, pk, opts, rows)
		case KindArray:
			return expandArrays(ctx, tx, table, pk, opts, rows)
		default:
			return &database.ShapeMismatch{Table: table, Column: opts.Column, Want: "object or array", Got: shape.String()}
		}
	})
}

// decodedRow is one source row's identity (primary key/rowid value)
// paired with its decoded payload.
type decodedRow struct {
	rowID   interface{}
	payload Payload
}

// scanAndClassify reads every row of table, decodes opts.Column, and
// determines the single shape every non-null payload must share
// (spec.md §4.5 "shape classification is per-row but the chosen
// strategy must be consistent across the column").
func scanAndClassify(ctx context.Context, tx *sqlx.Tx, table, pk string, opts ExpandOptions) ([]decodedRow, Kind, error) {
	pkSelect := database.BracketIdentifier(pk)
	if pk == database.RowidPK {
		pkSelect = "rowid"
	}
	query := fmt.Sprintf("SELECT %s, %s FROM %s", pkSelect, database.BracketIdentifier(opts.Column), database.QuoteIdentifier(table))

	sqlRows, err := tx.QueryxContext(ctx, query)
	if err != nil {
		return nil, KindNull, fmt.Errorf("scanning %s.%s: %w", table, opts.Column, err)
	}
	defer sqlRows.Close()

	var decoded []decodedRow
	shape := KindNull
	for sqlRows.Next() {
		var rowID interface{}
		var raw *string
		if err := sqlRows.Scan(&rowID, &raw); err != nil {
			return nil, KindNull, fmt.Errorf("reading a row of %s: %w", table, err)
		}

		var payload Payload
		if raw == nil {
			payload = Payload{Kind: KindNull}
		} else {
			payload, err = opts.Decoder.Decode(*raw)
			if err != nil {
				return nil, KindNull, fmt.Errorf("decoding %s.%s: %w", table, opts.Column, err)
			}
		}

		if payload.Kind != KindNull {
			if shape == KindNull {
				shape = payload.Kind
			} else if payload.Kind != shape {
				return nil, KindNull, &database.ShapeMismatch{Table: table, Column: opts.Column, Want: shape.String(), Got: payload.Kind.String()}
			}
		}

		decoded = append(decoded, decodedRow{rowID: rowID, payload: payload})
	}
	return decoded, shape, sqlRows.Err()
}

// expandObjects implements the object → 1:N strategy (spec.md §4.5):
// decoded keys become pseudo-columns of destination_table, and the
// source column is replaced by an FK <column>_id. An object carrying
// an explicit field matching opts.DestinationPK supplies the lookup
// id directly. An object without that field is inserted as a new
// destination row; objects are not deduplicated by their other values.
func expandObjects(ctx context.Context, tx *sqlx.Tx, table, pk string, opts ExpandOptions, rows []decodedRow) error {
	inspector := database.NewSchemaInspector(tx)
	fkColumn := opts.Column + "_id"

	keyOrder, keyTypes, err := objectSchema(rows, opts.DestinationPK)
	if err != nil {
		return err
	}

	exists, err := inspector.Exists(ctx, opts.DestinationTable)
	if err != nil {
		return err
	}
	if !exists {
		if err := createObjectTable(ctx, tx, opts.DestinationTable, opts.DestinationPK, keyOrder, keyTypes); err != nil {
			return err
		}
	}

	rowValues := make(map[interface{}]interface{}, len(rows))
	for _, r := range rows {
		if r.payload.Kind == KindNull {
			rowValues[r.rowID] = nil
			continue
		}
		id, err := upsertObjectRow(ctx, tx, opts.DestinationTable, opts.DestinationPK, keyOrder, r.payload)
		if err != nil {
			return err
		}
		rowValues[r.rowID] = id
	}

	rewriter := NewRewriter(tx)
	fk := database.ForeignKey{Table: table, Column: fkColumn, OtherTable: opts.DestinationTable, OtherColumn: opts.DestinationPK}
	return rewriter.Rewrite(ctx, table, RewritePlan{
		DropColumns: []string{opts.Column},
		AddColumn:   &database.ColumnDef{Name: fkColumn, Type: "INTEGER"},
		ForeignKey:  &fk,
		ValueForRow: func(row RowValues) (interface{}, error) {
			// RowValues is keyed by the original column name for a
			// keyed table, or by the synthesized "rowid" key for a
			// rowid table (see originalColumnSelectList) -- pk already
			// holds whichever name applies.
			id := row[pk]
			return rowValues[id], nil
		},
	})
}

// objectSchema derives the destination table's column order and
// declared types from the first object payload encountered, skipping
// the destination primary key field (it is rendered separately as
// the table's PK).
func objectSchema(rows []decodedRow, destinationPK string) ([]string, map[string]string, error) {
	for _, r := range rows {
		if r.payload.Kind != KindObject {
			continue
		}
		var order []string
		types := make(map[string]string)
		for _, kv := range r.payload.Object {
			if kv.Key == destinationPK {
				continue
			}
			order = append(order, kv.Key)
			types[kv.Key] = inferSQLiteType(kv.Value)
		}
		return order, types, nil
	}
	return nil, nil, fmt.Errorf("no object payload found to derive destination schema from")
}

func createObjectTable(ctx context.Context, tx *sqlx.Tx, table, pk string, keyOrder []string, keyTypes map[string]string) error {
	columns := []database.ColumnDef{{Name: pk, Type: "INTEGER", PrimaryKey: true}}
	for _, k := range keyOrder {
		columns = append(columns, database.ColumnDef{Name: k, Type: keyTypes[k]})
	}
	ddl := database.RenderCreateTable(table, database.QuoteFresh, columns, nil)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating destination table %s: %w", table, err)
	}
	return nil
}

// upsertObjectRow inserts (or, if the object carries an explicit
// destination_pk value, replaces) one destination row and returns its
// id.
func upsertObjectRow(ctx context.Context, tx *sqlx.Tx, table, pk string, keyOrder []string, payload Payload) (interface{}, error) {
	columns := make([]string, 0, len(keyOrder)+1)
	placeholders := make([]string, 0, len(keyOrder)+1)
	values := make([]interface{}, 0, len(keyOrder)+1)

	explicitID, hasExplicitID := payload.Get(pk)

	if hasExplicitID {
		columns = append(columns, database.BracketIdentifier(pk))
		placeholders = append(placeholders, "?")
		values = append(values, explicitID.Scalar)
	}
	for _, k := range keyOrder {
		v, _ := payload.Get(k)
		columns = append(columns, database.BracketIdentifier(k))
		placeholders = append(placeholders, "?")
		values = append(values, scalarValue(v))
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		database.QuoteIdentifier(table), strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	if hasExplicitID {
		if _, err := tx.ExecContext(ctx, query, values...); err != nil {
			return nil, fmt.Errorf("upserting a row of %s: %w", table, err)
		}
		return explicitID.Scalar, nil
	}

	result, err := tx.ExecContext(ctx, query, values...)
	if err != nil {
		return nil, fmt.Errorf("inserting a row of %s: %w", table, err)
	}
	return result.LastInsertId()
}

// expandArrays implements the scalar-array → N:1 and object-array →
// M:N strategies (spec.md §4.5), distinguishing them by inspecting
// the element kind of the first non-empty array.
func expandArrays(ctx context.Context, tx *sqlx.Tx, table, pk string, opts ExpandOptions, rows []decodedRow) error {
	elementKind := firstArrayElementKind(rows)
	switch elementKind {
	case KindObject:
		return expandObjectArrays(ctx, tx, table, pk, opts, rows)
	default:
		return expandScalarArrays(ctx, tx, table, pk, opts, rows)
	}
}

func firstArrayElementKind(rows []decodedRow) Kind {
	for _, r := range rows {
		if r.payload.Kind == KindArray && len(r.payload.Array) > 0 {
			return r.payload.Array[0].Kind
		}
	}
	return KindScalar
}

// expandScalarArrays implements N:1 child rows: one destination row
// per array element, each FK'd back to its source row, in input
// order (spec.md §4.5, scenario E8).
func expandScalarArrays(ctx context.Context, tx *sqlx.Tx, table, pk string, opts ExpandOptions, rows []decodedRow) error {
	sourceFK := table + "_id"
	valueType := "TEXT"
	for _, r := range rows {
		if r.payload.Kind == KindArray {
			for _, elem := range r.payload.Array {
				if elem.Kind == KindScalar {
					valueType = inferSQLiteType(elem)
					break
				}
			}
		}
		if valueType != "TEXT" {
			break
		}
	}

	inspector := database.NewSchemaInspector(tx)
	exists, err := inspector.Exists(ctx, opts.DestinationTable)
	if err != nil {
		return err
	}
	if !exists {
		columns := []database.ColumnDef{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: sourceFK, Type: "INTEGER"},
			{Name: "value", Type: valueType},
		}
		fk := database.ForeignKey{Table: opts.DestinationTable, Column: sourceFK, OtherTable: table, OtherColumn: pk}
		ddl := database.RenderCreateTable(opts.DestinationTable, database.QuoteFresh, columns, []database.ForeignKey{fk})
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating destination table %s: %w", opts.DestinationTable, err)
		}
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)",
		database.QuoteIdentifier(opts.DestinationTable), database.BracketIdentifier(sourceFK), database.BracketIdentifier("value"))

	for _, r := range rows {
		if r.payload.Kind != KindArray {
			continue
		}
		for _, elem := range r.payload.Array {
			if _, err := tx.ExecContext(ctx, insertSQL, r.rowID, scalarValue(elem)); err != nil {
				return fmt.Errorf("inserting a child row into %s: %w", opts.DestinationTable, err)
			}
		}
	}

	return dropExpandedColumn(ctx, tx, table, pk, opts.Column)
}

// expandObjectArrays implements M:N through a junction table
// (spec.md §4.5, scenario E9): destination_table holds the objects
// (deduplicated by explicit id when present), and the deterministic
// junction table `<destination>_<source>` carries one row per
// (source row, destination row) pair, in input order.
func expandObjectArrays(ctx context.Context, tx *sqlx.Tx, table, pk string, opts ExpandOptions, rows []decodedRow) error {
	inspector := database.NewSchemaInspector(tx)

	var objectPayloads []decodedRow
	for _, r := range rows {
		if r.payload.Kind == KindArray {
			for _, elem := range r.payload.Array {
				objectPayloads = append(objectPayloads, decodedRow{rowID: r.rowID, payload: elem})
			}
		}
	}

	keyOrder, keyTypes, err := objectSchema(objectPayloads, opts.DestinationPK)
	if err != nil {
		return err
	}

	exists, err := inspector.Exists(ctx, opts.DestinationTable)
	if err != nil {
		return err
	}
	if !exists {
		if err := createObjectTable(ctx, tx, opts.DestinationTable, opts.DestinationPK, keyOrder, keyTypes); err != nil {
			return err
		}
	}

	junctionTable := opts.DestinationTable + "_" + table
	junctionSourceCol := table + "_id"
	junctionDestCol := opts.DestinationTable + "_id"

	junctionExists, err := inspector.Exists(ctx, junctionTable)
	if err != nil {
		return err
	}
	if !junctionExists {
		columns := []database.ColumnDef{
			{Name: junctionSourceCol, Type: "INTEGER"},
			{Name: junctionDestCol, Type: "INTEGER"},
		}
		fks := []database.ForeignKey{
			{Table: junctionTable, Column: junctionSourceCol, OtherTable: table, OtherColumn: pk},
			{Table: junctionTable, Column: junctionDestCol, OtherTable: opts.DestinationTable, OtherColumn: opts.DestinationPK},
		}
		ddl := database.RenderCreateTable(junctionTable, database.QuoteFresh, columns, fks)
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating junction table %s: %w", junctionTable, err)
		}
	}

	insertJunction := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)",
		database.QuoteIdentifier(junctionTable), database.BracketIdentifier(junctionSourceCol), database.BracketIdentifier(junctionDestCol))

	for _, r := range rows {
		if r.payload.Kind != KindArray {
			continue
		}
		for _, elem := range r.payload.Array {
			destID, err := upsertObjectRow(ctx, tx, opts.DestinationTable, opts.DestinationPK, keyOrder, elem)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, insertJunction, r.rowID, destID); err != nil {
				return fmt.Errorf("inserting a junction row into %s: %w", junctionTable, err)
			}
		}
	}

	log.Info().
		Str("table", table).
		Str("destination_table", opts.DestinationTable).
		Str("junction_table", junctionTable).
		Msg("Expanded object array into destination and junction tables")

	return dropExpandedColumn(ctx, tx, table, pk, opts.Column)
}

// dropExpandedColumn removes the decoded column from table, used by
// both array strategies once every child/junction row has been
// written.
func dropExpandedColumn(ctx context.Context, tx *sqlx.Tx, table, pk, column string) error {
	rewriter := NewRewriter(tx)
	return rewriter.Rewrite(ctx, table, RewritePlan{DropColumns: []string{column}})
}

// scalarValue unwraps a scalar Payload to the interface{} a
// parameterized query expects, or nil for a null payload.
func scalarValue(p Payload) interface{} {
	if p.Kind == KindNull {
		return nil
	}
	return p.Scalar
}

// inferSQLiteType maps a decoded scalar's Go type to the SQLite
// storage class Expand declares new columns with (spec.md §3).
func inferSQLiteType(p Payload) string {
	switch p.Scalar.(type) {
	case int64:
		return "INTEGER"
	case float64:
		return "REAL"
	case bool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}
