package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/phaer/sqlitenorm/internal/database"
	"github.com/rs/zerolog/log"
)

// ExtractOptions is an alias of ResolveOptions, so callers
// (internal/table) can name the extract options without referring to
// the resolver.
type ExtractOptions = ResolveOptions

// dedupIndex maps a normalized tuple key to the lookup row id it
// resolves to (spec.md §9 "Dedup set"), built lazily as the source
// table is scanned.
type dedupIndex map[string]int64

func tupleKey(values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "\x1f")
}

func allNil(values []interface{}) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}

// Extract lifts plan.SourceColumns out of table into plan.LookupTable
// and replaces them with plan.FKColumn (spec.md §4.4). It is the
// direct port of sqlite_utils.db.Table.extract.
//
// The plan is resolved and validated first, against the committed
// schema and before any write. The rest of the operation -- reconciling
// the lookup table, deduping and assigning ids, and rewriting the
// source table -- runs inside one transaction (spec.md §5), since SchemaInspector's
// reads must see the lookup table this same call may just have
// created, and a pooled connection capped at one (database.Open) would
// deadlock if any step tried to open a second one.
func Extract(ctx context.Context, conn *database.Connection, table string, requestedColumns []string, opts ExtractOptions) error {
	preTxInspector := conn.Inspector()
	plan, err := Resolve(ctx, preTxInspector, table, requestedColumns, opts)
	if err != nil {
		return err
	}

	err = database.WithTx(ctx, conn, func(tx *sqlx.Tx) error {
		if err := ReconcileLookup(ctx, tx, table, plan); err != nil {
			return err
		}

		index, err := dedupeAndAssignIDs(ctx, tx, table, plan)
		if err != nil {
			return err
		}

		rewriter := NewRewriter(tx)
		fk := database.ForeignKey{Table: table, Column: plan.FKColumn, OtherTable: plan.LookupTable, OtherColumn: "id"}

		return rewriter.Rewrite(ctx, table, RewritePlan{
			DropColumns: plan.SourceColumns,
			AddColumn:   &database.ColumnDef{Name: plan.FKColumn, Type: "INTEGER"},
			ForeignKey:  &fk,
			ValueForRow: func(row RowValues) (interface{}, error) {
				values := make([]interface{}, len(plan.SourceColumns))
				for i, c := range plan.SourceColumns {
					values[i] = row[c]
				}
				if allNil(values) {
					return nil, nil
				}
				id, ok := index[tupleKey(values)]
				if !ok {
					return nil, fmt.Errorf("no lookup row resolved for %v", values)
				}
				return id, nil
			},
		})
	})
	if err != nil {
		return fmt.Errorf("extracting %v from %s into %s: %w", plan.SourceColumns, table, plan.LookupTable, err)
	}

	log.Info().
		Str("table", table).
		Str("lookup_table", plan.LookupTable).
		Str("fk_column", plan.FKColumn).
		Strs("columns", plan.SourceColumns).
		Msg("Extracted columns into lookup table")

	return nil
}

// dedupeAndAssignIDs scans table once, building the dedup index
// described in spec.md §9: every distinct tuple of requested column
// values gets exactly one lookup row, ids are assigned (or reused) in
// first-appearance order, and a pre-existing lookup table keeps its
// rows' ids (spec.md §4.4 step 2, and the "Lookup reuse" scenario E5).
//
// exec is always the transaction Extract opened; this never begins
// its own.
func dedupeAndAssignIDs(ctx context.Context, exec database.Executor, table string, plan *Plan) (dedupIndex, error) {
	index := make(dedupIndex)

	selectList := make([]string, len(plan.SourceColumns))
	for i, c := range plan.SourceColumns {
		selectList[i] = database.BracketIdentifier(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectList, ", "), database.QuoteIdentifier(table))

	rows, err := exec.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scanning %s for dedup: %w", table, err)
	}
	defer rows.Close()

	lookupCols := make([]string, len(plan.EffectiveColumns))
	for i, c := range plan.EffectiveColumns {
		lookupCols[i] = database.BracketIdentifier(c)
	}
	whereClause := make([]string, len(plan.EffectiveColumns))
	for i := range plan.EffectiveColumns {
		whereClause[i] = lookupCols[i] + " = ?"
	}
	selectExisting := fmt.Sprintf("SELECT id FROM %s WHERE %s",
		database.QuoteIdentifier(plan.LookupTable), strings.Join(whereClause, " AND "))
	insertNew := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdentifier(plan.LookupTable), strings.Join(lookupCols, ", "), strings.TrimSuffix(strings.Repeat("?,", len(lookupCols)), ","))

	values := make([]interface{}, len(plan.SourceColumns))
	for rows.Next() {
		if err := rows.Scan(anySlice(values)...); err != nil {
			return nil, fmt.Errorf("scanning a row of %s for dedup: %w", table, err)
		}
		if allNil(values) {
			continue
		}

		key := tupleKey(values)
		if _, ok := index[key]; ok {
			continue
		}

		var id int64
		scanErr := exec.QueryRowxContext(ctx, selectExisting, values...).Scan(&id)
		if scanErr == nil {
			index[key] = id
			continue
		}

		result, err := exec.ExecContext(ctx, insertNew, values...)
		if err != nil {
			return nil, fmt.Errorf("inserting lookup row into %s: %w", plan.LookupTable, err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading inserted id from %s: %w", plan.LookupTable, err)
		}
		index[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return index, nil
}

// anySlice returns pointers to each element of values so database/sql
// can Scan directly into the slice in place.
func anySlice(values []interface{}) []interface{} {
	ptrs := make([]interface{}, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	return ptrs
}
