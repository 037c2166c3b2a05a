package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phaer/sqlitenorm/internal/database"
)

// RowValues is a single source row keyed by original column name; it
// additionally carries "rowid" for rowid tables so ValueForRow can
// see the implicit identity even though it is not a declared column.
type RowValues map[string]interface{}

// RewritePlan describes a single copy-drop-rename schema change
// (spec.md §4.6): SQLite cannot ALTER TABLE ADD FOREIGN KEY, so every
// schema change the engine makes -- adding a foreign key column,
// dropping extracted columns -- goes through this rewrite.
type RewritePlan struct {
	// DropColumns lists source columns to remove.
	DropColumns []string
	// AddColumn, when non-nil, is inserted at the position of the
	// leftmost dropped column (spec.md §4.6's column-order rule), or
	// appended at the end if DropColumns is empty.
	AddColumn *database.ColumnDef
	// ValueForRow computes AddColumn's value for one source row.
	// Must be non-nil iff AddColumn is non-nil.
	ValueForRow func(row RowValues) (interface{}, error)
	// ForeignKey, when non-nil, is installed on the rewritten table
	// referencing AddColumn.
	ForeignKey *database.ForeignKey
}

// Rewriter performs the copy-drop-rename schema rewrite against a
// single already-open transaction. It never begins its own
// transaction: the enclosing mutating call (Extract, ExtractExpand)
// owns the transaction boundary so that schema reads done earlier in
// the same call see a consistent view (spec.md §5).
type Rewriter struct {
	exec database.Executor
}

// NewRewriter creates a Rewriter bound to exec, ordinarily the
// *sqlx.Tx the caller is already inside.
func NewRewriter(exec database.Executor) *Rewriter {
	return &Rewriter{exec: exec}
}

// Rewrite materializes plan against table: it creates a new table
// under a temporary name, copies every row across with the requested
// projection, then drops the original and renames the new table into
// its place. Row count, the original primary key (or rowid), and
// every column outside DropColumns/AddColumn are preserved exactly.
func (r *Rewriter) Rewrite(ctx context.Context, table string, plan RewritePlan) error {
	inspector := database.NewSchemaInspector(r.exec)

	originalColumns, err := inspector.Columns(ctx, table)
	if err != nil {
		return err
	}
	pk, err := inspector.PrimaryKey(ctx, table)
	if err != nil {
		return err
	}
	existingFKs, err := inspector.ForeignKeys(ctx, table)
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(plan.DropColumns))
	for _, c := range plan.DropColumns {
		drop[c] = true
	}

	isRowidTable := pk == database.RowidPK

	// Build the new column list, keeping relative order and
	// inserting AddColumn at the position of the leftmost dropped
	// column (spec.md §4.6).
	var newColumns []database.ColumnDef
	inserted := false
	insertAddColumn := func() {
		if plan.AddColumn != nil && !inserted {
			newColumns = append(newColumns, *plan.AddColumn)
			inserted = true
		}
	}

	if isRowidTable {
		newColumns = append(newColumns, database.ColumnDef{Name: database.RowidPK, Type: "INTEGER", PrimaryKey: true})
	}
	for _, c := range originalColumns {
		if drop[c.Name] {
			insertAddColumn()
			continue
		}
		newColumns = append(newColumns, database.ColumnDef{
			Name:       c.Name,
			Type:       c.Type,
			PrimaryKey: !isRowidTable && c.Name == pk,
		})
	}
	insertAddColumn() // AddColumn with no DropColumns (or trailing), appended at the end

	newForeignKeys := make([]database.ForeignKey, 0, len(existingFKs)+1)
	newForeignKeys = append(newForeignKeys, existingFKs...)
	if plan.ForeignKey != nil {
		newForeignKeys = append(newForeignKeys, *plan.ForeignKey)
	}

	tempTable := "__sqlitenorm_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	ddl := database.RenderCreateTable(tempTable, database.QuoteRewritten, newColumns, newForeignKeys)
	if _, err := r.exec.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating rewrite target for %s: %w", table, err)
	}

	selectCols := originalColumnSelectList(originalColumns, isRowidTable)
	rows, err := r.exec.QueryxContext(ctx, fmt.Sprintf("SELECT %s FROM %s", selectCols, database.QuoteIdentifier(table)))
	if err != nil {
		return fmt.Errorf("scanning rows of %s: %w", table, err)
	}

	insertColumnNames := make([]string, len(newColumns))
	for i, c := range newColumns {
		insertColumnNames[i] = database.BracketIdentifier(c.Name)
	}
	placeholders := strings.Repeat("?,", len(newColumns))
	placeholders = strings.TrimSuffix(placeholders, ",")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdentifier(tempTable), strings.Join(insertColumnNames, ", "), placeholders)

	for rows.Next() {
		row := make(RowValues)
		if err := rows.MapScan(row); err != nil {
			rows.Close()
			return fmt.Errorf("reading row of %s: %w", table, err)
		}

		values := make([]interface{}, len(newColumns))
		for i, c := range newColumns {
			if plan.AddColumn != nil && c.Name == plan.AddColumn.Name && !originalHasColumn(originalColumns, c.Name) {
				v, err := plan.ValueForRow(row)
				if err != nil {
					rows.Close()
					return fmt.Errorf("computing %s for a row of %s: %w", c.Name, table, err)
				}
				values[i] = v
				continue
			}
			values[i] = row[c.Name]
		}

		if _, err := r.exec.ExecContext(ctx, insertSQL, values...); err != nil {
			rows.Close()
			return fmt.Errorf("copying a row of %s: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if _, err := r.exec.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", database.QuoteIdentifier(table))); err != nil {
		return fmt.Errorf("dropping original %s: %w", table, err)
	}
	renameSQL := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", database.QuoteIdentifier(tempTable), database.QuoteIdentifier(table))
	if _, err := r.exec.ExecContext(ctx, renameSQL); err != nil {
		return fmt.Errorf("renaming rewrite target into place for %s: %w", table, err)
	}
	return nil
}

func originalHasColumn(columns []database.Column, name string) bool {
	for _, c := range columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

func originalColumnSelectList(columns []database.Column, isRowidTable bool) string {
	names := make([]string, 0, len(columns)+1)
	if isRowidTable {
		names = append(names, "rowid AS "+database.BracketIdentifier(database.RowidPK))
	}
	for _, c := range columns {
		names = append(names, database.BracketIdentifier(c.Name))
	}
	return strings.Join(names, ", ")
}
