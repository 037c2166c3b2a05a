package normalize

import (
	"context"
	"fmt"

	"github.com/phaer/sqlitenorm/internal/database"
)

// ReconcileLookup ensures plan.LookupTable exists and is shaped the
// way the extract needs it: primary key `id INTEGER`, plus a column
// for every effective lookup column inheriting the source column's
// declared type. An existing lookup table is reused as-is provided it
// is compatible (spec.md §4.3) -- this is what lets two different
// extract calls accrete rows into the same shared lookup table
// (spec.md §3 "Lifecycle").
//
// exec is the single transaction the enclosing mutating call opened;
// every read and write here happens through it.
func ReconcileLookup(ctx context.Context, exec database.Executor, sourceTable string, plan *Plan) error {
	inspector := database.NewSchemaInspector(exec)

	sourceColumns, err := inspector.Columns(ctx, sourceTable)
	if err != nil {
		return err
	}
	sourceTypes := make(map[string]string, len(sourceColumns))
	for _, c := range sourceColumns {
		sourceTypes[c.Name] = c.Type
	}

	exists, err := inspector.Exists(ctx, plan.LookupTable)
	if err != nil {
		return err
	}

	if !exists {
		return createLookupTable(ctx, exec, plan, sourceTypes)
	}
	return verifyLookupTable(ctx, inspector, plan, sourceTypes)
}

func createLookupTable(ctx context.Context, exec database.Executor, plan *Plan, sourceTypes map[string]string) error {
	columns := []database.ColumnDef{{Name: "id", Type: "INTEGER", PrimaryKey: true}}
	for i, effective := range plan.EffectiveColumns {
		columns = append(columns, database.ColumnDef{
			Name: effective,
			Type: sourceTypes[plan.SourceColumns[i]],
		})
	}

	ddl := database.RenderCreateTable(plan.LookupTable, database.QuoteFresh, columns, nil)
	if _, err := exec.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating lookup table %s: %w", plan.LookupTable, err)
	}
	return nil
}

func verifyLookupTable(ctx context.Context, inspector *database.SchemaInspector, plan *Plan, sourceTypes map[string]string) error {
	pk, err := inspector.PrimaryKey(ctx, plan.LookupTable)
	if err != nil {
		return err
	}
	if pk != "id" {
		return &database.IncompatibleLookupSchema{
			Table:  plan.LookupTable,
			Reason: fmt.Sprintf("primary key is %q, expected a single INTEGER column named id", pk),
		}
	}

	existingColumns, err := inspector.Columns(ctx, plan.LookupTable)
	if err != nil {
		return err
	}
	existingTypes := make(map[string]string, len(existingColumns))
	for _, c := range existingColumns {
		existingTypes[c.Name] = c.Type
	}

	if existingTypes["id"] != "INTEGER" {
		return &database.IncompatibleLookupSchema{
			Table:  plan.LookupTable,
			Reason: fmt.Sprintf("id column has type %q, expected INTEGER", existingTypes["id"]),
		}
	}

	for i, effective := range plan.EffectiveColumns {
		existingType, ok := existingTypes[effective]
		if !ok {
			return &database.IncompatibleLookupSchema{
				Table:  plan.LookupTable,
				Reason: fmt.Sprintf("missing column %q", effective),
			}
		}
		wantType := sourceTypes[plan.SourceColumns[i]]
		if existingType != wantType {
			return &database.IncompatibleLookupSchema{
				Table:  plan.LookupTable,
				Reason: fmt.Sprintf("column %q has type %q, expected %q", effective, existingType, wantType),
			}
		}
	}

	return nil
}
