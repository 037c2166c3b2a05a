package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/phaer/sqlitenorm/internal/database"
)

// ResolveOptions carries the caller-supplied overrides for an extract
// call (spec.md §4.2).
type ResolveOptions struct {
	// Table, when set, names the destination lookup table explicitly.
	Table string
	// FKColumn, when set, names the foreign-key column explicitly.
	FKColumn string
	// Rename maps a subset of the requested columns to new names in
	// the lookup table.
	Rename map[string]string
}

// Plan is the resolved, validated plan for an extract: the foreign
// key column to add to the source table, the lookup table to
// populate, and the effective (post-rename) lookup column names in
// the same order as the requested source columns.
type Plan struct {
	SourceColumns    []string
	EffectiveColumns []string
	FKColumn         string
	LookupTable      string
}

// Resolve validates requestedColumns against the source table's
// schema and derives the lookup table name and FK column name when
// the caller did not supply them (spec.md §4.2).
func Resolve(ctx context.Context, inspector *database.SchemaInspector, sourceTable string, requestedColumns []string, opts ResolveOptions) (*Plan, error) {
	if len(requestedColumns) == 0 {
		return nil, &database.InvalidColumns{Reason: "no columns requested"}
	}

	seen := make(map[string]bool, len(requestedColumns))
	for _, c := range requestedColumns {
		if seen[c] {
			return nil, &database.InvalidColumns{Reason: fmt.Sprintf("duplicate column %q requested", c)}
		}
		seen[c] = true
	}

	existing, err := inspector.Columns(ctx, sourceTable)
	if err != nil {
		return nil, err
	}
	existingNames := make(map[string]bool, len(existing))
	for _, c := range existing {
		existingNames[c.Name] = true
	}

	var missing []string
	for _, c := range requestedColumns {
		if !existingNames[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &database.InvalidColumns{Missing: missing}
	}

	existingFKs, err := inspector.ForeignKeys(ctx, sourceTable)
	if err != nil {
		return nil, err
	}
	fkColumns := make(map[string]bool, len(existingFKs))
	for _, fk := range existingFKs {
		fkColumns[fk.Column] = true
	}
	for _, c := range requestedColumns {
		if fkColumns[c] {
			return nil, &database.InvalidColumns{Reason: fmt.Sprintf("column %q is already a foreign key", c)}
		}
	}

	for from := range opts.Rename {
		if !seen[from] {
			return nil, &database.InvalidColumns{Reason: fmt.Sprintf("rename refers to column %q which was not requested", from)}
		}
	}

	effective := make([]string, len(requestedColumns))
	effectiveSeen := make(map[string]bool, len(requestedColumns))
	for i, c := range requestedColumns {
		name := c
		if renamed, ok := opts.Rename[c]; ok {
			name = renamed
		}
		if effectiveSeen[name] {
			return nil, &database.InvalidColumns{Reason: fmt.Sprintf("rename produces duplicate column name %q", name)}
		}
		effectiveSeen[name] = true
		effective[i] = name
	}

	lookupTable := opts.Table
	if lookupTable == "" {
		lookupTable = strings.Join(requestedColumns, "_")
	}

	fkColumn := opts.FKColumn
	if fkColumn == "" {
		fkColumn = lookupTable + "_id"
	}

	return &Plan{
		SourceColumns:    requestedColumns,
		EffectiveColumns: effective,
		FKColumn:         fkColumn,
		LookupTable:      lookupTable,
	}, nil
}
