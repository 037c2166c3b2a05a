package database

import (
	"fmt"
	"strings"
)

// TableNotFound is raised when an operation asserts a table's
// presence and the schema has no such table.
type TableNotFound struct {
	Table string
}

func (e *TableNotFound) Error() string {
	return fmt.Sprintf("table not found: %s", e.Table)
}

// InvalidColumns is raised for every validation failure ahead of a
// write: unknown columns, empty column lists, rename collisions, and
// (as IncompatibleLookupSchema) an existing lookup table that does
// not match the requested shape.
type InvalidColumns struct {
	Missing []string
	Reason  string
}

func (e *InvalidColumns) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("invalid columns: missing %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid columns: %s", e.Reason)
}

// IncompatibleLookupSchema is a subtype of InvalidColumns (spec.md §6):
// an existing lookup table was found but its primary key or column
// types do not match what the requested extract needs. Unwrap exposes
// it as an *InvalidColumns so callers that only know about the parent
// type still match it with errors.As.
type IncompatibleLookupSchema struct {
	Table  string
	Reason string
}

func (e *IncompatibleLookupSchema) Error() string {
	return fmt.Sprintf("incompatible lookup schema for %s: %s", e.Table, e.Reason)
}

func (e *IncompatibleLookupSchema) Unwrap() error {
	return &InvalidColumns{Reason: e.Error()}
}

// ShapeMismatch is raised mid-expand when a row's decoded payload
// does not match the strategy chosen from the column's first row.
type ShapeMismatch struct {
	Table  string
	Column string
	Want   string
	Got    string
}

func (e *ShapeMismatch) Error() string {
	return fmt.Sprintf("shape mismatch in %s.%s: expected %s, got %s", e.Table, e.Column, e.Want, e.Got)
}
