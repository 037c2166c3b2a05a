package cmd

import (
	"context"
	"fmt"

	"github.com/phaer/sqlitenorm/internal/normalize"
	"github.com/phaer/sqlitenorm/internal/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	expandDestination string
	expandPK          string
)

var expandCmd = &cobra.Command{
	Use:   "expand [table] [column]",
	Short: "Normalize a structured JSON column into related tables",
	Long: `Decode a column holding JSON objects or arrays and normalize it into
one or more related tables: an object expands 1:N, a scalar array
becomes N:1 child rows, and an array of objects becomes M:N through a
junction table.

Examples:
  sqlitenorm expand tree species --destination species --pk id
  sqlitenorm expand tree tags --destination tags --pk id`,
	Args: cobra.ExactArgs(2),
	RunE: runExpand,
}

func init() {
	expandCmd.Flags().StringVar(&expandDestination, "destination", "", "destination table name (required)")
	expandCmd.Flags().StringVar(&expandPK, "pk", "id", "destination table primary key column name")
	_ = expandCmd.MarkFlagRequired("destination")
}

func runExpand(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sourceTable, column := args[0], args[1]

	conn, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer conn.Close()

	t := table.New(conn, sourceTable)
	if err := t.ExtractExpand(ctx, column, normalize.JSONDecoder{}, expandDestination, expandPK); err != nil {
		return err
	}

	log.Info().Str("table", sourceTable).Str("column", column).Str("destination", expandDestination).Msg("Expand complete")
	return nil
}
