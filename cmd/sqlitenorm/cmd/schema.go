package cmd

import (
	"context"
	"fmt"

	"github.com/phaer/sqlitenorm/internal/table"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema [table]",
	Short: "Print a table's canonical CREATE TABLE text",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	conn, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer conn.Close()

	t := table.New(conn, args[0])
	schema, err := t.Schema(ctx)
	if err != nil {
		return err
	}
	fmt.Println(schema)
	return nil
}
