package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/phaer/sqlitenorm/internal/normalize"
	"github.com/phaer/sqlitenorm/internal/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	extractTable    string
	extractFKColumn string
	extractRename   []string
)

var extractCmd = &cobra.Command{
	Use:   "extract [table] [columns...]",
	Short: "Lift repeated column values into a lookup table",
	Long: `Lift one or more columns out of a table into a lookup table linked
by foreign key.

Examples:
  sqlitenorm extract tree species
  sqlitenorm extract tree common_name latin_name --table species --rename common_name=name`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractTable, "table", "", "destination lookup table name (default: derived from columns)")
	extractCmd.Flags().StringVar(&extractFKColumn, "fk-column", "", "foreign key column name (default: derived from the lookup table name)")
	extractCmd.Flags().StringSliceVar(&extractRename, "rename", nil, "rename a requested column in the lookup table, as old=new")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sourceTable, columns := args[0], args[1:]

	rename, err := parseRenameFlags(extractRename)
	if err != nil {
		return err
	}

	conn, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer conn.Close()

	t := table.New(conn, sourceTable)
	opts := normalize.ExtractOptions{Table: extractTable, FKColumn: extractFKColumn, Rename: rename}
	if err := t.Extract(ctx, columns, opts); err != nil {
		return err
	}

	log.Info().Str("table", sourceTable).Strs("columns", columns).Msg("Extract complete")
	return nil
}

// parseRenameFlags turns a repeated --rename old=new flag into the
// map normalize.ResolveOptions.Rename expects.
func parseRenameFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	rename := make(map[string]string, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --rename value %q, expected old=new", f)
		}
		rename[parts[0]] = parts[1]
	}
	return rename, nil
}
