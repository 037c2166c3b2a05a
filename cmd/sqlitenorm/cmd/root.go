// Package cmd provides the Cobra commands for the sqlitenorm CLI.
package cmd

import (
	"context"
	"os"

	"github.com/phaer/sqlitenorm/internal/config"
	"github.com/phaer/sqlitenorm/internal/database"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"

	// Global flags
	dbPath string
	debug  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sqlitenorm",
	Short: "Normalize denormalized SQLite tables",
	Long: `sqlitenorm lifts repeated column values out of a SQLite table into a
lookup table linked by foreign key, and expands structured JSON
columns into related tables.

Get started:
  sqlitenorm extract tree species
  sqlitenorm expand tree tags --destination tags --pk id`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the sqlite database file (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(schemaCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	loaded, err := config.Load()
	if err != nil {
		return err
	}
	if dbPath != "" {
		loaded.Database.Path = dbPath
	}
	cfg = loaded

	if cfg.Logging.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if debug || cfg.Logging.Level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return nil
}

// openDB opens the configured database for the duration of one
// command invocation.
func openDB(ctx context.Context) (*database.Connection, error) {
	return database.Open(ctx, cfg.Database.Path)
}
