// Package config loads sqlitenorm's runtime configuration from a
// config file, an optional .env file, and environment variables, in
// that order of increasing precedence: .env entries are exported into
// the environment only where a variable is not already set, and
// environment variables override the config file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is sqlitenorm's runtime configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig names the SQLite file the engine operates on. The
// BusyTimeout and ForeignKeys settings are loaded but not read by
// database.Open, which always sets foreign_keys = ON and a 5000 ms
// busy timeout.
type DatabaseConfig struct {
	Path        string `mapstructure:"path"`
	BusyTimeout int    `mapstructure:"busy_timeout_ms"`
	ForeignKeys bool   `mapstructure:"foreign_keys"`
}

// LoggingConfig controls zerolog's output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// Load loads configuration from file and environment variables,
// applying defaults for anything left unset.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Msg("No .env file found - using environment variables and defaults")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SQLITENORM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configPaths := []string{
		"./sqlitenorm.yaml",
		"./sqlitenorm.yml",
		"./config/sqlitenorm.yaml",
		"/etc/sqlitenorm/sqlitenorm.yaml",
	}

	var configLoaded bool
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err == nil {
			viper.SetConfigFile(configPath)
			if err := viper.ReadInConfig(); err != nil {
				log.Warn().Err(err).Str("file", configPath).Msg("Config file found but could not be parsed, using environment variables and defaults")
			} else {
				log.Info().Str("file", configPath).Msg("Config file loaded")
				configLoaded = true
			}
			break
		}
	}

	if !configLoaded {
		log.Debug().Msg("No config file found, using environment variables and defaults")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks constraints Load cannot express through defaults
// alone.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// loadEnvFile loads environment variables from a .env file, checking
// a few common locations.
func loadEnvFile() error {
	locations := []string{".env", ".env.local"}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func setDefaults() {
	viper.SetDefault("database.path", "sqlitenorm.db")
	viper.SetDefault("database.busy_timeout_ms", 5000)
	viper.SetDefault("database.foreign_keys", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}
