package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ValidateRejectsEmptyPath(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Format: "console"}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestConfig_ValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Path: "test.db"},
		Logging:  LoggingConfig{Format: "xml"},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestConfig_ValidateAccepts(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Path: "test.db"},
		Logging:  LoggingConfig{Format: "json"},
	}
	assert.NoError(t, cfg.Validate())
}
