package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Contains(t, cfg.DBPath, "stepflow.db")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("STEPFLOW_DB_PATH", "/tmp/test.db")
	t.Setenv("STEPFLOW_LOG_LEVEL", "debug")

	cfg := loadConfig()
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestNewLogger_LevelFallback(t *testing.T) {
	assert.NotNil(t, newLogger("debug"))
	assert.NotNil(t, newLogger("bogus"))
}
