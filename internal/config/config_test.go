package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Driver)
	assert.Equal(t, 15*time.Second, cfg.PollingDelay)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := RuntimeConfig{Driver: "oracle"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresDSNForSQLDrivers(t *testing.T) {
	cfg := RuntimeConfig{Driver: "postgres"}
	assert.Error(t, cfg.Validate())

	cfg.DSN = "postgres://localhost/jobs"
	assert.NoError(t, cfg.Validate())
}
