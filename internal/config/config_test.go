package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml in sight

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, int64(250), cfg.Fees.DefaultRateBps)
	assert.Equal(t, int64(1000), cfg.Fees.MaxRateBps)
	assert.Equal(t, "header", cfg.Auth.Mode)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "polygrid.ledger.events", cfg.Kafka.Topic)
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POLYGRID_SERVER_ADDR", ":9999")
	t.Setenv("POLYGRID_FEES_DEFAULT_RATE_BPS", "100")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, int64(100), cfg.Fees.DefaultRateBps)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "sqlite"},
			Fees:     FeesConfig{DefaultRateBps: 250, MaxRateBps: 1000},
			Auth:     AuthConfig{Mode: "header"},
		}
	}

	cfg := base()
	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Fees.DefaultRateBps = 2000
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Fees.Admin = "not-an-address"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Mode = "oauth"
	assert.Error(t, cfg.Validate())

	assert.NoError(t, base().Validate())
}
