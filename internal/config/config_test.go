package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Risk: defaultRisk(),
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateLiveRejectsPlaceholderCredentials(t *testing.T) {
	cases := []string{"", "your_api_key_here", "PLACEHOLDER", "changeme", "xxx"}
	for _, key := range cases {
		cfg := validConfig()
		cfg.Trading.Live = true
		cfg.Extended.APIKey = key
		cfg.Extended.APISecret = "real-secret"
		cfg.TradeXYZ.APIKey = "real-key"
		cfg.TradeXYZ.APISecret = "real-secret"

		assert.Error(t, cfg.Validate(), "key %q must be rejected in live mode", key)
	}
}

func TestValidateLiveAcceptsRealCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.Live = true
	cfg.Extended.APIKey = "ak-123"
	cfg.Extended.APISecret = "sk-456"
	cfg.TradeXYZ.APIKey = "ak-789"
	cfg.TradeXYZ.APISecret = "sk-012"

	assert.NoError(t, cfg.Validate())
}

func TestValidateDryRunAllowsEmptyCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.Live = false
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsInvalidBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"equity above one", func(c *Config) { c.Risk.MaxEquityUsage = 1.5 }},
		{"equity inverted", func(c *Config) { c.Risk.MinEquityUsage = 0.9; c.Risk.MaxEquityUsage = 0.1 }},
		{"zero leverage", func(c *Config) { c.Risk.MinLeverage = 0 }},
		{"leverage inverted", func(c *Config) { c.Risk.MinLeverage = 30; c.Risk.MaxLeverage = 10 }},
		{"zero hold", func(c *Config) { c.Risk.MinHold = 0 }},
		{"cooldown inverted", func(c *Config) { c.Risk.MinCooldown = time.Hour; c.Risk.MaxCooldown = time.Minute }},
		{"zero failure limit", func(c *Config) { c.Risk.MaxConsecutiveFailures = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyProfileOverridesOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	yaml := `
risk_profiles:
  conservative:
    max_equity_usage: 0.3
    max_leverage: 5
    min_hold_seconds: 3600
  aggressive:
    max_leverage: 20
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	risk := defaultRisk()
	require.NoError(t, applyProfile(&risk, path, "conservative"))

	assert.InDelta(t, 0.3, risk.MaxEquityUsage, 1e-9)
	assert.Equal(t, 5, risk.MaxLeverage)
	assert.Equal(t, time.Hour, risk.MinHold)
	// Не заданные профилем поля сохраняют дефолты
	assert.InDelta(t, defaultRisk().MinEquityUsage, risk.MinEquityUsage, 1e-9)
	assert.Equal(t, defaultRisk().MaxConsecutiveFailures, risk.MaxConsecutiveFailures)
}

func TestApplyProfileUnknownName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk_profiles:\n  moderate:\n    max_leverage: 10\n"), 0o644))

	risk := defaultRisk()
	assert.Error(t, applyProfile(&risk, path, "missing"))
}

func TestApplyProfileMissingFile(t *testing.T) {
	risk := defaultRisk()
	assert.Error(t, applyProfile(&risk, "/nonexistent/profiles.yaml", "moderate"))
}
