package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Symbols:   []string{"BTCUSDT"},
		Execution: ExecutionConfig{DryRun: true},
	}
	cfg.SetDefaults()
	return cfg
}

// TestSetDefaults_ConservativeBudget verifies the defaults match the intended
// conservative policy
func TestSetDefaults_ConservativeBudget(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 0.0015, cfg.Risk.RiskPerTrade)
	assert.Equal(t, 2.0, cfg.Risk.LeverageCap)
	assert.Equal(t, 3, cfg.Risk.MaxConcurrent)
	assert.Equal(t, 0.01, cfg.Risk.DailyDrawdownLimit)
	assert.Equal(t, 0.03, cfg.Risk.WeeklyDrawdownLimit)
	assert.Equal(t, 0.20, cfg.Risk.LiquidationBuffer)
	assert.Equal(t, 0.30, cfg.Risk.MaxAllocPerSymbol)
	assert.Equal(t, 5, cfg.Execution.ExchangeErrorThreshold)
	assert.Equal(t, 0.10, cfg.Execution.AnomalyThreshold)
	assert.Equal(t, 10000.0, cfg.Execution.PaperBalance)
	assert.Equal(t, "linear", cfg.Exchange.Category)
	assert.Equal(t, "bybit", cfg.Exchange.Name)
}

// TestValidate_AcceptsDefaults verifies the default dry-run config is valid
func TestValidate_AcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

// TestValidate_Rejections walks the validation failure cases
func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"zero risk", func(c *Config) { c.Risk.RiskPerTrade = -0.1 }},
		{"leverage above cap", func(c *Config) { c.Risk.LeverageCap = 3 }},
		{"leverage below one", func(c *Config) { c.Risk.LeverageCap = 0.5 }},
		{"zero concurrency", func(c *Config) { c.Risk.MaxConcurrent = -1 }},
		{"daily drawdown out of range", func(c *Config) { c.Risk.DailyDrawdownLimit = 1.5 }},
		{"weekly below daily", func(c *Config) { c.Risk.WeeklyDrawdownLimit = 0.005 }},
		{"no liquidation buffer", func(c *Config) { c.Risk.LiquidationBuffer = -1 }},
		{"live without credentials", func(c *Config) { c.Execution.DryRun = false }},
		{"unsupported category", func(c *Config) { c.Exchange.Category = "inverse" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestLoad_FileAndEnvOverrides verifies JSON loading plus env-sourced secrets
func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.json")
	body := `{
		"symbols": ["BTCUSDT", "ETHUSDT"],
		"risk": {"risk_fraction_per_trade": 0.001},
		"execution": {"dry_run": true},
		"state_dir": "` + filepath.ToSlash(filepath.Join(dir, "state")) + `"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	t.Setenv("EXCHANGE_API_KEY", "key-from-env")
	t.Setenv("EXCHANGE_API_SECRET", "secret-from-env")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, 0.001, cfg.Risk.RiskPerTrade)
	assert.Equal(t, "key-from-env", cfg.Exchange.APIKey)
	// unset values picked up defaults
	assert.Equal(t, 2.0, cfg.Risk.LeverageCap)
	require.NoError(t, cfg.Validate())
}

// TestLoad_MissingFile verifies a readable error for a missing config
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"), "")
	assert.Error(t, err)
}
