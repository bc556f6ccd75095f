package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete configuration for the execution agent
type Config struct {
	// Symbols the agent accepts intents for
	Symbols []string `json:"symbols"`

	// Risk budget (not mutated at runtime)
	Risk RiskBudget `json:"risk"`

	// Execution coordinator settings
	Execution ExecutionConfig `json:"execution"`

	// Exchange connection settings
	Exchange ExchangeConfig `json:"exchange"`

	// Notification configuration (optional)
	Notifications *NotificationConfig `json:"notifications,omitempty"`

	// Monitoring endpoints
	Monitoring MonitoringConfig `json:"monitoring"`

	// StateDir holds the durable ledger and kill switch snapshots
	StateDir string `json:"state_dir"`
}

// RiskBudget holds the fixed, conservative risk policy.
// Every value is configuration; none of these are runtime-mutable.
type RiskBudget struct {
	RiskPerTrade          float64 `json:"risk_fraction_per_trade"` // fraction of equity risked per trade
	LeverageCap           float64 `json:"leverage_cap"`
	MaxConcurrent         int     `json:"max_concurrent_positions"`
	DailyDrawdownLimit    float64 `json:"daily_drawdown_limit"`
	WeeklyDrawdownLimit   float64 `json:"weekly_drawdown_limit"`
	LiquidationBuffer     float64 `json:"liquidation_safety_buffer"` // min |stop-liq| as fraction of entry price
	MaintenanceMarginRate float64 `json:"maintenance_margin_rate"`
	MaxAllocPerSymbol     float64 `json:"max_alloc_per_symbol"` // margin cap per symbol as fraction of equity
	AllowPyramiding       bool    `json:"allow_pyramiding"`
}

// ExecutionConfig holds coordinator timing and safety thresholds
type ExecutionConfig struct {
	DryRun bool `json:"dry_run"`

	// PaperBalance seeds the simulated account in dry-run mode
	PaperBalance float64 `json:"paper_balance"`

	ExchangeErrorThreshold int     `json:"exchange_error_threshold"`
	ExchangeErrorWindowSec int     `json:"exchange_error_window_sec"`
	AnomalyThreshold       float64 `json:"equity_anomaly_threshold"` // max equity change per interval, fraction

	FillTimeoutSec            int `json:"fill_timeout_sec"`
	ReconciliationIntervalSec int `json:"reconciliation_interval_sec"`
	ReconciliationTimeoutSec  int `json:"reconciliation_timeout_sec"`

	RetryMaxAttempts     int     `json:"retry_max_attempts"`
	RetryInitialDelayMs  int     `json:"retry_initial_delay_ms"`
	RetryMaxDelayMs      int     `json:"retry_max_delay_ms"`
	RetryBackoffFactor   float64 `json:"retry_backoff_factor"`
	TakeProfitVolatility float64 `json:"take_profit_volatility_mult"` // TP distance as multiple of intent volatility

	QuantityTolerance float64 `json:"quantity_tolerance"` // reconciliation rounding tolerance
}

// ExchangeConfig holds exchange gateway settings (secrets come from env)
type ExchangeConfig struct {
	Name      string `json:"name"`
	Category  string `json:"category"` // linear only for now
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
	Testnet   bool   `json:"testnet"`
	Demo      bool   `json:"demo"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"-"`
	TelegramChat  string `json:"-"`
}

// MonitoringConfig holds metrics and admin endpoint settings
type MonitoringConfig struct {
	ListenAddr string `json:"listen_addr"`
}

func (e ExecutionConfig) FillTimeout() time.Duration {
	return time.Duration(e.FillTimeoutSec) * time.Second
}

func (e ExecutionConfig) ReconciliationInterval() time.Duration {
	return time.Duration(e.ReconciliationIntervalSec) * time.Second
}

func (e ExecutionConfig) ReconciliationTimeout() time.Duration {
	return time.Duration(e.ReconciliationTimeoutSec) * time.Second
}

func (e ExecutionConfig) ExchangeErrorWindow() time.Duration {
	return time.Duration(e.ExchangeErrorWindowSec) * time.Second
}

func (e ExecutionConfig) RetryInitialDelay() time.Duration {
	return time.Duration(e.RetryInitialDelayMs) * time.Millisecond
}

func (e ExecutionConfig) RetryMaxDelay() time.Duration {
	return time.Duration(e.RetryMaxDelayMs) * time.Millisecond
}

// Load loads configuration from a JSON file, then applies env overrides.
// Secrets (API keys, telegram credentials) only ever come from the environment.
func Load(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		// Missing .env is fine; env vars may come from the process environment
		_ = godotenv.Load(envFile)
	}

	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	// Validation is left to the caller so command-line overrides (notably
	// -dry-run) can be applied first.
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Exchange.APIKey = getEnv("EXCHANGE_API_KEY", c.Exchange.APIKey)
	c.Exchange.APISecret = getEnv("EXCHANGE_API_SECRET", c.Exchange.APISecret)

	if c.Notifications != nil {
		c.Notifications.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notifications.TelegramToken)
		c.Notifications.TelegramChat = getEnv("TELEGRAM_CHAT_ID", c.Notifications.TelegramChat)
	}
}

// SetDefaults applies conservative defaults for anything left unset
func (c *Config) SetDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = "bybit"
	}
	if c.Exchange.Category == "" {
		c.Exchange.Category = "linear"
	}
	if c.StateDir == "" {
		c.StateDir = "state"
	}
	if c.Monitoring.ListenAddr == "" {
		c.Monitoring.ListenAddr = ":8080"
	}

	r := &c.Risk
	if r.RiskPerTrade == 0 {
		r.RiskPerTrade = 0.0015
	}
	if r.LeverageCap == 0 {
		r.LeverageCap = 2.0
	}
	if r.MaxConcurrent == 0 {
		r.MaxConcurrent = 3
	}
	if r.DailyDrawdownLimit == 0 {
		r.DailyDrawdownLimit = 0.01
	}
	if r.WeeklyDrawdownLimit == 0 {
		r.WeeklyDrawdownLimit = 0.03
	}
	if r.LiquidationBuffer == 0 {
		r.LiquidationBuffer = 0.20
	}
	if r.MaintenanceMarginRate == 0 {
		r.MaintenanceMarginRate = 0.005
	}
	if r.MaxAllocPerSymbol == 0 {
		r.MaxAllocPerSymbol = 0.30
	}

	e := &c.Execution
	if e.PaperBalance == 0 {
		e.PaperBalance = 10000
	}
	if e.ExchangeErrorThreshold == 0 {
		e.ExchangeErrorThreshold = 5
	}
	if e.ExchangeErrorWindowSec == 0 {
		e.ExchangeErrorWindowSec = 60
	}
	if e.AnomalyThreshold == 0 {
		e.AnomalyThreshold = 0.10
	}
	if e.FillTimeoutSec == 0 {
		e.FillTimeoutSec = 10
	}
	if e.ReconciliationIntervalSec == 0 {
		e.ReconciliationIntervalSec = 60
	}
	if e.ReconciliationTimeoutSec == 0 {
		e.ReconciliationTimeoutSec = 30
	}
	if e.RetryMaxAttempts == 0 {
		e.RetryMaxAttempts = 3
	}
	if e.RetryInitialDelayMs == 0 {
		e.RetryInitialDelayMs = 1000
	}
	if e.RetryMaxDelayMs == 0 {
		e.RetryMaxDelayMs = 30000
	}
	if e.RetryBackoffFactor == 0 {
		e.RetryBackoffFactor = 2.0
	}
	if e.TakeProfitVolatility == 0 {
		e.TakeProfitVolatility = 2.0
	}
	if e.QuantityTolerance == 0 {
		e.QuantityTolerance = 1e-8
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	r := c.Risk
	if r.RiskPerTrade <= 0 || r.RiskPerTrade >= 1 {
		return fmt.Errorf("risk_fraction_per_trade must be in (0, 1), got %.4f", r.RiskPerTrade)
	}
	if r.LeverageCap < 1 || r.LeverageCap > 2 {
		return fmt.Errorf("leverage_cap must be in [1, 2], got %.2f", r.LeverageCap)
	}
	if r.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent_positions must be >= 1, got %d", r.MaxConcurrent)
	}
	if r.DailyDrawdownLimit <= 0 || r.DailyDrawdownLimit >= 1 {
		return fmt.Errorf("daily_drawdown_limit must be in (0, 1), got %.4f", r.DailyDrawdownLimit)
	}
	if r.WeeklyDrawdownLimit < r.DailyDrawdownLimit {
		return fmt.Errorf("weekly_drawdown_limit %.4f must be >= daily_drawdown_limit %.4f",
			r.WeeklyDrawdownLimit, r.DailyDrawdownLimit)
	}
	if r.LiquidationBuffer <= 0 {
		return fmt.Errorf("liquidation_safety_buffer must be positive, got %.4f", r.LiquidationBuffer)
	}

	if !c.Execution.DryRun {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("live mode requires EXCHANGE_API_KEY and EXCHANGE_API_SECRET")
		}
	}
	if c.Exchange.Category != "linear" {
		return fmt.Errorf("only linear (USDT-M) category is supported, got %q", c.Exchange.Category)
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
