// Package config provides application-wide configuration management.
// All configuration is loaded from files and environment variables.
// No configuration is hardcoded in strategy or risk logic.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Mode defines whether the system runs in paper or live trading mode.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config holds all system configuration.
// Loaded once at startup and passed as read-only to all components.
type Config struct {
	// ActiveBroker selects which broker implementation to use.
	ActiveBroker string `yaml:"active_broker"`

	// TradingMode controls whether orders are actually placed (live) or simulated (paper).
	TradingMode Mode `yaml:"trading_mode"`

	// Capital is the total capital available for trading (INR).
	Capital float64 `yaml:"capital"`

	// Risk configuration limits enforced by the risk gate.
	Risk RiskConfig `yaml:"risk"`

	// Paths for the storage partitions root and logs.
	Paths PathsConfig `yaml:"paths"`

	// BrokerConfig carries broker-specific settings (API keys, endpoints).
	BrokerConfig map[string]map[string]string `yaml:"broker_config"`

	// DatabaseURL, when set, is the Postgres mirror the telemetry bus uses
	// for its LISTEN/NOTIFY fan-out; the primary store is the embedded
	// SQLite partitions under Paths.StorageRoot.
	DatabaseURL string `yaml:"database_url"`

	// MarketCalendarPath points to the exchange holiday calendar file.
	MarketCalendarPath string `yaml:"market_calendar_path"`

	// Webhook server configuration for receiving broker postback notifications.
	Webhook WebhookConfig `yaml:"webhook"`

	// PollingIntervalMinutes governs the streaming-exhausted fallback poll
	// in the trading runner when a data source has no bar ready yet.
	PollingIntervalMinutes int `yaml:"polling_interval_minutes"`

	// SlippageBps is the simulated slippage applied to PAPER/backtest
	// fills, in basis points of the fill price, adverse to the order's
	// side (buys fill higher, sells fill lower). Zero disables it.
	SlippageBps float64 `yaml:"slippage_bps"`
}

// WebhookConfig holds settings for the order postback HTTP server.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// TrailingStopConfig configures the optional trailing-stop supplement to
// the runner's fixed TP/SL exit rule.
type TrailingStopConfig struct {
	Enabled       bool    `yaml:"enabled"`
	TrailPct      float64 `yaml:"trail_pct"`
	ActivationPct float64 `yaml:"activation_pct"`
}

// CircuitBreakerConfig configures the execution engine's failure-rate
// breaker, independent of the risk gate's kill switch.
type CircuitBreakerConfig struct {
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	MaxFailuresPerHour     int `yaml:"max_failures_per_hour"`
	CooldownMinutes        int `yaml:"cooldown_minutes"`
}

// GreekLimits bounds the risk gate's post-trade portfolio Greek envelope
// check (derivatives only).
type GreekLimits struct {
	MaxDelta float64 `yaml:"max_delta"`
	MaxVega  float64 `yaml:"max_vega"`
	MaxGamma float64 `yaml:"max_gamma"`
}

// RiskConfig defines hard risk guardrails. These limits are enforced by
// the risk gate in a fixed, short-circuiting order: kill switch, daily
// trade count, order quantity cap, allow/deny list, sector concentration,
// drawdown, Greek envelope.
type RiskConfig struct {
	// MaxRiskPerTradePct is the maximum percentage of capital risked on a single trade.
	MaxRiskPerTradePct float64 `yaml:"max_risk_per_trade_pct"`

	// MaxOpenPositions limits concurrent open positions.
	MaxOpenPositions int `yaml:"max_open_positions"`

	// MaxDailyLossPct is the maximum daily loss as a percentage of capital.
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`

	// MaxCapitalDeploymentPct limits how much total capital can be deployed at once.
	MaxCapitalDeploymentPct float64 `yaml:"max_capital_deployment_pct"`

	// MaxPerSector caps concurrent open positions sharing one sector tag.
	MaxPerSector int `yaml:"max_per_sector"`

	// MaxHoldDays supplements the runner's bar-count time-stop for swing
	// strategies measuring holds in calendar days.
	MaxHoldDays int `yaml:"max_hold_days"`

	// MaxDailyTrades is the risk gate's check 2: reject once the day's
	// order count would exceed this.
	MaxDailyTrades int `yaml:"max_daily_trades"`

	// MaxOrderQty is the risk gate's check 3: reject any single order
	// exceeding this quantity.
	MaxOrderQty int `yaml:"max_order_qty"`

	// AllowList, if non-empty, is the only set of instruments the risk
	// gate's check 4 permits; DenyList instruments are always rejected
	// regardless of AllowList.
	AllowList []string `yaml:"allow_list"`
	DenyList  []string `yaml:"deny_list"`

	// MaxDrawdownPct is the risk gate's check 6: reject and trip the kill
	// switch once current_equity <= initial_equity * (1 - pct/100).
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct"`

	// Greeks bounds the risk gate's check 7.
	Greeks GreekLimits `yaml:"greeks"`

	// KillSwitchFilePath is the manual-override file the risk gate's
	// check 1 looks for; its mere presence rejects every order.
	KillSwitchFilePath string `yaml:"kill_switch_file_path"`

	TrailingStop   TrailingStopConfig   `yaml:"trailing_stop"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// PathsConfig defines filesystem paths for the storage partitions and logs.
type PathsConfig struct {
	// StorageRoot is the base directory owning the six partition
	// subdirectories (historical, live, trading, signals, config, backtest).
	StorageRoot string `yaml:"storage_root"`

	// MarketDataDir is where cached market data lives (legacy mirror path).
	MarketDataDir string `yaml:"market_data_dir"`

	// LogDir is where all system logs are written.
	LogDir string `yaml:"log_dir"`
}

// Load reads configuration from a YAML file. Environment variables
// override file values where applicable.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if v := os.Getenv("ALGO_TRADING_MODE"); v != "" {
		cfg.TradingMode = Mode(v)
	}
	if v := os.Getenv("ALGO_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ALGO_ACTIVE_BROKER"); v != "" {
		cfg.ActiveBroker = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.ActiveBroker == "" {
		return fmt.Errorf("active_broker is required")
	}
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if c.Capital <= 0 {
		return fmt.Errorf("capital must be positive, got %f", c.Capital)
	}
	if c.Risk.MaxRiskPerTradePct <= 0 || c.Risk.MaxRiskPerTradePct > 100 {
		return fmt.Errorf("max_risk_per_trade_pct must be in (0, 100], got %f", c.Risk.MaxRiskPerTradePct)
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("max_open_positions must be positive, got %d", c.Risk.MaxOpenPositions)
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 100 {
		return fmt.Errorf("max_daily_loss_pct must be in (0, 100], got %f", c.Risk.MaxDailyLossPct)
	}
	if c.Risk.MaxCapitalDeploymentPct <= 0 || c.Risk.MaxCapitalDeploymentPct > 100 {
		return fmt.Errorf("max_capital_deployment_pct must be in (0, 100], got %f", c.Risk.MaxCapitalDeploymentPct)
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("slippage_bps must not be negative, got %f", c.SlippageBps)
	}
	if c.Risk.MaxDailyTrades <= 0 {
		return fmt.Errorf("max_daily_trades must be positive, got %d", c.Risk.MaxDailyTrades)
	}
	if c.Risk.MaxOrderQty <= 0 {
		return fmt.Errorf("max_order_qty must be positive, got %d", c.Risk.MaxOrderQty)
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		return fmt.Errorf("max_drawdown_pct must be in (0, 100], got %f", c.Risk.MaxDrawdownPct)
	}
	if c.Paths.StorageRoot == "" {
		return fmt.Errorf("paths.storage_root is required")
	}

	if c.TradingMode == ModeLive {
		if err := c.validateLiveMode(); err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
	}

	return nil
}

// validateLiveMode enforces extra safety checks when running with real money.
func (c *Config) validateLiveMode() error {
	if c.BrokerConfig == nil {
		return fmt.Errorf("broker_config is required for live trading")
	}
	if _, ok := c.BrokerConfig[c.ActiveBroker]; !ok {
		return fmt.Errorf("broker_config[%q] is required for live trading", c.ActiveBroker)
	}

	// Safety cap: max 5 open positions in live mode.
	if c.Risk.MaxOpenPositions > 5 {
		return fmt.Errorf("max_open_positions cannot exceed 5 in live mode (got %d)", c.Risk.MaxOpenPositions)
	}

	// Safety cap: max 2%% risk per trade in live mode.
	if c.Risk.MaxRiskPerTradePct > 2.0 {
		return fmt.Errorf("max_risk_per_trade_pct cannot exceed 2%% in live mode (got %.1f%%)", c.Risk.MaxRiskPerTradePct)
	}

	// Safety cap: max 70%% capital deployment in live mode.
	if c.Risk.MaxCapitalDeploymentPct > 70.0 {
		return fmt.Errorf("max_capital_deployment_pct cannot exceed 70%% in live mode (got %.1f%%)", c.Risk.MaxCapitalDeploymentPct)
	}

	// Live mode requires an explicit double-confirmation beyond the config
	// file itself, so a stray live config can't silently go live.
	if os.Getenv("ALGO_LIVE_CONFIRMED") != "true" {
		return fmt.Errorf("ALGO_LIVE_CONFIRMED=true is required to start in live mode")
	}

	return nil
}
