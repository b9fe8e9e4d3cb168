// Package config handles configuration loading and validation for the
// trading kernel: a single YAML file, environment-variable expanded,
// validated once at startup before any component is constructed.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration structure (spec §A.3).
type Config struct {
	App         AppConfig         `yaml:"app"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Trading     TradingConfig     `yaml:"trading"`
	Risk        RiskConfig        `yaml:"risk"`
	Timing      TimingConfig      `yaml:"timing"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig carries process-wide settings.
type AppConfig struct {
	TradingMode string `yaml:"trading_mode"` // "live" or "paper"
	LogLevel    string `yaml:"log_level"`    // DEBUG/INFO/WARN/ERROR/FATAL
}

// ExchangeConfig carries credentials and endpoint overrides for the live
// Binance client, plus the paper client's slippage knob.
type ExchangeConfig struct {
	APIKey      Secret `yaml:"api_key"`
	SecretKey   Secret `yaml:"secret_key"`
	BaseURL     string `yaml:"base_url"`
	SlippageBps int64  `yaml:"slippage_bps"`
}

// StrategyConfig configures one registered strategy instance for one pair.
type StrategyConfig struct {
	Type     string  `yaml:"type"` // "rsi" or "macd"
	Pair     string  `yaml:"pair"`
	Period   int     `yaml:"period"` // rsi
	Fast     int     `yaml:"fast"`   // macd
	Slow     int     `yaml:"slow"`   // macd
	Signal   int     `yaml:"signal"` // macd
	Quantity float64 `yaml:"quantity"`
}

// TradingConfig lists the pairs the ingestor subscribes to and the
// strategies the engine evaluates against them.
type TradingConfig struct {
	Pairs      []string         `yaml:"pairs"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

// RiskConfig mirrors model.RiskConfig in plain-float YAML form; the
// entrypoint (cmd/trader buildRiskConfig) converts these into
// decimal.Decimal when building model.RiskConfig.
type RiskConfig struct {
	StopLossPct           float64 `yaml:"stop_loss_pct"`
	TakeProfitPct         float64 `yaml:"take_profit_pct"`
	MaxExposurePerTrade   float64 `yaml:"max_exposure_per_trade"`
	MaxExposureIsPercent  bool    `yaml:"max_exposure_is_percent"`
	MaxDrawdownPct        float64 `yaml:"max_drawdown_pct"`
	InitialPortfolioValue float64 `yaml:"initial_portfolio_value"`
}

// TimingConfig carries startup and stop-drain bound settings. The
// entrypoint does not read them: the ingestor's connect bound (5s) and the
// supervisor's stop-drain window (30s) are fixed constants.
type TimingConfig struct {
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	StopDrainSeconds      int `yaml:"stop_drain_seconds"`
}

// ConcurrencyConfig sizes the bounded channels and broadcast rings.
// CommandBufferSize is not read; the supervisor's command channel is
// unbuffered.
type ConcurrencyConfig struct {
	MarketBusRingSize int `yaml:"market_bus_ring_size"`
	EventBusRingSize  int `yaml:"event_bus_ring_size"`
	SignalBufferSize  int `yaml:"signal_buffer_size"`
	OrderBufferSize   int `yaml:"order_buffer_size"`
	CommandBufferSize int `yaml:"command_buffer_size"`
}

// TelemetryConfig holds metrics-exporter settings. The entrypoint does not
// read them and serves no metrics HTTP endpoint.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError names the offending field. Hand-rolled rather than
// struct-tag driven: this module's dependency surface does not carry
// go-playground/validator.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig reads filename, expands ${VAR} references against the
// process environment, unmarshals, and validates.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	// Paper slippage defaults to 10bps; an explicit slippage_bps overrides it.
	cfg.Exchange.SlippageBps = 10
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs every field-level check spec §7 requires at startup.
// A non-nil error here means main.go logs it and exits(1) without
// constructing a single component.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateApp(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchange(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateTrading(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRisk(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateApp() error {
	switch c.App.TradingMode {
	case "live", "paper":
	default:
		return ValidationError{Field: "app.trading_mode", Value: c.App.TradingMode, Message: "must be one of: live, paper"}
	}
	switch strings.ToUpper(c.App.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
	default:
		return ValidationError{Field: "app.log_level", Value: c.App.LogLevel, Message: "must be one of: DEBUG INFO WARN ERROR FATAL"}
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.App.TradingMode != "live" {
		return nil
	}
	if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
		return ValidationError{Field: "exchange", Message: "api_key and secret_key are required when trading_mode is live"}
	}
	return nil
}

// BinanceCredentials exposes the underlying API key/secret strings to the
// live exchange client constructor, the one place allowed to see them in
// cleartext.
func (c ExchangeConfig) BinanceCredentials() (apiKey, secretKey string) {
	return string(c.APIKey), string(c.SecretKey)
}

func (c *Config) validateTrading() error {
	if len(c.Trading.Pairs) == 0 {
		return ValidationError{Field: "trading.pairs", Message: "at least one pair must be configured"}
	}
	for i, s := range c.Trading.Strategies {
		switch s.Type {
		case "rsi", "macd":
		default:
			return ValidationError{Field: fmt.Sprintf("trading.strategies[%d].type", i), Value: s.Type, Message: "must be one of: rsi, macd"}
		}
		if s.Pair == "" {
			return ValidationError{Field: fmt.Sprintf("trading.strategies[%d].pair", i), Message: "pair is required"}
		}
		if s.Quantity <= 0 {
			return ValidationError{Field: fmt.Sprintf("trading.strategies[%d].quantity", i), Value: s.Quantity, Message: "must be > 0"}
		}
	}
	return nil
}

func (c *Config) validateRisk() error {
	r := c.Risk
	if r.StopLossPct <= 0 {
		return ValidationError{Field: "risk.stop_loss_pct", Value: r.StopLossPct, Message: "must be > 0"}
	}
	if r.TakeProfitPct <= 0 {
		return ValidationError{Field: "risk.take_profit_pct", Value: r.TakeProfitPct, Message: "must be > 0"}
	}
	if r.MaxExposurePerTrade <= 0 {
		return ValidationError{Field: "risk.max_exposure_per_trade", Value: r.MaxExposurePerTrade, Message: "must be > 0"}
	}
	if r.MaxDrawdownPct <= 0 {
		return ValidationError{Field: "risk.max_drawdown_pct", Value: r.MaxDrawdownPct, Message: "must be > 0"}
	}
	return nil
}

// String returns a representation of the configuration with credentials
// masked, safe to log at startup.
func (c *Config) String() string {
	cp := *c
	cp.Exchange.APIKey = Secret(maskString(string(cp.Exchange.APIKey)))
	cp.Exchange.SecretKey = Secret(maskString(string(cp.Exchange.SecretKey)))
	data, _ := yaml.Marshal(cp)
	return string(data)
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// expandEnvVars substitutes ${VAR} references against the process
// environment, leaving unset variables empty rather than erroring.
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
