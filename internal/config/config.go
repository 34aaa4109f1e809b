// Package config defines all configuration for the trading daemon. Config
// is loaded from a YAML file with sensitive fields overridable via
// TRADINGD_* environment variables, using a mapstructure-tagged tree and a
// viper loader.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tradingd/internal/api"
	"tradingd/internal/backtest"
	"tradingd/internal/eventbus"
	"tradingd/internal/exchange"
	"tradingd/internal/execution"
	"tradingd/internal/ordermanager"
	"tradingd/internal/risk"
	"tradingd/pkg/decimal"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Venue      VenueConfig      `mapstructure:"venue"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	PendingOrderTimeoutMS int   `mapstructure:"pending_order_timeout_ms"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Decimal    DecimalConfig    `mapstructure:"decimal"`
	Store      StoreConfig      `mapstructure:"store"`
	API        ControlPlaneConfig `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// VenueConfig identifies which exchange this process trades against.
type VenueConfig struct {
	Name    string `mapstructure:"name"` // e.g. "hyperliquid"
	Testnet bool   `mapstructure:"testnet"`
	BaseURL string `mapstructure:"base_url"`
	WSURL   string `mapstructure:"ws_url"`
}

// WalletConfig holds the signing key used to authorize venue actions.
// PrivateKey signs EIP-712 typed-data order and cancel actions.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int64  `mapstructure:"chain_id"`
}

// RateLimitConfig bounds outbound request rate to the venue. Defaults to
// 20 requests/sec, burst 20, matching exchange.DefaultRateLimitConfig.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             float64 `mapstructure:"burst"`
}

func (c RateLimitConfig) toExchangeConfig() exchange.RateLimitConfig {
	cfg := exchange.RateLimitConfig{RequestsPerSecond: c.RequestsPerSecond, Burst: c.Burst}
	if cfg.RequestsPerSecond <= 0 {
		cfg = exchange.DefaultRateLimitConfig
	}
	return cfg
}

// ToExchangeConfig exposes the resolved exchange.RateLimitConfig.
func (c RateLimitConfig) ToExchangeConfig() exchange.RateLimitConfig { return c.toExchangeConfig() }

// EventBusConfig sizes and tunes the in-process EventBus.
//
//   - QueueSize: buffered channel depth for every subscription (default 1024).
//   - PolicyPerTopicClass: maps a topic class name (configs/config.yaml uses
//     "book", "order", "fill") to "block_publisher" or "drop_oldest";
//     PolicyFor resolves one class. cmd/tradingd does not read this map: its
//     own subscriptions set their policy in code.
type EventBusConfig struct {
	QueueSize           int               `mapstructure:"queue_size"`
	PolicyPerTopicClass map[string]string `mapstructure:"policy_per_topic_class"`
}

// PolicyFor resolves the eventbus.Policy for a topic class, defaulting to
// DropOldest when unspecified or unrecognized.
func (c EventBusConfig) PolicyFor(topicClass string) eventbus.Policy {
	switch c.PolicyPerTopicClass[topicClass] {
	case "block_publisher":
		return eventbus.BlockPublisher
	default:
		return eventbus.DropOldest
	}
}

// QueueSizeOrDefault returns QueueSize, falling back to eventbus.DefaultQueueSize.
func (c EventBusConfig) QueueSizeOrDefault() int {
	if c.QueueSize <= 0 {
		return eventbus.DefaultQueueSize
	}
	return c.QueueSize
}

// BacktestConfig holds the replay parameters of the backtest section, which
// Validate checks through ToEngineConfig. POST /backtest/run builds its
// replay config from the request body alone and does not fall back to
// these values.
type BacktestConfig struct {
	FeeRate        string `mapstructure:"fee_rate"`
	SlippageModel  string `mapstructure:"slippage_model"` // "fixed" | "proportional"
	Slippage       string `mapstructure:"slippage"`
	InitialCapital string `mapstructure:"initial_capital"`
}

// ToEngineConfig resolves the string fields into a backtest.Config bound to
// venue and risk. "book"-based slippage is not offered: no SimulatedExecutor
// in this codebase models order-book depth, so only "fixed" and
// "proportional" are accepted here.
func (c BacktestConfig) ToEngineConfig(venue string, riskCfg risk.Config) (backtest.Config, error) {
	feeRate, err := decimal.Parse(orDefault(c.FeeRate, "0"))
	if err != nil {
		return backtest.Config{}, fmt.Errorf("backtest.fee_rate: %w", err)
	}
	slippage, err := decimal.Parse(orDefault(c.Slippage, "0"))
	if err != nil {
		return backtest.Config{}, fmt.Errorf("backtest.slippage: %w", err)
	}
	initialCapital, err := decimal.Parse(orDefault(c.InitialCapital, "10000"))
	if err != nil {
		return backtest.Config{}, fmt.Errorf("backtest.initial_capital: %w", err)
	}

	var model execution.SlippageModel
	switch c.SlippageModel {
	case "", "fixed":
		model = execution.SlippageFixed
	case "proportional":
		model = execution.SlippageProportional
	default:
		return backtest.Config{}, fmt.Errorf("backtest.slippage_model: unsupported %q (want fixed or proportional)", c.SlippageModel)
	}

	return backtest.Config{
		Venue:          venue,
		FeeRate:        feeRate,
		SlippageModel:  model,
		Slippage:       slippage,
		InitialCapital: initialCapital,
		Risk:           riskCfg,
	}, nil
}

// RiskConfig sets hard limits the risk.Manager enforces before any order
// reaches the exchange.
type RiskConfig struct {
	MaxPositionPerSymbol string `mapstructure:"max_position_per_symbol"`
	MaxGlobalExposure    string `mapstructure:"max_global_exposure"`
	MaxOrderSize         string `mapstructure:"max_order_size"`
	StopLossPct          string `mapstructure:"stop_loss_pct"`
	MaxDailyLoss         string `mapstructure:"max_daily_loss"`
	KillSwitch           bool   `mapstructure:"kill_switch"`
	KillSwitchDropPct    string `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindow     time.Duration `mapstructure:"kill_switch_window"`
	CooldownAfterKill    time.Duration `mapstructure:"cooldown_after_kill"`
}

// ToManagerConfig resolves the string decimal fields into a risk.Config.
// Every field left blank parses to decimal.Zero, which risk.Manager treats
// as "no limit" for that check.
func (c RiskConfig) ToManagerConfig() (risk.Config, error) {
	fields := map[string]string{
		"risk.max_position_per_symbol": c.MaxPositionPerSymbol,
		"risk.max_global_exposure":     c.MaxGlobalExposure,
		"risk.max_order_size":          c.MaxOrderSize,
		"risk.stop_loss_pct":           c.StopLossPct,
		"risk.max_daily_loss":          c.MaxDailyLoss,
		"risk.kill_switch_drop_pct":    c.KillSwitchDropPct,
	}
	parsed := make(map[string]decimal.Decimal, len(fields))
	for key, raw := range fields {
		d, err := decimal.Parse(orDefault(raw, "0"))
		if err != nil {
			return risk.Config{}, fmt.Errorf("%s: %w", key, err)
		}
		parsed[key] = d
	}
	return risk.Config{
		MaxPositionPerSymbol: parsed["risk.max_position_per_symbol"],
		MaxGlobalExposure:    parsed["risk.max_global_exposure"],
		MaxOrderSize:         parsed["risk.max_order_size"],
		StopLossPct:          parsed["risk.stop_loss_pct"],
		MaxDailyLoss:         parsed["risk.max_daily_loss"],
		KillSwitchEnabled:    c.KillSwitch,
		KillSwitchDropPct:    parsed["risk.kill_switch_drop_pct"],
		KillSwitchWindow:     c.KillSwitchWindow,
		CooldownAfterKill:    c.CooldownAfterKill,
	}, nil
}

// DecimalConfig controls the fixed-point scale and rounding mode used
// throughout the daemon's price/size arithmetic.
type DecimalConfig struct {
	PriceScale int32  `mapstructure:"price_scale"`
	SizeScale  int32  `mapstructure:"size_scale"`
	Rounding   string `mapstructure:"rounding"` // "half_even" | "half_up" | "down"
}

// ToRounding resolves the configured rounding mode, defaulting to HalfEven.
func (c DecimalConfig) ToRounding() (decimal.Rounding, error) {
	switch c.Rounding {
	case "", "half_even":
		return decimal.HalfEven, nil
	case "half_up":
		return decimal.HalfUp, nil
	case "down":
		return decimal.Down, nil
	default:
		return 0, fmt.Errorf("decimal.rounding: unsupported %q (want half_even, half_up, or down)", c.Rounding)
	}
}

// PriceScaleOrDefault returns PriceScale, falling back to decimal.DefaultScale.
func (c DecimalConfig) PriceScaleOrDefault() int32 {
	if c.PriceScale <= 0 {
		return decimal.DefaultScale
	}
	return c.PriceScale
}

// SizeScaleOrDefault returns SizeScale, falling back to decimal.DefaultScale.
func (c DecimalConfig) SizeScaleOrDefault() int32 {
	if c.SizeScale <= 0 {
		return decimal.DefaultScale
	}
	return c.SizeScale
}

// StoreConfig sets where position, ledger, and closed-order data persists.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// ControlPlaneConfig configures the REST+WS control plane (internal/api).
type ControlPlaneConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AuthToken      string   `mapstructure:"auth_token"`
}

// ToAPIConfig converts to the api package's own Config.
func (c ControlPlaneConfig) ToAPIConfig() api.Config {
	return api.Config{Addr: c.Addr, AllowedOrigins: c.AllowedOrigins, AuthToken: c.AuthToken}
}

// LoggingConfig selects the slog handler and minimum level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `mapstructure:"format"` // "text" | "json"
}

// PendingOrderTimeout resolves the configured milliseconds into a Duration,
// falling back to ordermanager.PendingTimeout when unset.
func (c Config) PendingOrderTimeout() time.Duration {
	if c.PendingOrderTimeoutMS <= 0 {
		return ordermanager.PendingTimeout
	}
	return time.Duration(c.PendingOrderTimeoutMS) * time.Millisecond
}

// Load reads config from a YAML file with env var overrides. Sensitive
// fields use env vars: TRADINGD_WALLET_PRIVATE_KEY, TRADINGD_API_AUTH_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADINGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("pending_order_timeout_ms", 10_000)
	v.SetDefault("event_bus.queue_size", eventbus.DefaultQueueSize)
	v.SetDefault("decimal.price_scale", decimal.DefaultScale)
	v.SetDefault("decimal.size_scale", decimal.DefaultScale)
	v.SetDefault("decimal.rounding", "half_even")
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("TRADINGD_WALLET_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if token := os.Getenv("TRADINGD_API_AUTH_TOKEN"); token != "" {
		cfg.API.AuthToken = token
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Venue.Name == "" {
		return fmt.Errorf("venue.name is required")
	}
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set TRADINGD_WALLET_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.requests_per_second and burst must be >= 0")
	}
	if _, err := c.Decimal.ToRounding(); err != nil {
		return err
	}
	if _, err := c.Risk.ToManagerConfig(); err != nil {
		return err
	}
	if _, err := c.Backtest.ToEngineConfig(c.Venue.Name, risk.Config{}); err != nil {
		return err
	}
	return nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
