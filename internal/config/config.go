// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via GABA_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Blackout  BlackoutConfig  `mapstructure:"blackout"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// WalletConfig holds the Ethereum wallet used for signing orders and redemptions.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys, and signs the
// on-chain redeemPositions transaction.
type WalletConfig struct {
	PrivateKey      string `mapstructure:"private_key"`
	SignatureType   int    `mapstructure:"signature_type"`
	FunderAddress   string `mapstructure:"funder_address"`
	ChainID         int    `mapstructure:"chain_id"`
	RPCURL          string `mapstructure:"rpc_url"`
	CTFAddress      string `mapstructure:"ctf_address"`
	CollateralAddr  string `mapstructure:"collateral_address"`
	ExchangeAddress string `mapstructure:"exchange_address"` // CLOB exchange contract, the EIP-712 verifying contract for order signing
}

// APIConfig holds venue API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the adapter derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// StrategyConfig tunes the hedged-arbitrage engine. See spec.md §6.4 and
// SPEC_FULL.md §4 for the meaning of each field.
type StrategyConfig struct {
	Markets []string `mapstructure:"markets"`

	MinSpreadThreshold     float64 `mapstructure:"min_spread_threshold"`
	MinTradeSizeUSD        float64 `mapstructure:"min_trade_size_usd"`
	MaxTradeSizeUSD        float64 `mapstructure:"max_trade_size_usd"`
	MaxPerWindowUSD        float64 `mapstructure:"max_per_window_usd"`
	MaxDailyExposureUSD    float64 `mapstructure:"max_daily_exposure_usd"`
	MaxDailyLossUSD        float64 `mapstructure:"max_daily_loss_usd"`
	MaxUnhedgedExposureUSD float64 `mapstructure:"max_unhedged_exposure_usd"`
	MaxSlippageCents       float64 `mapstructure:"max_slippage_cents"`

	OrderTimeoutSeconds        float64 `mapstructure:"order_timeout_seconds"`
	ParallelFillTimeoutSeconds float64 `mapstructure:"parallel_fill_timeout_seconds"`
	LiveWaitSeconds            float64 `mapstructure:"live_wait_seconds"`

	MaxLiquidityConsumptionPct float64 `mapstructure:"max_liquidity_consumption_pct"`
	PriceBufferCents           float64 `mapstructure:"price_buffer_cents"`

	MinHedgeRatio               float64 `mapstructure:"min_hedge_ratio"`
	CriticalHedgeRatio          float64 `mapstructure:"critical_hedge_ratio"`
	MaxPositionImbalanceShares  float64 `mapstructure:"max_position_imbalance_shares"`
	PartialFillExitEnabled      bool    `mapstructure:"partial_fill_exit_enabled"`
	PartialFillMaxSlippageCents float64 `mapstructure:"partial_fill_max_slippage_cents"`

	GradualEntryEnabled        bool    `mapstructure:"gradual_entry_enabled"`
	GradualEntryTranches       int     `mapstructure:"gradual_entry_tranches"`
	GradualEntryDelaySeconds   float64 `mapstructure:"gradual_entry_delay_seconds"`
	GradualEntryMinSpreadCents float64 `mapstructure:"gradual_entry_min_spread_cents"`

	BalanceSizingEnabled bool    `mapstructure:"balance_sizing_enabled"`
	BalanceSizingPct     float64 `mapstructure:"balance_sizing_pct"`
}

// RiskConfig sets process-wide safety limits: the daily loss circuit
// breaker and the settlement worker's retry/timing knobs.
type RiskConfig struct {
	MaxDailyLossUSD          float64 `mapstructure:"max_daily_loss_usd"`
	SettlementGraceMinutes   int     `mapstructure:"settlement_grace_minutes"`
	SettlementRetryLimit     int     `mapstructure:"settlement_retry_limit"`
	SettlementPollSeconds    int     `mapstructure:"settlement_poll_seconds"`
	RedemptionTimeoutSeconds float64 `mapstructure:"redemption_timeout_seconds"`
}

// BlackoutConfig defines a recurring local-time window during which the
// engine simulates instead of submitting real orders.
type BlackoutConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	StartHour   int    `mapstructure:"start_hour"`
	StartMinute int    `mapstructure:"start_minute"`
	EndHour     int    `mapstructure:"end_hour"`
	EndMinute   int    `mapstructure:"end_minute"`
	Timezone    string `mapstructure:"timezone"`
}

// DiscoveryConfig controls how the engine discovers tradeable markets.
type DiscoveryConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	MaxEndDateDays    int           `mapstructure:"max_end_date_days"`
	MinSecondsToAdmit int           `mapstructure:"min_seconds_to_admit"`
	ExcludeSlugs      []string      `mapstructure:"exclude_slugs"`
}

// StoreConfig sets where trade/position/pnl data is persisted.
type StoreConfig struct {
	Path                      string `mapstructure:"path"`
	LiquiditySnapshotsEnabled bool   `mapstructure:"liquidity_snapshots_enabled"`
	LiquidityRetentionDays    int    `mapstructure:"liquidity_retention_days"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only operator dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MetricsPort    int      `mapstructure:"metrics_port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: GABA_PRIVATE_KEY, GABA_API_KEY, GABA_API_SECRET, GABA_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GABA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("GABA_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("GABA_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("GABA_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("GABA_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("GABA_DRY_RUN") == "true" || os.Getenv("GABA_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults fills in zero-value knobs that must never be zero for the
// engine to behave sanely, mirroring behavior the Python original hardcoded.
func applyDefaults(c *Config) {
	if c.Strategy.OrderTimeoutSeconds == 0 {
		c.Strategy.OrderTimeoutSeconds = 5
	}
	if c.Strategy.ParallelFillTimeoutSeconds == 0 {
		c.Strategy.ParallelFillTimeoutSeconds = 5
	}
	if c.Strategy.LiveWaitSeconds == 0 {
		c.Strategy.LiveWaitSeconds = 2
	}
	if c.Strategy.MaxLiquidityConsumptionPct == 0 {
		c.Strategy.MaxLiquidityConsumptionPct = 0.5
	}
	if c.Strategy.MinHedgeRatio == 0 {
		c.Strategy.MinHedgeRatio = 0.8
	}
	if c.Strategy.CriticalHedgeRatio == 0 {
		c.Strategy.CriticalHedgeRatio = 0.5
	}
	if c.Discovery.CacheTTL == 0 {
		c.Discovery.CacheTTL = time.Minute
	}
	if c.Discovery.MinSecondsToAdmit == 0 {
		c.Discovery.MinSecondsToAdmit = 60
	}
	if c.Risk.SettlementGraceMinutes == 0 {
		c.Risk.SettlementGraceMinutes = 10
	}
	if c.Risk.SettlementRetryLimit == 0 {
		c.Risk.SettlementRetryLimit = 5
	}
	if c.Risk.SettlementPollSeconds == 0 {
		c.Risk.SettlementPollSeconds = 60
	}
	if c.Risk.RedemptionTimeoutSeconds == 0 {
		c.Risk.RedemptionTimeoutSeconds = 60
	}
	if c.Blackout.Timezone == "" {
		c.Blackout.Timezone = "America/Chicago"
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set GABA_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for Polygon mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.Wallet.ExchangeAddress == "" {
		return fmt.Errorf("wallet.exchange_address is required (CLOB exchange contract, used as the EIP-712 verifying contract)")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if len(c.Strategy.Markets) == 0 {
		return fmt.Errorf("strategy.markets must list at least one asset")
	}
	if c.Strategy.MinSpreadThreshold <= 0 {
		return fmt.Errorf("strategy.min_spread_threshold must be > 0")
	}
	if c.Strategy.MinTradeSizeUSD <= 0 {
		return fmt.Errorf("strategy.min_trade_size_usd must be > 0")
	}
	if c.Strategy.MaxTradeSizeUSD < c.Strategy.MinTradeSizeUSD {
		return fmt.Errorf("strategy.max_trade_size_usd must be >= min_trade_size_usd")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		return fmt.Errorf("risk.max_daily_loss_usd must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Strategy.GradualEntryEnabled && c.Strategy.GradualEntryTranches < 2 {
		return fmt.Errorf("strategy.gradual_entry_tranches must be >= 2 when gradual_entry_enabled")
	}
	return nil
}
