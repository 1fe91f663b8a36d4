package api

import (
	"time"

	"gabagool-arb/internal/config"
	"gabagool-arb/pkg/types"
)

// DashboardSnapshot is the complete read-only view served at /state and as
// the initial payload pushed to every /events client.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	TradingMode    types.TradingMode         `json:"trading_mode"`
	CircuitBreaker types.CircuitBreakerState `json:"circuit_breaker"`
	Blackout       types.BlackoutState       `json:"blackout"`
	Today          types.DailyCounters       `json:"today"`

	Markets       []MarketStatus   `json:"markets"`
	OpenPositions []types.Position `json:"open_positions"`

	Config ConfigSummary `json:"config"`
}

// MarketStatus is the per-market book state shown on the dashboard.
type MarketStatus struct {
	ConditionID string    `json:"condition_id"`
	Asset       string    `json:"asset"`
	Slug        string    `json:"slug"`
	EndTime     time.Time `json:"end_time"`

	YesBestBid float64 `json:"yes_best_bid"`
	YesBestAsk float64 `json:"yes_best_ask"`
	NoBestBid  float64 `json:"no_best_bid"`
	NoBestAsk  float64 `json:"no_best_ask"`

	Spread      float64   `json:"spread"`
	SpreadCents float64   `json:"spread_cents"`
	IsStale     bool      `json:"is_stale"`
	LastUpdate  time.Time `json:"last_update"`
}

// ConfigSummary is the subset of configuration worth surfacing to an
// operator, grouped the way spec.md §6.4 groups the flat config map.
type ConfigSummary struct {
	Markets []string `json:"markets"`

	MinSpreadThreshold  float64 `json:"min_spread_threshold"`
	MinTradeSizeUSD     float64 `json:"min_trade_size_usd"`
	MaxTradeSizeUSD     float64 `json:"max_trade_size_usd"`
	MaxDailyExposureUSD float64 `json:"max_daily_exposure_usd"`
	MaxDailyLossUSD     float64 `json:"max_daily_loss_usd"`

	GradualEntryEnabled    bool `json:"gradual_entry_enabled"`
	BalanceSizingEnabled   bool `json:"balance_sizing_enabled"`
	PartialFillExitEnabled bool `json:"partial_fill_exit_enabled"`

	BlackoutEnabled bool `json:"blackout_enabled"`

	DryRun bool `json:"dry_run"`
}

// NewConfigSummary builds a ConfigSummary from the process config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		Markets:                cfg.Strategy.Markets,
		MinSpreadThreshold:     cfg.Strategy.MinSpreadThreshold,
		MinTradeSizeUSD:        cfg.Strategy.MinTradeSizeUSD,
		MaxTradeSizeUSD:        cfg.Strategy.MaxTradeSizeUSD,
		MaxDailyExposureUSD:    cfg.Strategy.MaxDailyExposureUSD,
		MaxDailyLossUSD:        cfg.Strategy.MaxDailyLossUSD,
		GradualEntryEnabled:    cfg.Strategy.GradualEntryEnabled,
		BalanceSizingEnabled:   cfg.Strategy.BalanceSizingEnabled,
		PartialFillExitEnabled: cfg.Strategy.PartialFillExitEnabled,
		BlackoutEnabled:        cfg.Blackout.Enabled,
		DryRun:                 cfg.DryRun,
	}
}
