package api

import (
	"context"
	"time"

	"gabagool-arb/internal/config"
	"gabagool-arb/pkg/types"
)

// Provider is everything the dashboard needs from the Engine. The Engine
// implements this directly; the dashboard never writes through it.
type Provider interface {
	TradingMode() types.TradingMode
	CircuitBreaker() types.CircuitBreakerState
	Blackout() types.BlackoutState
	DailyCounters() types.DailyCounters

	GetMarketsSnapshot() []MarketStatus
	GetOpenPositions() []types.Position
	GetUnclaimedPositions(ctx context.Context) ([]types.Position, error)
	GetRecentTrades(ctx context.Context, limit int) ([]types.TradeRecord, error)
	GetPnLHistory(ctx context.Context, timeframe string) ([]types.TradeRecord, error)
	GetAllTimeStats(ctx context.Context) (types.DailyCounters, error)

	DashboardEvents() <-chan DashboardEvent
}

// BuildSnapshot aggregates live engine state into a DashboardSnapshot.
func BuildSnapshot(provider Provider, cfg config.Config) DashboardSnapshot {
	return DashboardSnapshot{
		Timestamp:      time.Now(),
		TradingMode:    provider.TradingMode(),
		CircuitBreaker: provider.CircuitBreaker(),
		Blackout:       provider.Blackout(),
		Today:          provider.DailyCounters(),
		Markets:        provider.GetMarketsSnapshot(),
		OpenPositions:  provider.GetOpenPositions(),
		Config:         NewConfigSummary(cfg),
	}
}
