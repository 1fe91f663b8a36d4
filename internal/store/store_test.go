package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gabagool-arb/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(id string) types.TradeRecord {
	return types.TradeRecord{
		TradeID:         id,
		ConditionID:     "0xcond",
		Asset:           "BTC",
		MarketSlug:      "btc-up-down-3pm",
		MarketEndTime:   time.Now().Add(15 * time.Minute),
		YesPriceIntent:  0.48,
		NoPriceIntent:   0.49,
		YesCost:         48,
		NoCost:          49,
		YesShares:       100,
		NoShares:        100,
		HedgeRatio:      1.0,
		ExecutionStatus: types.ExecFullFill,
		Status:          types.TradePending,
		CreatedAt:       time.Now(),
	}
}

func TestSaveAndGetRecentTrades(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveTrade(ctx, sampleTrade("t1")); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}
	if err := s.SaveTrade(ctx, sampleTrade("t2")); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	got, err := s.GetRecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(got))
	}
}

func TestClaimablePositionsRespectGraceAndRetryLimit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	notYetEnded := types.Position{
		TradeID: "t1", ConditionID: "0xcond", TokenID: "yes-tok", Side: "YES",
		Shares: 100, EntryPrice: 0.48, EntryCost: 48,
		MarketEndTime: time.Now().Add(5 * time.Minute),
	}
	readyToClaim := types.Position{
		TradeID: "t2", ConditionID: "0xcond2", TokenID: "no-tok", Side: "NO",
		Shares: 50, EntryPrice: 0.49, EntryCost: 24.5,
		MarketEndTime: time.Now().Add(-20 * time.Minute),
	}
	exhaustedRetries := types.Position{
		TradeID: "t3", ConditionID: "0xcond3", TokenID: "yes-tok-3", Side: "YES",
		Shares: 10, EntryPrice: 0.5, EntryCost: 5,
		MarketEndTime: time.Now().Add(-20 * time.Minute), ClaimAttempts: 5,
	}
	for _, p := range []types.Position{notYetEnded, readyToClaim, exhaustedRetries} {
		if err := s.AddToSettlementQueue(ctx, p); err != nil {
			t.Fatalf("AddToSettlementQueue(%s): %v", p.TradeID, err)
		}
	}
	claimable, err := s.GetClaimablePositions(ctx, 10, 5)
	if err != nil {
		t.Fatalf("GetClaimablePositions: %v", err)
	}
	if len(claimable) != 1 || claimable[0].TradeID != "t2" {
		t.Fatalf("expected only t2 claimable, got %+v", claimable)
	}
}

func TestMarkPositionClaimedRemovesFromUnclaimed(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p := types.Position{
		TradeID: "t1", ConditionID: "0xcond", TokenID: "yes-tok", Side: "YES",
		Shares: 100, EntryPrice: 0.48, EntryCost: 48,
		MarketEndTime: time.Now().Add(-time.Hour),
	}
	if err := s.AddToSettlementQueue(ctx, p); err != nil {
		t.Fatalf("AddToSettlementQueue: %v", err)
	}

	if err := s.MarkPositionClaimed(ctx, "t1", "yes-tok", 100, 52); err != nil {
		t.Fatalf("MarkPositionClaimed: %v", err)
	}

	unclaimed, err := s.GetUnclaimedPositions(ctx)
	if err != nil {
		t.Fatalf("GetUnclaimedPositions: %v", err)
	}
	if len(unclaimed) != 0 {
		t.Fatalf("expected no unclaimed positions after claim, got %d", len(unclaimed))
	}
}

func TestRecordRealizedPnLTripsCircuitBreaker(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	state, err := s.RecordRealizedPnL(ctx, "t1", -30, "trade_loss", 100)
	if err != nil {
		t.Fatalf("RecordRealizedPnL: %v", err)
	}
	if state.Hit {
		t.Fatalf("breaker tripped early: realized_pnl=-30 should not trip at max_daily_loss=100")
	}

	state, err = s.RecordRealizedPnL(ctx, "t2", -80, "trade_loss", 100)
	if err != nil {
		t.Fatalf("RecordRealizedPnL: %v", err)
	}
	if !state.Hit {
		t.Fatalf("breaker did not trip: realized_pnl=-110 should trip at max_daily_loss=100")
	}
	if state.RealizedPnL != -110 {
		t.Fatalf("RealizedPnL = %v, want -110", state.RealizedPnL)
	}

	persisted, err := s.GetCircuitBreakerState(ctx)
	if err != nil {
		t.Fatalf("GetCircuitBreakerState: %v", err)
	}
	if !persisted.Hit || persisted.RealizedPnL != -110 {
		t.Fatalf("persisted state mismatch: %+v", persisted)
	}

	if err := s.ResetCircuitBreaker(ctx); err != nil {
		t.Fatalf("ResetCircuitBreaker: %v", err)
	}
	reset, err := s.GetCircuitBreakerState(ctx)
	if err != nil {
		t.Fatalf("GetCircuitBreakerState after reset: %v", err)
	}
	if reset.Hit {
		t.Fatalf("breaker still tripped after reset")
	}
}

func TestUpdateDailyStatsAccumulates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	date := "2026-01-15"

	if err := s.UpdateDailyStats(ctx, date, 10, 1, 1, 0, 100, 2, 1); err != nil {
		t.Fatalf("UpdateDailyStats: %v", err)
	}
	if err := s.UpdateDailyStats(ctx, date, -4, 1, 0, 1, 50, 1, 0); err != nil {
		t.Fatalf("UpdateDailyStats: %v", err)
	}

	stats, err := s.getStats(ctx, date)
	if err != nil {
		t.Fatalf("getStats: %v", err)
	}
	if stats.PnL != 6 || stats.Trades != 2 || stats.Wins != 1 || stats.Losses != 1 {
		t.Fatalf("unexpected accumulated stats: %+v", stats)
	}
}

func TestGetTodayStatsZeroValueWhenEmpty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	stats, err := s.GetTodayStats(context.Background())
	if err != nil {
		t.Fatalf("GetTodayStats: %v", err)
	}
	if stats.PnL != 0 || stats.Trades != 0 {
		t.Fatalf("expected zero-valued stats on empty store, got %+v", stats)
	}
}

func TestResolveTradeSetsStatusAndActualProfit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveTrade(ctx, sampleTrade("t1")); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	if err := s.ResolveTrade(ctx, "t1", true, 12.5); err != nil {
		t.Fatalf("ResolveTrade: %v", err)
	}

	got, err := s.GetRecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(got))
	}
	if got[0].Status != types.TradeWin || got[0].ActualProfit != 12.5 {
		t.Fatalf("unexpected resolved trade: %+v", got[0])
	}
	if got[0].ResolvedAt.IsZero() {
		t.Fatal("expected resolved_at to be set")
	}
}

func TestGetPositionsForTradeReturnsAllSiblings(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	yes := types.Position{
		TradeID: "t1", ConditionID: "0xcond", TokenID: "yes-tok", Side: "YES",
		Shares: 100, EntryPrice: 0.48, EntryCost: 48,
		MarketEndTime: time.Now().Add(-time.Hour),
	}
	no := types.Position{
		TradeID: "t1", ConditionID: "0xcond", TokenID: "no-tok", Side: "NO",
		Shares: 100, EntryPrice: 0.49, EntryCost: 49,
		MarketEndTime: time.Now().Add(-time.Hour),
	}
	for _, p := range []types.Position{yes, no} {
		if err := s.AddToSettlementQueue(ctx, p); err != nil {
			t.Fatalf("AddToSettlementQueue: %v", err)
		}
	}

	siblings, err := s.GetPositionsForTrade(ctx, "t1")
	if err != nil {
		t.Fatalf("GetPositionsForTrade: %v", err)
	}
	if len(siblings) != 2 {
		t.Fatalf("expected 2 sibling positions, got %d", len(siblings))
	}
}

func TestGetSlippageStatsAggregatesAbsoluteCents(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveTrade(ctx, sampleTrade("t1")); err != nil { // yes_price_intent=0.48, no_price_intent=0.49
		t.Fatalf("SaveTrade: %v", err)
	}
	if err := s.SaveFillRecord(ctx, "t1", "yes-tok", "YES", 0.50, 100); err != nil { // 2c over
		t.Fatalf("SaveFillRecord: %v", err)
	}
	if err := s.SaveFillRecord(ctx, "t1", "no-tok", "NO", 0.47, 100); err != nil { // 2c under
		t.Fatalf("SaveFillRecord: %v", err)
	}

	stats, err := s.GetSlippageStats(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("GetSlippageStats: %v", err)
	}
	if stats.SampleCount != 2 {
		t.Fatalf("expected 2 samples, got %d", stats.SampleCount)
	}
	if diff := stats.AvgSlippageCents - 2; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected avg slippage ~2c, got %v", stats.AvgSlippageCents)
	}
	if diff := stats.MaxSlippageCents - 2; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected max slippage ~2c, got %v", stats.MaxSlippageCents)
	}
}

func TestUpsertMarketIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	m := types.Market{
		ConditionID: "0xcond", Asset: "ETH", YesTokenID: "yes-tok", NoTokenID: "no-tok",
		Slug: "eth-up-down", StartTime: time.Now(), EndTime: time.Now().Add(15 * time.Minute),
	}
	if err := s.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}
	m.Slug = "eth-up-down-v2"
	if err := s.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("UpsertMarket (update): %v", err)
	}
}
