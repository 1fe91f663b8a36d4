package settlement

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"gabagool-arb/internal/position"
	"gabagool-arb/internal/store"
	"gabagool-arb/pkg/types"
)

func newTestWorker(t *testing.T) (*Worker, *store.Store, *position.Registry) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	reg := position.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := &Worker{store: s, registry: reg, logger: logger}
	return w, s, reg
}

func TestFinalizeTradeIfCompleteWaitsForAllSiblings(t *testing.T) {
	t.Parallel()
	w, s, reg := newTestWorker(t)
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
		reg.Add(p)
	}
	if err := s.SaveTrade(ctx, types.TradeRecord{TradeID: "t1", ConditionID: "0xcond", CreatedAt: time.Now(), Status: types.TradePending}); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	// Only the YES leg has claimed so far: the trade must stay unresolved
	// and both legs must remain in the hot-memory registry.
	if err := s.MarkPositionClaimed(ctx, "t1", "yes-tok", 100, 52); err != nil {
		t.Fatalf("MarkPositionClaimed: %v", err)
	}
	reg.MarkClaimed("t1", "yes-tok", 100, 52)
	w.finalizeTradeIfComplete(ctx, "t1")

	trades, err := s.GetRecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if trades[0].Status != types.TradePending {
		t.Fatalf("expected trade still pending with one sibling unclaimed, got %v", trades[0].Status)
	}
	if len(reg.Open()) != 1 {
		t.Fatalf("expected 1 open position (no leg unclaimed), got %d", len(reg.Open()))
	}

	// Now the NO leg claims too: the trade resolves and both legs evict.
	if err := s.MarkPositionClaimed(ctx, "t1", "no-tok", 0, -49); err != nil {
		t.Fatalf("MarkPositionClaimed: %v", err)
	}
	reg.MarkClaimed("t1", "no-tok", 0, -49)
	w.finalizeTradeIfComplete(ctx, "t1")

	trades, err = s.GetRecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	wantProfit := 52.0 + (-49.0)
	if trades[0].Status != types.TradeWin || trades[0].ActualProfit != wantProfit {
		t.Fatalf("expected resolved win trade with profit %v, got %+v", wantProfit, trades[0])
	}
	if len(reg.Open()) != 0 {
		t.Fatalf("expected both legs evicted from registry once trade resolved, got %d open", len(reg.Open()))
	}
}
