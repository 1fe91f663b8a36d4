// Package settlement runs the periodic on-chain redemption pass: cancel
// stale resting orders for markets that have left the active set, then
// attempt redemption for every position past its grace period.
package settlement

import (
	"context"
	"log/slog"
	"time"

	"gabagool-arb/internal/config"
	"gabagool-arb/internal/position"
	"gabagool-arb/internal/store"
	"gabagool-arb/internal/venue"
	"gabagool-arb/pkg/types"
)

// ActiveMarkets reports which condition ids are still being traded, so the
// worker knows which resting orders belong to markets it should cancel.
type ActiveMarkets interface {
	IsActive(conditionID string) bool
}

// Worker periodically cancels resting orders for inactive markets and
// redeems matured, unclaimed positions on-chain.
type Worker struct {
	store    *store.Store
	redeemer *venue.Redeemer
	client   *venue.Client
	registry *position.Registry
	cfg      config.RiskConfig
	logger   *slog.Logger

	onRealizedPnL func(tradeID string, amount float64, pnlType string) (types.CircuitBreakerState, error)
}

// New creates a settlement Worker.
func New(st *store.Store, redeemer *venue.Redeemer, client *venue.Client, registry *position.Registry, cfg config.RiskConfig, logger *slog.Logger) *Worker {
	return &Worker{
		store:    st,
		redeemer: redeemer,
		client:   client,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "settlement"),
	}
}

// OnRealizedPnL registers the callback invoked with every realized-PnL
// append, typically wired to Store.RecordRealizedPnL so a claimed
// redemption can flip the circuit breaker in the engine's single writer
// path.
func (w *Worker) OnRealizedPnL(fn func(tradeID string, amount float64, pnlType string) (types.CircuitBreakerState, error)) {
	w.onRealizedPnL = fn
}

// Run blocks, executing one settlement pass every cfg.SettlementPollSeconds
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, active ActiveMarkets) {
	interval := time.Duration(w.cfg.SettlementPollSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx, active)
		}
	}
}

func (w *Worker) pass(ctx context.Context, active ActiveMarkets) {
	w.cancelStaleOrders(ctx, active)
	w.redeemClaimable(ctx)
}

// cancelStaleOrders cancels resting orders belonging to markets no longer
// in the active set.
func (w *Worker) cancelStaleOrders(ctx context.Context, active ActiveMarkets) {
	open, err := w.client.GetOpenOrders(ctx)
	if err != nil {
		w.logger.Error("list open orders for stale cancellation", "error", err)
		return
	}
	var stale []string
	for _, o := range open {
		if active != nil && !active.IsActive(o.Market) {
			stale = append(stale, o.ID)
		}
	}
	if len(stale) == 0 {
		return
	}
	if _, err := w.client.CancelOrders(ctx, stale); err != nil {
		w.logger.Error("cancel stale orders", "error", err, "count", len(stale))
	}
}

// redeemClaimable loads positions ready for redemption and attempts
// on-chain claim for each.
func (w *Worker) redeemClaimable(ctx context.Context) {
	positions, err := w.store.GetClaimablePositions(ctx, w.cfg.SettlementGraceMinutes, w.cfg.SettlementRetryLimit)
	if err != nil {
		w.logger.Error("load claimable positions", "error", err)
		return
	}
	for _, p := range positions {
		w.redeemOne(ctx, p)
	}
}

func (w *Worker) redeemOne(ctx context.Context, p types.Position) {
	redeemCtx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.RedemptionTimeoutSeconds*float64(time.Second)))
	defer cancel()

	result, err := w.redeemer.RedeemPositions(redeemCtx, p.ConditionID)
	if err != nil {
		w.recordFailure(ctx, p, err.Error())
		return
	}
	if !result.Success {
		w.recordFailure(ctx, p, result.Error)
		return
	}

	outcomeIndex := 0 // YES occupies indexSet 1 / outcome index 0
	if p.Side == "NO" {
		outcomeIndex = 1 // NO occupies indexSet 2 / outcome index 1
	}
	fraction, err := w.redeemer.PayoutFraction(redeemCtx, p.ConditionID, outcomeIndex)
	if err != nil {
		// Transaction succeeded but we can't read the payout split back yet
		// (e.g. a lagging RPC node). Don't guess a winner; retry next pass.
		w.logger.Error("read payout fraction after redemption", "trade_id", p.TradeID, "error", err)
		w.recordFailure(ctx, p, "redeemed but payout fraction unavailable: "+err.Error())
		return
	}

	proceeds := p.Shares * fraction // binary redemption: winning side pays $1/share, losing side pays $0
	profit := proceeds - p.EntryCost

	if err := w.store.MarkPositionClaimed(ctx, p.TradeID, p.TokenID, proceeds, profit); err != nil {
		w.logger.Error("persist claimed position", "trade_id", p.TradeID, "error", err)
		return
	}
	w.registry.MarkClaimed(p.TradeID, p.TokenID, proceeds, profit)

	if w.onRealizedPnL != nil {
		pnlType := "settlement_win"
		if profit < 0 {
			pnlType = "settlement_loss"
		}
		if _, err := w.onRealizedPnL(p.TradeID, profit, pnlType); err != nil {
			w.logger.Error("record realized pnl for settlement", "trade_id", p.TradeID, "error", err)
		}
	}

	w.logger.Info("position redeemed", "trade_id", p.TradeID, "condition_id", p.ConditionID, "tx_hash", result.TxHash, "profit", profit)

	w.finalizeTradeIfComplete(ctx, p.TradeID)
}

// finalizeTradeIfComplete checks whether every sibling position for a
// trade_id has now been claimed and, if so, resolves the parent TradeRecord
// with the trade's aggregate profit across both legs and evicts the
// siblings from the hot-memory registry.
func (w *Worker) finalizeTradeIfComplete(ctx context.Context, tradeID string) {
	positions, err := w.store.GetPositionsForTrade(ctx, tradeID)
	if err != nil {
		w.logger.Error("load sibling positions for trade resolution", "trade_id", tradeID, "error", err)
		return
	}
	var totalProfit float64
	for _, sibling := range positions {
		if !sibling.Claimed {
			return
		}
		totalProfit += sibling.Profit
	}
	if err := w.store.ResolveTrade(ctx, tradeID, totalProfit > 0, totalProfit); err != nil {
		w.logger.Error("resolve trade", "trade_id", tradeID, "error", err)
		return
	}
	for _, sibling := range positions {
		w.registry.Remove(sibling.TradeID, sibling.TokenID)
	}
}

func (w *Worker) recordFailure(ctx context.Context, p types.Position, reason string) {
	if err := w.store.RecordClaimAttempt(ctx, p.TradeID, p.TokenID, reason); err != nil {
		w.logger.Error("record claim attempt failure", "trade_id", p.TradeID, "error", err)
	}
	w.logger.Warn("redemption attempt failed", "trade_id", p.TradeID, "condition_id", p.ConditionID, "reason", reason, "attempt", p.ClaimAttempts+1)
	if p.ClaimAttempts+1 >= w.cfg.SettlementRetryLimit {
		w.logger.Error("redemption retry limit reached, position held", "trade_id", p.TradeID, "condition_id", p.ConditionID)
	}
}
