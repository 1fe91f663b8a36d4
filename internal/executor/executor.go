// Package executor pops opportunities off the queue, runs them through the
// risk gate and sizer, submits the dual-leg order, and persists the
// outcome. A single long-lived goroutine processes one opportunity at a
// time, so no two order submissions ever overlap from the engine side.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gabagool-arb/internal/config"
	"gabagool-arb/internal/position"
	"gabagool-arb/internal/queue"
	"gabagool-arb/internal/rebalancer"
	"gabagool-arb/internal/risk"
	"gabagool-arb/internal/sizer"
	"gabagool-arb/internal/store"
	"gabagool-arb/internal/venue"
	"gabagool-arb/pkg/types"
)

// StateProvider supplies the process-wide state the Executor needs to
// evaluate the risk gate and compute sizing, read fresh on every pop so
// the Engine remains the single writer.
type StateProvider interface {
	TradingMode() types.TradingMode
	DailyCounters() types.DailyCounters
	CircuitBreaker() types.CircuitBreakerState
	Blackout() types.BlackoutState
	AvailableBudget(ctx context.Context) (float64, error)
	TickSizeFor(conditionID string) types.TickSize
}

// Executor drains the opportunity queue and drives each one through the
// gate -> sizer -> dual-leg -> rebalancer -> persistence pipeline.
type Executor struct {
	queue      *queue.OpportunityQueue
	gate       *risk.Gate
	sizer      *sizer.Sizer
	client     *venue.Client
	rebalancer *rebalancer.Rebalancer
	store      *store.Store
	registry   *position.Registry
	state      StateProvider
	cfg        config.StrategyConfig
	logger     *slog.Logger

	onTrade func(types.TradeRecord)
}

// New creates an Executor wired to its collaborators.
func New(q *queue.OpportunityQueue, gate *risk.Gate, sz *sizer.Sizer, client *venue.Client, reb *rebalancer.Rebalancer, st *store.Store, registry *position.Registry, state StateProvider, cfg config.StrategyConfig, logger *slog.Logger) *Executor {
	return &Executor{
		queue: q, gate: gate, sizer: sz, client: client, rebalancer: reb,
		store: st, registry: registry, state: state, cfg: cfg,
		logger: logger.With("component", "executor"),
	}
}

// OnTrade registers a callback invoked with every persisted TradeRecord,
// for the dashboard feed.
func (e *Executor) OnTrade(fn func(types.TradeRecord)) { e.onTrade = fn }

// Run blocks, popping and executing opportunities until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		opp, ok := e.queue.Pop(ctx, time.Second)
		if !ok {
			continue
		}
		e.execute(ctx, opp)
	}
}

func (e *Executor) execute(ctx context.Context, opp types.Opportunity) {
	now := time.Now()
	budget, err := e.state.AvailableBudget(ctx)
	if err != nil {
		e.logger.Error("read available budget", "error", err)
		return
	}
	cb := e.state.CircuitBreaker()
	blackout := e.state.Blackout()
	counters := e.state.DailyCounters()
	mode := e.state.TradingMode()

	decision := e.gate.Evaluate(risk.Input{
		Opportunity:     opp,
		SecondsToEnd:    opp.Market.SecondsRemaining(now),
		DailyExposure:   counters.Exposure,
		Counters:        counters,
		CircuitBreaker:  cb,
		InBlackout:      blackout.InBlackout,
		AvailableBudget: budget,
		Mode:            mode,
		Now:             now,
	})
	if !decision.Accept {
		return
	}

	yesBook, err := e.client.GetOrderBook(ctx, opp.Market.YesTokenID)
	if err != nil {
		e.logger.Error("fetch yes book for sizing", "error", err)
		return
	}
	noBook, err := e.client.GetOrderBook(ctx, opp.Market.NoTokenID)
	if err != nil {
		e.logger.Error("fetch no book for sizing", "error", err)
		return
	}

	plan, err := e.sizer.Size(sizer.Input{
		Budget:      budget,
		YesPrice:    opp.YesPrice,
		NoPrice:     opp.NoPrice,
		YesAskDepth: depth(yesBook.Asks),
		NoAskDepth:  depth(noBook.Asks),
		SpreadCents: opp.SpreadCents,
	})
	if err != nil {
		e.logger.Info("opportunity sized out", "market", opp.Market.ConditionID, "reason", err.Error())
		return
	}

	tickSize := e.state.TickSizeFor(opp.Market.ConditionID)

	for i, tranche := range plan.Tranches {
		if i > 0 {
			time.Sleep(e.sizer.TrancheDelay())
		}
		e.executeTranche(ctx, opp, tranche, tickSize, mode)
	}
}

func (e *Executor) executeTranche(ctx context.Context, opp types.Opportunity, tranche sizer.Tranche, tickSize types.TickSize, mode types.TradingMode) {
	tradeID := uuid.NewString()
	record := types.TradeRecord{
		TradeID:        tradeID,
		ConditionID:    opp.Market.ConditionID,
		Asset:          opp.Market.Asset,
		MarketSlug:     opp.Market.Slug,
		MarketEndTime:  opp.Market.EndTime,
		YesPriceIntent: opp.YesPrice,
		NoPriceIntent:  opp.NoPrice,
		DryRun:         mode.IsSimulated(),
		Status:         types.TradePending,
		CreatedAt:      time.Now(),
	}

	if mode.IsSimulated() {
		record.ExecutionStatus = types.ExecFullFill
		record.YesCost, record.NoCost = tranche.YesUSD, tranche.NoUSD
		record.YesShares = tranche.YesUSD / opp.YesPrice
		record.NoShares = tranche.NoUSD / opp.NoPrice
		record.HedgeRatio = 1
		record.ExpectedProfit = record.YesShares - (record.YesCost + record.NoCost)
		record.YesOrderStatus, record.NoOrderStatus = "SIMULATED", "SIMULATED"
		e.persist(ctx, record)
		return
	}

	result, err := e.client.ExecuteDualLegParallel(ctx, opp.Market.YesTokenID, opp.Market.NoTokenID,
		tranche.YesUSD, tranche.NoUSD, opp.YesPrice, opp.NoPrice, venue.DualLegOpts{
			SubmitTimeout:              time.Duration(e.cfg.ParallelFillTimeoutSeconds * float64(time.Second)),
			LiveWait:                   time.Duration(e.cfg.LiveWaitSeconds * float64(time.Second)),
			MaxLiquidityConsumptionPct: e.cfg.MaxLiquidityConsumptionPct,
			PriceBufferCents:           e.cfg.PriceBufferCents,
			TickSize:                   tickSize,
			ConditionID:                opp.Market.ConditionID,
			Asset:                      opp.Market.Asset,
		})
	if err != nil {
		e.logger.Error("dual-leg execution error", "trade_id", tradeID, "error", err)
		return
	}

	record.PreFillYesDepth = result.PreFillYesDepth
	record.PreFillNoDepth = result.PreFillNoDepth
	if result.YesResult != nil {
		record.YesOrderStatus = string(result.YesResult.Status)
	}
	if result.NoResult != nil {
		record.NoOrderStatus = string(result.NoResult.Status)
	}

	switch {
	case result.Success:
		record.ExecutionStatus = types.ExecFullFill
		record.YesCost = result.YesResult.FilledSize * result.YesResult.AvgFillPrice
		record.NoCost = result.NoResult.FilledSize * result.NoResult.AvgFillPrice
		record.YesShares = result.YesResult.FilledSize
		record.NoShares = result.NoResult.FilledSize
		record.HedgeRatio = types.HedgeRatioOf(record.YesShares, record.NoShares)
		record.ExpectedProfit = record.YesShares - (record.YesCost + record.NoCost)
		e.enforceHedgeRatio(&record)
		e.registerFills(ctx, record, opp)
	case result.PartialFill:
		record.ExecutionStatus = types.ExecPartialFill
		e.recoverPartial(ctx, &record, result, opp, tickSize)
	default:
		record.ExecutionStatus = types.ExecFailed
		record.Status = types.TradeLoss
	}

	e.persist(ctx, record)
}

func (e *Executor) enforceHedgeRatio(record *types.TradeRecord) {
	if record.HedgeRatio < e.cfg.MinHedgeRatio {
		record.Status = types.TradeLoss
		record.ExecutionStatus = types.ExecFailed
		e.logger.Error("hedge ratio below minimum, marking trade failed", "trade_id", record.TradeID, "hedge_ratio", record.HedgeRatio)
	}
	if record.HedgeRatio < e.cfg.CriticalHedgeRatio {
		e.logger.Error("CRITICAL: hedge ratio below critical floor", "trade_id", record.TradeID, "hedge_ratio", record.HedgeRatio)
	}
}

func (e *Executor) recoverPartial(ctx context.Context, record *types.TradeRecord, result *venue.DualLegResult, opp types.Opportunity, tickSize types.TickSize) {
	filledSide, filledToken, unfilledToken, filledPrice, filledShares := "", "", "", 0.0, 0.0
	if result.YesResult != nil && result.YesResult.Status.Filled() {
		filledSide, filledToken, unfilledToken = "YES", opp.Market.YesTokenID, opp.Market.NoTokenID
		filledPrice, filledShares = result.YesResult.AvgFillPrice, result.YesResult.FilledSize
	} else if result.NoResult != nil && result.NoResult.Status.Filled() {
		filledSide, filledToken, unfilledToken = "NO", opp.Market.NoTokenID, opp.Market.YesTokenID
		filledPrice, filledShares = result.NoResult.AvgFillPrice, result.NoResult.FilledSize
	}
	if filledSide == "" {
		record.ExecutionStatus = types.ExecFailed
		record.Status = types.TradeLoss
		return
	}

	// Record the leg that did fill before any recovery action, so the record
	// reflects real share movement whatever the rebalancer ends up doing.
	if filledSide == "YES" {
		record.YesShares, record.YesCost = filledShares, filledShares*filledPrice
	} else {
		record.NoShares, record.NoCost = filledShares, filledShares*filledPrice
	}
	record.HedgeRatio = types.HedgeRatioOf(record.YesShares, record.NoShares)

	outcome, err := e.rebalancer.Recover(ctx, rebalancer.Input{
		ConditionID:      opp.Market.ConditionID,
		FilledTokenID:    filledToken,
		UnfilledTokenID:  unfilledToken,
		FilledShares:     filledShares,
		FilledPrice:      filledPrice,
		TickSize:         tickSize,
		SlippageCents:    e.cfg.PartialFillMaxSlippageCents,
		LiveWait:         time.Duration(e.cfg.LiveWaitSeconds * float64(time.Second)),
		SkipHedgeAttempt: e.cfg.PartialFillExitEnabled,
	})
	if err != nil {
		e.logger.Error("rebalancer error", "trade_id", record.TradeID, "error", err)
		record.ExecutionStatus = types.ExecOneLegOnly
		record.Status = types.TradeLoss
		e.registerFills(ctx, *record, opp) // recovery failed mid-flight; the filled leg is still held
		return
	}

	record.RebalanceAction = outcome.Action
	switch outcome.Action {
	case types.RebalanceHedgeComplete:
		record.ExecutionStatus = types.ExecFullFill
		record.YesCost, record.NoCost = splitCost(filledSide, outcome.FilledCost, outcome.CounterCost)
		record.YesShares, record.NoShares = filledShares, filledShares
		record.HedgeRatio = 1
		record.ExpectedProfit = outcome.ExpectedProfit
		e.registerFills(ctx, *record, opp)
	case types.RebalanceFlattened:
		// The filled leg was sold back out; no position remains for this
		// trade and the spread loss is realized immediately.
		record.ExecutionStatus = types.ExecOneLegOnly
		record.Status = types.TradeLoss
		record.ActualProfit = outcome.PnL
	default:
		record.ExecutionStatus = types.ExecOneLegOnly
		record.Status = types.TradeLoss
		record.RebalanceAction = types.RebalanceExitFailed
		e.registerFills(ctx, *record, opp) // still holding the filled leg; register for settlement
	}
}

func splitCost(filledSide string, filledCost, counterCost float64) (yes, no float64) {
	if filledSide == "YES" {
		return filledCost, counterCost
	}
	return counterCost, filledCost
}

// registerFills persists a Position per non-zero side and adds it to the
// in-memory registry. Entry price is derived from the actual cost and
// share count, not the intent, so rebalanced legs carry their real basis.
func (e *Executor) registerFills(ctx context.Context, record types.TradeRecord, opp types.Opportunity) {
	if record.YesShares > 0 {
		p := types.Position{
			TradeID: record.TradeID, ConditionID: opp.Market.ConditionID, TokenID: opp.Market.YesTokenID,
			Side: "YES", Shares: record.YesShares, EntryPrice: record.YesCost / record.YesShares, EntryCost: record.YesCost,
			MarketEndTime: opp.Market.EndTime, Asset: opp.Market.Asset,
		}
		if err := e.store.AddToSettlementQueue(ctx, p); err != nil {
			e.logger.Error("persist yes position", "trade_id", record.TradeID, "error", err)
		}
		e.registry.Add(p)
	}
	if record.NoShares > 0 {
		p := types.Position{
			TradeID: record.TradeID, ConditionID: opp.Market.ConditionID, TokenID: opp.Market.NoTokenID,
			Side: "NO", Shares: record.NoShares, EntryPrice: record.NoCost / record.NoShares, EntryCost: record.NoCost,
			MarketEndTime: opp.Market.EndTime, Asset: opp.Market.Asset,
		}
		if err := e.store.AddToSettlementQueue(ctx, p); err != nil {
			e.logger.Error("persist no position", "trade_id", record.TradeID, "error", err)
		}
		e.registry.Add(p)
	}
	if !record.DryRun {
		e.saveFillTelemetry(ctx, record, opp)
	}
}

// saveFillTelemetry writes one fills row per executed leg so the slippage
// aggregation can compare executed prices against the trade's intent.
func (e *Executor) saveFillTelemetry(ctx context.Context, record types.TradeRecord, opp types.Opportunity) {
	if record.YesShares > 0 {
		if err := e.store.SaveFillRecord(ctx, record.TradeID, opp.Market.YesTokenID, "YES", record.YesCost/record.YesShares, record.YesShares); err != nil {
			e.logger.Warn("save yes fill record", "trade_id", record.TradeID, "error", err)
		}
	}
	if record.NoShares > 0 {
		if err := e.store.SaveFillRecord(ctx, record.TradeID, opp.Market.NoTokenID, "NO", record.NoCost/record.NoShares, record.NoShares); err != nil {
			e.logger.Warn("save no fill record", "trade_id", record.TradeID, "error", err)
		}
	}
}

// persist writes the TradeRecord and hands it to the engine's trade
// callback. Daily-counter accounting happens in that callback — the engine
// is the single writer of process-wide counters.
func (e *Executor) persist(ctx context.Context, record types.TradeRecord) {
	if err := e.store.SaveTrade(ctx, record); err != nil {
		e.logger.Error("save trade record", "trade_id", record.TradeID, "error", err)
	}
	if e.onTrade != nil {
		e.onTrade(record)
	}
}

func depth(levels []types.PriceLevel) float64 {
	var total float64
	for i, l := range levels {
		if i >= 3 {
			break
		}
		var f float64
		fmt.Sscanf(l.Size, "%f", &f)
		total += f
	}
	return total
}
