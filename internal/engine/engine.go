// Package engine is the central orchestrator of the hedged-arbitrage bot:
// a single struct owns every component, with one goroutine per concern
// driving the dual-leg arbitrage pipeline.
//
// It wires together every subsystem:
//
//  1. Discovery polls the Gamma API for short-duration binary markets.
//  2. The Book Tracker consumes the public market WebSocket feed and
//     synthesizes Opportunities whenever a market's combined ask cost
//     drops enough to imply a risk-free spread.
//  3. The Opportunity Queue buffers those for the Executor, which is the
//     single goroutine driving the gate -> sizer -> dual-leg -> rebalancer
//     -> persistence pipeline.
//  4. The Settlement Worker and a blackout checker run as independent
//     maintenance tasks under an errgroup, off the trading path; each
//     runs until the engine's context is cancelled.
//
// The Engine is the single writer of process-wide state (trading mode
// inputs, daily counters, cached balance, tick sizes per market) and
// implements executor.StateProvider, settlement.ActiveMarkets, and
// api.Provider so those packages never reach for global state directly.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"gabagool-arb/internal/api"
	"gabagool-arb/internal/book"
	"gabagool-arb/internal/config"
	"gabagool-arb/internal/discovery"
	"gabagool-arb/internal/executor"
	"gabagool-arb/internal/position"
	"gabagool-arb/internal/queue"
	"gabagool-arb/internal/rebalancer"
	"gabagool-arb/internal/risk"
	"gabagool-arb/internal/settlement"
	"gabagool-arb/internal/sizer"
	"gabagool-arb/internal/store"
	"gabagool-arb/internal/telemetry"
	"gabagool-arb/internal/venue"
	"gabagool-arb/pkg/types"
)

// opportunityQueueCapacity bounds the SPSC queue between the Book Tracker
// and the Executor. Not exposed in config: the queue exists only to absorb
// brief executor stalls, never to model a real backlog.
const opportunityQueueCapacity = 256

// staleBookMaxAge marks a market's book stale on the dashboard if no WS
// update has landed within this window.
const staleBookMaxAge = 30 * time.Second

// Maintenance cadences named in spec.md §4.11.
const (
	maintenanceTick        = 50 * time.Millisecond
	marketRefreshInterval  = 30 * time.Second
	balanceRefreshInterval = 30 * time.Second
	liquiditySnapshotEvery = 30 * time.Second
	blackoutCheckInterval  = time.Minute
)

const dateFormat = "2006-01-02"

// Engine orchestrates every component and owns all process-wide state.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	client     *venue.Client
	auth       *venue.Auth
	redeemer   *venue.Redeemer
	mktFeed    *venue.WSFeed
	st         *store.Store
	discovery  *discovery.Discovery
	tracker    *book.Tracker
	queue      *queue.OpportunityQueue
	gate       *risk.Gate
	sizer      *sizer.Sizer
	executor   *executor.Executor
	reb        *rebalancer.Rebalancer
	registry   *position.Registry
	worker     *settlement.Worker
	metrics    *telemetry.Metrics
	metricsReg *prometheus.Registry

	trackedMu sync.RWMutex
	tracked   map[string]types.Market // condition_id -> market, the active set

	tickSizeMu sync.RWMutex
	tickSizes  map[string]types.TickSize // condition_id -> tick size

	countersMu sync.Mutex
	counters   types.DailyCounters

	cbMu sync.RWMutex
	cb   types.CircuitBreakerState

	blackoutMu sync.RWMutex
	blackout   types.BlackoutState

	balanceMu sync.RWMutex
	balance   float64

	dashboardEvents chan api.DashboardEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup  // trading-path goroutines: single-writer, plain fan-out
	group  *errgroup.Group // maintenance/settlement/blackout tasks
}

// New creates and wires every component. If L2 API credentials aren't
// configured, it derives them via L1 (EIP-712) auth, matching the
// teacher's bootstrap sequence. On success it also reloads circuit-breaker
// state, today's counters, and unclaimed positions from the Store so a
// restart converges to the same state a continuous run would have reached.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	auth, err := venue.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("create auth: %w", err)
	}
	client := venue.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials configured, deriving via L1 auth")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, fmt.Errorf("derive api key: %w", err)
		}
		auth.SetCredentials(*creds)
	}

	redeemer, err := venue.NewRedeemer(cfg.Wallet.RPCURL, cfg.Wallet.CTFAddress, cfg.Wallet.CollateralAddr, auth)
	if err != nil {
		return nil, fmt.Errorf("create redeemer: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	disc := discovery.New(cfg.API.GammaBaseURL, cfg.Discovery, st, logger)
	tracker := book.NewTracker(cfg.Strategy.MinSpreadThreshold*100, logger)
	q := queue.New(opportunityQueueCapacity, risk.OpportunityValidity, logger)
	gate := risk.New(cfg.Strategy, float64(cfg.Discovery.MinSecondsToAdmit), logger)
	sz := sizer.New(cfg.Strategy, logger)
	reb := rebalancer.New(client, logger)
	registry := position.New()
	metrics, metricsReg := telemetry.New()
	mktFeed := venue.NewMarketFeed(cfg.API.WSMarketURL, logger)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:             cfg,
		logger:          logger,
		client:          client,
		auth:            auth,
		redeemer:        redeemer,
		mktFeed:         mktFeed,
		st:              st,
		discovery:       disc,
		tracker:         tracker,
		queue:           q,
		gate:            gate,
		sizer:           sz,
		reb:             reb,
		registry:        registry,
		metrics:         metrics,
		metricsReg:      metricsReg,
		tracked:         make(map[string]types.Market),
		tickSizes:       make(map[string]types.TickSize),
		counters:        types.DailyCounters{Date: time.Now().UTC().Format(dateFormat)},
		dashboardEvents: make(chan api.DashboardEvent, 256),
		ctx:             ctx,
		cancel:          cancel,
	}

	e.executor = executor.New(q, gate, sz, client, reb, st, registry, e, cfg.Strategy, logger)
	e.worker = settlement.New(st, redeemer, client, registry, cfg.Risk, logger)

	e.wireCallbacks()
	e.reloadState(ctx)

	return e, nil
}

// wireCallbacks connects every component's observer hooks to the engine's
// own state mutation and dashboard/metrics emission methods. The engine
// remains the only writer of shared state even though these callbacks run
// on different goroutines (the market feed dispatchers, the executor's
// single trading goroutine, the settlement worker's maintenance goroutine).
func (e *Engine) wireCallbacks() {
	e.tracker.OnOpportunity(func(o types.Opportunity) {
		e.metrics.OpportunitiesDetected.Inc()
		e.queue.Push(o)
		e.emitDashboardEvent("opportunity", o.Market.ConditionID, o)
	})
	e.tracker.OnStateChange(func(s types.MarketState) {
		e.metrics.BestPrice.WithLabelValues(s.Market.ConditionID, "yes").Set(s.YesBestAsk)
		e.metrics.BestPrice.WithLabelValues(s.Market.ConditionID, "no").Set(s.NoBestAsk)
		e.emitDashboardEvent("market_update", s.Market.ConditionID, e.marketStatusFor(s))
	})
	e.gate.OnDecision(func(d risk.Decision) {
		e.recordDecision(d)
		e.emitDashboardEvent("decision", d.Opportunity.Market.ConditionID, api.DecisionEvent{
			Accept: d.Accept, Reason: d.Reason, Opportunity: d.Opportunity,
		})
	})
	e.queue.OnSkipped(func(reason string) {
		e.metrics.OpportunitiesSkipped.WithLabelValues(reason).Inc()
	})
	e.executor.OnTrade(func(t types.TradeRecord) {
		e.recordTrade(t)
		e.emitDashboardEvent("trade", t.ConditionID, api.NewTradeEvent(t))
	})
	e.worker.OnRealizedPnL(e.recordRealizedPnL)
	e.mktFeed.OnConnectionState(func(connected bool) {
		e.metrics.WSConnected.WithLabelValues("market").Set(boolToFloat(connected))
		if connected {
			e.metrics.WSReconnects.Inc()
		}
	})
	e.client.OnRequestDuration(func(endpoint string, d time.Duration) {
		e.metrics.VenueRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	})
}

// reloadState restores circuit-breaker state, today's counters, and
// unclaimed positions from the Store so a restart doesn't forget an
// already-tripped breaker or already-placed trades.
func (e *Engine) reloadState(ctx context.Context) {
	if cb, err := e.st.GetCircuitBreakerState(ctx); err != nil {
		e.logger.Error("reload circuit breaker state", "error", err)
	} else {
		e.cbMu.Lock()
		e.cb = cb
		e.cbMu.Unlock()
		e.metrics.CircuitBreakerActive.Set(boolToFloat(cb.Hit))
	}

	if positions, err := e.st.GetUnclaimedPositions(ctx); err != nil {
		e.logger.Error("reload unclaimed positions", "error", err)
	} else {
		e.registry.Load(positions)
	}

	if counters, err := e.st.GetTodayStats(ctx); err != nil {
		e.logger.Error("reload daily counters", "error", err)
	} else {
		e.countersMu.Lock()
		e.counters = counters
		e.countersMu.Unlock()
		e.metrics.DailyPnLUSD.Set(counters.PnL)
		e.metrics.DailyExposureUSD.Set(counters.Exposure)
	}
}

// Start launches the trading-path goroutines (plain fan-out, teacher's
// sync.WaitGroup idiom) and the maintenance/settlement/blackout tasks
// (errgroup, non-trading-path only; each task runs until the engine's
// context is cancelled).
func (e *Engine) Start() error {
	ctx := e.ctx

	e.refreshBalance(ctx)
	e.refreshMarkets(ctx)
	e.recomputeBlackout(time.Now())

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		if err := e.mktFeed.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("market feed stopped", "error", err)
		}
	}()
	go func() {
		defer e.wg.Done()
		e.dispatchBookEvents(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.dispatchPriceChangeEvents(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.executor.Run(ctx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { e.maintenanceLoop(gctx); return nil })
	g.Go(func() error { e.blackoutLoop(gctx); return nil })
	g.Go(func() error { e.worker.Run(gctx, e); return nil })
	e.group = g

	e.logger.Info("engine started", "markets", e.cfg.Strategy.Markets, "dry_run", e.cfg.DryRun)
	return nil
}

// Stop cancels every task, waits for the trading path and the maintenance
// group to drain, cancels any resting orders as a safety net, and closes
// the Store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")

	e.cancel()
	if e.group != nil {
		if err := e.group.Wait(); err != nil {
			e.logger.Error("maintenance task exited with error", "error", err)
		}
	}
	e.wg.Wait()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCancel()
	if _, err := e.client.CancelAll(cancelCtx); err != nil {
		e.logger.Error("cancel-all on shutdown failed", "error", err)
	}

	if err := e.mktFeed.Close(); err != nil {
		e.logger.Warn("close market feed", "error", err)
	}
	if err := e.st.Close(); err != nil {
		e.logger.Error("close store", "error", err)
	}
	close(e.dashboardEvents)

	e.logger.Info("shutdown complete")
}

// --- executor.StateProvider ---

func (e *Engine) TradingMode() types.TradingMode {
	e.blackoutMu.RLock()
	inBlackout := e.blackout.InBlackout
	e.blackoutMu.RUnlock()
	if inBlackout {
		return types.ModeBlackout
	}

	e.cbMu.RLock()
	hit := e.cb.Hit
	e.cbMu.RUnlock()
	if hit {
		return types.ModeCircuitBreaker
	}

	if e.cfg.DryRun {
		return types.ModeDryRun
	}
	return types.ModeLive
}

func (e *Engine) DailyCounters() types.DailyCounters {
	e.countersMu.Lock()
	defer e.countersMu.Unlock()
	return e.counters
}

func (e *Engine) CircuitBreaker() types.CircuitBreakerState {
	e.cbMu.RLock()
	defer e.cbMu.RUnlock()
	return e.cb
}

func (e *Engine) Blackout() types.BlackoutState {
	e.blackoutMu.RLock()
	defer e.blackoutMu.RUnlock()
	return e.blackout
}

// AvailableBudget is the balance remaining for new trades this window:
// the minimum of the cached on-chain balance (scaled down when
// balance-sizing is enabled), the remaining daily exposure cap, and the
// per-window cap, each reread fresh on every pop so the Engine stays the
// single writer of exposure state.
func (e *Engine) AvailableBudget(ctx context.Context) (float64, error) {
	e.balanceMu.RLock()
	budget := e.balance
	e.balanceMu.RUnlock()

	if e.cfg.Strategy.BalanceSizingEnabled && e.cfg.Strategy.BalanceSizingPct > 0 {
		budget *= e.cfg.Strategy.BalanceSizingPct
	}

	e.countersMu.Lock()
	exposure := e.counters.Exposure
	e.countersMu.Unlock()

	if e.cfg.Strategy.MaxDailyExposureUSD > 0 {
		remaining := e.cfg.Strategy.MaxDailyExposureUSD - exposure
		if remaining < 0 {
			remaining = 0
		}
		if remaining < budget {
			budget = remaining
		}
	}
	if e.cfg.Strategy.MaxPerWindowUSD > 0 && e.cfg.Strategy.MaxPerWindowUSD < budget {
		budget = e.cfg.Strategy.MaxPerWindowUSD
	}
	if budget < 0 {
		budget = 0
	}
	return budget, nil
}

func (e *Engine) TickSizeFor(conditionID string) types.TickSize {
	e.tickSizeMu.RLock()
	defer e.tickSizeMu.RUnlock()
	if ts, ok := e.tickSizes[conditionID]; ok {
		return ts
	}
	return types.Tick001
}

// --- settlement.ActiveMarkets ---

func (e *Engine) IsActive(conditionID string) bool {
	e.trackedMu.RLock()
	defer e.trackedMu.RUnlock()
	_, ok := e.tracked[conditionID]
	return ok
}

// --- api.Provider ---

func (e *Engine) GetMarketsSnapshot() []api.MarketStatus {
	e.trackedMu.RLock()
	markets := make([]types.Market, 0, len(e.tracked))
	for _, m := range e.tracked {
		markets = append(markets, m)
	}
	e.trackedMu.RUnlock()

	out := make([]api.MarketStatus, 0, len(markets))
	for _, m := range markets {
		state, ok := e.tracker.State(m.ConditionID)
		if !ok {
			state = types.NewMarketState(m)
		}
		out = append(out, e.marketStatusFor(state))
	}
	return out
}

func (e *Engine) marketStatusFor(s types.MarketState) api.MarketStatus {
	return api.MarketStatus{
		ConditionID: s.Market.ConditionID,
		Asset:       s.Market.Asset,
		Slug:        s.Market.Slug,
		EndTime:     s.Market.EndTime,
		YesBestBid:  s.YesBestBid,
		YesBestAsk:  s.YesBestAsk,
		NoBestBid:   s.NoBestBid,
		NoBestAsk:   s.NoBestAsk,
		Spread:      s.Spread(),
		SpreadCents: s.SpreadCents(),
		IsStale:     s.IsStale(time.Now(), staleBookMaxAge),
		LastUpdate:  s.LastUpdate,
	}
}

func (e *Engine) GetOpenPositions() []types.Position {
	return e.registry.Open()
}

func (e *Engine) GetUnclaimedPositions(ctx context.Context) ([]types.Position, error) {
	return e.st.GetUnclaimedPositions(ctx)
}

func (e *Engine) GetRecentTrades(ctx context.Context, limit int) ([]types.TradeRecord, error) {
	return e.st.GetRecentTrades(ctx, limit)
}

func (e *Engine) GetPnLHistory(ctx context.Context, timeframe string) ([]types.TradeRecord, error) {
	var lookback time.Duration
	switch timeframe {
	case "7d":
		lookback = 7 * 24 * time.Hour
	case "all":
		lookback = 0
	default:
		lookback = 24 * time.Hour
	}
	return e.st.GetPnLHistory(ctx, lookback)
}

func (e *Engine) GetAllTimeStats(ctx context.Context) (types.DailyCounters, error) {
	return e.st.GetAllTimeStats(ctx)
}

func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// MetricsHandler serves this engine's Prometheus registry, mounted by
// main on cfg.Dashboard.MetricsPort.
func (e *Engine) MetricsHandler() http.Handler {
	return telemetry.Handler(e.metricsReg)
}

// --- maintenance tasks ---

// maintenanceLoop runs the ~50ms tick named in spec.md §4.11: a daily
// counter reset check on every tick, plus the slower 30s market and
// balance refreshes gated by elapsed time rather than separate tickers, to
// keep the shutdown path to a single goroutine.
func (e *Engine) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(maintenanceTick)
	defer ticker.Stop()

	lastMarketRefresh := time.Now()
	lastBalanceRefresh := time.Now()
	lastLiquiditySnapshot := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.maybeResetDaily(ctx, now)

			if now.Sub(lastMarketRefresh) >= marketRefreshInterval {
				e.refreshMarkets(ctx)
				lastMarketRefresh = now
			}
			if now.Sub(lastBalanceRefresh) >= balanceRefreshInterval {
				e.refreshBalance(ctx)
				lastBalanceRefresh = now
			}
			if e.cfg.Store.LiquiditySnapshotsEnabled && now.Sub(lastLiquiditySnapshot) >= liquiditySnapshotEvery {
				e.snapshotLiquidity(ctx)
				lastLiquiditySnapshot = now
			}
		}
	}
}

// blackoutLoop recomputes the blackout window once a minute, the only
// writer of blackout state.
func (e *Engine) blackoutLoop(ctx context.Context) {
	ticker := time.NewTicker(blackoutCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.recomputeBlackout(now)
		}
	}
}

// maybeResetDaily rolls counters over to a fresh calendar day (UTC) once
// the wall clock crosses midnight, reloading the new day's baseline from
// the Store rather than zeroing in memory, so a restart mid-day still
// converges to the persisted value.
func (e *Engine) maybeResetDaily(ctx context.Context, now time.Time) {
	today := now.UTC().Format(dateFormat)

	e.countersMu.Lock()
	stale := e.counters.Date != today
	e.countersMu.Unlock()
	if !stale {
		return
	}

	counters, err := e.st.GetTodayStats(ctx)
	if err != nil {
		e.logger.Error("daily reset: reload counters", "error", err)
		counters = types.DailyCounters{Date: today}
	}
	counters.LastReset = now

	e.countersMu.Lock()
	e.counters = counters
	e.countersMu.Unlock()

	e.metrics.DailyPnLUSD.Set(counters.PnL)
	e.metrics.DailyExposureUSD.Set(counters.Exposure)
	e.logger.Info("daily counters reset", "date", today)
}

// recomputeBlackout applies cfg.Blackout's start/end-of-day window in the
// configured timezone, handling the case where the window wraps past
// midnight (start > end).
func (e *Engine) recomputeBlackout(now time.Time) {
	if !e.cfg.Blackout.Enabled {
		e.blackoutMu.Lock()
		e.blackout = types.BlackoutState{}
		e.blackoutMu.Unlock()
		return
	}

	loc, err := time.LoadLocation(e.cfg.Blackout.Timezone)
	if err != nil {
		e.logger.Warn("invalid blackout timezone, using UTC", "timezone", e.cfg.Blackout.Timezone, "error", err)
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), e.cfg.Blackout.StartHour, e.cfg.Blackout.StartMinute, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), e.cfg.Blackout.EndHour, e.cfg.Blackout.EndMinute, 0, 0, loc)

	var inBlackout bool
	var until time.Time

	if !end.After(start) {
		// Window wraps past midnight, e.g. 22:00 -> 02:00.
		switch {
		case !local.Before(start):
			inBlackout, until = true, end.Add(24*time.Hour)
		case local.Before(end):
			inBlackout, until = true, end
		}
	} else if !local.Before(start) && local.Before(end) {
		inBlackout, until = true, end
	}

	e.blackoutMu.Lock()
	e.blackout = types.BlackoutState{InBlackout: inBlackout, Until: until}
	e.blackoutMu.Unlock()
}

// refreshMarkets diffs the discovered tradeable set against the currently
// tracked set, starting newly admissible markets and stopping ones that
// have dropped out (resolved, excluded, or too close to resolution).
func (e *Engine) refreshMarkets(ctx context.Context) {
	found := e.discovery.FindActiveMarkets(ctx, e.cfg.Strategy.Markets)

	next := make(map[string]types.Market, len(found))
	for _, m := range found {
		next[m.ConditionID] = m
	}

	e.trackedMu.Lock()
	var toStart []types.Market
	var toStop []types.Market
	for id, m := range next {
		if _, ok := e.tracked[id]; !ok {
			toStart = append(toStart, m)
		}
	}
	for id, m := range e.tracked {
		if _, ok := next[id]; !ok {
			toStop = append(toStop, m)
		}
	}
	e.trackedMu.Unlock()

	for _, m := range toStop {
		e.stopMarket(ctx, m)
	}
	for _, m := range toStart {
		e.startMarket(ctx, m)
	}

	e.metrics.ActiveMarkets.Set(float64(len(next)))
}

func (e *Engine) startMarket(ctx context.Context, m types.Market) {
	e.trackedMu.Lock()
	e.tracked[m.ConditionID] = m
	e.trackedMu.Unlock()

	e.tracker.Track(m)
	e.cacheTickSize(ctx, m)

	if err := e.mktFeed.Subscribe(ctx, []string{m.YesTokenID, m.NoTokenID}); err != nil {
		e.logger.Error("subscribe to market", "condition_id", m.ConditionID, "error", err)
	}
	if err := e.st.UpsertMarket(ctx, m); err != nil {
		e.logger.Error("persist market", "condition_id", m.ConditionID, "error", err)
	}
	e.logger.Info("market started", "condition_id", m.ConditionID, "asset", m.Asset, "slug", m.Slug)
}

func (e *Engine) stopMarket(ctx context.Context, m types.Market) {
	e.trackedMu.Lock()
	delete(e.tracked, m.ConditionID)
	e.trackedMu.Unlock()

	e.tracker.Untrack(m.ConditionID)
	if err := e.mktFeed.Unsubscribe(ctx, []string{m.YesTokenID, m.NoTokenID}); err != nil {
		e.logger.Warn("unsubscribe from market", "condition_id", m.ConditionID, "error", err)
	}
	e.logger.Info("market stopped", "condition_id", m.ConditionID, "asset", m.Asset)
}

// cacheTickSize seeds the per-market tick size from a single book read,
// falling back to the standard 2-decimal tick if the read fails — a
// failure here must never block trading on that market, only its rounding
// precision.
func (e *Engine) cacheTickSize(ctx context.Context, m types.Market) {
	ts := types.Tick001
	if book, err := e.client.GetOrderBook(ctx, m.YesTokenID); err == nil && book.TickSize != "" {
		ts = types.TickSize(book.TickSize)
	}
	e.tickSizeMu.Lock()
	e.tickSizes[m.ConditionID] = ts
	e.tickSizeMu.Unlock()
}

func (e *Engine) refreshBalance(ctx context.Context) {
	bal, err := e.client.GetBalance(ctx)
	if err != nil {
		e.logger.Error("refresh balance", "error", err)
		return
	}
	e.balanceMu.Lock()
	e.balance = bal.Balance
	e.balanceMu.Unlock()
}

// snapshotLiquidity persists the top-3 ask depth of each tracked market's
// YES token,
// feeding the liquidity-consumption history the sizer's
// MaxLiquidityConsumptionPct check is calibrated against.
func (e *Engine) snapshotLiquidity(ctx context.Context) {
	e.trackedMu.RLock()
	markets := make([]types.Market, 0, len(e.tracked))
	for _, m := range e.tracked {
		markets = append(markets, m)
	}
	e.trackedMu.RUnlock()

	for _, m := range markets {
		ob, err := e.client.GetOrderBook(ctx, m.YesTokenID)
		if err != nil {
			e.logger.Warn("fetch book for liquidity snapshot", "condition_id", m.ConditionID, "error", err)
			continue
		}
		var top3 float64
		for i := 0; i < len(ob.Asks) && i < 3; i++ {
			size, _ := strconv.ParseFloat(ob.Asks[i].Size, 64)
			top3 += size
		}
		if err := e.st.SaveLiquiditySnapshot(ctx, m.ConditionID, m.YesTokenID, top3); err != nil {
			e.logger.Warn("save liquidity snapshot", "condition_id", m.ConditionID, "error", err)
		}
	}
	if e.cfg.Store.LiquidityRetentionDays > 0 {
		if err := e.st.CleanupOldLiquidityData(ctx, e.cfg.Store.LiquidityRetentionDays); err != nil {
			e.logger.Warn("cleanup liquidity data", "error", err)
		}
	}
}

// --- WS dispatch ---

// dispatchBookEvents applies full-book snapshots to the tracker. This is
// the only writer path that can emit a fresh Opportunity, so it runs on
// its own trading-path goroutine rather than inside the maintenance
// errgroup.
func (e *Engine) dispatchBookEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-e.mktFeed.BookEvents():
			if !ok {
				return
			}
			e.tracker.ApplyBook(evt.AssetID, evt.Buys, evt.Sells)
		}
	}
}

func (e *Engine) dispatchPriceChangeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-e.mktFeed.PriceChangeEvents():
			if !ok {
				return
			}
			for _, pc := range evt.PriceChanges {
				bestBid := parseWSFloat(pc.BestBid)
				bestAsk := parseWSFloat(pc.BestAsk)
				e.tracker.ApplyPriceChange(pc.AssetID, bestBid, bestAsk)
			}
		}
	}
}

// --- counters / dashboard emission ---

// recordDecision tallies every gate evaluation into today's counters,
// persisting the delta immediately so a crash loses at most one decision's
// worth of bookkeeping.
func (e *Engine) recordDecision(d risk.Decision) {
	skipped := 0
	if !d.Accept {
		skipped = 1
		e.metrics.OpportunitiesSkipped.WithLabelValues(d.Reason).Inc()
	} else {
		e.metrics.OpportunitiesExecuted.Inc()
	}

	e.countersMu.Lock()
	e.counters.OpportunitiesSeen++
	e.counters.OpportunitiesSkipped += skipped
	date := e.counters.Date
	e.countersMu.Unlock()

	if err := e.st.UpdateDailyStats(e.ctx, date, 0, 0, 0, 0, 0, 1, skipped); err != nil {
		e.logger.Error("persist opportunity counters", "error", err)
	}
}

// recordTrade tallies a persisted TradeRecord's exposure into today's
// counters. Win/loss and realized PnL go through recordRealizedPnL: at
// settlement time, or here for a flattened partial fill.
func (e *Engine) recordTrade(t types.TradeRecord) {
	exposure := t.YesCost + t.NoCost
	mode := "live"
	if t.DryRun {
		mode = "dry_run"
	}

	e.countersMu.Lock()
	e.counters.Trades++
	e.counters.Exposure += exposure
	date := e.counters.Date
	exposureTotal := e.counters.Exposure
	e.countersMu.Unlock()

	e.metrics.TradesTotal.WithLabelValues(t.ConditionID, string(t.ExecutionStatus), mode).Inc()
	e.metrics.DailyTradesTotal.Inc()
	e.metrics.DailyExposureUSD.Set(exposureTotal)

	if err := e.st.UpdateDailyStats(e.ctx, date, 0, 1, 0, 0, exposure, 0, 0); err != nil {
		e.logger.Error("persist trade counters", "trade_id", t.TradeID, "error", err)
	}

	// A flattened partial fill realizes its spread loss at execution time,
	// not at market resolution, so it feeds the ledger (and potentially the
	// circuit breaker) here.
	if !t.DryRun && t.RebalanceAction == types.RebalanceFlattened {
		if _, err := e.recordRealizedPnL(t.TradeID, t.ActualProfit, "rebalance_exit"); err != nil {
			e.logger.Error("record rebalance-exit pnl", "trade_id", t.TradeID, "error", err)
		}
	}
}

// recordRealizedPnL is wired as the settlement Worker's OnRealizedPnL
// callback: it persists the PnL append and any resulting circuit-breaker
// flip atomically in the Store, then mirrors the returned state into the
// Engine's in-memory copy so TradingMode() observes it immediately.
func (e *Engine) recordRealizedPnL(tradeID string, amount float64, pnlType string) (types.CircuitBreakerState, error) {
	cb, err := e.st.RecordRealizedPnL(e.ctx, tradeID, amount, pnlType, e.cfg.Risk.MaxDailyLossUSD)
	if err != nil {
		return cb, err
	}

	e.cbMu.Lock()
	wasHit := e.cb.Hit
	e.cb = cb
	e.cbMu.Unlock()
	if cb.Hit && !wasHit {
		e.metrics.CircuitBreakerTrips.Inc()
		e.emitDashboardEvent("circuit_breaker", "", cb)
		e.logger.Warn("circuit breaker tripped", "reason", cb.HitReason, "realized_pnl", cb.RealizedPnL)
	}
	e.metrics.CircuitBreakerActive.Set(boolToFloat(cb.Hit))

	win, loss := 1, 0
	if amount < 0 {
		win, loss = 0, 1
	}

	e.countersMu.Lock()
	e.counters.PnL += amount
	if amount < 0 {
		e.counters.Losses++
	} else {
		e.counters.Wins++
	}
	date := e.counters.Date
	pnlTotal := e.counters.PnL
	e.countersMu.Unlock()

	e.metrics.DailyPnLUSD.Set(pnlTotal)

	if err := e.st.UpdateDailyStats(e.ctx, date, amount, 0, win, loss, 0, 0, 0); err != nil {
		e.logger.Error("persist realized pnl counters", "trade_id", tradeID, "error", err)
	}

	return cb, nil
}

func (e *Engine) emitDashboardEvent(kind, marketID string, data interface{}) {
	evt := api.DashboardEvent{Type: kind, Timestamp: time.Now(), MarketID: marketID, Data: data}
	select {
	case e.dashboardEvents <- evt:
	default:
		e.logger.Warn("dashboard event dropped, channel full", "type", kind)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func parseWSFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
