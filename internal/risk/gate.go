// Package risk implements the pre-trade Risk Gate: the single choke point
// every Opportunity passes through before the Sizer and Executor ever touch
// the venue. Uses a monotonic boolean circuit-breaker model
// (CircuitBreakerState.Hit) — see DESIGN.md for that decision.
package risk

import (
	"log/slog"
	"time"

	"gabagool-arb/internal/config"
	"gabagool-arb/pkg/types"
)

// OpportunityValidity is the fixed window after which an Opportunity must
// not be executed.
const OpportunityValidity = 30 * time.Second

// Decision is the structured outcome of a Gate evaluation. Every rejection
// carries a reason string so the dashboard can show one line per decision.
type Decision struct {
	Accept      bool
	Reason      string
	Opportunity types.Opportunity
}

// Input bundles everything the Gate needs to evaluate one Opportunity.
// The Gate itself holds no state; all state is passed in by the Engine,
// which is the single writer of daily counters and circuit-breaker state.
type Input struct {
	Opportunity     types.Opportunity
	SecondsToEnd    float64
	DailyExposure   float64
	Counters        types.DailyCounters
	CircuitBreaker  types.CircuitBreakerState
	InBlackout      bool
	AvailableBudget float64
	Mode            types.TradingMode
	Now             time.Time
}

// Gate evaluates opportunities against the configured strategy limits.
type Gate struct {
	cfg               config.StrategyConfig
	minSecondsToAdmit float64
	logger            *slog.Logger
	onDecision        func(Decision)
}

// New creates a Gate from strategy configuration.
func New(cfg config.StrategyConfig, minSecondsToAdmit float64, logger *slog.Logger) *Gate {
	return &Gate{cfg: cfg, minSecondsToAdmit: minSecondsToAdmit, logger: logger.With("component", "risk-gate")}
}

// OnDecision registers a callback invoked with every Evaluate result,
// accepted or rejected — the dashboard decision feed.
func (g *Gate) OnDecision(fn func(Decision)) { g.onDecision = fn }

// Evaluate runs every pre-trade check in spec.md §4.8 order, rejecting on
// the first failure.
func (g *Gate) Evaluate(in Input) Decision {
	o := in.Opportunity

	reject := func(reason string) Decision {
		d := Decision{Accept: false, Reason: reason, Opportunity: o}
		g.logger.Info("opportunity rejected", "reason", reason, "market", o.Market.ConditionID, "asset", o.Market.Asset)
		g.notify(d)
		return d
	}

	if !o.IsValid(in.Now, OpportunityValidity) {
		return reject("expired")
	}
	if o.SpreadCents < g.cfg.MinSpreadThreshold*100 {
		return reject("spread_below_threshold")
	}
	if in.SecondsToEnd <= g.minSecondsToAdmit {
		return reject("too_close_to_resolution")
	}
	if o.YesPrice <= 0 || o.NoPrice <= 0 {
		return reject("invalid_price")
	}
	if o.YesPrice+o.NoPrice >= 1 {
		return reject("no_spread")
	}
	tradeCost := g.cfg.MinTradeSizeUSD
	if g.cfg.MaxDailyExposureUSD > 0 && in.DailyExposure+tradeCost > g.cfg.MaxDailyExposureUSD {
		return reject("daily_exposure_exceeded")
	}
	// A tripped breaker or an active blackout window puts the process in a
	// simulated mode; opportunities still flow through to produce dry-run
	// trade records, so these two checks only reject when the executor is
	// about to submit for real.
	if !in.Mode.IsSimulated() || in.Mode == "" {
		if in.CircuitBreaker.Hit {
			return reject("circuit_breaker_hit")
		}
		if in.InBlackout {
			return reject("blackout")
		}
	}
	if in.AvailableBudget < 2*g.cfg.MinTradeSizeUSD {
		return reject("insufficient_budget")
	}

	d := Decision{Accept: true, Reason: "accepted", Opportunity: o}
	g.notify(d)
	return d
}

func (g *Gate) notify(d Decision) {
	if g.onDecision != nil {
		g.onDecision(d)
	}
}
