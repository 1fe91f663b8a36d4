// Package sizer computes how many dollars to commit to each leg of an
// Opportunity, grounded on original_source's strategies/gabagool.py
// (calculate_position_sizes for the budget split and max-trade-size clamp,
// _adjust_for_liquidity for the proportional depth clamp). Gradual-entry
// tranche splitting has no original_source implementation to port — that
// repo's tests/test_phase2_gradual_entry.py describes the config contract
// (gradual_entry_enabled/tranches/delay_seconds/min_spread_cents) but the
// feature was never wired into gabagool.py or config.py, so the tranche
// split here is this repo's own implementation of that documented-but-
// unshipped contract.
package sizer

import (
	"fmt"
	"log/slog"
	"time"

	"gabagool-arb/internal/config"
)

// Plan is the Sizer's output: dollar amounts for each leg, already clamped
// to the liquidity-consumption cap, plus the tranche split to submit in
// (a single tranche unless gradual entry is enabled).
type Plan struct {
	YesUSD   float64
	NoUSD    float64
	Tranches []Tranche
}

// Tranche is one slice of a (possibly split) sized trade.
type Tranche struct {
	YesUSD float64
	NoUSD  float64
}

// Input bundles the inputs the Sizer needs for one opportunity.
type Input struct {
	Budget      float64
	YesPrice    float64
	NoPrice     float64
	YesAskDepth float64 // top-3 displayed ask depth, in shares
	NoAskDepth  float64
	SpreadCents float64 // opportunity spread, for the gradual-entry min-spread gate
}

// Sizer turns a budget and opportunity prices into a dollar allocation.
type Sizer struct {
	cfg    config.StrategyConfig
	logger *slog.Logger
}

// New creates a Sizer from strategy configuration.
func New(cfg config.StrategyConfig, logger *slog.Logger) *Sizer {
	return &Sizer{cfg: cfg, logger: logger.With("component", "sizer")}
}

// Size computes an equal-shares allocation: pairs =
// budget/(yes+no), scaled down to respect max_trade_size_usd and
// max_liquidity_consumption_pct, then rejected if a side would fall below
// min_trade_size_usd. When gradual entry is enabled the result is split
// into equal tranches; it falls back to a single tranche when a per-tranche
// slice would be too small.
func (s *Sizer) Size(in Input) (*Plan, error) {
	if in.YesPrice <= 0 || in.NoPrice <= 0 {
		return nil, fmt.Errorf("insufficient liquidity: non-positive price")
	}

	pairs := in.Budget / (in.YesPrice + in.NoPrice)
	yesUSD := pairs * in.YesPrice
	noUSD := pairs * in.NoPrice

	if max := s.cfg.MaxTradeSizeUSD; max > 0 && (yesUSD > max || noUSD > max) {
		scale := max / yesUSD
		if noScale := max / noUSD; noScale < scale {
			scale = noScale
		}
		yesUSD *= scale
		noUSD *= scale
	}

	yesUSD, noUSD = s.clampToDepth(yesUSD, noUSD, in)

	minSize := s.cfg.MinTradeSizeUSD
	if yesUSD < minSize || noUSD < minSize {
		return nil, fmt.Errorf("insufficient liquidity: sized trade below minimum ($%.2f/$%.2f < $%.2f)", yesUSD, noUSD, minSize)
	}

	plan := &Plan{YesUSD: yesUSD, NoUSD: noUSD}
	plan.Tranches = s.splitTranches(yesUSD, noUSD, in.SpreadCents)
	return plan, nil
}

// clampToDepth shrinks both legs proportionally so neither side's required
// share count exceeds max_liquidity_consumption_pct of the displayed
// top-of-book depth.
func (s *Sizer) clampToDepth(yesUSD, noUSD float64, in Input) (float64, float64) {
	maxConsumption := s.cfg.MaxLiquidityConsumptionPct
	if maxConsumption <= 0 {
		maxConsumption = 0.5
	}
	scale := 1.0
	if in.YesAskDepth > 0 {
		yesShares := yesUSD / in.YesPrice
		if allowed := in.YesAskDepth * maxConsumption; yesShares > allowed {
			if r := allowed / yesShares; r < scale {
				scale = r
			}
		}
	}
	if in.NoAskDepth > 0 {
		noShares := noUSD / in.NoPrice
		if allowed := in.NoAskDepth * maxConsumption; noShares > allowed {
			if r := allowed / noShares; r < scale {
				scale = r
			}
		}
	}
	if scale < 1.0 {
		s.logger.Debug("shrinking size to respect liquidity consumption cap", "scale", scale)
	}
	return yesUSD * scale, noUSD * scale
}

// splitTranches divides a sized trade into N equal gradual-entry tranches,
// falling back to a single tranche when gradual entry is disabled, the
// opportunity's spread is narrower than gradual_entry_min_spread_cents (a
// thin spread needs the whole size in fast, not staged across tranches), or
// a per-tranche slice would drop below min_trade_size_usd.
func (s *Sizer) splitTranches(yesUSD, noUSD, spreadCents float64) []Tranche {
	if !s.cfg.GradualEntryEnabled || s.cfg.GradualEntryTranches < 2 {
		return []Tranche{{YesUSD: yesUSD, NoUSD: noUSD}}
	}
	if s.cfg.GradualEntryMinSpreadCents > 0 && spreadCents < s.cfg.GradualEntryMinSpreadCents {
		return []Tranche{{YesUSD: yesUSD, NoUSD: noUSD}}
	}
	n := s.cfg.GradualEntryTranches
	perYes := yesUSD / float64(n)
	perNo := noUSD / float64(n)
	if perYes < s.cfg.MinTradeSizeUSD || perNo < s.cfg.MinTradeSizeUSD {
		return []Tranche{{YesUSD: yesUSD, NoUSD: noUSD}}
	}
	tranches := make([]Tranche, n)
	for i := range tranches {
		tranches[i] = Tranche{YesUSD: perYes, NoUSD: perNo}
	}
	return tranches
}

// TrancheDelay returns the configured inter-tranche pause.
func (s *Sizer) TrancheDelay() time.Duration {
	return time.Duration(s.cfg.GradualEntryDelaySeconds * float64(time.Second))
}
