package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"gabagool-arb/internal/config"
	"gabagool-arb/pkg/types"
)

func newTestGate(cfg config.StrategyConfig, minSecondsToAdmit float64) *Gate {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, minSecondsToAdmit, logger)
}

func baseInput(now time.Time) Input {
	return Input{
		Opportunity: types.Opportunity{
			Market:      types.Market{ConditionID: "0xcond", EndTime: now.Add(10 * time.Minute)},
			YesPrice:    0.48,
			NoPrice:     0.49,
			SpreadCents: 3,
			DetectedAt:  now,
		},
		SecondsToEnd:    600,
		AvailableBudget: 1000,
		Now:             now,
	}
}

func TestEvaluateAcceptsHealthyOpportunity(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)
	d := g.Evaluate(baseInput(time.Now()))
	if !d.Accept {
		t.Fatalf("expected accept, got reject: %s", d.Reason)
	}
}

func TestEvaluateRejectsExpiredOpportunity(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)
	now := time.Now()
	in := baseInput(now)
	in.Opportunity.DetectedAt = now.Add(-OpportunityValidity - time.Second)
	d := g.Evaluate(in)
	if d.Accept || d.Reason != "expired" {
		t.Fatalf("expected reject(expired), got accept=%v reason=%s", d.Accept, d.Reason)
	}
}

func TestEvaluateRejectsSpreadBelowThreshold(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.05, MinTradeSizeUSD: 5}, 60)
	in := baseInput(time.Now())
	in.Opportunity.SpreadCents = 3 // 3c < 5% threshold (5c)
	d := g.Evaluate(in)
	if d.Accept || d.Reason != "spread_below_threshold" {
		t.Fatalf("expected reject(spread_below_threshold), got accept=%v reason=%s", d.Accept, d.Reason)
	}
}

// TestEvaluateRejectsAtExactResolutionBoundary pins the seconds_remaining ==
// min_seconds_to_admit boundary: it must be rejected, not admitted.
func TestEvaluateRejectsAtExactResolutionBoundary(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)
	in := baseInput(time.Now())
	in.SecondsToEnd = 60
	d := g.Evaluate(in)
	if d.Accept || d.Reason != "too_close_to_resolution" {
		t.Fatalf("expected reject(too_close_to_resolution) at exact boundary, got accept=%v reason=%s", d.Accept, d.Reason)
	}
}

func TestEvaluateAcceptsJustAboveResolutionBoundary(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)
	in := baseInput(time.Now())
	in.SecondsToEnd = 61
	d := g.Evaluate(in)
	if !d.Accept {
		t.Fatalf("expected accept just above the boundary, got reject: %s", d.Reason)
	}
}

func TestEvaluateRejectsInvalidPrice(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)
	in := baseInput(time.Now())
	in.Opportunity.YesPrice = 0
	d := g.Evaluate(in)
	if d.Accept || d.Reason != "invalid_price" {
		t.Fatalf("expected reject(invalid_price), got accept=%v reason=%s", d.Accept, d.Reason)
	}
}

func TestEvaluateRejectsNoSpread(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)
	in := baseInput(time.Now())
	in.Opportunity.YesPrice = 0.51
	in.Opportunity.NoPrice = 0.5
	d := g.Evaluate(in)
	if d.Accept || d.Reason != "no_spread" {
		t.Fatalf("expected reject(no_spread), got accept=%v reason=%s", d.Accept, d.Reason)
	}
}

func TestEvaluateRejectsDailyExposureExceeded(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5, MaxDailyExposureUSD: 100}, 60)
	in := baseInput(time.Now())
	in.DailyExposure = 98
	d := g.Evaluate(in)
	if d.Accept || d.Reason != "daily_exposure_exceeded" {
		t.Fatalf("expected reject(daily_exposure_exceeded), got accept=%v reason=%s", d.Accept, d.Reason)
	}
}

func TestEvaluateRejectsCircuitBreakerHit(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)
	in := baseInput(time.Now())
	in.Mode = types.ModeLive
	in.CircuitBreaker = types.CircuitBreakerState{Hit: true}
	d := g.Evaluate(in)
	if d.Accept || d.Reason != "circuit_breaker_hit" {
		t.Fatalf("expected reject(circuit_breaker_hit), got accept=%v reason=%s", d.Accept, d.Reason)
	}
}

func TestEvaluateRejectsBlackout(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)
	in := baseInput(time.Now())
	in.Mode = types.ModeLive
	in.InBlackout = true
	d := g.Evaluate(in)
	if d.Accept || d.Reason != "blackout" {
		t.Fatalf("expected reject(blackout), got accept=%v reason=%s", d.Accept, d.Reason)
	}
}

// TestEvaluateAdmitsInSimulatedMode pins the mode ladder's contract: when
// the process is already in a simulated mode because the breaker tripped or
// a blackout window is active, opportunities still pass the gate so the
// executor can record a dry-run trade instead of silently dropping it.
func TestEvaluateAdmitsInSimulatedMode(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)

	in := baseInput(time.Now())
	in.Mode = types.ModeCircuitBreaker
	in.CircuitBreaker = types.CircuitBreakerState{Hit: true}
	if d := g.Evaluate(in); !d.Accept {
		t.Fatalf("expected accept under CIRCUIT_BREAKER mode, got reject: %s", d.Reason)
	}

	in = baseInput(time.Now())
	in.Mode = types.ModeBlackout
	in.InBlackout = true
	if d := g.Evaluate(in); !d.Accept {
		t.Fatalf("expected accept under BLACKOUT mode, got reject: %s", d.Reason)
	}
}

func TestEvaluateRejectsInsufficientBudget(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 10}, 60)
	in := baseInput(time.Now())
	in.AvailableBudget = 15 // < 2 * MinTradeSizeUSD (20)
	d := g.Evaluate(in)
	if d.Accept || d.Reason != "insufficient_budget" {
		t.Fatalf("expected reject(insufficient_budget), got accept=%v reason=%s", d.Accept, d.Reason)
	}
}

func TestOnDecisionFiresForBothAcceptAndReject(t *testing.T) {
	t.Parallel()
	g := newTestGate(config.StrategyConfig{MinSpreadThreshold: 0.01, MinTradeSizeUSD: 5}, 60)
	var seen []Decision
	g.OnDecision(func(d Decision) { seen = append(seen, d) })

	g.Evaluate(baseInput(time.Now()))
	rejectIn := baseInput(time.Now())
	rejectIn.InBlackout = true
	g.Evaluate(rejectIn)

	if len(seen) != 2 {
		t.Fatalf("expected 2 decisions observed, got %d", len(seen))
	}
	if !seen[0].Accept || seen[1].Accept {
		t.Fatalf("expected [accept, reject], got [%v, %v]", seen[0].Accept, seen[1].Accept)
	}
}
