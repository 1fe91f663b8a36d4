// Package rebalancer recovers from a partial dual-leg fill, grounded on
// original_source's client/polymarket.py:1954 (rebalance_partial_fill):
// complete the hedge if still profitable and liquid, otherwise flatten the
// filled leg at a bounded loss. The engine never holds an unhedged
// position on purpose.
package rebalancer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gabagool-arb/internal/venue"
	"gabagool-arb/pkg/types"
)

// Outcome is the result of attempting to recover a partial fill.
type Outcome struct {
	Action         types.RebalanceAction
	FilledCost     float64
	CounterCost    float64
	Proceeds       float64
	ExpectedProfit float64
	PnL            float64
	Error          string
}

// Input describes the partial fill to recover from.
type Input struct {
	ConditionID     string
	FilledTokenID   string
	UnfilledTokenID string
	FilledShares    float64
	FilledPrice     float64
	TickSize        types.TickSize
	SlippageCents   float64
	ToleranceCents  float64 // "small_tolerance" on combined cost, e.g. 2c
	LiveWait        time.Duration

	// SkipHedgeAttempt goes straight to flatten, bypassing step 1 entirely.
	// Mirrors original_source's partial_fill_exit_enabled fast path.
	SkipHedgeAttempt bool
}

// OrderClient is the slice of the venue adapter the Rebalancer drives.
// *venue.Client satisfies it; tests substitute a scripted stub.
type OrderClient interface {
	GetPrice(ctx context.Context, tokenID, side string) (float64, error)
	GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error)
	PlaceOrder(ctx context.Context, tokenID string, side types.Side, price, size float64, tickSize types.TickSize) (*venue.OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (*venue.OrderResult, error)
	CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error)
}

// Rebalancer completes a hedge or flattens a partial fill.
type Rebalancer struct {
	client OrderClient
	logger *slog.Logger
}

// New creates a Rebalancer bound to a venue client.
func New(client OrderClient, logger *slog.Logger) *Rebalancer {
	return &Rebalancer{client: client, logger: logger.With("component", "rebalancer")}
}

// Recover runs step 1 (complete the hedge) then step 2 (flatten) per
// spec.md §4.7.
func (r *Rebalancer) Recover(ctx context.Context, in Input) (*Outcome, error) {
	if !in.SkipHedgeAttempt {
		out, err := r.completeHedge(ctx, in)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
	return r.flatten(ctx, in)
}

func (r *Rebalancer) completeHedge(ctx context.Context, in Input) (*Outcome, error) {
	// side=buy is the price to BUY at, i.e. the unfilled leg's best ask.
	bestAsk, err := r.client.GetPrice(ctx, in.UnfilledTokenID, "buy")
	if err != nil {
		return nil, fmt.Errorf("read unfilled side ask: %w", err)
	}
	if bestAsk <= 0 {
		return nil, nil // no ask available, fall through to flatten
	}

	buyPrice := bestAsk + in.SlippageCents/100
	if buyPrice > 0.99 {
		buyPrice = 0.99
	}

	tolerance := in.ToleranceCents / 100
	if tolerance <= 0 {
		tolerance = 0.02
	}
	if in.FilledPrice+buyPrice >= 1+tolerance {
		r.logger.Info("hedge completion not profitable enough, falling back to flatten",
			"filled_price", in.FilledPrice, "buy_price", buyPrice)
		return nil, nil
	}

	depth, err := r.client.GetOrderBook(ctx, in.UnfilledTokenID)
	if err != nil {
		return nil, fmt.Errorf("check unfilled side depth: %w", err)
	}
	avail := topAskDepth(depth.Asks)
	if avail < 0.5*in.FilledShares {
		r.logger.Info("insufficient depth to complete hedge, falling back to flatten", "available", avail, "need", 0.5*in.FilledShares)
		return nil, nil
	}

	res, err := r.client.PlaceOrder(ctx, in.UnfilledTokenID, types.BUY, buyPrice, in.FilledShares, in.TickSize)
	if err != nil {
		if _, ok := err.(*venue.RejectError); ok {
			return nil, nil
		}
		return nil, fmt.Errorf("submit hedge completion: %w", err)
	}

	if res.Status == venue.StatusLive {
		time.Sleep(liveWaitOr(in.LiveWait))
		if requeried, err := r.client.GetOrderStatus(ctx, res.OrderID); err == nil {
			res = requeried.WithIntent(res)
		}
	}
	if !res.Status.Filled() {
		r.client.CancelOrders(ctx, []string{res.OrderID})
		return nil, nil
	}

	totalCost := in.FilledShares*in.FilledPrice + res.FilledSize*res.AvgFillPrice
	return &Outcome{
		Action:         types.RebalanceHedgeComplete,
		FilledCost:     in.FilledShares * in.FilledPrice,
		CounterCost:    res.FilledSize * res.AvgFillPrice,
		ExpectedProfit: in.FilledShares - totalCost,
	}, nil
}

func (r *Rebalancer) flatten(ctx context.Context, in Input) (*Outcome, error) {
	// side=sell is the price to SELL at, i.e. the filled leg's best bid.
	bestBid, err := r.client.GetPrice(ctx, in.FilledTokenID, "sell")
	if err != nil {
		return &Outcome{Action: types.RebalanceExitFailed, Error: err.Error()}, nil
	}

	sellPrice := bestBid - in.SlippageCents/100
	if sellPrice < 0.01 {
		sellPrice = 0.01
	}

	res, err := r.client.PlaceOrder(ctx, in.FilledTokenID, types.SELL, sellPrice, in.FilledShares, in.TickSize)
	if err != nil {
		return &Outcome{Action: types.RebalanceExitFailed, Error: err.Error()}, nil
	}

	if res.Status == venue.StatusLive {
		time.Sleep(liveWaitOr(in.LiveWait))
		if requeried, err := r.client.GetOrderStatus(ctx, res.OrderID); err == nil {
			res = requeried.WithIntent(res)
		}
	}
	if !res.Status.Filled() {
		r.client.CancelOrders(ctx, []string{res.OrderID})
		return &Outcome{Action: types.RebalanceExitFailed, Error: "exit order did not fill"}, nil
	}

	filledCost := in.FilledShares * in.FilledPrice
	proceeds := res.FilledSize * res.AvgFillPrice
	return &Outcome{
		Action:     types.RebalanceFlattened,
		FilledCost: filledCost,
		Proceeds:   proceeds,
		PnL:        proceeds - filledCost,
	}, nil
}

func topAskDepth(levels []types.PriceLevel) float64 {
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

func liveWaitOr(d time.Duration) time.Duration {
	if d <= 0 {
		return 2 * time.Second
	}
	return d
}
