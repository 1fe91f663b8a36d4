package venue

import (
	"context"
	"fmt"
	"time"

	"gabagool-arb/pkg/types"
)

// DualLegOpts configures ExecuteDualLegParallel. Grounded on
// execute_dual_leg_order_parallel in the Python original: exact opportunity
// pricing (no slippage at submit time), a small price buffer to improve fill
// rates, and a cap on the fraction of displayed top-of-book depth either leg
// may consume.
type DualLegOpts struct {
	SubmitTimeout              time.Duration
	LiveWait                   time.Duration
	MaxLiquidityConsumptionPct float64
	PriceBufferCents           float64
	TickSize                   types.TickSize
	ConditionID                string
	Asset                      string
}

// DualLegResult is the outcome of one atomic two-leg submission attempt.
type DualLegResult struct {
	YesResult       *OrderResult
	NoResult        *OrderResult
	Success         bool
	PartialFill     bool
	Error           string
	PreFillYesDepth float64
	PreFillNoDepth  float64
}

// BufferedPrice applies the configurable price buffer to a limit order,
// capped at 0.99 so the order never crosses into invalid price territory.
func BufferedPrice(price, bufferCents float64) float64 {
	buffered := price + bufferCents/100
	if buffered > 0.99 {
		return 0.99
	}
	return buffered
}

// ExecuteDualLegParallel is the atomic two-leg primitive described in
// spec.md §4.6. It never "unwinds" a matched leg on its own: a failed
// counter-leg either completes via the Rebalancer or is left to the caller
// to flatten explicitly. This function only submits, waits, and classifies.
func (c *Client) ExecuteDualLegParallel(
	ctx context.Context,
	yesToken, noToken string,
	yesAmountUSD, noAmountUSD, yesPrice, noPrice float64,
	opts DualLegOpts,
) (*DualLegResult, error) {
	totalCost := yesPrice + noPrice
	if totalCost >= 1.0 {
		return &DualLegResult{Success: false, Error: fmt.Sprintf("arbitrage invalidated: prices sum to %.4f >= 1.00", totalCost)}, nil
	}

	yesBook, err := c.GetOrderBook(ctx, yesToken)
	if err != nil {
		return nil, fmt.Errorf("fetch yes book: %w", err)
	}
	noBook, err := c.GetOrderBook(ctx, noToken)
	if err != nil {
		return nil, fmt.Errorf("fetch no book: %w", err)
	}
	if len(yesBook.Asks) == 0 || len(noBook.Asks) == 0 {
		return &DualLegResult{Success: false, Error: "insufficient liquidity: no asks available"}, nil
	}

	yesDepth := topNDepth(yesBook.Asks, 3)
	noDepth := topNDepth(noBook.Asks, 3)

	yesSharesNeeded := yesAmountUSD / yesPrice
	noSharesNeeded := noAmountUSD / noPrice

	maxConsumption := opts.MaxLiquidityConsumptionPct
	if maxConsumption <= 0 {
		maxConsumption = 0.5
	}
	if yesSharesNeeded > yesDepth*maxConsumption {
		return &DualLegResult{Success: false, Error: "yes order would consume too much liquidity", PreFillYesDepth: yesDepth, PreFillNoDepth: noDepth}, nil
	}
	if noSharesNeeded > noDepth*maxConsumption {
		return &DualLegResult{Success: false, Error: "no order would consume too much liquidity", PreFillYesDepth: yesDepth, PreFillNoDepth: noDepth}, nil
	}

	submitCtx, cancel := context.WithTimeout(ctx, opts.SubmitTimeout)
	defer cancel()

	yesPriceBuffered := BufferedPrice(yesPrice, opts.PriceBufferCents)
	noPriceBuffered := BufferedPrice(noPrice, opts.PriceBufferCents)

	type legResult struct {
		res *OrderResult
		err error
	}
	yesCh := make(chan legResult, 1)
	noCh := make(chan legResult, 1)

	go func() {
		r, err := c.PlaceOrder(submitCtx, yesToken, types.BUY, yesPriceBuffered, yesSharesNeeded, opts.TickSize)
		yesCh <- legResult{r, err}
	}()
	go func() {
		r, err := c.PlaceOrder(submitCtx, noToken, types.BUY, noPriceBuffered, noSharesNeeded, opts.TickSize)
		noCh <- legResult{r, err}
	}()

	var yesLeg, noLeg legResult
	for i := 0; i < 2; i++ {
		select {
		case yesLeg = <-yesCh:
		case noLeg = <-noCh:
		case <-submitCtx.Done():
			c.cancelPending(ctx, yesLeg.res, noLeg.res)
			return &DualLegResult{Success: false, Error: "submit timeout", PreFillYesDepth: yesDepth, PreFillNoDepth: noDepth}, nil
		}
	}

	if yesLeg.res == nil {
		yesLeg.res = &OrderResult{Status: StatusFailed}
	}
	if noLeg.res == nil {
		noLeg.res = &OrderResult{Status: StatusFailed}
	}

	// LIVE orders get one short re-query: "resting on book, would have
	// filled in 300ms" should count as a fill, not a failure.
	if yesLeg.res.Status == StatusLive || noLeg.res.Status == StatusLive {
		time.Sleep(opts.LiveWait)
		if yesLeg.res.Status == StatusLive {
			if r, err := c.GetOrderStatus(ctx, yesLeg.res.OrderID); err == nil {
				yesLeg.res = r.WithIntent(yesLeg.res)
			}
		}
		if noLeg.res.Status == StatusLive {
			if r, err := c.GetOrderStatus(ctx, noLeg.res.OrderID); err == nil {
				noLeg.res = r.WithIntent(noLeg.res)
			}
		}
	}

	result := &DualLegResult{
		YesResult:       yesLeg.res,
		NoResult:        noLeg.res,
		PreFillYesDepth: yesDepth,
		PreFillNoDepth:  noDepth,
	}

	yesFilled := yesLeg.res.Status.Filled()
	noFilled := noLeg.res.Status.Filled()

	switch {
	case yesFilled && noFilled:
		result.Success = true
	case yesFilled != noFilled:
		result.PartialFill = true
		result.Error = "partial fill: one leg matched, the other did not"
		// Cancel the still-resting leg; the Rebalancer owns recovery.
		if !yesFilled && yesLeg.res.OrderID != "" {
			c.cancelPending(ctx, yesLeg.res, nil)
		}
		if !noFilled && noLeg.res.OrderID != "" {
			c.cancelPending(ctx, nil, noLeg.res)
		}
	default:
		result.Success = false
		result.Error = "both legs failed"
	}

	return result, nil
}

func (c *Client) cancelPending(ctx context.Context, yes, no *OrderResult) {
	var ids []string
	if yes != nil && yes.OrderID != "" && !yes.Status.Filled() {
		ids = append(ids, yes.OrderID)
	}
	if no != nil && no.OrderID != "" && !no.Status.Filled() {
		ids = append(ids, no.OrderID)
	}
	if len(ids) == 0 {
		return
	}
	if _, err := c.CancelOrders(ctx, ids); err != nil {
		c.logger.Warn("failed to cancel pending leg", "order_ids", ids, "error", err)
	}
}

func topNDepth(levels []types.PriceLevel, n int) float64 {
	var total float64
	for i, l := range levels {
		if i >= n {
			break
		}
		total += parseFloat(l.Size)
	}
	return total
}
