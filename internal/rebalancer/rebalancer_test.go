package rebalancer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"gabagool-arb/internal/venue"
	"gabagool-arb/pkg/types"
)

// stubClient scripts the venue surface the Rebalancer drives. Prices are
// keyed by "tokenID|side" and order results by "tokenID|BUY"/"tokenID|SELL",
// so a test that reads the wrong side of the book fails loudly instead of
// silently returning the other side's price.
type stubClient struct {
	prices  map[string]float64
	books   map[string]*types.BookResponse
	orders  map[string]*venue.OrderResult
	requery map[string]*venue.OrderResult

	placed   []stubOrder
	canceled [][]string
}

type stubOrder struct {
	tokenID string
	side    types.Side
	price   float64
	size    float64
}

func (s *stubClient) GetPrice(_ context.Context, tokenID, side string) (float64, error) {
	p, ok := s.prices[tokenID+"|"+side]
	if !ok {
		return 0, fmt.Errorf("no stub price for %s side=%s", tokenID, side)
	}
	return p, nil
}

func (s *stubClient) GetOrderBook(_ context.Context, tokenID string) (*types.BookResponse, error) {
	if b, ok := s.books[tokenID]; ok {
		return b, nil
	}
	return &types.BookResponse{}, nil
}

func (s *stubClient) PlaceOrder(_ context.Context, tokenID string, side types.Side, price, size float64, _ types.TickSize) (*venue.OrderResult, error) {
	s.placed = append(s.placed, stubOrder{tokenID: tokenID, side: side, price: price, size: size})
	r, ok := s.orders[tokenID+"|"+string(side)]
	if !ok {
		return &venue.OrderResult{Status: venue.StatusFailed}, nil
	}
	out := *r
	out.IntendedPrice, out.IntendedSize = price, size // the real adapter always echoes intent
	if out.Status.Filled() && out.FilledSize == 0 {
		out.FilledSize, out.AvgFillPrice = size, price
	}
	return &out, nil
}

func (s *stubClient) GetOrderStatus(_ context.Context, orderID string) (*venue.OrderResult, error) {
	if r, ok := s.requery[orderID]; ok {
		out := *r
		return &out, nil
	}
	return &venue.OrderResult{OrderID: orderID, Status: venue.StatusLive}, nil
}

func (s *stubClient) CancelOrders(_ context.Context, orderIDs []string) (*types.CancelResponse, error) {
	s.canceled = append(s.canceled, orderIDs)
	return &types.CancelResponse{Canceled: orderIDs}, nil
}

func newTestRebalancer(c *stubClient) *Rebalancer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(c, logger)
}

func deepBook(price string) *types.BookResponse {
	return &types.BookResponse{Asks: []types.PriceLevel{{Price: price, Size: "500"}}}
}

func baseInput() Input {
	return Input{
		ConditionID:     "0xcond",
		FilledTokenID:   "filled-tok",
		UnfilledTokenID: "unfilled-tok",
		FilledShares:    10.53,
		FilledPrice:     0.40,
		TickSize:        types.Tick001,
		SlippageCents:   1,
		LiveWait:        time.Millisecond,
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestRecoverCompletesHedgeWhenStillProfitable(t *testing.T) {
	t.Parallel()
	c := &stubClient{
		// The hedge leg is a BUY, so the reference price must be the
		// unfilled side's ask (side=buy), per spec §8 scenario 2.
		prices: map[string]float64{"unfilled-tok|buy": 0.56},
		books:  map[string]*types.BookResponse{"unfilled-tok": deepBook("0.56")},
		orders: map[string]*venue.OrderResult{"unfilled-tok|BUY": {Status: venue.StatusMatched}},
	}
	r := newTestRebalancer(c)

	out, err := r.Recover(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.Action != types.RebalanceHedgeComplete {
		t.Fatalf("expected hedge_completed, got %q (error: %s)", out.Action, out.Error)
	}
	if len(c.placed) != 1 {
		t.Fatalf("expected exactly one order placed, got %d", len(c.placed))
	}
	buy := c.placed[0]
	if buy.tokenID != "unfilled-tok" || buy.side != types.BUY {
		t.Fatalf("expected BUY of unfilled-tok, got %s %s", buy.side, buy.tokenID)
	}
	approx(t, "buy price", buy.price, 0.57) // ask + 1c slippage
	approx(t, "buy size", buy.size, 10.53)
	approx(t, "FilledCost", out.FilledCost, 10.53*0.40)
	approx(t, "CounterCost", out.CounterCost, 10.53*0.57)
	approx(t, "ExpectedProfit", out.ExpectedProfit, 10.53-(10.53*0.40+10.53*0.57))
}

func TestRecoverFallsThroughToFlattenWhenHedgeUnprofitable(t *testing.T) {
	t.Parallel()
	c := &stubClient{
		prices: map[string]float64{
			"unfilled-tok|buy": 0.70, // 0.40 + 0.71 = 1.11 >= 1.02: hedge off
			"filled-tok|sell":  0.38, // flatten reads the filled side's bid
		},
		orders: map[string]*venue.OrderResult{"filled-tok|SELL": {Status: venue.StatusMatched}},
	}
	r := newTestRebalancer(c)

	out, err := r.Recover(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.Action != types.RebalanceFlattened {
		t.Fatalf("expected flattened, got %q (error: %s)", out.Action, out.Error)
	}
	if len(c.placed) != 1 {
		t.Fatalf("expected exactly one order placed, got %d", len(c.placed))
	}
	sell := c.placed[0]
	if sell.tokenID != "filled-tok" || sell.side != types.SELL {
		t.Fatalf("expected SELL of filled-tok, got %s %s", sell.side, sell.tokenID)
	}
	approx(t, "sell price", sell.price, 0.37) // bid - 1c slippage
	approx(t, "PnL", out.PnL, 10.53*0.37-10.53*0.40)
}

func TestRecoverFallsThroughToFlattenOnThinDepth(t *testing.T) {
	t.Parallel()
	c := &stubClient{
		prices: map[string]float64{
			"unfilled-tok|buy": 0.56,
			"filled-tok|sell":  0.38,
		},
		// Top-of-book shows less than half the filled size: hedge step must
		// not fire a partial counter-leg, flatten instead.
		books:  map[string]*types.BookResponse{"unfilled-tok": {Asks: []types.PriceLevel{{Price: "0.56", Size: "3"}}}},
		orders: map[string]*venue.OrderResult{"filled-tok|SELL": {Status: venue.StatusMatched}},
	}
	r := newTestRebalancer(c)

	out, err := r.Recover(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.Action != types.RebalanceFlattened {
		t.Fatalf("expected flattened on thin depth, got %q", out.Action)
	}
	if len(c.placed) != 1 || c.placed[0].side != types.SELL {
		t.Fatalf("expected only the flatten SELL, got %+v", c.placed)
	}
}

func TestRecoverSkipHedgeAttemptGoesStraightToFlatten(t *testing.T) {
	t.Parallel()
	c := &stubClient{
		// No unfilled-side price scripted: a hedge attempt would error, so
		// this also proves step 1 is skipped entirely.
		prices: map[string]float64{"filled-tok|sell": 0.38},
		orders: map[string]*venue.OrderResult{"filled-tok|SELL": {Status: venue.StatusMatched}},
	}
	r := newTestRebalancer(c)

	in := baseInput()
	in.SkipHedgeAttempt = true
	out, err := r.Recover(context.Background(), in)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.Action != types.RebalanceFlattened {
		t.Fatalf("expected flattened, got %q", out.Action)
	}
}

func TestRecoverReturnsExitFailedWhenSellNeverFills(t *testing.T) {
	t.Parallel()
	c := &stubClient{
		prices: map[string]float64{"filled-tok|sell": 0.38},
		orders: map[string]*venue.OrderResult{"filled-tok|SELL": {Status: venue.StatusLive, OrderID: "o1"}},
		// Requery still LIVE: the exit order must be cancelled and the
		// outcome reported as exit_failed, position held.
		requery: map[string]*venue.OrderResult{"o1": {OrderID: "o1", Status: venue.StatusLive}},
	}
	r := newTestRebalancer(c)

	in := baseInput()
	in.SkipHedgeAttempt = true
	out, err := r.Recover(context.Background(), in)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.Action != types.RebalanceExitFailed {
		t.Fatalf("expected exit_failed, got %q", out.Action)
	}
	if len(c.canceled) != 1 || len(c.canceled[0]) != 1 || c.canceled[0][0] != "o1" {
		t.Fatalf("expected the resting exit order cancelled, got %v", c.canceled)
	}
}

func TestRecoverHedgeLiveThenFilledOnRequery(t *testing.T) {
	t.Parallel()
	c := &stubClient{
		prices: map[string]float64{"unfilled-tok|buy": 0.56},
		books:  map[string]*types.BookResponse{"unfilled-tok": deepBook("0.56")},
		orders: map[string]*venue.OrderResult{"unfilled-tok|BUY": {Status: venue.StatusLive, OrderID: "o2"}},
		// The resting order matched during the live wait; the requery
		// reports it filled and the intent backfill supplies the sizes.
		requery: map[string]*venue.OrderResult{"o2": {OrderID: "o2", Status: venue.StatusMatched}},
	}
	r := newTestRebalancer(c)

	out, err := r.Recover(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.Action != types.RebalanceHedgeComplete {
		t.Fatalf("expected hedge_completed after requery, got %q (error: %s)", out.Action, out.Error)
	}
	approx(t, "CounterCost", out.CounterCost, 10.53*0.57)
}
