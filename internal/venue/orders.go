package venue

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gabagool-arb/pkg/types"
)

// OrderStatus is the structured result status returned by the adapter's
// order-placement surface. LIVE means resting on the book, not filled;
// only MATCHED or FILLED indicates executed shares.
type OrderStatus string

const (
	StatusMatched   OrderStatus = "MATCHED"
	StatusFilled    OrderStatus = "FILLED"
	StatusLive      OrderStatus = "LIVE"
	StatusFailed    OrderStatus = "FAILED"
	StatusException OrderStatus = "EXCEPTION"
)

// Filled reports whether this status represents executed shares.
func (s OrderStatus) Filled() bool {
	return s == StatusMatched || s == StatusFilled
}

// OrderResult is the adapter's structured reply to an order submission:
// the venue's reported status plus the local submit timestamp and the
// intended (price, size) echo, so callers never need to re-derive intent
// from a possibly-partial venue response.
type OrderResult struct {
	OrderID       string
	Status        OrderStatus
	FilledSize    float64
	AvgFillPrice  float64
	SubmittedAt   time.Time
	IntendedPrice float64
	IntendedSize  float64
}

// RejectError is returned by the adapter for venue-level rejections
// (insufficient liquidity, price moved, decimal violation, etc). Callers
// type-assert on it to distinguish "this opportunity didn't work out"
// from a transport-level failure.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return e.Reason }

// WithIntent carries the original submission's intent echo onto a requeried
// result. A fully-matched order is delisted from /orders, so a requery can
// report Filled without sizes; the original intent is the best available
// record of what executed in that case.
func (r *OrderResult) WithIntent(orig *OrderResult) *OrderResult {
	r.SubmittedAt = orig.SubmittedAt
	r.IntendedPrice = orig.IntendedPrice
	r.IntendedSize = orig.IntendedSize
	if r.Status.Filled() && r.FilledSize == 0 {
		r.FilledSize = orig.IntendedSize
		r.AvgFillPrice = orig.IntendedPrice
	}
	return r
}

func reject(reason string) error { return &RejectError{Reason: reason} }

// PlaceOrder submits a single GTC limit order and returns a structured
// result. Price and size are canonicalized before submission.
func (c *Client) PlaceOrder(ctx context.Context, tokenID string, side types.Side, price, size float64, tickSize types.TickSize) (*OrderResult, error) {
	price, size = Canonicalize(price, size)
	submittedAt := time.Now()

	order := types.UserOrder{
		TokenID:   tokenID,
		Price:     price,
		Size:      size,
		Side:      side,
		OrderType: types.OrderTypeGTC,
		TickSize:  tickSize,
	}

	results, err := c.PostOrders(ctx, []types.UserOrder{order}, false)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("place order: empty response")
	}

	r := results[0]
	res := &OrderResult{
		OrderID:       r.OrderID,
		SubmittedAt:   submittedAt,
		IntendedPrice: price,
		IntendedSize:  size,
	}
	if !r.Success {
		res.Status = StatusFailed
		return res, reject(r.ErrorMsg)
	}
	res.Status = normalizeStatus(r.Status)
	if res.Status.Filled() {
		res.FilledSize = size
		res.AvgFillPrice = price
	}
	return res, nil
}

func normalizeStatus(s string) OrderStatus {
	switch s {
	case "matched", "MATCHED":
		return StatusMatched
	case "filled", "FILLED":
		return StatusFilled
	case "live", "LIVE":
		return StatusLive
	default:
		return StatusFailed
	}
}

// GetOrderStatus re-queries a single order's current state by scanning open
// orders. Used after a LIVE result to detect a fill that landed between the
// submit reply and the live-wait window.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error) {
	open, err := c.GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("get order status: %w", err)
	}
	for _, o := range open {
		if o.ID != orderID {
			continue
		}
		matched := parseFloat(o.SizeMatched)
		original := parseFloat(o.OriginalSize)
		status := StatusLive
		if matched >= original && original > 0 {
			status = StatusMatched
		}
		return &OrderResult{
			OrderID:      o.ID,
			Status:       status,
			FilledSize:   matched,
			AvgFillPrice: parseFloat(o.Price),
		}, nil
	}
	// Not found among open orders: either fully matched and delisted, or
	// cancelled. Callers that reach here after a cancel should treat it as
	// the last known status rather than erroring.
	return &OrderResult{OrderID: orderID, Status: StatusFilled}, nil
}

// GetOpenOrders lists all currently-resting orders for the authenticated account.
func (c *Client) GetOpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	if c.dryRun {
		return nil, nil
	}
	headers, err := c.auth.L2Headers("GET", "/orders", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}
	var result []types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// Balance is the account's collateral balance and allowance, in USDC units.
type Balance struct {
	Balance   float64 `json:"balance"`
	Allowance float64 `json:"allowance"`
}

// GetBalance fetches the account's collateral balance and allowance.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	headers, err := c.auth.L2Headers("GET", "/balance", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}
	var result Balance
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/balance")
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get balance: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetPrice fetches the best price for a token on the given side ("buy"/"sell").
func (c *Client) GetPrice(ctx context.Context, tokenID, side string) (float64, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, err
	}
	var result struct {
		Price string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"token_id": tokenID, "side": side}).
		SetResult(&result).
		Get("/price")
	if err != nil {
		return 0, fmt.Errorf("get price: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get price: status %d: %s", resp.StatusCode(), resp.String())
	}
	return parseFloat(result.Price), nil
}

func parseFloat(s string) float64 {
	var f float64
	fmt.Sscanf(s, "%f", &f)
	return f
}
