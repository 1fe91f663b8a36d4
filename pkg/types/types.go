// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order types, market
// metadata, order book snapshots, and WebSocket event payloads. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"math/big"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: stays on book until filled or cancelled
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. Polymarket supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// UserOrder is the high-level order representation produced by the Sizer/
// Executor. The venue adapter converts it to a SignedOrder for the CLOB API.
type UserOrder struct {
	TokenID    string    // which token to trade (YES or NO asset ID)
	Price      float64   // limit price (0.0 to 1.0 for binary markets)
	Size       float64   // quantity in tokens
	Side       Side      // BUY or SELL
	OrderType  OrderType // GTC
	TickSize   TickSize  // market's price granularity (for amount rounding)
	Expiration int64     // unix timestamp, 0 = no expiry
	FeeRateBps int       // fee rate in basis points
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /orders (batch).
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`              // API key of the order owner
	OrderType OrderType   `json:"orderType"`          // GTC
	PostOnly  bool        `json:"postOnly,omitempty"` // if true, rejects if it would cross
}

// OrderResponse is the REST API response for each order in a batch POST.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`        // "live", "matched", etc.
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// CancelResponse is returned by DELETE /orders, /cancel-all, /cancel-market-orders.
type CancelResponse struct {
	Canceled []string `json:"canceled"` // IDs of successfully cancelled orders
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the Polymarket market
// channel: "book" (full snapshot) and "price_change" (delta).

// WSBookEvent is a full order book snapshot from the market WS channel.
// Replaces the entire local book for the given asset.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`  // book version hash
	Buys      []PriceLevel `json:"buys"`  // bid levels
	Sells     []PriceLevel `json:"sells"` // ask levels
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`    // the price level that changed
	Size    string `json:"size"`     // new size at that level (0 = removed)
	Side    string `json:"side"`     // "BUY" or "SELL"
	Hash    string `json:"hash"`     // updated book hash
	BestBid string `json:"best_bid"` // new best bid after this change
	BestAsk string `json:"best_ask"` // new best ask after this change
}

// WSPriceChangeEvent is an incremental order book update from the market WS.
// Contains one or more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to a WebSocket channel. For user channels, Auth must be provided.
type WSSubscribeMsg struct {
	Auth     *WSAuth  `json:"auth,omitempty"`       // required for user channel
	Type     string   `json:"type"`                 // "market" or "user"
	Markets  []string `json:"markets,omitempty"`    // condition IDs (user channel)
	AssetIDs []string `json:"assets_ids,omitempty"` // token IDs (market channel)
}

// WSAuth contains the L2 API credentials for authenticating the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from channels
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"` // token IDs (market channel)
	Markets   []string `json:"markets,omitempty"`    // condition IDs (user channel)
	Operation string   `json:"operation"`            // "subscribe" or "unsubscribe"
}

// ————————————————————————————————————————————————————————————————————————
// Arbitrage domain model
// ————————————————————————————————————————————————————————————————————————
// The types below are the engine's own vocabulary (as opposed to the
// venue-wire vocabulary above): a short-duration binary market, its live
// book state, a detected spread opportunity, and the durable records that
// track a trade from submission through on-chain settlement.

// Market is a short-duration binary outcome on some underlying asset.
// Created by Discovery when first seen and cached with a short TTL.
type Market struct {
	ConditionID string
	Asset       string
	YesTokenID  string
	NoTokenID   string
	Slug        string
	StartTime   time.Time
	EndTime     time.Time
}

// SecondsRemaining is the time left until market resolution, as of now.
func (m Market) SecondsRemaining(now time.Time) float64 {
	return m.EndTime.Sub(now).Seconds()
}

// IsTradeable reports whether the market is still admissible for new
// trades: more than minSecondsToAdmit seconds remain before resolution.
func (m Market) IsTradeable(now time.Time, minSecondsToAdmit float64) bool {
	return m.SecondsRemaining(now) > minSecondsToAdmit
}

// MarketState is the live view of one market's two order books, mutated
// only by the Book Tracker from WS events. A side with unknown prices uses
// the sentinel ask=1/bid=0 so the derived spread is conservatively
// unprofitable rather than spuriously attractive.
type MarketState struct {
	Market     Market
	YesBestBid float64
	YesBestAsk float64
	NoBestBid  float64
	NoBestAsk  float64
	LastUpdate time.Time
}

// NewMarketState returns a MarketState with the conservative sentinel
// prices (bid 0, ask 1) on both sides, used before any WS event arrives.
func NewMarketState(m Market) MarketState {
	return MarketState{Market: m, YesBestAsk: 1, NoBestAsk: 1}
}

// CombinedCost is the cost of buying one YES share plus one NO share at
// current best asks.
func (s MarketState) CombinedCost() float64 {
	return s.YesBestAsk + s.NoBestAsk
}

// Spread is the risk-free profit per matched pair of shares at current
// best asks: 1 − (yes_ask + no_ask). Positive means an opportunity exists.
func (s MarketState) Spread() float64 {
	return 1 - s.CombinedCost()
}

// SpreadCents is Spread expressed in whole cents, matching the dashboard
// and config surface's cents-denominated thresholds.
func (s MarketState) SpreadCents() float64 {
	return s.Spread() * 100
}

// IsStale reports whether the state has not been updated within maxAge.
func (s MarketState) IsStale(now time.Time, maxAge time.Duration) bool {
	if s.LastUpdate.IsZero() {
		return true
	}
	return now.Sub(s.LastUpdate) > maxAge
}

// Opportunity is a snapshot suggesting a trade is worthwhile, produced by
// the Book Tracker and enqueued for the Executor. It expires after a fixed
// validity window regardless of queue backlog.
type Opportunity struct {
	Market           Market
	YesPrice         float64
	NoPrice          float64
	Spread           float64
	SpreadCents      float64
	ProfitPercentage float64
	DetectedAt       time.Time
}

// IsValid reports whether the opportunity is still within its validity
// window as of now. Validity must be rechecked at pop time, not push time.
func (o Opportunity) IsValid(now time.Time, validity time.Duration) bool {
	return now.Sub(o.DetectedAt) <= validity
}

// ExecutionStatus classifies the outcome of an attempted dual-leg trade.
type ExecutionStatus string

const (
	ExecFullFill    ExecutionStatus = "full_fill"
	ExecPartialFill ExecutionStatus = "partial_fill"
	ExecOneLegOnly  ExecutionStatus = "one_leg_only"
	ExecFailed      ExecutionStatus = "failed"
)

// TradeStatus is the resolution status of a TradeRecord after settlement.
type TradeStatus string

const (
	TradePending TradeStatus = "pending"
	TradeWin     TradeStatus = "win"
	TradeLoss    TradeStatus = "loss"
)

// RebalanceAction records what the Rebalancer did for a partial fill.
type RebalanceAction string

const (
	RebalanceNone          RebalanceAction = ""
	RebalanceHedgeComplete RebalanceAction = "hedge_completed"
	RebalanceFlattened     RebalanceAction = "flattened"
	RebalanceExitFailed    RebalanceAction = "exit_failed"
)

// TradeRecord is the durable record of an attempted or executed dual-leg
// trade. Every submitted real trade produces exactly one TradeRecord,
// whatever its execution status.
type TradeRecord struct {
	TradeID         string
	ConditionID     string
	Asset           string
	MarketSlug      string
	MarketEndTime   time.Time
	YesPriceIntent  float64
	NoPriceIntent   float64
	YesCost         float64
	NoCost          float64
	YesShares       float64
	NoShares        float64
	HedgeRatio      float64
	ExecutionStatus ExecutionStatus
	RebalanceAction RebalanceAction
	YesOrderStatus  string
	NoOrderStatus   string
	ExpectedProfit  float64
	ActualProfit    float64
	Status          TradeStatus
	DryRun          bool
	PreFillYesDepth float64
	PreFillNoDepth  float64
	CreatedAt       time.Time
	ResolvedAt      time.Time
}

// HedgeRatioOf computes min(yes,no)/max(yes,no), 0 when either side is zero.
func HedgeRatioOf(yesShares, noShares float64) float64 {
	if yesShares <= 0 || noShares <= 0 {
		return 0
	}
	if yesShares < noShares {
		return yesShares / noShares
	}
	return noShares / yesShares
}

// Position is a share holding awaiting market resolution and on-chain
// redemption. Created on every non-zero fill, including partial fills.
type Position struct {
	TradeID       string
	ConditionID   string
	TokenID       string
	Side          string // "YES" or "NO"
	Shares        float64
	EntryPrice    float64
	EntryCost     float64
	MarketEndTime time.Time
	Asset         string
	Claimed       bool
	Proceeds      float64
	Profit        float64
	ClaimAttempts int
	LastError     string
}

// DailyCounters is the per-calendar-day (UTC) aggregate of trading
// activity, reset lazily by comparing wall-clock date to LastReset.
type DailyCounters struct {
	Date                 string // YYYY-MM-DD (UTC)
	PnL                  float64
	Trades               int
	Wins                 int
	Losses               int
	Exposure             float64
	OpportunitiesSeen    int
	OpportunitiesSkipped int
	LastReset            time.Time
}

// SlippageStats summarizes, over a lookback window, how far each fill's
// executed price landed from the price the trade intended for that side.
type SlippageStats struct {
	SampleCount      int
	AvgSlippageCents float64
	MaxSlippageCents float64
}

// CircuitBreakerState is the process-wide daily loss breaker. Once Hit
// becomes true it stays true until an operator reset; while Hit, all live
// execution paths simulate instead of submitting.
type CircuitBreakerState struct {
	RealizedPnL float64
	Hit         bool
	HitAt       time.Time
	HitReason   string
}

// BlackoutState is the process-wide boolean flag updated once per minute
// by a dedicated task, read (never written) on the trade-execution path.
type BlackoutState struct {
	InBlackout bool
	Until      time.Time
}

// TradingMode is the process-wide mode the trade-execution path reads,
// in priority order: BLACKOUT > CIRCUIT_BREAKER > DRY_RUN > LIVE.
type TradingMode string

const (
	ModeLive           TradingMode = "LIVE"
	ModeDryRun         TradingMode = "DRY_RUN"
	ModeCircuitBreaker TradingMode = "CIRCUIT_BREAKER"
	ModeBlackout       TradingMode = "BLACKOUT"
)

// IsSimulated reports whether trades in this mode must not hit the venue.
func (m TradingMode) IsSimulated() bool {
	return m != ModeLive
}
