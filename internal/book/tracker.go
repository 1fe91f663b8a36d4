// Package book maintains a live per-market order-book state from WebSocket
// depth events and synthesizes spread opportunities, grounded on the
// teacher's internal/market.Book and on original_source's
// monitoring/order_book.py (OrderBookTracker, MultiMarketTracker).
package book

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"gabagool-arb/pkg/types"
)

// StateObserver is invoked on every MarketState mutation, rate-limited to
// at most maxObserverHz emits per second per market.
type StateObserver func(types.MarketState)

// OpportunityObserver is invoked whenever a mutation produces a spread at
// or above the configured threshold.
type OpportunityObserver func(types.Opportunity)

const maxObserverHz = 2

// Tracker holds MarketState for every tracked market plus reverse indexes
// from token id to condition id and side, so a WS event keyed only by
// asset_id can be routed to the right market and side.
type Tracker struct {
	mu               sync.RWMutex
	states           map[string]types.MarketState // condition_id -> state
	tokenToCondition map[string]string            // token_id -> condition_id
	tokenToSide      map[string]string            // token_id -> "YES"/"NO"

	minSpreadCents float64
	logger         *slog.Logger

	onState       StateObserver
	onOpportunity OpportunityObserver

	lastEmit map[string]time.Time // condition_id -> last observer emit
}

// NewTracker creates an empty Tracker. minSpreadCents is the threshold at
// or above which a mutation synthesizes an Opportunity.
func NewTracker(minSpreadCents float64, logger *slog.Logger) *Tracker {
	return &Tracker{
		states:           make(map[string]types.MarketState),
		tokenToCondition: make(map[string]string),
		tokenToSide:      make(map[string]string),
		lastEmit:         make(map[string]time.Time),
		minSpreadCents:   minSpreadCents,
		logger:           logger,
	}
}

// OnStateChange registers the observer invoked on every mutation.
func (t *Tracker) OnStateChange(fn StateObserver) { t.onState = fn }

// OnOpportunity registers the observer invoked when a spread opportunity is detected.
func (t *Tracker) OnOpportunity(fn OpportunityObserver) { t.onOpportunity = fn }

// Track begins tracking a market, registering its token ids in the reverse index.
func (t *Tracker) Track(m types.Market) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.states[m.ConditionID]; !exists {
		t.states[m.ConditionID] = types.NewMarketState(m)
	}
	t.tokenToCondition[m.YesTokenID] = m.ConditionID
	t.tokenToSide[m.YesTokenID] = "YES"
	t.tokenToCondition[m.NoTokenID] = m.ConditionID
	t.tokenToSide[m.NoTokenID] = "NO"
}

// Untrack removes a market and its token index entries.
func (t *Tracker) Untrack(conditionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[conditionID]
	if !ok {
		return
	}
	delete(t.tokenToCondition, state.Market.YesTokenID)
	delete(t.tokenToSide, state.Market.YesTokenID)
	delete(t.tokenToCondition, state.Market.NoTokenID)
	delete(t.tokenToSide, state.Market.NoTokenID)
	delete(t.states, conditionID)
	delete(t.lastEmit, conditionID)
}

// State returns a copy of the current MarketState for a market, if tracked.
func (t *Tracker) State(conditionID string) (types.MarketState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[conditionID]
	return s, ok
}

// resolveToken maps a WS asset_id to (condition_id, side), tolerating the
// venue returning a full id while discovery cached a truncated prefix (or
// vice versa): on an exact-match miss, it falls back to a prefix scan and
// memoizes the result so future events hit the fast path.
func (t *Tracker) resolveToken(assetID string) (conditionID, side string, ok bool) {
	if cid, found := t.tokenToCondition[assetID]; found {
		return cid, t.tokenToSide[assetID], true
	}
	for known, cid := range t.tokenToCondition {
		if strings.HasPrefix(known, assetID) || strings.HasPrefix(assetID, known) {
			t.tokenToCondition[assetID] = cid
			t.tokenToSide[assetID] = t.tokenToSide[known]
			return cid, t.tokenToSide[known], true
		}
	}
	return "", "", false
}

// ApplyBook applies a full depth snapshot: best bid/ask are derived from the
// level arrays and the relevant side of the MarketState is replaced.
func (t *Tracker) ApplyBook(assetID string, bids, asks []types.PriceLevel) {
	t.mu.Lock()
	conditionID, side, ok := t.resolveToken(assetID)
	if !ok {
		t.mu.Unlock()
		return
	}
	state := t.states[conditionID]
	bid, ask := topOfBook(bids, asks)
	applySide(&state, side, bid, ask)
	state.LastUpdate = time.Now()
	t.states[conditionID] = state
	t.mu.Unlock()

	t.notify(state)
}

// ApplyPriceChange applies an incremental update: only the top-of-book pair changes.
func (t *Tracker) ApplyPriceChange(assetID string, bestBid, bestAsk float64) {
	t.mu.Lock()
	conditionID, side, ok := t.resolveToken(assetID)
	if !ok {
		t.mu.Unlock()
		return
	}
	state := t.states[conditionID]
	applySide(&state, side, bestBid, bestAsk)
	state.LastUpdate = time.Now()
	t.states[conditionID] = state
	t.mu.Unlock()

	t.notify(state)
}

func applySide(state *types.MarketState, side string, bid, ask float64) {
	if side == "YES" {
		state.YesBestBid, state.YesBestAsk = bid, ask
	} else {
		state.NoBestBid, state.NoBestAsk = bid, ask
	}
}

func topOfBook(bids, asks []types.PriceLevel) (bid, ask float64) {
	if len(bids) > 0 {
		bid = parsePrice(bids[0].Price)
	}
	if len(asks) > 0 {
		ask = parsePrice(asks[0].Price)
	} else {
		ask = 1 // sentinel: unknown ask is conservatively unprofitable
	}
	return bid, ask
}

// notify fires the rate-limited state observer and, when the spread clears
// the configured threshold, synthesizes and emits an Opportunity.
func (t *Tracker) notify(state types.MarketState) {
	t.mu.Lock()
	last, seen := t.lastEmit[state.Market.ConditionID]
	emit := !seen || time.Since(last) >= time.Second/maxObserverHz
	if emit {
		t.lastEmit[state.Market.ConditionID] = time.Now()
	}
	t.mu.Unlock()

	if emit && t.onState != nil {
		t.onState(state)
	}

	spreadCents := state.SpreadCents()
	if spreadCents < t.minSpreadCents {
		return
	}
	if state.YesBestAsk <= 0 || state.NoBestAsk <= 0 {
		return
	}
	if t.onOpportunity == nil {
		return
	}
	combined := state.CombinedCost()
	opp := types.Opportunity{
		Market:           state.Market,
		YesPrice:         state.YesBestAsk,
		NoPrice:          state.NoBestAsk,
		Spread:           1 - combined,
		SpreadCents:      spreadCents,
		ProfitPercentage: (1 - combined) / combined * 100,
		DetectedAt:       time.Now(),
	}
	t.onOpportunity(opp)
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
