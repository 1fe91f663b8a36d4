// Package discovery finds currently-tradeable 15-minute binary markets via
// periodic Gamma API polling, with a short-lived cache and per-asset
// failure isolation: one asset's fetch failure never blocks the others,
// and a total refresh failure serves the stale cache rather than erroring.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"gabagool-arb/internal/config"
	"gabagool-arb/internal/store"
	"gabagool-arb/pkg/types"
)

// gammaMarket is the subset of the Gamma API's market JSON shape this
// package needs to derive a types.Market.
type gammaMarket struct {
	ConditionID     string `json:"conditionId"`
	Question        string `json:"question"`
	Slug            string `json:"slug"`
	Active          bool   `json:"active"`
	Closed          bool   `json:"closed"`
	AcceptingOrders bool   `json:"acceptingOrders"`
	EnableOrderBook bool   `json:"enableOrderBook"`
	EndDate         string `json:"endDate"`
	ClobTokenIds    string `json:"clobTokenIds"`
}

// timePattern matches a 15-minute market question like
// "December 7, 3:00AM-3:15AM ET".
var timePattern = regexp.MustCompile(`(?i)(\w+ \d+),?\s*(\d{1,2}:\d{2}(?:AM|PM))-(\d{1,2}:\d{2}(?:AM|PM))\s*ET`)

// Discovery polls the Gamma API per configured asset and caches the result
// for cacheTTL, returning only the currently-tradeable subset to callers.
type Discovery struct {
	http   *resty.Client
	cfg    config.DiscoveryConfig
	store  *store.Store
	logger *slog.Logger

	mu          sync.Mutex
	cache       map[string]types.Market // condition_id -> market
	lastRefresh time.Time
}

// New creates a Discovery backed by the Gamma API at baseURL.
func New(baseURL string, cfg config.DiscoveryConfig, st *store.Store, logger *slog.Logger) *Discovery {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Discovery{
		http:   client,
		cfg:    cfg,
		store:  st,
		logger: logger.With("component", "discovery"),
		cache:  make(map[string]types.Market),
	}
}

// FindActiveMarkets returns the currently-tradeable subset for the
// configured asset list, refreshing the cache if its TTL has elapsed. A
// total refresh failure falls back to the stale cache rather than returning an error to the caller.
func (d *Discovery) FindActiveMarkets(ctx context.Context, assets []string) []types.Market {
	d.mu.Lock()
	fresh := !d.lastRefresh.IsZero() && time.Since(d.lastRefresh) < d.cfg.CacheTTL
	d.mu.Unlock()
	if fresh {
		return d.tradeableFromCache()
	}

	var all []types.Market
	anySucceeded := false
	for _, asset := range assets {
		markets, err := d.findForAsset(ctx, asset)
		if err != nil {
			d.logger.Error("discovery fetch failed for asset", "asset", asset, "error", err)
			continue
		}
		anySucceeded = true
		all = append(all, markets...)
	}

	if !anySucceeded {
		d.logger.Warn("discovery refresh failed for all assets, serving stale cache")
		return d.tradeableFromCache()
	}

	d.mu.Lock()
	d.cache = make(map[string]types.Market, len(all))
	for _, m := range all {
		d.cache[m.ConditionID] = m
	}
	d.lastRefresh = time.Now()
	d.mu.Unlock()

	for _, m := range all {
		if err := d.store.UpsertMarket(ctx, m); err != nil {
			d.logger.Debug("failed to persist discovered market", "condition_id", m.ConditionID, "error", err)
		}
	}

	d.logger.Info("refreshed market cache", "total", len(all))
	return d.tradeableFromCache()
}

func (d *Discovery) tradeableFromCache() []types.Market {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	out := make([]types.Market, 0, len(d.cache))
	for _, m := range d.cache {
		if m.IsTradeable(now, float64(d.cfg.MinSecondsToAdmit)) {
			out = append(out, m)
		}
	}
	return out
}

func (d *Discovery) findForAsset(ctx context.Context, asset string) ([]types.Market, error) {
	var raw []gammaMarket
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"active":    "true",
			"closed":    "false",
			"limit":     "100",
			"tag":       asset,
			"order":     "endDate",
			"ascending": "true",
		}).
		SetResult(&raw).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch %s markets: %w", asset, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch %s markets: status %d", asset, resp.StatusCode())
	}

	maxEnd := time.Now().AddDate(0, 0, d.cfg.MaxEndDateDays)
	excluded := make(map[string]bool, len(d.cfg.ExcludeSlugs))
	for _, s := range d.cfg.ExcludeSlugs {
		excluded[strings.ToLower(strings.TrimSpace(s))] = true
	}

	var out []types.Market
	for _, gm := range raw {
		if !gm.Active || gm.Closed || !gm.AcceptingOrders || !gm.EnableOrderBook {
			continue
		}
		if excluded[strings.ToLower(gm.Slug)] {
			continue
		}
		m, ok := d.parseMarket(gm, asset)
		if !ok {
			continue
		}
		if m.EndTime.After(maxEnd) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// parseMarket converts a gammaMarket into a types.Market, keeping only
// two-outcome markets with distinct YES/NO token ids.
func (d *Discovery) parseMarket(gm gammaMarket, asset string) (types.Market, bool) {
	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil {
			return types.Market{}, false
		}
	}
	if len(tokenIDs) != 2 || tokenIDs[0] == "" || tokenIDs[1] == "" || tokenIDs[0] == tokenIDs[1] {
		return types.Market{}, false
	}

	startTime, endTime, ok := parseTimes(gm.EndDate, gm.Question)
	if !ok {
		return types.Market{}, false
	}

	return types.Market{
		ConditionID: gm.ConditionID,
		Asset:       asset,
		YesTokenID:  tokenIDs[0],
		NoTokenID:   tokenIDs[1],
		Slug:        gm.Slug,
		StartTime:   startTime,
		EndTime:     endTime,
	}, true
}

// parseTimes derives (start, end) from either a Unix/RFC3339 endDate field
// or, failing that, the "Month D, HH:MMam-HH:MMam ET" question string.
// Time zone is converted to UTC; an end time that falls before the parsed
// start time in wall-clock terms is assumed to wrap past midnight.
func parseTimes(endDate, question string) (start, end time.Time, ok bool) {
	if endDate != "" {
		if ts, err := strconv.ParseInt(endDate, 10, 64); err == nil {
			end = time.Unix(ts, 0).UTC()
			return end.Add(-15 * time.Minute), end, true
		}
		if t, err := time.Parse(time.RFC3339, endDate); err == nil {
			end = t.UTC()
			return end.Add(-15 * time.Minute), end, true
		}
	}
	return parseTimesFromQuestion(question)
}

// etOffset is the fixed UTC offset this engine assumes for "ET" timestamps
// embedded in question strings. Grounded on the Python original's same
// simplification (market_finder.py comments it does not handle DST).
const etOffset = 5 * time.Hour

func parseTimesFromQuestion(question string) (start, end time.Time, ok bool) {
	m := timePattern.FindStringSubmatch(question)
	if m == nil {
		return time.Time{}, time.Time{}, false
	}
	year := time.Now().UTC().Year()
	datePart, startStr, endStr := m[1], m[2], m[3]

	date, err := time.Parse("January 2 2006", fmt.Sprintf("%s %d", datePart, year))
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	startOfDay, err := time.Parse("3:04PM", strings.ToUpper(startStr))
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	endOfDay, err := time.Parse("3:04PM", strings.ToUpper(endStr))
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	start = time.Date(date.Year(), date.Month(), date.Day(), startOfDay.Hour(), startOfDay.Minute(), 0, 0, time.UTC)
	end = time.Date(date.Year(), date.Month(), date.Day(), endOfDay.Hour(), endOfDay.Minute(), 0, 0, time.UTC)
	if end.Before(start) {
		end = end.Add(24 * time.Hour)
	}
	start = start.Add(etOffset)
	end = end.Add(etOffset)
	return start, end, true
}
