package book

import (
	"io"
	"log/slog"
	"testing"

	"gabagool-arb/pkg/types"
)

func newTestTracker(minSpreadCents float64) *Tracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(minSpreadCents, logger)
}

func testMarket() types.Market {
	return types.Market{ConditionID: "0xcond", YesTokenID: "yes-tok", NoTokenID: "no-tok"}
}

func TestApplyBookUpdatesStateAndRoutesBySide(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(0)
	tr.Track(testMarket())

	tr.ApplyBook("yes-tok", nil, []types.PriceLevel{{Price: "0.48", Size: "100"}})
	tr.ApplyBook("no-tok", nil, []types.PriceLevel{{Price: "0.49", Size: "100"}})

	state, ok := tr.State("0xcond")
	if !ok {
		t.Fatal("expected tracked state")
	}
	if state.YesBestAsk != 0.48 || state.NoBestAsk != 0.49 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestApplyBookEmptyAsksIsConservativeSentinel(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(0)
	tr.Track(testMarket())

	tr.ApplyBook("yes-tok", nil, nil)
	state, _ := tr.State("0xcond")
	if state.YesBestAsk != 1 {
		t.Fatalf("expected sentinel ask of 1 for an empty book, got %v", state.YesBestAsk)
	}
}

func TestOnOpportunityFiresAboveThreshold(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(2) // 2 cent minimum spread
	tr.Track(testMarket())

	var opps []types.Opportunity
	tr.OnOpportunity(func(o types.Opportunity) { opps = append(opps, o) })

	tr.ApplyBook("yes-tok", nil, []types.PriceLevel{{Price: "0.47", Size: "100"}})
	tr.ApplyBook("no-tok", nil, []types.PriceLevel{{Price: "0.49", Size: "100"}})

	if len(opps) != 1 {
		t.Fatalf("expected one opportunity (0.96 combined, 4c spread), got %d", len(opps))
	}
	if opps[0].YesPrice != 0.47 || opps[0].NoPrice != 0.49 {
		t.Fatalf("unexpected opportunity prices: %+v", opps[0])
	}
}

func TestOnOpportunityDoesNotFireBelowThreshold(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(5) // 5 cent minimum spread
	tr.Track(testMarket())

	var fired bool
	tr.OnOpportunity(func(types.Opportunity) { fired = true })

	tr.ApplyBook("yes-tok", nil, []types.PriceLevel{{Price: "0.49", Size: "100"}})
	tr.ApplyBook("no-tok", nil, []types.PriceLevel{{Price: "0.49", Size: "100"}}) // 2c spread

	if fired {
		t.Fatal("expected no opportunity below the configured threshold")
	}
}

func TestApplyPriceChangeUnknownTokenIsIgnored(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(0)
	tr.Track(testMarket())
	tr.ApplyPriceChange("unknown-tok", 0.5, 0.5) // must not panic or create state
	if _, ok := tr.State("unknown"); ok {
		t.Fatal("expected no state created for an unknown condition")
	}
}

func TestUntrackRemovesStateAndIndex(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(0)
	tr.Track(testMarket())
	tr.Untrack("0xcond")

	if _, ok := tr.State("0xcond"); ok {
		t.Fatal("expected state removed after Untrack")
	}
	// A subsequent book event for the untracked market's token must not
	// resurrect it via the reverse index.
	tr.ApplyBook("yes-tok", nil, []types.PriceLevel{{Price: "0.5", Size: "1"}})
	if _, ok := tr.State("0xcond"); ok {
		t.Fatal("expected untracked market to stay untracked")
	}
}
