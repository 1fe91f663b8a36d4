package position

import (
	"testing"

	"gabagool-arb/pkg/types"
)

func TestAddAndOpenExcludesClaimed(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(types.Position{TradeID: "t1", TokenID: "yes-tok", Side: "YES", Shares: 100, EntryCost: 48, ConditionID: "0xcond"})
	r.Add(types.Position{TradeID: "t1", TokenID: "no-tok", Side: "NO", Shares: 100, EntryCost: 49, ConditionID: "0xcond"})

	open := r.Open()
	if len(open) != 2 {
		t.Fatalf("expected 2 open positions, got %d", len(open))
	}

	r.MarkClaimed("t1", "yes-tok", 100, 52)
	open = r.Open()
	if len(open) != 1 {
		t.Fatalf("expected 1 open position after claiming one side, got %d", len(open))
	}
	if open[0].TokenID != "no-tok" {
		t.Fatalf("expected remaining open position to be no-tok, got %s", open[0].TokenID)
	}
}

func TestMarkClaimedUnknownKeyIsNoop(t *testing.T) {
	t.Parallel()
	r := New()
	r.MarkClaimed("missing", "missing", 100, 0) // must not panic
	if len(r.Open()) != 0 {
		t.Fatalf("expected empty registry, got %d entries", len(r.Open()))
	}
}

func TestRemoveDropsPosition(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(types.Position{TradeID: "t1", TokenID: "yes-tok", ConditionID: "0xcond", EntryCost: 48})
	r.Remove("t1", "yes-tok")
	if len(r.Open()) != 0 {
		t.Fatalf("expected position removed, got %d entries", len(r.Open()))
	}
}

func TestExposureForConditionSumsOnlyOpenPositions(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(types.Position{TradeID: "t1", TokenID: "yes-tok", ConditionID: "0xcond", EntryCost: 48})
	r.Add(types.Position{TradeID: "t1", TokenID: "no-tok", ConditionID: "0xcond", EntryCost: 49})
	r.Add(types.Position{TradeID: "t2", TokenID: "yes-tok-2", ConditionID: "0xother", EntryCost: 10})

	if got := r.ExposureForCondition("0xcond"); got != 97 {
		t.Fatalf("ExposureForCondition(0xcond) = %v, want 97", got)
	}

	r.MarkClaimed("t1", "yes-tok", 100, 52)
	if got := r.ExposureForCondition("0xcond"); got != 49 {
		t.Fatalf("after claiming one side, ExposureForCondition(0xcond) = %v, want 49", got)
	}
}

func TestLoadSeedsFromStore(t *testing.T) {
	t.Parallel()
	r := New()
	r.Load([]types.Position{
		{TradeID: "t1", TokenID: "yes-tok", ConditionID: "0xcond", EntryCost: 48},
		{TradeID: "t1", TokenID: "no-tok", ConditionID: "0xcond", EntryCost: 49},
	})
	if len(r.Open()) != 2 {
		t.Fatalf("expected 2 positions seeded from Load, got %d", len(r.Open()))
	}
}
