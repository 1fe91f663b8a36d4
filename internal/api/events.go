package api

import (
	"time"

	"gabagool-arb/pkg/types"
)

// DashboardEvent is the envelope for every incremental update pushed to
// connected dashboard clients. Type distinguishes the shape of Data.
type DashboardEvent struct {
	Type      string      `json:"type"` // "snapshot", "opportunity", "decision", "trade", "market_update", "circuit_breaker"
	Timestamp time.Time   `json:"timestamp"`
	MarketID  string      `json:"market_id,omitempty"` // condition ID, empty for process-wide events
	Data      interface{} `json:"data"`
}

// DecisionEvent mirrors a risk gate decision for the dashboard's reject
// feed.
type DecisionEvent struct {
	Accept      bool              `json:"accept"`
	Reason      string            `json:"reason"`
	Opportunity types.Opportunity `json:"opportunity"`
}

// TradeEvent mirrors a persisted TradeRecord for the dashboard's fill feed.
type TradeEvent struct {
	TradeID         string                `json:"trade_id"`
	ConditionID     string                `json:"condition_id"`
	Asset           string                `json:"asset"`
	MarketSlug      string                `json:"market_slug"`
	ExecutionStatus types.ExecutionStatus `json:"execution_status"`
	RebalanceAction types.RebalanceAction `json:"rebalance_action"`
	Status          types.TradeStatus     `json:"status"`
	HedgeRatio      float64               `json:"hedge_ratio"`
	ExpectedProfit  float64               `json:"expected_profit"`
	ActualProfit    float64               `json:"actual_profit"`
	DryRun          bool                  `json:"dry_run"`
}

// NewTradeEvent projects a TradeRecord onto the dashboard's trade feed shape.
func NewTradeEvent(t types.TradeRecord) TradeEvent {
	return TradeEvent{
		TradeID:         t.TradeID,
		ConditionID:     t.ConditionID,
		Asset:           t.Asset,
		MarketSlug:      t.MarketSlug,
		ExecutionStatus: t.ExecutionStatus,
		RebalanceAction: t.RebalanceAction,
		Status:          t.Status,
		HedgeRatio:      t.HedgeRatio,
		ExpectedProfit:  t.ExpectedProfit,
		ActualProfit:    t.ActualProfit,
		DryRun:          t.DryRun,
	}
}
