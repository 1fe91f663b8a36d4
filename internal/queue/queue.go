// Package queue implements the bounded single-producer/single-consumer
// channel of Opportunity values that decouples the synchronous book-tracker
// callback from the async executor.
package queue

import (
	"context"
	"log/slog"
	"time"

	"gabagool-arb/pkg/types"
)

// OpportunityQueue is a bounded channel with drop-newest semantics: when
// full, an incoming push is dropped (the already-queued, still-live
// opportunities are kept) and logged at WARN. Validity is checked at pop
// time, not push time, so backlog is self-cleaning.
type OpportunityQueue struct {
	ch       chan types.Opportunity
	validity time.Duration
	logger   *slog.Logger

	skipped func(reason string) // hook for opportunities_skipped{reason} counter
}

// New creates a queue with the given capacity and validity window.
func New(capacity int, validity time.Duration, logger *slog.Logger) *OpportunityQueue {
	return &OpportunityQueue{
		ch:       make(chan types.Opportunity, capacity),
		validity: validity,
		logger:   logger,
	}
}

// OnSkipped registers a callback invoked whenever an opportunity is
// discarded, with the discard reason: "expired" from Pop, "queue_full"
// from Push.
func (q *OpportunityQueue) OnSkipped(fn func(reason string)) { q.skipped = fn }

// Push enqueues an opportunity, dropping it if the queue is full.
func (q *OpportunityQueue) Push(o types.Opportunity) {
	select {
	case q.ch <- o:
	default:
		q.logger.Warn("opportunity queue full, dropping newest", "market", o.Market.ConditionID)
		q.emitSkipped("queue_full")
	}
}

// Pop waits up to timeout for an opportunity, re-validating it against its
// detection time before returning. An expired opportunity is discarded and
// the next one is popped immediately; the whole drain is bounded by the
// same overall timeout. Returns ok=false if the timeout elapsed or ctx was cancelled with nothing
// valid to return.
func (q *OpportunityQueue) Pop(ctx context.Context, timeout time.Duration) (types.Opportunity, bool) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return types.Opportunity{}, false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.Opportunity{}, false
		case <-timer.C:
			return types.Opportunity{}, false
		case o := <-q.ch:
			timer.Stop()
			if o.IsValid(time.Now(), q.validity) {
				return o, true
			}
			q.logger.Info("discarding expired opportunity", "market", o.Market.ConditionID, "age", time.Since(o.DetectedAt))
			q.emitSkipped("expired")
			// loop: keep draining until something valid or the timeout elapses
		}
	}
}

// Len reports the current queue depth (best-effort, for dashboard display).
func (q *OpportunityQueue) Len() int { return len(q.ch) }

func (q *OpportunityQueue) emitSkipped(reason string) {
	if q.skipped != nil {
		q.skipped(reason)
	}
}
