package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"gabagool-arb/pkg/types"
)

func newTestQueue(capacity int, validity time.Duration) *OpportunityQueue {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(capacity, validity, logger)
}

func oppAt(t time.Time) types.Opportunity {
	return types.Opportunity{Market: types.Market{ConditionID: "0xcond"}, DetectedAt: t}
}

func TestPushPopRoundTrip(t *testing.T) {
	t.Parallel()
	q := newTestQueue(4, time.Minute)
	q.Push(oppAt(time.Now()))

	o, ok := q.Pop(context.Background(), time.Second)
	if !ok {
		t.Fatal("expected an opportunity, got none")
	}
	if o.Market.ConditionID != "0xcond" {
		t.Fatalf("unexpected opportunity: %+v", o)
	}
}

func TestPopTimesOutWhenEmpty(t *testing.T) {
	t.Parallel()
	q := newTestQueue(4, time.Minute)
	_, ok := q.Pop(context.Background(), 20*time.Millisecond)
	if ok {
		t.Fatal("expected timeout, got a result")
	}
}

func TestPopDiscardsExpiredAndContinuesDraining(t *testing.T) {
	t.Parallel()
	q := newTestQueue(4, 10*time.Millisecond)

	var skipped []string
	q.OnSkipped(func(reason string) { skipped = append(skipped, reason) })

	q.Push(oppAt(time.Now().Add(-time.Hour))) // already expired
	q.Push(oppAt(time.Now()))                 // fresh

	o, ok := q.Pop(context.Background(), time.Second)
	if !ok {
		t.Fatal("expected the fresh opportunity to survive, got none")
	}
	if o.Market.ConditionID != "0xcond" {
		t.Fatalf("unexpected opportunity: %+v", o)
	}
	if len(skipped) != 1 || skipped[0] != "expired" {
		t.Fatalf("expected one expired skip reason, got %v", skipped)
	}
}

func TestPushDropsNewestWhenFull(t *testing.T) {
	t.Parallel()
	q := newTestQueue(1, time.Minute)

	var skipped []string
	q.OnSkipped(func(reason string) { skipped = append(skipped, reason) })

	first := oppAt(time.Now())
	q.Push(first)
	q.Push(oppAt(time.Now())) // dropped: queue already full

	if q.Len() != 1 {
		t.Fatalf("expected queue depth 1, got %d", q.Len())
	}
	if len(skipped) != 1 || skipped[0] != "queue_full" {
		t.Fatalf("expected one queue_full skip reason, got %v", skipped)
	}
}

func TestPopRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	q := newTestQueue(4, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx, time.Second)
	if ok {
		t.Fatal("expected cancellation to short-circuit Pop, got a result")
	}
}
