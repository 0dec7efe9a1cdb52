package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFanPreservesOrderAndIsolatesErrors(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}
	boom := errors.New("boom")

	outcomes := Fan(context.Background(), 3, items, func(_ context.Context, n int) (int, error) {
		if n == 4 {
			return 0, boom
		}
		return n * n, nil
	})

	if len(outcomes) != len(items) {
		t.Fatalf("expected %d outcomes, got %d", len(items), len(outcomes))
	}
	for i, n := range items {
		if n == 4 {
			if !errors.Is(outcomes[i].Err, boom) {
				t.Fatalf("expected error for item 4, got %v", outcomes[i].Err)
			}
			continue
		}
		if outcomes[i].Err != nil || outcomes[i].Value != n*n {
			t.Fatalf("unexpected outcome for %d: %+v", n, outcomes[i])
		}
	}
}

func TestFanRespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32

	Fan(context.Background(), 2, make([]struct{}, 8), func(_ context.Context, _ struct{}) (struct{}, error) {
		current := inFlight.Add(1)
		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})

	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", got)
	}
}

func TestFanSkipsWorkAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	outcomes := Fan(ctx, 2, []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	})

	if calls.Load() != 0 {
		t.Fatalf("expected no calls after cancel, got %d", calls.Load())
	}
	for _, o := range outcomes {
		if !errors.Is(o.Err, context.Canceled) {
			t.Fatalf("expected canceled outcome, got %+v", o)
		}
	}
}
