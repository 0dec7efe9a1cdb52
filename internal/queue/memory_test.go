package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/metrics"
)

func mustDequeue(t *testing.T, q Queue) *Delivery {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	return d
}

func TestMemoryFIFOAndAck(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()

	for _, body := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, []byte(body)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	first := mustDequeue(t, q)
	if string(first.Body) != "a" || first.Attempts != 1 {
		t.Fatalf("unexpected first delivery %+v", first)
	}
	if err := q.Ack(ctx, first); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Ack(ctx, first); !errors.Is(err, ErrUnknownLease) {
		t.Fatalf("expected ErrUnknownLease on double ack, got %v", err)
	}

	second := mustDequeue(t, q)
	if string(second.Body) != "b" {
		t.Fatalf("unexpected second delivery %+v", second)
	}
}

func TestMemoryNackRedeliversWithAttempts(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()
	q.Enqueue(ctx, []byte("task"))

	d := mustDequeue(t, q)
	if err := q.Nack(ctx, d); err != nil {
		t.Fatalf("nack: %v", err)
	}

	again := mustDequeue(t, q)
	if again.ID != d.ID || again.Attempts != 2 {
		t.Fatalf("expected redelivery with attempt 2, got %+v", again)
	}
}

func TestMemoryDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemory(time.Minute)

	got := make(chan *Delivery, 1)
	go func() {
		d, err := q.Dequeue(context.Background())
		if err == nil {
			got <- d
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	q.Enqueue(context.Background(), []byte("late"))

	select {
	case d := <-got:
		if string(d.Body) != "late" {
			t.Fatalf("unexpected body %q", d.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue was not woken up")
	}
}

func TestMemoryDequeueHonoursContext(t *testing.T) {
	q := NewMemory(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryRequeueExpired(t *testing.T) {
	q := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	q.Enqueue(ctx, []byte("slow"))
	d := mustDequeue(t, q)

	if moved, _ := q.RequeueExpired(ctx); moved != 0 {
		t.Fatalf("lease is still valid, moved %d", moved)
	}

	now = now.Add(2 * time.Minute)
	if moved, _ := q.RequeueExpired(ctx); moved != 1 {
		t.Fatalf("expected one expired lease, moved %d", moved)
	}

	// the original worker lost its lease
	if err := q.Ack(ctx, d); !errors.Is(err, ErrUnknownLease) {
		t.Fatalf("expected ErrUnknownLease, got %v", err)
	}

	again := mustDequeue(t, q)
	if again.Attempts != 2 {
		t.Fatalf("expected attempt 2, got %d", again.Attempts)
	}
}

func TestMemoryClose(t *testing.T) {
	q := NewMemory(time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked dequeue was not released by Close")
	}

	if err := q.Enqueue(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if moved, err := q.RequeueExpired(context.Background()); moved != 0 || err != nil {
		t.Fatalf("unexpected requeue after close: %d, %v", moved, err)
	}
}

func TestMemoryRejectsEmptyBody(t *testing.T) {
	if err := NewMemory(0).Enqueue(context.Background(), nil); !errors.Is(err, ErrEmptyEnvelope) {
		t.Fatalf("expected ErrEmptyEnvelope, got %v", err)
	}
}

func TestReaperRequeuesAndCounts(t *testing.T) {
	q := NewMemory(time.Minute)
	now := time.Now()
	q.now = func() time.Time { return now }
	ctx := context.Background()

	q.Enqueue(ctx, []byte("a"))
	q.Enqueue(ctx, []byte("b"))
	mustDequeue(t, q)
	mustDequeue(t, q)

	m := metrics.New()
	r := NewReaper(q, "", zap.NewNop(), m)

	now = now.Add(time.Hour)
	if moved := r.Reap(ctx); moved != 2 {
		t.Fatalf("expected 2 requeued deliveries, got %d", moved)
	}
	if pending, leased := q.Len(); pending != 2 || leased != 0 {
		t.Fatalf("unexpected queue state pending=%d leased=%d", pending, leased)
	}

	expected := `
# HELP job_matcher_queue_requeued_total Deliveries returned to the queue after their lease expired
# TYPE job_matcher_queue_requeued_total counter
job_matcher_queue_requeued_total 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "job_matcher_queue_requeued_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestReaperRejectsInvalidSchedule(t *testing.T) {
	r := NewReaper(NewMemory(0), "not a schedule", zap.NewNop(), nil)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected invalid schedule to fail")
	}
}
