package changefeed

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQuarantineHoldsThroughWindow(t *testing.T) {
	q := NewMemoryQuarantine(50*time.Millisecond, time.Minute)
	ctx := context.Background()

	if ok, _ := q.Acquire(ctx, "doc"); !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	if ok, _ := q.Acquire(ctx, "doc"); ok {
		t.Fatalf("expected overlapping acquire to fail")
	}
	if ok, _ := q.Acquire(ctx, "other"); !ok {
		t.Fatalf("expected a different id to be independent")
	}

	q.Release(ctx, "doc")
	if ok, _ := q.Acquire(ctx, "doc"); ok {
		t.Fatalf("expected id to stay held during the cooldown window")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if ok, _ := q.Acquire(ctx, "doc"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("id was never released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMemoryQuarantineReapsStuckEntries(t *testing.T) {
	q := NewMemoryQuarantine(time.Second, time.Minute)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	_, _ = q.Acquire(context.Background(), "stuck")
	now = now.Add(30 * time.Second)
	if n := q.Reap(); n != 0 {
		t.Fatalf("expected nothing reaped before maxHold, got %d", n)
	}
	now = now.Add(time.Minute)
	if n := q.Reap(); n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty quarantine")
	}
}

func TestMemoryQuarantineShedsCoolingEntriesWhenFull(t *testing.T) {
	q := NewMemoryQuarantine(time.Hour, 2*time.Hour)
	q.maxEntries = 2
	ctx := context.Background()

	_, _ = q.Acquire(ctx, "a")
	_, _ = q.Acquire(ctx, "b")
	q.Release(ctx, "a")

	if ok, _ := q.Acquire(ctx, "c"); !ok {
		t.Fatalf("expected acquire to succeed when full")
	}
	if ok, _ := q.Acquire(ctx, "b"); ok {
		t.Fatalf("expected in-flight id to survive shedding")
	}
	if ok, _ := q.Acquire(ctx, "a"); !ok {
		t.Fatalf("expected cooling id to be shed")
	}
}
