package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_InvalidCronExpr(t *testing.T) {
	if _, err := New("not a cron expr", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestScheduler_RunsAndStops(t *testing.T) {
	var calls atomic.Int32
	s, err := New("* * * * * *", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	time.Sleep(1500 * time.Millisecond)
	s.Stop()

	if calls.Load() == 0 {
		t.Fatal("expected at least one ingest run to have fired")
	}
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	s, err := New("* * * * * *", func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	time.Sleep(2500 * time.Millisecond) // several ticks while the first run blocks
	close(release)
	s.Stop()

	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want exactly 1 (overlapping ticks should be skipped)", calls.Load())
	}
}
