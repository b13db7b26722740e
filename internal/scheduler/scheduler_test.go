package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a schedule", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func TestValidate(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "@every 10m", "@hourly"} {
		if err := Validate(expr); err != nil {
			t.Errorf("Validate(%q) = %v", expr, err)
		}
	}
	if err := Validate("* * *"); err == nil {
		t.Error("expected error for short expression")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, "@every 1s", func(context.Context) { ticks.Add(1) })
	}()

	time.Sleep(1500 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if ticks.Load() < 1 {
		t.Error("expected at least one tick")
	}
}
