package server

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		sm.RegisterCloser(CloserFunc(func() error {
			order = append(order, i)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if len(order) != 3 || order[0] != 2 || order[1] != 1 || order[2] != 0 {
		t.Errorf("expected LIFO close order, got %v", order)
	}
}

func TestShutdown_RejectsNewRequests(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	if !sm.TrackRequest() {
		t.Fatal("request should be tracked before shutdown")
	}
	sm.UntrackRequest()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if sm.TrackRequest() {
		t.Error("request should be rejected during shutdown")
	}
	select {
	case <-sm.ShutdownCh():
	default:
		t.Error("shutdown channel should be closed")
	}
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: time.Second})
	sm.TrackRequest()

	go func() {
		time.Sleep(30 * time.Millisecond)
		sm.UntrackRequest()
	}()

	start := time.Now()
	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("shutdown returned before in-flight request finished")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 20 * time.Millisecond})
	sm.TrackRequest()

	if err := sm.Shutdown(context.Background(), "test"); err == nil {
		t.Fatal("expected drain timeout error")
	}
}

func TestShutdown_CollectsCloseErrorsAndRunsOnce(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	calls := 0
	sm.RegisterCloser(CloserFunc(func() error {
		calls++
		return fmt.Errorf("boom")
	}))

	err1 := sm.Shutdown(context.Background(), "first")
	err2 := sm.Shutdown(context.Background(), "second")
	if err1 == nil || err1 != err2 {
		t.Errorf("expected the same close error from both calls, got %v and %v", err1, err2)
	}
	if calls != 1 {
		t.Errorf("closer should run once, ran %d times", calls)
	}
}
