package server

import (
	"sync"
	"testing"
	"time"
)

func TestAdmission_RejectsOverLimit(t *testing.T) {
	ac := NewAdmissionController(AdmissionConfig{MaxConcurrent: 2})

	if !ac.TryAcquire() || !ac.TryAcquire() {
		t.Fatal("expected the first two requests to be admitted")
	}
	if ac.TryAcquire() {
		t.Fatal("expected third request to be rejected")
	}
	if got := ac.Stats().Rejected; got != 1 {
		t.Errorf("expected 1 rejection, got %d", got)
	}

	ac.Release(true)
	if !ac.TryAcquire() {
		t.Error("expected a request to be admitted after release")
	}
}

func TestAdmission_ConcurrentAcquireNeverExceedsLimit(t *testing.T) {
	ac := NewAdmissionController(AdmissionConfig{MaxConcurrent: 4})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ac.TryAcquire() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 4 {
		t.Errorf("expected exactly 4 admitted, got %d", admitted)
	}
	if ac.Active() != 4 {
		t.Errorf("expected 4 active, got %d", ac.Active())
	}
}

func TestAdmission_BacksOffOnFailures(t *testing.T) {
	ac := NewAdmissionController(AdmissionConfig{
		MaxConcurrent:    16,
		MinConcurrent:    2,
		FailureThreshold: 0.2,
		MinSamples:       5,
		Window:           time.Minute,
	})

	for i := 0; i < 20; i++ {
		if !ac.TryAcquire() {
			break
		}
		ac.Release(false)
	}

	if got := ac.Limit(); got != 2 {
		t.Errorf("expected limit to fall to the minimum 2, got %d", got)
	}
}

func TestAdmission_NoBackoffBelowMinSamples(t *testing.T) {
	ac := NewAdmissionController(AdmissionConfig{MaxConcurrent: 8, MinSamples: 10})

	for i := 0; i < 3; i++ {
		ac.TryAcquire()
		ac.Release(false)
	}
	if got := ac.Limit(); got != 8 {
		t.Errorf("limit should hold until enough samples, got %d", got)
	}
}

func TestAdmission_RecoversAfterWindow(t *testing.T) {
	ac := NewAdmissionController(AdmissionConfig{
		MaxConcurrent: 8,
		MinSamples:    2,
		Window:        50 * time.Millisecond,
	})

	for i := 0; i < 4; i++ {
		ac.TryAcquire()
		ac.Release(false)
	}
	low := ac.Limit()
	if low >= 8 {
		t.Fatalf("expected limit to fall, got %d", low)
	}

	time.Sleep(80 * time.Millisecond)
	for i := 0; i < 10; i++ {
		ac.TryAcquire()
		ac.Release(true)
	}
	if got := ac.Limit(); got != 8 {
		t.Errorf("expected limit to recover to 8, got %d", got)
	}
}

func TestAdmission_Defaults(t *testing.T) {
	ac := NewAdmissionController(AdmissionConfig{})
	if ac.Limit() != 16 {
		t.Errorf("expected default limit 16, got %d", ac.Limit())
	}
	if ac.RetryAfter() != 100*time.Millisecond {
		t.Errorf("expected default retry-after 100ms, got %v", ac.RetryAfter())
	}
}
