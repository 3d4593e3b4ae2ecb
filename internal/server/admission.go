package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// AdmissionConfig configures node-side admission control for bulk writes.
type AdmissionConfig struct {
	// MaxConcurrent is the upper bound of concurrently served bulk writes (default: 16).
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// MinConcurrent is the lower bound the limit never drops under (default: 1).
	MinConcurrent int `json:"min_concurrent" yaml:"min_concurrent"`

	// FailureThreshold is the request failure rate above which the limit is halved (default: 0.2).
	FailureThreshold float64 `json:"failure_threshold" yaml:"failure_threshold"`

	// MinSamples is the number of requests in the window required before the
	// limit is lowered (default: 10).
	MinSamples int `json:"min_samples" yaml:"min_samples"`

	// Window is the sliding window for tracking failures (default: 30s).
	Window time.Duration `json:"window" yaml:"window"`

	// RetryAfter is the delay hint returned to rejected clients (default: 100ms).
	RetryAfter time.Duration `json:"retry_after" yaml:"retry_after"`
}

// DefaultAdmissionConfig returns default admission settings.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		MaxConcurrent:    16,
		MinConcurrent:    1,
		FailureThreshold: 0.2,
		MinSamples:       10,
		Window:           30 * time.Second,
		RetryAfter:       100 * time.Millisecond,
	}
}

func (c AdmissionConfig) withDefaults() AdmissionConfig {
	d := DefaultAdmissionConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MinConcurrent <= 0 {
		c.MinConcurrent = d.MinConcurrent
	}
	if c.MinConcurrent > c.MaxConcurrent {
		c.MinConcurrent = c.MaxConcurrent
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = d.RetryAfter
	}
	return c
}

// AdmissionController limits concurrently served bulk writes. Requests over
// the limit are rejected immediately so clients back off and retry.
//
// The limit adapts to the recent failure rate of served requests: above the
// threshold it is halved, below half the threshold it grows by one.
type AdmissionController struct {
	cfg AdmissionConfig

	limit    atomic.Int32
	active   atomic.Int32
	rejected atomic.Int64

	mu       sync.Mutex
	attempts []attemptRecord
}

type attemptRecord struct {
	at      time.Time
	success bool
}

// NewAdmissionController creates a controller starting at MaxConcurrent.
func NewAdmissionController(cfg AdmissionConfig) *AdmissionController {
	cfg = cfg.withDefaults()
	ac := &AdmissionController{cfg: cfg}
	ac.limit.Store(int32(cfg.MaxConcurrent))
	return ac
}

// TryAcquire admits one request if the node is under its limit. Every
// successful TryAcquire must be paired with Release.
func (ac *AdmissionController) TryAcquire() bool {
	for {
		cur := ac.active.Load()
		if cur >= ac.limit.Load() {
			ac.rejected.Add(1)
			return false
		}
		if ac.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release ends an admitted request and records whether it succeeded.
func (ac *AdmissionController) Release(success bool) {
	ac.active.Add(-1)

	ac.mu.Lock()
	ac.attempts = append(ac.attempts, attemptRecord{at: time.Now(), success: success})
	rate, samples := ac.failureRateLocked()
	ac.mu.Unlock()

	ac.adjust(rate, samples)
}

// RetryAfter returns the delay hint for rejected requests.
func (ac *AdmissionController) RetryAfter() time.Duration {
	return ac.cfg.RetryAfter
}

// Limit returns the current concurrency limit.
func (ac *AdmissionController) Limit() int {
	return int(ac.limit.Load())
}

// Active returns the number of admitted requests.
func (ac *AdmissionController) Active() int {
	return int(ac.active.Load())
}

func (ac *AdmissionController) adjust(rate float64, samples int) {
	cur := ac.limit.Load()
	switch {
	case samples >= ac.cfg.MinSamples && rate > ac.cfg.FailureThreshold:
		next := cur / 2
		if next < int32(ac.cfg.MinConcurrent) {
			next = int32(ac.cfg.MinConcurrent)
		}
		ac.limit.CompareAndSwap(cur, next)
	case rate < ac.cfg.FailureThreshold/2 && cur < int32(ac.cfg.MaxConcurrent):
		ac.limit.CompareAndSwap(cur, cur+1)
	}
}

// failureRateLocked prunes the window and returns the failure rate and
// sample count. Caller must hold ac.mu.
func (ac *AdmissionController) failureRateLocked() (float64, int) {
	cutoff := time.Now().Add(-ac.cfg.Window)
	i := 0
	for i < len(ac.attempts) && ac.attempts[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		ac.attempts = ac.attempts[i:]
	}

	if len(ac.attempts) == 0 {
		return 0, 0
	}
	failures := 0
	for _, a := range ac.attempts {
		if !a.success {
			failures++
		}
	}
	return float64(failures) / float64(len(ac.attempts)), len(ac.attempts)
}

// AdmissionStats is a snapshot of the controller's state.
type AdmissionStats struct {
	Limit            int
	Active           int
	Rejected         int64
	FailureRate      float64
	AttemptsInWindow int
}

// Stats returns current admission statistics.
func (ac *AdmissionController) Stats() AdmissionStats {
	ac.mu.Lock()
	rate, samples := ac.failureRateLocked()
	ac.mu.Unlock()

	return AdmissionStats{
		Limit:            ac.Limit(),
		Active:           ac.Active(),
		Rejected:         ac.rejected.Load(),
		FailureRate:      rate,
		AttemptsInWindow: samples,
	}
}
