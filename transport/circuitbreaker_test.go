package transport

import (
	"testing"
	"time"
)

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ProbeThreshold: 2, OpenTimeout: time.Hour})
	if cb.State() != CircuitClosed {
		t.Fatalf("expected Closed, got %v", cb.State())
	}
	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected still Closed before threshold, got %v", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected Open after threshold, got %v", cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected Allow() false while Open")
	}
}

func TestCircuitBreaker_HalfOpenRecoversOnProbeSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ProbeThreshold: 2, OpenTimeout: time.Millisecond})
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected Open, got %v", cb.State())
	}
	time.Sleep(5 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected Allow() true once OpenTimeout elapses")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected HalfOpen, got %v", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected still HalfOpen after one probe success, got %v", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected Closed after ProbeThreshold successes, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ProbeThreshold: 1, OpenTimeout: time.Millisecond})
	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	cb.Allow()
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected HalfOpen, got %v", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected Open again after probe failure, got %v", cb.State())
	}
}
