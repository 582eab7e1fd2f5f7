package resilience

import (
	"errors"
	"testing"
	"time"
)

var errSend = errors.New("chat api unavailable")

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errSend })
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestProbeAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	// Trip the breaker
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errSend })
	}

	// Still open
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	// Advance past the cooldown
	now = now.Add(2 * time.Second)

	// Probe call goes through
	called := false
	err = b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error from probe, got %v", err)
	}
	if !called {
		t.Fatal("expected probe fn to be called")
	}

	// Probe success closes the circuit
	b.mu.Lock()
	if b.state != stateClosed {
		t.Fatalf("expected state closed after probe success, got %d", b.state)
	}
	b.mu.Unlock()
}

func TestProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errSend })
	}

	now = now.Add(2 * time.Second)

	// Fail the probe
	_ = b.Execute(func() error { return errSend })

	b.mu.Lock()
	if b.state != stateOpen {
		t.Fatalf("expected state open after probe failure, got %d", b.state)
	}
	b.mu.Unlock()

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestSingleProbeInHalfOpen(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errSend })
	now = now.Add(2 * time.Second)

	// Enter half-open manually by acquiring the probe slot
	if !b.acquire() {
		t.Fatal("expected probe slot")
	}

	// A second concurrent call must be rejected while the probe is in flight
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen during probe, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(func() error { return errSend })
	_ = b.Execute(func() error { return errSend })

	// One success resets the streak
	_ = b.Execute(func() error { return nil })

	_ = b.Execute(func() error { return errSend })
	_ = b.Execute(func() error { return errSend })

	// Still closed
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}
