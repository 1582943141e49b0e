package entitle

import (
	"testing"
	"time"
)

func TestExponentialBackoff_Growth(t *testing.T) {
	b := ExponentialBackoff{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, 10 * time.Second}, // capped
	}

	for _, tt := range tests {
		if got := b.NextInterval(tt.attempt); got != tt.want {
			t.Errorf("NextInterval(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialBackoff_ZeroValueDefaults(t *testing.T) {
	var b ExponentialBackoff

	if got := b.NextInterval(1); got != 100*time.Millisecond {
		t.Errorf("NextInterval(1) = %v, want 100ms", got)
	}
	if got := b.NextInterval(20); got != 10*time.Second {
		t.Errorf("NextInterval(20) = %v, want 10s cap", got)
	}
}

func TestExponentialBackoff_JitterStaysInBounds(t *testing.T) {
	b := ExponentialBackoff{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		JitterFactor:    0.5,
	}

	for i := 0; i < 100; i++ {
		got := b.NextInterval(2)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("NextInterval(2) = %v, want within [100ms, 300ms]", got)
		}
	}
}

func TestFixedBackoff(t *testing.T) {
	b := FixedBackoff{Interval: 50 * time.Millisecond}

	if got := b.NextInterval(0); got != 0 {
		t.Errorf("NextInterval(0) = %v, want 0", got)
	}
	if got := b.NextInterval(1); got != 50*time.Millisecond {
		t.Errorf("NextInterval(1) = %v, want 50ms", got)
	}
	if got := b.NextInterval(5); got != 50*time.Millisecond {
		t.Errorf("NextInterval(5) = %v, want 50ms", got)
	}
}
