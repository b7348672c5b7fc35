package backoff

import (
	"testing"
	"time"
)

func TestDelayFollowsSchedule(t *testing.T) {
	p := New(nil)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 10 * time.Second},
		{2, 30 * time.Second},
		{3, time.Minute},
		{4, 5 * time.Minute},
		{5, 15 * time.Minute},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.expected {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestDelayClampsToLastEntry(t *testing.T) {
	p := New(nil)

	for _, attempt := range []int{6, 7, 10, 100, 1000} {
		if got := p.Delay(attempt); got != 15*time.Minute {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 15*time.Minute)
		}
	}
}

func TestDelayClampsBelowOne(t *testing.T) {
	p := New(nil)

	// Attempt numbers are 1-based; anything lower maps to the first entry.
	for _, attempt := range []int{0, -1} {
		if got := p.Delay(attempt); got != 10*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 10*time.Second)
		}
	}
}

func TestCustomSchedule(t *testing.T) {
	p := New([]time.Duration{time.Second, 4 * time.Second})

	if got := p.Delay(1); got != time.Second {
		t.Errorf("Delay(1) = %v, want %v", got, time.Second)
	}
	if got := p.Delay(2); got != 4*time.Second {
		t.Errorf("Delay(2) = %v, want %v", got, 4*time.Second)
	}
	if got := p.Delay(9); got != 4*time.Second {
		t.Errorf("Delay(9) = %v, want %v", got, 4*time.Second)
	}
}

func TestDelayIsPure(t *testing.T) {
	p := New(nil)

	// Recomputing the same attempt must always give the same answer.
	for i := 0; i < 3; i++ {
		if got := p.Delay(3); got != time.Minute {
			t.Errorf("Delay(3) call %d = %v, want %v", i+1, got, time.Minute)
		}
	}
}
