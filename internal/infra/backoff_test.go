package infra

import (
	"testing"
	"time"
)

// =====================================================
// Infra Backoff Tests
// =====================================================

func TestBackoff_Default(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := DefaultBackoff.Delay(tt.retryCount); got != tt.want {
			t.Errorf("DefaultBackoff.Delay(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

func TestBackoff_VenuePolicy(t *testing.T) {
	b := Backoff{Base: 350 * time.Millisecond, Max: 30 * time.Second}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 350 * time.Millisecond},
		{1, 700 * time.Millisecond},
		{4, 5600 * time.Millisecond},
		{7, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.retry); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.retry, got, tt.want)
		}
	}
}

func TestBackoff_ZeroValueUsesDefaults(t *testing.T) {
	var b Backoff
	if got := b.Delay(0); got != time.Second {
		t.Errorf("zero Backoff Delay(0) = %s, want 1s", got)
	}
}
