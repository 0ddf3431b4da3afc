package util

import (
	"testing"
	"time"
)

func TestSkipThrottler(t *testing.T) {
	t.Parallel()
	tt := NewSkipThrottler(time.Hour)
	if !tt.Ok() {
		t.Fatalf("first event skipped")
	}
	if tt.Ok() {
		t.Fatalf("second event let through")
	}

	tt = NewSkipThrottler(0)
	for range 3 {
		if !tt.Ok() {
			t.Fatalf("zero interval skipped")
		}
	}
}

func TestSkipped(t *testing.T) {
	t.Parallel()
	tt := NewSkipThrottler(time.Hour)
	for range 4 {
		tt.Ok()
	}
	if n := tt.Skipped(); n != 3 {
		t.Fatalf("%d", n)
	}
	if n := tt.Skipped(); n != 0 {
		t.Fatalf("%d", n)
	}
}
