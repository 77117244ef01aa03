package timeutil

import (
	"math"
	"testing"
	"time"
)

func TestDurationHours(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	got, err := DurationHours(start, start.Add(2*time.Hour+30*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2.5 {
		t.Fatalf("expected 2.5 hours, got %v", got)
	}

	if _, err := DurationHours(start, start.Add(-time.Minute)); err != ErrInvalidRange {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}

	got, err = DurationHours(start, start)
	if err != nil || got != 0 {
		t.Fatalf("expected 0 hours, got %v (%v)", got, err)
	}
}

func TestFormatHours(t *testing.T) {
	cases := []struct {
		hours float64
		want  string
	}{
		{0, "0h 0m"},
		{-1.5, "0h 0m"},
		{math.NaN(), "0h 0m"},
		{2.5, "2h 30m"},
		{0.25, "0h 15m"},
		{10, "10h 0m"},
		{1.01, "1h 1m"},
	}
	for _, tt := range cases {
		if got := FormatHours(tt.hours); got != tt.want {
			t.Fatalf("FormatHours(%v)=%q, want %q", tt.hours, got, tt.want)
		}
	}
}

func TestWeekAgo(t *testing.T) {
	at := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	if got := WeekAgo(at); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 03:30 UTC is still the previous calendar day in Chicago.
	at := time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC)
	got := Midnight(at, loc)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	got = Midnight(at, time.UTC)
	want = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
