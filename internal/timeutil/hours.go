package timeutil

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidRange = errors.New("end time before start time")

// DurationHours returns the span between start and end in decimal hours.
func DurationHours(start, end time.Time) (float64, error) {
	if end.Before(start) {
		return 0, ErrInvalidRange
	}
	return end.Sub(start).Hours(), nil
}

// FormatHours renders decimal hours as "3h 45m". Zero, negative, and NaN
// inputs all render as "0h 0m".
func FormatHours(hours float64) string {
	if math.IsNaN(hours) || hours <= 0 {
		return "0h 0m"
	}
	h := math.Floor(hours)
	m := math.Round((hours - h) * 60)
	return fmt.Sprintf("%.0fh %.0fm", h, m)
}

// WeekAgo returns the instant seven days before t.
func WeekAgo(t time.Time) time.Time {
	return t.Add(-7 * 24 * time.Hour)
}

// Midnight returns the start of t's calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
