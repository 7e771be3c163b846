// Package timeutil contains small pure helpers for UTC instant arithmetic and
// presentation formatting. Stored state is always UTC; anything zone-aware is a
// projection done at the display boundary.
package timeutil

import (
	"fmt"
	"time"
)

// Elapsed returns the absolute duration between two instants. Direction does not
// matter for inactivity threshold checks, so callers never need to care about
// argument order.
func Elapsed(a time.Time, b time.Time) time.Duration {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}

	return diff
}

// MinutesBetween returns the absolute whole-minute difference between two instants.
func MinutesBetween(a time.Time, b time.Time) int64 {
	return int64(Elapsed(a, b) / time.Minute)
}

// FormatDuration renders a duration as HH:MM:SS. Hours accumulate without any
// day rollover, so a 30 hour session renders as 30:00:00.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	totalSecs := int64(d / time.Second)
	hours := totalSecs / 3600
	mins := (totalSecs % 3600) / 60
	secs := totalSecs % 60

	return fmt.Sprintf("%02d:%02d:%02d", hours, mins, secs)
}

// ToZone projects a stored UTC instant into the display zone. A zero instant is
// returned untouched so "never" values dont pick up a fake offset.
func ToZone(t time.Time, loc *time.Location) time.Time {
	if t.IsZero() || loc == nil {
		return t
	}

	return t.In(loc)
}
