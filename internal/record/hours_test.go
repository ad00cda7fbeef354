package record

import (
	"math"
	"testing"
	"time"

	"volunteerattendance/internal/event"
)

func TestHours(t *testing.T) {
	in := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		d    time.Duration
		want float64
	}{
		{3*time.Hour + 15*time.Minute, 3.3},
		{3*time.Hour + 14*time.Minute, 3.2},
		{2*time.Hour + 3*time.Minute, 2.1},
		{2*time.Hour + 2*time.Minute, 2.0},
		{time.Minute, 0.0},
		{3 * time.Minute, 0.1},
		{8 * time.Hour, 8.0},
		{-time.Hour, 0},
	}
	for _, tc := range cases {
		if got := Hours(in, in.Add(tc.d)); got != tc.want {
			t.Fatalf("Hours(%s)=%v, want %v", tc.d, got, tc.want)
		}
	}
}

func TestHoursNonNegativeAndRounded(t *testing.T) {
	in := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for s := 1; s < 12*3600; s += 97 {
		d := time.Duration(s) * time.Second
		got := Hours(in, in.Add(d))
		exact := d.Hours()
		if got < 0 || math.Abs(got-exact) > 0.05+1e-9 {
			t.Fatalf("Hours(%s)=%v, exact %v", d, got, exact)
		}
		if math.Abs(got*10-math.Round(got*10)) > 1e-9 {
			t.Fatalf("Hours(%s)=%v is not one decimal", d, got)
		}
	}
}

func TestMissingCheckoutOnlyForCheckedIn(t *testing.T) {
	anchor := event.Anchor{EventID: "evt-1", EndTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	now := anchor.EndTime.Add(time.Hour)
	if _, ok := MissingCheckout(anchor, Record{Status: StatusCheckedOut}, now); ok {
		t.Fatalf("checked-out record must not be flagged")
	}
	rec := Record{Status: StatusCheckedIn}
	v, ok := MissingCheckout(anchor, rec, now)
	if !ok || v.Kind != ViolationMissingCheckout {
		t.Fatalf("expected missing checkout violation")
	}
	rec.Violations = append(rec.Violations, v)
	if _, ok := MissingCheckout(anchor, rec, now); ok {
		t.Fatalf("missing checkout must be raised once")
	}
}
