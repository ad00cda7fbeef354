package record

import (
	"fmt"
	"time"

	"volunteerattendance/internal/event"
)

func geofenceBreach(anchor event.Anchor, kind Kind, leg Leg) (Violation, bool) {
	if leg.WithinRadius {
		return Violation{}, false
	}
	// strict mode only lets an out-of-range leg through on a manual override
	if anchor.StrictMode && leg.Method != MethodManual {
		return Violation{}, false
	}
	detail := fmt.Sprintf("%s %.1fm from anchor, radius %.1fm", kind, leg.DistanceMeters, anchor.RadiusMeters)
	if leg.Method == MethodManual {
		detail += ", manual override"
	}
	return Violation{
		Kind:         ViolationGeofenceBreach,
		Detail:       detail,
		Timestamp:    leg.Timestamp,
		SupervisorID: leg.SupervisorID,
	}, true
}

// DetectCheckIn derives the annotations for a new check-in leg.
func DetectCheckIn(anchor event.Anchor, leg Leg) []Violation {
	var out []Violation
	if v, ok := geofenceBreach(anchor, KindCheckIn, leg); ok {
		out = append(out, v)
	}
	if IsLate(anchor, leg.Timestamp) {
		out = append(out, Violation{
			Kind:         ViolationLateArrival,
			Detail:       fmt.Sprintf("checked in %s after start, threshold %s", leg.Timestamp.Sub(anchor.StartTime).Round(time.Second), anchor.LateThreshold()),
			Timestamp:    leg.Timestamp,
			SupervisorID: leg.SupervisorID,
		})
	}
	return out
}

// DetectCheckOut derives the annotations for a check-out leg.
func DetectCheckOut(anchor event.Anchor, leg Leg) []Violation {
	if v, ok := geofenceBreach(anchor, KindCheckOut, leg); ok {
		return []Violation{v}
	}
	return nil
}

// IsLate reports a check-in strictly after start plus the late threshold.
func IsLate(anchor event.Anchor, at time.Time) bool {
	return at.After(anchor.LateAfter())
}

// MissingCheckout flags a record still checked in when the sweep runs. It fires at
// most once per record.
func MissingCheckout(anchor event.Anchor, rec Record, now time.Time) (Violation, bool) {
	if rec.Status != StatusCheckedIn || rec.HasViolation(ViolationMissingCheckout) {
		return Violation{}, false
	}
	return Violation{
		Kind:      ViolationMissingCheckout,
		Detail:    fmt.Sprintf("no check-out by event end %s", anchor.EndTime.Format(time.RFC3339)),
		Timestamp: now,
	}, true
}
