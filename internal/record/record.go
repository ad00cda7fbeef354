package record

import (
	"time"

	"volunteerattendance/internal/geofence"
)

// Status is the position of a record in the attendance state diagram.
type Status string

const (
	StatusNone       Status = "NONE"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusCheckedOut Status = "CHECKED_OUT"
	StatusAbsent     Status = "ABSENT"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCheckedOut || s == StatusAbsent
}

// Kind selects the leg an Event applies to.
type Kind string

const (
	KindCheckIn  Kind = "CHECK_IN"
	KindCheckOut Kind = "CHECK_OUT"
)

// Method is how a leg was authorised.
type Method string

const (
	MethodToken  Method = "TOKEN"
	MethodManual Method = "MANUAL"
)

// ViolationKind names a policy breach.
type ViolationKind string

const (
	ViolationGeofenceBreach  ViolationKind = "GEOFENCE_BREACH"
	ViolationLateArrival     ViolationKind = "LATE_ARRIVAL"
	ViolationMissingCheckout ViolationKind = "MISSING_CHECKOUT"
)

// Violation is an immutable annotation attached at the moment of a transition.
type Violation struct {
	Kind         ViolationKind `json:"kind"`
	Detail       string        `json:"detail"`
	Timestamp    time.Time     `json:"timestamp"`
	SupervisorID string        `json:"supervisor_id,omitempty"`
}

// Leg is one side of an attendance record: the check-in or the check-out.
type Leg struct {
	Timestamp      time.Time      `json:"timestamp"`
	Location       geofence.Point `json:"location"`
	Method         Method         `json:"method"`
	DistanceMeters float64        `json:"distance_meters"`
	WithinRadius   bool           `json:"within_radius"`
	IdempotencyKey string         `json:"idempotency_key"`
	SupervisorID   string         `json:"supervisor_id,omitempty"`
}

// Record is the single attendance record of a volunteer at an event.
type Record struct {
	EventID        string      `json:"event_id"`
	VolunteerID    string      `json:"volunteer_id"`
	Status         Status      `json:"status"`
	CheckIn        *Leg        `json:"check_in,omitempty"`
	CheckOut       *Leg        `json:"check_out,omitempty"`
	HoursCompleted *float64    `json:"hours_completed,omitempty"`
	Violations     []Violation `json:"violations"`
	IdempotencyKey string      `json:"idempotency_key"`
	AnchorVersion  int         `json:"anchor_version"`
	Version        int64       `json:"version"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// HasViolation reports whether an annotation of kind is attached.
func (r Record) HasViolation(kind ViolationKind) bool {
	for _, v := range r.Violations {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share legs or violation slices.
func (r Record) Clone() Record {
	out := r
	if r.CheckIn != nil {
		leg := *r.CheckIn
		out.CheckIn = &leg
	}
	if r.CheckOut != nil {
		leg := *r.CheckOut
		out.CheckOut = &leg
	}
	if r.HoursCompleted != nil {
		h := *r.HoursCompleted
		out.HoursCompleted = &h
	}
	out.Violations = append(make([]Violation, 0, len(r.Violations)), r.Violations...)
	return out
}

// Event is a request to move a record through the state diagram.
type Event struct {
	EventID        string
	VolunteerID    string
	Kind           Kind
	IdempotencyKey string
	Timestamp      time.Time
	Location       geofence.Point
	Method         Method
	SupervisorID   string
}

// Transition describes a committed state change. From equals To when only
// annotations were added.
type Transition struct {
	EventID     string
	VolunteerID string
	From        Status
	To          Status
	Added       []Violation
	At          time.Time
}

// AddedLate reports whether this transition attached a late-arrival annotation.
func (t Transition) AddedLate() bool {
	for _, v := range t.Added {
		if v.Kind == ViolationLateArrival {
			return true
		}
	}
	return false
}

// Emitter receives committed transitions. Emit must not block.
type Emitter interface {
	Emit(Transition)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Transition)

func (f EmitterFunc) Emit(t Transition) { f(t) }
