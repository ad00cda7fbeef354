package event

import (
	"errors"
	"fmt"
	"time"

	"volunteerattendance/internal/geofence"
)

// DefaultLateThresholdMinutes applies when an anchor leaves the threshold unset.
const DefaultLateThresholdMinutes = 15

var (
	ErrEventNotFound = errors.New("event not found")
	ErrInvalidAnchor = errors.New("invalid event anchor")
)

// Anchor is the immutable geofence and timing configuration of one event version.
// Edits never mutate an anchor; they publish a new Version.
type Anchor struct {
	EventID              string         `json:"event_id"`
	Version              int            `json:"version"`
	Center               geofence.Point `json:"center"`
	RadiusMeters         float64        `json:"radius_meters"`
	StrictMode           bool           `json:"strict_mode"`
	StartTime            time.Time      `json:"start_time"`
	EndTime              time.Time      `json:"end_time"`
	LateThresholdMinutes int            `json:"late_threshold_minutes"`
	AllowManualOverride  bool           `json:"allow_manual_override"`
}

// Validate checks the anchor is usable for verification.
func (a Anchor) Validate() error {
	if a.EventID == "" {
		return fmt.Errorf("%w: event id required", ErrInvalidAnchor)
	}
	if err := a.Center.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnchor, err)
	}
	if a.RadiusMeters <= 0 {
		return fmt.Errorf("%w: radius must be positive", ErrInvalidAnchor)
	}
	if a.StartTime.IsZero() || a.EndTime.IsZero() || !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("%w: end time must follow start time", ErrInvalidAnchor)
	}
	if a.LateThresholdMinutes < 0 {
		return fmt.Errorf("%w: negative late threshold", ErrInvalidAnchor)
	}
	return nil
}

// LateThreshold returns the configured grace after start, defaulting to 15 minutes.
func (a Anchor) LateThreshold() time.Duration {
	if a.LateThresholdMinutes <= 0 {
		return DefaultLateThresholdMinutes * time.Minute
	}
	return time.Duration(a.LateThresholdMinutes) * time.Minute
}

// LateAfter is the last instant that still counts as on time.
func (a Anchor) LateAfter() time.Time {
	return a.StartTime.Add(a.LateThreshold())
}
