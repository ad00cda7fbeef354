package record

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateCheckIn      = errors.New("volunteer already checked in")
	ErrNoActiveCheckIn       = errors.New("no active check-in")
	ErrCheckOutBeforeCheckIn = errors.New("check-out precedes check-in")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrGeofenceViolation     = errors.New("outside event geofence")
	ErrConflict              = errors.New("record modified concurrently")
	ErrTransient             = errors.New("transient failure")
	ErrInvalidEvent          = errors.New("invalid attendance event")
)

// GeofenceViolationError is a strict-mode rejection. No record is written.
type GeofenceViolationError struct {
	Kind           Kind
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *GeofenceViolationError) Error() string {
	return fmt.Sprintf("%s rejected: %.1fm from anchor, radius %.1fm", e.Kind, e.DistanceMeters, e.RadiusMeters)
}

func (e *GeofenceViolationError) Is(target error) bool { return target == ErrGeofenceViolation }
