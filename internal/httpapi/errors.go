package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"volunteerattendance/internal/attendance"
	"volunteerattendance/internal/event"
	"volunteerattendance/internal/geofence"
	"volunteerattendance/internal/record"
	"volunteerattendance/internal/token"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, geofence.ErrInvalidLocation), errors.Is(err, record.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, token.ErrUnknownToken):
		return http.StatusUnauthorized
	case errors.Is(err, token.ErrWrongPurpose), errors.Is(err, token.ErrEventMismatch), errors.Is(err, record.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, token.ErrExpired):
		return http.StatusGone
	case errors.Is(err, record.ErrGeofenceViolation), errors.Is(err, event.ErrInvalidAnchor):
		return http.StatusUnprocessableEntity
	case errors.Is(err, record.ErrDuplicateCheckIn), errors.Is(err, record.ErrNoActiveCheckIn), errors.Is(err, record.ErrCheckOutBeforeCheckIn):
		return http.StatusConflict
	case errors.Is(err, event.ErrEventNotFound), errors.Is(err, attendance.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrSweepTooEarly):
		return http.StatusTooEarly
	case errors.Is(err, record.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "reason": attendance.Reason(err)}
	var gv *record.GeofenceViolationError
	if errors.As(err, &gv) {
		body["distance_meters"] = gv.DistanceMeters
		body["radius_meters"] = gv.RadiusMeters
	}
	if status == http.StatusInternalServerError {
		log.Printf("request failed method=%s path=%s err=%v", c.Request.Method, c.FullPath(), err)
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}
