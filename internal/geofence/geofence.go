package geofence

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// ErrInvalidLocation matches every InvalidLocationError.
var ErrInvalidLocation = errors.New("invalid location")

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// InvalidLocationError reports a coordinate that cannot be placed on the globe.
type InvalidLocationError struct {
	Point  Point
	Reason string
}

func (e *InvalidLocationError) Error() string {
	return fmt.Sprintf("invalid location (%v, %v): %s", e.Point.Latitude, e.Point.Longitude, e.Reason)
}

func (e *InvalidLocationError) Is(target error) bool { return target == ErrInvalidLocation }

// Check rejects NaN, infinite and out-of-range coordinates.
func (p Point) Check() error {
	switch {
	case math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude):
		return &InvalidLocationError{Point: p, Reason: "coordinate is NaN"}
	case math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0):
		return &InvalidLocationError{Point: p, Reason: "coordinate is infinite"}
	case p.Latitude < -90 || p.Latitude > 90:
		return &InvalidLocationError{Point: p, Reason: "latitude out of range"}
	case p.Longitude < -180 || p.Longitude > 180:
		return &InvalidLocationError{Point: p, Reason: "longitude out of range"}
	}
	return nil
}

// Distance returns the haversine great-circle distance in meters.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLng := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Validate measures device against a fence centred on center with the given radius.
// The distance is returned even when the device is outside the radius so callers can
// record it for audit.
func Validate(center Point, radiusMeters float64, device Point) (float64, bool, error) {
	if err := center.Check(); err != nil {
		return 0, false, err
	}
	if err := device.Check(); err != nil {
		return 0, false, err
	}
	if math.IsNaN(radiusMeters) || radiusMeters <= 0 {
		return 0, false, fmt.Errorf("radius must be positive, got %v", radiusMeters)
	}
	d := Distance(center, device)
	return d, d <= radiusMeters, nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
