package record

import (
	"math"
	"time"
)

// Hours returns the time between check-in and check-out in hours, rounded to one
// decimal half away from zero. Working in tenth-hour units (360s) keeps exact
// halves such as 3h15m representable.
func Hours(checkIn, checkOut time.Time) float64 {
	d := checkOut.Sub(checkIn)
	if d <= 0 {
		return 0
	}
	tenths := math.Round(d.Seconds() / 360)
	return tenths / 10
}
