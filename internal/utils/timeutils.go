package utils

import (
	"math"
	"time"
)

// HoursSince returns the signed number of hours from base to t.
func HoursSince(base, t time.Time) float64 {
	return t.Sub(base).Hours()
}

// AddHours offsets t by a fractional number of hours.
func AddHours(t time.Time, hours float64) time.Time {
	return t.Add(time.Duration(hours * float64(time.Hour)))
}

// Round rounds value to the given number of decimal places.
func Round(value float64, places int) float64 {
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return value
	}
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
