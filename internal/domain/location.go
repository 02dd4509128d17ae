package domain

import "time"

// LocationSample is a single device position fix.
// Altitude, Speed and Heading are nil when the device did not report them.
// Timestamp comes from the device clock.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the coordinates are within WGS84 bounds.
func (s LocationSample) Valid() bool {
	return s.Latitude >= -90 && s.Latitude <= 90 &&
		s.Longitude >= -180 && s.Longitude <= 180 &&
		s.Accuracy >= 0
}
