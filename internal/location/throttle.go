package location

import (
	"time"

	"github.com/hitchsafe/companion/internal/domain"
)

// throttle decides which samples are worth persisting: the first one, then
// any that moved at least minMeters OR arrived at least minInterval after
// the last accepted one, whichever happens first.
type throttle struct {
	minMeters   float64
	minInterval time.Duration
	last        *domain.LocationSample
}

func newThrottle(minMeters float64, minInterval time.Duration) *throttle {
	return &throttle{minMeters: minMeters, minInterval: minInterval}
}

func (t *throttle) accept(s domain.LocationSample) bool {
	if t.last == nil {
		t.last = &s
		return true
	}
	moved := Distance(t.last.Latitude, t.last.Longitude, s.Latitude, s.Longitude) * 1000
	elapsed := s.Timestamp.Sub(t.last.Timestamp)
	if moved >= t.minMeters || elapsed >= t.minInterval {
		t.last = &s
		return true
	}
	return false
}
