package location

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hitchsafe/companion/internal/domain"
)

func TestThrottle(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(lat float64, offset time.Duration) domain.LocationSample {
		return domain.LocationSample{Latitude: lat, Longitude: 13.4, Timestamp: base.Add(offset)}
	}

	th := newThrottle(10, 5*time.Second)

	assert.True(t, th.accept(at(52.5, 0)), "first sample is always accepted")
	assert.False(t, th.accept(at(52.5, time.Second)), "no movement, too soon")
	// ~22 m north.
	assert.True(t, th.accept(at(52.5002, 2*time.Second)), "moved past the distance threshold")
	assert.False(t, th.accept(at(52.5002, 4*time.Second)), "interval measured from the last accepted sample")
	assert.True(t, th.accept(at(52.5002, 7*time.Second)), "interval threshold crossed without moving")
}
