package domain

import "time"

// DefaultEmergencyMessage is used when the user triggers without typing anything.
const DefaultEmergencyMessage = "Emergency Alert!"

// EmergencyEvent is created once per trip, on the active → emergency transition.
// It is immutable afterwards except for RecordingRef, which is attached when
// the audio recording stops. Location is nil when no fix could be obtained.
type EmergencyEvent struct {
	TripID       string          `json:"trip_id"`
	UserID       string          `json:"user_id"`
	Location     *LocationSample `json:"location"`
	Timestamp    time.Time       `json:"timestamp"`
	Message      string          `json:"message"`
	Role         Role            `json:"role"`
	RecordingRef string          `json:"recording_ref,omitempty"`
}
