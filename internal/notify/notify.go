// Package notify carries local notifications to whoever is presenting them
// on the device.
package notify

import (
	"context"
	"time"
)

// Notification kinds.
const (
	KindEmergencySent    = "emergency_sent"
	KindRecordingStopped = "recording_stopped"
)

// Notification is a local, user-facing notice.
type Notification struct {
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	TripID    string    `json:"trip_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Presenter shows a notification. Presentation is fire-and-forget: failures
// are the presenter's to log.
type Presenter interface {
	Present(ctx context.Context, n Notification)
}

// Multi presents to every presenter in order.
type Multi []Presenter

func (m Multi) Present(ctx context.Context, n Notification) {
	for _, p := range m {
		if p != nil {
			p.Present(ctx, n)
		}
	}
}

// EmergencySent is shown once contacts have been alerted.
func EmergencySent(tripID string, at time.Time) Notification {
	return Notification{
		Kind:      KindEmergencySent,
		Title:     "Emergency Alert Sent",
		Message:   "Emergency contacts have been notified. Stay safe!",
		TripID:    tripID,
		CreatedAt: at,
	}
}
