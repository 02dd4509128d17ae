package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitchsafe/companion/internal/alert"
	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/notify"
	"github.com/hitchsafe/companion/internal/repo"
)

// RecordingSession is the emergency audio recording resource.
type RecordingSession interface {
	Start(ctx context.Context, tripID string) (bool, error)
	StopTrip(ctx context.Context, tripID string) (ref string, ok bool, err error)
	TripID() (string, bool)
	IsOpen() bool
}

// AlertDispatcher fans an emergency out to contacts.
type AlertDispatcher interface {
	FanOut(ctx context.Context, event domain.EmergencyEvent, contacts []domain.EmergencyContact) alert.Report
}

// EventPublisher emits emergency events for off-device delivery.
type EventPublisher interface {
	PublishEmergency(ctx context.Context, event domain.EmergencyEvent) error
}

// TriggerResult reports what a Trigger call did.
type TriggerResult struct {
	Event            domain.EmergencyEvent `json:"event"`
	AlreadyActive    bool                  `json:"already_active"`
	RecordingStarted bool                  `json:"recording_started"`
	Alerts           alert.Report          `json:"alerts"`
}

// EmergencyCoordinator raises emergencies on trips.
type EmergencyCoordinator struct {
	trips    repo.TripRepo
	contacts repo.ContactRepo
	tracker  LocationSource
	session  RecordingSession
	alerts   AlertDispatcher
	notifier notify.Presenter
	events   EventPublisher
	log      *slog.Logger
	now      func() time.Time

	inflight singleflight.Group
}

// EmergencyDeps groups the EmergencyCoordinator collaborators. Notifier and
// Events may be nil.
type EmergencyDeps struct {
	Trips    repo.TripRepo
	Contacts repo.ContactRepo
	Tracker  LocationSource
	Session  RecordingSession
	Alerts   AlertDispatcher
	Notifier notify.Presenter
	Events   EventPublisher
}

// NewEmergencyCoordinator constructs an EmergencyCoordinator.
func NewEmergencyCoordinator(deps EmergencyDeps, log *slog.Logger) *EmergencyCoordinator {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Multi{}
	}
	return &EmergencyCoordinator{
		trips:    deps.Trips,
		contacts: deps.Contacts,
		tracker:  deps.Tracker,
		session:  deps.Session,
		alerts:   deps.Alerts,
		notifier: notifier,
		events:   deps.Events,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Trigger raises an emergency on tripID for userID. It is idempotent per
// trip: concurrent calls share one run, and once the trip is in emergency
// the stored event is returned without side effects.
//
// Only the trip update is critical. Recording, contact alerts, the local
// notification and the event publication are each attempted regardless of
// the others; their failures are logged. When the trip update fails the
// wrapped domain.ErrPersistence is returned after the other steps ran.
func (c *EmergencyCoordinator) Trigger(ctx context.Context, tripID, userID, message string) (TriggerResult, error) {
	// The emergency must run to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	v, err, _ := c.inflight.Do(tripID, func() (any, error) {
		return c.trigger(ctx, tripID, userID, message)
	})
	res, _ := v.(TriggerResult)
	if err != nil {
		return res, fmt.Errorf("service.EmergencyCoordinator.Trigger: %w", err)
	}
	return res, nil
}

func (c *EmergencyCoordinator) trigger(ctx context.Context, tripID, userID, message string) (TriggerResult, error) {
	trip, err := c.trips.GetByID(ctx, tripID)
	if err != nil {
		return TriggerResult{}, err
	}
	role := trip.RoleOf(userID)
	if role == domain.RoleUnknown {
		return TriggerResult{}, domain.ErrNotParticipant
	}
	if trip.IsEmergency && trip.Emergency != nil {
		return TriggerResult{Event: *trip.Emergency, AlreadyActive: true, RecordingStarted: c.session.IsOpen()}, nil
	}
	if !trip.Status.CanTransitionTo(domain.TripEmergency) {
		return TriggerResult{}, domain.ErrTripCompleted
	}

	if message == "" {
		message = domain.DefaultEmergencyMessage
	}
	event := domain.EmergencyEvent{
		TripID:    tripID,
		UserID:    userID,
		Location:  c.snapshot(ctx, trip),
		Timestamp: c.now(),
		Message:   message,
		Role:      role,
	}
	log := c.log.With("trip_id", tripID, "user_id", userID)

	persistErr := c.trips.MarkEmergency(ctx, tripID, event)
	if errors.Is(persistErr, domain.ErrTripCompleted) {
		// Ended while the snapshot was taken: nothing to alert about.
		log.InfoContext(ctx, "trip completed before the emergency was stored")
		return TriggerResult{}, domain.ErrTripCompleted
	}
	if persistErr != nil {
		log.ErrorContext(ctx, "emergency not persisted", "error", persistErr)
		if !errors.Is(persistErr, domain.ErrPersistence) {
			persistErr = fmt.Errorf("%w: %w", domain.ErrPersistence, persistErr)
		}
	}

	res := TriggerResult{Event: event}

	started, err := c.session.Start(ctx, tripID)
	switch {
	case err != nil:
		log.WarnContext(ctx, "emergency recording not started", "error", err)
	case !started:
		log.InfoContext(ctx, "emergency recording already running")
	}
	res.RecordingStarted = started || c.session.IsOpen()

	contacts, err := c.contacts.ListByUser(ctx, userID)
	if err != nil {
		log.WarnContext(ctx, "emergency contacts not loaded", "error", err)
	} else {
		res.Alerts = c.alerts.FanOut(ctx, event, contacts)
	}

	c.notifier.Present(ctx, notify.EmergencySent(tripID, event.Timestamp))

	if c.events != nil {
		if err := c.events.PublishEmergency(ctx, event); err != nil {
			log.WarnContext(ctx, "emergency event not published", "error", err)
		}
	}

	if persistErr != nil {
		return res, persistErr
	}
	log.InfoContext(ctx, "emergency triggered", "role", string(role), "alerts", len(res.Alerts.Attempts))
	return res, nil
}

// snapshot takes a one-shot fix, falling back to the trip's last known
// position. It returns nil when neither is usable.
func (c *EmergencyCoordinator) snapshot(ctx context.Context, trip domain.Trip) *domain.LocationSample {
	s, err := c.tracker.CurrentLocation(ctx)
	if err == nil {
		return &s
	}
	c.log.WarnContext(ctx, "emergency location unavailable, using last known", "trip_id", trip.ID, "error", err)
	if trip.CurrentLocation.Valid() {
		last := trip.CurrentLocation
		return &last
	}
	return nil
}

// StopRecording stops the emergency recording on behalf of userID, who must
// be a participant of the trip it was opened for. ok is false when none was
// running.
func (c *EmergencyCoordinator) StopRecording(ctx context.Context, userID string) (string, bool, error) {
	tripID, open := c.session.TripID()
	if !open {
		return "", false, nil
	}
	trip, err := c.trips.GetByID(ctx, tripID)
	if err != nil {
		return "", false, fmt.Errorf("service.EmergencyCoordinator.StopRecording: %w", err)
	}
	if trip.RoleOf(userID) == domain.RoleUnknown {
		return "", false, fmt.Errorf("service.EmergencyCoordinator.StopRecording: %w", domain.ErrNotParticipant)
	}
	return c.StopTripRecording(ctx, tripID)
}

// StopTripRecording stops the emergency recording if it was opened for
// tripID and leaves any other recording running.
func (c *EmergencyCoordinator) StopTripRecording(ctx context.Context, tripID string) (string, bool, error) {
	ref, ok, err := c.session.StopTrip(ctx, tripID)
	if err != nil {
		return "", ok, fmt.Errorf("service.EmergencyCoordinator.StopTripRecording: %w", err)
	}
	return ref, ok, nil
}

// RecordingStopped attaches a finished recording to its trip. It is
// registered as the recording session's stop callback, so it runs once per
// recording whether it was stopped explicitly or by the ceiling.
func (c *EmergencyCoordinator) RecordingStopped(tripID, ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.trips.AttachRecording(ctx, tripID, ref); err != nil {
		c.log.ErrorContext(ctx, "recording not attached to trip", "trip_id", tripID, "ref", ref, "error", err)
	}
	c.notifier.Present(ctx, notify.Notification{
		Kind:      notify.KindRecordingStopped,
		Title:     "Emergency recording saved",
		Message:   "The emergency audio recording has been saved.",
		TripID:    tripID,
		CreatedAt: c.now(),
	})
}
