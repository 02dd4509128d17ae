package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitchsafe/companion/internal/domain"
)

// Trip document field names used by per-field updates.
const (
	fieldCurrentLocation      = "current_location"
	fieldLastLocationUpdate   = "last_location_update"
	fieldStatus               = "status"
	fieldIsEmergency          = "is_emergency"
	fieldEmergency            = "emergency"
	fieldEmergencyTriggeredAt = "emergency_triggered_at"
	fieldRecordingRef         = "emergency_recording_ref"
	fieldEndLocation          = "end_location"
	fieldEndedAt              = "ended_at"
	fieldUpdatedAt            = "updated_at"
)

// TripRepo defines the persistence operations for Trips.
// The service layer depends on this interface, not the document-store
// implementation, which allows the service to be unit-tested with a mock.
//
// Every mutating method is a per-field update keyed by trip id; none of them
// read the trip first.
type TripRepo interface {
	// Create stores a new trip and returns it. An empty ID is generated.
	Create(ctx context.Context, trip domain.Trip) (domain.Trip, error)

	// GetByID retrieves a single trip.
	// Returns domain.ErrNotFound if no trip with that ID exists.
	GetByID(ctx context.Context, id string) (domain.Trip, error)

	// UpdateLocation overwrites the trip's current location.
	UpdateLocation(ctx context.Context, id string, sample domain.LocationSample) error

	// MarkEmergency sets is_emergency, status=emergency and the event.
	// Returns domain.ErrTripCompleted, writing nothing, once the stored trip
	// is completed.
	MarkEmergency(ctx context.Context, id string, event domain.EmergencyEvent) error

	// AttachRecording records where the emergency audio was saved.
	AttachRecording(ctx context.Context, id, ref string) error

	// Complete sets status=completed, the end location and ended_at.
	// Returns domain.ErrTripCompleted, writing nothing, when the stored trip
	// is already completed, so ended_at is written once.
	Complete(ctx context.Context, id string, end domain.LocationSample, endedAt time.Time) error
}

// tripDoc is the stored trip: the domain fields plus bookkeeping fields
// written by per-field updates.
type tripDoc struct {
	domain.Trip
	LastLocationUpdate   *time.Time `json:"last_location_update,omitempty"`
	EmergencyTriggeredAt *time.Time `json:"emergency_triggered_at,omitempty"`
	RecordingRef         string     `json:"emergency_recording_ref,omitempty"`
}

type docTripRepo struct {
	store DocumentStore
	now   func() time.Time
}

// NewTripRepo constructs a TripRepo backed by the provided DocumentStore.
func NewTripRepo(store DocumentStore) TripRepo {
	return &docTripRepo{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (r *docTripRepo) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	if trip.ID == "" {
		trip.ID = uuid.NewString()
	}
	doc, err := toDocument(tripDoc{Trip: trip})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}
	if err := r.store.Set(ctx, CollectionTrips, trip.ID, doc); err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}
	return trip, nil
}

func (r *docTripRepo) GetByID(ctx context.Context, id string) (domain.Trip, error) {
	doc, err := r.store.Get(ctx, CollectionTrips, id)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", err)
	}

	var td tripDoc
	if err := fromDocument(doc, &td); err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w: %w", domain.ErrPersistence, err)
	}
	trip := td.Trip
	trip.ID = id
	if trip.Emergency != nil && td.RecordingRef != "" {
		trip.Emergency.RecordingRef = td.RecordingRef
	}
	return trip, nil
}

func (r *docTripRepo) UpdateLocation(ctx context.Context, id string, sample domain.LocationSample) error {
	now := r.now()
	f, err := fields(
		fieldCurrentLocation, sample,
		fieldLastLocationUpdate, now,
	)
	if err != nil {
		return fmt.Errorf("repo.TripRepo.UpdateLocation: %w", err)
	}
	if err := r.store.UpdateFields(ctx, CollectionTrips, id, f); err != nil {
		return fmt.Errorf("repo.TripRepo.UpdateLocation: %w", err)
	}
	return nil
}

func (r *docTripRepo) MarkEmergency(ctx context.Context, id string, event domain.EmergencyEvent) error {
	now := r.now()
	f, err := fields(
		fieldIsEmergency, true,
		fieldStatus, domain.TripEmergency,
		fieldEmergency, event,
		fieldEmergencyTriggeredAt, now,
		fieldUpdatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("repo.TripRepo.MarkEmergency: %w", err)
	}
	if err := r.updateUnlessCompleted(ctx, id, f); err != nil {
		return fmt.Errorf("repo.TripRepo.MarkEmergency: %w", err)
	}
	return nil
}

func (r *docTripRepo) AttachRecording(ctx context.Context, id, ref string) error {
	f, err := fields(fieldRecordingRef, ref)
	if err != nil {
		return fmt.Errorf("repo.TripRepo.AttachRecording: %w", err)
	}
	if err := r.store.UpdateFields(ctx, CollectionTrips, id, f); err != nil {
		return fmt.Errorf("repo.TripRepo.AttachRecording: %w", err)
	}
	return nil
}

func (r *docTripRepo) Complete(ctx context.Context, id string, end domain.LocationSample, endedAt time.Time) error {
	f, err := fields(
		fieldStatus, domain.TripCompleted,
		fieldEndLocation, end,
		fieldEndedAt, endedAt,
		fieldUpdatedAt, r.now(),
	)
	if err != nil {
		return fmt.Errorf("repo.TripRepo.Complete: %w", err)
	}
	if err := r.updateUnlessCompleted(ctx, id, f); err != nil {
		return fmt.Errorf("repo.TripRepo.Complete: %w", err)
	}
	return nil
}

// updateUnlessCompleted applies a status-changing update only while the
// stored trip is not completed; completed is terminal.
func (r *docTripRepo) updateUnlessCompleted(ctx context.Context, id string, f Document) error {
	applied, err := r.store.UpdateFieldsUnless(ctx, CollectionTrips, id, fieldStatus, string(domain.TripCompleted), f)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrTripCompleted
	}
	return nil
}
