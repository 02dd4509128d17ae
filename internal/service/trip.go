// Package service contains the business logic of the companion agent.
// Services validate inputs, enforce trip and emergency rules, and
// orchestrate repo calls and device adapters. No storage details live
// here: services depend on repo interfaces and small adapter interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/location"
	"github.com/hitchsafe/companion/internal/repo"
)

// LocationSource is the part of the location tracker the coordinators use.
type LocationSource interface {
	CurrentLocation(ctx context.Context) (domain.LocationSample, error)
	StartTracking(ctx context.Context, tripID string) error
	StopTracking()
	Tracking() (string, bool)
}

// NewTrip is the input to CreateTrip.
type NewTrip struct {
	InitiatorID string
	// Role is the side the initiator plays. It is never inferred.
	Role        domain.Role
	Counterpart domain.Party
	// StartLocation is optional; when nil a one-shot fix is taken.
	StartLocation *domain.LocationSample
}

// TripCoordinator implements the trip lifecycle.
type TripCoordinator struct {
	trips   repo.TripRepo
	users   repo.UserRepo
	tracker LocationSource
	log     *slog.Logger
	now     func() time.Time
}

// NewTripCoordinator constructs a TripCoordinator.
func NewTripCoordinator(trips repo.TripRepo, users repo.UserRepo, tracker LocationSource, log *slog.Logger) *TripCoordinator {
	return &TripCoordinator{
		trips:   trips,
		users:   users,
		tracker: tracker,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateTrip starts a trip for the initiator and binds location tracking
// to it.
// Returns domain.ErrValidation for a bad role or counterpart,
// domain.ErrActiveTrip when the initiator is still on an unfinished trip, and
// a *domain.LocationUnavailable when no start location could be acquired.
func (s *TripCoordinator) CreateTrip(ctx context.Context, in NewTrip) (domain.Trip, error) {
	if err := validateNewTrip(in); err != nil {
		return domain.Trip{}, err
	}

	user, err := s.users.GetByID(ctx, in.InitiatorID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.CreateTrip: %w", err)
	}
	if err := s.ensureNoActiveTrip(ctx, user); err != nil {
		return domain.Trip{}, err
	}

	var start domain.LocationSample
	if in.StartLocation != nil {
		start = *in.StartLocation
	} else {
		start, err = s.tracker.CurrentLocation(ctx)
		if err != nil {
			return domain.Trip{}, fmt.Errorf("service.TripCoordinator.CreateTrip: %w", err)
		}
	}

	now := s.now()
	trip, err := s.trips.Create(ctx, domain.Trip{
		Initiator:       domain.RegisteredParty{UserID: user.ID, Name: user.DisplayName()},
		InitiatorRole:   in.Role,
		Counterpart:     in.Counterpart,
		StartLocation:   start,
		CurrentLocation: start,
		Status:          domain.TripActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.CreateTrip: %w", err)
	}

	if err := s.users.SetCurrentTrip(ctx, user.ID, &trip.ID); err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.CreateTrip: %w", err)
	}

	if err := s.tracker.StartTracking(ctx, trip.ID); err != nil {
		s.log.WarnContext(ctx, "location tracking not started", "trip_id", trip.ID, "error", err)
	}

	s.log.InfoContext(ctx, "trip started",
		"trip_id", trip.ID,
		"initiator_id", user.ID,
		"initiator_role", string(in.Role),
		"counterpart", string(in.Counterpart.Kind()),
	)
	return trip, nil
}

// StartFromScan starts a trip with the registered user encoded in a scanned
// QR payload as the counterpart.
func (s *TripCoordinator) StartFromScan(ctx context.Context, initiatorID string, role domain.Role, payload []byte, start *domain.LocationSample) (domain.Trip, error) {
	p, err := domain.ParseQRPayload(payload)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.StartFromScan: %w", err)
	}
	return s.CreateTrip(ctx, NewTrip{
		InitiatorID:   initiatorID,
		Role:          role,
		Counterpart:   domain.Registered(p.UserID, p.Name),
		StartLocation: start,
	})
}

// EndTrip completes the trip on behalf of userID, who must be a participant.
// Ending an already completed trip returns it unchanged.
func (s *TripCoordinator) EndTrip(ctx context.Context, tripID, userID string, end *domain.LocationSample) (domain.Trip, error) {
	trip, err := s.participantTrip(ctx, tripID, userID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.EndTrip: %w", err)
	}
	if !trip.Status.CanTransitionTo(domain.TripCompleted) {
		return trip, nil
	}

	endLoc := trip.CurrentLocation
	if end != nil {
		endLoc = *end
	}
	endedAt := s.now()
	if err := s.trips.Complete(ctx, tripID, endLoc, endedAt); err != nil {
		if errors.Is(err, domain.ErrTripCompleted) {
			// A concurrent EndTrip got there first; report its result.
			if trip, err = s.trips.GetByID(ctx, tripID); err != nil {
				return domain.Trip{}, fmt.Errorf("service.TripCoordinator.EndTrip: %w", err)
			}
			return trip, nil
		}
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.EndTrip: %w", err)
	}

	if bound, ok := s.tracker.Tracking(); ok && bound == tripID {
		s.tracker.StopTracking()
	}

	// A pointer left dangling at a completed trip is treated as stale by
	// CreateTrip, so a failure here does not undo the completed trip.
	if err := s.users.SetCurrentTrip(ctx, userID, nil); err != nil {
		s.log.WarnContext(ctx, "current trip not cleared", "trip_id", tripID, "user_id", userID, "error", err)
	}

	trip.Status = domain.TripCompleted
	trip.EndLocation = &endLoc
	trip.EndedAt = &endedAt
	trip.UpdatedAt = endedAt

	s.log.InfoContext(ctx, "trip ended", "trip_id", tripID, "user_id", userID)
	return trip, nil
}

// GetTrip returns a trip the user participates in.
func (s *TripCoordinator) GetTrip(ctx context.Context, tripID, userID string) (domain.Trip, error) {
	trip, err := s.participantTrip(ctx, tripID, userID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.GetTrip: %w", err)
	}
	return trip, nil
}

// CurrentTrip returns the user's unfinished trip.
// Returns domain.ErrNotFound when there is none.
func (s *TripCoordinator) CurrentTrip(ctx context.Context, userID string) (domain.Trip, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.CurrentTrip: %w", err)
	}
	if user.CurrentTripID == nil {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.CurrentTrip: %w", domain.ErrNotFound)
	}
	trip, err := s.trips.GetByID(ctx, *user.CurrentTripID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.CurrentTrip: %w", err)
	}
	if trip.Status == domain.TripCompleted {
		return domain.Trip{}, fmt.Errorf("service.TripCoordinator.CurrentTrip: %w", domain.ErrNotFound)
	}
	return trip, nil
}

// Stats returns the duration and distance of a trip the user participates in.
func (s *TripCoordinator) Stats(ctx context.Context, tripID, userID string) (TripStats, error) {
	trip, err := s.participantTrip(ctx, tripID, userID)
	if err != nil {
		return TripStats{}, fmt.Errorf("service.TripCoordinator.Stats: %w", err)
	}
	return ComputeStats(trip, s.now()), nil
}

// ResolveRole returns the side userID plays on trip, or domain.RoleUnknown.
func ResolveRole(trip domain.Trip, userID string) domain.Role {
	return trip.RoleOf(userID)
}

// ResolveOtherParty returns the participant opposite userID.
func ResolveOtherParty(trip domain.Trip, userID string) (domain.Party, bool) {
	return trip.OtherParty(userID)
}

// TripStats summarizes a trip.
type TripStats struct {
	DurationSeconds   int64   `json:"duration_seconds"`
	FormattedDuration string  `json:"formatted_duration"`
	DistanceKm        float64 `json:"distance_km"`
}

// ComputeStats measures a trip from its start to its end (or now, while it
// runs). Distance is the straight line from the start to the current
// location.
func ComputeStats(trip domain.Trip, now time.Time) TripStats {
	until := now
	if trip.EndedAt != nil {
		until = *trip.EndedAt
	}
	d := until.Sub(trip.CreatedAt)
	if d < 0 {
		d = 0
	}
	return TripStats{
		DurationSeconds:   int64(d / time.Second),
		FormattedDuration: FormatDuration(d),
		DistanceKm: location.Distance(
			trip.StartLocation.Latitude, trip.StartLocation.Longitude,
			trip.CurrentLocation.Latitude, trip.CurrentLocation.Longitude,
		),
	}
}

// FormatDuration renders d as "Xh Ym", or "Ym" under an hour.
func FormatDuration(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func (s *TripCoordinator) participantTrip(ctx context.Context, tripID, userID string) (domain.Trip, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return domain.Trip{}, err
	}
	if trip.RoleOf(userID) == domain.RoleUnknown {
		return domain.Trip{}, domain.ErrNotParticipant
	}
	return trip, nil
}

// ensureNoActiveTrip rejects a user whose current trip is still running.
// A pointer to a completed or missing trip is stale and ignored.
func (s *TripCoordinator) ensureNoActiveTrip(ctx context.Context, user domain.User) error {
	if user.CurrentTripID == nil || *user.CurrentTripID == "" {
		return nil
	}
	prev, err := s.trips.GetByID(ctx, *user.CurrentTripID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("service.TripCoordinator.CreateTrip: %w", err)
	case prev.Status != domain.TripCompleted:
		return fmt.Errorf("service.TripCoordinator.CreateTrip: %w: trip %s", domain.ErrActiveTrip, prev.ID)
	}
	return nil
}

func validateNewTrip(in NewTrip) error {
	if strings.TrimSpace(in.InitiatorID) == "" {
		return fmt.Errorf("%w: initiator is required", domain.ErrValidation)
	}
	if !in.Role.Valid() {
		return fmt.Errorf("%w: role must be driver or hitchhiker", domain.ErrValidation)
	}
	switch in.Counterpart.Kind() {
	case domain.PartyRegistered:
		r, _ := in.Counterpart.AsRegistered()
		if strings.TrimSpace(r.UserID) == "" {
			return fmt.Errorf("%w: counterpart user id is required", domain.ErrValidation)
		}
		if r.UserID == in.InitiatorID {
			return fmt.Errorf("%w: cannot start a trip with yourself", domain.ErrValidation)
		}
	case domain.PartyGuest:
		g, _ := in.Counterpart.AsGuest()
		if strings.TrimSpace(g.Name) == "" {
			return fmt.Errorf("%w: guest name is required", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: counterpart is required", domain.ErrValidation)
	}
	if in.StartLocation != nil && !in.StartLocation.Valid() {
		return fmt.Errorf("%w: start location is out of range", domain.ErrValidation)
	}
	return nil
}
