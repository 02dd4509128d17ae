package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/repo"
)

// tripFixture returns a domain.Trip with sensible defaults for use in tests.
// Callers can override individual fields after calling this function.
func tripFixture() domain.Trip {
	start := domain.LocationSample{
		Latitude:  40.7128,
		Longitude: -74.0060,
		Accuracy:  5,
		Timestamp: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	return domain.Trip{
		Initiator:       domain.RegisteredParty{UserID: "u1", Name: "Hugo Hiker"},
		InitiatorRole:   domain.RoleHitchhiker,
		Counterpart:     domain.Registered("u2", "Dana Driver"),
		StartLocation:   start,
		CurrentLocation: start,
		Status:          domain.TripActive,
		CreatedAt:       start.Timestamp,
		UpdatedAt:       start.Timestamp,
	}
}

func newTripRepo() repo.TripRepo {
	return repo.NewTripRepo(repo.NewMemoryStore())
}

func TestTripRepo_Create(t *testing.T) {
	r := newTripRepo()
	ctx := context.Background()

	got, err := r.Create(ctx, tripFixture())

	require.NoError(t, err)
	assert.NotEmpty(t, got.ID, "ID should be generated")

	stored, err := r.GetByID(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, stored.ID)
	assert.Equal(t, "Hugo Hiker", stored.Initiator.Name)
	assert.Equal(t, domain.RoleHitchhiker, stored.InitiatorRole)
	reg, ok := stored.Counterpart.AsRegistered()
	require.True(t, ok)
	assert.Equal(t, "u2", reg.UserID)
	assert.Equal(t, domain.TripActive, stored.Status)
	assert.False(t, stored.IsEmergency)
	assert.True(t, stored.StartLocation.Timestamp.Equal(stored.CurrentLocation.Timestamp))
}

func TestTripRepo_GetByID_NotFound(t *testing.T) {
	r := newTripRepo()

	_, err := r.GetByID(context.Background(), "ghost")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTripRepo_UpdateLocation(t *testing.T) {
	r := newTripRepo()
	ctx := context.Background()

	created, err := r.Create(ctx, tripFixture())
	require.NoError(t, err)

	speed := 12.5
	next := domain.LocationSample{Latitude: 41, Longitude: -73, Accuracy: 3, Speed: &speed, Timestamp: time.Now().UTC()}
	require.NoError(t, r.UpdateLocation(ctx, created.ID, next))

	got, err := r.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 41.0, got.CurrentLocation.Latitude)
	require.NotNil(t, got.CurrentLocation.Speed)
	assert.Equal(t, 12.5, *got.CurrentLocation.Speed)
	assert.Equal(t, 40.7128, got.StartLocation.Latitude, "start location is never overwritten")
}

func TestTripRepo_UpdateLocation_NotFound(t *testing.T) {
	r := newTripRepo()

	err := r.UpdateLocation(context.Background(), "ghost", domain.LocationSample{})

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTripRepo_MarkEmergency_AttachRecording(t *testing.T) {
	r := newTripRepo()
	ctx := context.Background()

	created, err := r.Create(ctx, tripFixture())
	require.NoError(t, err)

	event := domain.EmergencyEvent{
		TripID:    created.ID,
		UserID:    "u1",
		Location:  &created.CurrentLocation,
		Timestamp: time.Now().UTC(),
		Message:   "help",
		Role:      domain.RoleHitchhiker,
	}
	require.NoError(t, r.MarkEmergency(ctx, created.ID, event))
	require.NoError(t, r.AttachRecording(ctx, created.ID, "/rec/a.mp4"))

	got, err := r.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsEmergency)
	assert.Equal(t, domain.TripEmergency, got.Status)
	require.NotNil(t, got.Emergency)
	assert.Equal(t, "help", got.Emergency.Message)
	assert.Equal(t, "/rec/a.mp4", got.Emergency.RecordingRef)
}

func TestTripRepo_Complete(t *testing.T) {
	r := newTripRepo()
	ctx := context.Background()

	created, err := r.Create(ctx, tripFixture())
	require.NoError(t, err)

	endedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	end := domain.LocationSample{Latitude: 42, Longitude: -71, Timestamp: endedAt}
	require.NoError(t, r.Complete(ctx, created.ID, end, endedAt))

	got, err := r.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TripCompleted, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(endedAt))
	require.NotNil(t, got.EndLocation)
	assert.Equal(t, 42.0, got.EndLocation.Latitude)
}

func TestTripRepo_CompletedIsTerminal(t *testing.T) {
	r := newTripRepo()
	ctx := context.Background()

	created, err := r.Create(ctx, tripFixture())
	require.NoError(t, err)
	endedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	end := domain.LocationSample{Latitude: 42, Longitude: -71, Timestamp: endedAt}
	require.NoError(t, r.Complete(ctx, created.ID, end, endedAt))

	err = r.MarkEmergency(ctx, created.ID, domain.EmergencyEvent{TripID: created.ID, UserID: "u1", Message: "help"})
	assert.ErrorIs(t, err, domain.ErrTripCompleted)
	err = r.Complete(ctx, created.ID, end, endedAt.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrTripCompleted)

	got, err := r.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TripCompleted, got.Status)
	assert.False(t, got.IsEmergency)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(endedAt))
}

func TestTripRepo_Complete_NotFound(t *testing.T) {
	err := newTripRepo().Complete(context.Background(), "ghost", domain.LocationSample{}, time.Now())

	assert.ErrorIs(t, err, domain.ErrNotFound)
}
