package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hitchsafe/companion/internal/alert"
	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/notify"
	"github.com/hitchsafe/companion/internal/repo"
	"github.com/hitchsafe/companion/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---- fakeTracker -----------------------------------------------------------

// fakeTracker is a hand-written service.LocationSource.
// onCurrent, when set, runs while a one-shot fix is being taken.
type fakeTracker struct {
	mu        sync.Mutex
	fix       domain.LocationSample
	fixErr    error
	bound     string
	starts    []string
	stopped   int
	onCurrent func()
}

func (f *fakeTracker) CurrentLocation(context.Context) (domain.LocationSample, error) {
	f.mu.Lock()
	fix, err, hook := f.fix, f.fixErr, f.onCurrent
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return fix, err
}

func (f *fakeTracker) StartTracking(_ context.Context, tripID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = tripID
	f.starts = append(f.starts, tripID)
	return nil
}

func (f *fakeTracker) StopTracking() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound != "" {
		f.stopped++
	}
	f.bound = ""
}

func (f *fakeTracker) Tracking() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bound, f.bound != ""
}

var _ service.LocationSource = (*fakeTracker)(nil)

// ---- fakeSession -----------------------------------------------------------

type fakeSession struct {
	mu       sync.Mutex
	open     bool
	tripID   string
	starts   int
	startErr error
}

func (f *fakeSession) Start(_ context.Context, tripID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return false, f.startErr
	}
	if f.open {
		return false, nil
	}
	f.open = true
	f.tripID = tripID
	f.starts++
	return true, nil
}

func (f *fakeSession) StopTrip(_ context.Context, tripID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open || f.tripID != tripID {
		return "", false, nil
	}
	f.open = false
	return "rec.mp4", true, nil
}

func (f *fakeSession) TripID() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tripID, f.open
}

func (f *fakeSession) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

var _ service.RecordingSession = (*fakeSession)(nil)

// ---- fakeDispatcher --------------------------------------------------------

type fakeDispatcher struct {
	mu       sync.Mutex
	fanOuts  int
	events   []domain.EmergencyEvent
	contacts [][]domain.EmergencyContact
}

func (f *fakeDispatcher) FanOut(_ context.Context, ev domain.EmergencyEvent, cs []domain.EmergencyContact) alert.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fanOuts++
	f.events = append(f.events, ev)
	f.contacts = append(f.contacts, cs)
	var r alert.Report
	for _, c := range cs {
		r.Attempts = append(r.Attempts, alert.Attempt{ContactID: c.ID, Channel: alert.ChannelSMS, Delivered: true})
	}
	return r
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fanOuts
}

var _ service.AlertDispatcher = (*fakeDispatcher)(nil)

// ---- presenters and publishers ---------------------------------------------

type capturePresenter struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (c *capturePresenter) Present(_ context.Context, n notify.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
}

func (c *capturePresenter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type mockPublisher struct {
	publish func(ctx context.Context, ev domain.EmergencyEvent) error
}

func (m *mockPublisher) PublishEmergency(ctx context.Context, ev domain.EmergencyEvent) error {
	return m.publish(ctx, ev)
}

var _ service.EventPublisher = (*mockPublisher)(nil)

// ---- fixture ---------------------------------------------------------------

var berlin = domain.LocationSample{
	Latitude:  52.520008,
	Longitude: 13.404954,
	Accuracy:  5,
	Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
}

// fixture wires both coordinators over an in-memory store, with two
// registered users: ana (driver) and ben (hitchhiker).
type fixture struct {
	store      repo.DocumentStore
	trips      repo.TripRepo
	users      repo.UserRepo
	contacts   repo.ContactRepo
	tracker    *fakeTracker
	session    *fakeSession
	dispatcher *fakeDispatcher
	presenter  *capturePresenter
	coord      *service.TripCoordinator
	emergency  *service.EmergencyCoordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemoryStore()
	f := &fixture{
		store:      store,
		trips:      repo.NewTripRepo(store),
		users:      repo.NewUserRepo(store),
		contacts:   repo.NewContactRepo(store),
		tracker:    &fakeTracker{fix: berlin},
		session:    &fakeSession{},
		dispatcher: &fakeDispatcher{},
		presenter:  &capturePresenter{},
	}
	f.coord = service.NewTripCoordinator(f.trips, f.users, f.tracker, discardLogger())
	f.emergency = f.newEmergency(f.trips, nil)

	ctx := context.Background()
	for _, u := range []domain.User{
		{ID: "ana", FirstName: "Ana", LastName: "Lopez", UserType: domain.UserTypeDriver, IsActive: true},
		{ID: "ben", FirstName: "Ben", LastName: "Okafor", UserType: domain.UserTypeHitchhiker, IsActive: true},
		{ID: "cat", FirstName: "Cat", UserType: domain.UserTypeBoth, IsActive: true},
	} {
		_, err := f.users.Create(ctx, u)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) newEmergency(trips repo.TripRepo, events service.EventPublisher) *service.EmergencyCoordinator {
	return service.NewEmergencyCoordinator(service.EmergencyDeps{
		Trips:    trips,
		Contacts: f.contacts,
		Tracker:  f.tracker,
		Session:  f.session,
		Alerts:   f.dispatcher,
		Notifier: f.presenter,
		Events:   events,
	}, discardLogger())
}

// startTrip creates an ana(driver) / ben(hitchhiker) trip.
func (f *fixture) startTrip(t *testing.T) domain.Trip {
	t.Helper()
	start := berlin
	trip, err := f.coord.CreateTrip(context.Background(), service.NewTrip{
		InitiatorID:   "ana",
		Role:          domain.RoleDriver,
		Counterpart:   domain.Registered("ben", "Ben Okafor"),
		StartLocation: &start,
	})
	require.NoError(t, err)
	return trip
}
