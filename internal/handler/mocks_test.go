package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/handler"
	"github.com/hitchsafe/companion/internal/identity"
	"github.com/hitchsafe/companion/internal/service"
)

// mockTrips is a test double for handler.TripCoordinator.
// Set only the method fields your test needs.
type mockTrips struct {
	create  func(ctx context.Context, in service.NewTrip) (domain.Trip, error)
	scan    func(ctx context.Context, initiatorID string, role domain.Role, payload []byte, start *domain.LocationSample) (domain.Trip, error)
	end     func(ctx context.Context, tripID, userID string, end *domain.LocationSample) (domain.Trip, error)
	get     func(ctx context.Context, tripID, userID string) (domain.Trip, error)
	current func(ctx context.Context, userID string) (domain.Trip, error)
	stats   func(ctx context.Context, tripID, userID string) (service.TripStats, error)
}

func (m *mockTrips) CreateTrip(ctx context.Context, in service.NewTrip) (domain.Trip, error) {
	return m.create(ctx, in)
}
func (m *mockTrips) StartFromScan(ctx context.Context, initiatorID string, role domain.Role, payload []byte, start *domain.LocationSample) (domain.Trip, error) {
	return m.scan(ctx, initiatorID, role, payload, start)
}
func (m *mockTrips) EndTrip(ctx context.Context, tripID, userID string, end *domain.LocationSample) (domain.Trip, error) {
	return m.end(ctx, tripID, userID, end)
}
func (m *mockTrips) GetTrip(ctx context.Context, tripID, userID string) (domain.Trip, error) {
	return m.get(ctx, tripID, userID)
}
func (m *mockTrips) CurrentTrip(ctx context.Context, userID string) (domain.Trip, error) {
	return m.current(ctx, userID)
}
func (m *mockTrips) Stats(ctx context.Context, tripID, userID string) (service.TripStats, error) {
	return m.stats(ctx, tripID, userID)
}

// mockEmergency is a test double for handler.EmergencyCoordinator.
type mockEmergency struct {
	trigger  func(ctx context.Context, tripID, userID, message string) (service.TriggerResult, error)
	stop     func(ctx context.Context, userID string) (string, bool, error)
	stopTrip func(ctx context.Context, tripID string) (string, bool, error)
}

func (m *mockEmergency) Trigger(ctx context.Context, tripID, userID, message string) (service.TriggerResult, error) {
	return m.trigger(ctx, tripID, userID, message)
}
func (m *mockEmergency) StopRecording(ctx context.Context, userID string) (string, bool, error) {
	return m.stop(ctx, userID)
}
func (m *mockEmergency) StopTripRecording(ctx context.Context, tripID string) (string, bool, error) {
	return m.stopTrip(ctx, tripID)
}

// mockContacts is a test double for handler.ContactServicer.
type mockContacts struct {
	add  func(ctx context.Context, userID string, c domain.EmergencyContact) (domain.EmergencyContact, error)
	list func(ctx context.Context, userID string) ([]domain.EmergencyContact, error)
}

func (m *mockContacts) Add(ctx context.Context, userID string, c domain.EmergencyContact) (domain.EmergencyContact, error) {
	return m.add(ctx, userID, c)
}
func (m *mockContacts) List(ctx context.Context, userID string) ([]domain.EmergencyContact, error) {
	return m.list(ctx, userID)
}

// mockUsers is a test double for handler.UserServicer.
type mockUsers struct {
	get func(ctx context.Context, userID string) (domain.User, error)
	qr  func(ctx context.Context, userID string) (domain.QRPayload, error)
}

func (m *mockUsers) Get(ctx context.Context, userID string) (domain.User, error) {
	return m.get(ctx, userID)
}
func (m *mockUsers) QRPayload(ctx context.Context, userID string) (domain.QRPayload, error) {
	return m.qr(ctx, userID)
}

// mockIdentity is a test double for handler.IdentityProvider. Verify
// accepts any token listed in tokens.
type mockIdentity struct {
	tokens  map[string]string
	signUp  func(ctx context.Context, in identity.SignUpInput) (domain.User, identity.Session, error)
	signIn  func(ctx context.Context, email, password string) (domain.User, identity.Session, error)
	signOut func(ctx context.Context, token string) error
}

func (m *mockIdentity) SignUp(ctx context.Context, in identity.SignUpInput) (domain.User, identity.Session, error) {
	return m.signUp(ctx, in)
}
func (m *mockIdentity) SignIn(ctx context.Context, email, password string) (domain.User, identity.Session, error) {
	return m.signIn(ctx, email, password)
}
func (m *mockIdentity) SignOut(ctx context.Context, token string) error {
	return m.signOut(ctx, token)
}
func (m *mockIdentity) Verify(token string) (string, error) {
	if id, ok := m.tokens[token]; ok {
		return id, nil
	}
	return "", domain.NewAuthError(domain.AuthInvalidToken, nil)
}

// mockFeed records what the device reported.
type mockFeed struct {
	pushed []domain.LocationSample
	failed []string
}

func (m *mockFeed) Push(s domain.LocationSample) { m.pushed = append(m.pushed, s) }
func (m *mockFeed) Fail(reason string)           { m.failed = append(m.failed, reason) }

// mockAudio is a test double for handler.AudioSink.
type mockAudio struct {
	append func(p []byte) error
}

func (m *mockAudio) Append(p []byte) error { return m.append(p) }

// mockCaller is a test double for handler.EmergencyCaller.
type mockCaller struct {
	call func(ctx context.Context) (string, bool)
}

func (m *mockCaller) CallEmergencyServices(ctx context.Context) (string, bool) { return m.call(ctx) }

// compile-time checks: the mocks must satisfy the handler interfaces.
var (
	_ handler.TripCoordinator      = (*mockTrips)(nil)
	_ handler.EmergencyCoordinator = (*mockEmergency)(nil)
	_ handler.ContactServicer      = (*mockContacts)(nil)
	_ handler.UserServicer         = (*mockUsers)(nil)
	_ handler.IdentityProvider     = (*mockIdentity)(nil)
	_ handler.PositionFeed         = (*mockFeed)(nil)
	_ handler.AudioSink            = (*mockAudio)(nil)
	_ handler.EmergencyCaller      = (*mockCaller)(nil)
)

// ---- helpers ---------------------------------------------------------------

const (
	anaToken = "token-ana"
	anaID    = "ana"
	tripID   = "0190c6a2-7b1e-7c3d-9a4f-1d2e3f405162"
)

// newHTTPHandler wires a Server with the given deps into a chi router. A
// mockIdentity accepting anaToken is supplied when deps has none.
// This mirrors exactly how the app wires it in production.
func newHTTPHandler(deps handler.Deps) http.Handler {
	if deps.Identity == nil {
		deps.Identity = &mockIdentity{tokens: map[string]string{anaToken: anaID}}
	}
	return handler.NewServer(deps, nil).Handler()
}

// do sends an authenticated request as ana and returns the recorder.
func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		r = jsonBody(t, b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+anaToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var resp handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}
