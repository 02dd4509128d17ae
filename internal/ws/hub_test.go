package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/notify"
	"github.com/hitchsafe/companion/internal/ws"
)

type mockVerifier struct {
	verify func(token string) (string, error)
}

func (m mockVerifier) Verify(token string) (string, error) { return m.verify(token) }

var _ ws.Verifier = mockVerifier{}

type mockTrips struct {
	get func(ctx context.Context, id string) (domain.Trip, error)
}

func (m mockTrips) GetByID(ctx context.Context, id string) (domain.Trip, error) { return m.get(ctx, id) }

var _ ws.TripReader = mockTrips{}

// newHubServer serves a hub where "good" signs in u1 and "other" signs in
// u2. Trip t1 is shared by u1 and u3.
func newHubServer(t *testing.T) (*ws.Hub, string) {
	t.Helper()
	tokens := map[string]string{"good": "u1", "other": "u2"}
	verifier := mockVerifier{verify: func(token string) (string, error) {
		id, ok := tokens[token]
		if !ok {
			return "", errors.New("bad token")
		}
		return id, nil
	}}
	trips := mockTrips{get: func(_ context.Context, id string) (domain.Trip, error) {
		if id != "t1" {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{
			ID:            "t1",
			Initiator:     domain.RegisteredParty{UserID: "u1", Name: "Ana"},
			InitiatorRole: domain.RoleDriver,
			Counterpart:   domain.Registered("u3", "Ben"),
			Status:        domain.TripActive,
		}, nil
	}}
	hub := ws.NewHub(verifier, trips, slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))
	return conn
}

func TestHub_StreamsTripFramesToParticipants(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url, "good")

	var ack map[string]string
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ready", ack["msg"])
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.PublishLocation("t1", domain.LocationSample{Latitude: 1, Longitude: 2})
	hub.Present(context.Background(), notify.EmergencySent("t1", time.Now()))

	var first, second struct {
		Type   string          `json:"type"`
		TripID string          `json:"trip_id"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, ws.TypeLocation, first.Type)
	assert.Equal(t, "t1", first.TripID)
	assert.Equal(t, ws.TypeNotification, second.Type)
}

func TestHub_RejectsBadToken(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url, "bad")

	var resp map[string]string
	require.NoError(t, conn.ReadJSON(&resp))

	assert.Contains(t, resp["error"], "bad token")
	assert.Equal(t, 0, hub.Clients())
}

func TestHub_ClientRemovedOnDisconnect(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url, "good")
	var ack map[string]string
	require.NoError(t, conn.ReadJSON(&ack))
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

// expectReady reads the ready acknowledgement.
func expectReady(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var ack map[string]string
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "ready", ack["msg"])
}

// expectSilence fails if conn receives a frame within a short window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	var frame map[string]any
	err := conn.ReadJSON(&frame)
	assert.Error(t, err, "unexpected frame %v", frame)
}

func TestHub_LocationNotSentToOutsiders(t *testing.T) {
	hub, url := newHubServer(t)
	participant := dial(t, url, "good")
	outsider := dial(t, url, "other")
	expectReady(t, participant)
	expectReady(t, outsider)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	hub.PublishLocation("t1", domain.LocationSample{Latitude: 1, Longitude: 2})

	var frame ws.Envelope
	require.NoError(t, participant.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, participant.ReadJSON(&frame))
	assert.Equal(t, ws.TypeLocation, frame.Type)
	expectSilence(t, outsider)
}

func TestHub_UnknownTripFramesDropped(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url, "good")
	expectReady(t, conn)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.PublishLocation("t-unknown", domain.LocationSample{Latitude: 1, Longitude: 2})
	hub.Present(context.Background(), notify.EmergencySent("t-unknown", time.Now()))

	expectSilence(t, conn)
}
