// Package ws streams accepted location samples and local notifications to
// the UI over a WebSocket.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/notify"
)

const (
	authWait   = 5 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

// Message types sent to clients.
const (
	TypeLocation     = "location"
	TypeNotification = "notification"
)

// Envelope is the JSON frame written to clients.
type Envelope struct {
	Type   string `json:"type"`
	TripID string `json:"trip_id,omitempty"`
	Data   any    `json:"data"`
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Verifier resolves a session token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// TripReader looks up the trip a frame belongs to.
type TripReader interface {
	GetByID(ctx context.Context, id string) (domain.Trip, error)
}

type client struct {
	userID string
	once   sync.Once
	done   chan struct{}
	send   chan any
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// push never blocks; a client that cannot keep up misses the frame.
func (c *client) push(v any) bool {
	select {
	case <-c.done:
		return false
	case c.send <- v:
		return true
	default:
		return false
	}
}

// Hub fans frames out to authenticated connections. Frames tied to a trip
// reach only the connections of that trip's participants.
type Hub struct {
	logger   *slog.Logger
	verifier Verifier
	trips    TripReader
	upgrader websocket.Upgrader
	clients  sync.Map // map[string]*client
}

// NewHub returns a Hub authenticating connections with verifier and
// resolving trip participants through trips. The first frame from a client
// must be {"type":"auth","token":"..."}.
func NewHub(verifier Verifier, trips TripReader, logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logger,
		verifier: verifier,
		trips:    trips,
		upgrader: websocket.Upgrader{
			// The UI is served from the device itself; CORS is enforced on the REST API.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	userID, err := h.authenticate(conn)
	if err != nil {
		h.logger.Warn("websocket auth failed", "error", err)
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	c := &client{userID: userID, done: make(chan struct{}), send: make(chan any, sendBuffer)}
	id := uuid.NewString()
	h.clients.Store(id, c)
	defer h.clients.Delete(id)

	if err := conn.WriteJSON(map[string]string{"msg": "ready"}); err != nil {
		return
	}
	h.logger.Info("stream client connected", "user_id", userID, "client_id", id)

	go h.reader(conn, c)
	h.writer(r.Context(), conn, c)
	h.logger.Info("stream client disconnected", "user_id", userID, "client_id", id)
}

func (h *Hub) authenticate(conn *websocket.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(authWait)); err != nil {
		return "", err
	}
	var auth authMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return "", err
	}
	if auth.Type != "auth" {
		return "", fmt.Errorf("invalid auth type: %s", auth.Type)
	}
	return h.verifier.Verify(auth.Token)
}

// reader drains client frames so pong control frames are processed.
func (h *Hub) reader(conn *websocket.Conn, c *client) {
	defer c.close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writer(ctx context.Context, conn *websocket.Conn, c *client) {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case v := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Broadcast queues v for every connected client.
func (h *Hub) Broadcast(v any) {
	h.send(v, func(*client) bool { return true })
}

// SendToUsers queues v for the connections of the given users.
func (h *Hub) SendToUsers(userIDs []string, v any) {
	h.send(v, func(c *client) bool { return slices.Contains(userIDs, c.userID) })
}

func (h *Hub) send(v any, match func(*client) bool) {
	h.clients.Range(func(key, value any) bool {
		c, ok := value.(*client)
		if !ok || !match(c) {
			return true
		}
		if !c.push(v) {
			h.logger.Debug("stream frame dropped", "client_id", key)
		}
		return true
	})
}

// sendToTrip queues v for the participants of tripID. The frame is dropped
// when the trip cannot be read.
func (h *Hub) sendToTrip(ctx context.Context, tripID string, v any) {
	trip, err := h.trips.GetByID(ctx, tripID)
	if err != nil {
		h.logger.Warn("stream frame dropped, trip lookup failed", "trip_id", tripID, "error", err)
		return
	}
	h.SendToUsers(trip.Participants(), v)
}

// PublishLocation streams an accepted sample to the trip's participants.
// It matches the tracker's sample observer signature.
func (h *Hub) PublishLocation(tripID string, s domain.LocationSample) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	h.sendToTrip(ctx, tripID, Envelope{Type: TypeLocation, TripID: tripID, Data: s})
}

// Present streams a local notification, to the trip's participants when it
// names a trip.
func (h *Hub) Present(ctx context.Context, n notify.Notification) {
	env := Envelope{Type: TypeNotification, TripID: n.TripID, Data: n}
	if n.TripID == "" {
		h.Broadcast(env)
		return
	}
	h.sendToTrip(ctx, n.TripID, env)
}

// Clients counts the connected, authenticated clients.
func (h *Hub) Clients() int {
	n := 0
	h.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
