// Package handler implements the HTTP API the UI collaborator talks to.
// All handlers are methods on Server. Methods are split into domain-specific
// files (health.go, trip.go, emergency.go, etc.) but all share the same
// Server struct so they can access its dependencies.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/identity"
	"github.com/hitchsafe/companion/internal/middleware"
	"github.com/hitchsafe/companion/internal/service"
)

// TripCoordinator defines the trip operations the handlers depend on.
// Defining the interface here (in the consumer package) lets handler tests
// inject a mock without touching the store or the tracker.
type TripCoordinator interface {
	CreateTrip(ctx context.Context, in service.NewTrip) (domain.Trip, error)
	StartFromScan(ctx context.Context, initiatorID string, role domain.Role, payload []byte, start *domain.LocationSample) (domain.Trip, error)
	EndTrip(ctx context.Context, tripID, userID string, end *domain.LocationSample) (domain.Trip, error)
	GetTrip(ctx context.Context, tripID, userID string) (domain.Trip, error)
	CurrentTrip(ctx context.Context, userID string) (domain.Trip, error)
	Stats(ctx context.Context, tripID, userID string) (service.TripStats, error)
}

// EmergencyCoordinator defines the emergency operations the handlers depend on.
type EmergencyCoordinator interface {
	Trigger(ctx context.Context, tripID, userID, message string) (service.TriggerResult, error)
	StopRecording(ctx context.Context, userID string) (string, bool, error)
	StopTripRecording(ctx context.Context, tripID string) (string, bool, error)
}

// ContactServicer defines the emergency contact operations.
type ContactServicer interface {
	Add(ctx context.Context, userID string, c domain.EmergencyContact) (domain.EmergencyContact, error)
	List(ctx context.Context, userID string) ([]domain.EmergencyContact, error)
}

// UserServicer defines the profile reads.
type UserServicer interface {
	Get(ctx context.Context, userID string) (domain.User, error)
	QRPayload(ctx context.Context, userID string) (domain.QRPayload, error)
}

// IdentityProvider defines the account and session operations.
type IdentityProvider interface {
	SignUp(ctx context.Context, in identity.SignUpInput) (domain.User, identity.Session, error)
	SignIn(ctx context.Context, email, password string) (domain.User, identity.Session, error)
	SignOut(ctx context.Context, token string) error
	Verify(token string) (string, error)
}

// PositionFeed receives fixes and failures reported by the device.
type PositionFeed interface {
	Push(sample domain.LocationSample)
	Fail(reason string)
}

// AudioSink receives audio chunks for the open emergency recording.
type AudioSink interface {
	Append(p []byte) error
}

// EmergencyCaller opens the dialer on the local emergency number.
type EmergencyCaller interface {
	CallEmergencyServices(ctx context.Context) (uri string, opened bool)
}

// Deps bundles the collaborators of a Server. Nil fields disable the routes
// that need them.
type Deps struct {
	Trips     TripCoordinator
	Emergency EmergencyCoordinator
	Contacts  ContactServicer
	Users     UserServicer
	Identity  IdentityProvider
	Positions PositionFeed
	Audio     AudioSink
	Caller    EmergencyCaller
	// Stream serves GET /stream; it authenticates its own connections.
	Stream http.Handler
	// OpenAPI is served verbatim at GET /openapi.yaml.
	OpenAPI []byte
}

// Server holds the dependencies shared by every handler.
type Server struct {
	trips     TripCoordinator
	emergency EmergencyCoordinator
	contacts  ContactServicer
	users     UserServicer
	identity  IdentityProvider
	positions PositionFeed
	audio     AudioSink
	caller    EmergencyCaller
	stream    http.Handler
	openAPI   []byte
	log       *slog.Logger
}

// NewServer constructs the Server with all its dependencies.
func NewServer(deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		trips:     deps.Trips,
		emergency: deps.Emergency,
		contacts:  deps.Contacts,
		users:     deps.Users,
		identity:  deps.Identity,
		positions: deps.Positions,
		audio:     deps.Audio,
		caller:    deps.Caller,
		stream:    deps.Stream,
		openAPI:   deps.OpenAPI,
		log:       log,
	}
}

// NewHealthHandler returns a Server for health-check-only use.
func NewHealthHandler() *Server {
	return NewServer(Deps{}, nil)
}

// Routes mounts every endpoint on r. Everything except the health check,
// the OpenAPI document, sign-up/sign-in and the WebSocket stream requires a
// bearer token.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.GetHealth)
	if s.openAPI != nil {
		r.Get("/openapi.yaml", s.GetOpenAPI)
	}
	if s.stream != nil {
		r.Handle("/stream", s.stream)
	}
	if s.identity == nil {
		return
	}

	r.Post("/auth/signup", s.SignUp)
	r.Post("/auth/signin", s.SignIn)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthenticator(s.identity))

		r.Post("/auth/signout", s.SignOut)

		r.Get("/me", s.GetMe)
		r.Get("/me/qr", s.GetQRPayload)
		r.Get("/me/contacts", s.ListContacts)
		r.Post("/me/contacts", s.AddContact)

		r.Post("/trips", s.CreateTrip)
		r.Post("/trips/scan", s.ScanTrip)
		r.Get("/trips/current", s.GetCurrentTrip)
		r.Route("/trips/{tripId}", func(r chi.Router) {
			r.Get("/", s.GetTrip)
			r.Get("/stats", s.GetTripStats)
			r.Post("/end", s.EndTrip)
			r.Post("/emergency", s.TriggerEmergency)
		})

		r.Post("/emergency/recording/stop", s.StopRecording)
		r.Post("/emergency/recording/audio", s.AppendAudio)
		if s.caller != nil {
			r.Post("/emergency/call", s.CallEmergencyServices)
		}

		r.Post("/device/positions", s.PushPosition)
		r.Post("/device/positions/error", s.PushPositionError)
	})
}

// Handler returns a fresh chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

// currentUser returns the id the authenticator stored in the context.
func currentUser(r *http.Request) string {
	id, _ := middleware.UserID(r.Context())
	return id
}
