package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/service"
)

// CreateTripRequest is the body of POST /trips.
type CreateTripRequest struct {
	Role          domain.Role            `json:"role"`
	Counterpart   domain.Party           `json:"counterpart"`
	StartLocation *domain.LocationSample `json:"start_location,omitempty"`
}

// ScanTripRequest is the body of POST /trips/scan. Payload is the raw text
// decoded from the other participant's QR code.
type ScanTripRequest struct {
	Role          domain.Role            `json:"role"`
	Payload       string                 `json:"payload"`
	StartLocation *domain.LocationSample `json:"start_location,omitempty"`
}

// EndTripRequest is the optional body of POST /trips/{tripId}/end.
type EndTripRequest struct {
	EndLocation *domain.LocationSample `json:"end_location,omitempty"`
}

// TripResponse is a trip as seen by the calling participant.
type TripResponse struct {
	domain.Trip
	Role       domain.Role   `json:"role"`
	OtherParty *domain.Party `json:"other_party,omitempty"`
}

// CreateTrip handles POST /trips.
func (s *Server) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req CreateTripRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, requestBody("invalid request body: "+err.Error()))
		return
	}

	userID := currentUser(r)
	trip, err := s.trips.CreateTrip(r.Context(), service.NewTrip{
		InitiatorID:   userID,
		Role:          req.Role,
		Counterpart:   req.Counterpart,
		StartLocation: req.StartLocation,
	})
	if err != nil {
		s.writeServiceError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusCreated, tripToResponse(trip, userID))
}

// ScanTrip handles POST /trips/scan.
func (s *Server) ScanTrip(w http.ResponseWriter, r *http.Request) {
	var req ScanTripRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, requestBody("invalid request body: "+err.Error()))
		return
	}

	userID := currentUser(r)
	trip, err := s.trips.StartFromScan(r.Context(), userID, req.Role, []byte(req.Payload), req.StartLocation)
	if err != nil {
		s.writeServiceError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusCreated, tripToResponse(trip, userID))
}

// GetCurrentTrip handles GET /trips/current.
func (s *Server) GetCurrentTrip(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	trip, err := s.trips.CurrentTrip(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err, "no active trip")
		return
	}
	writeJSON(w, http.StatusOK, tripToResponse(trip, userID))
}

// GetTrip handles GET /trips/{tripId}.
func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	tripID, ok := tripIDParam(w, r)
	if !ok {
		return
	}

	userID := currentUser(r)
	trip, err := s.trips.GetTrip(r.Context(), tripID, userID)
	if err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	writeJSON(w, http.StatusOK, tripToResponse(trip, userID))
}

// GetTripStats handles GET /trips/{tripId}/stats.
func (s *Server) GetTripStats(w http.ResponseWriter, r *http.Request) {
	tripID, ok := tripIDParam(w, r)
	if !ok {
		return
	}

	stats, err := s.trips.Stats(r.Context(), tripID, currentUser(r))
	if err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// EndTrip handles POST /trips/{tripId}/end.
// Once the caller is known to be a participant, an emergency recording still
// running for this trip is stopped before the trip ends.
func (s *Server) EndTrip(w http.ResponseWriter, r *http.Request) {
	tripID, ok := tripIDParam(w, r)
	if !ok {
		return
	}
	var req EndTripRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, requestBody("invalid request body: "+err.Error()))
		return
	}

	userID := currentUser(r)
	if _, err := s.trips.GetTrip(r.Context(), tripID, userID); err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	if s.emergency != nil {
		if _, _, err := s.emergency.StopTripRecording(r.Context(), tripID); err != nil {
			s.log.WarnContext(r.Context(), "recording not stopped before trip end", "trip_id", tripID, "error", err)
		}
	}

	trip, err := s.trips.EndTrip(r.Context(), tripID, userID, req.EndLocation)
	if err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	writeJSON(w, http.StatusOK, tripToResponse(trip, userID))
}

// --- mapping helpers --------------------------------------------------------

// tripIDParam binds the {tripId} path segment. It writes a 400 and returns
// ok=false when the segment is not a UUID.
func tripIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "tripId", chi.URLParam(r, "tripId"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, requestBody("invalid tripId: "+err.Error()))
		return "", false
	}
	return id.String(), true
}

// tripToResponse attaches the caller's side and counterpart to a trip.
func tripToResponse(t domain.Trip, userID string) TripResponse {
	resp := TripResponse{Trip: t, Role: service.ResolveRole(t, userID)}
	if p, ok := service.ResolveOtherParty(t, userID); ok && !p.IsZero() {
		resp.OtherParty = &p
	}
	return resp
}
