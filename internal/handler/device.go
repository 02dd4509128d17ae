package handler

import (
	"net/http"
	"strings"

	"github.com/hitchsafe/companion/internal/domain"
)

// PositionErrorRequest is the body of POST /device/positions/error.
type PositionErrorRequest struct {
	Reason string `json:"reason"`
}

// PushPosition handles POST /device/positions. The device reports every
// fix it gets; throttling happens in the tracker.
func (s *Server) PushPosition(w http.ResponseWriter, r *http.Request) {
	var sample domain.LocationSample
	if err := decodeJSON(r, &sample, false); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, requestBody("invalid request body: "+err.Error()))
		return
	}
	if !sample.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorDetail{Code: "validation_error", Message: "coordinates out of range"}})
		return
	}

	s.positions.Push(sample)
	w.WriteHeader(http.StatusAccepted)
}

// PushPositionError handles POST /device/positions/error, e.g. when the
// user denied location permission.
func (s *Server) PushPositionError(w http.ResponseWriter, r *http.Request) {
	var req PositionErrorRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, requestBody("invalid request body: "+err.Error()))
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unknown"
	}

	s.positions.Fail(reason)
	w.WriteHeader(http.StatusAccepted)
}
