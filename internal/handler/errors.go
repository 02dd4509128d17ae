package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hitchsafe/companion/internal/domain"
)

// EmergencyFallback is appended to every failed emergency response.
const EmergencyFallback = "Please call emergency services directly."

// ErrorDetail is the body of every error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON error envelope: {"error":{"code","message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// notFoundBody returns an ErrorResponse for a missing resource.
// The caller supplies the human-readable message (e.g. "trip not found")
// because the handler is the layer that knows what was being looked up.
func notFoundBody(message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: "not_found", Message: message}}
}

// validationBody returns an ErrorResponse for a domain validation failure.
// The message is extracted from the wrapped domain.ErrValidation error.
func validationBody(err error) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: "validation_error", Message: unwrapMessage(err, domain.ErrValidation)}}
}

// requestBody returns an ErrorResponse for a bad request rejected before
// reaching the service layer (e.g. missing or malformed body).
func requestBody(message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: "bad_request", Message: message}}
}

func authBody(ae *domain.AuthError) ErrorResponse {
	msg := ae.Code
	if ae.Err != nil {
		msg = ae.Err.Error()
	}
	return ErrorResponse{Error: ErrorDetail{Code: ae.Code, Message: msg}}
}

func internalBody() ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: "internal_error", Message: "internal server error"}}
}

// unwrapMessage extracts the human-readable part that follows sentinel in a
// wrapped error.
// e.g. "service.TripCoordinator.CreateTrip: validation error: role is required" → "role is required"
func unwrapMessage(err, sentinel error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.LastIndex(msg, prefix); i >= 0 && len(msg) > i+len(prefix) {
		return msg[i+len(prefix):]
	}
	return msg
}

// errorFor maps a service error to a status code and body.
// notFound names the resource that was looked up.
func errorFor(err error, notFound string) (int, ErrorResponse) {
	var ae *domain.AuthError
	var lu *domain.LocationUnavailable
	switch {
	case errors.As(err, &ae):
		return http.StatusUnauthorized, authBody(ae)
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, notFoundBody(notFound)
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, validationBody(err)
	case errors.Is(err, domain.ErrInvalidQRPayload):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorDetail{Code: "invalid_qr_payload", Message: unwrapMessage(err, domain.ErrInvalidQRPayload)}}
	case errors.Is(err, domain.ErrActiveTrip):
		return http.StatusConflict, ErrorResponse{Error: ErrorDetail{Code: "active_trip", Message: domain.ErrActiveTrip.Error()}}
	case errors.Is(err, domain.ErrTripCompleted):
		return http.StatusConflict, ErrorResponse{Error: ErrorDetail{Code: "trip_completed", Message: domain.ErrTripCompleted.Error()}}
	case errors.Is(err, domain.ErrNotParticipant):
		return http.StatusForbidden, ErrorResponse{Error: ErrorDetail{Code: "not_participant", Message: domain.ErrNotParticipant.Error()}}
	case errors.As(err, &lu):
		return http.StatusServiceUnavailable, ErrorResponse{Error: ErrorDetail{Code: "location_unavailable", Message: lu.Error()}}
	}
	return http.StatusInternalServerError, internalBody()
}

// writeServiceError logs unexpected failures and writes the mapped response.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	status, body := errorFor(err, notFound)
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON request body into dst. An empty body leaves dst
// untouched when optional is true.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
