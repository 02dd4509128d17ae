package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hitchsafe/companion/internal/domain"
)

// maxAudioChunk bounds a single POST /emergency/recording/audio body.
const maxAudioChunk = 1 << 20

// TriggerEmergencyRequest is the optional body of POST /trips/{tripId}/emergency.
type TriggerEmergencyRequest struct {
	Message string `json:"message"`
}

// RecordingStopResponse is the body of POST /emergency/recording/stop.
type RecordingStopResponse struct {
	Stopped      bool   `json:"stopped"`
	RecordingRef string `json:"recording_ref,omitempty"`
}

// EmergencyCallResponse is the body of POST /emergency/call. Message tells
// the user to dial by hand when the dialer could not be opened.
type EmergencyCallResponse struct {
	URI     string `json:"uri"`
	Opened  bool   `json:"opened"`
	Message string `json:"message,omitempty"`
}

// TriggerEmergency handles POST /trips/{tripId}/emergency.
// Repeated calls for the same trip return the stored event with 200.
func (s *Server) TriggerEmergency(w http.ResponseWriter, r *http.Request) {
	tripID, ok := tripIDParam(w, r)
	if !ok {
		return
	}
	var req TriggerEmergencyRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, requestBody("invalid request body: "+err.Error()))
		return
	}

	res, err := s.emergency.Trigger(r.Context(), tripID, currentUser(r), req.Message)
	if err != nil {
		s.writeEmergencyError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyActive {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// StopRecording handles POST /emergency/recording/stop.
func (s *Server) StopRecording(w http.ResponseWriter, r *http.Request) {
	ref, stopped, err := s.emergency.StopRecording(r.Context(), currentUser(r))
	if err != nil {
		s.writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, RecordingStopResponse{Stopped: stopped, RecordingRef: ref})
}

// CallEmergencyServices handles POST /emergency/call.
func (s *Server) CallEmergencyServices(w http.ResponseWriter, r *http.Request) {
	uri, opened := s.caller.CallEmergencyServices(r.Context())
	res := EmergencyCallResponse{URI: uri, Opened: opened}
	if !opened {
		res.Message = "Could not open the dialer. Dial " + strings.TrimPrefix(uri, "tel:") + " directly."
	}
	writeJSON(w, http.StatusOK, res)
}

// AppendAudio handles POST /emergency/recording/audio. The body is a raw
// chunk of audio for the open recording.
func (s *Server) AppendAudio(w http.ResponseWriter, r *http.Request) {
	chunk, err := io.ReadAll(io.LimitReader(r.Body, maxAudioChunk+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, requestBody("could not read audio chunk"))
		return
	}
	if len(chunk) > maxAudioChunk {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: ErrorDetail{Code: "request_too_large", Message: "audio chunk too large"}})
		return
	}

	if err := s.audio.Append(chunk); err != nil {
		if errors.Is(err, domain.ErrRecording) {
			writeJSON(w, http.StatusConflict, ErrorResponse{Error: ErrorDetail{Code: "recording_error", Message: unwrapMessage(err, domain.ErrRecording)}})
			return
		}
		s.writeServiceError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeEmergencyError maps a failed trigger. Anything other than a request
// problem tells the user to call emergency services directly.
func (s *Server) writeEmergencyError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorFor(err, "trip not found")
	switch status {
	case http.StatusNotFound, http.StatusForbidden, http.StatusConflict:
		writeJSON(w, status, body)
		return
	}
	s.log.ErrorContext(r.Context(), "emergency trigger failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrorDetail{
		Code:    "emergency_failed",
		Message: "Failed to send emergency alert. " + EmergencyFallback,
	}})
}
